package confidential

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrCreditRejected  = errors.New("confidential: pending balance credits disabled")
	ErrStaleCounter    = errors.New("confidential: stale pending balance credit counter")
	ErrCounterOverflow = errors.New("confidential: pending balance credit counter overflow")
)

// CiphertextAlgebra is the additively homomorphic scheme the balances are
// encrypted under. Both operands must be under the account's ElGamalPK.
type CiphertextAlgebra interface {
	Add(a, b ElGamalCiphertext) (ElGamalCiphertext, error)
	Zero() ElGamalCiphertext
}

// Rederiver produces the owner-decryptable cache for an available balance.
type Rederiver interface {
	Rederive(available ElGamalCiphertext) (AeCiphertext, error)
}

// SuppliedRederiver returns a cache computed ahead of time by the owner. The
// runtime cannot decrypt balances, so this is what apply instructions carry.
type SuppliedRederiver AeCiphertext

func (r SuppliedRederiver) Rederive(ElGamalCiphertext) (AeCiphertext, error) {
	return AeCiphertext(r), nil
}

type ApplyRejectReason uint8

const (
	ApplyRejectStaleCounter ApplyRejectReason = iota + 1
)

func (r ApplyRejectReason) String() string {
	switch r {
	case ApplyRejectStaleCounter:
		return "stale_counter"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(r))
	}
}

// ApplyRejectedError reports why Apply left the account untouched. A stale
// counter is recoverable by re-reading the counter and retrying.
type ApplyRejectedError struct {
	Reason   ApplyRejectReason
	Expected uint64
	Current  uint64
}

func (e *ApplyRejectedError) Error() string {
	return fmt.Sprintf("confidential: apply rejected (%s): expected counter %d, current %d", e.Reason, e.Expected, e.Current)
}

func (e *ApplyRejectedError) Unwrap() error {
	if e.Reason == ApplyRejectStaleCounter {
		return ErrStaleCounter
	}
	return nil
}

// Account is the confidential state attached to a base token account.
//
// The three counters implement optimistic concurrency between depositors
// (Credit) and the owner (Apply). Ciphertexts carry no usable ordering, so the
// counter is the only staleness token.
type Account struct {
	Mint         Pubkey
	TokenAccount Pubkey
	ElGamalPK    ElGamalPubkey

	PendingBalance     ElGamalCiphertext
	AvailableBalance   ElGamalCiphertext
	DecryptableBalance AeCiphertext

	AllowPendingBalanceCredits PodBool

	// PendingBalanceCreditCounter counts every credit ever applied to PendingBalance.
	PendingBalanceCreditCounter uint64
	// ExpectedPendingBalanceCreditCounter is the value the owner asserted on the last apply.
	ExpectedPendingBalanceCreditCounter uint64
	// ActualPendingBalanceCreditCounter is PendingBalanceCreditCounter as of the last apply.
	ActualPendingBalanceCreditCounter uint64
}

// NewAccount returns a freshly opened account: zero balances, zero counters,
// credits allowed.
func NewAccount(alg CiphertextAlgebra, mint, tokenAccount Pubkey, pk ElGamalPubkey, decryptableZero AeCiphertext) Account {
	zero := alg.Zero()
	return Account{
		Mint:                       mint,
		TokenAccount:               tokenAccount,
		ElGamalPK:                  pk,
		PendingBalance:             zero,
		AvailableBalance:           zero,
		DecryptableBalance:         decryptableZero,
		AllowPendingBalanceCredits: PodTrue,
	}
}

// PendingBalanceCredits is the number of credits folded into PendingBalance
// since the last apply. It saturates at zero.
func (a *Account) PendingBalanceCredits() uint64 {
	return saturatingSub(a.PendingBalanceCreditCounter, a.ActualPendingBalanceCreditCounter)
}

// Quiescent reports whether no credits are waiting to be applied.
func (a *Account) Quiescent() bool {
	return a.PendingBalanceCredits() == 0
}

// Credit adds delta into the pending balance. Either both the counter and the
// balance change or neither does.
func (a *Account) Credit(alg CiphertextAlgebra, delta ElGamalCiphertext) error {
	if !a.AllowPendingBalanceCredits.Bool() {
		return ErrCreditRejected
	}
	if a.PendingBalanceCreditCounter == math.MaxUint64 {
		return fmt.Errorf("%w: counter at %d", ErrCounterOverflow, a.PendingBalanceCreditCounter)
	}

	pending, err := alg.Add(a.PendingBalance, delta)
	if err != nil {
		return fmt.Errorf("confidential: credit pending balance: %w", err)
	}

	a.PendingBalance = pending
	a.PendingBalanceCreditCounter++
	return nil
}

// Apply folds the whole pending balance into the available balance. expected
// must equal the current PendingBalanceCreditCounter; otherwise a credit landed
// after the owner read the counter and Apply returns *ApplyRejectedError.
func (a *Account) Apply(alg CiphertextAlgebra, rd Rederiver, expected uint64) error {
	if expected != a.PendingBalanceCreditCounter {
		return &ApplyRejectedError{
			Reason:   ApplyRejectStaleCounter,
			Expected: expected,
			Current:  a.PendingBalanceCreditCounter,
		}
	}

	available, err := alg.Add(a.AvailableBalance, a.PendingBalance)
	if err != nil {
		return fmt.Errorf("confidential: fold pending balance: %w", err)
	}
	decryptable, err := rd.Rederive(available)
	if err != nil {
		return fmt.Errorf("confidential: rederive decryptable balance: %w", err)
	}

	a.ExpectedPendingBalanceCreditCounter = expected
	a.ActualPendingBalanceCreditCounter = a.PendingBalanceCreditCounter
	a.AvailableBalance = available
	a.PendingBalance = alg.Zero()
	a.DecryptableBalance = decryptable
	return nil
}

func (a *Account) EnableCredits() {
	a.AllowPendingBalanceCredits = PodTrue
}

func (a *Account) DisableCredits() {
	a.AllowPendingBalanceCredits = PodFalse
}

func saturatingSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}
