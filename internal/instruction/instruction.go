// Package instruction defines the JSON wire format of ledger instructions and
// of the result records the processor publishes for them.
package instruction

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/juno-intents/confidential-ledger/internal/confidential"
)

var (
	ErrInvalidInstruction = errors.New("instruction: invalid instruction")
	ErrUnknownVersion     = errors.New("instruction: unknown version")
)

type Kind string

const (
	KindConfigureAuditor      Kind = "configure_auditor"
	KindOpenAccount           Kind = "open_account"
	KindDeposit               Kind = "deposit"
	KindTransferCredit        Kind = "transfer_credit"
	KindApplyPendingBalance   Kind = "apply_pending_balance"
	KindEnableBalanceCredits  Kind = "enable_balance_credits"
	KindDisableBalanceCredits Kind = "disable_balance_credits"
)

var kinds = []Kind{
	KindConfigureAuditor,
	KindOpenAccount,
	KindDeposit,
	KindTransferCredit,
	KindApplyPendingBalance,
	KindEnableBalanceCredits,
	KindDisableBalanceCredits,
}

// Version is the envelope version string, e.g. "confidential.deposit.v1".
func (k Kind) Version() string { return "confidential." + string(k) + ".v1" }

// KindFromVersion maps an envelope version back to its Kind.
func KindFromVersion(v string) (Kind, bool) {
	for _, k := range kinds {
		if k.Version() == v {
			return k, true
		}
	}
	return "", false
}

// TargetsAccount reports whether the instruction addresses a token account
// (every kind except configure_auditor).
func (k Kind) TargetsAccount() bool { return k != KindConfigureAuditor }

// Instruction is a decoded instruction. Only the fields of its Kind are set.
type Instruction struct {
	Kind Kind
	ID   uuid.UUID

	Mint         confidential.Pubkey
	TokenAccount confidential.Pubkey

	// configure_auditor
	Enabled bool
	// configure_auditor, open_account
	ElGamalPubkey confidential.ElGamalPubkey
	// open_account
	DecryptableZeroBalance confidential.AeCiphertext
	// deposit
	Amount uint64
	// transfer_credit
	Ciphertext        confidential.ElGamalCiphertext
	AuditorCiphertext *confidential.ElGamalCiphertext
	// apply_pending_balance
	ExpectedPendingBalanceCreditCounter uint64
	NewDecryptableAvailableBalance      confidential.AeCiphertext
}

type payloadV1 struct {
	Version string    `json:"version"`
	ID      uuid.UUID `json:"id"`

	Mint         hexutil.Bytes `json:"mint"`
	TokenAccount hexutil.Bytes `json:"tokenAccount,omitempty"`

	Enabled                *bool         `json:"enabled,omitempty"`
	ElGamalPubkey          hexutil.Bytes `json:"elgamalPubkey,omitempty"`
	DecryptableZeroBalance hexutil.Bytes `json:"decryptableZeroBalance,omitempty"`
	Amount                 *uint64       `json:"amount,omitempty"`
	Ciphertext             hexutil.Bytes `json:"ciphertext,omitempty"`
	AuditorCiphertext      hexutil.Bytes `json:"auditorCiphertext,omitempty"`

	ExpectedPendingBalanceCreditCounter *uint64       `json:"expectedPendingBalanceCreditCounter,omitempty"`
	NewDecryptableAvailableBalance      hexutil.Bytes `json:"newDecryptableAvailableBalance,omitempty"`
}

// New returns an instruction of kind k with a fresh random id.
func New(k Kind) Instruction {
	return Instruction{Kind: k, ID: uuid.New()}
}

func Encode(in Instruction) ([]byte, error) {
	if _, ok := KindFromVersion(in.Kind.Version()); !ok {
		return nil, fmt.Errorf("%w: kind %q", ErrInvalidInstruction, in.Kind)
	}
	if in.ID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidInstruction)
	}

	p := payloadV1{
		Version: in.Kind.Version(),
		ID:      in.ID,
		Mint:    in.Mint[:],
	}
	if in.Kind.TargetsAccount() {
		p.TokenAccount = in.TokenAccount[:]
	}
	switch in.Kind {
	case KindConfigureAuditor:
		enabled := in.Enabled
		p.Enabled = &enabled
		p.ElGamalPubkey = in.ElGamalPubkey[:]
	case KindOpenAccount:
		p.ElGamalPubkey = in.ElGamalPubkey[:]
		p.DecryptableZeroBalance = in.DecryptableZeroBalance[:]
	case KindDeposit:
		amount := in.Amount
		p.Amount = &amount
	case KindTransferCredit:
		p.Ciphertext = in.Ciphertext[:]
		if in.AuditorCiphertext != nil {
			p.AuditorCiphertext = in.AuditorCiphertext[:]
		}
	case KindApplyPendingBalance:
		expected := in.ExpectedPendingBalanceCreditCounter
		p.ExpectedPendingBalanceCreditCounter = &expected
		p.NewDecryptableAvailableBalance = in.NewDecryptableAvailableBalance[:]
	}
	return json.Marshal(p)
}

// Decode parses one instruction line and checks that every field its kind
// needs is present with the exact byte length.
func Decode(line []byte) (Instruction, error) {
	line = bytes.TrimSpace(line)
	var p payloadV1
	if err := json.Unmarshal(line, &p); err != nil {
		return Instruction{}, fmt.Errorf("%w: %v", ErrInvalidInstruction, err)
	}
	kind, ok := KindFromVersion(strings.TrimSpace(p.Version))
	if !ok {
		return Instruction{}, fmt.Errorf("%w: %q", ErrUnknownVersion, p.Version)
	}
	if p.ID == uuid.Nil {
		return Instruction{}, fmt.Errorf("%w: missing id", ErrInvalidInstruction)
	}

	in := Instruction{Kind: kind, ID: p.ID}
	if err := fixed(in.Mint[:], p.Mint, "mint"); err != nil {
		return Instruction{}, err
	}
	if kind.TargetsAccount() {
		if err := fixed(in.TokenAccount[:], p.TokenAccount, "tokenAccount"); err != nil {
			return Instruction{}, err
		}
	}

	switch kind {
	case KindConfigureAuditor:
		if p.Enabled == nil {
			return Instruction{}, fmt.Errorf("%w: missing enabled", ErrInvalidInstruction)
		}
		in.Enabled = *p.Enabled
		if err := fixed(in.ElGamalPubkey[:], p.ElGamalPubkey, "elgamalPubkey"); err != nil {
			return Instruction{}, err
		}
	case KindOpenAccount:
		if err := fixed(in.ElGamalPubkey[:], p.ElGamalPubkey, "elgamalPubkey"); err != nil {
			return Instruction{}, err
		}
		if err := fixed(in.DecryptableZeroBalance[:], p.DecryptableZeroBalance, "decryptableZeroBalance"); err != nil {
			return Instruction{}, err
		}
	case KindDeposit:
		if p.Amount == nil {
			return Instruction{}, fmt.Errorf("%w: missing amount", ErrInvalidInstruction)
		}
		in.Amount = *p.Amount
	case KindTransferCredit:
		if err := fixed(in.Ciphertext[:], p.Ciphertext, "ciphertext"); err != nil {
			return Instruction{}, err
		}
		if len(p.AuditorCiphertext) != 0 {
			var act confidential.ElGamalCiphertext
			if err := fixed(act[:], p.AuditorCiphertext, "auditorCiphertext"); err != nil {
				return Instruction{}, err
			}
			in.AuditorCiphertext = &act
		}
	case KindApplyPendingBalance:
		if p.ExpectedPendingBalanceCreditCounter == nil {
			return Instruction{}, fmt.Errorf("%w: missing expectedPendingBalanceCreditCounter", ErrInvalidInstruction)
		}
		in.ExpectedPendingBalanceCreditCounter = *p.ExpectedPendingBalanceCreditCounter
		if err := fixed(in.NewDecryptableAvailableBalance[:], p.NewDecryptableAvailableBalance, "newDecryptableAvailableBalance"); err != nil {
			return Instruction{}, err
		}
	}
	return in, nil
}

func fixed(dst []byte, src hexutil.Bytes, field string) error {
	if len(src) != len(dst) {
		return fmt.Errorf("%w: %s len mismatch: got=%d want=%d", ErrInvalidInstruction, field, len(src), len(dst))
	}
	copy(dst, src)
	return nil
}
