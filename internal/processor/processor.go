// Package processor executes ledger instructions against a ledger.Store and
// reports each outcome as an instruction.Result.
package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/juno-intents/confidential-ledger/internal/confidential"
	"github.com/juno-intents/confidential-ledger/internal/elgamal"
	"github.com/juno-intents/confidential-ledger/internal/instruction"
	"github.com/juno-intents/confidential-ledger/internal/ledger"
)

var (
	ErrInvalidConfig = errors.New("processor: invalid config")

	// ErrAuditCiphertextRequired is returned for a transfer credit to a mint
	// whose auditor is enabled when the instruction carries no auditor
	// ciphertext.
	ErrAuditCiphertextRequired = errors.New("processor: auditor ciphertext required")
	ErrAccountMismatch         = errors.New("processor: account mismatch")
)

type Processor struct {
	store ledger.Store
	alg   confidential.CiphertextAlgebra
	log   *slog.Logger
}

// New returns a Processor. A nil alg selects elgamal.Algebra.
func New(store ledger.Store, alg confidential.CiphertextAlgebra, log *slog.Logger) (*Processor, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if alg == nil {
		alg = elgamal.Algebra{}
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Processor{store: store, alg: alg, log: log}, nil
}

// Process decodes one queue payload and executes it.
func (p *Processor) Process(ctx context.Context, payload []byte) instruction.Result {
	in, err := instruction.Decode(payload)
	if err != nil {
		p.log.Warn("reject undecodable instruction", "err", err)
		return instruction.Result{
			Status: instruction.StatusRejected,
			Code:   instruction.CodeInvalidInstruction,
			Error:  err.Error(),
		}
	}
	return p.Execute(ctx, in)
}

// Execute runs one decoded instruction. Domain rejections are recorded as
// processed so a redelivery reports a duplicate instead of re-running against
// newer state. Store failures are not recorded and may be retried.
func (p *Processor) Execute(ctx context.Context, in instruction.Instruction) instruction.Result {
	res := instruction.Result{
		InstructionID: in.ID,
		Kind:          in.Kind,
	}
	if in.Kind.TargetsAccount() {
		res.Account = ledger.AccountAddress(in.Mint, in.TokenAccount).String()
	}

	counter, err := p.execute(ctx, in)
	status, code := Classify(err)
	res.Status = status
	res.Code = code
	if err != nil {
		res.Error = err.Error()
	}

	switch status {
	case instruction.StatusOK:
		if in.Kind.TargetsAccount() {
			res.PendingBalanceCreditCounter = &counter
		}
		p.log.Info("instruction applied", "id", in.ID, "kind", in.Kind, "account", res.Account)
	default:
		if code != instruction.CodeDuplicate && code != instruction.CodeInternal {
			if err := p.store.MarkProcessed(ctx, in.ID); err != nil && !errors.Is(err, ledger.ErrDuplicateInstruction) {
				p.log.Error("mark rejected instruction processed", "id", in.ID, "err", err)
			}
		}
		p.log.Warn("instruction not applied", "id", in.ID, "kind", in.Kind, "code", code, "err", err)
	}
	return res
}

func (p *Processor) execute(ctx context.Context, in instruction.Instruction) (uint64, error) {
	switch in.Kind {
	case instruction.KindConfigureAuditor:
		_, err := p.store.UpdateAuditor(ctx, in.ID, in.Mint, func(a *confidential.Auditor, _ bool) error {
			a.SetEnabled(in.Enabled)
			a.SetKey(in.ElGamalPubkey)
			return nil
		})
		return 0, err

	case instruction.KindOpenAccount:
		a := confidential.NewAccount(p.alg, in.Mint, in.TokenAccount, in.ElGamalPubkey, in.DecryptableZeroBalance)
		return 0, p.store.CreateAccount(ctx, in.ID, a)

	case instruction.KindDeposit:
		delta := elgamal.EncodeAmount(in.Amount)
		return p.update(ctx, in, func(a *confidential.Account, _ *confidential.Auditor) error {
			return a.Credit(p.alg, delta)
		})

	case instruction.KindTransferCredit:
		return p.update(ctx, in, func(a *confidential.Account, aud *confidential.Auditor) error {
			if aud != nil && aud.IsAuditRequired() && in.AuditorCiphertext == nil {
				return ErrAuditCiphertextRequired
			}
			return a.Credit(p.alg, in.Ciphertext)
		})

	case instruction.KindApplyPendingBalance:
		rd := confidential.SuppliedRederiver(in.NewDecryptableAvailableBalance)
		return p.update(ctx, in, func(a *confidential.Account, _ *confidential.Auditor) error {
			return a.Apply(p.alg, rd, in.ExpectedPendingBalanceCreditCounter)
		})

	case instruction.KindEnableBalanceCredits:
		return p.update(ctx, in, func(a *confidential.Account, _ *confidential.Auditor) error {
			a.EnableCredits()
			return nil
		})

	case instruction.KindDisableBalanceCredits:
		return p.update(ctx, in, func(a *confidential.Account, _ *confidential.Auditor) error {
			a.DisableCredits()
			return nil
		})

	default:
		return 0, fmt.Errorf("%w: kind %q", instruction.ErrInvalidInstruction, in.Kind)
	}
}

func (p *Processor) update(ctx context.Context, in instruction.Instruction, fn ledger.AccountFunc) (uint64, error) {
	addr := ledger.AccountAddress(in.Mint, in.TokenAccount)
	a, err := p.store.UpdateAccount(ctx, in.ID, addr, func(a *confidential.Account, aud *confidential.Auditor) error {
		if a.Mint != in.Mint || a.TokenAccount != in.TokenAccount {
			return ErrAccountMismatch
		}
		return fn(a, aud)
	})
	if err != nil {
		return 0, err
	}
	return a.PendingBalanceCreditCounter, nil
}

// Classify maps an execution error to the result status and code.
func Classify(err error) (instruction.Status, instruction.Code) {
	switch {
	case err == nil:
		return instruction.StatusOK, instruction.CodeNone
	case errors.Is(err, ledger.ErrDuplicateInstruction):
		return instruction.StatusRejected, instruction.CodeDuplicate
	case errors.Is(err, confidential.ErrCreditRejected):
		return instruction.StatusRejected, instruction.CodeCreditRejected
	case errors.Is(err, confidential.ErrStaleCounter):
		return instruction.StatusRejected, instruction.CodeStaleCounter
	case errors.Is(err, confidential.ErrCounterOverflow):
		return instruction.StatusFailed, instruction.CodeCounterOverflow
	case errors.Is(err, ErrAuditCiphertextRequired):
		return instruction.StatusRejected, instruction.CodeAuditCiphertextRequired
	case errors.Is(err, ledger.ErrNotFound):
		return instruction.StatusRejected, instruction.CodeNotFound
	case errors.Is(err, ledger.ErrAlreadyExists):
		return instruction.StatusRejected, instruction.CodeAlreadyExists
	case errors.Is(err, instruction.ErrInvalidInstruction),
		errors.Is(err, instruction.ErrUnknownVersion),
		errors.Is(err, elgamal.ErrInvalidPoint),
		errors.Is(err, ErrAccountMismatch):
		return instruction.StatusRejected, instruction.CodeInvalidInstruction
	default:
		return instruction.StatusFailed, instruction.CodeInternal
	}
}

// RoutingKey is the queue key for in. Account instructions are keyed by
// account address so one account's instructions stay ordered; auditor
// configuration is keyed by mint.
func RoutingKey(in instruction.Instruction) []byte {
	if in.Kind.TargetsAccount() {
		addr := ledger.AccountAddress(in.Mint, in.TokenAccount)
		return addr[:]
	}
	return in.Mint[:]
}
