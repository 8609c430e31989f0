// Package ledger persists confidential accounts and mint auditors.
//
// Every mutation runs through a Store callback while the store holds the
// record exclusively, and records the instruction id in the same step, so
// concurrent credits and applies against one account are serialized and a
// redelivered instruction is never applied twice.
package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/juno-intents/confidential-ledger/internal/confidential"
)

var (
	ErrNotFound             = errors.New("ledger: not found")
	ErrAlreadyExists        = errors.New("ledger: already exists")
	ErrDuplicateInstruction = errors.New("ledger: duplicate instruction")
)

// AccountFunc mutates a under the store's exclusive hold. auditor is the
// mint's auditor record, or nil when the mint has none. Returning an error
// discards every change.
type AccountFunc func(a *confidential.Account, auditor *confidential.Auditor) error

// AuditorFunc mutates the mint's auditor. exists is false when no record was
// stored yet, in which case a holds only the mint.
type AuditorFunc func(a *confidential.Auditor, exists bool) error

type Store interface {
	GetAccount(ctx context.Context, addr Address) (confidential.Account, error)
	GetAuditor(ctx context.Context, mint confidential.Pubkey) (confidential.Auditor, error)

	// ListAccounts returns accounts ordered by address, starting strictly
	// after the given address (nil starts at the beginning).
	ListAccounts(ctx context.Context, after *Address, limit int) ([]confidential.Account, error)
	ListAuditors(ctx context.Context) ([]confidential.Auditor, error)

	// CreateAccount stores a freshly opened account. It returns
	// ErrAlreadyExists if the address is taken.
	CreateAccount(ctx context.Context, instructionID uuid.UUID, a confidential.Account) error
	UpdateAccount(ctx context.Context, instructionID uuid.UUID, addr Address, fn AccountFunc) (confidential.Account, error)
	UpdateAuditor(ctx context.Context, instructionID uuid.UUID, mint confidential.Pubkey, fn AuditorFunc) (confidential.Auditor, error)

	// MarkProcessed records an instruction that was rejected without a state
	// change so a redelivery reports ErrDuplicateInstruction.
	MarkProcessed(ctx context.Context, instructionID uuid.UUID) error
}
