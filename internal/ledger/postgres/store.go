package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juno-intents/confidential-ledger/internal/confidential"
	"github.com/juno-intents/confidential-ledger/internal/ledger"
)

var ErrInvalidConfig = errors.New("ledger/postgres: invalid config")

// Store keeps each record as its fixed byte layout. Account mutations lock
// the account row FOR UPDATE and read the mint's auditor FOR SHARE inside
// one transaction.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrInvalidConfig)
	}
	return &Store{pool: pool}, nil
}

var _ ledger.Store = (*Store)(nil)

func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	_, err := s.pool.Exec(ctx, schemaSQL)
	if err != nil {
		return fmt.Errorf("ledger/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, addr ledger.Address) (confidential.Account, error) {
	if s == nil || s.pool == nil {
		return confidential.Account{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	var raw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT layout FROM confidential_accounts WHERE address = $1
	`, addr[:]).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return confidential.Account{}, ledger.ErrNotFound
		}
		return confidential.Account{}, fmt.Errorf("ledger/postgres: get account: %w", err)
	}
	return parseAccount(raw)
}

func (s *Store) GetAuditor(ctx context.Context, mint confidential.Pubkey) (confidential.Auditor, error) {
	if s == nil || s.pool == nil {
		return confidential.Auditor{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	var raw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT layout FROM confidential_auditors WHERE mint = $1
	`, mint[:]).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return confidential.Auditor{}, ledger.ErrNotFound
		}
		return confidential.Auditor{}, fmt.Errorf("ledger/postgres: get auditor: %w", err)
	}
	return parseAuditor(raw)
}

func (s *Store) ListAccounts(ctx context.Context, after *ledger.Address, limit int) ([]confidential.Account, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if limit <= 0 {
		return nil, nil
	}

	var cursor []byte
	if after != nil {
		cursor = after[:]
	}
	rows, err := s.pool.Query(ctx, `
		SELECT layout
		FROM confidential_accounts
		WHERE $1::bytea IS NULL OR address > $1::bytea
		ORDER BY address
		LIMIT $2
	`, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger/postgres: list accounts: %w", err)
	}
	defer rows.Close()

	out := make([]confidential.Account, 0, limit)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("ledger/postgres: scan account: %w", err)
		}
		a, err := parseAccount(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger/postgres: list accounts: %w", err)
	}
	return out, nil
}

func (s *Store) ListAuditors(ctx context.Context) ([]confidential.Auditor, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT layout FROM confidential_auditors ORDER BY mint
	`)
	if err != nil {
		return nil, fmt.Errorf("ledger/postgres: list auditors: %w", err)
	}
	defer rows.Close()

	var out []confidential.Auditor
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("ledger/postgres: scan auditor: %w", err)
		}
		a, err := parseAuditor(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger/postgres: list auditors: %w", err)
	}
	return out, nil
}

func (s *Store) CreateAccount(ctx context.Context, instructionID uuid.UUID, a confidential.Account) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("ledger/postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := claimInstruction(ctx, tx, instructionID); err != nil {
		return err
	}

	addr := ledger.AddressOf(&a)
	layout := a.Encode()
	tag, err := tx.Exec(ctx, `
		INSERT INTO confidential_accounts (address, mint, token_account, layout, created_at, updated_at)
		VALUES ($1,$2,$3,$4,now(),now())
		ON CONFLICT (address) DO NOTHING
	`, addr[:], a.Mint[:], a.TokenAccount[:], layout[:])
	if err != nil {
		return fmt.Errorf("ledger/postgres: insert account: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return ledger.ErrAlreadyExists
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger/postgres: commit: %w", err)
	}
	return nil
}

func (s *Store) UpdateAccount(ctx context.Context, instructionID uuid.UUID, addr ledger.Address, fn ledger.AccountFunc) (confidential.Account, error) {
	if s == nil || s.pool == nil {
		return confidential.Account{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if fn == nil {
		return confidential.Account{}, fmt.Errorf("%w: nil update func", ErrInvalidConfig)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return confidential.Account{}, fmt.Errorf("ledger/postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := claimInstruction(ctx, tx, instructionID); err != nil {
		return confidential.Account{}, err
	}

	var raw []byte
	err = tx.QueryRow(ctx, `
		SELECT layout FROM confidential_accounts WHERE address = $1 FOR UPDATE
	`, addr[:]).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return confidential.Account{}, ledger.ErrNotFound
		}
		return confidential.Account{}, fmt.Errorf("ledger/postgres: lock account: %w", err)
	}
	a, err := parseAccount(raw)
	if err != nil {
		return confidential.Account{}, err
	}

	var auditor *confidential.Auditor
	var audRaw []byte
	err = tx.QueryRow(ctx, `
		SELECT layout FROM confidential_auditors WHERE mint = $1 FOR SHARE
	`, a.Mint[:]).Scan(&audRaw)
	switch {
	case err == nil:
		aud, err := parseAuditor(audRaw)
		if err != nil {
			return confidential.Account{}, err
		}
		auditor = &aud
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return confidential.Account{}, fmt.Errorf("ledger/postgres: read auditor: %w", err)
	}

	if err := fn(&a, auditor); err != nil {
		return confidential.Account{}, err
	}

	layout := a.Encode()
	if _, err := tx.Exec(ctx, `
		UPDATE confidential_accounts SET layout = $2, updated_at = now() WHERE address = $1
	`, addr[:], layout[:]); err != nil {
		return confidential.Account{}, fmt.Errorf("ledger/postgres: update account: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return confidential.Account{}, fmt.Errorf("ledger/postgres: commit: %w", err)
	}
	return a, nil
}

func (s *Store) UpdateAuditor(ctx context.Context, instructionID uuid.UUID, mint confidential.Pubkey, fn ledger.AuditorFunc) (confidential.Auditor, error) {
	if s == nil || s.pool == nil {
		return confidential.Auditor{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if fn == nil {
		return confidential.Auditor{}, fmt.Errorf("%w: nil update func", ErrInvalidConfig)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return confidential.Auditor{}, fmt.Errorf("ledger/postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := claimInstruction(ctx, tx, instructionID); err != nil {
		return confidential.Auditor{}, err
	}

	cur := confidential.Auditor{Mint: mint}
	exists := true
	var raw []byte
	err = tx.QueryRow(ctx, `
		SELECT layout FROM confidential_auditors WHERE mint = $1 FOR UPDATE
	`, mint[:]).Scan(&raw)
	switch {
	case err == nil:
		cur, err = parseAuditor(raw)
		if err != nil {
			return confidential.Auditor{}, err
		}
	case errors.Is(err, pgx.ErrNoRows):
		exists = false
	default:
		return confidential.Auditor{}, fmt.Errorf("ledger/postgres: lock auditor: %w", err)
	}

	if err := fn(&cur, exists); err != nil {
		return confidential.Auditor{}, err
	}
	cur.Mint = mint

	layout := cur.Encode()
	if _, err := tx.Exec(ctx, `
		INSERT INTO confidential_auditors (mint, layout, created_at, updated_at)
		VALUES ($1,$2,now(),now())
		ON CONFLICT (mint) DO UPDATE SET layout = EXCLUDED.layout, updated_at = now()
	`, mint[:], layout[:]); err != nil {
		return confidential.Auditor{}, fmt.Errorf("ledger/postgres: upsert auditor: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return confidential.Auditor{}, fmt.Errorf("ledger/postgres: commit: %w", err)
	}
	return cur, nil
}

func (s *Store) MarkProcessed(ctx context.Context, instructionID uuid.UUID) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO processed_instructions (instruction_id, processed_at)
		VALUES ($1, now())
		ON CONFLICT (instruction_id) DO NOTHING
	`, instructionID[:])
	if err != nil {
		return fmt.Errorf("ledger/postgres: mark processed: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return ledger.ErrDuplicateInstruction
	}
	return nil
}

// claimInstruction inserts the instruction id inside tx. A concurrent
// transaction claiming the same id blocks on the primary key until this one
// commits or rolls back.
func claimInstruction(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	tag, err := tx.Exec(ctx, `
		INSERT INTO processed_instructions (instruction_id, processed_at)
		VALUES ($1, now())
		ON CONFLICT (instruction_id) DO NOTHING
	`, id[:])
	if err != nil {
		return fmt.Errorf("ledger/postgres: claim instruction: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return ledger.ErrDuplicateInstruction
	}
	return nil
}

func parseAccount(raw []byte) (confidential.Account, error) {
	a, err := confidential.ParseAccount(raw)
	if err != nil {
		return confidential.Account{}, fmt.Errorf("ledger/postgres: decode account layout: %w", err)
	}
	return a, nil
}

func parseAuditor(raw []byte) (confidential.Auditor, error) {
	a, err := confidential.ParseAuditor(raw)
	if err != nil {
		return confidential.Auditor{}, fmt.Errorf("ledger/postgres: decode auditor layout: %w", err)
	}
	return a, nil
}
