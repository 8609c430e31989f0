package ledger

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/juno-intents/confidential-ledger/internal/confidential"
)

type MemoryStore struct {
	mu        sync.Mutex
	accounts  map[Address]confidential.Account
	auditors  map[confidential.Pubkey]confidential.Auditor
	processed map[uuid.UUID]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[Address]confidential.Account),
		auditors:  make(map[confidential.Pubkey]confidential.Auditor),
		processed: make(map[uuid.UUID]struct{}),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) GetAccount(_ context.Context, addr Address) (confidential.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[addr]
	if !ok {
		return confidential.Account{}, ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) GetAuditor(_ context.Context, mint confidential.Pubkey) (confidential.Auditor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auditors[mint]
	if !ok {
		return confidential.Auditor{}, ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) ListAccounts(_ context.Context, after *Address, limit int) ([]confidential.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		return nil, nil
	}

	addrs := make([]Address, 0, len(s.accounts))
	for addr := range s.accounts {
		if after != nil && bytes.Compare(addr[:], after[:]) <= 0 {
			continue
		}
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })
	if len(addrs) > limit {
		addrs = addrs[:limit]
	}

	out := make([]confidential.Account, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, s.accounts[addr])
	}
	return out, nil
}

func (s *MemoryStore) ListAuditors(_ context.Context) ([]confidential.Auditor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]confidential.Auditor, 0, len(s.auditors))
	for _, a := range s.auditors {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Mint[:], out[j].Mint[:]) < 0 })
	return out, nil
}

func (s *MemoryStore) CreateAccount(_ context.Context, instructionID uuid.UUID, a confidential.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.processed[instructionID]; ok {
		return ErrDuplicateInstruction
	}
	addr := AddressOf(&a)
	if _, ok := s.accounts[addr]; ok {
		return ErrAlreadyExists
	}
	s.accounts[addr] = a
	s.processed[instructionID] = struct{}{}
	return nil
}

func (s *MemoryStore) UpdateAccount(_ context.Context, instructionID uuid.UUID, addr Address, fn AccountFunc) (confidential.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.processed[instructionID]; ok {
		return confidential.Account{}, ErrDuplicateInstruction
	}
	a, ok := s.accounts[addr]
	if !ok {
		return confidential.Account{}, ErrNotFound
	}

	var auditor *confidential.Auditor
	if aud, ok := s.auditors[a.Mint]; ok {
		auditor = &aud
	}

	// fn works on a copy; the stored record only changes on success.
	next := a
	if err := fn(&next, auditor); err != nil {
		return confidential.Account{}, err
	}
	s.accounts[addr] = next
	s.processed[instructionID] = struct{}{}
	return next, nil
}

func (s *MemoryStore) UpdateAuditor(_ context.Context, instructionID uuid.UUID, mint confidential.Pubkey, fn AuditorFunc) (confidential.Auditor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.processed[instructionID]; ok {
		return confidential.Auditor{}, ErrDuplicateInstruction
	}
	cur, exists := s.auditors[mint]
	if !exists {
		cur = confidential.Auditor{Mint: mint}
	}

	next := cur
	if err := fn(&next, exists); err != nil {
		return confidential.Auditor{}, err
	}
	next.Mint = mint
	s.auditors[mint] = next
	s.processed[instructionID] = struct{}{}
	return next, nil
}

func (s *MemoryStore) MarkProcessed(_ context.Context, instructionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.processed[instructionID]; ok {
		return ErrDuplicateInstruction
	}
	s.processed[instructionID] = struct{}{}
	return nil
}
