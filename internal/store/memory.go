package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/duelpoint/backend/internal/models"
)

// MemoryDuelStore is an in-memory DuelStore with the same compare-and-swap
// semantics as the postgres store. Used in tests and for running the server
// without a database.
type MemoryDuelStore struct {
	mu    sync.Mutex
	duels map[string]*models.Duel
}

func NewMemoryDuelStore() *MemoryDuelStore {
	return &MemoryDuelStore{duels: make(map[string]*models.Duel)}
}

func (s *MemoryDuelStore) Get(ctx context.Context, id string) (*models.Duel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.duels[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

func (s *MemoryDuelStore) Insert(ctx context.Context, d *models.Duel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.duels[d.ID] = d.Clone()
	return nil
}

func (s *MemoryDuelStore) GuardedUpdate(ctx context.Context, id string, expectedVersion int, mutate func(*models.Duel)) (*models.Duel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.duels[id]
	if !ok {
		return nil, ErrNotFound
	}
	if cur.Version != expectedVersion {
		return nil, ErrVersionConflict
	}

	next := cur.Clone()
	mutate(next)
	next.Version = cur.Version + 1
	s.duels[id] = next
	return next.Clone(), nil
}

func (s *MemoryDuelStore) ActiveWaiting(ctx context.Context, now time.Time) ([]*models.Duel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Duel
	for _, d := range s.duels {
		if d.Status == models.DuelStatusWaiting && d.ExpiresAt.After(now) {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryDuelStore) WaitingPastDeadline(ctx context.Context, now time.Time) ([]*models.Duel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Duel
	for _, d := range s.duels {
		if d.Status == models.DuelStatusWaiting && !d.ExpiresAt.After(now) {
			out = append(out, d.Clone())
		}
	}
	return out, nil
}

func (s *MemoryDuelStore) CountdownPastDeadline(ctx context.Context, now time.Time) ([]*models.Duel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Duel
	for _, d := range s.duels {
		if d.Status == models.DuelStatusCountdown && d.CountdownEndsAt != nil && !d.CountdownEndsAt.After(now) {
			out = append(out, d.Clone())
		}
	}
	return out, nil
}

func (s *MemoryDuelStore) CompletedUnsettled(ctx context.Context) ([]*models.Duel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Duel
	for _, d := range s.duels {
		if d.Status == models.DuelStatusCompleted && d.SettledAt == nil {
			out = append(out, d.Clone())
		}
	}
	return out, nil
}

// MemoryLedgerStore is the in-memory LedgerStore counterpart. Net movements
// are remembered per participant and refID, mirroring the ledger_entries rows
// the postgres store uses for the same purpose.
type MemoryLedgerStore struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
	applied  map[string]bool
}

func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		accounts: make(map[string]*models.Account),
		applied:  make(map[string]bool),
	}
}

func (s *MemoryLedgerStore) Account(ctx context.Context, participantID string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[participantID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryLedgerStore) EnsureAccount(ctx context.Context, ref models.PlayerRef, startingBalance int64) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.accounts[ref.ParticipantID]; ok {
		cp := *a
		return &cp, nil
	}

	now := time.Now()
	a := &models.Account{
		ParticipantID: ref.ParticipantID,
		DisplayName:   ref.DisplayName,
		Balance:       startingBalance,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.accounts[ref.ParticipantID] = a
	cp := *a
	return &cp, nil
}

func (s *MemoryLedgerStore) GuardedAdjust(ctx context.Context, participantID string, expectedVersion int, refID string, mutate func(*models.Account) error) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.accounts[participantID]
	if !ok {
		return nil, ErrNotFound
	}
	if cur.Version != expectedVersion {
		return nil, ErrVersionConflict
	}

	key := participantID + "\x00" + refID
	if s.applied[key] {
		cp := *cur
		return &cp, nil
	}

	next := *cur
	if err := mutate(&next); err != nil {
		return nil, err
	}
	if next.Balance+next.Locked != cur.Balance+cur.Locked {
		s.applied[key] = true
	}
	next.Version = cur.Version + 1
	next.UpdatedAt = time.Now()
	s.accounts[participantID] = &next
	cp := next
	return &cp, nil
}

func (s *MemoryLedgerStore) Top(ctx context.Context, limit int) ([]*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Balance > out[j].Balance })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
