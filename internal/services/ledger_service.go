package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/duelpoint/backend/internal/models"
	"github.com/duelpoint/backend/internal/store"
)

// adjustAttempts bounds the retry loop around versioned account updates. A
// conflict only happens when another duel touched the same account between
// read and write, so a fresh read and reapply is always safe.
const adjustAttempts = 10

// LedgerService performs all point movements. Every mutation is a guarded,
// versioned update against the ledger store; balances never go negative and
// stakes are held in a locked amount between join and settlement so the same
// points cannot be wagered twice.
type LedgerService struct {
	store           store.LedgerStore
	startingBalance int64
}

func NewLedgerService(s store.LedgerStore, startingBalance int64) *LedgerService {
	return &LedgerService{store: s, startingBalance: startingBalance}
}

// EnsureAccount lazily creates the participant's account on first reference.
func (s *LedgerService) EnsureAccount(ctx context.Context, ref models.PlayerRef) (*models.Account, error) {
	return s.store.EnsureAccount(ctx, ref, s.startingBalance)
}

func (s *LedgerService) Account(ctx context.Context, participantID string) (*models.Account, error) {
	a, err := s.store.Account(ctx, participantID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{Resource: "account", ID: participantID}
	}
	return a, err
}

// Reserve moves amount from the participant's spendable balance into escrow.
func (s *LedgerService) Reserve(ctx context.Context, participantID, duelID string, amount int64) error {
	return s.adjust(ctx, participantID, duelID, func(a *models.Account) error {
		if a.Balance < amount {
			return &InsufficientFundsError{ParticipantID: participantID, Balance: a.Balance, Required: amount}
		}
		a.Balance -= amount
		a.Locked += amount
		return nil
	})
}

// Release returns an escrowed stake to the spendable balance unchanged. Used
// when a join loses its race or a countdown duel is cancelled.
func (s *LedgerService) Release(ctx context.Context, participantID, duelID string, amount int64) error {
	return s.adjust(ctx, participantID, duelID, func(a *models.Account) error {
		if a.Locked < amount {
			return fmt.Errorf("account %s has %d locked, cannot release %d", participantID, a.Locked, amount)
		}
		a.Locked -= amount
		a.Balance += amount
		return nil
	})
}

// Settle consumes both escrowed stakes for a completed duel: the loser's lock
// is transferred to the winner and the winner's own lock is released back.
// Net effect: winner +amount, loser -amount. Win/loss stats move with it.
// Idempotent per duel: the store records each account's net movement against
// the duel id, so re-driving a settlement that failed between the two
// adjustments skips whatever already landed.
func (s *LedgerService) Settle(ctx context.Context, duelID, winnerID, loserID string, amount int64) error {
	err := s.adjust(ctx, loserID, duelID, func(a *models.Account) error {
		if a.Locked < amount {
			return fmt.Errorf("loser %s has %d locked, expected at least %d", loserID, a.Locked, amount)
		}
		a.Locked -= amount
		a.Losses++
		return nil
	})
	if err != nil {
		return err
	}

	return s.adjust(ctx, winnerID, duelID, func(a *models.Account) error {
		if a.Locked < amount {
			return fmt.Errorf("winner %s has %d locked, expected at least %d", winnerID, a.Locked, amount)
		}
		a.Locked -= amount
		a.Balance += 2 * amount
		a.Wins++
		a.TotalWinnings += amount
		return nil
	})
}

// Leaderboard returns the top accounts by spendable balance.
func (s *LedgerService) Leaderboard(ctx context.Context, limit int) ([]*models.Account, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.store.Top(ctx, limit)
}

func (s *LedgerService) adjust(ctx context.Context, participantID, duelID string, mutate func(*models.Account) error) error {
	for attempt := 0; attempt < adjustAttempts; attempt++ {
		a, err := s.store.Account(ctx, participantID)
		if errors.Is(err, store.ErrNotFound) {
			return &NotFoundError{Resource: "account", ID: participantID}
		}
		if err != nil {
			return err
		}

		_, err = s.store.GuardedAdjust(ctx, participantID, a.Version, duelID, mutate)
		if errors.Is(err, store.ErrVersionConflict) {
			log.Printf("[LEDGER] Version conflict adjusting account %s (duel %s), retrying", participantID, duelID)
			continue
		}
		return err
	}
	return fmt.Errorf("account %s: gave up after %d conflicting updates", participantID, adjustAttempts)
}
