package store

import (
	"context"
	"errors"
	"time"

	"github.com/duelpoint/backend/internal/models"
)

var (
	// ErrNotFound is returned when no record exists for the given key.
	ErrNotFound = errors.New("store: record not found")

	// ErrVersionConflict is returned when a guarded update observes a version
	// other than the one the caller read. It means someone else acted first.
	ErrVersionConflict = errors.New("store: version conflict")
)

// DuelStore provides guarded read/update primitives keyed by duel id. All
// mutations go through GuardedUpdate so concurrent callers racing on the same
// duel resolve to exactly one winner.
type DuelStore interface {
	Get(ctx context.Context, id string) (*models.Duel, error)
	Insert(ctx context.Context, d *models.Duel) error

	// GuardedUpdate applies mutate to the current record and persists it only
	// if the stored version still equals expectedVersion. The stored version
	// is incremented on success. Returns ErrVersionConflict otherwise.
	GuardedUpdate(ctx context.Context, id string, expectedVersion int, mutate func(*models.Duel)) (*models.Duel, error)

	// ActiveWaiting lists duels still open for joining.
	ActiveWaiting(ctx context.Context, now time.Time) ([]*models.Duel, error)

	// WaitingPastDeadline and CountdownPastDeadline feed the reconciliation
	// sweep: duels whose persisted deadline has passed but whose status has
	// not moved yet.
	WaitingPastDeadline(ctx context.Context, now time.Time) ([]*models.Duel, error)
	CountdownPastDeadline(ctx context.Context, now time.Time) ([]*models.Duel, error)

	// CompletedUnsettled lists completed duels whose ledger settlement has not
	// been confirmed yet, so the sweep can re-drive it.
	CompletedUnsettled(ctx context.Context) ([]*models.Duel, error)
}

// LedgerStore holds participant point accounts. Balance mutation is always a
// guarded, versioned update; a participant may be the target of ledger
// operations from two different duels at once.
type LedgerStore interface {
	Account(ctx context.Context, participantID string) (*models.Account, error)

	// EnsureAccount creates the account with the given starting balance if it
	// does not exist yet, and returns the current record either way.
	EnsureAccount(ctx context.Context, ref models.PlayerRef, startingBalance int64) (*models.Account, error)

	// GuardedAdjust applies mutate to the account and persists it only if the
	// stored version still equals expectedVersion. An error returned by mutate
	// aborts the update and is passed through unchanged.
	//
	// A mutation that changes the account's net total (balance plus locked)
	// is recorded against refID, and at most one such movement is ever applied
	// per participant and refID: if one was already recorded the adjust is
	// skipped and the current account returned. Callers can therefore re-drive
	// a settlement after a partial failure without double-moving points.
	GuardedAdjust(ctx context.Context, participantID string, expectedVersion int, refID string, mutate func(*models.Account) error) (*models.Account, error)

	// Top returns up to limit accounts ordered by balance, highest first.
	Top(ctx context.Context, limit int) ([]*models.Account, error)
}
