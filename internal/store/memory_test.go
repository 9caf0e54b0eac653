package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/duelpoint/backend/internal/models"
)

func waitingDuel(id string, expiresAt time.Time) *models.Duel {
	now := time.Now()
	return &models.Duel{
		ID:        id,
		PlayerA:   models.PlayerRef{ParticipantID: "alice", DisplayName: "Alice"},
		BetAmount: 10,
		Status:    models.DuelStatusWaiting,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: expiresAt,
		Version:   1,
	}
}

func TestMemoryDuelStore(t *testing.T) {
	ctx := context.Background()

	t.Run("get missing duel", func(t *testing.T) {
		s := NewMemoryDuelStore()
		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("stored state is isolated from callers", func(t *testing.T) {
		s := NewMemoryDuelStore()
		d := waitingDuel("duel-1", time.Now().Add(time.Minute))
		assert.NoError(t, s.Insert(ctx, d))

		got, err := s.Get(ctx, "duel-1")
		assert.NoError(t, err)
		got.Status = models.DuelStatusCancelled

		again, err := s.Get(ctx, "duel-1")
		assert.NoError(t, err)
		assert.Equal(t, models.DuelStatusWaiting, again.Status, "mutating a returned duel must not touch the store")
	})

	t.Run("guarded update increments the version", func(t *testing.T) {
		s := NewMemoryDuelStore()
		assert.NoError(t, s.Insert(ctx, waitingDuel("duel-1", time.Now().Add(time.Minute))))

		updated, err := s.GuardedUpdate(ctx, "duel-1", 1, func(d *models.Duel) {
			d.Status = models.DuelStatusExpired
		})
		assert.NoError(t, err)
		assert.Equal(t, 2, updated.Version)
		assert.Equal(t, models.DuelStatusExpired, updated.Status)
	})

	t.Run("stale version is rejected", func(t *testing.T) {
		s := NewMemoryDuelStore()
		assert.NoError(t, s.Insert(ctx, waitingDuel("duel-1", time.Now().Add(time.Minute))))

		_, err := s.GuardedUpdate(ctx, "duel-1", 1, func(d *models.Duel) {
			d.Status = models.DuelStatusExpired
		})
		assert.NoError(t, err)

		_, err = s.GuardedUpdate(ctx, "duel-1", 1, func(d *models.Duel) {
			d.Status = models.DuelStatusCancelled
		})
		assert.ErrorIs(t, err, ErrVersionConflict)

		cur, err := s.Get(ctx, "duel-1")
		assert.NoError(t, err)
		assert.Equal(t, models.DuelStatusExpired, cur.Status, "losing write must not land")
	})

	t.Run("lists completed duels without a settled marker", func(t *testing.T) {
		s := NewMemoryDuelStore()
		now := time.Now()

		unsettled := waitingDuel("unsettled", now.Add(time.Minute))
		unsettled.Status = models.DuelStatusCompleted
		assert.NoError(t, s.Insert(ctx, unsettled))

		settled := waitingDuel("settled", now.Add(time.Minute))
		settled.Status = models.DuelStatusCompleted
		settled.SettledAt = &now
		assert.NoError(t, s.Insert(ctx, settled))

		out, err := s.CompletedUnsettled(ctx)
		assert.NoError(t, err)
		if assert.Len(t, out, 1) {
			assert.Equal(t, "unsettled", out[0].ID)
		}
	})

	t.Run("deadline listings", func(t *testing.T) {
		s := NewMemoryDuelStore()
		now := time.Now()

		assert.NoError(t, s.Insert(ctx, waitingDuel("open", now.Add(time.Minute))))
		assert.NoError(t, s.Insert(ctx, waitingDuel("stale", now.Add(-time.Minute))))

		countdown := waitingDuel("counting", now.Add(time.Minute))
		countdown.ID = "counting"
		countdown.Status = models.DuelStatusCountdown
		past := now.Add(-time.Second)
		countdown.CountdownEndsAt = &past
		assert.NoError(t, s.Insert(ctx, countdown))

		open, err := s.ActiveWaiting(ctx, now)
		assert.NoError(t, err)
		if assert.Len(t, open, 1) {
			assert.Equal(t, "open", open[0].ID)
		}

		expired, err := s.WaitingPastDeadline(ctx, now)
		assert.NoError(t, err)
		if assert.Len(t, expired, 1) {
			assert.Equal(t, "stale", expired[0].ID)
		}

		resolvable, err := s.CountdownPastDeadline(ctx, now)
		assert.NoError(t, err)
		if assert.Len(t, resolvable, 1) {
			assert.Equal(t, "counting", resolvable[0].ID)
		}
	})
}

func TestMemoryLedgerStore(t *testing.T) {
	ctx := context.Background()
	ref := models.PlayerRef{ParticipantID: "alice", DisplayName: "Alice"}

	t.Run("ensure is idempotent", func(t *testing.T) {
		s := NewMemoryLedgerStore()

		a, err := s.EnsureAccount(ctx, ref, 100)
		assert.NoError(t, err)
		assert.Equal(t, int64(100), a.Balance)
		assert.Equal(t, 1, a.Version)

		again, err := s.EnsureAccount(ctx, ref, 500)
		assert.NoError(t, err)
		assert.Equal(t, int64(100), again.Balance, "existing account keeps its balance")
	})

	t.Run("guarded adjust applies the mutation under the right version", func(t *testing.T) {
		s := NewMemoryLedgerStore()
		_, err := s.EnsureAccount(ctx, ref, 100)
		assert.NoError(t, err)

		a, err := s.GuardedAdjust(ctx, "alice", 1, "duel-1", func(a *models.Account) error {
			a.Balance -= 10
			a.Locked += 10
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, int64(90), a.Balance)
		assert.Equal(t, 2, a.Version)

		_, err = s.GuardedAdjust(ctx, "alice", 1, "duel-1", func(a *models.Account) error {
			a.Balance = 0
			return nil
		})
		assert.ErrorIs(t, err, ErrVersionConflict)
	})

	t.Run("net movement is applied at most once per ref", func(t *testing.T) {
		s := NewMemoryLedgerStore()
		_, err := s.EnsureAccount(ctx, ref, 100)
		assert.NoError(t, err)

		consume := func(a *models.Account) error {
			if a.Locked < 10 {
				return errors.New("lock missing")
			}
			a.Locked -= 10
			return nil
		}

		// The reserve shifts points between balance and locked without
		// changing the net total, so it does not consume the duel's one
		// recorded movement.
		_, err = s.GuardedAdjust(ctx, "alice", 1, "duel-1", func(a *models.Account) error {
			a.Balance -= 10
			a.Locked += 10
			return nil
		})
		assert.NoError(t, err)

		a, err := s.GuardedAdjust(ctx, "alice", 2, "duel-1", consume)
		assert.NoError(t, err)
		assert.Equal(t, int64(0), a.Locked)

		// Re-driving the same movement is skipped instead of failing on the
		// depleted lock.
		again, err := s.GuardedAdjust(ctx, "alice", 3, "duel-1", consume)
		assert.NoError(t, err)
		assert.Equal(t, int64(0), again.Locked)
		assert.Equal(t, int64(90), again.Balance)
		assert.Equal(t, 3, again.Version, "skipped adjust must not bump the version")
	})

	t.Run("mutation error aborts the adjust", func(t *testing.T) {
		s := NewMemoryLedgerStore()
		_, err := s.EnsureAccount(ctx, ref, 100)
		assert.NoError(t, err)

		boom := errors.New("boom")
		_, err = s.GuardedAdjust(ctx, "alice", 1, "duel-1", func(a *models.Account) error {
			a.Balance = -1
			return boom
		})
		assert.ErrorIs(t, err, boom)

		a, err := s.Account(ctx, "alice")
		assert.NoError(t, err)
		assert.Equal(t, int64(100), a.Balance, "failed mutation leaves the account untouched")
		assert.Equal(t, 1, a.Version)
	})

	t.Run("top orders by balance", func(t *testing.T) {
		s := NewMemoryLedgerStore()
		for i, bal := range []int64{30, 90, 60} {
			r := models.PlayerRef{ParticipantID: string(rune('a' + i)), DisplayName: "P"}
			_, err := s.EnsureAccount(ctx, r, bal)
			assert.NoError(t, err)
		}

		top, err := s.Top(ctx, 2)
		assert.NoError(t, err)
		if assert.Len(t, top, 2) {
			assert.Equal(t, int64(90), top[0].Balance)
			assert.Equal(t, int64(60), top[1].Balance)
		}
	})
}
