package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/duelpoint/backend/internal/models"
	"github.com/duelpoint/backend/internal/store"
)

func newLedgerFixture(startingBalance int64) (*LedgerService, *store.MemoryLedgerStore) {
	s := store.NewMemoryLedgerStore()
	return NewLedgerService(s, startingBalance), s
}

func TestLedgerService_EnsureAccount(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newLedgerFixture(100)

	t.Run("first reference creates the account with the starting balance", func(t *testing.T) {
		a, err := ledger.EnsureAccount(ctx, alice)
		assert.NoError(t, err)
		assert.Equal(t, int64(100), a.Balance)
		assert.Equal(t, int64(0), a.Locked)
	})

	t.Run("second reference returns the existing account", func(t *testing.T) {
		assert.NoError(t, ledger.Reserve(ctx, "alice", "duel-1", 30))

		a, err := ledger.EnsureAccount(ctx, alice)
		assert.NoError(t, err)
		assert.Equal(t, int64(70), a.Balance, "ensure must not reset an existing account")
	})

	t.Run("unknown account lookup", func(t *testing.T) {
		_, err := ledger.Account(ctx, "nobody")
		var notFoundErr *NotFoundError
		assert.ErrorAs(t, err, &notFoundErr)
	})
}

func TestLedgerService_ReserveAndRelease(t *testing.T) {
	ctx := context.Background()

	t.Run("reserve moves points into escrow", func(t *testing.T) {
		ledger, _ := newLedgerFixture(100)
		_, err := ledger.EnsureAccount(ctx, alice)
		assert.NoError(t, err)

		assert.NoError(t, ledger.Reserve(ctx, "alice", "duel-1", 40))

		a, err := ledger.Account(ctx, "alice")
		assert.NoError(t, err)
		assert.Equal(t, int64(60), a.Balance)
		assert.Equal(t, int64(40), a.Locked)
	})

	t.Run("reserve beyond the balance fails without movement", func(t *testing.T) {
		ledger, _ := newLedgerFixture(25)
		_, err := ledger.EnsureAccount(ctx, alice)
		assert.NoError(t, err)

		err = ledger.Reserve(ctx, "alice", "duel-1", 30)
		var fundsErr *InsufficientFundsError
		assert.ErrorAs(t, err, &fundsErr)
		assert.Equal(t, int64(25), fundsErr.Balance)
		assert.Equal(t, int64(30), fundsErr.Required)

		a, err := ledger.Account(ctx, "alice")
		assert.NoError(t, err)
		assert.Equal(t, int64(25), a.Balance)
		assert.Equal(t, int64(0), a.Locked)
	})

	t.Run("release restores the escrowed amount", func(t *testing.T) {
		ledger, _ := newLedgerFixture(100)
		_, err := ledger.EnsureAccount(ctx, alice)
		assert.NoError(t, err)

		assert.NoError(t, ledger.Reserve(ctx, "alice", "duel-1", 40))
		assert.NoError(t, ledger.Release(ctx, "alice", "duel-1", 40))

		a, err := ledger.Account(ctx, "alice")
		assert.NoError(t, err)
		assert.Equal(t, int64(100), a.Balance)
		assert.Equal(t, int64(0), a.Locked)
	})

	t.Run("release more than locked fails", func(t *testing.T) {
		ledger, _ := newLedgerFixture(100)
		_, err := ledger.EnsureAccount(ctx, alice)
		assert.NoError(t, err)

		assert.Error(t, ledger.Release(ctx, "alice", "duel-1", 10))
	})
}

func TestLedgerService_Settle(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newLedgerFixture(100)

	_, err := ledger.EnsureAccount(ctx, alice)
	assert.NoError(t, err)
	_, err = ledger.EnsureAccount(ctx, bob)
	assert.NoError(t, err)

	assert.NoError(t, ledger.Reserve(ctx, "alice", "duel-1", 20))
	assert.NoError(t, ledger.Reserve(ctx, "bob", "duel-1", 20))

	assert.NoError(t, ledger.Settle(ctx, "duel-1", "alice", "bob", 20))

	winner, err := ledger.Account(ctx, "alice")
	assert.NoError(t, err)
	loser, err := ledger.Account(ctx, "bob")
	assert.NoError(t, err)

	assert.Equal(t, int64(120), winner.Balance)
	assert.Equal(t, int64(0), winner.Locked)
	assert.Equal(t, 1, winner.Wins)
	assert.Equal(t, int64(20), winner.TotalWinnings)

	assert.Equal(t, int64(80), loser.Balance)
	assert.Equal(t, int64(0), loser.Locked)
	assert.Equal(t, 1, loser.Losses)

	// Settling the same duel again is a no-op: both movements are already
	// recorded against the duel.
	assert.NoError(t, ledger.Settle(ctx, "duel-1", "alice", "bob", 20))

	winner, err = ledger.Account(ctx, "alice")
	assert.NoError(t, err)
	loser, err = ledger.Account(ctx, "bob")
	assert.NoError(t, err)
	assert.Equal(t, int64(120), winner.Balance, "repeat settlement must not move points")
	assert.Equal(t, 1, winner.Wins)
	assert.Equal(t, int64(80), loser.Balance)
	assert.Equal(t, 1, loser.Losses)
}

func TestLedgerService_ConcurrentReserves(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newLedgerFixture(40)

	_, err := ledger.EnsureAccount(ctx, alice)
	assert.NoError(t, err)

	// 8 concurrent reservations of 10 against a balance of 40: exactly four
	// can succeed, the rest must see insufficient funds. Version conflicts
	// alone must never surface to the caller.
	const attempts = 8
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = ledger.Reserve(ctx, "alice", fmt.Sprintf("duel-%d", i), 10)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
			continue
		}
		var fundsErr *InsufficientFundsError
		assert.ErrorAs(t, err, &fundsErr)
	}
	assert.Equal(t, 4, successes)

	a, err := ledger.Account(ctx, "alice")
	assert.NoError(t, err)
	assert.Equal(t, int64(0), a.Balance)
	assert.Equal(t, int64(40), a.Locked)
}

func TestLedgerService_Leaderboard(t *testing.T) {
	ctx := context.Background()
	ledger, ledgerStore := newLedgerFixture(100)

	for i, balance := range []int64{50, 200, 125} {
		ref := models.PlayerRef{ParticipantID: fmt.Sprintf("p%d", i), DisplayName: "Player"}
		_, err := ledgerStore.EnsureAccount(ctx, ref, balance)
		assert.NoError(t, err)
	}

	top, err := ledger.Leaderboard(ctx, 2)
	assert.NoError(t, err)
	assert.Len(t, top, 2)
	assert.Equal(t, int64(200), top[0].Balance)
	assert.Equal(t, int64(125), top[1].Balance)

	all, err := ledger.Leaderboard(ctx, 0)
	assert.NoError(t, err)
	assert.Len(t, all, 3, "non-positive limit falls back to the default")
}
