package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/duelpoint/backend/internal/models"
	"github.com/duelpoint/backend/internal/store"
)

func duelStatus(t *testing.T, f *engineFixture, id string) models.DuelStatus {
	t.Helper()
	d, err := f.engine.GetDuel(context.Background(), id)
	assert.NoError(t, err)
	return d.Status
}

func TestDuelScheduler_TimerResolvesCountdown(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.CountdownWindow = 30 * time.Millisecond
	f := newEngineFixture(cfg, 0)

	sched := NewDuelScheduler(f.engine, f.duels, time.Hour)
	defer sched.Stop()
	f.engine.SetTimers(sched)

	f.seed(t, bob, 50)
	duel, err := f.engine.CreateDuel(ctx, alice, 10, "room-1")
	assert.NoError(t, err)
	_, err = f.engine.JoinDuel(ctx, duel.ID, bob)
	assert.NoError(t, err)

	assert.Eventually(t, func() bool {
		return duelStatus(t, f, duel.ID) == models.DuelStatusCompleted
	}, 2*time.Second, 10*time.Millisecond, "countdown timer should resolve the duel")

	resolved, err := f.engine.GetDuel(ctx, duel.ID)
	assert.NoError(t, err)
	assert.Equal(t, "alice", resolved.Winner.ParticipantID)
}

func TestDuelScheduler_TimerExpiresWaiting(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.WaitingWindow = 30 * time.Millisecond
	f := newEngineFixture(cfg, 0)

	sched := NewDuelScheduler(f.engine, f.duels, time.Hour)
	defer sched.Stop()
	f.engine.SetTimers(sched)

	duel, err := f.engine.CreateDuel(ctx, alice, 10, "room-1")
	assert.NoError(t, err)

	assert.Eventually(t, func() bool {
		return duelStatus(t, f, duel.ID) == models.DuelStatusExpired
	}, 2*time.Second, 10*time.Millisecond, "expiry timer should fire")
}

func TestDuelScheduler_SweepRecoversPersistedDeadlines(t *testing.T) {
	// No timers armed here: the sweep alone must find and fire the
	// transitions from the persisted deadlines, as it would after a restart.
	ctx := context.Background()
	cfg := testConfig()
	cfg.WaitingWindow = -time.Second
	f := newEngineFixture(cfg, 0)

	expired, err := f.engine.CreateDuel(ctx, alice, 10, "room-1")
	assert.NoError(t, err)

	cfg2 := testConfig()
	f2 := newEngineFixture(cfg2, 1)
	f2.seed(t, bob, 50)
	resolvable, err := f2.engine.CreateDuel(ctx, alice, 10, "room-2")
	assert.NoError(t, err)
	_, err = f2.engine.JoinDuel(ctx, resolvable.ID, bob)
	assert.NoError(t, err)

	NewDuelScheduler(f.engine, f.duels, time.Hour).Sweep(ctx)
	NewDuelScheduler(f2.engine, f2.duels, time.Hour).Sweep(ctx)

	assert.Equal(t, models.DuelStatusExpired, duelStatus(t, f, expired.ID))
	assert.Equal(t, models.DuelStatusCompleted, duelStatus(t, f2, resolvable.ID))

	winner, err := f2.engine.GetDuel(ctx, resolvable.ID)
	assert.NoError(t, err)
	assert.Equal(t, "bob", winner.Winner.ParticipantID)
}

func TestDuelScheduler_SweepReDrivesUnsettledDuels(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()

	duels := store.NewMemoryDuelStore()
	accounts := newFaultyLedgerStore()
	ledger := NewLedgerService(accounts, cfg.StartingBalance)
	engine := NewDuelEngine(duels, ledger, NewOutcomeResolver(fixedBitSource{bit: 0}), nil, cfg)

	_, err := accounts.EnsureAccount(ctx, bob, 50)
	assert.NoError(t, err)
	duel, err := engine.CreateDuel(ctx, alice, 10, "room-1")
	assert.NoError(t, err)
	_, err = engine.JoinDuel(ctx, duel.ID, bob)
	assert.NoError(t, err)

	// Knock the ledger out mid-settlement, leaving the duel completed but
	// unconfirmed.
	accounts.setFailure("alice", assert.AnError)
	_, err = engine.ResolveDuel(ctx, duel.ID)
	assert.Error(t, err)

	stuck, err := duels.Get(ctx, duel.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.DuelStatusCompleted, stuck.Status)
	assert.Nil(t, stuck.SettledAt)

	accounts.setFailure("alice", nil)
	NewDuelScheduler(engine, duels, time.Hour).Sweep(ctx)

	settled, err := duels.Get(ctx, duel.ID)
	assert.NoError(t, err)
	assert.NotNil(t, settled.SettledAt, "sweep must confirm the interrupted settlement")

	winner, err := accounts.Account(ctx, "alice")
	assert.NoError(t, err)
	assert.Equal(t, int64(110), winner.Balance)
	assert.Equal(t, int64(0), winner.Locked)
}

func TestDuelScheduler_PeriodicSweep(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.WaitingWindow = -time.Second
	f := newEngineFixture(cfg, 0)

	duel, err := f.engine.CreateDuel(ctx, alice, 10, "room-1")
	assert.NoError(t, err)

	sched := NewDuelScheduler(f.engine, f.duels, 20*time.Millisecond)
	assert.NoError(t, sched.Start())
	defer sched.Stop()

	assert.Eventually(t, func() bool {
		return duelStatus(t, f, duel.ID) == models.DuelStatusExpired
	}, 2*time.Second, 10*time.Millisecond, "periodic sweep should expire the duel")
}

func TestDuelScheduler_StopCancelsTimers(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.WaitingWindow = 40 * time.Millisecond
	f := newEngineFixture(cfg, 0)

	sched := NewDuelScheduler(f.engine, f.duels, time.Hour)
	f.engine.SetTimers(sched)

	duel, err := f.engine.CreateDuel(ctx, alice, 10, "room-1")
	assert.NoError(t, err)

	sched.Stop()
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, models.DuelStatusWaiting, duelStatus(t, f, duel.ID), "stopped scheduler must not fire")
}
