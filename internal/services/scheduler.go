package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/duelpoint/backend/internal/store"
)

// DuelScheduler drives the time-based transitions. Each duel gets an
// in-process timer for its current deadline, and a periodic reconciliation
// sweep re-derives pending work from persisted deadlines. The sweep makes
// scheduling crash-recoverable: after a restart the in-memory timers are gone
// but any duel whose deadline already passed is picked up on the next cycle.
// Both paths call the same idempotent, guarded engine operations, so
// redundant execution is harmless.
type DuelScheduler struct {
	engine   *DuelEngine
	duels    store.DuelStore
	interval time.Duration
	cron     gocron.Scheduler

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewDuelScheduler(engine *DuelEngine, duels store.DuelStore, interval time.Duration) *DuelScheduler {
	return &DuelScheduler{
		engine:   engine,
		duels:    duels,
		interval: interval,
		timers:   make(map[string]*time.Timer),
	}
}

// Start launches the reconciliation sweep job.
func (s *DuelScheduler) Start() error {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	s.cron = cron

	_, err = cron.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			s.Sweep(context.Background())
		}),
	)
	if err != nil {
		return err
	}

	cron.Start()
	log.Printf("[SCHEDULER] Reconciliation sweep running every %s", s.interval)
	return nil
}

// Stop shuts the sweep down and drops all armed timers.
func (s *DuelScheduler) Stop() {
	if s.cron != nil {
		if err := s.cron.Shutdown(); err != nil {
			log.Printf("[SCHEDULER] Shutdown error: %v", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// ArmExpiry schedules the waiting-window deadline for a duel.
func (s *DuelScheduler) ArmExpiry(duelID string, at time.Time) {
	s.arm(duelID, at, func() {
		if _, err := s.engine.ExpireDuel(context.Background(), duelID); err != nil {
			log.Printf("[SCHEDULER] Expiry trigger for duel %s failed: %v", duelID, err)
		}
	})
}

// ArmResolution schedules the countdown deadline. It replaces any pending
// expiry timer for the same duel; a stale expiry firing anyway is defused by
// the engine's guard.
func (s *DuelScheduler) ArmResolution(duelID string, at time.Time) {
	s.arm(duelID, at, func() {
		if _, err := s.engine.ResolveDuel(context.Background(), duelID); err != nil {
			log.Printf("[SCHEDULER] Resolution trigger for duel %s failed: %v", duelID, err)
		}
	})
}

func (s *DuelScheduler) arm(duelID string, at time.Time, fire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.timers[duelID]; ok {
		prev.Stop()
	}
	s.timers[duelID] = time.AfterFunc(time.Until(at), func() {
		s.mu.Lock()
		delete(s.timers, duelID)
		s.mu.Unlock()
		fire()
	})
}

// Sweep scans persisted deadlines and fires the corresponding transitions.
// Store failures are logged and retried on the next cycle; the sweep never
// terminates because of a transient error.
func (s *DuelScheduler) Sweep(ctx context.Context) {
	now := time.Now()

	waiting, err := s.duels.WaitingPastDeadline(ctx, now)
	if err != nil {
		log.Printf("[SCHEDULER] Sweep could not list expired duels: %v", err)
	} else {
		for _, d := range waiting {
			if _, err := s.engine.ExpireDuel(ctx, d.ID); err != nil {
				log.Printf("[SCHEDULER] Sweep failed to expire duel %s: %v", d.ID, err)
			}
		}
	}

	countdown, err := s.duels.CountdownPastDeadline(ctx, now)
	if err != nil {
		log.Printf("[SCHEDULER] Sweep could not list resolvable duels: %v", err)
	} else {
		for _, d := range countdown {
			if _, err := s.engine.ResolveDuel(ctx, d.ID); err != nil {
				log.Printf("[SCHEDULER] Sweep failed to resolve duel %s: %v", d.ID, err)
			}
		}
	}

	// Completed duels whose settlement was interrupted before the marker
	// landed are re-driven until it does.
	unsettled, err := s.duels.CompletedUnsettled(ctx)
	if err != nil {
		log.Printf("[SCHEDULER] Sweep could not list unsettled duels: %v", err)
		return
	}
	for _, d := range unsettled {
		if _, err := s.engine.ResolveDuel(ctx, d.ID); err != nil {
			log.Printf("[SCHEDULER] Sweep failed to settle duel %s: %v", d.ID, err)
		}
	}
}
