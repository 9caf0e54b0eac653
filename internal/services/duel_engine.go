package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/duelpoint/backend/internal/config"
	"github.com/duelpoint/backend/internal/models"
	"github.com/duelpoint/backend/internal/store"
)

// DeadlineTimers arms in-process deadlines for a duel. A stale timer firing
// after the duel already moved on is harmless: the guarded transitions below
// turn it into a no-op.
type DeadlineTimers interface {
	ArmExpiry(duelID string, at time.Time)
	ArmResolution(duelID string, at time.Time)
}

// DuelEngine is the state machine governing duel creation, joining, timed
// resolution, expiry and settlement. It may be entered concurrently from a
// chat command handler, the HTTP API and the scheduler sweep; every mutation
// is a guarded transition conditioned on the version read beforehand, so
// racing callers resolve to exactly one winner and the rest observe a
// StateConflictError or a no-op.
type DuelEngine struct {
	duels      store.DuelStore
	ledger     *LedgerService
	resolver   *OutcomeResolver
	dispatcher Dispatcher
	timers     DeadlineTimers
	cfg        *config.DuelConfig
}

func NewDuelEngine(duels store.DuelStore, ledger *LedgerService, resolver *OutcomeResolver, dispatcher Dispatcher, cfg *config.DuelConfig) *DuelEngine {
	return &DuelEngine{
		duels:      duels,
		ledger:     ledger,
		resolver:   resolver,
		dispatcher: dispatcher,
		cfg:        cfg,
	}
}

// SetTimers attaches the deadline scheduler. Wired after construction because
// the scheduler drives the engine back through ExpireDuel and ResolveDuel.
func (e *DuelEngine) SetTimers(t DeadlineTimers) {
	e.timers = t
}

// CreateDuel opens a new duel in waiting status. The initiator's balance is
// checked but no funds move until someone joins.
func (e *DuelEngine) CreateDuel(ctx context.Context, initiator models.PlayerRef, betAmount int64, channelRef string) (*models.Duel, error) {
	if betAmount < 1 {
		return nil, &ValidationError{Msg: "bet amount must be at least 1 point"}
	}

	acct, err := e.ledger.EnsureAccount(ctx, initiator)
	if err != nil {
		return nil, err
	}
	if acct.Balance < betAmount {
		return nil, &InsufficientFundsError{ParticipantID: initiator.ParticipantID, Balance: acct.Balance, Required: betAmount}
	}

	now := time.Now()
	d := &models.Duel{
		ID:         uuid.New().String(),
		ChannelRef: channelRef,
		PlayerA:    initiator,
		BetAmount:  betAmount,
		Status:     models.DuelStatusWaiting,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  now.Add(e.cfg.WaitingWindow),
		Version:    1,
	}
	if err := e.duels.Insert(ctx, d); err != nil {
		return nil, fmt.Errorf("create duel: %w", err)
	}

	if e.timers != nil {
		e.timers.ArmExpiry(d.ID, d.ExpiresAt)
	}
	e.publish(d)
	log.Printf("[ENGINE] Duel %s created by %s, bet %d", d.ID, initiator.ParticipantID, betAmount)
	return d, nil
}

// JoinDuel performs the guarded waiting→countdown transition: the challenger
// claims the duel, both stakes move into escrow and the outcome is committed
// so later resolution triggers all read the same bit.
func (e *DuelEngine) JoinDuel(ctx context.Context, duelID string, challenger models.PlayerRef) (*models.Duel, error) {
	d, err := e.getDuel(ctx, duelID)
	if err != nil {
		return nil, err
	}

	if d.Status != models.DuelStatusWaiting || time.Now().After(d.ExpiresAt) {
		return nil, &StateConflictError{Msg: "duel is no longer open for joining"}
	}
	if challenger.ParticipantID == d.PlayerA.ParticipantID {
		return nil, &ValidationError{Msg: "cannot join your own duel"}
	}
	if _, err := e.ledger.EnsureAccount(ctx, challenger); err != nil {
		return nil, err
	}

	outcome, err := e.resolver.CommitOutcome()
	if err != nil {
		return nil, fmt.Errorf("commit outcome: %w", err)
	}

	// Escrow the challenger's stake before claiming the duel. If the claim
	// below loses its race the stake is released unchanged.
	if err := e.ledger.Reserve(ctx, challenger.ParticipantID, duelID, d.BetAmount); err != nil {
		return nil, err
	}

	now := time.Now()
	countdownEnds := now.Add(e.cfg.CountdownWindow)
	updated, err := e.duels.GuardedUpdate(ctx, duelID, d.Version, func(cur *models.Duel) {
		cur.Status = models.DuelStatusCountdown
		cur.PlayerB = &challenger
		cur.Outcome = &outcome
		cur.CountdownEndsAt = &countdownEnds
		cur.UpdatedAt = now
	})
	if err != nil {
		e.releaseOrLog(ctx, challenger.ParticipantID, duelID, d.BetAmount)
		if errors.Is(err, store.ErrVersionConflict) {
			return nil, &StateConflictError{Msg: "duel was already joined, expired or cancelled"}
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{Resource: "duel", ID: duelID}
		}
		return nil, err
	}

	// Escrow the initiator's stake too. Their balance was only checked at
	// creation; if they spent those points in the meantime the duel cannot
	// proceed, so cancel it and refund the challenger.
	if err := e.ledger.Reserve(ctx, d.PlayerA.ParticipantID, duelID, d.BetAmount); err != nil {
		log.Printf("[ENGINE] Initiator %s can no longer cover stake for duel %s: %v", d.PlayerA.ParticipantID, duelID, err)
		e.releaseOrLog(ctx, challenger.ParticipantID, duelID, d.BetAmount)

		cancelled, cErr := e.duels.GuardedUpdate(ctx, duelID, updated.Version, func(cur *models.Duel) {
			cur.Status = models.DuelStatusCancelled
			cur.UpdatedAt = time.Now()
		})
		if cErr != nil {
			log.Printf("[ENGINE] Failed to cancel underfunded duel %s: %v", duelID, cErr)
		} else {
			e.publish(cancelled)
		}
		return nil, &StateConflictError{Msg: "duel is no longer available"}
	}

	if e.timers != nil {
		e.timers.ArmResolution(duelID, countdownEnds)
	}
	e.publish(updated)
	log.Printf("[ENGINE] Duel %s joined by %s, countdown ends %s", duelID, challenger.ParticipantID, countdownEnds.Format(time.RFC3339))
	return updated, nil
}

// ResolveDuel completes a countdown duel using the outcome committed at join
// time. Idempotent: any trigger arriving after settlement, or before the
// countdown deadline, observes the current state unchanged. Exactly one
// trigger wins the guarded countdown→completed transition; the ledger
// settlement that follows is keyed by duel id and confirmed with a settled
// marker, so a settlement interrupted by a crash or store outage is re-driven
// by the next trigger (or the sweep) without ever double-moving points.
func (e *DuelEngine) ResolveDuel(ctx context.Context, duelID string) (*models.Duel, error) {
	d, err := e.getDuel(ctx, duelID)
	if err != nil {
		return nil, err
	}

	if d.Status == models.DuelStatusCompleted && d.SettledAt == nil {
		return e.settleCompleted(ctx, d)
	}
	if d.Status != models.DuelStatusCountdown {
		return d, nil
	}
	if d.CountdownEndsAt != nil && time.Now().Before(*d.CountdownEndsAt) {
		// Too early; the armed timer or the sweep will come back.
		return d, nil
	}
	if d.Outcome == nil || d.PlayerB == nil {
		return nil, fmt.Errorf("duel %s is in countdown without a committed outcome", duelID)
	}

	winner, loser := d.PlayerA, *d.PlayerB
	if d.Outcome.Bit == 1 {
		winner, loser = loser, winner
	}

	updated, err := e.duels.GuardedUpdate(ctx, duelID, d.Version, func(cur *models.Duel) {
		cur.Status = models.DuelStatusCompleted
		cur.Winner = &winner
		cur.Loser = &loser
		cur.UpdatedAt = time.Now()
	})
	if errors.Is(err, store.ErrVersionConflict) {
		// Another trigger got there first; report whatever it produced.
		return e.getDuel(ctx, duelID)
	}
	if err != nil {
		return nil, err
	}

	return e.settleCompleted(ctx, updated)
}

// settleCompleted performs the ledger settlement for a completed duel and
// records the settled marker. Safe to re-run: the ledger applies at most one
// net movement per duel and participant, and only the marker write that lands
// publishes the final snapshot.
func (e *DuelEngine) settleCompleted(ctx context.Context, d *models.Duel) (*models.Duel, error) {
	if d.Winner == nil || d.Loser == nil {
		return nil, fmt.Errorf("duel %s is completed without a recorded winner", d.ID)
	}

	if err := e.ledger.Settle(ctx, d.ID, d.Winner.ParticipantID, d.Loser.ParticipantID, d.BetAmount); err != nil {
		log.Printf("[ENGINE] Settlement failed for duel %s, will be re-driven: %v", d.ID, err)
		return d, fmt.Errorf("settle duel %s: %w", d.ID, err)
	}

	updated, err := e.duels.GuardedUpdate(ctx, d.ID, d.Version, func(cur *models.Duel) {
		now := time.Now()
		cur.SettledAt = &now
		cur.UpdatedAt = now
	})
	if errors.Is(err, store.ErrVersionConflict) {
		// A concurrent re-drive confirmed it already.
		return e.getDuel(ctx, d.ID)
	}
	if err != nil {
		return nil, err
	}

	e.publish(updated)
	log.Printf("[ENGINE] Duel %s resolved, winner %s", d.ID, d.Winner.ParticipantID)
	return updated, nil
}

// ExpireDuel closes a waiting duel whose deadline passed with nobody joining.
// No funds ever moved, so this is a pure status change.
func (e *DuelEngine) ExpireDuel(ctx context.Context, duelID string) (*models.Duel, error) {
	d, err := e.getDuel(ctx, duelID)
	if err != nil {
		return nil, err
	}

	if d.Status != models.DuelStatusWaiting {
		return d, nil
	}
	if time.Now().Before(d.ExpiresAt) {
		return d, nil
	}

	updated, err := e.duels.GuardedUpdate(ctx, duelID, d.Version, func(cur *models.Duel) {
		cur.Status = models.DuelStatusExpired
		cur.UpdatedAt = time.Now()
	})
	if errors.Is(err, store.ErrVersionConflict) {
		return e.getDuel(ctx, duelID)
	}
	if err != nil {
		return nil, err
	}

	e.publish(updated)
	log.Printf("[ENGINE] Duel %s expired", duelID)
	return updated, nil
}

// CancelDuel is the administrative transition to cancelled from waiting or
// countdown. Escrowed stakes are released unchanged.
func (e *DuelEngine) CancelDuel(ctx context.Context, duelID string) (*models.Duel, error) {
	d, err := e.getDuel(ctx, duelID)
	if err != nil {
		return nil, err
	}

	if d.Status.Terminal() {
		return nil, &StateConflictError{Msg: "duel is already settled"}
	}

	updated, err := e.duels.GuardedUpdate(ctx, duelID, d.Version, func(cur *models.Duel) {
		cur.Status = models.DuelStatusCancelled
		cur.UpdatedAt = time.Now()
	})
	if errors.Is(err, store.ErrVersionConflict) {
		return nil, &StateConflictError{Msg: "duel changed state before it could be cancelled"}
	}
	if err != nil {
		return nil, err
	}

	if d.Status == models.DuelStatusCountdown {
		e.releaseOrLog(ctx, d.PlayerA.ParticipantID, duelID, d.BetAmount)
		if d.PlayerB != nil {
			e.releaseOrLog(ctx, d.PlayerB.ParticipantID, duelID, d.BetAmount)
		}
	}

	e.publish(updated)
	log.Printf("[ENGINE] Duel %s cancelled", duelID)
	return updated, nil
}

// GetDuel returns the current duel state.
func (e *DuelEngine) GetDuel(ctx context.Context, duelID string) (*models.Duel, error) {
	return e.getDuel(ctx, duelID)
}

// ActiveDuels lists duels still open for joining.
func (e *DuelEngine) ActiveDuels(ctx context.Context) ([]*models.Duel, error) {
	return e.duels.ActiveWaiting(ctx, time.Now())
}

func (e *DuelEngine) getDuel(ctx context.Context, duelID string) (*models.Duel, error) {
	d, err := e.duels.Get(ctx, duelID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{Resource: "duel", ID: duelID}
	}
	return d, err
}

func (e *DuelEngine) publish(d *models.Duel) {
	if e.dispatcher != nil {
		e.dispatcher.Publish(d.Snapshot())
	}
}

func (e *DuelEngine) releaseOrLog(ctx context.Context, participantID, duelID string, amount int64) {
	if err := e.ledger.Release(ctx, participantID, duelID, amount); err != nil {
		log.Printf("[ENGINE] Failed to release %d points for %s (duel %s): %v", amount, participantID, duelID, err)
	}
}
