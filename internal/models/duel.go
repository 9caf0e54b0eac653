package models

import (
	"time"
)

type DuelStatus string

const (
	DuelStatusWaiting   DuelStatus = "waiting"
	DuelStatusCountdown DuelStatus = "countdown"
	DuelStatusCompleted DuelStatus = "completed"
	DuelStatusExpired   DuelStatus = "expired"
	DuelStatusCancelled DuelStatus = "cancelled"
)

// Terminal reports whether a duel in this status can never transition again.
func (s DuelStatus) Terminal() bool {
	return s == DuelStatusCompleted || s == DuelStatusExpired || s == DuelStatusCancelled
}

// PlayerRef identifies a participant as resolved by the calling transport.
type PlayerRef struct {
	ParticipantID string `json:"participant_id" db:"participant_id"`
	DisplayName   string `json:"display_name" db:"display_name"`
}

// Outcome is the coin flip result, committed once when the countdown begins
// and never recomputed afterwards.
type Outcome struct {
	Bit         int       `json:"bit" db:"bit"` // 0 = player A wins, 1 = player B wins
	CommittedAt time.Time `json:"committed_at" db:"committed_at"`
}

type Duel struct {
	ID              string     `json:"id" db:"id"`
	ChannelRef      string     `json:"channel_ref" db:"channel_ref"`
	PlayerA         PlayerRef  `json:"player_a"`
	PlayerB         *PlayerRef `json:"player_b,omitempty"`
	BetAmount       int64      `json:"bet_amount" db:"bet_amount"`
	Status          DuelStatus `json:"status" db:"status"`
	Outcome         *Outcome   `json:"outcome,omitempty"`
	Winner          *PlayerRef `json:"winner,omitempty"`
	Loser           *PlayerRef `json:"loser,omitempty"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
	ExpiresAt       time.Time  `json:"expires_at" db:"expires_at"`
	CountdownEndsAt *time.Time `json:"countdown_ends_at,omitempty" db:"countdown_ends_at"`
	SettledAt       *time.Time `json:"settled_at,omitempty" db:"settled_at"`
	Version         int        `json:"version" db:"version"` // for optimistic locking
}

// DuelSnapshot is the wire shape published to observers after every
// successful transition. Consumers must treat snapshots as idempotent state
// and discard duplicates or stale versions.
type DuelSnapshot struct {
	ID              string     `json:"id"`
	Status          DuelStatus `json:"status"`
	PlayerA         PlayerRef  `json:"player_a"`
	PlayerB         *PlayerRef `json:"player_b,omitempty"`
	BetAmount       int64      `json:"bet_amount"`
	Winner          *PlayerRef `json:"winner,omitempty"`
	Loser           *PlayerRef `json:"loser,omitempty"`
	ExpiresAt       time.Time  `json:"expires_at"`
	CountdownEndsAt *time.Time `json:"countdown_ends_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
	Version         int        `json:"version"`
}

func (d *Duel) Snapshot() DuelSnapshot {
	return DuelSnapshot{
		ID:              d.ID,
		Status:          d.Status,
		PlayerA:         d.PlayerA,
		PlayerB:         d.PlayerB,
		BetAmount:       d.BetAmount,
		Winner:          d.Winner,
		Loser:           d.Loser,
		ExpiresAt:       d.ExpiresAt,
		CountdownEndsAt: d.CountdownEndsAt,
		UpdatedAt:       d.UpdatedAt,
		Version:         d.Version,
	}
}

// Clone returns a deep copy so callers can never mutate stored state directly.
func (d *Duel) Clone() *Duel {
	c := *d
	if d.PlayerB != nil {
		b := *d.PlayerB
		c.PlayerB = &b
	}
	if d.Outcome != nil {
		o := *d.Outcome
		c.Outcome = &o
	}
	if d.Winner != nil {
		w := *d.Winner
		c.Winner = &w
	}
	if d.Loser != nil {
		l := *d.Loser
		c.Loser = &l
	}
	if d.CountdownEndsAt != nil {
		t := *d.CountdownEndsAt
		c.CountdownEndsAt = &t
	}
	if d.SettledAt != nil {
		t := *d.SettledAt
		c.SettledAt = &t
	}
	return &c
}
