package models

import "time"

// Account is a participant's point balance. Locked holds stakes reserved for
// duels in countdown; locked points cannot be wagered again until the duel
// settles or is cancelled.
type Account struct {
	ParticipantID string    `json:"participant_id" db:"participant_id"`
	DisplayName   string    `json:"display_name" db:"display_name"`
	Balance       int64     `json:"balance" db:"balance"`
	Locked        int64     `json:"locked" db:"locked"`
	Wins          int       `json:"wins" db:"wins"`
	Losses        int       `json:"losses" db:"losses"`
	TotalWinnings int64     `json:"total_winnings" db:"total_winnings"`
	Version       int       `json:"version" db:"version"` // for optimistic locking
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// LedgerEntry records a net point movement (balance plus locked) caused by a
// duel. Reserving and releasing a stake shift points between balance and
// locked without changing the total, so only settlement writes entries: one
// DEBIT for the loser and one matching CREDIT for the winner. At most one
// entry exists per duel and participant, which is what makes re-driving a
// settlement safe.
type LedgerEntry struct {
	ID            int64     `json:"id" db:"id"`
	DuelID        string    `json:"duel_id" db:"duel_id"`
	ParticipantID string    `json:"participant_id" db:"participant_id"`
	Amount        int64     `json:"amount" db:"amount"` // net movement in points
	EntryType     string    `json:"entry_type" db:"entry_type"` // DEBIT or CREDIT
	Balance       int64     `json:"balance" db:"balance"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
