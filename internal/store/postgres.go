package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/duelpoint/backend/internal/models"
)

const duelColumns = `id, channel_ref, player_a_id, player_a_name, player_b_id, player_b_name,
		bet_amount, status, outcome_bit, outcome_committed_at,
		winner_id, winner_name, loser_id, loser_name,
		created_at, updated_at, expires_at, countdown_ends_at, settled_at, version`

// PostgresDuelStore persists duels in postgres. Guarded updates lock the row
// and condition the write on the version the caller read, so a lost race
// surfaces as ErrVersionConflict instead of a silent overwrite.
type PostgresDuelStore struct {
	db *sql.DB
}

func NewPostgresDuelStore(db *sql.DB) *PostgresDuelStore {
	return &PostgresDuelStore{db: db}
}

func (s *PostgresDuelStore) Get(ctx context.Context, id string) (*models.Duel, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+duelColumns+`
		FROM duels
		WHERE id = $1`, id)
	return scanDuel(row)
}

func (s *PostgresDuelStore) Insert(ctx context.Context, d *models.Duel) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO duels (id, channel_ref, player_a_id, player_a_name, bet_amount, status,
			created_at, updated_at, expires_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.ChannelRef, d.PlayerA.ParticipantID, d.PlayerA.DisplayName,
		d.BetAmount, d.Status, d.CreatedAt, d.UpdatedAt, d.ExpiresAt, d.Version)
	if err != nil {
		return fmt.Errorf("insert duel: %w", err)
	}
	return nil
}

func (s *PostgresDuelStore) GuardedUpdate(ctx context.Context, id string, expectedVersion int, mutate func(*models.Duel)) (*models.Duel, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT `+duelColumns+`
		FROM duels
		WHERE id = $1
		FOR UPDATE`, id)
	d, err := scanDuel(row)
	if err != nil {
		return nil, err
	}
	if d.Version != expectedVersion {
		return nil, ErrVersionConflict
	}

	mutate(d)
	d.Version = expectedVersion + 1

	var (
		playerBID, playerBName                  sql.NullString
		winnerID, winnerName                    sql.NullString
		loserID, loserName                      sql.NullString
		outcomeBit                              sql.NullInt64
		outcomeCommittedAt, cdEndsAt, settledAt sql.NullTime
	)
	if d.PlayerB != nil {
		playerBID = sql.NullString{String: d.PlayerB.ParticipantID, Valid: true}
		playerBName = sql.NullString{String: d.PlayerB.DisplayName, Valid: true}
	}
	if d.Winner != nil {
		winnerID = sql.NullString{String: d.Winner.ParticipantID, Valid: true}
		winnerName = sql.NullString{String: d.Winner.DisplayName, Valid: true}
	}
	if d.Loser != nil {
		loserID = sql.NullString{String: d.Loser.ParticipantID, Valid: true}
		loserName = sql.NullString{String: d.Loser.DisplayName, Valid: true}
	}
	if d.Outcome != nil {
		outcomeBit = sql.NullInt64{Int64: int64(d.Outcome.Bit), Valid: true}
		outcomeCommittedAt = sql.NullTime{Time: d.Outcome.CommittedAt, Valid: true}
	}
	if d.CountdownEndsAt != nil {
		cdEndsAt = sql.NullTime{Time: *d.CountdownEndsAt, Valid: true}
	}
	if d.SettledAt != nil {
		settledAt = sql.NullTime{Time: *d.SettledAt, Valid: true}
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE duels
		SET player_b_id = $1, player_b_name = $2, status = $3,
			outcome_bit = $4, outcome_committed_at = $5,
			winner_id = $6, winner_name = $7, loser_id = $8, loser_name = $9,
			updated_at = $10, countdown_ends_at = $11, settled_at = $12, version = version + 1
		WHERE id = $13 AND version = $14`,
		playerBID, playerBName, d.Status,
		outcomeBit, outcomeCommittedAt,
		winnerID, winnerName, loserID, loserName,
		d.UpdatedAt, cdEndsAt, settledAt, id, expectedVersion)
	if err != nil {
		return nil, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rowsAffected == 0 {
		return nil, ErrVersionConflict
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *PostgresDuelStore) ActiveWaiting(ctx context.Context, now time.Time) ([]*models.Duel, error) {
	return s.queryDuels(ctx, `
		SELECT `+duelColumns+`
		FROM duels
		WHERE status = $1 AND expires_at > $2
		ORDER BY created_at`, models.DuelStatusWaiting, now)
}

func (s *PostgresDuelStore) WaitingPastDeadline(ctx context.Context, now time.Time) ([]*models.Duel, error) {
	return s.queryDuels(ctx, `
		SELECT `+duelColumns+`
		FROM duels
		WHERE status = $1 AND expires_at <= $2`, models.DuelStatusWaiting, now)
}

func (s *PostgresDuelStore) CountdownPastDeadline(ctx context.Context, now time.Time) ([]*models.Duel, error) {
	return s.queryDuels(ctx, `
		SELECT `+duelColumns+`
		FROM duels
		WHERE status = $1 AND countdown_ends_at <= $2`, models.DuelStatusCountdown, now)
}

func (s *PostgresDuelStore) CompletedUnsettled(ctx context.Context) ([]*models.Duel, error) {
	return s.queryDuels(ctx, `
		SELECT `+duelColumns+`
		FROM duels
		WHERE status = $1 AND settled_at IS NULL`, models.DuelStatusCompleted)
}

func (s *PostgresDuelStore) queryDuels(ctx context.Context, query string, args ...any) ([]*models.Duel, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Duel
	for rows.Next() {
		d, err := scanDuel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDuel(row rowScanner) (*models.Duel, error) {
	var (
		d                                       models.Duel
		playerBID, playerBName                  sql.NullString
		winnerID, winnerName                    sql.NullString
		loserID, loserName                      sql.NullString
		outcomeBit                              sql.NullInt64
		outcomeCommittedAt, cdEndsAt, settledAt sql.NullTime
	)

	err := row.Scan(
		&d.ID, &d.ChannelRef, &d.PlayerA.ParticipantID, &d.PlayerA.DisplayName,
		&playerBID, &playerBName,
		&d.BetAmount, &d.Status, &outcomeBit, &outcomeCommittedAt,
		&winnerID, &winnerName, &loserID, &loserName,
		&d.CreatedAt, &d.UpdatedAt, &d.ExpiresAt, &cdEndsAt, &settledAt, &d.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if playerBID.Valid {
		d.PlayerB = &models.PlayerRef{ParticipantID: playerBID.String, DisplayName: playerBName.String}
	}
	if winnerID.Valid {
		d.Winner = &models.PlayerRef{ParticipantID: winnerID.String, DisplayName: winnerName.String}
	}
	if loserID.Valid {
		d.Loser = &models.PlayerRef{ParticipantID: loserID.String, DisplayName: loserName.String}
	}
	if outcomeBit.Valid {
		d.Outcome = &models.Outcome{Bit: int(outcomeBit.Int64), CommittedAt: outcomeCommittedAt.Time}
	}
	if cdEndsAt.Valid {
		t := cdEndsAt.Time
		d.CountdownEndsAt = &t
	}
	if settledAt.Valid {
		t := settledAt.Time
		d.SettledAt = &t
	}
	return &d, nil
}

// PostgresLedgerStore persists participant accounts and an append-only ledger
// of balance movements, following the same optimistic locking discipline.
type PostgresLedgerStore struct {
	db *sql.DB
}

func NewPostgresLedgerStore(db *sql.DB) *PostgresLedgerStore {
	return &PostgresLedgerStore{db: db}
}

const accountColumns = `participant_id, display_name, balance, locked, wins, losses, total_winnings, version, created_at, updated_at`

func (s *PostgresLedgerStore) Account(ctx context.Context, participantID string) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE participant_id = $1`, participantID)
	return scanAccount(row)
}

func (s *PostgresLedgerStore) EnsureAccount(ctx context.Context, ref models.PlayerRef, startingBalance int64) (*models.Account, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (participant_id, display_name, balance, version, created_at, updated_at)
		VALUES ($1, $2, $3, 1, $4, $4)
		ON CONFLICT (participant_id) DO NOTHING`,
		ref.ParticipantID, ref.DisplayName, startingBalance, time.Now())
	if err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}
	return s.Account(ctx, ref.ParticipantID)
}

func (s *PostgresLedgerStore) GuardedAdjust(ctx context.Context, participantID string, expectedVersion int, refID string, mutate func(*models.Account) error) (*models.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE participant_id = $1
		FOR UPDATE`, participantID)
	a, err := scanAccount(row)
	if err != nil {
		return nil, err
	}
	if a.Version != expectedVersion {
		return nil, ErrVersionConflict
	}

	// A net movement is recorded at most once per duel and participant. If
	// one already exists this adjust was applied by an earlier attempt, so
	// skip it instead of re-running the mutation against a depleted account.
	var alreadyApplied bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM ledger_entries
			WHERE duel_id = $1 AND participant_id = $2
		)`, refID, participantID).Scan(&alreadyApplied)
	if err != nil {
		return nil, err
	}
	if alreadyApplied {
		return a, nil
	}

	totalBefore := a.Balance + a.Locked
	if err := mutate(a); err != nil {
		return nil, err
	}
	a.Version = expectedVersion + 1
	a.UpdatedAt = time.Now()

	if delta := a.Balance + a.Locked - totalBefore; delta != 0 {
		entryType := "CREDIT"
		if delta < 0 {
			entryType = "DEBIT"
		}
		if err := s.createLedgerEntry(tx, refID, participantID, delta, entryType, a.Balance); err != nil {
			return nil, err
		}
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = $1, locked = $2, wins = $3, losses = $4, total_winnings = $5,
			version = version + 1, updated_at = $6
		WHERE participant_id = $7 AND version = $8`,
		a.Balance, a.Locked, a.Wins, a.Losses, a.TotalWinnings,
		a.UpdatedAt, participantID, expectedVersion)
	if err != nil {
		return nil, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rowsAffected == 0 {
		return nil, ErrVersionConflict
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *PostgresLedgerStore) Top(ctx context.Context, limit int) ([]*models.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		ORDER BY balance DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresLedgerStore) createLedgerEntry(tx *sql.Tx, duelID, participantID string, amount int64, entryType string, balance int64) error {
	_, err := tx.Exec(`
		INSERT INTO ledger_entries (duel_id, participant_id, amount, entry_type, balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		duelID, participantID, amount, entryType, balance, time.Now())
	return err
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ParticipantID, &a.DisplayName, &a.Balance, &a.Locked,
		&a.Wins, &a.Losses, &a.TotalWinnings, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
