package credit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EntryType classifies ledger entries. Usage and refund entries are written
// by the meter; grant entries seed balances through administrative tooling.
type EntryType string

const (
	EntryUsage  EntryType = "usage"
	EntryRefund EntryType = "refund"
	EntryGrant  EntryType = "grant"
)

// Entry is one append-only ledger record. A user's balance is the running
// sum of entry amounts.
type Entry struct {
	ID        uuid.UUID
	UserID    string
	Amount    int // signed: negative for usage, positive for refund/grant
	Type      EntryType
	Reason    string
	RunID     string
	CreatedAt time.Time
}

// DB is the database handle interface the store needs.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Store is a database-backed reference implementation of the Ledger
// contract, usable with sqlite in development and postgres in production.
type Store struct {
	db DB
}

// NewStore creates a Store over an open database handle.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the ledger tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS credit_accounts (
			user_id    TEXT PRIMARY KEY,
			unlimited  BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS credit_entries (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			amount     INTEGER NOT NULL,
			entry_type TEXT NOT NULL,
			reason     TEXT NOT NULL DEFAULT '',
			run_id     TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_credit_entries_user ON credit_entries (user_id, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure ledger schema: %w", err)
		}
	}
	return nil
}

// GetBalance returns the running sum of the user's entries plus the
// unlimited flag.
func (s *Store) GetBalance(ctx context.Context, userID string) (Balance, error) {
	var unlimited bool
	err := s.db.QueryRowContext(ctx,
		`SELECT unlimited FROM credit_accounts WHERE user_id = $1`, userID,
	).Scan(&unlimited)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Balance{}, fmt.Errorf("get account: %w", err)
	}

	var remaining int
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM credit_entries WHERE user_id = $1`, userID,
	).Scan(&remaining)
	if err != nil {
		return Balance{}, fmt.Errorf("sum entries: %w", err)
	}

	return Balance{Remaining: remaining, Unlimited: unlimited}, nil
}

// Deduct appends a usage entry and returns the remaining balance.
func (s *Store) Deduct(ctx context.Context, userID string, amount int, reason, runID string) (int, error) {
	if err := s.append(ctx, userID, -amount, EntryUsage, reason, runID); err != nil {
		return 0, err
	}
	bal, err := s.GetBalance(ctx, userID)
	return bal.Remaining, err
}

// Add appends a refund entry and returns the remaining balance.
func (s *Store) Add(ctx context.Context, userID string, amount int, reason, runID string) (int, error) {
	if err := s.append(ctx, userID, amount, EntryRefund, reason, runID); err != nil {
		return 0, err
	}
	bal, err := s.GetBalance(ctx, userID)
	return bal.Remaining, err
}

// Grant seeds a user's balance.
func (s *Store) Grant(ctx context.Context, userID string, amount int, reason string) error {
	return s.append(ctx, userID, amount, EntryGrant, reason, "")
}

// SetUnlimited flips a user's unlimited flag.
func (s *Store) SetUnlimited(ctx context.Context, userID string, unlimited bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credit_accounts (user_id, unlimited) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET unlimited = $2`,
		userID, unlimited,
	)
	if err != nil {
		return fmt.Errorf("set unlimited: %w", err)
	}
	return nil
}

// History returns the user's most recent entries, newest first.
func (s *Store) History(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, amount, entry_type, reason, run_id, created_at
		FROM credit_entries WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var id string
		if err := rows.Scan(&id, &e.UserID, &e.Amount, &e.Type, &e.Reason, &e.RunID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.ID, _ = uuid.Parse(id)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) append(ctx context.Context, userID string, amount int, typ EntryType, reason, runID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credit_entries (id, user_id, amount, entry_type, reason, run_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New().String(), userID, amount, string(typ), reason, runID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("append %s entry: %w", typ, err)
	}
	return nil
}
