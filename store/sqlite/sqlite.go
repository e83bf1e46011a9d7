// Package sqlite provides a durable BalanceStore and TransactionLog backed
// by a single SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/ineyio/creditledger"
)

const (
	maxRetries   = 5
	retryBackoff = 10 * time.Millisecond
)

// Store implements both creditledger.BalanceStore and
// creditledger.TransactionLog over one database file.
type Store struct {
	db *sql.DB
}

var (
	_ creditledger.BalanceStore   = (*Store)(nil)
	_ creditledger.TransactionLog = (*Store)(nil)
)

// New opens (creating if needed) the database at path and runs migrations.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}

	// SQLite is single-writer by design. A single shared connection lets
	// database/sql serialize writers instead of them fighting for file locks.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: set pragma: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

var migrations = []string{
	// 1: balance records and the append-only transaction log.
	`CREATE TABLE IF NOT EXISTS balances (
		user_id              TEXT PRIMARY KEY,
		fresh                INTEGER NOT NULL,
		carryover            INTEGER NOT NULL,
		carryover_expires_at INTEGER,
		purchased            INTEGER NOT NULL,
		tier                 TEXT NOT NULL,
		last_reset_at        INTEGER NOT NULL,
		updated_at           INTEGER NOT NULL,
		schema_version       INTEGER NOT NULL DEFAULT 2
	);
	CREATE TABLE IF NOT EXISTS transactions (
		id              TEXT PRIMARY KEY,
		user_id         TEXT NOT NULL,
		type            TEXT NOT NULL,
		amount          INTEGER NOT NULL,
		feature         TEXT NOT NULL DEFAULT '',
		model_tier      TEXT NOT NULL DEFAULT '',
		tokens_used     INTEGER NOT NULL DEFAULT 0,
		reason          TEXT NOT NULL DEFAULT '',
		delta_fresh     INTEGER NOT NULL DEFAULT 0,
		delta_carryover INTEGER NOT NULL DEFAULT 0,
		delta_purchased INTEGER NOT NULL DEFAULT 0,
		after_fresh     INTEGER NOT NULL,
		after_carryover INTEGER NOT NULL,
		after_purchased INTEGER NOT NULL,
		signature       TEXT NOT NULL DEFAULT '',
		timestamp       INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_user_time
		ON transactions (user_id, timestamp DESC);`,
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("sqlite: create migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("sqlite: read migration version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		version := i + 1
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("sqlite: begin migration %d: %w", version, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite: apply migration %d: %w", version, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
			version, time.Now().UnixNano()); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite: record migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("sqlite: commit migration %d: %w", version, err)
		}
	}
	return nil
}

// Get returns the balance record for a user. A legacy-shaped row is
// converted on the fly; the converted shape is persisted by the next
// Transact commit.
func (s *Store) Get(ctx context.Context, userID string) (creditledger.Balance, bool, error) {
	bal, found, err := s.getTx(ctx, s.db, userID)
	if err != nil {
		return creditledger.Balance{}, false, storeErr(err)
	}
	return bal, found, nil
}

// Create inserts the initial record. First writer wins.
func (s *Store) Create(ctx context.Context, userID string, initial creditledger.Balance) (creditledger.Balance, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO balances
			(user_id, fresh, carryover, carryover_expires_at, purchased, tier, last_reset_at, updated_at, schema_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO NOTHING`,
		userID, initial.Fresh, initial.Carryover, nanosPtr(initial.CarryoverExpiresAt),
		initial.Purchased, string(initial.Tier),
		initial.LastResetAt.UnixNano(), initial.UpdatedAt.UnixNano(), initial.Schema)
	if err != nil {
		return creditledger.Balance{}, false, storeErr(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return creditledger.Balance{}, false, storeErr(err)
	}
	if n > 0 {
		return initial, true, nil
	}

	existing, _, err := s.Get(ctx, userID)
	if err != nil {
		return creditledger.Balance{}, false, err
	}
	return existing, false, nil
}

// Transact applies fn inside one database transaction with bounded retry on
// lock contention. The record is re-read on every attempt, so fn never sees
// a stale balance.
func (s *Store) Transact(ctx context.Context, userID string, fn func(creditledger.Balance) (creditledger.Balance, error)) (creditledger.Balance, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return creditledger.Balance{}, err
		}

		after, err := s.transactOnce(ctx, userID, fn)
		if err == nil {
			return after, nil
		}
		if !isBusy(err) {
			return creditledger.Balance{}, err
		}

		lastErr = err
		time.Sleep(time.Duration(attempt+1) * retryBackoff)
	}
	return creditledger.Balance{}, fmt.Errorf("%w: %v", creditledger.ErrTransactionConflict, lastErr)
}

func (s *Store) transactOnce(ctx context.Context, userID string, fn func(creditledger.Balance) (creditledger.Balance, error)) (creditledger.Balance, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return creditledger.Balance{}, storeErr(err)
	}
	defer tx.Rollback()

	before, found, err := s.getTx(ctx, tx, userID)
	if err != nil {
		return creditledger.Balance{}, storeErr(err)
	}
	if !found {
		return creditledger.Balance{}, creditledger.ErrNoBalance
	}

	after, err := fn(before)
	if err != nil {
		// Abort: the callback's error propagates verbatim.
		return creditledger.Balance{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE balances SET
			fresh = ?, carryover = ?, carryover_expires_at = ?, purchased = ?,
			tier = ?, last_reset_at = ?, updated_at = ?, schema_version = ?
		WHERE user_id = ?`,
		after.Fresh, after.Carryover, nanosPtr(after.CarryoverExpiresAt), after.Purchased,
		string(after.Tier), after.LastResetAt.UnixNano(), after.UpdatedAt.UnixNano(),
		after.Schema, userID); err != nil {
		return creditledger.Balance{}, storeErr(err)
	}

	if err := tx.Commit(); err != nil {
		return creditledger.Balance{}, storeErr(err)
	}
	return after, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) getTx(ctx context.Context, q querier, userID string) (creditledger.Balance, bool, error) {
	var (
		bal       creditledger.Balance
		tier      string
		expiresAt sql.NullInt64
		lastReset int64
		updatedAt int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT user_id, fresh, carryover, carryover_expires_at, purchased,
		       tier, last_reset_at, updated_at, schema_version
		FROM balances WHERE user_id = ?`, userID).
		Scan(&bal.UserID, &bal.Fresh, &bal.Carryover, &expiresAt, &bal.Purchased,
			&tier, &lastReset, &updatedAt, &bal.Schema)
	if errors.Is(err, sql.ErrNoRows) {
		return creditledger.Balance{}, false, nil
	}
	if err != nil {
		return creditledger.Balance{}, false, err
	}

	bal.Tier = creditledger.Tier(tier)
	bal.LastResetAt = time.Unix(0, lastReset).UTC()
	bal.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if expiresAt.Valid {
		t := time.Unix(0, expiresAt.Int64).UTC()
		bal.CarryoverExpiresAt = &t
	}

	if bal.Schema < creditledger.BalanceSchemaVersion {
		// Legacy rows stored three unlabeled pools in the same columns.
		bal = creditledger.MigrateLegacy(creditledger.LegacyBalance{
			UserID:      bal.UserID,
			Limited:     bal.Fresh,
			Bonus:       bal.Carryover,
			Paid:        bal.Purchased,
			Tier:        bal.Tier,
			LastResetAt: bal.LastResetAt,
		}, time.Now().UTC())
	}

	return bal, true, nil
}

// Append records a committed transaction.
func (s *Store) Append(ctx context.Context, tx creditledger.Transaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions
			(id, user_id, type, amount, feature, model_tier, tokens_used, reason,
			 delta_fresh, delta_carryover, delta_purchased,
			 after_fresh, after_carryover, after_purchased, signature, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.UserID, string(tx.Type), tx.Amount, tx.Feature, string(tx.ModelTier),
		tx.TokensUsed, tx.Reason,
		tx.Delta.Fresh, tx.Delta.Carryover, tx.Delta.Purchased,
		tx.After.Fresh, tx.After.Carryover, tx.After.Purchased,
		tx.Signature, tx.Timestamp.UnixNano())
	if err != nil {
		return storeErr(err)
	}
	return nil
}

// List returns a user's transactions, most recent first.
func (s *Store) List(ctx context.Context, userID string, limit int) ([]creditledger.Transaction, error) {
	query := `
		SELECT id, user_id, type, amount, feature, model_tier, tokens_used, reason,
		       delta_fresh, delta_carryover, delta_purchased,
		       after_fresh, after_carryover, after_purchased, signature, timestamp
		FROM transactions WHERE user_id = ?
		ORDER BY timestamp DESC, rowid DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var out []creditledger.Transaction
	for rows.Next() {
		var (
			tx        creditledger.Transaction
			typ       string
			modelTier string
			ts        int64
		)
		if err := rows.Scan(&tx.ID, &tx.UserID, &typ, &tx.Amount, &tx.Feature, &modelTier,
			&tx.TokensUsed, &tx.Reason,
			&tx.Delta.Fresh, &tx.Delta.Carryover, &tx.Delta.Purchased,
			&tx.After.Fresh, &tx.After.Carryover, &tx.After.Purchased,
			&tx.Signature, &ts); err != nil {
			return nil, storeErr(err)
		}
		tx.Type = creditledger.TransactionType(typ)
		tx.ModelTier = creditledger.ModelTier(modelTier)
		tx.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}

func nanosPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// storeErr classifies driver failures as ErrStoreUnavailable, preserving
// abort errors and busy errors for the retry loop.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if isBusy(err) ||
		errors.Is(err, creditledger.ErrNoBalance) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", creditledger.ErrStoreUnavailable, err)
}
