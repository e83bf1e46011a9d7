// Package memory provides in-memory balance store and transaction log
// implementations with the same optimistic-concurrency semantics as the
// durable stores. Intended for tests and single-process deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ineyio/creditledger"
)

const (
	maxRetries   = 32
	retryBackoff = 100 * time.Microsecond
)

// Store is an in-memory BalanceStore using per-record version numbers for
// optimistic concurrency.
type Store struct {
	mu      sync.RWMutex
	records map[string]*record
}

type record struct {
	bal     creditledger.Balance
	version uint64
}

var _ creditledger.BalanceStore = (*Store)(nil)

// NewStore creates an empty in-memory balance store.
func NewStore() *Store {
	return &Store{records: make(map[string]*record)}
}

// Get returns the balance record for a user.
func (s *Store) Get(_ context.Context, userID string) (creditledger.Balance, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[userID]
	if !ok {
		return creditledger.Balance{}, false, nil
	}
	return rec.bal, true, nil
}

// Create inserts the initial record. First writer wins.
func (s *Store) Create(_ context.Context, userID string, initial creditledger.Balance) (creditledger.Balance, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[userID]; ok {
		return rec.bal, false, nil
	}
	s.records[userID] = &record{bal: initial, version: 1}
	return initial, true, nil
}

// Transact applies fn under compare-and-swap: the record version read
// before fn must still be current at write time, otherwise the attempt is
// retried with backoff up to the retry budget.
func (s *Store) Transact(ctx context.Context, userID string, fn func(creditledger.Balance) (creditledger.Balance, error)) (creditledger.Balance, error) {
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return creditledger.Balance{}, err
		}

		s.mu.RLock()
		rec, ok := s.records[userID]
		if !ok {
			s.mu.RUnlock()
			return creditledger.Balance{}, creditledger.ErrNoBalance
		}
		before := rec.bal
		version := rec.version
		s.mu.RUnlock()

		after, err := fn(before)
		if err != nil {
			return creditledger.Balance{}, err
		}

		s.mu.Lock()
		if rec.version == version {
			rec.bal = after
			rec.version++
			s.mu.Unlock()
			return after, nil
		}
		s.mu.Unlock()

		time.Sleep(time.Duration(attempt+1) * retryBackoff)
	}
	return creditledger.Balance{}, creditledger.ErrTransactionConflict
}

// Log is an in-memory append-only TransactionLog.
type Log struct {
	mu      sync.RWMutex
	entries map[string][]creditledger.Transaction
}

var _ creditledger.TransactionLog = (*Log)(nil)

// NewLog creates an empty in-memory transaction log.
func NewLog() *Log {
	return &Log{entries: make(map[string][]creditledger.Transaction)}
}

// Append records a committed transaction.
func (l *Log) Append(_ context.Context, tx creditledger.Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[tx.UserID] = append(l.entries[tx.UserID], tx)
	return nil
}

// List returns a user's transactions, most recent first.
func (l *Log) List(_ context.Context, userID string, limit int) ([]creditledger.Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := l.entries[userID]
	out := make([]creditledger.Transaction, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
