package creditledger

import "context"

// BalanceStore is the transactional document store the ledger is built on.
// One record per user, keyed by user id. Implementations must provide
// single-record atomic read-modify-write with optimistic concurrency;
// cross-record transactions are never required and must not be introduced.
type BalanceStore interface {
	// Get returns the balance record for a user, or found=false if none
	// exists yet.
	Get(ctx context.Context, userID string) (bal Balance, found bool, err error)

	// Create inserts the initial record for a user. If a record already
	// exists the existing record is returned unchanged with created=false
	// (first writer wins).
	Create(ctx context.Context, userID string, initial Balance) (bal Balance, created bool, err error)

	// Transact atomically applies fn to the current record and commits the
	// returned value. If fn returns an error the transaction aborts, nothing
	// is written, and the error is returned verbatim. On conflict the store
	// retries with backoff a bounded number of times, then surfaces
	// ErrTransactionConflict. Transact on a user without a record fails
	// with ErrNoBalance.
	Transact(ctx context.Context, userID string, fn func(Balance) (Balance, error)) (Balance, error)
}

// TransactionLog is the append-only audit record of every balance mutation.
// Entries are written once and never mutated.
type TransactionLog interface {
	// Append records a committed transaction.
	Append(ctx context.Context, tx Transaction) error

	// List returns a user's transactions, most recent first. A limit of
	// zero or less returns everything.
	List(ctx context.Context, userID string, limit int) ([]Transaction, error)
}
