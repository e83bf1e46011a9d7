package creditledger

import "time"

// BalanceSchemaVersion is the current balance record shape. Records with an
// older version are converted exactly once at read time via MigrateLegacy.
const BalanceSchemaVersion = 2

// Balance is the authoritative per-user credit record. It is owned
// exclusively by the Ledger and mutated only through its reset, deduction
// and adjustment operations.
type Balance struct {
	UserID string `json:"user_id"`

	// Fresh is the current period's allocation bucket.
	Fresh int64 `json:"fresh"`

	// Carryover is unused fresh allocation rolled over from prior periods.
	// When CarryoverExpiresAt is in the past the bucket reads as zero and is
	// zeroed before any deduction is honored.
	Carryover          int64      `json:"carryover"`
	CarryoverExpiresAt *time.Time `json:"carryover_expires_at,omitempty"`

	// Purchased never expires and is never touched by resets.
	Purchased int64 `json:"purchased"`

	// Tier active at the last reset; a mismatch with the caller-supplied
	// tier forces an out-of-cycle reset.
	Tier Tier `json:"tier"`

	LastResetAt time.Time `json:"last_reset_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Schema int `json:"schema"`
}

// Snapshot returns the bucket view of the balance, with expired carryover
// read as zero.
func (b Balance) Snapshot() BalanceSnapshot {
	carry := b.Carryover
	if b.carryoverExpired(time.Now().UTC()) {
		carry = 0
	}
	return BalanceSnapshot{Fresh: b.Fresh, Carryover: carry, Purchased: b.Purchased}
}

// Total returns the combined balance, recomputed from the buckets.
func (b Balance) Total() int64 {
	return b.Fresh + b.Carryover + b.Purchased
}

func (b Balance) carryoverExpired(now time.Time) bool {
	return b.CarryoverExpiresAt != nil && now.After(*b.CarryoverExpiresAt)
}

// expireCarryover zeroes an expired carryover bucket. Returns true if the
// balance changed.
func (b *Balance) expireCarryover(now time.Time) bool {
	if !b.carryoverExpired(now) {
		return false
	}
	b.Carryover = 0
	b.CarryoverExpiresAt = nil
	b.UpdatedAt = now
	return true
}

// LegacyBalance is the pre-bucketed record shape (schema version 1): three
// unlabeled numeric pools without carryover expiry.
type LegacyBalance struct {
	UserID      string    `json:"user_id"`
	Limited     int64     `json:"limited"`
	Bonus       int64     `json:"bonus"`
	Paid        int64     `json:"paid"`
	Tier        Tier      `json:"tier"`
	LastResetAt time.Time `json:"last_reset_at"`
}

// MigrateLegacy converts a legacy record into the current shape. The limited
// pool becomes the fresh bucket, the bonus pool becomes carryover with the
// standard two-month grace expiry counted from the migration, and the paid
// pool becomes purchased. Stores invoke this exactly once when a legacy
// record is detected and persist the converted shape on the next commit.
func MigrateLegacy(l LegacyBalance, now time.Time) Balance {
	b := Balance{
		UserID:      l.UserID,
		Fresh:       l.Limited,
		Carryover:   l.Bonus,
		Purchased:   l.Paid,
		Tier:        l.Tier,
		LastResetAt: l.LastResetAt,
		UpdatedAt:   now,
		Schema:      BalanceSchemaVersion,
	}
	if b.Carryover > 0 {
		exp := endOfMonthAfterNext(now)
		b.CarryoverExpiresAt = &exp
	}
	return b
}
