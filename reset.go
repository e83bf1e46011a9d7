package creditledger

import "time"

// resetDue reports whether an allocation reset is due for the balance.
// Calendar comparisons are made in UTC.
func resetDue(b Balance, pol AllocationPolicy, current Tier, now time.Time) bool {
	// A tier change forces an immediate re-allocation regardless of period.
	if b.Tier != current {
		return true
	}

	last := b.LastResetAt.UTC()
	now = now.UTC()

	switch pol.Period {
	case PeriodDaily:
		ly, lm, ld := last.Date()
		ny, nm, nd := now.Date()
		return time.Date(ly, lm, ld, 0, 0, 0, 0, time.UTC).
			Before(time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC))
	case PeriodMonthly:
		return last.Year()*12+int(last.Month()) < now.Year()*12+int(now.Month())
	default:
		return false
	}
}

// resetOutcome describes what a reset did, for transaction logging.
type resetOutcome struct {
	applied bool
	expired int64 // carryover credits discarded because their expiry passed
	carried int64 // fresh credits moved into the carryover bucket
	granted int64 // new fresh allocation
}

// applyReset performs the reset protocol on the balance in place. It must be
// called inside the store transaction that will commit the balance.
//
// Expired carryover is discarded before any new carryover is computed. For
// carryover-eligible monthly tiers the unused fresh allocation moves into the
// carryover bucket with an expiry at the end of the last day of the month
// after next. Purchased credits are never touched.
func applyReset(b *Balance, pol AllocationPolicy, current Tier, now time.Time) resetOutcome {
	now = now.UTC()

	var expired int64
	if b.carryoverExpired(now) {
		expired = b.Carryover
	}
	b.expireCarryover(now)

	var carried int64
	if pol.AllowCarryover && pol.Period == PeriodMonthly && b.Fresh > 0 {
		carried = b.Fresh
		b.Carryover += carried
		exp := endOfMonthAfterNext(now)
		b.CarryoverExpiresAt = &exp
	}

	b.Fresh = pol.Amount
	b.Tier = current
	if now.After(b.LastResetAt) {
		b.LastResetAt = now
	}
	b.UpdatedAt = now
	b.Schema = BalanceSchemaVersion

	return resetOutcome{applied: true, expired: expired, carried: carried, granted: pol.Amount}
}

// endOfMonthAfterNext returns the last instant of the last day of the month
// after next, i.e. two full calendar months of grace from the given time.
func endOfMonthAfterNext(now time.Time) time.Time {
	now = now.UTC()
	firstOfFollowing := time.Date(now.Year(), now.Month()+3, 1, 0, 0, 0, 0, time.UTC)
	return firstOfFollowing.Add(-time.Nanosecond)
}

// newBalance builds the initial record for a user's first use, granting the
// current tier's full allocation.
func newBalance(userID string, pol AllocationPolicy, tier Tier, now time.Time) Balance {
	now = now.UTC()
	return Balance{
		UserID:      userID,
		Fresh:       pol.Amount,
		Tier:        tier,
		LastResetAt: now,
		UpdatedAt:   now,
		Schema:      BalanceSchemaVersion,
	}
}
