package creditledger

import "time"

// Meter observes ledger events for monitoring/logging.
type Meter interface {
	// OnCharge is called after a deduction commits.
	OnCharge(event ChargeEvent)

	// OnDenied is called when a charge is denied for insufficient credits.
	// This is telemetry only; a denied attempt never produces a ledger entry.
	OnDenied(event DeniedEvent)

	// OnReset is called after an allocation reset commits.
	OnReset(event ResetEvent)

	// OnAdjust is called after a purchase, refund or admin adjustment commits.
	OnAdjust(event AdjustEvent)
}

// ChargeEvent describes a committed deduction.
type ChargeEvent struct {
	UserID    string
	Tier      Tier
	ModelTier ModelTier
	Feature   string
	Credits   int64
	Tokens    int64
	Balance   BalanceSnapshot
	Duration  time.Duration
}

// DeniedEvent describes a charge denied for insufficient credits.
type DeniedEvent struct {
	UserID    string
	Tier      Tier
	ModelTier ModelTier
	Needed    int64
	Available int64
}

// ResetEvent describes a committed allocation reset.
type ResetEvent struct {
	UserID     string
	Tier       Tier
	Granted    int64
	Carried    int64
	TierChange bool
	Balance    BalanceSnapshot
}

// AdjustEvent describes a committed purchase, refund or admin adjustment.
type AdjustEvent struct {
	UserID  string
	Type    TransactionType
	Amount  int64
	Reason  string
	Balance BalanceSnapshot
}
