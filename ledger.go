package creditledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Ledger orchestrates allocation resets, ordered deductions and adjustments
// against the balance store, and writes the append-only transaction log.
//
// The Ledger holds no mutable shared state of its own: all authoritative
// state lives in the store, and concurrency safety is delegated to the
// store's single-record transaction primitive.
type Ledger struct {
	cfg   Config
	store BalanceStore
	log   TransactionLog
	meter Meter
	now   func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithMeter sets the meter.
func WithMeter(m Meter) Option {
	return func(l *Ledger) { l.meter = m }
}

// WithClock sets the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a Ledger over the given store and transaction log.
// A NoopMeter and the real clock are used unless overridden via options.
func New(cfg Config, store BalanceStore, log TransactionLog, opts ...Option) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("creditledger: a balance store is required")
	}
	if log == nil {
		return nil, fmt.Errorf("creditledger: a transaction log is required")
	}

	l := &Ledger{cfg: cfg, store: store, log: log}

	for _, opt := range opts {
		opt(l)
	}

	// Apply defaults after options.
	if l.meter == nil {
		l.meter = noopMeter{}
	}
	if l.now == nil {
		l.now = time.Now
	}

	return l, nil
}

// CanUseModel reports whether a subscription tier may use a model tier.
func (l *Ledger) CanUseModel(tier Tier, mt ModelTier) bool {
	return l.cfg.Tiers.CanUseModel(tier, mt)
}

// EstimateCost computes the credit cost of a usage event without touching
// any balance.
func (l *Ledger) EstimateCost(u Usage) (int64, Breakdown, error) {
	return l.cfg.Pricing.Cost(u)
}

// Balance returns the user's bucket snapshot, applying any due allocation
// reset and carryover expiry first. The record is created lazily on first
// use with the tier's full allocation.
func (l *Ledger) Balance(ctx context.Context, userID string, tier Tier) (BalanceSnapshot, error) {
	const op = "balance"

	pol, err := l.cfg.Tiers.PolicyFor(tier)
	if err != nil {
		return BalanceSnapshot{}, &LedgerError{Err: err, Op: op, UserID: userID}
	}
	if err := l.ensure(ctx, userID, pol, tier); err != nil {
		return BalanceSnapshot{}, &LedgerError{Err: err, Op: op, UserID: userID}
	}

	var pending []Transaction
	var resetEv *ResetEvent

	bal, err := l.store.Transact(ctx, userID, func(b Balance) (Balance, error) {
		pending, resetEv = l.applyLifecycle(&b, pol, tier, l.now().UTC())
		return b, nil
	})
	if err != nil {
		return BalanceSnapshot{}, &LedgerError{Err: err, Op: op, UserID: userID}
	}
	if err := l.append(ctx, pending); err != nil {
		return BalanceSnapshot{}, &LedgerError{Err: err, Op: op, UserID: userID}
	}
	l.emitReset(resetEv)

	return snap(bal), nil
}

// ChargeUsage converts a usage event into credits and atomically deducts
// them in bucket order (fresh, then carryover, then purchased). A due reset
// is applied inside the same store transaction, so a stale read never
// authorizes a deduction. On insufficient balance the deduction is not
// applied, no deduction is logged, and ErrInsufficientCredits is returned;
// any reset that became due still commits.
func (l *Ledger) ChargeUsage(ctx context.Context, userID string, u Usage, tier Tier) (ChargeResult, error) {
	const op = "charge"
	start := l.now()

	pol, err := l.cfg.Tiers.PolicyFor(tier)
	if err != nil {
		return ChargeResult{}, &LedgerError{Err: err, Op: op, UserID: userID}
	}

	// Fail fast before touching the store.
	cost, bd, err := l.cfg.Pricing.Cost(u)
	if err != nil {
		return ChargeResult{}, &LedgerError{Err: err, Op: op, UserID: userID}
	}

	if err := l.ensure(ctx, userID, pol, tier); err != nil {
		return ChargeResult{}, &LedgerError{Err: err, Op: op, UserID: userID}
	}

	var pending []Transaction
	var resetEv *ResetEvent
	var denied *DeniedEvent

	bal, err := l.store.Transact(ctx, userID, func(b Balance) (Balance, error) {
		denied = nil
		now := l.now().UTC()

		pending, resetEv = l.applyLifecycle(&b, pol, tier, now)

		// A zero-cost charge is a no-op that still succeeds.
		if cost == 0 {
			return b, nil
		}

		available := b.Fresh + b.Carryover + b.Purchased
		if available < cost {
			denied = &DeniedEvent{
				UserID:    userID,
				Tier:      tier,
				ModelTier: u.ModelTier,
				Needed:    cost,
				Available: available,
			}
			// Commit the lifecycle changes; the deduction is not applied.
			return b, nil
		}

		delta := deductOrdered(&b, cost)
		b.UpdatedAt = now

		tx := l.newTx(userID, TxDeduction, -cost, delta, snap(b), now)
		tx.Feature = u.Feature
		tx.ModelTier = u.ModelTier
		tx.TokensUsed = u.TotalTokens()
		pending = append(pending, tx)

		return b, nil
	})
	if err != nil {
		return ChargeResult{}, &LedgerError{Err: err, Op: op, UserID: userID}
	}
	if err := l.append(ctx, pending); err != nil {
		return ChargeResult{}, &LedgerError{Err: err, Op: op, UserID: userID}
	}
	l.emitReset(resetEv)

	if denied != nil {
		l.meter.OnDenied(*denied)
		return ChargeResult{}, &LedgerError{Err: ErrInsufficientCredits, Op: op, UserID: userID}
	}

	if cost > 0 {
		l.meter.OnCharge(ChargeEvent{
			UserID:    userID,
			Tier:      tier,
			ModelTier: u.ModelTier,
			Feature:   u.Feature,
			Credits:   cost,
			Tokens:    u.TotalTokens(),
			Balance:   snap(bal),
			Duration:  l.now().Sub(start),
		})
	}

	return ChargeResult{Deducted: cost, Breakdown: bd, Balance: snap(bal)}, nil
}

// PurchaseCredits atomically adds permanently purchased credits. The amount
// must be a positive integer, and the user's tier must allow purchases.
func (l *Ledger) PurchaseCredits(ctx context.Context, userID string, amount int64, reason string) (BalanceSnapshot, error) {
	return l.adjust(ctx, "purchase", userID, TxPurchase, amount, reason, true)
}

// AdminAdjust atomically adds credits to the purchased bucket as an
// administrative correction, bypassing the tier's purchase permission.
func (l *Ledger) AdminAdjust(ctx context.Context, userID string, amount int64, reason string) (BalanceSnapshot, error) {
	return l.adjust(ctx, "admin_adjust", userID, TxAdminAdjustment, amount, reason, false)
}

// Refund reverses a prior deduction by crediting the purchased bucket.
// When originalTxID is supplied, the refund is validated against that
// deduction and must not exceed the amount originally deducted.
func (l *Ledger) Refund(ctx context.Context, userID string, amount int64, originalTxID string) (BalanceSnapshot, error) {
	const op = "refund"

	if amount <= 0 {
		return BalanceSnapshot{}, &LedgerError{Err: ErrInvalidAmount, Op: op, UserID: userID}
	}

	reason := ""
	if originalTxID != "" {
		orig, err := l.findTx(ctx, userID, originalTxID)
		if err != nil {
			return BalanceSnapshot{}, &LedgerError{Err: err, Op: op, UserID: userID}
		}
		if orig.Type != TxDeduction || amount > -orig.Amount {
			return BalanceSnapshot{}, &LedgerError{
				Err:    fmt.Errorf("%w: refund exceeds original deduction %s", ErrInvalidAmount, originalTxID),
				Op:     op,
				UserID: userID,
			}
		}
		reason = "refund of " + originalTxID
	}

	return l.adjust(ctx, op, userID, TxRefund, amount, reason, false)
}

// History returns the user's transactions, most recent first.
func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	txs, err := l.log.List(ctx, userID, limit)
	if err != nil {
		return nil, &LedgerError{Err: err, Op: "history", UserID: userID}
	}
	return txs, nil
}

// ensure lazily creates the balance record with the tier's full allocation.
// Creation is logged as the user's first allocation transaction.
func (l *Ledger) ensure(ctx context.Context, userID string, pol AllocationPolicy, tier Tier) error {
	_, found, err := l.store.Get(ctx, userID)
	if err != nil {
		return err
	}
	if found {
		return nil
	}

	now := l.now().UTC()
	bal, created, err := l.store.Create(ctx, userID, newBalance(userID, pol, tier, now))
	if err != nil {
		return err
	}
	if !created {
		// Lost the creation race; the winner logged the allocation.
		return nil
	}

	tx := l.newTx(userID, TxAllocation, pol.Amount, BucketDelta{Fresh: pol.Amount}, snap(bal), now)
	if err := l.log.Append(ctx, tx); err != nil {
		return err
	}
	l.meter.OnReset(ResetEvent{
		UserID:  userID,
		Tier:    tier,
		Granted: pol.Amount,
		Balance: snap(bal),
	})
	return nil
}

// applyLifecycle applies carryover expiry and any due reset to the balance
// in place, returning the transaction entries to append once the mutation
// commits. Must be called inside the store transaction.
func (l *Ledger) applyLifecycle(b *Balance, pol AllocationPolicy, tier Tier, now time.Time) ([]Transaction, *ResetEvent) {
	var entries []Transaction

	if !resetDue(*b, pol, tier, now) {
		if expired := b.Carryover; b.carryoverExpired(now) && expired > 0 {
			b.expireCarryover(now)
			entries = append(entries, l.newTx(b.UserID, TxCarryover, -expired,
				BucketDelta{Carryover: -expired}, snap(*b), now))
		}
		return entries, nil
	}

	tierChange := b.Tier != tier
	freshBefore := b.Fresh
	out := applyReset(b, pol, tier, now)

	if out.expired > 0 {
		entries = append(entries, l.newTx(b.UserID, TxCarryover, -out.expired,
			BucketDelta{Carryover: -out.expired},
			BalanceSnapshot{Fresh: freshBefore, Carryover: b.Carryover - out.carried, Purchased: b.Purchased},
			now))
	}
	if out.carried > 0 {
		entries = append(entries, l.newTx(b.UserID, TxCarryover, 0,
			BucketDelta{Fresh: -out.carried, Carryover: out.carried},
			BalanceSnapshot{Fresh: 0, Carryover: b.Carryover, Purchased: b.Purchased},
			now))
		freshBefore = 0
	}
	entries = append(entries, l.newTx(b.UserID, TxAllocation, out.granted-freshBefore,
		BucketDelta{Fresh: out.granted - freshBefore}, snap(*b), now))

	return entries, &ResetEvent{
		UserID:     b.UserID,
		Tier:       tier,
		Granted:    out.granted,
		Carried:    out.carried,
		TierChange: tierChange,
		Balance:    snap(*b),
	}
}

// adjust is the shared mechanics of purchase, refund and admin adjustment:
// it atomically increments the purchased bucket only.
func (l *Ledger) adjust(ctx context.Context, op, userID string, typ TransactionType, amount int64, reason string, requirePurchase bool) (BalanceSnapshot, error) {
	if amount <= 0 {
		return BalanceSnapshot{}, &LedgerError{Err: ErrInvalidAmount, Op: op, UserID: userID}
	}

	var pending []Transaction
	var resetEv *ResetEvent

	bal, err := l.store.Transact(ctx, userID, func(b Balance) (Balance, error) {
		now := l.now().UTC()

		pol, err := l.cfg.Tiers.PolicyFor(b.Tier)
		if err != nil {
			return Balance{}, err
		}
		if requirePurchase && !pol.AllowPurchase {
			return Balance{}, ErrPurchaseNotAllowed
		}

		pending, resetEv = l.applyLifecycle(&b, pol, b.Tier, now)

		b.Purchased += amount
		b.UpdatedAt = now

		tx := l.newTx(userID, typ, amount, BucketDelta{Purchased: amount}, snap(b), now)
		tx.Reason = reason
		pending = append(pending, tx)

		return b, nil
	})
	if err != nil {
		return BalanceSnapshot{}, &LedgerError{Err: err, Op: op, UserID: userID}
	}
	if err := l.append(ctx, pending); err != nil {
		return BalanceSnapshot{}, &LedgerError{Err: err, Op: op, UserID: userID}
	}
	l.emitReset(resetEv)

	l.meter.OnAdjust(AdjustEvent{
		UserID:  userID,
		Type:    typ,
		Amount:  amount,
		Reason:  reason,
		Balance: snap(bal),
	})

	return snap(bal), nil
}

func (l *Ledger) findTx(ctx context.Context, userID, txID string) (Transaction, error) {
	txs, err := l.log.List(ctx, userID, 0)
	if err != nil {
		return Transaction{}, err
	}
	for _, tx := range txs {
		if tx.ID == txID {
			return tx, nil
		}
	}
	return Transaction{}, fmt.Errorf("%w: transaction %s not found", ErrInvalidAmount, txID)
}

// append writes committed entries to the transaction log. A failure here is
// surfaced loudly: the balance mutation has committed and the caller must
// not treat the operation as cleanly applied until the log catches up.
func (l *Ledger) append(ctx context.Context, pending []Transaction) error {
	for _, tx := range pending {
		if err := l.log.Append(ctx, tx); err != nil {
			return fmt.Errorf("append audit log after commit: %w", err)
		}
	}
	return nil
}

func (l *Ledger) emitReset(ev *ResetEvent) {
	if ev != nil {
		l.meter.OnReset(*ev)
	}
}

func (l *Ledger) newTx(userID string, typ TransactionType, amount int64, delta BucketDelta, after BalanceSnapshot, now time.Time) Transaction {
	return Transaction{
		ID:        uuid.New().String(),
		UserID:    userID,
		Type:      typ,
		Amount:    amount,
		Delta:     delta,
		After:     after,
		Timestamp: now,
	}
}

// deductOrdered reduces the buckets in strict order (fresh, carryover,
// purchased) by min(remaining, bucket) each, so soonest-expiring credits
// are consumed before permanent ones. Callers must have verified that the
// total covers needed.
func deductOrdered(b *Balance, needed int64) BucketDelta {
	var d BucketDelta
	for _, pair := range []struct {
		bucket *int64
		delta  *int64
	}{
		{&b.Fresh, &d.Fresh},
		{&b.Carryover, &d.Carryover},
		{&b.Purchased, &d.Purchased},
	} {
		if needed <= 0 {
			break
		}
		n := min(needed, *pair.bucket)
		*pair.bucket -= n
		*pair.delta -= n
		needed -= n
	}
	return d
}

// snap builds a bucket snapshot directly from the record, without the
// expiry re-check Balance.Snapshot performs. Engine code always expires
// carryover explicitly before snapshotting.
func snap(b Balance) BalanceSnapshot {
	return BalanceSnapshot{Fresh: b.Fresh, Carryover: b.Carryover, Purchased: b.Purchased}
}

// noopMeter is a meter that does nothing.
type noopMeter struct{}

func (noopMeter) OnCharge(ChargeEvent) {}
func (noopMeter) OnDenied(DeniedEvent) {}
func (noopMeter) OnReset(ResetEvent)   {}
func (noopMeter) OnAdjust(AdjustEvent) {}
