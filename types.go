package creditledger

import "time"

// ModelTier identifies an AI capability/cost class (e.g. "lite", "pro").
// Each model tier carries its own per-token pricing.
type ModelTier string

// Modality identifies the input modality of a request.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
	ModalityVideo Modality = "video"
	ModalityAudio Modality = "audio"
)

// Usage describes one AI request for pricing purposes.
type Usage struct {
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	ModelTier    ModelTier `json:"model_tier"`

	// Modality of the input. Empty means text.
	Modality Modality `json:"modality,omitempty"`

	UseCaching   bool  `json:"use_caching,omitempty"`
	CachedTokens int64 `json:"cached_tokens,omitempty"`

	UseGroundingSearch bool `json:"use_grounding_search,omitempty"`
	UseGroundingMaps   bool `json:"use_grounding_maps,omitempty"`

	// Feature is an optional caller-supplied label recorded on the
	// deduction transaction (e.g. "chat", "summarize").
	Feature string `json:"feature,omitempty"`
}

// TotalTokens returns the token count charged against a usage event.
func (u Usage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

// PromptSize is the pricing bracket selected by total input token count.
type PromptSize string

const (
	PromptSmall PromptSize = "small"
	PromptLarge PromptSize = "large"
)

// Breakdown records every intermediate component of a cost computation.
// It is emitted for logging/audit and never persisted by the ledger itself.
type Breakdown struct {
	PromptSize PromptSize `json:"prompt_size"`

	InputUSD     float64 `json:"input_usd"`
	OutputUSD    float64 `json:"output_usd"`
	CachingUSD   float64 `json:"caching_usd"`
	GroundingUSD float64 `json:"grounding_usd"`
	TotalUSD     float64 `json:"total_usd"`

	BaseCredits float64 `json:"base_credits"`
	Credits     int64   `json:"credits"`
}

// TransactionType classifies a ledger mutation.
type TransactionType string

const (
	TxAllocation      TransactionType = "allocation"
	TxCarryover       TransactionType = "carryover"
	TxDeduction       TransactionType = "deduction"
	TxPurchase        TransactionType = "purchase"
	TxRefund          TransactionType = "refund"
	TxAdminAdjustment TransactionType = "admin_adjustment"
)

// Transaction is one append-only audit record. It is written once when the
// corresponding balance mutation commits and never mutated afterwards.
// Replaying all transactions for a user from zero reproduces the stored
// balance buckets exactly.
type Transaction struct {
	ID     string          `json:"id"`
	UserID string          `json:"user_id"`
	Type   TransactionType `json:"type"`

	// Amount is signed: negative for deductions, positive otherwise.
	Amount int64 `json:"amount"`

	// Usage context, set on deductions.
	Feature    string    `json:"feature,omitempty"`
	ModelTier  ModelTier `json:"model_tier,omitempty"`
	TokensUsed int64     `json:"tokens_used,omitempty"`

	// Reason is the caller-supplied justification on purchases, refunds
	// and admin adjustments.
	Reason string `json:"reason,omitempty"`

	// Delta is the signed per-bucket change this transaction applied.
	// Amount equals the sum of the three deltas.
	Delta BucketDelta `json:"delta"`

	// After is the post-transaction snapshot of all balance buckets.
	After BalanceSnapshot `json:"after"`

	// Signature is an optional tamper-evidence signature over the
	// canonical form of the entry (see the audit package).
	Signature string `json:"signature,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// BucketDelta is a signed per-bucket balance change.
type BucketDelta struct {
	Fresh     int64 `json:"fresh"`
	Carryover int64 `json:"carryover"`
	Purchased int64 `json:"purchased"`
}

// Replay folds transactions (oldest first) into the balance buckets they
// produce, starting from zero. Replaying a user's full history must
// reproduce the stored balance exactly; this is the ledger's reconciliation
// invariant.
func Replay(txs []Transaction) BalanceSnapshot {
	var s BalanceSnapshot
	for _, tx := range txs {
		s.Fresh += tx.Delta.Fresh
		s.Carryover += tx.Delta.Carryover
		s.Purchased += tx.Delta.Purchased
	}
	return s
}

// BalanceSnapshot is a read-only view of the three balance buckets.
type BalanceSnapshot struct {
	Fresh     int64 `json:"fresh"`
	Carryover int64 `json:"carryover"`
	Purchased int64 `json:"purchased"`
}

// Total returns the combined balance. It is always recomputed from the
// buckets, never stored independently of them.
func (s BalanceSnapshot) Total() int64 {
	return s.Fresh + s.Carryover + s.Purchased
}

// ChargeResult is the outcome of a successful ChargeUsage call.
type ChargeResult struct {
	// Deducted is the credit cost actually charged.
	Deducted int64 `json:"deducted"`

	// Breakdown is the full cost computation behind Deducted.
	Breakdown Breakdown `json:"breakdown"`

	// Balance is the post-deduction snapshot.
	Balance BalanceSnapshot `json:"balance"`
}
