package creditledger_test

import (
	"testing"

	cl "github.com/ineyio/creditledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPricing() cl.PriceTable {
	return cl.DefaultConfig().Pricing
}

// Test 1: Concrete scenario: 1000 in + 500 out on lite at $0.10/$0.40 per
// Mtok, $0.0001/credit, 3x margin = 9 credits.
func TestCost_ConcreteScenario(t *testing.T) {
	p := testPricing()

	credits, bd, err := p.Cost(cl.Usage{
		InputTokens:  1000,
		OutputTokens: 500,
		ModelTier:    "lite",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(9), credits)
	assert.Equal(t, cl.PromptSmall, bd.PromptSize)
	assert.InDelta(t, 0.0003, bd.TotalUSD, 1e-12)
	assert.InDelta(t, 3.0, bd.BaseCredits, 1e-9)
}

// Test 2: Zero tokens and no grounding costs exactly 0 credits
func TestCost_ZeroUsage(t *testing.T) {
	p := testPricing()

	credits, bd, err := p.Cost(cl.Usage{ModelTier: "lite"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), credits)
	assert.Equal(t, 0.0, bd.TotalUSD)
}

// Test 3: Rounding always rounds up: a fractional credit charges 1, never 0
func TestCost_RoundsUp(t *testing.T) {
	p := testPricing()

	// 10 input tokens on lite: 10×0.10/1M = $0.000001 → 0.01 base → 0.03
	// margin credits → charged as 1.
	credits, _, err := p.Cost(cl.Usage{InputTokens: 10, ModelTier: "lite"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), credits)
}

// Test 4: Unknown model tier fails fast with no partial cost
func TestCost_UnknownModelTier(t *testing.T) {
	p := testPricing()

	credits, _, err := p.Cost(cl.Usage{InputTokens: 100, ModelTier: "nope"})
	assert.ErrorIs(t, err, cl.ErrUnknownModelTier)
	assert.Equal(t, int64(0), credits)
}

// Test 5: Prompt size classification selects the column for the whole request
func TestCost_LargePromptColumn(t *testing.T) {
	p := testPricing()

	// Cached tokens count toward the prompt-size classification.
	small, _, err := p.Cost(cl.Usage{InputTokens: 100_000, OutputTokens: 1000, ModelTier: "pro"})
	require.NoError(t, err)

	large, bd, err := p.Cost(cl.Usage{
		InputTokens:  100_000,
		OutputTokens: 1000,
		ModelTier:    "pro",
		UseCaching:   true,
		CachedTokens: 150_000,
	})
	require.NoError(t, err)
	assert.Equal(t, cl.PromptLarge, bd.PromptSize)
	assert.Greater(t, large, small)
}

// Test 6: Audio rate overrides the input rate regardless of prompt size
func TestCost_AudioOverride(t *testing.T) {
	p := testPricing()

	text, _, err := p.Cost(cl.Usage{InputTokens: 1_000_000, ModelTier: "standard"})
	require.NoError(t, err)

	audio, bd, err := p.Cost(cl.Usage{
		InputTokens: 1_000_000,
		ModelTier:   "standard",
		Modality:    cl.ModalityAudio,
	})
	require.NoError(t, err)
	// standard: $1.25/Mtok text input vs $1.00/Mtok audio input.
	assert.Less(t, audio, text)
	assert.InDelta(t, 1.00, bd.InputUSD, 1e-9)

	// lite defines no audio rate; the regular input rate applies.
	liteText, _, err := p.Cost(cl.Usage{InputTokens: 1_000_000, ModelTier: "lite"})
	require.NoError(t, err)
	liteAudio, _, err := p.Cost(cl.Usage{
		InputTokens: 1_000_000,
		ModelTier:   "lite",
		Modality:    cl.ModalityAudio,
	})
	require.NoError(t, err)
	assert.Equal(t, liteText, liteAudio)
}

// Test 7: Caching cost applies only when enabled with cached tokens
func TestCost_Caching(t *testing.T) {
	p := testPricing()

	without, _, err := p.Cost(cl.Usage{InputTokens: 10_000, ModelTier: "pro"})
	require.NoError(t, err)

	// Cached tokens without the flag cost nothing extra.
	flagOff, _, err := p.Cost(cl.Usage{InputTokens: 10_000, CachedTokens: 50_000, ModelTier: "pro"})
	require.NoError(t, err)
	assert.Equal(t, without, flagOff)

	_, bd, err := p.Cost(cl.Usage{
		InputTokens:  10_000,
		ModelTier:    "pro",
		UseCaching:   true,
		CachedTokens: 50_000,
	})
	require.NoError(t, err)
	assert.Greater(t, bd.CachingUSD, 0.0)
}

// Test 8: Grounding is a flat per-request surcharge per enabled feature
func TestCost_GroundingSurcharge(t *testing.T) {
	p := testPricing()

	_, bd, err := p.Cost(cl.Usage{
		ModelTier:          "lite",
		UseGroundingSearch: true,
		UseGroundingMaps:   true,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.060, bd.GroundingUSD, 1e-9)
	// No tokens at all, but grounding alone still costs credits.
	assert.Greater(t, bd.Credits, int64(0))
}

// Test 9: Cost is deterministic
func TestCost_Deterministic(t *testing.T) {
	p := testPricing()
	u := cl.Usage{InputTokens: 12345, OutputTokens: 678, ModelTier: "standard", UseGroundingSearch: true}

	first, _, err := p.Cost(u)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, _, err := p.Cost(u)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

// Test 10: Negative token counts are rejected
func TestCost_NegativeTokens(t *testing.T) {
	p := testPricing()

	_, _, err := p.Cost(cl.Usage{InputTokens: -1, ModelTier: "lite"})
	assert.ErrorIs(t, err, cl.ErrInvalidAmount)
}
