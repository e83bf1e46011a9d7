package creditledger

import (
	"fmt"
	"math"
)

// PromptSizeThreshold is the input token count (prompt + cached) above which
// the large prompt-size pricing column applies. The classification selects
// the column for input, output and caching of the whole request; there is no
// blended pricing across the threshold.
const PromptSizeThreshold = 200_000

// TokenRates holds a USD-per-million-token rate pair, one per prompt-size
// bracket.
type TokenRates struct {
	Small float64 `yaml:"small" json:"small"`
	Large float64 `yaml:"large" json:"large"`
}

// For returns the rate for the given prompt-size bracket.
func (r TokenRates) For(size PromptSize) float64 {
	if size == PromptLarge {
		return r.Large
	}
	return r.Small
}

// ModelPrice is the per-token pricing for one model tier.
// All rates are USD per million tokens.
type ModelPrice struct {
	Input   TokenRates `yaml:"input" json:"input"`
	Output  TokenRates `yaml:"output" json:"output"`
	Caching TokenRates `yaml:"caching" json:"caching"`

	// AudioInput, when nonzero, overrides the input rate for audio-modality
	// requests regardless of prompt-size bracket. Zero means the model tier
	// defines no audio rate and the regular input rate applies.
	AudioInput float64 `yaml:"audio_input,omitempty" json:"audio_input,omitempty"`
}

// GroundingFees are flat per-request USD surcharges, one per enabled
// grounding feature, independent of token counts.
type GroundingFees struct {
	SearchUSD float64 `yaml:"search_usd" json:"search_usd"`
	MapsUSD   float64 `yaml:"maps_usd" json:"maps_usd"`
}

// PriceTable converts usage parameters into a credit cost. It is a pure
// value: Cost has no state and no I/O, and is deterministic for a given
// table and usage.
type PriceTable struct {
	Models    map[ModelTier]ModelPrice `yaml:"models" json:"models"`
	Grounding GroundingFees            `yaml:"grounding" json:"grounding"`

	// CreditUSD is the fixed conversion rate in USD per credit.
	CreditUSD float64 `yaml:"credit_usd" json:"credit_usd"`

	// Margin is the multiplier applied to the base credit cost.
	Margin float64 `yaml:"margin" json:"margin"`
}

// Cost computes the credit cost of a usage event along with the full
// breakdown. Credits always round up, and a nonzero USD cost yields at
// least 1 credit. Zero tokens with no grounding costs exactly 0.
func (p PriceTable) Cost(u Usage) (int64, Breakdown, error) {
	if u.InputTokens < 0 || u.OutputTokens < 0 || u.CachedTokens < 0 {
		return 0, Breakdown{}, fmt.Errorf("%w: token counts must be non-negative", ErrInvalidAmount)
	}

	price, ok := p.Models[u.ModelTier]
	if !ok {
		return 0, Breakdown{}, fmt.Errorf("%w: %q", ErrUnknownModelTier, u.ModelTier)
	}

	promptSize := PromptSmall
	if u.InputTokens+u.CachedTokens > PromptSizeThreshold {
		promptSize = PromptLarge
	}

	inputRate := price.Input.For(promptSize)
	if u.Modality == ModalityAudio && price.AudioInput > 0 {
		inputRate = price.AudioInput
	}

	bd := Breakdown{PromptSize: promptSize}
	bd.InputUSD = float64(u.InputTokens) * inputRate / 1_000_000
	bd.OutputUSD = float64(u.OutputTokens) * price.Output.For(promptSize) / 1_000_000

	if u.UseCaching && u.CachedTokens > 0 {
		bd.CachingUSD = float64(u.CachedTokens) * price.Caching.For(promptSize) / 1_000_000
	}

	if u.UseGroundingSearch {
		bd.GroundingUSD += p.Grounding.SearchUSD
	}
	if u.UseGroundingMaps {
		bd.GroundingUSD += p.Grounding.MapsUSD
	}

	bd.TotalUSD = bd.InputUSD + bd.OutputUSD + bd.CachingUSD + bd.GroundingUSD

	if bd.TotalUSD > 0 {
		bd.BaseCredits = bd.TotalUSD / p.CreditUSD
		bd.Credits = int64(math.Ceil(bd.BaseCredits * p.Margin))
		if bd.Credits < 1 {
			bd.Credits = 1
		}
	}

	return bd.Credits, bd, nil
}
