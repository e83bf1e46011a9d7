package meter

import (
	"github.com/rs/zerolog"

	"github.com/ineyio/creditledger"
)

// LogMeter logs ledger events using zerolog.
type LogMeter struct {
	Logger zerolog.Logger
}

var _ creditledger.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
func NewLogMeter(logger zerolog.Logger) *LogMeter {
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnCharge(e creditledger.ChargeEvent) {
	m.Logger.Info().
		Str("user", e.UserID).
		Str("tier", string(e.Tier)).
		Str("model_tier", string(e.ModelTier)).
		Str("feature", e.Feature).
		Int64("credits", e.Credits).
		Int64("tokens", e.Tokens).
		Int64("fresh", e.Balance.Fresh).
		Int64("carryover", e.Balance.Carryover).
		Int64("purchased", e.Balance.Purchased).
		Dur("duration", e.Duration).
		Msg("charge")
}

func (m *LogMeter) OnDenied(e creditledger.DeniedEvent) {
	m.Logger.Warn().
		Str("user", e.UserID).
		Str("tier", string(e.Tier)).
		Str("model_tier", string(e.ModelTier)).
		Int64("needed", e.Needed).
		Int64("available", e.Available).
		Msg("charge_denied")
}

func (m *LogMeter) OnReset(e creditledger.ResetEvent) {
	m.Logger.Info().
		Str("user", e.UserID).
		Str("tier", string(e.Tier)).
		Int64("granted", e.Granted).
		Int64("carried", e.Carried).
		Bool("tier_change", e.TierChange).
		Int64("total", e.Balance.Total()).
		Msg("allocation_reset")
}

func (m *LogMeter) OnAdjust(e creditledger.AdjustEvent) {
	m.Logger.Info().
		Str("user", e.UserID).
		Str("type", string(e.Type)).
		Int64("amount", e.Amount).
		Str("reason", e.Reason).
		Int64("total", e.Balance.Total()).
		Msg("adjustment")
}
