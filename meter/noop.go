package meter

import "github.com/ineyio/creditledger"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ creditledger.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnCharge(creditledger.ChargeEvent) {}
func (m *NoopMeter) OnDenied(creditledger.DeniedEvent) {}
func (m *NoopMeter) OnReset(creditledger.ResetEvent)   {}
func (m *NoopMeter) OnAdjust(creditledger.AdjustEvent) {}
