package state

import (
	"time"

	"pacifica-bot/pkg/exchange"
)

// Position is the bot's tracked view of one open position, enriched with
// protection tracking and time-in-loss bookkeeping on top of the exchange's
// authoritative fields.
type Position struct {
	Symbol            string
	Side              exchange.Side
	Qty               float64
	EntryPrice        float64
	MarkPrice         float64
	UnrealizedPnL     float64
	Margin            float64
	Leverage          float64
	OpenedAt          time.Time
	Adopted           bool // observed on the exchange with no local counterpart
	TakeProfitOrderID string
	StopLossOrderID   string

	// lossSince is zero while the position is not in loss.
	lossSince  time.Time
	lastPnL    float64
	hasLastPnL bool
}

// PnLPercent is unrealized PNL relative to entry notional, in percent.
func (p *Position) PnLPercent() float64 {
	if p.EntryPrice <= 0 || p.Qty <= 0 {
		return 0
	}
	return p.UnrealizedPnL / (p.EntryPrice * p.Qty) * 100
}

// Notional is |qty| * mark price.
func (p *Position) Notional() float64 {
	return p.Qty * p.MarkPrice
}

// TimeInLoss reports how long the position has been continuously losing.
func (p *Position) TimeInLoss() time.Duration {
	if p.lossSince.IsZero() {
		return 0
	}
	return time.Since(p.lossSince)
}

// Protected reports whether both protective order ids are tracked.
func (p *Position) Protected() bool {
	return p.TakeProfitOrderID != "" && p.StopLossOrderID != ""
}

// LossResetPolicy controls when the time-in-loss clock restarts.
type LossResetPolicy string

const (
	// ResetOnRecovery restarts the clock only when PNL returns to >= 0.
	ResetOnRecovery LossResetPolicy = "recovery"
	// ResetOnAnyTick restarts the clock on any favorable PNL change,
	// even while still underwater.
	ResetOnAnyTick LossResetPolicy = "any_tick"
)
