package risk

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"

	"pacifica-bot/internal/events"
	"pacifica-bot/internal/state"
	"pacifica-bot/pkg/db"
	"pacifica-bot/pkg/exchange"
	"pacifica-bot/pkg/quant"
)

// Limiter enforces the per-symbol position-value ceiling. Position value is
// margin_used × leverage, which tracks what the exchange actually holds
// against the position rather than a locally derived notional.
type Limiter struct {
	cfg   Config
	st    *state.Manager
	gw    exchange.Gateway
	guard *Guard
	rec   *Recorder

	mu      sync.Mutex
	halted  map[string]bool // stop_buy latches, keyed by symbol
	ceiling float64         // runtime-adjustable copy of MaxPositionValueUSD
}

// NewLimiter creates an auto-close limiter.
func NewLimiter(cfg Config, st *state.Manager, gw exchange.Gateway, guard *Guard, rec *Recorder) *Limiter {
	return &Limiter{
		cfg:     cfg,
		st:      st,
		gw:      gw,
		guard:   guard,
		rec:     rec,
		halted:  make(map[string]bool),
		ceiling: cfg.MaxPositionValueUSD,
	}
}

// Ceiling returns the live position-value ceiling in USD.
func (l *Limiter) Ceiling() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ceiling
}

// SetCeiling adjusts the ceiling at runtime (dashboard control path).
// Non-positive values disable the check.
func (l *Limiter) SetCeiling(v float64) {
	l.mu.Lock()
	l.ceiling = v
	l.mu.Unlock()
	log.Printf("auto-close: position value ceiling set to %.2f USD", v)
}

// BuyHalted reports whether new position-increasing orders for symbol are
// currently suppressed by the stop_buy policy.
func (l *Limiter) BuyHalted(symbol string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.halted[symbol]
}

func (l *Limiter) setHalted(symbol string, v bool) {
	l.mu.Lock()
	l.halted[symbol] = v
	l.mu.Unlock()
}

// CheckPositionSize compares position value to the ceiling and applies the
// configured corrective policy when exceeded. Returns true when the position
// is within limits (possibly after correction).
func (l *Limiter) CheckPositionSize(ctx context.Context, symbol string) (bool, error) {
	ceiling := l.Ceiling()
	if ceiling <= 0 {
		return true, nil
	}
	pos, ok := l.st.Position(symbol)
	if !ok {
		l.setHalted(symbol, false)
		return true, nil
	}
	value := pos.Margin * pos.Leverage
	if value <= ceiling {
		l.setHalted(symbol, false)
		return true, nil
	}
	excess := value - ceiling
	log.Printf("⚡ auto-close[%s]: position value %.2f over ceiling %.2f (policy %s)",
		symbol, value, ceiling, l.cfg.AutoClosePolicy)

	// Margin trouble takes priority. If the guard already reduced the
	// position, the next polling pass re-evaluates against fresh state.
	if act, err := l.guard.CheckMarginSafety(ctx, symbol); err != nil {
		return false, err
	} else if act == ActionReducePosition {
		return false, nil
	}

	var err error
	switch l.cfg.AutoClosePolicy {
	case PolicyCancelOrders:
		_, err = l.cancelDistant(ctx, symbol, pos)
	case PolicyForceSell:
		err = l.forceSell(ctx, symbol, pos, l.cfg.AutoClosePercent*pos.Qty)
	case PolicyStopBuy:
		var n int
		n, err = l.cancelEstablishing(ctx, symbol, pos)
		l.setHalted(symbol, true)
		l.rec.Record(ctx, events.EventAutoClose, db.RiskEvent{
			Symbol: symbol, Layer: "auto_close", Action: "stop_buy",
			BeforeValue: value, AfterValue: value,
			Detail: fmt.Sprintf("canceled %d resting establishing orders, new ones suppressed until value recovers", n),
		})
	default: // hybrid
		err = l.hybrid(ctx, symbol, pos, excess)
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

// cancelDistant cancels closing-side resting orders farther than
// DistantOrderCutoff from the mark and returns the canceled notional.
// Reduce-only orders are exempt so the protective pair survives.
func (l *Limiter) cancelDistant(ctx context.Context, symbol string, pos state.Position) (float64, error) {
	mark := l.st.MarkPrice(symbol)
	if mark <= 0 {
		return 0, nil
	}
	canceled := 0.0
	count := 0
	for _, o := range l.st.Orders(symbol) {
		if o.Side != pos.Side.Opposite() || o.ReduceOnly {
			continue
		}
		if math.Abs(o.Price-mark)/mark < l.cfg.DistantOrderCutoff {
			continue
		}
		if err := l.gw.CancelOrder(ctx, symbol, o.OrderID); err != nil {
			log.Printf("auto-close[%s]: cancel %s failed: %v", symbol, o.OrderID, err)
			if !exchange.IsValidation(err) {
				return canceled, err
			}
			l.st.DropOrder(symbol, o.OrderID)
			continue
		}
		l.st.DropOrder(symbol, o.OrderID)
		canceled += o.Price * o.Qty
		count++
	}
	if count > 0 {
		l.rec.Record(ctx, events.EventAutoClose, db.RiskEvent{
			Symbol: symbol, Layer: "auto_close", Action: "cancel_orders",
			BeforeValue: canceled, AfterValue: 0,
			Detail: fmt.Sprintf("canceled %d distant closing-side orders", count),
		})
	}
	return canceled, nil
}

// cancelEstablishing cancels every resting order on the position's own side.
// Those are the orders that would grow the position further; closing and
// reduce-only orders stay untouched.
func (l *Limiter) cancelEstablishing(ctx context.Context, symbol string, pos state.Position) (int, error) {
	count := 0
	for _, o := range l.st.Orders(symbol) {
		if o.Side != pos.Side || o.ReduceOnly {
			continue
		}
		if err := l.gw.CancelOrder(ctx, symbol, o.OrderID); err != nil {
			log.Printf("auto-close[%s]: cancel %s failed: %v", symbol, o.OrderID, err)
			if !exchange.IsValidation(err) {
				return count, err
			}
			l.st.DropOrder(symbol, o.OrderID)
			continue
		}
		l.st.DropOrder(symbol, o.OrderID)
		count++
	}
	return count, nil
}

// forceSell submits a reduce-only market close for qty (capped at the
// position size), quantized to the lot step.
func (l *Limiter) forceSell(ctx context.Context, symbol string, pos state.Position, rawQty float64) error {
	info, err := l.gw.GetSymbolInfo(ctx, symbol)
	if err != nil {
		return fmt.Errorf("auto-close: symbol info: %w", err)
	}
	qty := quant.Quantity(rawQty, info.LotSize)
	if qty <= 0 {
		return nil
	}
	if qty > pos.Qty {
		qty = pos.Qty
	}
	before := pos.Margin * pos.Leverage
	_, err = l.gw.CreateOrder(ctx, exchange.OrderRequest{
		Symbol:     symbol,
		Side:       pos.Side.Opposite(),
		Kind:       exchange.KindMarket,
		Qty:        qty,
		ReduceOnly: true,
	})
	if err != nil {
		return fmt.Errorf("auto-close: force sell: %w", err)
	}
	after := before * (1 - qty/pos.Qty)
	l.rec.Record(ctx, events.EventAutoClose, db.RiskEvent{
		Symbol: symbol, Layer: "auto_close", Action: "force_sell",
		BeforeValue: before, AfterValue: after,
		Detail: fmt.Sprintf("reduce-only %s %.8f", pos.Side.Opposite(), qty),
	})
	return nil
}

// hybrid first reclaims exposure by canceling distant closing-side orders,
// then force-sells only the residual the cancellations did not cover. A
// cancel phase that alone covers the excess results in no market order.
func (l *Limiter) hybrid(ctx context.Context, symbol string, pos state.Position, excess float64) error {
	canceled, err := l.cancelDistant(ctx, symbol, pos)
	if err != nil {
		return err
	}
	residual := excess - canceled
	if residual <= 0 {
		log.Printf("auto-close[%s]: cancel phase covered %.2f excess, no sell needed", symbol, excess)
		return nil
	}
	mark := l.st.MarkPrice(symbol)
	if mark <= 0 {
		return nil
	}
	return l.forceSell(ctx, symbol, pos, residual/mark)
}
