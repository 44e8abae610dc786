package risk

import (
	"context"
	"fmt"
	"log"
	"time"

	"pacifica-bot/internal/events"
	"pacifica-bot/internal/state"
	"pacifica-bot/pkg/db"
	"pacifica-bot/pkg/exchange"
	"pacifica-bot/pkg/quant"
)

// Emergency is the last-resort fail-safe. It runs on its own goroutine with
// its own ticker so it keeps watching even when the main rebalance loop is
// stalled, and it derives PNL from raw entry, mark and quantity rather than
// trusting any upstream-computed figure.
type Emergency struct {
	cfg      Config
	st       *state.Manager
	gw       exchange.Gateway
	rec      *Recorder
	symbols  []string
	interval time.Duration
}

// NewEmergency creates the emergency stop-loss watchdog.
func NewEmergency(cfg Config, st *state.Manager, gw exchange.Gateway, rec *Recorder, symbols []string, interval time.Duration) *Emergency {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Emergency{cfg: cfg, st: st, gw: gw, rec: rec, symbols: symbols, interval: interval}
}

// Start runs the watchdog loop until ctx is canceled.
func (e *Emergency) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		log.Printf("🛡 emergency watchdog started (interval %s)", e.interval)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, sym := range e.symbols {
					e.checkSymbol(ctx, sym)
				}
			}
		}
	}()
}

// rawPnLPercent computes PNL percent of entry notional from first
// principles. Long positions profit as mark rises, shorts as it falls.
func rawPnLPercent(pos state.Position, mark float64) float64 {
	if pos.EntryPrice <= 0 || pos.Qty <= 0 || mark <= 0 {
		return 0
	}
	diff := mark - pos.EntryPrice
	if pos.Side == exchange.SideAsk {
		diff = -diff
	}
	return diff * pos.Qty / (pos.EntryPrice * pos.Qty) * 100
}

func (e *Emergency) checkSymbol(ctx context.Context, symbol string) {
	pos, ok := e.st.Position(symbol)
	if !ok {
		return
	}
	mark := e.st.MarkPrice(symbol)
	if mark <= 0 {
		return
	}
	pnl := rawPnLPercent(pos, mark)

	var trigger string
	switch {
	case pnl <= -e.cfg.EmergencyStopLossPct:
		trigger = "emergency_stop_loss"
	case e.cfg.EmergencyTakeProfitPct > 0 && pnl >= e.cfg.EmergencyTakeProfitPct:
		trigger = "extreme_take_profit"
	case e.cfg.EmergencyMaxTimeInLoss > 0 && pnl < 0 && pos.TimeInLoss() >= e.cfg.EmergencyMaxTimeInLoss:
		trigger = "max_time_in_loss"
	default:
		return
	}

	log.Printf("🚨 emergency[%s]: %s at pnl %.2f%% (in loss %s)", symbol, trigger, pnl, pos.TimeInLoss())
	closed, err := e.closeNow(ctx, symbol, pos, mark)
	if err != nil {
		log.Printf("emergency[%s]: close failed: %v", symbol, err)
		return
	}
	if closed {
		e.st.ClearPosition(symbol)
	}
	e.rec.Record(ctx, events.EventEmergencyClose, db.RiskEvent{
		Symbol: symbol, Layer: "emergency", Action: trigger,
		BeforeValue: pnl, AfterValue: 0,
		Detail: fmt.Sprintf("closed %.8g at mark %.8g (immediate=%v)", pos.Qty, mark, closed),
	})
}

// closeNow tries an immediate IOC close first. If the exchange rejects it,
// a resting reduce-only limit at the mark goes on the book so the exit
// still happens as soon as anyone trades through it. Returns true only when
// the IOC path succeeded; a resting fallback leaves the position open until
// it fills.
func (e *Emergency) closeNow(ctx context.Context, symbol string, pos state.Position, mark float64) (bool, error) {
	info, err := e.gw.GetSymbolInfo(ctx, symbol)
	if err != nil {
		return false, fmt.Errorf("symbol info: %w", err)
	}
	qty := quant.Quantity(pos.Qty, info.LotSize)
	if qty <= 0 {
		return false, nil
	}
	side := pos.Side.Opposite()

	_, err = e.gw.CreateOrder(ctx, exchange.OrderRequest{
		Symbol:      symbol,
		Side:        side,
		Kind:        exchange.KindMarket,
		Qty:         qty,
		TimeInForce: exchange.TIFIOC,
		ReduceOnly:  true,
	})
	if err == nil {
		return true, nil
	}
	log.Printf("emergency[%s]: IOC close rejected (%v), falling back to resting limit", symbol, err)

	res, err := e.gw.CreateOrder(ctx, exchange.OrderRequest{
		Symbol:      symbol,
		Side:        side,
		Kind:        exchange.KindLimit,
		Qty:         qty,
		Price:       quant.Round(mark, info.TickSize),
		TimeInForce: exchange.TIFGTC,
		ReduceOnly:  true,
	})
	if err != nil {
		return false, fmt.Errorf("resting fallback: %w", err)
	}
	e.st.TrackOrder(exchange.OpenOrder{
		OrderID:    res.OrderID,
		Symbol:     symbol,
		Side:       side,
		Price:      quant.Round(mark, info.TickSize),
		Qty:        qty,
		Kind:       exchange.KindLimit,
		ReduceOnly: true,
	})
	return false, nil
}
