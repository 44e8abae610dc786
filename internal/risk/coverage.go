package risk

import (
	"context"
	"fmt"
	"log"
	"sync"

	"pacifica-bot/internal/events"
	"pacifica-bot/internal/state"
	"pacifica-bot/pkg/db"
	"pacifica-bot/pkg/exchange"
	"pacifica-bot/pkg/quant"
)

// CoverState is the protection state of a position.
type CoverState int

const (
	CoverUnprotected CoverState = iota
	CoverAPIPending
	CoverProtected
	CoverShadow
)

func (s CoverState) String() string {
	switch s {
	case CoverAPIPending:
		return "api_pending"
	case CoverProtected:
		return "protected"
	case CoverShadow:
		return "shadow_monitored"
	}
	return "unprotected"
}

// Coverage guarantees every open position carries a TP/SL pair. Positions
// the exchange refuses protective orders for (validation rejections) fall
// back to shadow monitoring, where the engine itself watches price ticks
// and closes at market when a threshold is breached.
type Coverage struct {
	cfg Config
	st  *state.Manager
	gw  exchange.Gateway
	rec *Recorder

	mu     sync.Mutex
	states map[string]CoverState
	cycles map[string]int // rebalance cycles since last exchange-side verify
}

// NewCoverage creates a coverage engine.
func NewCoverage(cfg Config, st *state.Manager, gw exchange.Gateway, rec *Recorder) *Coverage {
	return &Coverage{
		cfg:    cfg,
		st:     st,
		gw:     gw,
		rec:    rec,
		states: make(map[string]CoverState),
		cycles: make(map[string]int),
	}
}

// State returns the current protection state for symbol.
func (c *Coverage) State(symbol string) CoverState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[symbol]
}

func (c *Coverage) setState(symbol string, s CoverState) {
	c.mu.Lock()
	c.states[symbol] = s
	c.mu.Unlock()
}

// forget drops all coverage bookkeeping for symbol. Called when the
// position disappears so a future position starts from a clean slate.
func (c *Coverage) forget(symbol string) {
	c.mu.Lock()
	delete(c.states, symbol)
	delete(c.cycles, symbol)
	c.mu.Unlock()
}

// Ensure is called once per rebalance cycle per symbol. It places protective
// orders for unprotected positions and periodically re-verifies that
// previously placed protection still rests on the exchange.
func (c *Coverage) Ensure(ctx context.Context, symbol string) error {
	pos, ok := c.st.Position(symbol)
	if !ok {
		c.forget(symbol)
		return nil
	}

	switch c.State(symbol) {
	case CoverProtected:
		if !c.recheckDue(symbol) {
			return nil
		}
		if c.verifyResting(ctx, symbol, pos) {
			return nil
		}
		log.Printf("🛡 coverage[%s]: protective orders vanished, re-placing", symbol)
		c.setState(symbol, CoverUnprotected)
		return c.place(ctx, symbol, pos)
	case CoverShadow:
		// Periodically retry API protection; the rejection may have been
		// about a transient exchange condition rather than the symbol.
		if !c.recheckDue(symbol) {
			return nil
		}
		return c.place(ctx, symbol, pos)
	default:
		// A position that already carries both protective ids (created
		// atomically at placement, or adopted with them) needs nothing.
		if pos.Protected() {
			log.Printf("🛡 coverage[%s]: position already carries tp=%s sl=%s", symbol, pos.TakeProfitOrderID, pos.StopLossOrderID)
			c.setState(symbol, CoverProtected)
			return nil
		}
		return c.place(ctx, symbol, pos)
	}
}

// recheckDue advances the per-symbol cycle counter and reports whether the
// configured verification interval has elapsed.
func (c *Coverage) recheckDue(symbol string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cycles[symbol]++
	if c.cycles[symbol] < c.cfg.CoverageRecheckEvery {
		return false
	}
	c.cycles[symbol] = 0
	return true
}

// verifyResting checks that the tracked TP and SL order ids are still among
// the symbol's open orders on the exchange.
func (c *Coverage) verifyResting(ctx context.Context, symbol string, pos state.Position) bool {
	if pos.TakeProfitOrderID == "" || pos.StopLossOrderID == "" {
		return false
	}
	orders, err := c.gw.GetOpenOrders(ctx, symbol)
	if err != nil {
		log.Printf("coverage[%s]: verify query failed: %v", symbol, err)
		return true // keep current belief, retry next window
	}
	tp, sl := false, false
	for _, o := range orders {
		if o.OrderID == pos.TakeProfitOrderID {
			tp = true
		}
		if o.OrderID == pos.StopLossOrderID {
			sl = true
		}
	}
	return tp && sl
}

// place submits the TP/SL pair for pos. Prices are derived from the current
// mark, not the entry, so adopted positions that drifted since entry get
// thresholds centered on reality.
func (c *Coverage) place(ctx context.Context, symbol string, pos state.Position) error {
	mark := c.st.MarkPrice(symbol)
	if mark <= 0 {
		return nil
	}
	info, err := c.gw.GetSymbolInfo(ctx, symbol)
	if err != nil {
		return fmt.Errorf("coverage: symbol info: %w", err)
	}

	var tpPrice, slPrice float64
	if pos.Side == exchange.SideBid { // long: profit above, stop below
		tpPrice = mark * (1 + c.cfg.TakeProfitPct/100)
		slPrice = mark * (1 - c.cfg.StopLossPct/100)
	} else { // short: profit below, stop above
		tpPrice = mark * (1 - c.cfg.TakeProfitPct/100)
		slPrice = mark * (1 + c.cfg.StopLossPct/100)
	}
	tpPrice = quant.Round(tpPrice, info.TickSize)
	slPrice = quant.Round(slPrice, info.TickSize)
	qty := quant.Quantity(pos.Qty, info.LotSize)
	if qty <= 0 {
		return nil
	}
	closeSide := pos.Side.Opposite()

	c.setState(symbol, CoverAPIPending)

	tpRes, err := c.gw.CreateOrder(ctx, exchange.OrderRequest{
		Symbol:     symbol,
		Side:       closeSide,
		Kind:       exchange.KindTakeProfit,
		Qty:        qty,
		StopPrice:  tpPrice,
		ReduceOnly: true,
	})
	if err != nil {
		return c.placementFailed(ctx, symbol, pos, err)
	}

	slRes, err := c.gw.CreateOrder(ctx, exchange.OrderRequest{
		Symbol:     symbol,
		Side:       closeSide,
		Kind:       exchange.KindStopLoss,
		Qty:        qty,
		StopPrice:  slPrice,
		ReduceOnly: true,
	})
	if err != nil {
		// Half-covered is worse than uncovered bookkeeping: withdraw the TP
		// so the next attempt places a coherent pair.
		if cerr := c.gw.CancelOrder(ctx, symbol, tpRes.OrderID); cerr != nil {
			log.Printf("coverage[%s]: orphan TP cancel failed: %v", symbol, cerr)
		}
		return c.placementFailed(ctx, symbol, pos, err)
	}

	c.st.SetProtection(symbol, tpRes.OrderID, slRes.OrderID)
	c.setState(symbol, CoverProtected)
	c.rec.Record(ctx, events.EventCoverage, db.RiskEvent{
		Symbol: symbol, Layer: "coverage", Action: "protected",
		BeforeValue: mark, AfterValue: mark,
		Detail: fmt.Sprintf("tp=%.8g sl=%.8g qty=%.8g side=%s", tpPrice, slPrice, qty, closeSide),
	})
	return nil
}

func (c *Coverage) placementFailed(ctx context.Context, symbol string, pos state.Position, err error) error {
	if exchange.IsValidation(err) {
		c.setState(symbol, CoverShadow)
		c.rec.Record(ctx, events.EventCoverage, db.RiskEvent{
			Symbol: symbol, Layer: "coverage", Action: "shadow_monitored",
			Detail: fmt.Sprintf("protective pair rejected: %v", err),
		})
		return nil
	}
	c.setState(symbol, CoverUnprotected)
	return fmt.Errorf("coverage: place protection: %w", err)
}

// OnPriceTick drives shadow monitoring. For shadow-monitored positions it
// compares PNL percent against the TP/SL thresholds and issues a reduce-only
// market close when either is breached.
func (c *Coverage) OnPriceTick(ctx context.Context, symbol string) {
	if c.State(symbol) != CoverShadow {
		return
	}
	pos, ok := c.st.Position(symbol)
	if !ok {
		c.forget(symbol)
		return
	}
	pnl := pos.PnLPercent()
	var trigger string
	switch {
	case pnl >= c.cfg.TakeProfitPct:
		trigger = "take_profit"
	case pnl <= -c.cfg.StopLossPct:
		trigger = "stop_loss"
	default:
		return
	}

	info, err := c.gw.GetSymbolInfo(ctx, symbol)
	if err != nil {
		log.Printf("coverage[%s]: shadow close blocked, symbol info: %v", symbol, err)
		return
	}
	qty := quant.Quantity(pos.Qty, info.LotSize)
	if qty <= 0 {
		return
	}
	_, err = c.gw.CreateOrder(ctx, exchange.OrderRequest{
		Symbol:     symbol,
		Side:       pos.Side.Opposite(),
		Kind:       exchange.KindMarket,
		Qty:        qty,
		ReduceOnly: true,
	})
	if err != nil {
		log.Printf("coverage[%s]: shadow close failed: %v", symbol, err)
		return
	}
	c.st.ClearPosition(symbol)
	c.forget(symbol)
	c.rec.Record(ctx, events.EventCoverage, db.RiskEvent{
		Symbol: symbol, Layer: "coverage", Action: "shadow_close",
		BeforeValue: pnl, AfterValue: 0,
		Detail: fmt.Sprintf("shadow %s at pnl %.2f%%", trigger, pnl),
	})
}
