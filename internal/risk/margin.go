package risk

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"

	"pacifica-bot/internal/events"
	"pacifica-bot/internal/state"
	"pacifica-bot/pkg/db"
	"pacifica-bot/pkg/exchange"
	"pacifica-bot/pkg/quant"
)

// Action is the strongest intervention the margin guard took.
type Action int

const (
	ActionNone Action = iota
	ActionCancelOrders
	ActionReducePosition
)

func (a Action) String() string {
	switch a {
	case ActionCancelOrders:
		return "cancel_orders"
	case ActionReducePosition:
		return "reduce_position"
	}
	return "none"
}

// Guard watches margin utilization and intervenes in two cascading levels:
// first cancel the most price-distant resting orders (cheap, no market
// impact), then force a partial reduce-only close. It runs both on a timer
// and as a pre-check before every order placement batch.
type Guard struct {
	cfg Config
	st  *state.Manager
	gw  exchange.Gateway
	rec *Recorder
}

// NewGuard creates a margin guard.
func NewGuard(cfg Config, st *state.Manager, gw exchange.Gateway, rec *Recorder) *Guard {
	return &Guard{cfg: cfg, st: st, gw: gw, rec: rec}
}

// CheckMarginSafety evaluates margin-free percent and applies the cascade.
// Level 2 only fires if Level 1 (when enabled) did not restore safety on
// its own, so a cancel that frees enough margin never escalates to a
// position reduction.
func (g *Guard) CheckMarginSafety(ctx context.Context, symbol string) (Action, error) {
	acct, err := g.gw.GetAccountInfo(ctx)
	if err != nil {
		return ActionNone, fmt.Errorf("margin guard: account query: %w", err)
	}
	free := acct.MarginFreePercent()
	if !g.belowCancelLevel(free) && !g.belowReduceLevel(free) {
		return ActionNone, nil
	}

	took := ActionNone

	if g.cfg.MarginCancelEnabled && g.belowCancelLevel(free) {
		recovered, canceled := g.cancelDistantOrders(ctx, symbol, free)
		if canceled > 0 {
			took = ActionCancelOrders
		}
		free = recovered
	}

	if g.cfg.MarginReduceEnabled && g.belowReduceLevel(free) {
		reduced, err := g.reducePosition(ctx, symbol, free)
		if err != nil {
			return took, err
		}
		if reduced {
			took = ActionReducePosition
		}
	}

	return took, nil
}

func (g *Guard) belowCancelLevel(free float64) bool {
	return g.cfg.MarginCancelEnabled && free < g.cfg.MarginCancelThreshold
}

func (g *Guard) belowReduceLevel(free float64) bool {
	return g.cfg.MarginReduceEnabled && free < g.cfg.MarginReduceThreshold
}

// cancelDistantOrders cancels open orders farthest from the mark price
// first, re-checking margin after each cancellation, until margin recovers
// above the cancel threshold or no cancellable orders remain. Returns the
// final margin-free percent and the number of orders canceled.
func (g *Guard) cancelDistantOrders(ctx context.Context, symbol string, freeBefore float64) (float64, int) {
	mark := g.st.MarkPrice(symbol)
	orders := g.st.Orders(symbol)
	if len(orders) == 0 || mark <= 0 {
		return freeBefore, 0
	}

	// Most price-distant first: minimal market impact per unit of freed margin.
	sort.Slice(orders, func(i, j int) bool {
		return math.Abs(orders[i].Price-mark) > math.Abs(orders[j].Price-mark)
	})

	free := freeBefore
	canceled := 0
	for _, o := range orders {
		if o.ReduceOnly {
			continue // reduce-only orders cost no margin and protect us
		}
		if err := g.gw.CancelOrder(ctx, symbol, o.OrderID); err != nil {
			log.Printf("margin guard[%s]: cancel %s failed: %v", symbol, o.OrderID, err)
			if !exchange.IsValidation(err) {
				break // transient gateway trouble, stop hammering
			}
			continue // already gone: drop locally and keep going
		}
		g.st.DropOrder(symbol, o.OrderID)
		canceled++

		acct, err := g.gw.GetAccountInfo(ctx)
		if err != nil {
			log.Printf("margin guard[%s]: account re-check failed: %v", symbol, err)
			break
		}
		free = acct.MarginFreePercent()
		if free >= g.cfg.MarginCancelThreshold {
			break
		}
	}

	if canceled > 0 {
		g.rec.Record(ctx, events.EventMarginAction, db.RiskEvent{
			Symbol:      symbol,
			Layer:       "margin_guard",
			Action:      ActionCancelOrders.String(),
			BeforeValue: freeBefore,
			AfterValue:  free,
			Detail:      fmt.Sprintf("canceled %d distant orders", canceled),
		})
	}
	return free, canceled
}

// reducePosition submits a reduce-only market order for the configured
// fraction of the position, after re-verifying against authoritative state
// that the position still exists with the claimed quantity. Reports whether
// a reduce order was actually submitted, so callers never act on a reduce
// that was skipped or rejected.
func (g *Guard) reducePosition(ctx context.Context, symbol string, freeBefore float64) (bool, error) {
	positions, err := g.gw.GetPositions(ctx, symbol)
	if err != nil {
		return false, fmt.Errorf("margin guard: position re-verify: %w", err)
	}
	var pos *exchange.Position
	for i := range positions {
		if positions[i].Symbol == symbol {
			pos = &positions[i]
			break
		}
	}
	if pos == nil || pos.Qty <= 0 {
		log.Printf("margin guard[%s]: reduce skipped, no position on exchange", symbol)
		return false, nil
	}

	info, err := g.gw.GetSymbolInfo(ctx, symbol)
	if err != nil {
		return false, fmt.Errorf("margin guard: symbol info: %w", err)
	}
	qty := quant.Quantity(pos.Qty*g.cfg.MarginReduceFraction, info.LotSize)
	if qty <= 0 {
		return false, nil
	}
	if qty > pos.Qty {
		qty = pos.Qty
	}

	_, err = g.gw.CreateOrder(ctx, exchange.OrderRequest{
		Symbol:     symbol,
		Side:       pos.Side.Opposite(),
		Kind:       exchange.KindMarket,
		Qty:        qty,
		ReduceOnly: true,
	})
	if err != nil {
		// Soft failure: the position may have closed in the window between
		// re-verify and submit. Next polling pass re-evaluates.
		log.Printf("margin guard[%s]: reduce order rejected: %v", symbol, err)
		return false, nil
	}

	g.rec.Record(ctx, events.EventMarginAction, db.RiskEvent{
		Symbol:      symbol,
		Layer:       "margin_guard",
		Action:      ActionReducePosition.String(),
		BeforeValue: freeBefore,
		AfterValue:  freeBefore, // margin recovers once the reduce fills
		Detail:      fmt.Sprintf("reduce-only %s %.8f (%.0f%% of position)", pos.Side.Opposite(), qty, g.cfg.MarginReduceFraction*100),
	})
	return true, nil
}

// Exposure returns Σ |qty| × mark over authoritative positions for the
// symbol set. Open-order notional is deliberately excluded: resting orders
// are not yet risk.
func (g *Guard) Exposure(ctx context.Context, symbols []string) (float64, error) {
	total := 0.0
	for _, sym := range symbols {
		positions, err := g.gw.GetPositions(ctx, sym)
		if err != nil {
			return 0, err
		}
		for _, p := range positions {
			if p.Symbol != sym {
				continue
			}
			total += p.Notional()
		}
	}
	return total, nil
}
