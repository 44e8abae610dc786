package strategy

import (
	"context"
	"fmt"
	"log"
	"math"

	"pacifica-bot/internal/order"
	"pacifica-bot/internal/state"
	"pacifica-bot/pkg/exchange"
	"pacifica-bot/pkg/quant"
)

// GridConfig parametrizes one symbol's grid.
type GridConfig struct {
	Variant     string  // static_grid, mm_grid, dynamic_grid
	Levels      int     // levels per side
	SpacingPct  float64 // distance between adjacent levels, percent of center
	OrderQty    float64 // base-asset quantity per level
	RecenterPct float64 // dynamic_grid: rebuild once price drifts this far from center
}

// DefaultGridConfig returns a conservative five-per-side grid.
func DefaultGridConfig(variant string) GridConfig {
	cfg := GridConfig{
		Variant:     variant,
		Levels:      5,
		SpacingPct:  0.5,
		OrderQty:    0.001,
		RecenterPct: 3.0,
	}
	if variant == "mm_grid" {
		// Market-making variant: tighter levels, closer to the touch.
		cfg.SpacingPct = 0.15
		cfg.Levels = 3
	}
	return cfg
}

// Grid owns the resting-order ladder for one symbol: bid levels below the
// center price, ask levels above, all prices and quantities quantized.
type Grid struct {
	cfg    GridConfig
	symbol string
	exec   *order.Executor
	st     *state.Manager
	gw     exchange.Gateway

	center float64 // 0 until the first Init
}

// NewGrid creates a grid for symbol.
func NewGrid(cfg GridConfig, symbol string, exec *order.Executor, st *state.Manager, gw exchange.Gateway) *Grid {
	return &Grid{cfg: cfg, symbol: symbol, exec: exec, st: st, gw: gw}
}

// Center returns the price the current ladder is built around.
func (g *Grid) Center() float64 { return g.center }

// levels computes the desired ladder around center. Bid levels sit below,
// ask levels above; a level whose quantized price collapses onto the center
// is dropped rather than placed at the touch.
func (g *Grid) levels(center float64, info exchange.SymbolInfo) []exchange.OrderRequest {
	reqs := make([]exchange.OrderRequest, 0, 2*g.cfg.Levels)
	qty := quant.Quantity(g.cfg.OrderQty, info.LotSize)
	if qty <= 0 || center <= 0 {
		return reqs
	}
	step := center * g.cfg.SpacingPct / 100
	for i := 1; i <= g.cfg.Levels; i++ {
		bid := quant.Round(center-float64(i)*step, info.TickSize)
		if bid > 0 && bid < center {
			reqs = append(reqs, exchange.OrderRequest{
				Symbol:      g.symbol,
				Side:        exchange.SideBid,
				Kind:        exchange.KindLimit,
				Qty:         qty,
				Price:       bid,
				TimeInForce: exchange.TIFGTC,
			})
		}
		ask := quant.Round(center+float64(i)*step, info.TickSize)
		if ask > center {
			reqs = append(reqs, exchange.OrderRequest{
				Symbol:      g.symbol,
				Side:        exchange.SideAsk,
				Kind:        exchange.KindLimit,
				Qty:         qty,
				Price:       ask,
				TimeInForce: exchange.TIFGTC,
			})
		}
	}
	return reqs
}

// Init tears down any previous ladder and builds a fresh one at the current
// mark price.
func (g *Grid) Init(ctx context.Context) error {
	mark := g.st.MarkPrice(g.symbol)
	if mark <= 0 {
		return fmt.Errorf("grid[%s]: no mark price yet", g.symbol)
	}
	if _, err := g.exec.CancelAll(ctx, g.symbol); err != nil {
		return fmt.Errorf("grid[%s]: teardown: %w", g.symbol, err)
	}
	info, err := g.gw.GetSymbolInfo(ctx, g.symbol)
	if err != nil {
		return fmt.Errorf("grid[%s]: symbol info: %w", g.symbol, err)
	}
	reqs := g.levels(mark, info)
	placed, err := g.exec.PlaceBatch(ctx, g.symbol, reqs)
	if err != nil {
		return fmt.Errorf("grid[%s]: placed %d/%d levels: %w", g.symbol, placed, len(reqs), err)
	}
	g.center = mark
	log.Printf("📊 grid[%s]: %d levels around %.4f (spacing %.2f%%)", g.symbol, placed, mark, g.cfg.SpacingPct)
	return nil
}

// Rebalance re-places levels whose resting orders have filled or vanished.
// For the dynamic variant it first rebuilds the whole ladder when the price
// has drifted too far from the center.
func (g *Grid) Rebalance(ctx context.Context) error {
	if g.center == 0 {
		return g.Init(ctx)
	}
	mark := g.st.MarkPrice(g.symbol)
	if mark <= 0 {
		return nil
	}
	if g.cfg.Variant == "dynamic_grid" && g.cfg.RecenterPct > 0 {
		drift := math.Abs(mark-g.center) / g.center * 100
		if drift >= g.cfg.RecenterPct {
			log.Printf("📊 grid[%s]: price drifted %.2f%% from center, recentering", g.symbol, drift)
			return g.Init(ctx)
		}
	}

	info, err := g.gw.GetSymbolInfo(ctx, g.symbol)
	if err != nil {
		return fmt.Errorf("grid[%s]: symbol info: %w", g.symbol, err)
	}
	desired := g.levels(g.center, info)
	resting := g.st.Orders(g.symbol)

	var missing []exchange.OrderRequest
	halfStep := g.center * g.cfg.SpacingPct / 200
	for _, want := range desired {
		found := false
		for _, have := range resting {
			if have.Side == want.Side && math.Abs(have.Price-want.Price) < halfStep {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, want)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	placed, err := g.exec.PlaceBatch(ctx, g.symbol, missing)
	if err != nil {
		return fmt.Errorf("grid[%s]: refill placed %d/%d: %w", g.symbol, placed, len(missing), err)
	}
	return nil
}

// Teardown cancels every resting grid order, typically before a cycle
// restart or shutdown.
func (g *Grid) Teardown(ctx context.Context) error {
	n, err := g.exec.CancelAll(ctx, g.symbol)
	if err != nil {
		return fmt.Errorf("grid[%s]: teardown after %d cancels: %w", g.symbol, n, err)
	}
	g.center = 0
	return nil
}
