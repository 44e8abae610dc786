package strategy

import (
	"testing"

	"pacifica-bot/pkg/exchange"
)

func TestGridLevelsSymmetricAroundCenter(t *testing.T) {
	g := NewGrid(GridConfig{Variant: "static_grid", Levels: 3, SpacingPct: 1.0, OrderQty: 0.01}, "BTC", nil, nil, nil)
	info := exchange.SymbolInfo{TickSize: 0.01, LotSize: 0.001}

	reqs := g.levels(100, info)
	if len(reqs) != 6 {
		t.Fatalf("levels = %d, want 3 per side", len(reqs))
	}
	bids, asks := 0, 0
	for _, r := range reqs {
		switch r.Side {
		case exchange.SideBid:
			bids++
			if r.Price >= 100 {
				t.Errorf("bid level %.2f must sit below center", r.Price)
			}
		case exchange.SideAsk:
			asks++
			if r.Price <= 100 {
				t.Errorf("ask level %.2f must sit above center", r.Price)
			}
		}
		if r.Kind != exchange.KindLimit || r.TimeInForce != exchange.TIFGTC {
			t.Errorf("grid orders are GTC limits, got %+v", r)
		}
	}
	if bids != 3 || asks != 3 {
		t.Errorf("bids=%d asks=%d, want 3/3", bids, asks)
	}
}

func TestGridLevelsQuantized(t *testing.T) {
	g := NewGrid(GridConfig{Variant: "static_grid", Levels: 2, SpacingPct: 0.37, OrderQty: 0.0137}, "BTC", nil, nil, nil)
	info := exchange.SymbolInfo{TickSize: 0.5, LotSize: 0.001}

	for _, r := range g.levels(30000, info) {
		steps := r.Price / info.TickSize
		if steps != float64(int64(steps)) {
			t.Errorf("price %.4f is not a tick multiple", r.Price)
		}
		if r.Qty != 0.014 {
			t.Errorf("qty = %v, want lot-rounded 0.014", r.Qty)
		}
	}
}

func TestGridLevelsDropDegenerate(t *testing.T) {
	// Spacing far below the tick: every level would quantize onto the
	// center, so nothing placeable remains on the bid side below it.
	g := NewGrid(GridConfig{Variant: "static_grid", Levels: 2, SpacingPct: 0.0001, OrderQty: 0.01}, "BTC", nil, nil, nil)
	info := exchange.SymbolInfo{TickSize: 1.0, LotSize: 0.001}

	for _, r := range g.levels(100, info) {
		if r.Side == exchange.SideBid && r.Price >= 100 {
			t.Errorf("degenerate bid %.2f at or above center must be dropped", r.Price)
		}
		if r.Side == exchange.SideAsk && r.Price <= 100 {
			t.Errorf("degenerate ask %.2f at or below center must be dropped", r.Price)
		}
	}
}

func TestGridMMVariantTighter(t *testing.T) {
	static := DefaultGridConfig("static_grid")
	mm := DefaultGridConfig("mm_grid")
	if mm.SpacingPct >= static.SpacingPct {
		t.Error("mm variant must quote tighter than the static grid")
	}
}
