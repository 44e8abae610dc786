package risk

import (
	"context"
	"testing"

	"pacifica-bot/pkg/exchange"
)

func newLimiterFixture(t *testing.T, gw *stubGateway, cfg Config) *Limiter {
	t.Helper()
	st := seedState(t, gw)
	guard := NewGuard(cfg, st, gw, &Recorder{})
	return NewLimiter(cfg, st, gw, guard, &Recorder{})
}

func TestAutoCloseWithinCeilingNoAction(t *testing.T) {
	gw := newStubGateway()
	gw.mark = 100
	gw.positions[testSymbol] = []exchange.Position{
		{Symbol: testSymbol, Side: exchange.SideBid, Qty: 1, EntryPrice: 100, MarkPrice: 100, Margin: 50, Leverage: 10},
	}
	gw.accounts = []exchange.AccountState{{Equity: 1000, MarginUsed: 50}}
	lim := newLimiterFixture(t, gw, DefaultConfig())

	ok, err := lim.CheckPositionSize(context.Background(), testSymbol)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("500 USD position under a 1000 USD ceiling must pass")
	}
	if len(gw.createdOrders()) != 0 || len(gw.canceledIDs()) != 0 {
		t.Error("within-ceiling check must not act")
	}
}

// A 1200 USD position over a 1000 USD ceiling with 100 USD of distant
// resting orders: the cancel phase reclaims 100, so the force-sell covers
// only the residual 100 USD, not the full 200 excess.
func TestAutoCloseHybridSellsOnlyResidual(t *testing.T) {
	gw := newStubGateway()
	gw.mark = 100
	gw.positions[testSymbol] = []exchange.Position{
		{Symbol: testSymbol, Side: exchange.SideBid, Qty: 12, EntryPrice: 100, MarkPrice: 100, Margin: 120, Leverage: 10},
	}
	gw.orders[testSymbol] = []exchange.OpenOrder{
		// Closing-side sell 100% above mark: cancelable, notional 100.
		{OrderID: "distant", Symbol: testSymbol, Side: exchange.SideAsk, Price: 200, Qty: 0.5},
		// 0.5% away: inside the cutoff, must survive.
		{OrderID: "near", Symbol: testSymbol, Side: exchange.SideAsk, Price: 100.5, Qty: 1},
		// Reduce-only protective order: distant but exempt.
		{OrderID: "tp", Symbol: testSymbol, Side: exchange.SideAsk, Price: 103, Qty: 12, ReduceOnly: true},
		// Establishing bid: not a closing order, must survive.
		{OrderID: "bid", Symbol: testSymbol, Side: exchange.SideBid, Price: 50, Qty: 2},
	}
	gw.accounts = []exchange.AccountState{{Equity: 1000, MarginUsed: 120}}
	lim := newLimiterFixture(t, gw, DefaultConfig())

	ok, err := lim.CheckPositionSize(context.Background(), testSymbol)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("over-ceiling position must report not ok")
	}

	if got := gw.canceledIDs(); len(got) != 1 || got[0] != "distant" {
		t.Errorf("canceled %v, want exactly [distant]", got)
	}
	created := gw.createdOrders()
	if len(created) != 1 {
		t.Fatalf("created %d orders, want 1 residual force-sell", len(created))
	}
	req := created[0]
	if !req.ReduceOnly || req.Kind != exchange.KindMarket || req.Side != exchange.SideAsk {
		t.Errorf("residual close must be reduce-only market ask, got %+v", req)
	}
	// Residual (200 - 100) / mark 100 = 1.0.
	if req.Qty != 1.0 {
		t.Errorf("residual qty = %v, want 1.0", req.Qty)
	}
}

func TestAutoCloseHybridCancelPhaseCanCoverExcess(t *testing.T) {
	gw := newStubGateway()
	gw.mark = 100
	gw.positions[testSymbol] = []exchange.Position{
		{Symbol: testSymbol, Side: exchange.SideBid, Qty: 12, EntryPrice: 100, MarkPrice: 100, Margin: 120, Leverage: 10},
	}
	gw.orders[testSymbol] = []exchange.OpenOrder{
		// Notional 250 > 200 excess: cancel phase alone suffices.
		{OrderID: "distant", Symbol: testSymbol, Side: exchange.SideAsk, Price: 125, Qty: 2},
	}
	gw.accounts = []exchange.AccountState{{Equity: 1000, MarginUsed: 120}}
	lim := newLimiterFixture(t, gw, DefaultConfig())

	if _, err := lim.CheckPositionSize(context.Background(), testSymbol); err != nil {
		t.Fatal(err)
	}
	if len(gw.createdOrders()) != 0 {
		t.Error("cancel phase covered the excess, no market order allowed")
	}
}

func TestAutoCloseStopBuyLatchesAndReleases(t *testing.T) {
	gw := newStubGateway()
	gw.mark = 100
	gw.positions[testSymbol] = []exchange.Position{
		{Symbol: testSymbol, Side: exchange.SideBid, Qty: 12, EntryPrice: 100, MarkPrice: 100, Margin: 120, Leverage: 10},
	}
	gw.orders[testSymbol] = []exchange.OpenOrder{
		// Resting establishing bid: stop_buy must cancel it.
		{OrderID: "bid", Symbol: testSymbol, Side: exchange.SideBid, Price: 98, Qty: 1},
		// Reduce-only ask stays so the position can still unwind.
		{OrderID: "tp", Symbol: testSymbol, Side: exchange.SideAsk, Price: 103, Qty: 12, ReduceOnly: true},
	}
	gw.accounts = []exchange.AccountState{{Equity: 1000, MarginUsed: 120}}
	cfg := DefaultConfig()
	cfg.AutoClosePolicy = PolicyStopBuy
	st := seedState(t, gw)
	guard := NewGuard(cfg, st, gw, &Recorder{})
	lim := NewLimiter(cfg, st, gw, guard, &Recorder{})

	ctx := context.Background()
	if _, err := lim.CheckPositionSize(ctx, testSymbol); err != nil {
		t.Fatal(err)
	}
	if !lim.BuyHalted(testSymbol) {
		t.Fatal("oversized position under stop_buy must halt buying")
	}
	if got := gw.canceledIDs(); len(got) != 1 || got[0] != "bid" {
		t.Errorf("stop_buy canceled %v, want exactly the resting bid", got)
	}
	if len(gw.createdOrders()) != 0 {
		t.Error("stop_buy must not place orders")
	}

	// Position shrinks back under the ceiling: the latch releases.
	gw.mu.Lock()
	gw.positions[testSymbol][0].Margin = 50
	gw.mu.Unlock()
	if err := st.Sync(ctx, testSymbol); err != nil {
		t.Fatal(err)
	}
	ok, err := lim.CheckPositionSize(ctx, testSymbol)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || lim.BuyHalted(testSymbol) {
		t.Error("recovered position must release the stop_buy latch")
	}
}

func TestAutoCloseForceSellPolicy(t *testing.T) {
	gw := newStubGateway()
	gw.mark = 100
	gw.positions[testSymbol] = []exchange.Position{
		{Symbol: testSymbol, Side: exchange.SideAsk, Qty: 12, EntryPrice: 100, MarkPrice: 100, Margin: 120, Leverage: 10},
	}
	gw.accounts = []exchange.AccountState{{Equity: 1000, MarginUsed: 120}}
	cfg := DefaultConfig()
	cfg.AutoClosePolicy = PolicyForceSell
	lim := newLimiterFixture(t, gw, cfg)

	if _, err := lim.CheckPositionSize(context.Background(), testSymbol); err != nil {
		t.Fatal(err)
	}
	created := gw.createdOrders()
	if len(created) != 1 {
		t.Fatalf("created %d orders, want 1", len(created))
	}
	// Short position closes on the bid side, 30% of 12.
	if created[0].Side != exchange.SideBid {
		t.Errorf("short closes on bid, got %s", created[0].Side)
	}
	if created[0].Qty != 3.6 {
		t.Errorf("qty = %v, want 30%% of position", created[0].Qty)
	}
}
