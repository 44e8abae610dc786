package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"pacifica-bot/internal/risk"
	"pacifica-bot/internal/state"
	"pacifica-bot/pkg/exchange"
)

type fakeGateway struct {
	mu        sync.Mutex
	created   []exchange.OrderRequest
	canceled  []string
	failAfter int // reject creates once this many have succeeded; -1 never
	failWith  error
	account   exchange.AccountState
	seq       int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{failAfter: -1, account: exchange.AccountState{Equity: 100, MarginUsed: 40}}
}

func (g *fakeGateway) GetPositions(ctx context.Context, symbol string) ([]exchange.Position, error) {
	return nil, nil
}
func (g *fakeGateway) GetOpenOrders(ctx context.Context, symbol string) ([]exchange.OpenOrder, error) {
	return nil, nil
}
func (g *fakeGateway) GetAccountInfo(ctx context.Context) (exchange.AccountState, error) {
	return g.account, nil
}
func (g *fakeGateway) GetSymbolInfo(ctx context.Context, symbol string) (exchange.SymbolInfo, error) {
	return exchange.SymbolInfo{Symbol: symbol, TickSize: 0.01, LotSize: 0.001}, nil
}
func (g *fakeGateway) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	return 100, nil
}

func (g *fakeGateway) CreateOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failAfter >= 0 && len(g.created) >= g.failAfter {
		return exchange.OrderResult{}, g.failWith
	}
	g.created = append(g.created, req)
	g.seq++
	return exchange.OrderResult{OrderID: fmt.Sprintf("x-%d", g.seq), ClientID: req.ClientID}, nil
}

func (g *fakeGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.canceled = append(g.canceled, orderID)
	return nil
}

type openGate bool

func (g openGate) CanPlaceOrders() bool { return bool(g) }

func newTestExecutor(t *testing.T, gw *fakeGateway, gate PlacementGate) *Executor {
	t.Helper()
	st := state.NewManager(gw, nil, state.ResetOnRecovery)
	guard := risk.NewGuard(risk.DefaultConfig(), st, gw, &risk.Recorder{})
	return NewExecutor(nil, nil, gw, guard, nil, st, gate)
}

func limitReq(price float64) exchange.OrderRequest {
	return exchange.OrderRequest{
		Symbol: "BTC",
		Side:   exchange.SideBid,
		Kind:   exchange.KindLimit,
		Qty:    0.01,
		Price:  price,
	}
}

func TestPlaceAssignsClientIDAndTracks(t *testing.T) {
	gw := newFakeGateway()
	e := newTestExecutor(t, gw, openGate(true))

	res, err := e.Place(context.Background(), limitReq(99))
	if err != nil {
		t.Fatal(err)
	}
	if res.ClientID == "" {
		t.Error("executor must assign a client id when the caller did not")
	}
	if len(gw.created) != 1 {
		t.Fatalf("created %d, want 1", len(gw.created))
	}
	if orders := e.State.Orders("BTC"); len(orders) != 1 {
		t.Errorf("placed limit order must be tracked, have %d", len(orders))
	}
}

func TestPlaceSuppressedWhileSessionPaused(t *testing.T) {
	gw := newFakeGateway()
	e := newTestExecutor(t, gw, openGate(false))

	_, err := e.Place(context.Background(), limitReq(99))
	if !errors.Is(err, ErrPlacementSuppressed) {
		t.Fatalf("err = %v, want ErrPlacementSuppressed", err)
	}
	if len(gw.created) != 0 {
		t.Error("suppressed order must not reach the gateway")
	}
}

func TestPlaceReduceOnlyBypassesSuppression(t *testing.T) {
	gw := newFakeGateway()
	e := newTestExecutor(t, gw, openGate(false))

	req := limitReq(99)
	req.Kind = exchange.KindMarket
	req.ReduceOnly = true
	if _, err := e.Place(context.Background(), req); err != nil {
		t.Fatalf("protective orders must pass a paused session: %v", err)
	}
	if len(gw.created) != 1 {
		t.Error("reduce-only order must reach the gateway")
	}
}

func TestPlaceBatchStopsOnInsufficientMargin(t *testing.T) {
	gw := newFakeGateway()
	gw.failAfter = 2
	gw.failWith = &exchange.APIError{Class: exchange.ClassValidation, StatusCode: 400, Message: "insufficient margin"}
	e := newTestExecutor(t, gw, openGate(true))

	reqs := []exchange.OrderRequest{limitReq(99), limitReq(98), limitReq(97), limitReq(96)}
	placed, err := e.PlaceBatch(context.Background(), "BTC", reqs)
	if !errors.Is(err, ErrMarginUnsafe) {
		t.Fatalf("err = %v, want ErrMarginUnsafe", err)
	}
	if placed != 2 {
		t.Errorf("placed = %d, want 2 before the stop", placed)
	}
	if len(gw.created) != 2 {
		t.Errorf("gateway saw %d creates, the rest of the batch must not be attempted", len(gw.created))
	}
}

func TestPlaceBatchSkipsPerOrderRejections(t *testing.T) {
	gw := newFakeGateway()
	gw.failAfter = 1
	gw.failWith = &exchange.APIError{Class: exchange.ClassValidation, StatusCode: 400, Message: "price off tick"}
	e := newTestExecutor(t, gw, openGate(true))

	// Second order is rejected for its price: skipped, not a batch stop.
	reqs := []exchange.OrderRequest{limitReq(99), limitReq(98)}
	placed, err := e.PlaceBatch(context.Background(), "BTC", reqs)
	if err != nil {
		t.Fatalf("off-tick rejection must not abort the batch: %v", err)
	}
	if placed != 1 {
		t.Errorf("placed = %d, want 1", placed)
	}
}

func TestCancelDropsLocalTracking(t *testing.T) {
	gw := newFakeGateway()
	e := newTestExecutor(t, gw, openGate(true))
	e.State.TrackOrder(exchange.OpenOrder{OrderID: "stale", Symbol: "BTC", Side: exchange.SideBid, Price: 99, Qty: 1, Kind: exchange.KindLimit})

	if err := e.Cancel(context.Background(), "BTC", "stale"); err != nil {
		t.Fatal(err)
	}
	if len(e.State.Orders("BTC")) != 0 {
		t.Error("canceled order must leave local tracking")
	}
}

func TestDryRunNeverCallsGateway(t *testing.T) {
	gw := newFakeGateway()
	e := newTestExecutor(t, gw, openGate(true))
	e.DryRun = true

	res, err := e.Place(context.Background(), limitReq(99))
	if err != nil {
		t.Fatal(err)
	}
	if len(gw.created) != 0 {
		t.Error("dry-run must not reach the gateway")
	}
	if res.OrderID == "" {
		t.Error("dry-run still returns a synthetic order id")
	}
	if err := e.Cancel(context.Background(), "BTC", "whatever"); err != nil {
		t.Fatal(err)
	}
	if len(gw.canceled) != 0 {
		t.Error("dry-run cancel must not reach the gateway")
	}
}
