package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pacifica-bot/internal/events"
	"pacifica-bot/internal/order"
	"pacifica-bot/internal/risk"
	"pacifica-bot/internal/state"
	"pacifica-bot/pkg/exchange"
)

type apiGateway struct {
	positions []exchange.Position
	created   []exchange.OrderRequest
}

func (g *apiGateway) GetPositions(ctx context.Context, symbol string) ([]exchange.Position, error) {
	return g.positions, nil
}
func (g *apiGateway) GetOpenOrders(ctx context.Context, symbol string) ([]exchange.OpenOrder, error) {
	return nil, nil
}
func (g *apiGateway) GetAccountInfo(ctx context.Context) (exchange.AccountState, error) {
	return exchange.AccountState{Equity: 1000, Balance: 900, MarginUsed: 200}, nil
}
func (g *apiGateway) GetSymbolInfo(ctx context.Context, symbol string) (exchange.SymbolInfo, error) {
	return exchange.SymbolInfo{Symbol: symbol, TickSize: 0.01, LotSize: 0.001}, nil
}
func (g *apiGateway) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	return 100, nil
}
func (g *apiGateway) CreateOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	g.created = append(g.created, req)
	return exchange.OrderResult{OrderID: "x-1"}, nil
}
func (g *apiGateway) CancelOrder(ctx context.Context, symbol, orderID string) error { return nil }

const testSecret = "test-secret"

func newTestServer(t *testing.T) (*Server, *apiGateway) {
	t.Helper()
	gw := &apiGateway{}
	bus := events.NewBus()
	st := state.NewManager(gw, bus, state.ResetOnRecovery)
	cfg := risk.DefaultConfig()
	guard := risk.NewGuard(cfg, st, gw, &risk.Recorder{})
	lim := risk.NewLimiter(cfg, st, gw, guard, &risk.Recorder{})
	sess := risk.NewSession(cfg, nil, bus, "test", 1000)
	exec := order.NewExecutor(nil, bus, gw, guard, lim, st, sess)
	return NewServer(bus, nil, st, sess, lim, guard, exec, gw, testSecret, Meta{Symbols: []string{"BTC"}, Version: "test"}), gw
}

func authedRequest(t *testing.T, method, path string, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	tok, err := generateToken(testSecret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	return req
}

func TestIssueTokenAndAuth(t *testing.T) {
	s, _ := newTestServer(t)

	// Wrong secret.
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, httptest.NewRequest("POST", "/api/auth/token", bytes.NewReader([]byte(`{"secret":"nope"}`))))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad secret -> %d, want 401", w.Code)
	}

	// Right secret yields a token that passes the middleware.
	w = httptest.NewRecorder()
	s.Router.ServeHTTP(w, httptest.NewRequest("POST", "/api/auth/token", bytes.NewReader([]byte(`{"secret":"test-secret"}`))))
	if w.Code != http.StatusOK {
		t.Fatalf("token issue -> %d, want 200", w.Code)
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Token == "" {
		t.Fatalf("bad token response: %s", w.Body.String())
	}

	req := httptest.NewRequest("GET", "/api/status", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	w = httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authed status -> %d, want 200", w.Code)
	}
}

func TestProtectedRoutesRejectMissingToken(t *testing.T) {
	s, _ := newTestServer(t)
	for _, path := range []string{"/api/status", "/api/positions", "/api/orders"} {
		w := httptest.NewRecorder()
		s.Router.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s without token -> %d, want 401", path, w.Code)
		}
	}
}

func TestSessionControls(t *testing.T) {
	s, _ := newTestServer(t)

	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, authedRequest(t, "POST", "/api/session/pause", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("pause -> %d", w.Code)
	}
	if s.Session.State() != risk.SessionPaused {
		t.Error("pause endpoint must pause the session")
	}

	w = httptest.NewRecorder()
	s.Router.ServeHTTP(w, authedRequest(t, "POST", "/api/session/resume", nil))
	if s.Session.State() != risk.SessionActive {
		t.Error("resume endpoint must reactivate the session")
	}
}

func TestSetCeiling(t *testing.T) {
	s, _ := newTestServer(t)

	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, authedRequest(t, "PUT", "/api/risk/ceiling", []byte(`{"ceiling_usd":2500}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("set ceiling -> %d", w.Code)
	}
	if s.Limiter.Ceiling() != 2500 {
		t.Errorf("ceiling = %v, want 2500", s.Limiter.Ceiling())
	}

	w = httptest.NewRecorder()
	s.Router.ServeHTTP(w, authedRequest(t, "PUT", "/api/risk/ceiling", []byte(`{"ceiling_usd":-1}`)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("negative ceiling -> %d, want 400", w.Code)
	}
}

func TestForceCloseUnknownSymbol(t *testing.T) {
	s, _ := newTestServer(t)
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, authedRequest(t, "POST", "/api/close/DOGE", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown symbol -> %d, want 404", w.Code)
	}
}

func TestForceCloseOpenPosition(t *testing.T) {
	s, gw := newTestServer(t)
	gw.positions = []exchange.Position{
		{Symbol: "BTC", Side: exchange.SideBid, Qty: 0.5, EntryPrice: 100, MarkPrice: 100},
	}
	if err := s.State.Sync(context.Background(), "BTC"); err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, authedRequest(t, "POST", "/api/close/BTC", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("force close -> %d: %s", w.Code, w.Body.String())
	}
	if len(gw.created) != 1 {
		t.Fatalf("created %d orders, want 1 market close", len(gw.created))
	}
	req := gw.created[0]
	if req.Side != exchange.SideAsk || !req.ReduceOnly || req.Kind != exchange.KindMarket {
		t.Errorf("close order = %+v, want reduce-only market ask", req)
	}
	if _, ok := s.State.Position("BTC"); ok {
		t.Error("force close must purge the local position")
	}
}
