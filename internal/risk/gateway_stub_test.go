package risk

import (
	"context"
	"fmt"
	"sync"

	"pacifica-bot/pkg/exchange"
)

// stubGateway is a scriptable in-memory Gateway. Account snapshots are
// consumed as a queue so tests can model margin recovering between
// re-checks; the final snapshot repeats once the queue drains.
type stubGateway struct {
	mu        sync.Mutex
	positions map[string][]exchange.Position
	orders    map[string][]exchange.OpenOrder
	accounts  []exchange.AccountState
	info      exchange.SymbolInfo
	mark      float64

	created   []exchange.OrderRequest
	canceled  []string
	createErr error
	// createErrLimit > 0 fails only that many creates, then clears the
	// error. Zero means the error is permanent.
	createErrLimit int
	cancelErr      error
	seq            int
}

func newStubGateway() *stubGateway {
	return &stubGateway{
		positions: make(map[string][]exchange.Position),
		orders:    make(map[string][]exchange.OpenOrder),
		info:      exchange.SymbolInfo{TickSize: 0.01, LotSize: 0.001},
	}
}

func (g *stubGateway) GetPositions(ctx context.Context, symbol string) ([]exchange.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]exchange.Position(nil), g.positions[symbol]...), nil
}

func (g *stubGateway) GetOpenOrders(ctx context.Context, symbol string) ([]exchange.OpenOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]exchange.OpenOrder(nil), g.orders[symbol]...), nil
}

func (g *stubGateway) GetAccountInfo(ctx context.Context) (exchange.AccountState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.accounts) == 0 {
		return exchange.AccountState{Equity: 100}, nil
	}
	head := g.accounts[0]
	if len(g.accounts) > 1 {
		g.accounts = g.accounts[1:]
	}
	return head, nil
}

func (g *stubGateway) GetSymbolInfo(ctx context.Context, symbol string) (exchange.SymbolInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	info := g.info
	info.Symbol = symbol
	return info, nil
}

func (g *stubGateway) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mark, nil
}

func (g *stubGateway) CreateOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		err := g.createErr
		if g.createErrLimit > 0 {
			g.createErrLimit--
			if g.createErrLimit == 0 {
				g.createErr = nil
			}
		}
		return exchange.OrderResult{}, err
	}
	g.seq++
	g.created = append(g.created, req)
	return exchange.OrderResult{OrderID: fmt.Sprintf("ord-%d", g.seq)}, nil
}

func (g *stubGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancelErr != nil {
		return g.cancelErr
	}
	g.canceled = append(g.canceled, orderID)
	kept := g.orders[symbol][:0]
	for _, o := range g.orders[symbol] {
		if o.OrderID != orderID {
			kept = append(kept, o)
		}
	}
	g.orders[symbol] = kept
	return nil
}

func (g *stubGateway) createdOrders() []exchange.OrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]exchange.OrderRequest(nil), g.created...)
}

func (g *stubGateway) canceledIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.canceled...)
}
