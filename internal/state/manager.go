// Package state owns the bot's local view of open orders and positions and
// keeps it consistent with the exchange's authoritative state.
package state

import (
	"context"
	"log"
	"sync"
	"time"

	"pacifica-bot/internal/events"
	"pacifica-bot/pkg/exchange"
)

// book holds one symbol's tracked state. opMu is the symbol's critical
// section: any actor running a read-decide-mutate sequence (main loop,
// dashboard) holds it for the whole sequence. mu guards the data itself and
// is only ever held briefly, so accessor calls from inside a critical
// section cannot deadlock.
type book struct {
	opMu sync.Mutex

	mu        sync.Mutex
	position  *Position // Pacifica is one-way mode: at most one per symbol
	orders    map[string]exchange.OpenOrder
	markPrice float64 // last known-good, fallback when the feed misbehaves
	lastSync  time.Time
}

// Manager reconciles local state against the gateway per symbol.
// Symbols are fully independent: each has its own lock, so a stalled sync on
// one symbol never serializes the others.
type Manager struct {
	gateway exchange.Gateway
	bus     *events.Bus
	policy  LossResetPolicy

	mu    sync.RWMutex
	books map[string]*book
}

// NewManager creates a state manager for the configured symbols.
func NewManager(gateway exchange.Gateway, bus *events.Bus, policy LossResetPolicy) *Manager {
	if policy == "" {
		policy = ResetOnRecovery
	}
	return &Manager{
		gateway: gateway,
		bus:     bus,
		policy:  policy,
		books:   make(map[string]*book),
	}
}

func (m *Manager) book(symbol string) *book {
	m.mu.RLock()
	b, ok := m.books[symbol]
	m.mu.RUnlock()
	if ok {
		return b
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok = m.books[symbol]; ok {
		return b
	}
	b = &book{orders: make(map[string]exchange.OpenOrder)}
	m.books[symbol] = b
	return b
}

// Locker exposes the per-symbol critical section. Any actor that mutates
// orders for a symbol (the main loop, the dashboard) must hold this lock
// around its read-decide-mutate sequence. It is distinct from the data lock,
// so holding it while calling accessors is safe.
func (m *Manager) Locker(symbol string) sync.Locker {
	return &m.book(symbol).opMu
}

// Sync pulls authoritative positions and orders for one symbol and
// reconciles the local view: entries the exchange no longer reports are
// purged, entries it reports that we do not track are adopted. Adopted
// orphans are announced on the bus so the protection layers evaluate them
// within the same polling cycle.
func (m *Manager) Sync(ctx context.Context, symbol string) error {
	positions, err := m.gateway.GetPositions(ctx, symbol)
	if err != nil {
		return err
	}
	orders, err := m.gateway.GetOpenOrders(ctx, symbol)
	if err != nil {
		return err
	}

	b := m.book(symbol)
	b.mu.Lock()
	defer b.mu.Unlock()

	var adopted *Position

	// Reconcile the (at most one) position.
	var auth *exchange.Position
	for i := range positions {
		if positions[i].Symbol == symbol { // belt and braces: gateway already filters
			auth = &positions[i]
			break
		}
	}
	switch {
	case auth == nil && b.position != nil:
		log.Printf("state[%s]: position closed on exchange, purging local entry (qty=%.6f)", symbol, b.position.Qty)
		closed := *b.position
		b.position = nil
		if m.bus != nil {
			m.bus.Publish(events.EventPositionClosed, closed)
		}
	case auth != nil && b.position == nil:
		pos := m.fromAuthoritative(*auth)
		pos.Adopted = true
		b.position = pos
		adopted = pos
		log.Printf("state[%s]: adopted orphan position %s qty=%.6f entry=%.4f", symbol, pos.Side, pos.Qty, pos.EntryPrice)
	case auth != nil:
		m.updateFromAuthoritative(b.position, *auth)
	}

	// Reconcile orders wholesale: the authoritative list wins.
	fresh := make(map[string]exchange.OpenOrder, len(orders))
	for _, o := range orders {
		if o.Symbol != symbol {
			continue
		}
		fresh[o.OrderID] = o
	}
	for id := range b.orders {
		if _, ok := fresh[id]; !ok {
			delete(b.orders, id)
		}
	}
	for id, o := range fresh {
		b.orders[id] = o
	}
	b.lastSync = time.Now()

	if adopted != nil && m.bus != nil {
		m.bus.Publish(events.EventPositionAdopted, *adopted)
	}
	return nil
}

// RefreshPrice updates the cached mark price. An invalid price (<= 0) or a
// failed fetch keeps the last known-good value rather than halting; the
// feed is re-tried on the next tick.
func (m *Manager) RefreshPrice(ctx context.Context, symbol string) float64 {
	b := m.book(symbol)

	price, err := m.gateway.GetMarkPrice(ctx, symbol)
	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil || price <= 0 {
		log.Printf("state[%s]: price refresh failed (%v), keeping last known-good %.4f", symbol, err, b.markPrice)
		return b.markPrice
	}
	b.markPrice = price
	if b.position != nil {
		b.position.MarkPrice = price
		m.refreshPnL(b.position)
	}
	if m.bus != nil {
		m.bus.Publish(events.EventPriceTick, map[string]any{"symbol": symbol, "price": price})
	}
	return price
}

// MarkPrice returns the last known-good mark price for a symbol.
func (m *Manager) MarkPrice(symbol string) float64 {
	b := m.book(symbol)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.markPrice
}

// Position returns a copy of the tracked position, if any.
func (m *Manager) Position(symbol string) (Position, bool) {
	b := m.book(symbol)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.position == nil {
		return Position{}, false
	}
	return *b.position, true
}

// Orders returns a snapshot of tracked open orders for a symbol.
func (m *Manager) Orders(symbol string) []exchange.OpenOrder {
	b := m.book(symbol)
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]exchange.OpenOrder, 0, len(b.orders))
	for _, o := range b.orders {
		out = append(out, o)
	}
	return out
}

// SetProtection records the protective order ids for the tracked position.
func (m *Manager) SetProtection(symbol, tpID, slID string) {
	b := m.book(symbol)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.position == nil {
		return
	}
	b.position.TakeProfitOrderID = tpID
	b.position.StopLossOrderID = slID
}

// ClearPosition purges the tracked position and its protective ids together,
// used when the exchange denies a position the bot still tracks.
func (m *Manager) ClearPosition(symbol string) {
	b := m.book(symbol)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.position = nil
}

// DropOrder removes a canceled/filled order from the local view without
// waiting for the next sync pass.
func (m *Manager) DropOrder(symbol, orderID string) {
	b := m.book(symbol)
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.orders, orderID)
}

// TrackOrder adds a freshly placed order to the local view.
func (m *Manager) TrackOrder(o exchange.OpenOrder) {
	b := m.book(o.Symbol)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders[o.OrderID] = o
}

func (m *Manager) fromAuthoritative(a exchange.Position) *Position {
	p := &Position{
		Symbol:            a.Symbol,
		Side:              a.Side,
		Qty:               a.Qty,
		EntryPrice:        a.EntryPrice,
		MarkPrice:         a.MarkPrice,
		UnrealizedPnL:     a.UnrealizedPnL,
		Margin:            a.Margin,
		Leverage:          a.Leverage,
		OpenedAt:          time.Now(),
		TakeProfitOrderID: a.TakeProfitOrderID,
		StopLossOrderID:   a.StopLossOrderID,
	}
	m.trackLoss(p)
	return p
}

func (m *Manager) updateFromAuthoritative(p *Position, a exchange.Position) {
	p.Side = a.Side
	p.Qty = a.Qty
	p.EntryPrice = a.EntryPrice
	if a.MarkPrice > 0 {
		p.MarkPrice = a.MarkPrice
	}
	p.UnrealizedPnL = a.UnrealizedPnL
	p.Margin = a.Margin
	p.Leverage = a.Leverage
	if a.TakeProfitOrderID != "" {
		p.TakeProfitOrderID = a.TakeProfitOrderID
	}
	if a.StopLossOrderID != "" {
		p.StopLossOrderID = a.StopLossOrderID
	}
	m.trackLoss(p)
}

// refreshPnL recomputes unrealized PNL from entry/mark/qty after a price-only
// update, then advances the time-in-loss clock.
func (m *Manager) refreshPnL(p *Position) {
	if p.EntryPrice > 0 && p.MarkPrice > 0 {
		diff := p.MarkPrice - p.EntryPrice
		if p.Side == exchange.SideAsk {
			diff = -diff
		}
		p.UnrealizedPnL = diff * p.Qty
	}
	m.trackLoss(p)
}

// trackLoss maintains the continuous time-in-loss clock under the configured
// reset policy.
func (m *Manager) trackLoss(p *Position) {
	switch {
	case p.UnrealizedPnL >= 0:
		p.lossSince = time.Time{}
	case m.policy == ResetOnAnyTick && p.hasLastPnL && p.UnrealizedPnL > p.lastPnL:
		// Favorable tick while still underwater restarts the clock.
		p.lossSince = time.Now()
	case p.lossSince.IsZero():
		p.lossSince = time.Now()
	}
	p.lastPnL = p.UnrealizedPnL
	p.hasLastPnL = true
}
