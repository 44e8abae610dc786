package order

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"pacifica-bot/internal/events"
	"pacifica-bot/internal/risk"
	"pacifica-bot/internal/state"
	"pacifica-bot/pkg/db"
	"pacifica-bot/pkg/exchange"
)

// ErrMarginUnsafe aborts a placement batch when the pre-check finds margin
// already strained; the remaining orders in the batch are not attempted.
var ErrMarginUnsafe = errors.New("executor: margin pre-check failed, batch stopped")

// ErrPlacementSuppressed is returned while the session or a stop-buy latch
// forbids new establishing orders.
var ErrPlacementSuppressed = errors.New("executor: order placement currently suppressed")

// PlacementGate answers whether new order placement is allowed right now.
type PlacementGate interface {
	CanPlaceOrders() bool
}

// Executor persists orders, routes them to the gateway, and emits updates.
// Every placement batch runs the margin guard first, and stops at the first
// insufficient-margin rejection rather than hammering a strained account.
type Executor struct {
	DB      *db.Database
	Bus     *events.Bus
	Gateway exchange.Gateway
	Guard   *risk.Guard
	Limiter *risk.Limiter
	State   *state.Manager
	Gate    PlacementGate

	// DryRun logs and persists orders without calling the exchange.
	DryRun bool
}

// NewExecutor wires an executor with its risk pre-checks.
func NewExecutor(database *db.Database, bus *events.Bus, gw exchange.Gateway, guard *risk.Guard, limiter *risk.Limiter, st *state.Manager, gate PlacementGate) *Executor {
	return &Executor{
		DB:      database,
		Bus:     bus,
		Gateway: gw,
		Guard:   guard,
		Limiter: limiter,
		State:   st,
		Gate:    gate,
	}
}

// Place submits one order. The caller is expected to hold the symbol's
// critical section; batch placement goes through PlaceBatch.
func (e *Executor) Place(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	if req.ClientID == "" {
		req.ClientID = uuid.NewString()
	}
	if !req.ReduceOnly {
		if e.Gate != nil && !e.Gate.CanPlaceOrders() {
			return exchange.OrderResult{}, ErrPlacementSuppressed
		}
		if e.Limiter != nil && e.Limiter.BuyHalted(req.Symbol) && e.establishes(req) {
			return exchange.OrderResult{}, ErrPlacementSuppressed
		}
	}

	row := db.Order{
		ID:         req.ClientID,
		Symbol:     req.Symbol,
		Side:       string(req.Side),
		Kind:       string(req.Kind),
		Price:      req.Price,
		Qty:        req.Qty,
		ReduceOnly: req.ReduceOnly,
		Status:     "NEW",
		CreatedAt:  time.Now(),
	}

	if e.DryRun {
		log.Printf("📝 executor[dry-run]: %s %s %s qty=%.8g price=%.8g", req.Symbol, req.Side, req.Kind, req.Qty, req.Price)
		row.Status = "SIMULATED"
		e.persist(ctx, row)
		return exchange.OrderResult{OrderID: "dry-" + req.ClientID, ClientID: req.ClientID}, nil
	}

	res, err := e.Gateway.CreateOrder(ctx, req)
	if err != nil {
		row.Status = "REJECTED"
		e.persist(ctx, row)
		if e.Bus != nil {
			e.Bus.Publish(events.EventOrderRejected, row)
		}
		return exchange.OrderResult{}, fmt.Errorf("executor: place %s %s: %w", req.Symbol, req.Side, err)
	}

	row.ExchangeOrderID = res.OrderID
	e.persist(ctx, row)
	if e.State != nil && req.Kind == exchange.KindLimit {
		e.State.TrackOrder(exchange.OpenOrder{
			OrderID:    res.OrderID,
			ClientID:   req.ClientID,
			Symbol:     req.Symbol,
			Side:       req.Side,
			Price:      req.Price,
			Qty:        req.Qty,
			Kind:       req.Kind,
			ReduceOnly: req.ReduceOnly,
		})
	}
	if e.Bus != nil {
		e.Bus.Publish(events.EventOrderPlaced, row)
	}
	log.Printf("✅ executor: %s %s %s qty=%.8g price=%.8g id=%s", req.Symbol, req.Side, req.Kind, req.Qty, req.Price, res.OrderID)
	return res, nil
}

// PlaceBatch runs the margin pre-check once, then places orders in sequence.
// The first insufficient-margin rejection stops the whole batch; other
// per-order rejections skip that order and continue.
func (e *Executor) PlaceBatch(ctx context.Context, symbol string, reqs []exchange.OrderRequest) (placed int, err error) {
	if len(reqs) == 0 {
		return 0, nil
	}
	if e.Guard != nil && !e.DryRun {
		act, gerr := e.Guard.CheckMarginSafety(ctx, symbol)
		if gerr != nil {
			return 0, gerr
		}
		if act == risk.ActionReducePosition {
			return 0, ErrMarginUnsafe
		}
	}

	for _, req := range reqs {
		if _, perr := e.Place(ctx, req); perr != nil {
			if errors.Is(perr, ErrPlacementSuppressed) {
				return placed, perr
			}
			if isInsufficientMargin(perr) {
				log.Printf("⚠️ executor[%s]: insufficient margin after %d orders, stopping batch", symbol, placed)
				return placed, ErrMarginUnsafe
			}
			// Other rejections (off-tick price etc.) are per-order problems;
			// the rest of the batch still stands a chance.
			log.Printf("executor[%s]: order skipped: %v", symbol, perr)
			continue
		}
		placed++
	}
	return placed, nil
}

// Cancel withdraws one resting order and updates bookkeeping.
func (e *Executor) Cancel(ctx context.Context, symbol, orderID string) error {
	if e.DryRun {
		log.Printf("📝 executor[dry-run]: cancel %s %s", symbol, orderID)
		return nil
	}
	if err := e.Gateway.CancelOrder(ctx, symbol, orderID); err != nil {
		if exchange.IsValidation(err) {
			// Already filled or gone: reconcile locally and move on.
			if e.State != nil {
				e.State.DropOrder(symbol, orderID)
			}
			return nil
		}
		return fmt.Errorf("executor: cancel %s: %w", orderID, err)
	}
	if e.State != nil {
		e.State.DropOrder(symbol, orderID)
	}
	if e.DB != nil {
		if err := e.DB.UpdateOrderStatus(ctx, orderID, "CANCELED"); err != nil {
			log.Printf("executor: status update failed: %v", err)
		}
	}
	if e.Bus != nil {
		e.Bus.Publish(events.EventOrderCanceled, orderID)
	}
	return nil
}

// CancelAll withdraws every tracked resting order for the symbol.
func (e *Executor) CancelAll(ctx context.Context, symbol string) (int, error) {
	if e.State == nil {
		return 0, nil
	}
	n := 0
	for _, o := range e.State.Orders(symbol) {
		if err := e.Cancel(ctx, symbol, o.OrderID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// establishes reports whether req grows the current position (or opens one)
// rather than reducing it.
func (e *Executor) establishes(req exchange.OrderRequest) bool {
	if e.State == nil {
		return true
	}
	pos, ok := e.State.Position(req.Symbol)
	if !ok {
		return true
	}
	return req.Side == pos.Side
}

func (e *Executor) persist(ctx context.Context, row db.Order) {
	if e.DB == nil {
		return
	}
	if err := e.DB.CreateOrder(ctx, row); err != nil {
		log.Printf("executor: persist failed: %v", err)
	}
}

// isInsufficientMargin spots the exchange's margin rejection among
// validation errors.
func isInsufficientMargin(err error) bool {
	var ae *exchange.APIError
	if !errors.As(err, &ae) {
		return false
	}
	if ae.Class != exchange.ClassValidation {
		return false
	}
	msg := strings.ToLower(ae.Message)
	return strings.Contains(msg, "margin") || strings.Contains(msg, "insufficient")
}
