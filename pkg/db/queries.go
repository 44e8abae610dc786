package db

import (
	"context"
	"fmt"
)

// CreateOrder stores a submitted order.
func (d *Database) CreateOrder(ctx context.Context, o Order) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO orders (id, exchange_order_id, symbol, side, kind, price, qty, reduce_only, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.ID, o.ExchangeOrderID, o.Symbol, o.Side, o.Kind, o.Price, o.Qty, boolToInt(o.ReduceOnly), o.Status)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// UpdateOrderStatus updates the stored status of an order.
func (d *Database) UpdateOrderStatus(ctx context.Context, id, status string) error {
	_, err := d.DB.ExecContext(ctx, `UPDATE orders SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return nil
}

// RecentOrders returns the latest orders, newest first.
func (d *Database) RecentOrders(ctx context.Context, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, COALESCE(exchange_order_id, ''), symbol, side, kind, price, qty, reduce_only, status, created_at
		FROM orders ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		var reduceOnly int
		if err := rows.Scan(&o.ID, &o.ExchangeOrderID, &o.Symbol, &o.Side, &o.Kind, &o.Price, &o.Qty, &reduceOnly, &o.Status, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.ReduceOnly = reduceOnly == 1
		out = append(out, o)
	}
	return out, rows.Err()
}

// RecordCycle stores a closed cycle outcome.
func (d *Database) RecordCycle(ctx context.Context, c SessionCycle) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO session_cycles (instance_id, symbol, outcome, realized_pnl, realized_pnl_percent)
		VALUES (?, ?, ?, ?, ?)
	`, c.InstanceID, c.Symbol, c.Outcome, c.RealizedPnL, c.RealizedPnLPercent)
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}
	return nil
}

// RecordSessionState stores a session state transition for audit.
func (d *Database) RecordSessionState(ctx context.Context, r SessionRecord) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO session_history (instance_id, state, reason, accumulated_pnl, cycles_closed)
		VALUES (?, ?, ?, ?, ?)
	`, r.InstanceID, r.State, r.Reason, r.AccumulatedPnL, r.CyclesClosed)
	if err != nil {
		return fmt.Errorf("insert session record: %w", err)
	}
	return nil
}

// RecordRiskEvent stores a corrective action with before/after state.
func (d *Database) RecordRiskEvent(ctx context.Context, e RiskEvent) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO risk_events (instance_id, symbol, layer, action, before_value, after_value, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.InstanceID, e.Symbol, e.Layer, e.Action, e.BeforeValue, e.AfterValue, e.Detail)
	if err != nil {
		return fmt.Errorf("insert risk event: %w", err)
	}
	return nil
}

// RecentRiskEvents returns the latest corrective actions, newest first.
func (d *Database) RecentRiskEvents(ctx context.Context, limit int) ([]RiskEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, COALESCE(instance_id, ''), COALESCE(symbol, ''), layer, action,
		       COALESCE(before_value, 0), COALESCE(after_value, 0), COALESCE(detail, ''), created_at
		FROM risk_events ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query risk events: %w", err)
	}
	defer rows.Close()

	var out []RiskEvent
	for rows.Next() {
		var e RiskEvent
		if err := rows.Scan(&e.ID, &e.InstanceID, &e.Symbol, &e.Layer, &e.Action, &e.BeforeValue, &e.AfterValue, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
