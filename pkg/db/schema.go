package db

import "fmt"

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS orders (
    id TEXT PRIMARY KEY,
    exchange_order_id TEXT,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    kind TEXT NOT NULL,
    price REAL NOT NULL,
    qty REAL NOT NULL,
    reduce_only INTEGER DEFAULT 0,
    status TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS session_cycles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    instance_id TEXT,
    symbol TEXT NOT NULL,
    outcome TEXT NOT NULL,
    realized_pnl REAL NOT NULL,
    realized_pnl_percent REAL NOT NULL,
    closed_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS session_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    instance_id TEXT,
    state TEXT NOT NULL,
    reason TEXT,
    accumulated_pnl REAL NOT NULL,
    cycles_closed INTEGER NOT NULL,
    recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS risk_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    instance_id TEXT,
    symbol TEXT,
    layer TEXT NOT NULL,
    action TEXT NOT NULL,
    before_value REAL,
    after_value REAL,
    detail TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol);
CREATE INDEX IF NOT EXISTS idx_cycles_symbol ON session_cycles(symbol);
CREATE INDEX IF NOT EXISTS idx_risk_events_layer ON risk_events(layer);
`

// ApplyMigrations creates the schema when missing.
func ApplyMigrations(d *Database) error {
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
