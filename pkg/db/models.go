package db

import "time"

// Order represents a submitted order stored for audit.
type Order struct {
	ID              string
	ExchangeOrderID string
	Symbol          string
	Side            string
	Kind            string
	Price           float64
	Qty             float64
	ReduceOnly      bool
	Status          string
	CreatedAt       time.Time
}

// SessionCycle is one closed grid cycle with its realized outcome.
type SessionCycle struct {
	ID                 int64
	InstanceID         string
	Symbol             string
	Outcome            string // profit or loss
	RealizedPnL        float64
	RealizedPnLPercent float64
	ClosedAt           time.Time
}

// SessionRecord is an audit row for a session state transition.
type SessionRecord struct {
	ID             int64
	InstanceID     string
	State          string
	Reason         string
	AccumulatedPnL float64
	CyclesClosed   int
	RecordedAt     time.Time
}

// RiskEvent records a corrective action with before/after numeric state.
type RiskEvent struct {
	ID          int64
	InstanceID  string
	Symbol      string
	Layer       string // margin_guard, auto_close, coverage, emergency, session
	Action      string
	BeforeValue float64
	AfterValue  float64
	Detail      string
	CreatedAt   time.Time
}
