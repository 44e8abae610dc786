package risk

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"pacifica-bot/internal/events"
	"pacifica-bot/pkg/db"
)

// SessionState is the trading session lifecycle.
type SessionState int

const (
	SessionActive SessionState = iota
	SessionPaused
	SessionStopped
)

func (s SessionState) String() string {
	switch s {
	case SessionPaused:
		return "paused"
	case SessionStopped:
		return "stopped"
	}
	return "active"
}

// CycleOutcome is the verdict on one completed position cycle.
type CycleOutcome struct {
	Symbol      string
	RealizedPnL float64
	PnLPercent  float64
	Breached    bool // cycle SL or TP threshold was crossed
	Reason      string
}

// Session accumulates realized PNL across cycles and enforces the two-level
// circuit breaker: a cycle breaker that tears down and rebuilds the grid,
// and a session breaker that pauses or stops the whole bot. Pausing
// suppresses order placement only; protective layers keep running.
type Session struct {
	cfg        Config
	database   *db.Database
	bus        *events.Bus
	instanceID string

	mu           sync.Mutex
	state        SessionState
	pnl          float64 // accumulated realized session PNL, USD
	baseEquity   float64 // equity at session start, for percent limits
	cyclesClosed int
	resumeAt     time.Time
}

// NewSession creates the session risk manager. baseEquity anchors the
// percent-based limits and may be zero when only USD limits are configured.
func NewSession(cfg Config, database *db.Database, bus *events.Bus, instanceID string, baseEquity float64) *Session {
	return &Session{
		cfg:        cfg,
		database:   database,
		bus:        bus,
		instanceID: instanceID,
		baseEquity: baseEquity,
	}
}

// State returns the current session state, auto-resuming an expired pause.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionPaused && !s.resumeAt.IsZero() && time.Now().After(s.resumeAt) {
		s.transition(context.Background(), SessionActive, "pause expired")
	}
	return s.state
}

// CanPlaceOrders reports whether new order placement is permitted.
func (s *Session) CanPlaceOrders() bool {
	return s.State() == SessionActive
}

// AccumulatedPnL returns the realized session PNL in USD.
func (s *Session) AccumulatedPnL() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pnl
}

// OnCycleClosed feeds one completed cycle into both breakers. The returned
// outcome tells the strategy whether the cycle breached its own limits
// (grid teardown + reinit either way; the flag distinguishes circuit-breaker
// exits from ordinary completions).
func (s *Session) OnCycleClosed(ctx context.Context, symbol string, realizedPnL, pnlPercent float64) CycleOutcome {
	out := CycleOutcome{Symbol: symbol, RealizedPnL: realizedPnL, PnLPercent: pnlPercent}
	switch {
	case s.cfg.CycleStopLossPct > 0 && pnlPercent <= -s.cfg.CycleStopLossPct:
		out.Breached = true
		out.Reason = fmt.Sprintf("cycle stop-loss: %.2f%% <= -%.2f%%", pnlPercent, s.cfg.CycleStopLossPct)
	case s.cfg.CycleTakeProfitPct > 0 && pnlPercent >= s.cfg.CycleTakeProfitPct:
		out.Breached = true
		out.Reason = fmt.Sprintf("cycle take-profit: %.2f%% >= %.2f%%", pnlPercent, s.cfg.CycleTakeProfitPct)
	}

	outcome := "profit"
	if realizedPnL < 0 {
		outcome = "loss"
	}
	if s.database != nil {
		err := s.database.RecordCycle(ctx, db.SessionCycle{
			InstanceID:         s.instanceID,
			Symbol:             symbol,
			Outcome:            outcome,
			RealizedPnL:        realizedPnL,
			RealizedPnLPercent: pnlPercent,
			ClosedAt:           time.Now(),
		})
		if err != nil {
			log.Printf("session: cycle persist failed: %v", err)
		}
	}

	s.mu.Lock()
	s.pnl += realizedPnL
	s.cyclesClosed++
	total := s.pnl
	s.mu.Unlock()

	log.Printf("💰 session: cycle closed %s %s %.2f USD (%.2f%%), session total %.2f USD",
		symbol, outcome, realizedPnL, pnlPercent, total)
	if out.Breached {
		log.Printf("⚡ session: %s", out.Reason)
	}
	s.checkSessionLimits(ctx, total)
	return out
}

// checkSessionLimits applies the session-level breaker against accumulated
// PNL. Zero-valued limits are disabled.
func (s *Session) checkSessionLimits(ctx context.Context, total float64) {
	lossPct, profitPct := 0.0, 0.0
	if s.baseEquity > 0 {
		lossPct = -total / s.baseEquity * 100
		profitPct = total / s.baseEquity * 100
	}

	var reason string
	switch {
	case s.cfg.SessionMaxLossUSD > 0 && total <= -s.cfg.SessionMaxLossUSD:
		reason = fmt.Sprintf("session loss limit: %.2f USD", total)
	case s.cfg.SessionMaxLossPct > 0 && lossPct >= s.cfg.SessionMaxLossPct:
		reason = fmt.Sprintf("session loss limit: %.2f%% of starting equity", lossPct)
	case s.cfg.SessionProfitUSD > 0 && total >= s.cfg.SessionProfitUSD:
		reason = fmt.Sprintf("session profit target: %.2f USD", total)
	case s.cfg.SessionProfitPct > 0 && profitPct >= s.cfg.SessionProfitPct:
		reason = fmt.Sprintf("session profit target: %.2f%% of starting equity", profitPct)
	default:
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionActive {
		return
	}
	if s.cfg.SessionAction == ActionShutdown {
		s.transition(ctx, SessionStopped, reason)
		return
	}
	s.resumeAt = time.Now().Add(s.cfg.SessionPauseDuration)
	s.transition(ctx, SessionPaused, reason)
}

// Pause suspends order placement until resumed (manual control path).
func (s *Session) Pause(ctx context.Context, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionActive {
		return
	}
	s.resumeAt = time.Time{} // manual pause has no auto-resume
	s.transition(ctx, SessionPaused, reason)
}

// Resume returns a paused session to active. Stopped is terminal.
func (s *Session) Resume(ctx context.Context, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionPaused {
		return
	}
	s.transition(ctx, SessionActive, reason)
}

// Stop moves the session to the terminal stopped state.
func (s *Session) Stop(ctx context.Context, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionStopped {
		return
	}
	s.transition(ctx, SessionStopped, reason)
}

// transition must be called with s.mu held.
func (s *Session) transition(ctx context.Context, to SessionState, reason string) {
	from := s.state
	s.state = to
	log.Printf("🔔 session: %s -> %s (%s)", from, to, reason)
	rec := db.SessionRecord{
		InstanceID:     s.instanceID,
		State:          to.String(),
		Reason:         reason,
		AccumulatedPnL: s.pnl,
		CyclesClosed:   s.cyclesClosed,
		RecordedAt:     time.Now(),
	}
	if s.database != nil {
		if err := s.database.RecordSessionState(ctx, rec); err != nil {
			log.Printf("session: state persist failed: %v", err)
		}
	}
	if s.bus != nil {
		s.bus.Publish(events.EventSessionState, rec)
	}
}
