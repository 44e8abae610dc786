package monitor

import (
	"context"
	"fmt"
	"log"
	"time"

	"pacifica-bot/internal/events"
	"pacifica-bot/internal/notify"
	"pacifica-bot/internal/state"
	"pacifica-bot/pkg/db"
)

// Monitor forwards risk alerts, session transitions and position
// adoptions to the operator.
type Monitor struct {
	Bus  *events.Bus
	Sink notify.Sink
}

// Start subscribes to the alert topics until ctx is canceled.
func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.Sink == nil {
		log.Println("monitor not fully configured; skipping")
		return
	}
	alerts, unsubAlerts := m.Bus.Subscribe(events.EventRiskAlert, 50)
	sessions, unsubSessions := m.Bus.Subscribe(events.EventSessionState, 10)
	adoptions, unsubAdoptions := m.Bus.Subscribe(events.EventPositionAdopted, 10)
	go func() {
		defer unsubAlerts()
		defer unsubSessions()
		defer unsubAdoptions()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-alerts:
				if !ok {
					return
				}
				m.Sink.Notify(formatAlert(msg))
			case msg, ok := <-sessions:
				if !ok {
					return
				}
				m.Sink.Notify(formatSession(msg))
			case msg, ok := <-adoptions:
				if !ok {
					return
				}
				m.Sink.Notify(formatAdoption(msg))
			}
		}
	}()
}

func formatAlert(msg any) string {
	ts := time.Now().Format("15:04:05")
	if e, ok := msg.(db.RiskEvent); ok {
		return fmt.Sprintf("[%s] %s %s %s: %.4f -> %.4f %s",
			ts, e.Layer, e.Symbol, e.Action, e.BeforeValue, e.AfterValue, e.Detail)
	}
	return fmt.Sprintf("[%s] risk alert: %v", ts, msg)
}

func formatAdoption(msg any) string {
	ts := time.Now().Format("15:04:05")
	if p, ok := msg.(state.Position); ok {
		return fmt.Sprintf("[%s] adopted untracked %s %s position: %.8f @ %.4f",
			ts, p.Symbol, p.Side, p.Qty, p.EntryPrice)
	}
	return fmt.Sprintf("[%s] adopted untracked position: %v", ts, msg)
}

func formatSession(msg any) string {
	ts := time.Now().Format("15:04:05")
	if r, ok := msg.(db.SessionRecord); ok {
		return fmt.Sprintf("[%s] session %s (%s), pnl %.2f USD over %d cycles",
			ts, r.State, r.Reason, r.AccumulatedPnL, r.CyclesClosed)
	}
	return fmt.Sprintf("[%s] session update: %v", ts, msg)
}
