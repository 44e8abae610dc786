package risk

import (
	"context"
	"log"

	"pacifica-bot/internal/events"
	"pacifica-bot/pkg/db"
)

// Recorder writes corrective actions to the audit trail and announces them
// on the bus. Both sinks are best-effort: a failed insert never blocks the
// protective action that produced it.
type Recorder struct {
	DB         *db.Database
	Bus        *events.Bus
	InstanceID string
}

// Record logs, persists, and publishes one corrective action.
func (r *Recorder) Record(ctx context.Context, topic events.Event, e db.RiskEvent) {
	log.Printf("🛡 %s/%s %s: before=%.4f after=%.4f %s", e.Layer, e.Symbol, e.Action, e.BeforeValue, e.AfterValue, e.Detail)
	if r == nil {
		return
	}
	e.InstanceID = r.InstanceID
	if r.DB != nil {
		if err := r.DB.RecordRiskEvent(ctx, e); err != nil {
			log.Printf("risk audit write failed: %v", err)
		}
	}
	if r.Bus != nil {
		r.Bus.Publish(topic, e)
		r.Bus.Publish(events.EventRiskAlert, e)
	}
}
