package events

// Event enumerates high-level topics inside the bot.
type Event string

const (
	EventPriceTick       Event = "price_tick"
	EventOrderPlaced     Event = "order.placed"
	EventOrderRejected   Event = "order.rejected"
	EventOrderCanceled   Event = "order.canceled"
	EventPositionAdopted Event = "position.adopted"
	EventPositionClosed  Event = "position.closed"
	EventMarginAction    Event = "risk.margin_action"
	EventAutoClose       Event = "risk.auto_close"
	EventCoverage        Event = "risk.coverage"
	EventEmergencyClose  Event = "risk.emergency_close"
	EventSessionState    Event = "risk.session_state"
	EventRiskAlert       Event = "risk.alert"
)
