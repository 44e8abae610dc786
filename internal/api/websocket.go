package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"pacifica-bot/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocket streams price ticks, risk alerts, and session transitions to
// the dashboard as JSON frames.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	ticks, unsubTicks := s.Bus.Subscribe(events.EventPriceTick, 100)
	alerts, unsubAlerts := s.Bus.Subscribe(events.EventRiskAlert, 50)
	sessions, unsubSessions := s.Bus.Subscribe(events.EventSessionState, 10)
	defer unsubTicks()
	defer unsubAlerts()
	defer unsubSessions()

	write := func(topic string, payload any) bool {
		if err := conn.WriteJSON(map[string]any{"topic": topic, "data": payload}); err != nil {
			log.Printf("ws write error: %v", err)
			return false
		}
		return true
	}

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case msg, ok := <-ticks:
			if !ok || !write("price_tick", msg) {
				return
			}
		case msg, ok := <-alerts:
			if !ok || !write("risk_alert", msg) {
				return
			}
		case msg, ok := <-sessions:
			if !ok || !write("session", msg) {
				return
			}
		}
	}
}
