package ws

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/tradervane/brokerpulse/internal/event"
	"github.com/tradervane/brokerpulse/internal/monitor"
)

// Handler provides the WebSocket endpoint for real-time health updates.
type Handler struct {
	hub    *Hub
	bus    *event.Bus
	logger *zap.Logger
}

// Compile-time check that Handler implements the server interface.
var _ interface {
	RegisterRoutes(mux *http.ServeMux)
} = (*Handler)(nil)

// NewHandler creates a WebSocket handler and subscribes to monitor events.
func NewHandler(bus *event.Bus, logger *zap.Logger) *Handler {
	h := &Handler{
		hub:    NewHub(logger),
		bus:    bus,
		logger: logger,
	}
	h.subscribeToEvents()
	return h
}

// RegisterRoutes registers WebSocket routes on the server mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/ws/{user_id}", h.handleHealthStream)
}

// handleHealthStream upgrades the connection and streams the user's health
// updates and alerts until the client disconnects.
func (h *Handler) handleHealthStream(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error("websocket accept failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:   conn,
		userID: userID,
		send:   make(chan Message, 256),
		logger: h.logger,
	}

	h.hub.Register(client)

	// Run read and write pumps. When either exits, clean up.
	ctx := r.Context()
	done := make(chan struct{})
	go func() {
		client.writePump(ctx)
		close(done)
	}()

	// readPump blocks until client disconnects.
	client.readPump(ctx)

	h.hub.Unregister(client)
	conn.Close(websocket.StatusNormalClosure, "")
	<-done
}

// subscribeToEvents forwards monitor bus events to the owning user's
// connected clients.
func (h *Handler) subscribeToEvents() {
	if h.bus == nil {
		return
	}

	h.bus.Subscribe(monitor.TopicHealthUpdated, func(_ context.Context, ev event.Event) {
		rec, ok := ev.Payload.(monitor.HealthRecord)
		if !ok {
			return
		}
		h.hub.BroadcastUser(rec.UserID, Message{
			Type:      MessageHealthUpdate,
			UserID:    rec.UserID,
			Timestamp: ev.Timestamp,
			Data:      rec,
		})
	})

	h.bus.Subscribe(monitor.TopicAlertRaised, func(_ context.Context, ev event.Event) {
		alert, ok := ev.Payload.(monitor.Alert)
		if !ok {
			return
		}
		h.hub.BroadcastUser(alert.UserID, Message{
			Type:      MessageAlert,
			UserID:    alert.UserID,
			Timestamp: ev.Timestamp,
			Data:      alert,
		})
	})

	h.logger.Info("subscribed to monitor events for WebSocket broadcasting")
}
