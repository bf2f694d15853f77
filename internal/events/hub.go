package events

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fanzplatform/go-mfa-service/internal/service"
)

// subscriber is a connected WebSocket client. Writes are serialized per
// connection; gorilla allows at most one concurrent writer.
type subscriber struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (s *subscriber) send(event service.Event) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(event)
}

// Hub fans MFA lifecycle events out to admin WebSocket subscribers. It
// implements service.Notifier, so the service layer stays unaware of
// transport.
type Hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	subsMu sync.RWMutex
	subs   map[string]*subscriber // connection ID -> subscriber
}

// NewHub creates a new event hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger: logger.Named("event-hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// The endpoint sits behind admin auth; origin is not the gate.
				return true
			},
		},
		subs: make(map[string]*subscriber),
	}
}

// Notify implements service.Notifier. Slow or broken subscribers are
// dropped rather than allowed to stall the caller.
func (h *Hub) Notify(event service.Event) {
	h.subsMu.RLock()
	subs := make(map[string]*subscriber, len(h.subs))
	for id, sub := range h.subs {
		subs[id] = sub
	}
	h.subsMu.RUnlock()

	for id, sub := range subs {
		if err := sub.send(event); err != nil {
			h.logger.Debug("dropping event subscriber", zap.String("conn_id", id), zap.Error(err))
			h.remove(id)
		}
	}
}

// SubscriberCount reports how many clients are currently connected.
func (h *Hub) SubscriberCount() int {
	h.subsMu.RLock()
	defer h.subsMu.RUnlock()
	return len(h.subs)
}

// HandleConnection upgrades the request and streams events until the
// client goes away.
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	id := uuid.New().String()
	h.subsMu.Lock()
	h.subs[id] = &subscriber{conn: conn}
	h.subsMu.Unlock()

	h.logger.Info("event subscriber connected", zap.String("conn_id", id))

	// Drain the read side so pings and close frames are processed.
	go func() {
		defer h.remove(id)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug("event subscriber read error", zap.Error(err))
				}
				return
			}
		}
	}()
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()
	for id, sub := range h.subs {
		sub.conn.Close()
		delete(h.subs, id)
	}
}

func (h *Hub) remove(id string) {
	h.subsMu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.subsMu.Unlock()

	if ok {
		sub.conn.Close()
		h.logger.Info("event subscriber disconnected", zap.String("conn_id", id))
	}
}
