// Package httpapi exposes the admin HTTP surface: a /ws/topology feed
// for external dashboards, registered on the same admin mux as the health
// routes by cmd/apexd (metrics are served by a separate server).
package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/apex-run/apex/internal/coordinator"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// TopologyStreamHandler fans TOPOLOGY_CHANGED events from one
// Coordinator's single change channel out to every connected WebSocket
// subscriber.
type TopologyStreamHandler struct {
	logger *zap.Logger

	mu   sync.Mutex
	subs map[chan coordinator.TopologyChanged]struct{}
}

// NewTopologyStreamHandler constructs a handler for coord's change feed
// and starts the background fan-out goroutine.
func NewTopologyStreamHandler(coord *coordinator.Coordinator, logger *zap.Logger) *TopologyStreamHandler {
	h := &TopologyStreamHandler{
		logger: logger,
		subs:   make(map[chan coordinator.TopologyChanged]struct{}),
	}
	go h.fanOut(coord.WaitForTopologyChange())
	return h
}

func (h *TopologyStreamHandler) fanOut(changes <-chan coordinator.TopologyChanged) {
	for evt := range changes {
		h.mu.Lock()
		for ch := range h.subs {
			select {
			case ch <- evt:
			default:
			}
		}
		h.mu.Unlock()
	}
}

func (h *TopologyStreamHandler) subscribe() chan coordinator.TopologyChanged {
	ch := make(chan coordinator.TopologyChanged, 8)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *TopologyStreamHandler) unsubscribe(ch chan coordinator.TopologyChanged) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// RegisterRoutes mounts /ws/topology on mux.
func (h *TopologyStreamHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/topology", h.handleWS)
}

type topologyEvent struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Epoch uint64 `json:"epoch"`
}

func (h *TopologyStreamHandler) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	changes := h.subscribe()
	defer h.unsubscribe(changes)
	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-changes:
			out := topologyEvent{From: string(evt.From), To: string(evt.To), Epoch: evt.Epoch}
			if err := conn.WriteJSON(out); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}
