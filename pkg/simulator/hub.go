package simulator

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/r3labs/sse/v2"

	"github.com/groundlink/missionwatch/pkg/logging"
	"github.com/groundlink/missionwatch/pkg/models"
)

const (
	pingInterval  = 30 * time.Second
	writeDeadline = 10 * time.Second

	// sseStream is the name of the read-only SSE mirror stream.
	sseStream = "events"
)

// CommandHandler processes inbound command frames from watchers.
type CommandHandler func(cmd models.Command)

// watcher owns one WebSocket connection. All writes go through write: run
// lifecycle goroutines broadcast concurrently with the ping routine, and the
// transport permits only one writer at a time.
type watcher struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *watcher) write(messageType int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return w.conn.WriteMessage(messageType, data)
}

// Hub fans events out to every connected WebSocket watcher and mirrors them
// onto an SSE stream for consumers that only need a one-way feed.
type Hub struct {
	logger   logging.Logger
	upgrader websocket.Upgrader
	sse      *sse.Server

	mu       sync.RWMutex
	conns    map[*watcher]bool
	onCmd    CommandHandler
	activeFn func() []string
}

// NewHub creates a broadcaster with an SSE mirror stream.
func NewHub(logger logging.Logger) *Hub {
	srv := sse.New()
	srv.AutoReplay = false
	srv.CreateStream(sseStream)
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sse:   srv,
		conns: make(map[*watcher]bool),
	}
}

// SetCommandHandler registers the callback for inbound command frames.
func (h *Hub) SetCommandHandler(fn CommandHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onCmd = fn
}

// SetActiveRunsFunc registers the provider for the init frame's run list.
func (h *Hub) SetActiveRunsFunc(fn func() []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.activeFn = fn
}

// Broadcast sends one event to all WebSocket watchers and the SSE mirror.
// Safe to call from any goroutine.
func (h *Hub) Broadcast(ev models.Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("marshal event", logging.F("error", err))
		return
	}

	h.sse.Publish(sseStream, &sse.Event{Data: raw})

	h.mu.RLock()
	watchers := make([]*watcher, 0, len(h.conns))
	for w := range h.conns {
		watchers = append(watchers, w)
	}
	h.mu.RUnlock()

	for _, w := range watchers {
		if err := w.write(websocket.TextMessage, raw); err != nil {
			h.logger.Warn("drop watcher on write error", logging.F("error", err))
			h.remove(w)
		}
	}
}

// HandleWebSocket upgrades a watcher connection, sends the init frame, and
// services inbound command frames until the connection drops.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", logging.F("error", err))
		return
	}
	wt := &watcher{conn: conn}

	h.mu.RLock()
	activeFn := h.activeFn
	h.mu.RUnlock()

	// The init frame goes out before the watcher joins the broadcast set, so
	// it is always the first frame a watcher sees.
	var active []string
	if activeFn != nil {
		active = activeFn()
	}
	init := models.Event{Type: models.EventInit, ActiveRuns: active}
	if raw, err := json.Marshal(init); err == nil {
		if err := wt.write(websocket.TextMessage, raw); err != nil {
			conn.Close()
			return
		}
	}

	h.mu.Lock()
	h.conns[wt] = true
	h.mu.Unlock()

	go h.pingRoutine(wt)

	defer h.remove(wt)
	for {
		var cmd models.Command
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("watcher read error", logging.F("error", err))
			}
			return
		}
		h.mu.RLock()
		onCmd := h.onCmd
		h.mu.RUnlock()
		if onCmd != nil {
			onCmd(cmd)
		}
	}
}

// ServeSSE exposes the mirror stream. Clients must request ?stream=events.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request) {
	h.sse.ServeHTTP(w, r)
}

// Watchers reports the number of connected WebSocket clients.
func (h *Hub) Watchers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) remove(w *watcher) {
	h.mu.Lock()
	delete(h.conns, w)
	h.mu.Unlock()
	w.conn.Close()
}

// pingRoutine keeps the connection alive the way browsers expect.
func (h *Hub) pingRoutine(w *watcher) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for range ticker.C {
		h.mu.RLock()
		_, ok := h.conns[w]
		h.mu.RUnlock()
		if !ok {
			return
		}
		if err := w.write(websocket.PingMessage, nil); err != nil {
			h.remove(w)
			return
		}
	}
}
