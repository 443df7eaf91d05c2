package httpapi

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/i474232898/commute-telemetry/internal/commute"
)

const streamWriteTimeout = 5 * time.Second

type streamClient struct {
	ch chan commute.CommuteEstimate
}

// StreamHub fans published snapshots out to connected WebSocket dashboards.
// It is a commute.Sink.
type StreamHub struct {
	mu      sync.RWMutex
	clients map[*streamClient]struct{}
	closed  chan struct{}
	once    sync.Once
	logger  *zap.SugaredLogger

	sent atomic.Uint64
}

func NewStreamHub(logger *zap.SugaredLogger) *StreamHub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &StreamHub{
		clients: make(map[*streamClient]struct{}),
		closed:  make(chan struct{}),
		logger:  logger.With("component", "api.stream"),
	}
}

// PublishEstimate queues the snapshot for every client. Slow clients only
// ever see the most recent snapshot.
func (h *StreamHub) PublishEstimate(_ commute.Route, est commute.CommuteEstimate) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case <-c.ch:
		default:
		}
		select {
		case c.ch <- est:
		default:
		}
	}
	return nil
}

// Clients returns the number of connected dashboards.
func (h *StreamHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *StreamHub) Close() {
	h.once.Do(func() { close(h.closed) })
}

func (h *StreamHub) add() *streamClient {
	c := &streamClient{ch: make(chan commute.CommuteEstimate, 1)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *StreamHub) remove(c *streamClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// RegisterStream wires GET /api/v1/commute/stream. The first frame is the
// current snapshot, then one frame per published snapshot.
func RegisterStream(app *fiber.App, hub *StreamHub, service *commute.Service) {
	app.Use("/api/v1/commute/stream", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/api/v1/commute/stream", websocket.New(func(conn *websocket.Conn) {
		hub.serve(conn, service.Current())
	}))
}

func (h *StreamHub) serve(conn *websocket.Conn, initial commute.CommuteEstimate) {
	client := h.add()
	defer h.remove(client)
	h.logger.Debugw("stream client connected", "remote", conn.RemoteAddr().String())

	// Reads only detect the peer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(est commute.CommuteEstimate) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := conn.WriteJSON(est); err != nil {
			h.logger.Debugw("stream write failed", "error", err)
			return false
		}
		h.sent.Add(1)
		return true
	}

	if !write(initial) {
		return
	}
	for {
		select {
		case <-gone:
			return
		case <-h.closed:
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			return
		case est := <-client.ch:
			if !write(est) {
				return
			}
		}
	}
}
