// Package preview streams display-throttled frames to WebSocket
// clients as MsgPack-wrapped JPEGs.
package preview

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/types"
)

// Path is the WebSocket endpoint preview clients dial.
const Path = "/ws/preview"

// sendBuffer is the per-client queue depth. A slow client drops frames
// instead of stalling the broadcast.
const sendBuffer = 8

// Server fans frames out to connected preview clients.
type Server struct {
	addr    string
	quality int

	upgrader websocket.Upgrader
	server   *http.Server

	mu      sync.RWMutex
	clients map[*client]bool

	framesSent    atomic.Uint64
	framesDropped atomic.Uint64
}

type client struct {
	conn    *websocket.Conn
	send    chan []byte
	dropped atomic.Uint64
	once    sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// NewServer creates a preview server listening on addr. jpegQuality is
// the encode quality for outgoing frames (1-100).
func NewServer(addr string, jpegQuality int) *Server {
	return &Server{
		addr:    addr,
		quality: jpegQuality,
		upgrader: websocket.Upgrader{
			// Preview runs on a trusted LAN; origin checks stay open.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]bool),
	}
}

// Handler returns the HTTP handler serving the preview endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(Path, s.handlePreview)
	return mux
}

// Start begins serving in a background goroutine and does not block.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		IdleTimeout: 60 * time.Second,
	}

	slog.Info("preview: server starting", "addr", s.addr, "path", Path)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("preview: server failed", "error", err)
		}
	}()

	return nil
}

// Stop disconnects all clients and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for c := range s.clients {
		delete(s.clients, c)
		c.close()
	}
	s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("preview: websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	s.register(c)

	go c.writePump()

	// Read loop exists only to notice the peer going away. Inbound
	// payloads are discarded.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.unregister(c)
}

func (c *client) writePump() {
	defer c.conn.Close()
	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
			return
		}
	}
	// Channel closed: say goodbye before dropping the connection.
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
}

func (s *Server) register(c *client) {
	s.mu.Lock()
	s.clients[c] = true
	total := len(s.clients)
	s.mu.Unlock()
	slog.Info("preview: client connected", "remote", c.conn.RemoteAddr().String(), "total", total)
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		c.close()
	}
	total := len(s.clients)
	s.mu.Unlock()
	slog.Info("preview: client disconnected", "total", total, "dropped", c.dropped.Load())
}

// PublishFrame encodes one frame and broadcasts it. Encoding is
// skipped entirely while nobody is watching.
func (s *Server) PublishFrame(frame *types.Frame) error {
	if s.ClientCount() == 0 {
		return nil
	}

	payload, err := encodeFrame(frame, s.quality)
	if err != nil {
		return err
	}
	s.broadcast(payload)
	s.framesSent.Add(1)
	return nil
}

func (s *Server) broadcast(payload []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		select {
		case c.send <- payload:
		default:
			c.dropped.Add(1)
			s.framesDropped.Add(1)
		}
	}
}

// ClientCount returns the number of connected preview clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Stats contains preview server statistics.
type Stats struct {
	Clients       int    `json:"clients"`
	FramesSent    uint64 `json:"frames_sent"`
	FramesDropped uint64 `json:"frames_dropped"`
}

// Stats returns a snapshot of server counters.
func (s *Server) Stats() Stats {
	return Stats{
		Clients:       s.ClientCount(),
		FramesSent:    s.framesSent.Load(),
		FramesDropped: s.framesDropped.Load(),
	}
}
