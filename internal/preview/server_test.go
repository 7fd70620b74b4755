package preview

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

func dialPreview(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + Path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, s *Server, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.ClientCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("client count = %d, want %d", s.ClientCount(), want)
}

func TestPreviewRoundTrip(t *testing.T) {
	s := NewServer(":0", 80)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dialPreview(t, ts)
	waitClients(t, s, 1)

	if err := s.PublishFrame(makeRGB(8, 6)); err != nil {
		t.Fatalf("PublishFrame: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if mt != websocket.BinaryMessage {
		t.Errorf("message type = %d, want binary", mt)
	}

	var msg frameMessage
	if err := msgpack.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Role != "rgb" || msg.Seq != 42 {
		t.Errorf("envelope = role %q seq %d", msg.Role, msg.Seq)
	}

	stats := s.Stats()
	if stats.FramesSent != 1 || stats.Clients != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestClientDisconnectUnregisters(t *testing.T) {
	s := NewServer(":0", 80)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dialPreview(t, ts)
	waitClients(t, s, 1)

	conn.Close()
	waitClients(t, s, 0)
}

func TestPublishWithoutClientsSkipsEncode(t *testing.T) {
	s := NewServer(":0", 80)

	// Invalid payloads never reach the encoder while nobody watches.
	bad := makeRGB(8, 6)
	bad.Data = bad.Data[:3]
	if err := s.PublishFrame(bad); err != nil {
		t.Errorf("PublishFrame with no clients = %v, want nil", err)
	}
	if s.Stats().FramesSent != 0 {
		t.Errorf("frames_sent = %d, want 0", s.Stats().FramesSent)
	}
}

func TestSlowClientDropsInsteadOfBlocking(t *testing.T) {
	s := NewServer(":0", 80)

	// A client with a full queue and no pump. broadcast must not block.
	c := &client{send: make(chan []byte, 1)}
	s.mu.Lock()
	s.clients[c] = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.broadcast([]byte("a"))
		s.broadcast([]byte("b"))
		s.broadcast([]byte("c"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a slow client")
	}

	if got := c.dropped.Load(); got != 2 {
		t.Errorf("client dropped = %d, want 2", got)
	}
	if got := s.Stats().FramesDropped; got != 2 {
		t.Errorf("server dropped = %d, want 2", got)
	}
}

func TestStopDisconnectsClients(t *testing.T) {
	s := NewServer(":0", 80)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dialPreview(t, ts)
	waitClients(t, s, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.ClientCount() != 0 {
		t.Errorf("clients remain after Stop")
	}

	// The peer sees the connection end.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
