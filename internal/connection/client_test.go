package connection

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/resilientws/internal/endpoint"
	"github.com/rickgao/resilientws/internal/transport"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func newClient(t *testing.T, server *httptest.Server, mutate func(*Config)) *Client {
	t.Helper()
	ep, err := endpoint.Parse(wsURL(server))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	cfg := Config{Endpoint: ep}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(c.Dispose)
	return c
}

func TestNew_RequiresEndpoint(t *testing.T) {
	if _, err := New(Config{}, nil); !errors.Is(err, ErrMissingEndpoint) {
		t.Errorf("New error = %v, want ErrMissingEndpoint", err)
	}
}

func TestNew_Defaults(t *testing.T) {
	c, err := New(Config{Endpoint: endpoint.Localhost(false)}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Dispose()

	if c.cfg.BufferSize != 512 {
		t.Errorf("BufferSize = %d, want 512", c.cfg.BufferSize)
	}
	if c.cfg.ReconnectInterval != 10*time.Second {
		t.Errorf("ReconnectInterval = %v, want 10s", c.cfg.ReconnectInterval)
	}
	if c.cfg.MaxReconnectAttempts != -1 {
		t.Errorf("MaxReconnectAttempts = %d, want -1", c.cfg.MaxReconnectAttempts)
	}
	if c.cfg.ConnectTimeout != 30*time.Second {
		t.Errorf("ConnectTimeout = %v, want 30s", c.cfg.ConnectTimeout)
	}
	if c.cfg.AutoReconnect {
		t.Error("AutoReconnect should default to false")
	}
	if c.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", c.State())
	}
}

func TestClient_ConnectAndReceive(t *testing.T) {
	testMessages := []string{
		`{"type": "test", "data": 1}`,
		`{"type": "test", "data": 2}`,
		`{"type": "test", "data": 3}`,
	}

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for _, msg := range testMessages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		// Keep connection open
		conn.ReadMessage()
	})
	defer server.Close()

	c := newClient(t, server, nil)
	received := make(chan string, len(testMessages))
	c.OnMessage().Register(func(ctx context.Context, e MessageEvent) error {
		received <- e.Text
		return nil
	})

	if err := c.Connect(context.Background(), false); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !c.IsConnected() {
		t.Error("expected IsConnected to return true")
	}

	timeout := time.After(time.Second)
	for i, want := range testMessages {
		select {
		case got := <-received:
			if got != want {
				t.Errorf("message %d: got %q, want %q", i, got, want)
			}
		case <-timeout:
			t.Fatalf("timeout waiting for message %d", i)
		}
	}
}

func TestClient_Send(t *testing.T) {
	var received []string
	var mu sync.Mutex

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			mu.Lock()
			received = append(received, string(msg))
			mu.Unlock()
		}
	})
	defer server.Close()

	c := newClient(t, server, nil)
	if err := c.Connect(context.Background(), false); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := c.Send("plain"); err != nil {
		t.Errorf("Send failed: %v", err)
	}
	if err := c.SendValue(map[string]int{"n": 1}); err != nil {
		t.Errorf("SendValue failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"plain", `{"n":1}`}
	if len(received) != len(want) {
		t.Fatalf("received %q, want %q", received, want)
	}
	for i := range want {
		if received[i] != want[i] {
			t.Errorf("message %d = %q, want %q", i, received[i], want[i])
		}
	}
}

func TestClient_SendNotConnected(t *testing.T) {
	c, err := New(Config{Endpoint: endpoint.NewLocal(12345, false)}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Dispose()

	errs := 0
	c.OnError().Register(func(ctx context.Context, e ErrorEvent) error {
		errs++
		return nil
	})

	if err := c.Send("test"); err != nil {
		t.Errorf("Send error = %v, want nil", err)
	}
	if errs != 0 {
		t.Errorf("Error events = %d, want 0", errs)
	}
}

func TestClient_SendValueEncodeError(t *testing.T) {
	c, err := New(Config{Endpoint: endpoint.NewLocal(12345, false)}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Dispose()

	var got error
	c.OnError().Register(func(ctx context.Context, e ErrorEvent) error {
		got = e.Err
		return nil
	})

	err = c.SendValue(make(chan int))
	if err == nil {
		t.Fatal("expected encode error")
	}
	if got == nil || got.Error() != err.Error() {
		t.Errorf("Error event = %v, want %v", got, err)
	}
}

func TestClient_HandshakeHeaders(t *testing.T) {
	got := make(chan http.Header, 1)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Clone()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.ReadMessage()
	}))
	defer server.Close()

	c := newClient(t, server, nil)
	if !c.AddHeader("X-Token", "first") {
		t.Error("AddHeader should add a new name")
	}
	if c.AddHeader("X-Token", "second") {
		t.Error("AddHeader should not replace an existing name")
	}
	c.AddHeader("X-Drop", "gone")
	if v, ok := c.RemoveHeader("X-Drop"); !ok || v != "gone" {
		t.Errorf("RemoveHeader = %q %v, want gone true", v, ok)
	}

	if err := c.Connect(context.Background(), false); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	h := <-got
	if v := h.Values("X-Token"); len(v) != 1 || v[0] != "first" {
		t.Errorf("X-Token = %q, want [first]", v)
	}
	if h.Get("X-Drop") != "" {
		t.Error("removed header was sent")
	}
	if !strings.HasPrefix(h.Get("User-Agent"), "resilientws/") {
		t.Errorf("User-Agent = %q", h.Get("User-Agent"))
	}
}

func TestClient_DisconnectHandshake(t *testing.T) {
	closed := make(chan int, 1)
	server := mockWSServer(t, func(conn *websocket.Conn) {
		_, _, err := conn.ReadMessage()
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			closed <- ce.Code
		}
	})
	defer server.Close()

	c := newClient(t, server, func(cfg *Config) {
		cfg.AutoReconnect = true
	})
	disconnected := make(chan DisconnectedEvent, 1)
	c.OnDisconnected().Register(func(ctx context.Context, e DisconnectedEvent) error {
		disconnected <- e
		return nil
	})

	if err := c.Connect(context.Background(), false); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	c.Disconnect()

	select {
	case code := <-closed:
		if code != websocket.CloseNormalClosure {
			t.Errorf("server saw close code %d, want 1000", code)
		}
	case <-time.After(time.Second):
		t.Fatal("server never saw the close frame")
	}

	select {
	case e := <-disconnected:
		if e.Code != transport.CloseNormalClosure {
			t.Errorf("Disconnected code = %v, want normal_closure", e.Code)
		}
	case <-time.After(time.Second):
		t.Fatal("no Disconnected event")
	}

	c.Wait()
	if c.IsConnected() {
		t.Error("expected IsConnected to return false after Disconnect")
	}
}

func TestClient_ReconnectsAfterServerDrop(t *testing.T) {
	var mu sync.Mutex
	conns := 0
	server := mockWSServer(t, func(conn *websocket.Conn) {
		mu.Lock()
		conns++
		n := conns
		mu.Unlock()
		if n == 1 {
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart"))
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte("welcome back"))
		conn.ReadMessage()
	})
	defer server.Close()

	c := newClient(t, server, func(cfg *Config) {
		cfg.AutoReconnect = true
		cfg.ReconnectInterval = 10 * time.Millisecond
	})
	msgs := make(chan string, 1)
	c.OnMessage().Register(func(ctx context.Context, e MessageEvent) error {
		msgs <- e.Text
		return nil
	})

	if err := c.Connect(context.Background(), false); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	select {
	case got := <-msgs:
		if got != "welcome back" {
			t.Errorf("message = %q, want welcome back", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client did not reconnect")
	}
	if c.ReconnectAttempts() != 0 {
		t.Errorf("ReconnectAttempts = %d, want 0 after success", c.ReconnectAttempts())
	}
}

func TestClient_ConnectRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "go away", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := newClient(t, server, nil)
	var events []string
	c.OnError().Register(func(ctx context.Context, e ErrorEvent) error {
		events = append(events, "error")
		return nil
	})
	c.OnDisconnected().Register(func(ctx context.Context, e DisconnectedEvent) error {
		events = append(events, "disconnected:"+e.Code.String())
		return nil
	})

	if err := c.Connect(context.Background(), true); err != nil {
		t.Fatalf("Connect returned %v; failures are reported as events", err)
	}
	if len(events) != 2 || events[0] != "error" || events[1] != "disconnected:protocol_error" {
		t.Errorf("events = %v, want [error disconnected:protocol_error]", events)
	}
}

func TestClient_DoubleDispose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		time.Sleep(time.Second)
	})
	defer server.Close()

	c := newClient(t, server, nil)
	if err := c.Connect(context.Background(), false); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	c.AddHeader("X-Token", "abc")
	c.Dispose()
	c.Dispose()
	c.Wait()

	if !c.IsDisposed() {
		t.Error("expected IsDisposed after Dispose")
	}
	if c.headers.Len() != 0 {
		t.Error("Dispose should clear headers")
	}
	if err := c.Send("late"); err != nil {
		t.Errorf("Send after Dispose = %v, want nil", err)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateReconnecting, "reconnecting"},
		{State(9), "state(9)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
