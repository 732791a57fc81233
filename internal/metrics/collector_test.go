package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/resilientws/internal/connection"
	"github.com/rickgao/resilientws/internal/endpoint"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	require.NotNil(t, m.Counter)
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Metric) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	require.NotNil(t, m.Gauge)
	return m.GetGauge().GetValue()
}

func newClient(t *testing.T, server *httptest.Server, mutate func(*connection.Config)) *connection.Client {
	t.Helper()
	ep, err := endpoint.Parse("ws" + strings.TrimPrefix(server.URL, "http"))
	require.NoError(t, err)
	cfg := connection.Config{Endpoint: ep}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := connection.New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(c.Dispose)
	return c
}

func TestCollector_SessionEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte("abc"))
		conn.WriteMessage(websocket.TextMessage, []byte("defgh"))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
		conn.ReadMessage()
	}))
	defer server.Close()

	reg := prometheus.NewRegistry()
	m := New(reg, "test")
	c := newClient(t, server, nil)
	m.Attach(c)

	require.NoError(t, c.Connect(context.Background(), true))

	assert.Equal(t, 1.0, counterValue(t, m.connects))
	assert.Equal(t, 2.0, counterValue(t, m.messages))
	assert.Equal(t, 8.0, counterValue(t, m.messageBytes))
	assert.Equal(t, 1.0, counterValue(t, m.disconnects.WithLabelValues("1001")))
	assert.Equal(t, 0.0, gaugeValue(t, m.connected))
	assert.Equal(t, 0.0, counterValue(t, m.errors))
}

func TestCollector_RetriesAndDetach(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	reg := prometheus.NewRegistry()
	m := New(reg, "test")
	c := newClient(t, server, func(cfg *connection.Config) {
		cfg.AutoReconnect = true
		cfg.MaxReconnectAttempts = 1
		cfg.ReconnectInterval = 10 * time.Millisecond
	})
	a := m.Attach(c)

	require.NoError(t, c.Connect(context.Background(), true))

	assert.Equal(t, 2.0, counterValue(t, m.errors))
	assert.Equal(t, 2.0, counterValue(t, m.retries))
	assert.Equal(t, 2.0, counterValue(t, m.disconnects.WithLabelValues("1002")))
	assert.InDelta(t, 0.01, gaugeValue(t, m.reconnectInterval), 1e-9)

	a.Detach()
	assert.Equal(t, 0, c.OnError().Len())

	require.NoError(t, c.Connect(context.Background(), true))
	assert.Equal(t, 2.0, counterValue(t, m.errors), "detached collector must not count")
}

func TestCollector_ConnectedAfterUnansweredDisconnect(t *testing.T) {
	release := make(chan struct{})
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Never read, so the client's close frame is never answered.
		<-release
	}))
	defer server.Close()
	defer close(release)

	reg := prometheus.NewRegistry()
	m := New(reg, "test")
	c := newClient(t, server, nil)
	a := m.Attach(c)

	require.NoError(t, c.Connect(context.Background(), false))
	require.Eventually(t, func() bool { return gaugeValue(t, m.connected) == 1 }, time.Second, 5*time.Millisecond)

	c.Disconnect()
	assert.Equal(t, 0.0, gaugeValue(t, m.connected))
	assert.Equal(t, 0.0, counterValue(t, m.disconnects.WithLabelValues("1000")), "no Disconnected event yet")

	a.Detach()
	assert.Nil(t, m.client.Load())
}

func TestCollector_GaugeFunc(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "test")
	m.GaugeFunc("recorder_dropped", "rows dropped", func() float64 { return 7 })

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, f := range families {
		if f.GetName() == "test_recorder_dropped" {
			found = true
			assert.Equal(t, 7.0, f.GetMetric()[0].GetGauge().GetValue())
		}
	}
	assert.True(t, found)
}
