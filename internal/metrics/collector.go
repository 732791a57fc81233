package metrics

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rickgao/resilientws/internal/connection"
)

// Collector turns client events into Prometheus metrics.
type Collector struct {
	factory   promauto.Factory
	namespace string

	connects          prometheus.Counter
	disconnects       *prometheus.CounterVec
	errors            prometheus.Counter
	messages          prometheus.Counter
	messageBytes      prometheus.Counter
	retries           prometheus.Counter
	connected         prometheus.GaugeFunc
	reconnectInterval prometheus.Gauge

	client atomic.Pointer[connection.Client] // read by connected at scrape time
}

// New registers the client metrics on reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer, namespace string) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Collector{
		factory:   factory,
		namespace: namespace,

		connects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connects_total",
			Help:      "Successful handshakes, including reconnects",
		}),
		disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Disconnections by close code",
		}, []string{"code"}),
		errors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors published by the client",
		}),
		messages: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Text messages received",
		}),
		messageBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_bytes_total",
			Help:      "Bytes of decoded text messages received",
		}),
		retries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Reconnect decisions, including the final exhausted notice",
		}),
		reconnectInterval: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconnect_interval_seconds",
			Help:      "Wait before the latest reconnect attempt",
		}),
	}
	m.connected = factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connected",
		Help:      "1 while the attached client is connected",
	}, m.isConnected)
	return m
}

func (m *Collector) isConnected() float64 {
	if c := m.client.Load(); c != nil && c.IsConnected() {
		return 1
	}
	return 0
}

// GaugeFunc registers a gauge whose value is read from fn at scrape time.
func (m *Collector) GaugeFunc(name, help string, fn func() float64) {
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      name,
		Help:      help,
	}, fn)
}

// Attachment is the set of handlers installed on one client.
type Attachment struct {
	m            *Collector
	client       *connection.Client
	connected    connection.HandlerID
	disconnected connection.HandlerID
	errored      connection.HandlerID
	message      connection.HandlerID
	retry        connection.HandlerID
}

// Attach subscribes the collector to every event bus of c. The connected
// gauge follows the most recently attached client.
func (m *Collector) Attach(c *connection.Client) *Attachment {
	m.client.Store(c)
	return &Attachment{
		m:      m,
		client: c,
		connected: c.OnConnected().Register(func(ctx context.Context, _ connection.ConnectedEvent) error {
			m.connects.Inc()
			m.reconnectInterval.Set(0)
			return nil
		}),
		disconnected: c.OnDisconnected().Register(func(ctx context.Context, e connection.DisconnectedEvent) error {
			m.disconnects.WithLabelValues(strconv.Itoa(int(e.Code))).Inc()
			return nil
		}),
		errored: c.OnError().Register(func(ctx context.Context, _ connection.ErrorEvent) error {
			m.errors.Inc()
			return nil
		}),
		message: c.OnMessage().Register(func(ctx context.Context, e connection.MessageEvent) error {
			m.messages.Inc()
			m.messageBytes.Add(float64(len(e.Text)))
			return nil
		}),
		retry: c.OnRetry().Register(func(ctx context.Context, _ connection.RetryEvent) error {
			m.retries.Inc()
			m.reconnectInterval.Set(c.ReconnectInterval().Seconds())
			return nil
		}),
	}
}

// Detach removes the handlers installed by Attach.
func (a *Attachment) Detach() {
	a.m.client.CompareAndSwap(a.client, nil)
	a.client.OnConnected().Unregister(a.connected)
	a.client.OnDisconnected().Unregister(a.disconnected)
	a.client.OnError().Unregister(a.errored)
	a.client.OnMessage().Unregister(a.message)
	a.client.OnRetry().Unregister(a.retry)
}
