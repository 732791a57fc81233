package connection

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/resilientws/internal/transport"
	"github.com/rickgao/resilientws/internal/version"
)

// Client is a single logical WebSocket connection that survives transport
// failures. One transport handle is owned at a time and replaced on every
// connect attempt.
type Client struct {
	cfg    Config
	url    string
	logger *slog.Logger

	headers *HeaderStore
	policy  *reconnectPolicy
	funnel  *funnel

	onConnected    *EventBus[ConnectedEvent]
	onDisconnected *EventBus[DisconnectedEvent]
	onError        *EventBus[ErrorEvent]
	onMessage      *EventBus[MessageEvent]
	onRetry        *EventBus[RetryEvent]

	// connectCtx aborts in-flight handshakes; mainCtx stops everything else.
	connectCtx    context.Context
	cancelConnect context.CancelFunc
	mainCtx       context.Context
	cancelMain    context.CancelFunc
	wg            sync.WaitGroup

	state    atomic.Int32
	disposed atomic.Bool

	mu      sync.Mutex // guards current
	current *session
}

// session is one dialed transport handle.
type session struct {
	id      uuid.UUID
	tr      transport.Transport
	closing atomic.Bool // set by Disconnect
}

// New creates a client. Nothing is dialed until Connect.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Endpoint.IsZero() {
		return nil, ErrMissingEndpoint
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	url := cfg.Endpoint.String()
	logger = logger.With("url", url)

	c := &Client{
		cfg:            cfg,
		url:            url,
		logger:         logger,
		headers:        NewHeaderStore(),
		policy:         newReconnectPolicy(cfg.ReconnectInterval, cfg.MaxReconnectAttempts),
		onConnected:    NewEventBus[ConnectedEvent]("connected"),
		onDisconnected: NewEventBus[DisconnectedEvent]("disconnected"),
		onError:        NewEventBus[ErrorEvent]("error"),
		onMessage:      NewEventBus[MessageEvent]("message"),
		onRetry:        NewEventBus[RetryEvent]("retry"),
	}
	c.funnel = &funnel{errors: c.onError, logger: logger}
	c.connectCtx, c.cancelConnect = context.WithCancel(context.Background())
	c.mainCtx, c.cancelMain = context.WithCancel(context.Background())
	return c, nil
}

// Connect dials the endpoint. It is a no-op when already connected.
//
// With blockUntilClosed the receive loop, and any reconnection, runs on the
// calling goroutine and Connect returns only when the client stops. Without
// it Connect returns after the first handshake and the loop runs in the
// background. A failed first handshake is reported through OnError and
// OnDisconnected; it is not returned.
//
// ctx bounds the first handshake only.
func (c *Client) Connect(ctx context.Context, blockUntilClosed bool) error {
	if c.IsDisposed() {
		return ErrDisposed
	}
	if c.IsConnected() {
		return nil
	}

	hctx, cancel := joinContext(ctx, c.connectCtx)
	s, err := c.dial(hctx, blockUntilClosed)
	cancel()

	if blockUntilClosed {
		c.supervise(s, err)
		return nil
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.supervise(s, err)
	}()
	return nil
}

// Disconnect starts a closing handshake. The client stays usable and can
// be connected again.
func (c *Client) Disconnect() {
	s := c.currentSession()
	if s == nil || s.tr.State() != transport.StateOpen {
		return
	}
	s.closing.Store(true)
	c.logger.Info("disconnecting", "session_id", s.id)

	_ = c.funnel.run(c.mainCtx, false, func() error {
		return s.tr.Close(c.mainCtx, transport.CloseNormalClosure, closeRequestedReason)
	})
	c.setState(StateDisconnected)
}

// Send writes one text message. It does nothing when not connected.
func (c *Client) Send(text string) error {
	s := c.currentSession()
	if s == nil || s.tr.State() != transport.StateOpen {
		return nil
	}
	return c.funnel.run(c.mainCtx, true, func() error {
		return s.tr.Send(c.mainCtx, []byte(text), transport.FrameText, true)
	})
}

// SendValue serializes v with the configured Serializer and sends it.
func (c *Client) SendValue(v any) error {
	text, err := funnelValue(c.funnel, c.mainCtx, true, func() (string, error) {
		return c.cfg.Serializer.Text(v)
	})
	if err != nil {
		return err
	}
	return c.Send(text)
}

// Dispose stops the client for good. Safe to call more than once.
func (c *Client) Dispose() {
	if !c.disposed.CompareAndSwap(false, true) {
		return
	}
	c.cancelConnect()
	c.cancelMain()

	if s := c.currentSession(); s != nil {
		safely(func() error {
			s.tr.Abort()
			return nil
		})
		s.tr.Dispose()
	}
	c.headers.Clear()
	c.setState(StateDisconnected)
	c.logger.Debug("client disposed")
}

// Wait blocks until background loops started by Connect have returned.
func (c *Client) Wait() {
	c.wg.Wait()
}

// IsConnected reports whether a session is open.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// IsDisposed reports whether Dispose has been called.
func (c *Client) IsDisposed() bool {
	return c.disposed.Load()
}

// State returns the logical connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	if c.IsDisposed() {
		s = StateDisconnected
	}
	c.state.Store(int32(s))
}

// URL returns the endpoint URL.
func (c *Client) URL() string {
	return c.url
}

// SessionID identifies the current transport session; zero before the
// first successful handshake.
func (c *Client) SessionID() uuid.UUID {
	if s := c.currentSession(); s != nil {
		return s.id
	}
	return uuid.Nil
}

// ReconnectAttempts returns the attempts made since the last successful
// handshake.
func (c *Client) ReconnectAttempts() int64 {
	return c.policy.snapshot().Attempts
}

// ReconnectInterval returns the wait used before the latest attempt.
func (c *Client) ReconnectInterval() time.Duration {
	return c.policy.snapshot().Interval
}

// Event buses.
func (c *Client) OnConnected() *EventBus[ConnectedEvent]       { return c.onConnected }
func (c *Client) OnDisconnected() *EventBus[DisconnectedEvent] { return c.onDisconnected }
func (c *Client) OnError() *EventBus[ErrorEvent]               { return c.onError }
func (c *Client) OnMessage() *EventBus[MessageEvent]           { return c.onMessage }
func (c *Client) OnRetry() *EventBus[RetryEvent]               { return c.onRetry }

// AddHeader adds a handshake header. Existing names are left unchanged.
func (c *Client) AddHeader(name, value string) bool {
	return c.headers.Set(name, value)
}

// RemoveHeader removes a handshake header and returns its value.
func (c *Client) RemoveHeader(name string) (string, bool) {
	return c.headers.Remove(name)
}

// ClearHeaders removes every handshake header.
func (c *Client) ClearHeaders() {
	c.headers.Clear()
}

func (c *Client) currentSession() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// handshakeHeader builds a fresh header set for one attempt.
func (c *Client) handshakeHeader() http.Header {
	h := http.Header{}
	c.headers.applyTo(h)
	if h.Get("User-Agent") == "" {
		h.Set("User-Agent", version.UserAgent())
	}
	return h
}

// joinContext returns a context canceled when either parent or scope is.
func joinContext(parent, scope context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(scope, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
