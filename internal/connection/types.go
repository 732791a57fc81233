package connection

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rickgao/resilientws/internal/endpoint"
	"github.com/rickgao/resilientws/internal/transport"
)

// Errors
var (
	ErrMissingEndpoint = errors.New("connection: endpoint is required")
	ErrDisposed        = errors.New("connection: client disposed")
)

// errors.Is target for failures raised from event handlers that panicked.
var ErrHandlerPanic = errors.New("connection: handler panicked")

// PanicError wraps a recovered panic value.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func (e *PanicError) Is(target error) bool {
	return target == ErrHandlerPanic
}

// Default values for zero Config fields.
const (
	DefaultBufferSize           = 512
	DefaultReconnectInterval    = 10 * time.Second
	DefaultMaxReconnectAttempts = -1 // unlimited
	DefaultConnectTimeout       = 30 * time.Second

	closeRequestedReason = "Close requested by client"
	closedByRemoteReason = "Closed by remote"
	maxAttemptsReached   = "Reached the max reconnect attempts."
)

// Config configures a Client. Zero fields are defaulted by New.
type Config struct {
	Endpoint endpoint.Endpoint // required

	BufferSize           uint          // bytes per read; larger messages are truncated
	AutoReconnect        bool          // reconnect after faults and remote closes
	ReconnectInterval    time.Duration // added to the wait before each retry
	MaxReconnectAttempts int64         // -1 = unlimited; 0 is treated as unset
	ConnectTimeout       time.Duration // bound on each reconnect handshake

	TLSConfig        *tls.Config       // per-client trust policy; nil = system roots
	HandshakeTimeout time.Duration     // transport handshake bound; 0 = ConnectTimeout only
	Serializer       Serializer        // used by SendValue; nil = JSON
	Transport        transport.Factory // nil = gorilla/websocket
}

// DefaultConfig returns a Config for ep with every default filled in.
func DefaultConfig(ep endpoint.Endpoint) Config {
	cfg := Config{Endpoint: ep}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.BufferSize == 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.ReconnectInterval == 0 {
		c.ReconnectInterval = DefaultReconnectInterval
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Serializer == nil {
		c.Serializer = JSONSerializer()
	}
	if c.Transport == nil {
		opts := transport.DefaultOptions()
		opts.TLSConfig = c.TLSConfig
		opts.HandshakeTimeout = c.HandshakeTimeout
		c.Transport = transport.GorillaFactory(opts)
	}
}

// State is the logical connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// ReconnectState is a snapshot of the reconnect bookkeeping.
type ReconnectState struct {
	Attempts int64
	Interval time.Duration
}

// ConnectedEvent is fired after every successful handshake.
type ConnectedEvent struct{}

// DisconnectedEvent is fired when the peer closes or the session faults.
type DisconnectedEvent struct {
	Code   transport.CloseCode
	Reason string
}

// ErrorEvent carries every failure observed by the client.
type ErrorEvent struct {
	Err error
}

// MessageEvent carries one complete text message.
type MessageEvent struct {
	Text string
}

// RetryEvent describes a reconnect decision.
type RetryEvent struct {
	Description string
}

func retryDescription(attempt int64, interval time.Duration) string {
	return "Reconnect attempt #" + strconv.FormatInt(attempt, 10) +
		". Waiting " + strconv.FormatFloat(interval.Seconds(), 'f', -1, 64) +
		"s for the next retry."
}
