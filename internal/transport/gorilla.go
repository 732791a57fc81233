package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Options configures the gorilla/websocket transport.
type Options struct {
	TLSConfig        *tls.Config   // nil = system roots
	HandshakeTimeout time.Duration // 0 = bounded by ctx only
	CloseGrace       time.Duration // how long to wait for the peer's close reply
	WriteTimeout     time.Duration // control frame write deadline
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		CloseGrace:   5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// GorillaFactory returns a Factory producing gorilla-backed handles.
func GorillaFactory(opts Options) Factory {
	return func() Transport {
		return NewGorilla(opts)
	}
}

// Gorilla implements Transport on top of github.com/gorilla/websocket.
type Gorilla struct {
	opts  Options
	state atomic.Int32

	mu   sync.Mutex // guards conn
	conn *websocket.Conn

	// Write serialization; gorilla allows one concurrent writer.
	writeMu sync.Mutex
	writer  io.WriteCloser // open fragmented message, if any

	// Read side, owned by the single receiving goroutine.
	reader  io.Reader
	kind    FrameKind
	peek    byte
	hasPeek bool
}

// NewGorilla creates an undialed handle.
func NewGorilla(opts Options) *Gorilla {
	if opts.CloseGrace <= 0 {
		opts.CloseGrace = DefaultOptions().CloseGrace
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultOptions().WriteTimeout
	}
	return &Gorilla{opts: opts}
}

// State returns the current handle state.
func (g *Gorilla) State() State {
	return State(g.state.Load())
}

func (g *Gorilla) setState(s State) {
	g.state.Store(int32(s))
}

func (g *Gorilla) getConn() *websocket.Conn {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conn
}

// Dial performs the websocket handshake.
func (g *Gorilla) Dial(ctx context.Context, url string, header http.Header) error {
	if !g.state.CompareAndSwap(int32(StateNone), int32(StateConnecting)) {
		return ErrAlreadyDialed
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: g.opts.HandshakeTimeout,
		TLSClientConfig:  g.opts.TLSConfig,
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		g.setState(StateClosed)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", url, err)
	}

	// The caller decides whether and how to answer a close frame.
	conn.SetCloseHandler(func(code int, text string) error { return nil })

	g.mu.Lock()
	g.conn = conn
	g.mu.Unlock()

	// Abort or Dispose may have raced the handshake.
	if !g.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		conn.Close()
		return ErrNotOpen
	}
	return nil
}

// Send writes one fragment. final=true completes the message.
func (g *Gorilla) Send(ctx context.Context, data []byte, kind FrameKind, final bool) error {
	st := g.State()
	if st != StateOpen && st != StateCloseReceived {
		return ErrNotOpen
	}
	conn := g.getConn()

	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	err := g.write(conn, data, kind, final)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		g.fail()
		return fmt.Errorf("write %s frame: %w", kind, err)
	}
	return nil
}

func (g *Gorilla) write(conn *websocket.Conn, data []byte, kind FrameKind, final bool) error {
	if g.writer == nil && final {
		return conn.WriteMessage(int(kind), data)
	}
	if g.writer == nil {
		w, err := conn.NextWriter(int(kind))
		if err != nil {
			return err
		}
		g.writer = w
	}
	if _, err := g.writer.Write(data); err != nil {
		g.writer = nil
		return err
	}
	if final {
		w := g.writer
		g.writer = nil
		return w.Close()
	}
	return nil
}

// Receive reads at most len(buf) bytes of the current message.
//
// When buf fills up the adapter reads one byte ahead to learn whether the
// message ended exactly at the buffer boundary; that byte is carried into
// the next call.
func (g *Gorilla) Receive(ctx context.Context, buf []byte) (Result, error) {
	st := g.State()
	if st != StateOpen && st != StateCloseSent {
		return Result{}, ErrNotOpen
	}
	if len(buf) == 0 {
		return Result{}, io.ErrShortBuffer
	}
	conn := g.getConn()

	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if g.reader == nil {
		mt, r, err := conn.NextReader()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return g.closeReceived(conn, ce), nil
			}
			return Result{}, g.readFailed(ctx, st, err)
		}
		g.reader = r
		g.kind = FrameKind(mt)
	}

	n := 0
	if g.hasPeek {
		buf[0] = g.peek
		g.hasPeek = false
		n = 1
	}

	m, err := io.ReadFull(g.reader, buf[n:])
	n += m
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		g.reader = nil
		return Result{N: n, Kind: g.kind, Final: true}, nil
	case err != nil:
		g.reader = nil
		return Result{}, g.readFailed(ctx, st, err)
	}

	var one [1]byte
	m, err = io.ReadFull(g.reader, one[:])
	if m == 1 {
		g.peek = one[0]
		g.hasPeek = true
		return Result{N: n, Kind: g.kind, Final: false}, nil
	}
	if errors.Is(err, io.EOF) {
		g.reader = nil
		return Result{N: n, Kind: g.kind, Final: true}, nil
	}
	g.reader = nil
	return Result{}, g.readFailed(ctx, st, err)
}

func (g *Gorilla) closeReceived(conn *websocket.Conn, ce *websocket.CloseError) Result {
	if g.state.CompareAndSwap(int32(StateCloseSent), int32(StateClosed)) {
		// Our close was already sent; the handshake is complete.
		conn.Close()
	} else {
		g.state.CompareAndSwap(int32(StateOpen), int32(StateCloseReceived))
	}
	return Result{
		Kind:        FrameClose,
		Final:       true,
		CloseCode:   CloseCode(ce.Code),
		CloseReason: ce.Text,
	}
}

func (g *Gorilla) readFailed(ctx context.Context, prev State, err error) error {
	if ctx.Err() != nil {
		g.fail()
		return ctx.Err()
	}
	if prev == StateCloseSent {
		// Peer never answered our close frame within the grace period.
		g.setState(StateClosed)
		g.closeConn()
		return fmt.Errorf("read after close: %w", err)
	}
	g.fail()
	return fmt.Errorf("read frame: %w", err)
}

// Close sends a close frame. If the peer already closed, this completes the
// handshake and releases the socket.
func (g *Gorilla) Close(ctx context.Context, code CloseCode, reason string) error {
	st := g.State()
	if st != StateOpen && st != StateCloseReceived {
		return nil
	}
	conn := g.getConn()

	deadline := time.Now().Add(g.opts.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	g.writeMu.Lock()
	err := conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(int(code), reason), deadline)
	g.writeMu.Unlock()
	if err != nil {
		g.fail()
		return fmt.Errorf("write close frame: %w", err)
	}

	if st == StateCloseReceived {
		g.setState(StateClosed)
		g.closeConn()
		return nil
	}

	g.setState(StateCloseSent)
	conn.SetReadDeadline(time.Now().Add(g.opts.CloseGrace))
	return nil
}

// Abort drops the connection without a closing handshake.
func (g *Gorilla) Abort() {
	switch g.State() {
	case StateClosed, StateAborted:
		return
	}
	g.fail()
}

// Dispose releases the handle.
func (g *Gorilla) Dispose() {
	g.Abort()
}

func (g *Gorilla) fail() {
	g.setState(StateAborted)
	g.closeConn()
}

func (g *Gorilla) closeConn() {
	if conn := g.getConn(); conn != nil {
		conn.Close()
	}
}
