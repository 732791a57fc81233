package connection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rickgao/resilientws/internal/endpoint"
	"github.com/rickgao/resilientws/internal/transport"
)

var errAborted = errors.New("fake: aborted")

// frame is one scripted Receive result.
type frame struct {
	data   string
	kind   transport.FrameKind
	final  bool
	code   transport.CloseCode
	reason string
	err    error
}

func text(s string) frame { return frame{data: s, kind: transport.FrameText, final: true} }

func closeFrame(code transport.CloseCode, reason string) frame {
	return frame{kind: transport.FrameClose, final: true, code: code, reason: reason}
}

// fakeServer hands out scripted transports.
type fakeServer struct {
	mu       sync.Mutex
	dialErrs []error          // consumed per Dial; nil entries succeed
	failAll  error            // used once dialErrs is exhausted
	scripts  [][]frame        // frames per successful connection, in order
	headers  []http.Header    // one per Dial
	conns    []*fakeTransport // one per successful Dial
}

func (s *fakeServer) factory() transport.Transport {
	return newFakeTransport(s)
}

func (s *fakeServer) dial(t *fakeTransport, header http.Header) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headers = append(s.headers, header.Clone())

	var err error
	if len(s.dialErrs) > 0 {
		err, s.dialErrs = s.dialErrs[0], s.dialErrs[1:]
	} else {
		err = s.failAll
	}
	if err != nil {
		return err
	}

	if n := len(s.conns); n < len(s.scripts) {
		for _, f := range s.scripts[n] {
			t.frames <- f
		}
	}
	s.conns = append(s.conns, t)
	return nil
}

func (s *fakeServer) dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.headers)
}

func (s *fakeServer) conn(i int) *fakeTransport {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= len(s.conns) {
		return nil
	}
	return s.conns[i]
}

type fakeTransport struct {
	srv    *fakeServer
	state  atomic.Int32
	frames chan frame
	sent   chan string
	done   chan struct{}
	once   sync.Once

	mu          sync.Mutex
	closeCode   transport.CloseCode
	closeReason string
	closes      int
}

func newFakeTransport(srv *fakeServer) *fakeTransport {
	return &fakeTransport{
		srv:    srv,
		frames: make(chan frame, 32),
		sent:   make(chan string, 32),
		done:   make(chan struct{}),
	}
}

func (f *fakeTransport) State() transport.State { return transport.State(f.state.Load()) }

func (f *fakeTransport) set(s transport.State) { f.state.Store(int32(s)) }

func (f *fakeTransport) Dial(ctx context.Context, url string, header http.Header) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.set(transport.StateConnecting)
	if err := f.srv.dial(f, header); err != nil {
		f.set(transport.StateClosed)
		return fmt.Errorf("dial %s: %w", url, err)
	}
	f.set(transport.StateOpen)
	return nil
}

func (f *fakeTransport) Send(ctx context.Context, data []byte, kind transport.FrameKind, final bool) error {
	if f.State() != transport.StateOpen {
		return transport.ErrNotOpen
	}
	f.sent <- string(data)
	return nil
}

func (f *fakeTransport) Receive(ctx context.Context, buf []byte) (transport.Result, error) {
	select {
	case <-ctx.Done():
		f.Abort()
		return transport.Result{}, ctx.Err()
	case <-f.done:
		return transport.Result{}, errAborted
	case fr := <-f.frames:
		if fr.err != nil {
			f.Abort()
			return transport.Result{}, fr.err
		}
		if fr.kind == transport.FrameClose {
			if !f.state.CompareAndSwap(int32(transport.StateCloseSent), int32(transport.StateClosed)) {
				f.set(transport.StateCloseReceived)
			}
			return transport.Result{Kind: fr.kind, Final: true, CloseCode: fr.code, CloseReason: fr.reason}, nil
		}
		n := copy(buf, fr.data)
		return transport.Result{N: n, Kind: fr.kind, Final: fr.final}, nil
	}
}

// Close records the close frame. A close started locally is echoed back
// by the fake peer.
func (f *fakeTransport) Close(ctx context.Context, code transport.CloseCode, reason string) error {
	f.mu.Lock()
	f.closeCode, f.closeReason = code, reason
	f.closes++
	f.mu.Unlock()

	switch f.State() {
	case transport.StateCloseReceived:
		f.set(transport.StateClosed)
	case transport.StateOpen:
		f.set(transport.StateCloseSent)
		f.frames <- closeFrame(code, reason)
	}
	return nil
}

func (f *fakeTransport) closeSent() (transport.CloseCode, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode, f.closeReason
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *fakeTransport) Abort() {
	if f.State() != transport.StateClosed {
		f.set(transport.StateAborted)
	}
	f.once.Do(func() { close(f.done) })
}

func (f *fakeTransport) Dispose() { f.Abort() }

// eventLog records every event in firing order.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, s)
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *eventLog) count(prefix string) int {
	n := 0
	for _, e := range l.list() {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

func watch(c *Client) *eventLog {
	l := &eventLog{}
	c.OnConnected().Register(func(ctx context.Context, _ ConnectedEvent) error {
		l.add("connected")
		return nil
	})
	c.OnDisconnected().Register(func(ctx context.Context, e DisconnectedEvent) error {
		l.add(fmt.Sprintf("disconnected:%d", e.Code))
		return nil
	})
	c.OnError().Register(func(ctx context.Context, e ErrorEvent) error {
		l.add("error")
		return nil
	})
	c.OnMessage().Register(func(ctx context.Context, e MessageEvent) error {
		l.add("message:" + e.Text)
		return nil
	})
	c.OnRetry().Register(func(ctx context.Context, e RetryEvent) error {
		l.add("retry:" + e.Description)
		return nil
	})
	return l
}

func newFakeClient(t *testing.T, srv *fakeServer, mutate func(*Config)) *Client {
	t.Helper()
	cfg := Config{
		Endpoint:  endpoint.NewLocal(8080, false),
		Transport: srv.factory,
	}
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
