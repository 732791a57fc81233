package connection

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/resilientws/internal/transport"
)

// supervise drives one connection from its first handshake result until
// the client gives up: receive, handle the fault or remote close, apply the
// reconnect policy, dial again.
func (c *Client) supervise(s *session, err error) {
	for {
		var again bool
		if err != nil {
			again = c.handleFault(nil, err)
		} else {
			again = c.serve(s)
		}
		if !again {
			return
		}

		var ok bool
		if s, ok, err = c.reconnect(); !ok {
			return
		}
	}
}

// serve runs the receive loop and reports whether to reconnect.
func (c *Client) serve(s *session) bool {
	var remote bool
	err := c.funnel.run(c.mainCtx, true, func() error {
		var err error
		remote, err = c.receive(c.mainCtx, s)
		return err
	})
	if err != nil {
		return c.handleFault(s, err)
	}
	return remote
}

// handleFault runs after a failed handshake or receive. The Error event has
// already been published by the funnel.
func (c *Client) handleFault(s *session, err error) bool {
	if s != nil {
		s.tr.Abort()
	}
	if isCancellation(c.mainCtx, err) {
		c.logger.Debug("connection canceled", "error", err)
		c.setState(StateDisconnected)
		return false
	}

	if s != nil {
		c.logger.Warn("session failed", "session_id", s.id, "error", err)
	} else {
		c.logger.Warn("connect failed", "error", err)
	}

	if c.cfg.AutoReconnect {
		c.setState(StateReconnecting)
	} else {
		c.setState(StateDisconnected)
	}

	ev := DisconnectedEvent{Code: transport.CloseProtocolError, Reason: err.Error()}
	_ = c.funnel.run(c.mainCtx, false, func() error {
		return c.onDisconnected.Invoke(c.mainCtx, ev)
	})
	return true
}

// reconnect applies the policy and makes one attempt. ok=false means the
// client stopped trying.
func (c *Client) reconnect() (s *session, ok bool, err error) {
	if c.IsConnected() {
		return nil, false, nil
	}
	prev := c.currentSession()
	if !c.cfg.AutoReconnect || c.IsDisposed() {
		c.stopReconnecting(prev)
		return nil, false, nil
	}

	d, attempt, interval := c.policy.next()
	switch d {
	case decisionStop:
		c.stopReconnecting(prev)
		return nil, false, nil
	case decisionExhausted:
		c.logger.Warn("reconnect attempts exhausted", "max_attempts", c.cfg.MaxReconnectAttempts)
		c.fireRetry(maxAttemptsReached)
		c.stopReconnecting(prev)
		return nil, false, nil
	}

	c.logger.Info("attempting reconnection", "attempt", attempt, "wait", interval)
	c.fireRetry(retryDescription(attempt, interval))

	if !sleepContext(c.mainCtx, interval) {
		c.setState(StateDisconnected)
		return nil, false, nil
	}
	if c.IsConnected() {
		// A manual Connect won the race.
		return nil, false, nil
	}

	ctx, cancel := context.WithTimeout(c.connectCtx, c.cfg.ConnectTimeout)
	defer cancel()
	s, err = c.dial(ctx, true)
	return s, true, err
}

// stopReconnecting marks the client disconnected and releases prev if it
// is still the current session. A close frame left unanswered while
// reconnection was pending is acknowledged; anything else is aborted.
func (c *Client) stopReconnecting(prev *session) {
	c.setState(StateDisconnected)

	c.mu.Lock()
	current := c.current == prev
	c.mu.Unlock()
	if prev == nil || !current {
		return
	}

	if prev.tr.State() == transport.StateCloseReceived {
		_ = c.funnel.run(c.mainCtx, false, func() error {
			return prev.tr.Close(c.mainCtx, transport.CloseNormalClosure, closedByRemoteReason)
		})
		return
	}
	prev.tr.Abort()
}

// dial performs one handshake on a fresh transport handle and installs it
// as the current session.
func (c *Client) dial(ctx context.Context, inline bool) (*session, error) {
	c.setState(StateConnecting)
	tr := c.cfg.Transport()
	header := c.handshakeHeader()

	err := c.funnel.run(ctx, true, func() error {
		return tr.Dial(ctx, c.url, header)
	})
	if err != nil {
		tr.Dispose()
		return nil, err
	}

	s := &session{id: uuid.New(), tr: tr}

	c.mu.Lock()
	if c.IsDisposed() {
		c.mu.Unlock()
		tr.Dispose()
		return nil, context.Canceled
	}
	prev := c.current
	c.current = s
	c.mu.Unlock()

	if prev != nil {
		prev.tr.Dispose()
	}

	c.setState(StateConnected)
	c.policy.reset()
	c.logger.Info("connected", "session_id", s.id)

	if inline {
		c.fireConnected()
	} else {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.fireConnected()
		}()
	}
	return s, nil
}

func (c *Client) fireConnected() {
	_ = c.funnel.run(c.mainCtx, false, func() error {
		return c.onConnected.Invoke(c.mainCtx, ConnectedEvent{})
	})
}

func (c *Client) fireRetry(description string) {
	_ = c.funnel.run(c.mainCtx, false, func() error {
		return c.onRetry.Invoke(c.mainCtx, RetryEvent{Description: description})
	})
}

// sleepContext waits d or until ctx is done. It reports whether the full
// wait elapsed.
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
