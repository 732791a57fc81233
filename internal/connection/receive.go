package connection

import (
	"context"

	"golang.org/x/text/encoding/unicode"

	"github.com/rickgao/resilientws/internal/transport"
)

// receive reads until the session ends. It reports remote=true when the
// peer closed and the client should reconnect. A non-nil error is a fault.
//
// Messages longer than the buffer are not reassembled: the leading chunks
// are dropped and only the final chunk is delivered.
func (c *Client) receive(ctx context.Context, s *session) (remote bool, err error) {
	buf := make([]byte, c.cfg.BufferSize)

	for reading(s.tr.State()) {
		res, err := s.tr.Receive(ctx, buf)
		if err != nil {
			if s.closing.Load() && ctx.Err() == nil {
				return false, nil
			}
			return false, err
		}
		if !res.Final {
			continue
		}

		switch res.Kind {
		case transport.FrameText:
			text := decodeText(buf[:res.N])
			if err := c.onMessage.Invoke(ctx, MessageEvent{Text: text}); err != nil {
				return false, err
			}
		case transport.FrameClose:
			return c.remoteClosed(ctx, s, res)
		}
	}
	return false, nil
}

func (c *Client) remoteClosed(ctx context.Context, s *session, res transport.Result) (bool, error) {
	c.logger.Info("peer closed connection",
		"session_id", s.id,
		"code", int(res.CloseCode),
		"reason", res.CloseReason,
	)

	// Handlers observe the new state.
	if c.cfg.AutoReconnect && !s.closing.Load() {
		c.setState(StateReconnecting)
	} else {
		c.setState(StateDisconnected)
	}

	ev := DisconnectedEvent{Code: res.CloseCode, Reason: res.CloseReason}
	if err := c.onDisconnected.Invoke(ctx, ev); err != nil {
		return false, err
	}

	if c.cfg.AutoReconnect && !s.closing.Load() {
		return true, nil
	}

	if s.tr.State() == transport.StateCloseReceived {
		_ = c.funnel.run(ctx, false, func() error {
			return s.tr.Close(ctx, transport.CloseNormalClosure, closedByRemoteReason)
		})
	}
	return false, nil
}

// reading reports whether frames may still arrive. After a local close the
// loop keeps reading until the peer answers.
func reading(st transport.State) bool {
	return st == transport.StateOpen || st == transport.StateCloseSent
}

// decodeText decodes UTF-8, replacing invalid sequences with U+FFFD.
func decodeText(b []byte) string {
	out, err := unicode.UTF8.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}
