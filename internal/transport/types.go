package transport

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
)

// Errors
var (
	ErrNotOpen       = errors.New("transport: not open")
	ErrAlreadyDialed = errors.New("transport: handle already dialed")
)

// State mirrors the lifecycle of a single transport handle.
type State int32

const (
	StateNone State = iota
	StateConnecting
	StateOpen
	StateCloseSent
	StateCloseReceived
	StateClosed
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateCloseSent:
		return "close_sent"
	case StateCloseReceived:
		return "close_received"
	case StateClosed:
		return "closed"
	case StateAborted:
		return "aborted"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// FrameKind is the kind of a data or close frame. Values match RFC 6455 opcodes.
type FrameKind uint8

const (
	FrameText   FrameKind = websocket.TextMessage
	FrameBinary FrameKind = websocket.BinaryMessage
	FrameClose  FrameKind = websocket.CloseMessage
)

func (k FrameKind) String() string {
	switch k {
	case FrameText:
		return "text"
	case FrameBinary:
		return "binary"
	case FrameClose:
		return "close"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// CloseCode is a WebSocket close status code.
type CloseCode int

const (
	CloseNormalClosure   CloseCode = websocket.CloseNormalClosure
	CloseGoingAway       CloseCode = websocket.CloseGoingAway
	CloseProtocolError   CloseCode = websocket.CloseProtocolError
	CloseNoStatus        CloseCode = websocket.CloseNoStatusReceived
	CloseAbnormal        CloseCode = websocket.CloseAbnormalClosure
	CloseInternalError   CloseCode = websocket.CloseInternalServerErr
	CloseInvalidPayload  CloseCode = websocket.CloseInvalidFramePayloadData
	ClosePolicyViolation CloseCode = websocket.ClosePolicyViolation
)

func (c CloseCode) String() string {
	switch c {
	case CloseNormalClosure:
		return "normal_closure"
	case CloseGoingAway:
		return "going_away"
	case CloseProtocolError:
		return "protocol_error"
	case CloseNoStatus:
		return "no_status"
	case CloseAbnormal:
		return "abnormal_closure"
	case CloseInternalError:
		return "internal_error"
	case CloseInvalidPayload:
		return "invalid_payload"
	case ClosePolicyViolation:
		return "policy_violation"
	default:
		return strconv.Itoa(int(c))
	}
}

// Result describes one Receive call.
type Result struct {
	N           int       // bytes written into the caller's buffer
	Kind        FrameKind // text, binary or close
	Final       bool      // true when this read completes the logical message
	CloseCode   CloseCode // set when Kind == FrameClose
	CloseReason string    // set when Kind == FrameClose
}

// Transport is a single framed connection handle. A handle is dialed at most
// once; callers create a fresh one per connect attempt.
type Transport interface {
	// Dial performs the opening handshake with the given extra headers.
	Dial(ctx context.Context, url string, header http.Header) error

	// Send writes data as part of a message of the given kind. final marks
	// the last fragment.
	Send(ctx context.Context, data []byte, kind FrameKind, final bool) error

	// Receive reads at most len(buf) bytes of the current message.
	Receive(ctx context.Context, buf []byte) (Result, error)

	// Close starts (or completes) the closing handshake.
	Close(ctx context.Context, code CloseCode, reason string) error

	// State returns the current handle state.
	State() State

	// Abort tears the connection down without a closing handshake.
	Abort()

	// Dispose releases the handle. Safe to call more than once.
	Dispose()
}

// Factory creates a fresh, undialed transport handle.
type Factory func() Transport
