package resp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrIncomplete signals that the buffer ends before the frame does. It is
// control flow, not failure: callers read more bytes and retry. It must
// never escape to application code.
var ErrIncomplete = errors.New("resp: incomplete frame")

// ProtocolError reports bytes that can never form a valid frame, or a frame
// that exceeds a configured limit. It is permanent: the stream is
// desynchronized and the connection carrying it must be discarded.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "resp: protocol error: " + e.Reason
}

func protoErr(format string, args ...interface{}) error {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

// ErrorKind classifies a server error frame by its leading token.
type ErrorKind int

const (
	KindGeneric ErrorKind = iota // -ERR and anything unrecognized without a token
	KindWrongType
	KindMoved
	KindAsk
	KindTryAgain
	KindClusterDown
	KindLoading
	KindReadOnly
	KindNoScript
	KindBusy
	KindOther // recognized token shape, not in the table; Token holds it
)

func (k ErrorKind) String() string {
	switch k {
	case KindGeneric:
		return "ERR"
	case KindWrongType:
		return "WRONGTYPE"
	case KindMoved:
		return "MOVED"
	case KindAsk:
		return "ASK"
	case KindTryAgain:
		return "TRYAGAIN"
	case KindClusterDown:
		return "CLUSTERDOWN"
	case KindLoading:
		return "LOADING"
	case KindReadOnly:
		return "READONLY"
	case KindNoScript:
		return "NOSCRIPT"
	case KindBusy:
		return "BUSY"
	}
	return "OTHER"
}

// ServerError is an error frame returned by the server (simple or bulk).
// The message is preserved verbatim; Kind is derived from its first word.
type ServerError struct {
	Kind    ErrorKind
	Token   string // first word of the message, for KindOther
	Message string
}

func (e *ServerError) Error() string { return e.Message }

// NewServerError classifies a server error message.
func NewServerError(msg string) *ServerError {
	token, _, _ := strings.Cut(msg, " ")
	e := &ServerError{Message: msg, Token: token}
	switch token {
	case "ERR", "":
		e.Kind = KindGeneric
	case "WRONGTYPE":
		e.Kind = KindWrongType
	case "MOVED":
		e.Kind = KindMoved
	case "ASK":
		e.Kind = KindAsk
	case "TRYAGAIN":
		e.Kind = KindTryAgain
	case "CLUSTERDOWN":
		e.Kind = KindClusterDown
	case "LOADING":
		e.Kind = KindLoading
	case "READONLY":
		e.Kind = KindReadOnly
	case "NOSCRIPT":
		e.Kind = KindNoScript
	case "BUSY":
		e.Kind = KindBusy
	default:
		e.Kind = KindOther
	}
	return e
}

// Redirect returns the slot and target address of a MOVED or ASK error
// ("MOVED 3999 127.0.0.1:6381"). ok is false for other kinds or when the
// message is malformed.
func (e *ServerError) Redirect() (slot int, addr string, ok bool) {
	if e.Kind != KindMoved && e.Kind != KindAsk {
		return 0, "", false
	}
	fields := strings.Fields(e.Message)
	if len(fields) != 3 {
		return 0, "", false
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil || n < 0 {
		return 0, "", false
	}
	return n, fields[2], true
}

// AsError converts an error frame value into a *ServerError. ok is false
// when the value is not an error frame.
func (v Value) AsError() (*ServerError, bool) {
	msg, ok := v.ErrorMessage()
	if !ok {
		return nil, false
	}
	return NewServerError(msg), true
}
