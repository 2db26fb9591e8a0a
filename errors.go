package rediswire

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/flancast90/rediswire-go/resp"
)

// TopologyError reports a cluster or sentinel routing failure: no owner for
// a slot, redirect loops, or an unresolvable master.
type TopologyError struct {
	Mode   string // "cluster" or "sentinel"
	Detail string
	Err    error
}

func (e *TopologyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rediswire: %s: %s: %v", e.Mode, e.Detail, e.Err)
	}
	return fmt.Sprintf("rediswire: %s: %s", e.Mode, e.Detail)
}

func (e *TopologyError) Unwrap() error { return e.Err }

// GraphError reports a graph compact reply whose shape or type codes do not
// match the format. The payload is never guessed at; decoding stops.
type GraphError struct {
	Detail string
}

func (e *GraphError) Error() string {
	return "rediswire: graph: " + e.Detail
}

func graphErr(format string, args ...interface{}) error {
	return &GraphError{Detail: fmt.Sprintf(format, args...)}
}

// PipelineError reports the first error frame of a pipeline. Replies after
// the failing command are never parsed; the connection that carried the
// batch is discarded.
type PipelineError struct {
	Index int // position of the failing command in the batch
	Err   *resp.ServerError
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("rediswire: pipeline command %d: %v", e.Index, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a read-deadline expiry or a context
// deadline, as opposed to a connection failure.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsProtocolError reports whether err means the peer sent bytes that cannot
// be decoded (or that exceed a configured limit). The connection that
// produced it has been discarded.
func IsProtocolError(err error) bool {
	var pe *resp.ProtocolError
	return errors.As(err, &pe)
}

// AsServerError extracts the server error frame behind err, if any.
func AsServerError(err error) (*resp.ServerError, bool) {
	var se *resp.ServerError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
