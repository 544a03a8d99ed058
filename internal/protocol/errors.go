// Package protocol holds the error taxonomy shared by the device protocol
// clients in its subpackages. Every client error is one of three kinds and
// none of them is fatal: a caller moves on to the next protocol.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Error kinds.
var (
	ErrTimeout           = errors.New("timeout")
	ErrConnectionFailed  = errors.New("connection failed")
	ErrMalformedResponse = errors.New("malformed response")
)

// Error is a classified failure of one protocol operation against one address.
type Error struct {
	Protocol string
	Op       string
	Addr     string
	Kind     error
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s %s: %v", e.Protocol, e.Op, e.Addr, e.Kind)
	}
	return fmt.Sprintf("%s %s %s: %v: %v", e.Protocol, e.Op, e.Addr, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Wrap classifies err and wraps it. A nil err returns nil.
func Wrap(proto, op, addr string, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return &Error{Protocol: proto, Op: op, Addr: addr, Kind: Classify(err), Err: err}
}

// Malformed returns an ErrMalformedResponse error for op.
func Malformed(proto, op, addr string, cause error) error {
	return &Error{Protocol: proto, Op: op, Addr: addr, Kind: ErrMalformedResponse, Err: cause}
}

// Classify maps err to one of the three kinds.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, ErrMalformedResponse):
		return ErrMalformedResponse
	case errors.Is(err, ErrConnectionFailed):
		return ErrConnectionFailed
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrTimeout
	}
	return ErrConnectionFailed
}

// KindName returns a short stable label for err's kind, for logs and API output.
func KindName(err error) string {
	switch Classify(err) {
	case nil:
		return ""
	case ErrTimeout:
		return "timeout"
	case ErrMalformedResponse:
		return "malformed_response"
	default:
		return "connection_failed"
	}
}
