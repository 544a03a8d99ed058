package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"deadline", context.DeadlineExceeded, ErrTimeout},
		{"wrapped deadline", fmt.Errorf("post: %w", context.DeadlineExceeded), ErrTimeout},
		{"net timeout", &net.OpError{Op: "dial", Err: timeoutErr{}}, ErrTimeout},
		{"refused", errors.New("connect: connection refused"), ErrConnectionFailed},
		{"malformed", fmt.Errorf("decode: %w", ErrMalformedResponse), ErrMalformedResponse},
		{"cancelled", context.Canceled, ErrConnectionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestWrap_IsKindAndCause(t *testing.T) {
	cause := context.DeadlineExceeded
	err := Wrap("onvif", "GetCapabilities", "10.0.0.5:80", cause)

	if !errors.Is(err, ErrTimeout) {
		t.Error("errors.Is(err, ErrTimeout) = false, want true")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("errors.Is(err, DeadlineExceeded) = false, want true")
	}
	var pe *Error
	if !errors.As(err, &pe) {
		t.Fatal("errors.As(*Error) = false")
	}
	if pe.Op != "GetCapabilities" {
		t.Errorf("Op = %q, want GetCapabilities", pe.Op)
	}
}

func TestWrap_DoesNotDoubleWrap(t *testing.T) {
	inner := Malformed("rtsp", "OPTIONS", "10.0.0.5:554", errors.New("bad status line"))
	outer := Wrap("rtsp", "Probe", "10.0.0.5", inner)
	if outer != inner {
		t.Errorf("Wrap re-wrapped an existing *Error")
	}
	if Wrap("x", "y", "z", nil) != nil {
		t.Error("Wrap(nil) should be nil")
	}
}

func TestKindName(t *testing.T) {
	if got := KindName(context.DeadlineExceeded); got != "timeout" {
		t.Errorf("KindName(deadline) = %q, want timeout", got)
	}
	if got := KindName(Malformed("http", "HEAD", "a", nil)); got != "malformed_response" {
		t.Errorf("KindName(malformed) = %q", got)
	}
	if got := KindName(errors.New("boom")); got != "connection_failed" {
		t.Errorf("KindName(other) = %q", got)
	}
	if got := KindName(nil); got != "" {
		t.Errorf("KindName(nil) = %q, want empty", got)
	}
}
