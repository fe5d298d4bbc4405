package protocol

import (
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is matched by every TimeoutError.
var ErrTimeout = errors.New("timeout")

// ProtocolError reports an unexpected op-code, status or message shape.
// Response holds the offending message.
type ProtocolError struct {
	Operation string
	Response  ControlResponse
	Reason    string
}

func (e *ProtocolError) Error() string {
	if e.Response.Raw == nil {
		return fmt.Sprintf("protocol error during %s: %s", e.Operation, e.Reason)
	}
	return fmt.Sprintf("protocol error during %s: %s (%s)", e.Operation, e.Reason, e.Response)
}

// TransportError wraps a failure of the underlying channel.
type TransportError struct {
	Op       string // "write", "read", "subscribe"
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// TimeoutError reports a blocking read that exceeded its bound.
type TimeoutError struct {
	Operation string
	After     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: no response within %s", e.Operation, e.After)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// IsProtocolError reports whether err is or wraps a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// IsTransportError reports whether err is or wraps a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
