package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bandlink/internal/transport"
)

// Receive performs one bounded blocking read on sub. A zero timeout waits
// until ctx is done.
//
// Errors: *TimeoutError when the bound expires, ctx.Err() (wrapped) when the
// caller cancelled, *TransportError for anything the subscription reports.
func Receive(ctx context.Context, sub transport.Subscription, operation string, timeout time.Duration) ([]byte, error) {
	readCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	buf, err := sub.Next(readCtx)
	if err == nil {
		return buf, nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%s: %w", operation, ctx.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, &TimeoutError{Operation: operation, After: timeout}
	}
	return nil, &TransportError{Op: "read", Endpoint: operation, Err: err}
}
