package gen

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// TransportErrorKind separates "server unreachable" from "server slow" so the
// retry controller and callers can tell them apart.
type TransportErrorKind string

const (
	// KindTimeout covers deadline expiry while waiting for the response.
	KindTimeout TransportErrorKind = "timeout"
	// KindConnection covers dial failures: refused, unresolvable, or a
	// connect that never completed.
	KindConnection TransportErrorKind = "connection_failure"
)

// TransportError is a transient network-layer fault. Every TransportError is
// retryable; terminal conditions (provider errors, parse errors) never take
// this shape and are reported through a failed envelope instead.
type TransportError struct {
	Kind TransportErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// classifyTransportError maps a raw client error onto the transport taxonomy.
// Dial-phase failures are connection failures even when the dialer timed out,
// since the server was never reached. Everything else that reports Timeout()
// or a deadline is a read timeout. Unrecognized errors default to connection
// failures so they stay retryable.
func classifyTransportError(err error) *TransportError {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return &TransportError{Kind: KindConnection, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TransportError{Kind: KindTimeout, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransportError{Kind: KindTimeout, Err: err}
	}
	return &TransportError{Kind: KindConnection, Err: err}
}
