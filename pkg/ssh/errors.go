package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

// ErrSecretMismatch is returned when a key is already pooled under a
// different secret than the one presented.
var ErrSecretMismatch = errors.New("pooled session was authenticated with a different secret")

// ErrSessionClosed is returned by operations on a released session.
var ErrSessionClosed = errors.New("session closed")

// ConnectionError reports a failure to connect or authenticate to an endpoint.
type ConnectionError struct {
	Host string
	Port int
	User string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s@%s:%d: %v", e.User, e.Host, e.Port, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError reports that an operation ran past its deadline. It is kept
// distinct from ConnectionError and transfer errors so callers can tell a slow
// endpoint from a refused one.
type TimeoutError struct {
	Op     string // "connect", "download", "upload", "list"
	Target string
	Err    error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %s: timed out: %v", e.Op, e.Target, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Timeout lets TimeoutError satisfy net.Error-style checks.
func (e *TimeoutError) Timeout() bool { return true }

// IsTimeout reports whether err came from an expired deadline.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
