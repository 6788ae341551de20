package probe

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"
)

// Classify maps a network error to an ErrorKind. Nil maps to KindUnknown;
// callers should only classify actual failures.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return KindServerUnreachable
	}

	// A DNS failure means the terminal address cannot be resolved at all.
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindServerUnreachable
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindNetworkError
	}

	return KindUnknown
}
