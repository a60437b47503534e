package errorutil

import (
	"errors"
	"net"
	"syscall"
)

// IsTimeoutErr returns true if the error is a timeout error.
func IsTimeoutErr(err error) bool {
	var e interface{ Timeout() bool }
	return errors.As(err, &e) && e.Timeout()
}

// IsNetError returns true if the error came from the network stack,
// including name resolution failures.
func IsNetError(err error) bool {
	var (
		opErr  *net.OpError
		dnsErr *net.DNSError
	)
	return errors.Is(err, syscall.EINVAL) || errors.As(err, &opErr) || errors.As(err, &dnsErr)
}
