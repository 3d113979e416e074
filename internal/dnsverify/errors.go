package dnsverify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

// Classified failure modes of the verification chain. Every network-touching
// function in this package converts underlying failures into one of these
// before returning; callers match with errors.Is.
var (
	// ErrInvalidDomain means the input could not be parsed into a registrable
	// domain. Retrying without correcting the input is pointless.
	ErrInvalidDomain = errors.New("invalid domain")

	// ErrNSLookupFailed means nameserver discovery failed: bad DoH status,
	// HTTP error, or an empty NS answer. Usually transient.
	ErrNSLookupFailed = errors.New("nameserver lookup failed")

	// ErrNoNameserversResolved means every discovered nameserver hostname
	// failed to resolve to an IPv4 address. Likely a misconfigured zone.
	ErrNoNameserversResolved = errors.New("no nameservers could be resolved")

	// ErrNoRecordFound means the TXT lookup completed but the expected name
	// holds no TXT data (NXDOMAIN or an empty answer set).
	ErrNoRecordFound = errors.New("no TXT record found")

	// ErrTimeout means the bounded wait on a network call elapsed.
	ErrTimeout = errors.New("dns lookup timed out")

	// ErrTransport covers any other network or resolver failure.
	ErrTransport = errors.New("dns lookup failed")
)

// StatusError is a DoH HTTP failure. The status code is the only upstream
// detail that is safe to surface to callers.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("dns lookup failed (http status %d)", e.Code)
}

func (e *StatusError) Unwrap() error { return ErrTransport }

// isTimeout reports whether err is any flavour of deadline expiry:
// context cancellation, a net.Error timeout, or an os-level timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return os.IsTimeout(err)
}
