package health

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPChecker probes a dependency by completing a TCP handshake, used
// for services without an HTTP surface (the media server, SMTP relay).
type TCPChecker struct {
	name    string
	address string
	timeout time.Duration
}

// NewTCP builds a checker that dials address.
func NewTCP(name, address string) *TCPChecker {
	return &TCPChecker{
		name:    name,
		address: address,
		timeout: 5 * time.Second,
	}
}

// WithTimeout overrides the dial timeout.
func (t *TCPChecker) WithTimeout(timeout time.Duration) *TCPChecker {
	t.timeout = timeout
	return t
}

func (t *TCPChecker) Name() string { return t.name }

func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	dialer := &net.Dialer{Timeout: t.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.address)
	if err != nil {
		return result(start, false, fmt.Sprintf("dial failed: %v", err))
	}
	conn.Close()

	return result(start, true, fmt.Sprintf("connected to %s", t.address))
}
