// Package netio provides the datagram link between slave and master.
package netio

import (
	"context"
	"time"
)

// Link is a datagram socket bound to one master.
type Link interface {
	Open() error
	IsOpen() bool
	Close() error
	// Exchange sends req to the master's announce address and waits up to
	// timeout for a reply. The replying peer becomes the target of Send.
	Exchange(ctx context.Context, req []byte, timeout time.Duration) ([]byte, error)
	// Send transmits one datagram to the locked peer.
	Send(p []byte) error
	// Recv reads one datagram into buf, waiting up to timeout.
	Recv(buf []byte, timeout time.Duration) (int, error)
}
