package netio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"firestige.xyz/netslave/internal/core"
)

// MemLink is an in-process Link. Two ends created by NewMemPair deliver to
// each other so a scripted master can drive the driver in tests.
type MemLink struct {
	in   chan []byte
	peer *MemLink

	mu       sync.Mutex
	open     bool
	drop     int
	sendErr  error
	sent     int
	received int
}

// NewMemPair returns two connected ends. Both start open.
func NewMemPair(depth int) (*MemLink, *MemLink) {
	a := &MemLink{in: make(chan []byte, depth), open: true}
	b := &MemLink{in: make(chan []byte, depth), open: true}
	a.peer, b.peer = b, a
	return a, b
}

// Open implements Link. Datagrams queued while closed are discarded.
func (m *MemLink) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open {
		return nil
	}
drain:
	for {
		select {
		case <-m.in:
		default:
			break drain
		}
	}
	m.open = true
	return nil
}

// IsOpen implements Link.
func (m *MemLink) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// Close implements Link.
func (m *MemLink) Close() error {
	m.mu.Lock()
	m.open = false
	m.mu.Unlock()
	return nil
}

// DropNext silently discards the next n outgoing datagrams.
func (m *MemLink) DropNext(n int) {
	m.mu.Lock()
	m.drop = n
	m.mu.Unlock()
}

// FailSends makes every Send return err until called with nil.
func (m *MemLink) FailSends(err error) {
	m.mu.Lock()
	m.sendErr = err
	m.mu.Unlock()
}

// Counters returns delivered datagram counts.
func (m *MemLink) Counters() (sent, received int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent, m.received
}

// Send implements Link.
func (m *MemLink) Send(p []byte) error {
	m.mu.Lock()
	if !m.open {
		m.mu.Unlock()
		return core.ErrLinkClosed
	}
	if m.sendErr != nil {
		err := m.sendErr
		m.mu.Unlock()
		return err
	}
	if m.drop > 0 {
		m.drop--
		m.mu.Unlock()
		return nil
	}
	m.sent++
	m.mu.Unlock()

	pkt := append([]byte(nil), p...)
	select {
	case m.peer.in <- pkt:
		return nil
	default:
		return fmt.Errorf("%w: peer queue full", core.ErrLinkClosed)
	}
}

// Recv implements Link.
func (m *MemLink) Recv(buf []byte, timeout time.Duration) (int, error) {
	if !m.IsOpen() {
		return 0, core.ErrLinkClosed
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case pkt := <-m.in:
		m.mu.Lock()
		m.received++
		m.mu.Unlock()
		return copy(buf, pkt), nil
	case <-timer.C:
		return 0, fmt.Errorf("%w: no datagram within %s", core.ErrTimeout, timeout)
	}
}

// Exchange implements Link.
func (m *MemLink) Exchange(ctx context.Context, req []byte, timeout time.Duration) ([]byte, error) {
	if err := m.Send(req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := make([]byte, 64*1024)
	n, err := m.Recv(buf, timeout)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}
