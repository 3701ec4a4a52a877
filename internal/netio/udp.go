package netio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/net/ipv4"

	"firestige.xyz/netslave/internal/core"
	"firestige.xyz/netslave/internal/log"
)

// UDPConfig addresses the master.
type UDPConfig struct {
	// Address is the multicast group or unicast host of the master.
	Address string
	Port    int
	// Interface optionally pins multicast traffic to one NIC.
	Interface string
	TTL       int
	Loopback  bool
}

// UDPLink is a Link over an ephemeral UDP socket.
type UDPLink struct {
	cfg UDPConfig

	mu    sync.Mutex
	conn  *net.UDPConn
	group *net.UDPAddr
	peer  *net.UDPAddr
}

// NewUDPLink creates an unopened link.
func NewUDPLink(cfg UDPConfig) *UDPLink {
	if cfg.TTL <= 0 {
		cfg.TTL = 1
	}
	return &UDPLink{cfg: cfg}
}

// Open implements Link.
func (l *UDPLink) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return nil
	}

	group, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(l.cfg.Address, fmt.Sprint(l.cfg.Port)))
	if err != nil {
		return fmt.Errorf("resolve master address: %w", err)
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return fmt.Errorf("open socket: %w", err)
	}
	if group.IP.IsMulticast() {
		if err := l.configureMulticast(conn); err != nil {
			conn.Close()
			return err
		}
	}
	l.conn = conn
	l.group = group
	l.peer = nil
	log.Named("netio").WithField("local", conn.LocalAddr().String()).
		WithField("master", group.String()).Debug("link opened")
	return nil
}

func (l *UDPLink) configureMulticast(conn *net.UDPConn) error {
	p := ipv4.NewPacketConn(conn)
	if err := p.SetMulticastTTL(l.cfg.TTL); err != nil {
		return fmt.Errorf("set multicast ttl: %w", err)
	}
	if err := p.SetMulticastLoopback(l.cfg.Loopback); err != nil {
		return fmt.Errorf("set multicast loopback: %w", err)
	}
	if l.cfg.Interface != "" {
		ifi, err := net.InterfaceByName(l.cfg.Interface)
		if err != nil {
			return fmt.Errorf("multicast interface %q: %w", l.cfg.Interface, err)
		}
		if err := p.SetMulticastInterface(ifi); err != nil {
			return fmt.Errorf("set multicast interface: %w", err)
		}
	}
	return nil
}

// IsOpen implements Link.
func (l *UDPLink) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// Close implements Link. Closing a closed link is a no-op.
func (l *UDPLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	l.peer = nil
	return err
}

func (l *UDPLink) socket() (*net.UDPConn, *net.UDPAddr, *net.UDPAddr, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil, nil, nil, core.ErrLinkClosed
	}
	return l.conn, l.group, l.peer, nil
}

// Exchange implements Link.
func (l *UDPLink) Exchange(ctx context.Context, req []byte, timeout time.Duration) ([]byte, error) {
	conn, group, _, err := l.socket()
	if err != nil {
		return nil, err
	}
	if _, err := conn.WriteToUDP(req, group); err != nil {
		return nil, classify(err)
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, classify(err)
	}
	buf := make([]byte, 64*1024)
	n, from, err := conn.ReadFromUDP(buf)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classify(err)
	}

	l.mu.Lock()
	l.peer = from
	l.mu.Unlock()
	return buf[:n], nil
}

// Send implements Link.
func (l *UDPLink) Send(p []byte) error {
	conn, _, peer, err := l.socket()
	if err != nil {
		return err
	}
	if peer == nil {
		return fmt.Errorf("%w: no master peer", core.ErrLinkClosed)
	}
	if _, err := conn.WriteToUDP(p, peer); err != nil {
		return classify(err)
	}
	return nil
}

// Recv implements Link. Datagrams from hosts other than the locked peer are
// discarded.
func (l *UDPLink) Recv(buf []byte, timeout time.Duration) (int, error) {
	conn, _, peer, err := l.socket()
	if err != nil {
		return 0, err
	}
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, classify(err)
	}
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			return 0, classify(err)
		}
		if peer != nil && !from.IP.Equal(peer.IP) {
			continue
		}
		return n, nil
	}
}

func classify(err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: %v", core.ErrTimeout, err)
	}
	if errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %v", core.ErrLinkClosed, err)
	}
	return err
}
