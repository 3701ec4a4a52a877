// Package mastertest provides a scripted master for exercising the slave
// driver over an in-process link.
package mastertest

import (
	"fmt"
	"time"

	"firestige.xyz/netslave/internal/core"
	"firestige.xyz/netslave/internal/netio"
	"firestige.xyz/netslave/internal/protocol"
)

// Master speaks the master side of the protocol.
type Master struct {
	link   netio.Link
	params core.SessionParams
	enc    *protocol.Encoder
	dec    *protocol.Decoder
	buf    []byte
	cycle  uint32
}

// New creates a master that answers negotiation with params.
func New(link netio.Link, params core.SessionParams) *Master {
	return &Master{
		link:   link,
		params: params,
		enc:    protocol.NewEncoder(),
		dec:    protocol.NewDecoder(),
		buf:    make([]byte, 64*1024),
	}
}

// Params returns the parameters the master hands out.
func (m *Master) Params() core.SessionParams { return m.params }

// Cycle returns the sequence number of the last cycle sent.
func (m *Master) Cycle() uint32 { return m.cycle }

// ServeParams waits for one slave announcement and replies with the
// master's params. The slave's request is returned.
func (m *Master) ServeParams(timeout time.Duration) (core.SessionParams, error) {
	deadline := time.Now().Add(timeout)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return core.SessionParams{}, fmt.Errorf("%w: no slave announcement", core.ErrTimeout)
		}
		n, err := m.link.Recv(m.buf, left)
		if err != nil {
			return core.SessionParams{}, err
		}
		h, payload, err := m.dec.Decode(m.buf[:n])
		if err != nil || h.Kind != protocol.KindParams {
			continue
		}
		typ, req, err := protocol.DecodeParams(payload)
		if err != nil || typ != protocol.MsgSlaveAvailable {
			continue
		}
		if err := m.SendParams(m.params); err != nil {
			return core.SessionParams{}, err
		}
		return req, nil
	}
}

// SendParams sends a set-params message.
func (m *Master) SendParams(p core.SessionParams) error {
	body, err := protocol.EncodeParams(protocol.MsgSlaveSetParams, p)
	if err != nil {
		return err
	}
	return m.send(protocol.Header{Kind: protocol.KindParams, Flags: protocol.FlagLast}, body)
}

// SendCycle starts the next cycle: one sync packet followed by frame.
func (m *Master) SendCycle(tf core.TransportFrame, frame []byte) error {
	m.cycle++
	if err := m.SendSync(m.cycle, tf); err != nil {
		return err
	}
	return m.SendData(m.cycle, frame)
}

// SendSync sends a sync packet for an arbitrary cycle.
func (m *Master) SendSync(cycle uint32, tf core.TransportFrame) error {
	return m.send(protocol.Header{Kind: protocol.KindSync, Flags: protocol.FlagLast, Cycle: cycle}, protocol.AppendSync(nil, tf))
}

// SendData sends frame as data fragments for cycle.
func (m *Master) SendData(cycle uint32, frame []byte) error {
	return protocol.Fragments(frame, m.params.MTU, func(i, count int, chunk []byte) error {
		h := protocol.Header{Kind: protocol.KindData, Cycle: cycle, Fragment: uint16(i), Fragments: uint16(count)}
		if i == count-1 {
			h.Flags |= protocol.FlagLast
		}
		return m.send(h, chunk)
	})
}

// Reply is what the slave sent back for one cycle.
type Reply struct {
	Cycle     uint32
	Transport core.TransportFrame
	Frame     []byte
}

// ReceiveCycle collects the slave's sync and data packets for one cycle.
func (m *Master) ReceiveCycle(timeout time.Duration) (Reply, error) {
	var r Reply
	deadline := time.Now().Add(timeout)
	var asm *protocol.Assembler
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return r, fmt.Errorf("%w: incomplete slave cycle", core.ErrTimeout)
		}
		n, err := m.link.Recv(m.buf, left)
		if err != nil {
			return r, err
		}
		h, payload, err := m.dec.Decode(m.buf[:n])
		if err != nil {
			return r, err
		}
		if h.Flags&protocol.FlagFromSlave == 0 {
			return r, fmt.Errorf("packet without slave flag")
		}
		switch h.Kind {
		case protocol.KindSync:
			tf, err := protocol.DecodeSync(payload)
			if err != nil {
				return r, err
			}
			r.Cycle = h.Cycle
			r.Transport = tf
			asm = protocol.NewAssembler(64*1024, m.params.MTU)
			asm.Reset(h.Cycle)
		case protocol.KindData:
			if asm == nil {
				return r, fmt.Errorf("data before sync")
			}
			done, err := asm.Add(h, payload)
			if err != nil {
				return r, err
			}
			if done {
				r.Frame = append([]byte(nil), asm.Frame()...)
				return r, nil
			}
		default:
			return r, fmt.Errorf("unexpected %s packet", h.Kind)
		}
	}
}

// ExpectSilence asserts that the slave sends nothing for d.
func (m *Master) ExpectSilence(d time.Duration) error {
	n, err := m.link.Recv(m.buf, d)
	if err == nil {
		return fmt.Errorf("unexpected %d byte packet from slave", n)
	}
	return nil
}

// SendRaw sends an already encoded datagram.
func (m *Master) SendRaw(pkt []byte) error {
	return m.link.Send(pkt)
}

func (m *Master) send(h protocol.Header, payload []byte) error {
	pkt, err := m.enc.Encode(h, payload)
	if err != nil {
		return err
	}
	return m.link.Send(pkt)
}
