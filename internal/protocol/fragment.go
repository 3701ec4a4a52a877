package protocol

import (
	"fmt"

	"firestige.xyz/netslave/internal/core"
)

// UDPOverhead is the IPv4 plus UDP header size subtracted from the MTU.
const UDPOverhead = 28

// MaxFragments is the most data packets one frame may span.
const MaxFragments = 0xffff

// FragmentPayload returns the usable payload bytes per data packet.
func FragmentPayload(mtu int) int {
	return mtu - UDPOverhead - HeaderLen
}

// FragmentCount returns how many data packets carry a frame of n bytes.
// An empty frame still takes one packet so every cycle is acknowledged.
func FragmentCount(n, mtu int) int {
	size := FragmentPayload(mtu)
	if n <= 0 || size <= 0 {
		return 1
	}
	return (n + size - 1) / size
}

// Fragments calls fn for every fragment of frame, in order.
func Fragments(frame []byte, mtu int, fn func(index, count int, chunk []byte) error) error {
	size := FragmentPayload(mtu)
	if size <= 0 {
		return fmt.Errorf("%w: mtu %d leaves no payload", core.ErrConfigInvalid, mtu)
	}
	count := FragmentCount(len(frame), mtu)
	if count > MaxFragments {
		return fmt.Errorf("%w: frame of %d bytes needs %d fragments", core.ErrConfigInvalid, len(frame), count)
	}
	for i := 0; i < count; i++ {
		lo := i * size
		hi := min(lo+size, len(frame))
		if err := fn(i, count, frame[lo:hi]); err != nil {
			return err
		}
	}
	return nil
}

// Assembler rebuilds one cycle's data frame from its fragments.
type Assembler struct {
	buf      []byte
	size     int
	cycle    uint32
	count    int
	received []bool
	pending  int
	length   int
}

// NewAssembler creates an assembler able to hold frames up to maxLen bytes.
func NewAssembler(maxLen, mtu int) *Assembler {
	return &Assembler{
		buf:  make([]byte, maxLen),
		size: FragmentPayload(mtu),
	}
}

// Reset starts collecting fragments for cycle.
func (a *Assembler) Reset(cycle uint32) {
	a.cycle = cycle
	a.count = 0
	a.pending = 0
	a.length = 0
	a.received = a.received[:0]
}

// Add stores one data fragment and reports whether the frame is complete.
func (a *Assembler) Add(h *Header, payload []byte) (bool, error) {
	if h.Cycle != a.cycle {
		return false, fmt.Errorf("%w: fragment for cycle %d while assembling %d", core.ErrPayloadTransfer, h.Cycle, a.cycle)
	}
	if a.size <= 0 {
		return false, fmt.Errorf("%w: mtu leaves no fragment payload", core.ErrPayloadTransfer)
	}
	count := int(h.Fragments)
	idx := int(h.Fragment)
	if count == 0 || idx >= count {
		return false, fmt.Errorf("%w: fragment %d of %d", core.ErrPayloadTransfer, idx, count)
	}
	if a.count == 0 {
		if (count-1)*a.size > len(a.buf) {
			return false, fmt.Errorf("%w: %d fragments exceed frame capacity", core.ErrPayloadTransfer, count)
		}
		a.count = count
		a.pending = count
		for i := 0; i < count; i++ {
			a.received = append(a.received, false)
		}
	} else if count != a.count {
		return false, fmt.Errorf("%w: fragment count changed from %d to %d", core.ErrPayloadTransfer, a.count, count)
	}
	if a.received[idx] {
		return a.pending == 0, nil
	}
	last := idx == count-1
	if !last && len(payload) != a.size {
		return false, fmt.Errorf("%w: fragment %d has %d bytes, want %d", core.ErrPayloadTransfer, idx, len(payload), a.size)
	}
	off := idx * a.size
	if off+len(payload) > len(a.buf) {
		return false, fmt.Errorf("%w: frame exceeds %d bytes", core.ErrPayloadTransfer, len(a.buf))
	}
	copy(a.buf[off:], payload)
	if last {
		a.length = off + len(payload)
	}
	a.received[idx] = true
	a.pending--
	return a.pending == 0, nil
}

// Frame returns the assembled bytes. Only valid once Add reported completion.
func (a *Assembler) Frame() []byte {
	return a.buf[:a.length]
}
