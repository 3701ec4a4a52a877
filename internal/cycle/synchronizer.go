// Package cycle performs the per-period exchange with the master.
//
// A cycle is read as one sync packet followed by the data fragments of the
// inbound frame, and written back as one sync packet followed by the
// fragments of the outbound frame. Both directions carry the master's cycle
// number.
package cycle

import (
	"errors"
	"fmt"
	"time"

	"firestige.xyz/netslave/internal/core"
	"firestige.xyz/netslave/internal/log"
	"firestige.xyz/netslave/internal/metrics"
	"firestige.xyz/netslave/internal/netio"
	"firestige.xyz/netslave/internal/protocol"
)

// Status is the outcome of one half cycle.
type Status int

const (
	// StatusOK means the exchange completed.
	StatusOK Status = iota
	// StatusSyncMissed means no sync arrived in time; the cycle is skipped.
	StatusSyncMissed
	// StatusFatal means the payload framing is no longer trustworthy.
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusSyncMissed:
		return "sync-missed"
	case StatusFatal:
		return "fatal"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Sink consumes an assembled inbound frame.
type Sink interface {
	Unpack(data []byte) error
}

// Options configure a Synchronizer.
type Options struct {
	MTU int
	// Timeout bounds every receive; at most one period.
	Timeout time.Duration
	// MaxFrame is the capacity of the inbound frame.
	MaxFrame int
	Monitor  *metrics.CycleMonitor
}

// Stats are cumulative since the last Reset.
type Stats struct {
	Cycles     uint64 `json:"cycles"`
	SyncMissed uint64 `json:"sync_missed"`
	Lost       uint64 `json:"lost"`
	Dropped    uint64 `json:"dropped"`
	LastCycle  uint32 `json:"last_cycle"`
	Completed  uint32 `json:"completed"`
}

// Synchronizer runs the cycle exchange over a link. It is driven from a
// single goroutine.
type Synchronizer struct {
	link    netio.Link
	opts    Options
	enc     *protocol.Encoder
	dec     *protocol.Decoder
	asm     *protocol.Assembler
	rx      []byte
	syncBuf []byte

	cycle  uint32
	synced bool
	stats  Stats
}

// New creates a synchronizer.
func New(link netio.Link, opts Options) *Synchronizer {
	return &Synchronizer{
		link:    link,
		opts:    opts,
		enc:     protocol.NewEncoder(),
		dec:     protocol.NewDecoder(),
		asm:     protocol.NewAssembler(opts.MaxFrame, opts.MTU),
		rx:      make([]byte, max(opts.MTU, 1500)+protocol.HeaderLen),
		syncBuf: make([]byte, 0, protocol.SyncLen),
	}
}

// Reset forgets the cycle sequence and counters.
func (s *Synchronizer) Reset() {
	s.cycle = 0
	s.synced = false
	s.stats = Stats{}
}

// Stats returns the counters.
func (s *Synchronizer) Stats() Stats {
	return s.stats
}

// OnCycleRead waits for the next sync packet, hands its transport frame to
// onSync, then receives the inbound frame into sink.
//
// A missing sync returns StatusSyncMissed with an error wrapping
// core.ErrSyncMissed and no payload is read. Any failure after the sync was
// accepted returns StatusFatal with an error wrapping core.ErrPayloadTransfer.
func (s *Synchronizer) OnCycleRead(onSync func(core.TransportFrame), sink Sink) (Status, error) {
	s.opts.Monitor.Begin()

	tf, err := s.awaitSync(time.Now().Add(s.opts.Timeout))
	if err != nil {
		s.stats.SyncMissed++
		s.logMiss(err)
		return StatusSyncMissed, fmt.Errorf("%w: %v", core.ErrSyncMissed, err)
	}
	if onSync != nil {
		onSync(tf)
	}
	s.opts.Monitor.Mark(metrics.PhaseSyncDecoded)

	data, err := s.receiveFrame(time.Now().Add(s.opts.Timeout))
	if err != nil {
		return StatusFatal, err
	}
	if err := sink.Unpack(data); err != nil {
		return StatusFatal, fmt.Errorf("cycle %d: %w", s.cycle, err)
	}
	return StatusOK, nil
}

func (s *Synchronizer) logMiss(err error) {
	logger := log.Named("cycle")
	if n := s.stats.SyncMissed; n == 1 || n%100 == 0 {
		logger.WithError(err).Warnf("sync missed (%d so far)", n)
		return
	}
	if logger.IsDebugEnabled() {
		logger.WithError(err).Debug("sync missed")
	}
}

func (s *Synchronizer) awaitSync(deadline time.Time) (core.TransportFrame, error) {
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return core.TransportFrame{}, core.ErrTimeout
		}
		n, err := s.link.Recv(s.rx, left)
		if err != nil {
			return core.TransportFrame{}, err
		}
		h, payload, err := s.dec.Decode(s.rx[:n])
		if err != nil {
			s.drop(metrics.DropMalformed)
			continue
		}
		if h.Flags&protocol.FlagFromSlave != 0 {
			s.drop(metrics.DropForeign)
			continue
		}
		if h.Kind != protocol.KindSync || (s.synced && !newer(h.Cycle, s.cycle)) {
			s.drop(metrics.DropStale)
			continue
		}
		tf, err := protocol.DecodeSync(payload)
		if err != nil {
			s.drop(metrics.DropMalformed)
			continue
		}
		if s.synced && h.Cycle != s.cycle+1 {
			lost := uint64(h.Cycle - s.cycle - 1)
			s.stats.Lost += lost
			metrics.LostCyclesTotal.Add(float64(lost))
			log.Named("cycle").Debugf("lost %d cycles before %d", lost, h.Cycle)
		}
		s.cycle = h.Cycle
		s.synced = true
		s.stats.LastCycle = h.Cycle
		return tf, nil
	}
}

func (s *Synchronizer) receiveFrame(deadline time.Time) ([]byte, error) {
	s.asm.Reset(s.cycle)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return nil, fmt.Errorf("%w: cycle %d: %v", core.ErrPayloadTransfer, s.cycle, core.ErrTimeout)
		}
		n, err := s.link.Recv(s.rx, left)
		if err != nil {
			return nil, fmt.Errorf("%w: cycle %d: %v", core.ErrPayloadTransfer, s.cycle, err)
		}
		h, payload, err := s.dec.Decode(s.rx[:n])
		if err != nil {
			s.drop(metrics.DropMalformed)
			continue
		}
		if h.Flags&protocol.FlagFromSlave != 0 {
			s.drop(metrics.DropForeign)
			continue
		}
		if newer(h.Cycle, s.cycle) && h.Kind != protocol.KindParams {
			return nil, fmt.Errorf("%w: %s packet for cycle %d while receiving cycle %d", core.ErrPayloadTransfer, h.Kind, h.Cycle, s.cycle)
		}
		if h.Kind != protocol.KindData || h.Cycle != s.cycle {
			s.drop(metrics.DropStale)
			continue
		}
		done, err := s.asm.Add(h, payload)
		if err != nil {
			return nil, err
		}
		if done {
			return s.asm.Frame(), nil
		}
	}
}

func (s *Synchronizer) drop(reason string) {
	s.stats.Dropped++
	metrics.DroppedPacketsTotal.WithLabelValues(reason).Inc()
}

// OnCycleWrite answers the current cycle: one sync packet carrying tf, then
// frame split into fragments. Any send failure returns StatusFatal with an
// error wrapping core.ErrPayloadTransfer; the cycle is then not counted as
// completed.
func (s *Synchronizer) OnCycleWrite(tf core.TransportFrame, frame []byte) (Status, error) {
	if !s.synced {
		return StatusFatal, fmt.Errorf("%w: write before any sync", core.ErrInvalidState)
	}
	s.opts.Monitor.Mark(metrics.PhaseStartOfWrite)

	s.syncBuf = protocol.AppendSync(s.syncBuf[:0], tf)
	pkt, err := s.enc.Encode(protocol.Header{
		Kind:  protocol.KindSync,
		Flags: protocol.FlagLast | protocol.FlagFromSlave,
		Cycle: s.cycle,
	}, s.syncBuf)
	if err != nil {
		return StatusFatal, fmt.Errorf("%w: %v", core.ErrPayloadTransfer, err)
	}
	if err := s.link.Send(pkt); err != nil {
		return StatusFatal, fmt.Errorf("%w: sync send: %v", core.ErrPayloadTransfer, err)
	}
	s.opts.Monitor.Mark(metrics.PhaseSyncSent)

	err = protocol.Fragments(frame, s.opts.MTU, func(i, count int, chunk []byte) error {
		h := protocol.Header{
			Kind:      protocol.KindData,
			Flags:     protocol.FlagFromSlave,
			Cycle:     s.cycle,
			Fragment:  uint16(i),
			Fragments: uint16(count),
		}
		if i == count-1 {
			h.Flags |= protocol.FlagLast
		}
		pkt, err := s.enc.Encode(h, chunk)
		if err != nil {
			return err
		}
		return s.link.Send(pkt)
	})
	if err != nil {
		if errors.Is(err, core.ErrConfigInvalid) {
			return StatusFatal, err
		}
		return StatusFatal, fmt.Errorf("%w: data send: %v", core.ErrPayloadTransfer, err)
	}

	s.stats.Cycles++
	s.stats.Completed = s.cycle
	s.opts.Monitor.Mark(metrics.PhaseEndOfWrite)
	return StatusOK, nil
}

// newer reports whether a follows b in serial number order.
func newer(a, b uint32) bool {
	return int32(a-b) > 0
}
