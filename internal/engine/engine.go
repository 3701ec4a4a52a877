// Package engine describes the host audio engine the driver plugs into and
// provides an in-process implementation used by the daemon and by tests.
package engine

import (
	"gitlab.com/gomidi/midi/v2"

	"firestige.xyz/netslave/internal/core"
)

// PortID identifies a registered port. Zero is never a valid port.
type PortID uint32

// NoPort is the zero PortID.
const NoPort PortID = 0

// PortFlags describe a port's role in the graph.
type PortFlags uint8

const (
	PortIsInput PortFlags = 1 << iota
	PortIsOutput
	PortIsPhysical
	PortIsTerminal
)

// PortType names the data carried by a port.
type PortType string

const (
	AudioPort PortType = "32 bit float mono audio"
	MIDIPort  PortType = "8 bit raw midi"
)

// LatencyMode selects which latency range is being set.
type LatencyMode uint8

const (
	CaptureLatency LatencyMode = iota
	PlaybackLatency
)

// LatencyRange is a latency bound in frames.
type LatencyRange struct {
	Min uint32
	Max uint32
}

// MIDIEvent is one timestamped MIDI message within a cycle.
type MIDIEvent struct {
	Time uint32
	Msg  midi.Message
}

// MIDIBuffer holds the events of one port for the current cycle.
type MIDIBuffer struct {
	Events []MIDIEvent
	// Lost counts events that did not fit, reset with the buffer.
	Lost int
}

// Reset empties the buffer keeping its capacity.
func (b *MIDIBuffer) Reset() {
	b.Events = b.Events[:0]
	b.Lost = 0
}

// Write appends an event. The message bytes are copied.
func (b *MIDIBuffer) Write(t uint32, msg midi.Message) {
	b.Events = append(b.Events, MIDIEvent{Time: t, Msg: append(midi.Message(nil), msg...)})
}

// PortRegistry registers and configures ports.
type PortRegistry interface {
	RegisterPort(name string, typ PortType, flags PortFlags) (PortID, error)
	UnregisterPort(id PortID) error
	SetAlias(id PortID, alias string) error
	SetLatencyRange(id PortID, mode LatencyMode, r LatencyRange) error
}

// GraphBuffers resolves the per-cycle buffer of a port.
type GraphBuffers interface {
	AudioBuffer(id PortID) []float32
	MIDIBuffer(id PortID) *MIDIBuffer
}

// Transport is the host transport as seen by the driver.
type Transport interface {
	Query() (core.TransportState, core.Position)
	State() core.TransportState
	SetState(s core.TransportState)
	SetCommand(c core.TransportCommand)
	RequestNewPosition(p core.Position)
	// TimebaseMaster returns the holder refnum, or core.NoRefnum, and
	// whether it claimed conditionally.
	TimebaseMaster() (int, bool)
	ResetTimebase(refnum int)
	SetNetworkSync(on bool)
}

// Control exposes engine timing.
type Control interface {
	BufferSize() uint32
	SampleRate() uint32
	SyncMode() bool
	SetBufferSize(n uint32) error
	SetSampleRate(rate uint32) error
}

// Host is everything the driver needs from the engine.
type Host interface {
	PortRegistry
	GraphBuffers
	Control
	Transport() Transport
}
