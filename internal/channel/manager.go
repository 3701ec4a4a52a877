// Package channel owns the local ports exposed for the remote device and
// their mapping into the per-cycle network frame.
package channel

import (
	"fmt"

	"firestige.xyz/netslave/internal/core"
	"firestige.xyz/netslave/internal/engine"
	"firestige.xyz/netslave/internal/log"
)

// Naming controls port names and aliases.
//
// Ports are named <Client>:capture_N, <Client>:playback_N,
// <Client>:midi_capture_N and <Client>:midi_playback_N. Audio ports carry the
// alias <Alias>:<Capture>:outN or <Alias>:<Playback>:inN.
type Naming struct {
	Client   string
	Alias    string
	Capture  string
	Playback string
}

// DefaultNaming returns the naming used when only a client name is known.
func DefaultNaming(client string) Naming {
	return Naming{Client: client, Alias: client, Capture: "from_master_", Playback: "to_master_"}
}

// PortBinding ties a local port to its slot inside the network frame.
type PortBinding struct {
	Class core.ChannelClass
	Index int
	Port  engine.PortID
}

// PortSet is every port allocated for one session, in frame order per class.
type PortSet struct {
	classes [4][]PortBinding
}

// Ports returns the bindings of class c.
func (s *PortSet) Ports(c core.ChannelClass) []PortBinding {
	if s == nil {
		return nil
	}
	return s.classes[c]
}

// Count returns the number of bindings of class c.
func (s *PortSet) Count(c core.ChannelClass) int {
	return len(s.Ports(c))
}

// Live returns the number of ports still registered.
func (s *PortSet) Live() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, class := range s.classes {
		for _, b := range class {
			if b.Port != engine.NoPort {
				n++
			}
		}
	}
	return n
}

// Buffer is the memory the host graph uses for one port this cycle.
// Exactly one of Audio and MIDI is set for a registered port.
type Buffer struct {
	Audio []float32
	MIDI  *engine.MIDIBuffer
}

// Manager allocates and releases the driver's ports.
type Manager struct {
	reg    engine.PortRegistry
	bufs   engine.GraphBuffers
	naming Naming
}

// NewManager creates a manager.
func NewManager(reg engine.PortRegistry, bufs engine.GraphBuffers, naming Naming) *Manager {
	return &Manager{reg: reg, bufs: bufs, naming: naming}
}

// Allocate registers one port per negotiated channel, class by class in
// index order. If any registration fails every port created so far is
// released and the error wraps core.ErrAllocation.
func (m *Manager) Allocate(params core.SessionParams) (*PortSet, error) {
	set := &PortSet{}
	for _, class := range core.ChannelClasses {
		n := params.ChannelCount(class)
		set.classes[class] = make([]PortBinding, 0, n)
		for i := 0; i < n; i++ {
			id, err := m.register(class, i, params)
			if err != nil {
				m.Release(set)
				return nil, fmt.Errorf("%w: %s port %d: %v", core.ErrAllocation, class, i+1, err)
			}
			set.classes[class] = append(set.classes[class], PortBinding{Class: class, Index: i, Port: id})
		}
	}
	return set, nil
}

func (m *Manager) register(class core.ChannelClass, i int, params core.SessionParams) (engine.PortID, error) {
	name, alias := m.names(class, i)
	typ := engine.AudioPort
	if class.IsMIDI() {
		typ = engine.MIDIPort
	}
	flags := engine.PortIsPhysical | engine.PortIsTerminal
	if class.IsCapture() {
		flags |= engine.PortIsOutput
	} else {
		flags |= engine.PortIsInput
	}

	id, err := m.reg.RegisterPort(name, typ, flags)
	if err != nil {
		return engine.NoPort, fmt.Errorf("register %s: %w", name, err)
	}
	fail := func(err error) (engine.PortID, error) {
		_ = m.reg.UnregisterPort(id)
		return engine.NoPort, err
	}

	if alias != "" {
		if err := m.reg.SetAlias(id, alias); err != nil {
			return fail(fmt.Errorf("alias %s: %w", name, err))
		}
	}
	mode := engine.CaptureLatency
	frames := CaptureLatency(params.PeriodSize)
	if !class.IsCapture() {
		mode = engine.PlaybackLatency
		frames = PlaybackLatency(params.NetworkMode, params.SlaveSyncMode, params.PeriodSize)
	}
	if err := m.reg.SetLatencyRange(id, mode, engine.LatencyRange{Min: frames, Max: frames}); err != nil {
		return fail(fmt.Errorf("latency %s: %w", name, err))
	}
	log.Named("channel").WithField("port", name).WithField("id", id).Debugf("registered %s port, latency %d", class, frames)
	return id, nil
}

// names returns the port name and, for audio ports, its alias.
func (m *Manager) names(class core.ChannelClass, i int) (string, string) {
	n := i + 1
	switch class {
	case core.AudioCapture:
		return fmt.Sprintf("%s:capture_%d", m.naming.Client, n),
			fmt.Sprintf("%s:%s:out%d", m.naming.Alias, m.naming.Capture, n)
	case core.AudioPlayback:
		return fmt.Sprintf("%s:playback_%d", m.naming.Client, n),
			fmt.Sprintf("%s:%s:in%d", m.naming.Alias, m.naming.Playback, n)
	case core.MIDICapture:
		return fmt.Sprintf("%s:midi_capture_%d", m.naming.Client, n), ""
	default:
		return fmt.Sprintf("%s:midi_playback_%d", m.naming.Client, n), ""
	}
}

// Release unregisters every live port in set. Released bindings are zeroed,
// so releasing twice, or releasing a nil set, is a no-op.
func (m *Manager) Release(set *PortSet) {
	if set == nil {
		return
	}
	for c := range set.classes {
		for i := range set.classes[c] {
			b := &set.classes[c][i]
			if b.Port == engine.NoPort {
				continue
			}
			if err := m.reg.UnregisterPort(b.Port); err != nil {
				log.Named("channel").WithError(err).Warnf("unregister %s port %d", b.Class, b.Index+1)
			}
			b.Port = engine.NoPort
		}
	}
}

// BufferFor resolves the graph buffer of the port at index within class.
func (m *Manager) BufferFor(set *PortSet, class core.ChannelClass, index int) Buffer {
	ports := set.Ports(class)
	if index < 0 || index >= len(ports) || ports[index].Port == engine.NoPort {
		return Buffer{}
	}
	id := ports[index].Port
	if class.IsMIDI() {
		return Buffer{MIDI: m.bufs.MIDIBuffer(id)}
	}
	return Buffer{Audio: m.bufs.AudioBuffer(id)}
}
