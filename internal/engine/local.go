package engine

import (
	"fmt"
	"sync"

	"firestige.xyz/netslave/internal/core"
)

type port struct {
	id      PortID
	name    string
	alias   string
	typ     PortType
	flags   PortFlags
	latency [2]LatencyRange
	audio   []float32
	midi    *MIDIBuffer
}

// Options configure a local engine.
type Options struct {
	BufferSize uint32
	SampleRate uint32
	SyncMode   bool
	// Loopback routes every physical capture port to the playback port of
	// the same type and index on each Process call.
	Loopback bool
}

// Stats counts port lifecycle operations.
type Stats struct {
	Registered   int
	Unregistered int
	Live         int
}

// Local is an in-process engine host.
type Local struct {
	mu        sync.Mutex
	opts      Options
	ports     map[PortID]*port
	order     []PortID
	nextID    PortID
	stats     Stats
	transport *LocalTransport

	registerHook func(name string) error
}

// NewLocal creates a local engine.
func NewLocal(opts Options) *Local {
	return &Local{
		opts:      opts,
		ports:     make(map[PortID]*port),
		nextID:    1,
		transport: NewLocalTransport(),
	}
}

// SetRegisterHook installs a function consulted before every registration.
// A non-nil error fails the registration.
func (e *Local) SetRegisterHook(fn func(name string) error) {
	e.mu.Lock()
	e.registerHook = fn
	e.mu.Unlock()
}

// RegisterPort implements PortRegistry.
func (e *Local) RegisterPort(name string, typ PortType, flags PortFlags) (PortID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.registerHook != nil {
		if err := e.registerHook(name); err != nil {
			return NoPort, err
		}
	}
	for _, p := range e.ports {
		if p.name == name {
			return NoPort, fmt.Errorf("port %q already registered", name)
		}
	}
	p := &port{id: e.nextID, name: name, typ: typ, flags: flags}
	e.allocBuffer(p)
	e.ports[p.id] = p
	e.order = append(e.order, p.id)
	e.nextID++
	e.stats.Registered++
	e.stats.Live++
	return p.id, nil
}

func (e *Local) allocBuffer(p *port) {
	switch p.typ {
	case AudioPort:
		p.audio = make([]float32, e.opts.BufferSize)
	case MIDIPort:
		p.midi = &MIDIBuffer{}
	}
}

// UnregisterPort implements PortRegistry.
func (e *Local) UnregisterPort(id PortID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.ports[id]; !ok {
		return fmt.Errorf("port %d not registered", id)
	}
	delete(e.ports, id)
	for i, o := range e.order {
		if o == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	e.stats.Unregistered++
	e.stats.Live--
	return nil
}

// SetAlias implements PortRegistry.
func (e *Local) SetAlias(id PortID, alias string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.ports[id]
	if !ok {
		return fmt.Errorf("port %d not registered", id)
	}
	p.alias = alias
	return nil
}

// SetLatencyRange implements PortRegistry.
func (e *Local) SetLatencyRange(id PortID, mode LatencyMode, r LatencyRange) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.ports[id]
	if !ok {
		return fmt.Errorf("port %d not registered", id)
	}
	p.latency[mode] = r
	return nil
}

// PortInfo is a read-only view of a registered port.
type PortInfo struct {
	ID      PortID
	Name    string
	Alias   string
	Type    PortType
	Flags   PortFlags
	Latency [2]LatencyRange
}

// Ports lists registered ports in registration order.
func (e *Local) Ports() []PortInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]PortInfo, 0, len(e.order))
	for _, id := range e.order {
		p := e.ports[id]
		out = append(out, PortInfo{ID: p.id, Name: p.name, Alias: p.alias, Type: p.typ, Flags: p.flags, Latency: p.latency})
	}
	return out
}

// Stats returns port counters.
func (e *Local) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// AudioBuffer implements GraphBuffers. Unknown ports yield nil.
func (e *Local) AudioBuffer(id PortID) []float32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.ports[id]; ok {
		return p.audio
	}
	return nil
}

// MIDIBuffer implements GraphBuffers. Unknown ports yield nil.
func (e *Local) MIDIBuffer(id PortID) *MIDIBuffer {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.ports[id]; ok {
		return p.midi
	}
	return nil
}

// BufferSize implements Control.
func (e *Local) BufferSize() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opts.BufferSize
}

// SampleRate implements Control.
func (e *Local) SampleRate() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opts.SampleRate
}

// SyncMode implements Control.
func (e *Local) SyncMode() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opts.SyncMode
}

// SetBufferSize implements Control. Audio buffers are reallocated.
func (e *Local) SetBufferSize(n uint32) error {
	if n == 0 {
		return fmt.Errorf("%w: buffer size 0", core.ErrConfigInvalid)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.opts.BufferSize = n
	for _, p := range e.ports {
		e.allocBuffer(p)
	}
	return nil
}

// SetSampleRate implements Control.
func (e *Local) SetSampleRate(rate uint32) error {
	if rate == 0 {
		return fmt.Errorf("%w: sample rate 0", core.ErrConfigInvalid)
	}
	e.mu.Lock()
	e.opts.SampleRate = rate
	e.mu.Unlock()
	return nil
}

// Transport implements Host.
func (e *Local) Transport() Transport {
	return e.transport
}

// LocalTransport returns the concrete transport.
func (e *Local) LocalTransport() *LocalTransport {
	return e.transport
}

// Process runs one graph cycle between the driver's Read and Write.
func (e *Local) Process() {
	e.mu.Lock()
	nframes := e.opts.BufferSize
	if e.opts.Loopback {
		e.loopback()
	}
	e.mu.Unlock()

	e.transport.Cycle(nframes)
}

func (e *Local) loopback() {
	var capAudio, capMIDI, playAudio, playMIDI []*port
	for _, id := range e.order {
		p := e.ports[id]
		if p.flags&PortIsPhysical == 0 {
			continue
		}
		switch {
		case p.typ == AudioPort && p.flags&PortIsOutput != 0:
			capAudio = append(capAudio, p)
		case p.typ == AudioPort && p.flags&PortIsInput != 0:
			playAudio = append(playAudio, p)
		case p.typ == MIDIPort && p.flags&PortIsOutput != 0:
			capMIDI = append(capMIDI, p)
		case p.typ == MIDIPort && p.flags&PortIsInput != 0:
			playMIDI = append(playMIDI, p)
		}
	}
	for i := 0; i < len(capAudio) && i < len(playAudio); i++ {
		copy(playAudio[i].audio, capAudio[i].audio)
	}
	for i := 0; i < len(capMIDI) && i < len(playMIDI); i++ {
		dst := playMIDI[i].midi
		dst.Reset()
		for _, ev := range capMIDI[i].midi.Events {
			dst.Write(ev.Time, ev.Msg)
		}
	}
}
