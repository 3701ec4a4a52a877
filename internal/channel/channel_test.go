package channel

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"

	"firestige.xyz/netslave/internal/codec"
	"firestige.xyz/netslave/internal/core"
	"firestige.xyz/netslave/internal/engine"
)

func testParams() core.SessionParams {
	return core.SessionParams{
		Name:                "link",
		MTU:                 1500,
		PeriodSize:          64,
		SampleRate:          48000,
		Encoder:             core.Encoder{Kind: core.EncoderFloat},
		SendAudioChannels:   4,
		ReturnAudioChannels: 2,
		SendMIDIChannels:    1,
		ReturnMIDIChannels:  1,
		NetworkMode:         core.ModeSlow,
	}
}

func TestPlaybackLatencyTable(t *testing.T) {
	const p = 128
	tests := []struct {
		mode core.NetworkMode
		sync bool
		want uint32
	}{
		{core.ModeFast, true, 0},
		{core.ModeFast, false, p},
		{core.ModeNormal, true, p},
		{core.ModeNormal, false, 2 * p},
		{core.ModeSlow, true, 2 * p},
		{core.ModeSlow, false, 3 * p},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, PlaybackLatency(tt.mode, tt.sync, p))
			assert.Equal(t, uint32(p), CaptureLatency(p))
		})
	}
}

func TestAllocateNamesFlagsAndLatency(t *testing.T) {
	host := engine.NewLocal(engine.Options{BufferSize: 64})
	m := NewManager(host, host, DefaultNaming("box"))

	set, err := m.Allocate(testParams())
	require.NoError(t, err)
	assert.Equal(t, 4, set.Count(core.AudioCapture))
	assert.Equal(t, 2, set.Count(core.AudioPlayback))
	assert.Equal(t, 1, set.Count(core.MIDICapture))
	assert.Equal(t, 1, set.Count(core.MIDIPlayback))
	assert.Equal(t, 8, set.Live())

	for i, b := range set.Ports(core.AudioPlayback) {
		assert.Equal(t, i, b.Index)
	}

	byName := map[string]engine.PortInfo{}
	for _, p := range host.Ports() {
		byName[p.Name] = p
	}
	capture := byName["box:capture_1"]
	assert.Equal(t, "box:from_master_:out1", capture.Alias)
	assert.Equal(t, engine.PortIsOutput|engine.PortIsPhysical|engine.PortIsTerminal, capture.Flags)
	assert.Equal(t, engine.LatencyRange{Min: 64, Max: 64}, capture.Latency[engine.CaptureLatency])

	playback := byName["box:playback_2"]
	assert.Equal(t, "box:to_master_:in2", playback.Alias)
	assert.Equal(t, engine.PortIsInput|engine.PortIsPhysical|engine.PortIsTerminal, playback.Flags)
	assert.Equal(t, engine.LatencyRange{Min: 192, Max: 192}, playback.Latency[engine.PlaybackLatency])

	midiIn := byName["box:midi_capture_1"]
	assert.Equal(t, engine.MIDIPort, midiIn.Type)
	assert.Empty(t, midiIn.Alias)
	assert.Contains(t, byName, "box:midi_playback_1")
}

func TestAllocateRollsBackOnFailure(t *testing.T) {
	host := engine.NewLocal(engine.Options{BufferSize: 64})
	host.SetRegisterHook(func(name string) error {
		if strings.HasSuffix(name, "midi_capture_1") {
			return errors.New("no more ports")
		}
		return nil
	})
	m := NewManager(host, host, DefaultNaming("box"))

	set, err := m.Allocate(testParams())
	require.ErrorIs(t, err, core.ErrAllocation)
	assert.Nil(t, set)

	stats := host.Stats()
	assert.Equal(t, 6, stats.Registered)
	assert.Equal(t, 6, stats.Unregistered)
	assert.Zero(t, stats.Live)
}

func TestReleaseIsIdempotent(t *testing.T) {
	host := engine.NewLocal(engine.Options{BufferSize: 64})
	m := NewManager(host, host, DefaultNaming("box"))
	set, err := m.Allocate(testParams())
	require.NoError(t, err)

	m.Release(set)
	m.Release(set)
	m.Release(nil)
	m.Release(&PortSet{})

	assert.Zero(t, set.Live())
	assert.Equal(t, 8, host.Stats().Unregistered)
	assert.Equal(t, Buffer{}, m.BufferFor(set, core.AudioCapture, 0))
}

func TestUnspecifiedResolvedByMaster(t *testing.T) {
	host := engine.NewLocal(engine.Options{BufferSize: 64})
	m := NewManager(host, host, DefaultNaming("box"))
	p := testParams()
	p.SendAudioChannels, p.ReturnAudioChannels = 4, 2
	set, err := m.Allocate(p)
	require.NoError(t, err)
	assert.Equal(t, 4, set.Count(core.AudioCapture))
	assert.Equal(t, 2, set.Count(core.AudioPlayback))
}

func TestFrameRoundTrip(t *testing.T) {
	p := testParams()
	p.SendAudioChannels, p.ReturnAudioChannels = 2, 2
	enc, err := codec.NewSampleEncoder(p.Encoder, p.PeriodSize, p.SampleRate)
	require.NoError(t, err)

	// Slave side playback ports feed the outbound frame.
	slave := engine.NewLocal(engine.Options{BufferSize: 64})
	sm := NewManager(slave, slave, DefaultNaming("slave"))
	sset, err := sm.Allocate(p)
	require.NoError(t, err)

	out := NewFrame(Outbound, p, enc)
	out.Bind(sm, sset)
	left := sm.BufferFor(sset, core.AudioPlayback, 0).Audio
	right := sm.BufferFor(sset, core.AudioPlayback, 1).Audio
	for i := range left {
		left[i] = float32(i) / 64
		right[i] = -float32(i) / 64
	}
	sm.BufferFor(sset, core.MIDIPlayback, 0).MIDI.Write(5, midi.NoteOn(2, 64, 80))

	wire, dropped := out.Pack()
	assert.Zero(t, dropped)
	assert.LessOrEqual(t, len(wire), out.MaxLen())

	// A peer with the mirrored layout reads it as its capture frame.
	mirror := p
	mirror.SendAudioChannels, mirror.ReturnAudioChannels = p.ReturnAudioChannels, p.SendAudioChannels
	mirror.SendMIDIChannels, mirror.ReturnMIDIChannels = p.ReturnMIDIChannels, p.SendMIDIChannels
	peer := engine.NewLocal(engine.Options{BufferSize: 64})
	pm := NewManager(peer, peer, DefaultNaming("peer"))
	pset, err := pm.Allocate(mirror)
	require.NoError(t, err)

	in := NewFrame(Inbound, mirror, enc)
	in.Bind(pm, pset)
	require.NoError(t, in.Unpack(wire))

	assert.Equal(t, left, pm.BufferFor(pset, core.AudioCapture, 0).Audio)
	assert.Equal(t, right, pm.BufferFor(pset, core.AudioCapture, 1).Audio)
	events := pm.BufferFor(pset, core.MIDICapture, 0).MIDI.Events
	require.Len(t, events, 1)
	assert.Equal(t, uint32(5), events[0].Time)
	assert.Equal(t, midi.NoteOn(2, 64, 80).String(), events[0].Msg.String())
}

func TestFrameUnpackRejectsBadSizes(t *testing.T) {
	p := testParams()
	enc, err := codec.NewSampleEncoder(p.Encoder, p.PeriodSize, p.SampleRate)
	require.NoError(t, err)
	in := NewFrame(Inbound, p, enc)

	assert.ErrorIs(t, in.Unpack(make([]byte, 10)), core.ErrPayloadTransfer)

	full := make([]byte, 4*enc.ChannelBytes())
	// Missing MIDI section.
	assert.ErrorIs(t, in.Unpack(full), core.ErrPayloadTransfer)
	// Empty MIDI channel followed by garbage.
	assert.ErrorIs(t, in.Unpack(append(full, 0, 0xee)), core.ErrPayloadTransfer)
	// Exact: one empty MIDI channel, zero length prefix.
	assert.NoError(t, in.Unpack(append(full, 0)))
}
