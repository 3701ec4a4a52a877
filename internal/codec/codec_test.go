package codec

import (
	"math"
	"testing"

	"github.com/quic-go/quic-go/quicvarint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"

	"firestige.xyz/netslave/internal/core"
	"firestige.xyz/netslave/internal/engine"
)

func TestFloatEncoder(t *testing.T) {
	enc, err := NewSampleEncoder(core.Encoder{Kind: core.EncoderFloat}, 4, 48000)
	require.NoError(t, err)
	assert.Equal(t, core.EncoderFloat, enc.Kind())
	assert.Equal(t, 16, enc.ChannelBytes())

	src := []float32{0, 0.5, -0.25, 1}
	wire := make([]byte, enc.ChannelBytes())
	enc.Encode(wire, src)

	dst := make([]float32, 4)
	enc.Decode(dst, wire)
	assert.Equal(t, src, dst)
}

func TestFloatEncoderShortSourcePadsSilence(t *testing.T) {
	enc, err := NewSampleEncoder(core.Encoder{Kind: core.EncoderFloat}, 4, 48000)
	require.NoError(t, err)

	wire := make([]byte, enc.ChannelBytes())
	for i := range wire {
		wire[i] = 0xff
	}
	enc.Encode(wire, []float32{1})
	dst := make([]float32, 4)
	enc.Decode(dst, wire)
	assert.Equal(t, []float32{1, 0, 0, 0}, dst)
}

func TestFixedRateBudget(t *testing.T) {
	// 128 kbps at 48 kHz, 128 frames: 128*1024*128/(48000*8) = 43 bytes, 2 bits.
	enc, err := NewSampleEncoder(core.Encoder{Kind: core.EncoderFixedRate, KBps: 128}, 128, 48000)
	require.NoError(t, err)
	assert.Equal(t, 43, enc.ChannelBytes())
	assert.Equal(t, 2, enc.(*fixedRate).BitsPerSample())

	// Enough bitrate caps at 16 bits.
	enc, err = NewSampleEncoder(core.Encoder{Kind: core.EncoderFixedRate, KBps: 2000}, 128, 48000)
	require.NoError(t, err)
	assert.Equal(t, 16, enc.(*fixedRate).BitsPerSample())

	_, err = NewSampleEncoder(core.Encoder{Kind: core.EncoderFixedRate, KBps: 8}, 128, 48000)
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestFixedRateRoundTrip(t *testing.T) {
	const period = 64
	enc, err := NewSampleEncoder(core.Encoder{Kind: core.EncoderFixedRate, KBps: 512}, period, 44100)
	require.NoError(t, err)
	bits := enc.(*fixedRate).BitsPerSample()
	require.Equal(t, 11, bits)

	src := make([]float32, period)
	for i := range src {
		src[i] = float32(math.Sin(float64(i) / 5))
	}
	src[3] = 2 // clipped

	wire := make([]byte, enc.ChannelBytes())
	enc.Encode(wire, src)
	dst := make([]float32, period)
	enc.Decode(dst, wire)

	step := 1 / float64(uint32(1)<<(bits-1)-1)
	for i := range src {
		want := math.Max(-1, math.Min(1, float64(src[i])))
		assert.InDelta(t, want, float64(dst[i]), step, "sample %d", i)
	}
}

func TestUnknownEncoder(t *testing.T) {
	_, err := NewSampleEncoder(core.Encoder{Kind: 9}, 64, 48000)
	assert.ErrorIs(t, err, core.ErrUnknownVariant)
}

func TestMIDIRoundTrip(t *testing.T) {
	events := []engine.MIDIEvent{
		{Time: 0, Msg: midi.NoteOn(0, 60, 100)},
		{Time: 17, Msg: midi.ControlChange(1, 7, 90)},
		{Time: 300, Msg: midi.NoteOff(0, 60)},
	}
	wire, dropped := AppendMIDI([]byte{0xaa}, events, 64)
	assert.Zero(t, dropped)
	assert.Equal(t, byte(0xaa), wire[0])

	var buf engine.MIDIBuffer
	require.NoError(t, DecodeMIDI(&buf, wire[1:], 512))
	require.Len(t, buf.Events, 3)
	for i, ev := range events {
		assert.Equal(t, ev.Time, buf.Events[i].Time)
		assert.Equal(t, ev.Msg.String(), buf.Events[i].Msg.String())
	}
}

func TestMIDIDropsWhatDoesNotFit(t *testing.T) {
	var events []engine.MIDIEvent
	for i := 0; i < 10; i++ {
		events = append(events, engine.MIDIEvent{Time: uint32(i), Msg: midi.NoteOn(0, uint8(60+i), 100)})
	}
	// Each event is 1+1+3 bytes, plus 1 byte for the count.
	wire, dropped := AppendMIDI(nil, events, 16)
	assert.Equal(t, 7, dropped)
	assert.LessOrEqual(t, len(wire), 16)

	var buf engine.MIDIBuffer
	require.NoError(t, DecodeMIDI(&buf, wire, 64))
	assert.Len(t, buf.Events, 3)
}

func TestMIDICorrupt(t *testing.T) {
	wire, _ := AppendMIDI(nil, []engine.MIDIEvent{{Time: 1, Msg: midi.NoteOn(0, 60, 1)}}, 64)
	var buf engine.MIDIBuffer
	err := DecodeMIDI(&buf, wire[:len(wire)-1], 64)
	assert.ErrorIs(t, err, core.ErrPayloadTransfer)

	err = DecodeMIDI(&buf, nil, 64)
	assert.ErrorIs(t, err, core.ErrPayloadTransfer)
}

func TestMIDIRejectsTimeOutsidePeriod(t *testing.T) {
	wire, _ := AppendMIDI(nil, []engine.MIDIEvent{{Time: 64, Msg: midi.NoteOn(0, 60, 1)}}, 64)
	var buf engine.MIDIBuffer
	err := DecodeMIDI(&buf, wire, 64)
	assert.ErrorIs(t, err, core.ErrPayloadTransfer)
	require.NoError(t, DecodeMIDI(&buf, wire, 65))

	// A time that would wrap when narrowed to 32 bits.
	huge := quicvarint.Append([]byte{1}, 1<<32)
	huge = append(huge, 1, 0xf8)
	err = DecodeMIDI(&buf, huge, 64)
	assert.ErrorIs(t, err, core.ErrPayloadTransfer)
}

func TestMIDIRejectsTrailingBytes(t *testing.T) {
	wire, _ := AppendMIDI(nil, []engine.MIDIEvent{{Time: 1, Msg: midi.NoteOn(0, 60, 1)}}, 64)
	var buf engine.MIDIBuffer
	err := DecodeMIDI(&buf, append(wire, 0x00), 64)
	assert.ErrorIs(t, err, core.ErrPayloadTransfer)
}
