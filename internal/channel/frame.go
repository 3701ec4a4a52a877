package channel

import (
	"fmt"

	"github.com/quic-go/quic-go/quicvarint"

	"firestige.xyz/netslave/internal/codec"
	"firestige.xyz/netslave/internal/core"
	"firestige.xyz/netslave/internal/engine"
)

// Direction of a frame relative to the slave.
type Direction uint8

const (
	// Inbound frames flow master → slave into capture ports.
	Inbound Direction = iota
	// Outbound frames flow slave → master from playback ports.
	Outbound
)

// maxLengthPrefix bounds the varint length prefix of a MIDI channel.
const maxLengthPrefix = 8

// Frame lays out one direction of the per-cycle payload:
//
//	audio channel 0 .. audio channel N-1   each enc.ChannelBytes()
//	midi channel 0  .. midi channel M-1    each varint length + codec body
type Frame struct {
	audioClass core.ChannelClass
	midiClass  core.ChannelClass
	enc        codec.SampleEncoder
	audioN     int
	midiN      int
	midiMax    int
	period     uint32

	audio   [][]float32
	midi    []*engine.MIDIBuffer
	buf     []byte
	scratch []byte
}

// NewFrame builds the frame layout for dir from negotiated params.
func NewFrame(dir Direction, params core.SessionParams, enc codec.SampleEncoder) *Frame {
	f := &Frame{
		audioClass: core.AudioCapture,
		midiClass:  core.MIDICapture,
		enc:        enc,
		midiMax:    codec.MaxMIDIChannelBytes(params.PeriodSize),
		period:     params.PeriodSize,
	}
	if dir == Outbound {
		f.audioClass = core.AudioPlayback
		f.midiClass = core.MIDIPlayback
	}
	f.audioN = params.ChannelCount(f.audioClass)
	f.midiN = params.ChannelCount(f.midiClass)
	f.audio = make([][]float32, f.audioN)
	f.midi = make([]*engine.MIDIBuffer, f.midiN)
	f.buf = make([]byte, 0, f.MaxLen())
	f.scratch = make([]byte, 0, f.midiMax)
	return f
}

// MaxLen is the largest encoded size of the frame.
func (f *Frame) MaxLen() int {
	return f.audioN*f.enc.ChannelBytes() + f.midiN*(maxLengthPrefix+f.midiMax)
}

// MaxFrameLen is the largest frame NewFrame(dir, params, enc) can encode.
func MaxFrameLen(dir Direction, params core.SessionParams, enc codec.SampleEncoder) int {
	audio, midi := core.AudioCapture, core.MIDICapture
	if dir == Outbound {
		audio, midi = core.AudioPlayback, core.MIDIPlayback
	}
	return params.ChannelCount(audio)*enc.ChannelBytes() +
		params.ChannelCount(midi)*(maxLengthPrefix+codec.MaxMIDIChannelBytes(params.PeriodSize))
}

// Bind resolves the graph buffers of every port in the frame for this cycle.
func (f *Frame) Bind(m *Manager, set *PortSet) {
	for i := range f.audio {
		f.audio[i] = m.BufferFor(set, f.audioClass, i).Audio
	}
	for i := range f.midi {
		f.midi[i] = m.BufferFor(set, f.midiClass, i).MIDI
	}
}

// Pack encodes the bound buffers and returns the frame bytes, valid until
// the next Pack. The second value counts MIDI events that did not fit.
func (f *Frame) Pack() ([]byte, int) {
	chBytes := f.enc.ChannelBytes()
	buf := f.buf[:0]
	for _, src := range f.audio {
		off := len(buf)
		buf = buf[:off+chBytes]
		f.enc.Encode(buf[off:], src)
	}
	dropped := 0
	for _, mb := range f.midi {
		var events []engine.MIDIEvent
		if mb != nil {
			events = mb.Events
		}
		body, d := codec.AppendMIDI(f.scratch[:0], events, f.midiMax)
		f.scratch = body[:0]
		dropped += d
		buf = quicvarint.Append(buf, uint64(len(body)))
		buf = append(buf, body...)
	}
	f.buf = buf
	return buf, dropped
}

// Unpack decodes data into the bound buffers. Any size mismatch wraps
// core.ErrPayloadTransfer.
func (f *Frame) Unpack(data []byte) error {
	chBytes := f.enc.ChannelBytes()
	audioLen := f.audioN * chBytes
	if len(data) < audioLen {
		return fmt.Errorf("%w: frame has %d bytes, audio needs %d", core.ErrPayloadTransfer, len(data), audioLen)
	}
	for i, dst := range f.audio {
		if dst != nil {
			f.enc.Decode(dst, data[i*chBytes:(i+1)*chBytes])
		}
	}
	off := audioLen
	for i, mb := range f.midi {
		l, n, err := quicvarint.Parse(data[off:])
		if err != nil {
			return fmt.Errorf("%w: midi channel %d length: %v", core.ErrPayloadTransfer, i, err)
		}
		off += n
		if uint64(len(data)-off) < l {
			return fmt.Errorf("%w: midi channel %d truncated", core.ErrPayloadTransfer, i)
		}
		body := data[off : off+int(l)]
		off += int(l)
		if mb == nil {
			continue
		}
		if l == 0 {
			mb.Reset()
			continue
		}
		if err := codec.DecodeMIDI(mb, body, f.period); err != nil {
			return fmt.Errorf("midi channel %d: %w", i, err)
		}
	}
	if off != len(data) {
		return fmt.Errorf("%w: %d trailing bytes", core.ErrPayloadTransfer, len(data)-off)
	}
	return nil
}
