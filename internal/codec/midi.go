package codec

import (
	"fmt"

	"github.com/quic-go/quic-go/quicvarint"
	"gitlab.com/gomidi/midi/v2"

	"firestige.xyz/netslave/internal/core"
	"firestige.xyz/netslave/internal/engine"
)

// MaxMIDIChannelBytes is the wire budget of one MIDI channel per cycle.
func MaxMIDIChannelBytes(period uint32) int {
	return int(period) * 4
}

// AppendMIDI appends the events of one channel to dst:
//
//	varint count, then per event: varint time, varint length, bytes
//
// The body never exceeds limit bytes. Events that do not fit are dropped and
// counted in the second return value.
func AppendMIDI(dst []byte, events []engine.MIDIEvent, limit int) ([]byte, int) {
	size := 0
	fit := 0
	for _, ev := range events {
		n := int(quicvarint.Len(uint64(ev.Time))) + int(quicvarint.Len(uint64(len(ev.Msg)))) + len(ev.Msg)
		if int(quicvarint.Len(uint64(fit+1)))+size+n > limit {
			break
		}
		size += n
		fit++
	}
	dst = quicvarint.Append(dst, uint64(fit))
	for _, ev := range events[:fit] {
		dst = quicvarint.Append(dst, uint64(ev.Time))
		dst = quicvarint.Append(dst, uint64(len(ev.Msg)))
		dst = append(dst, ev.Msg...)
	}
	return dst, len(events) - fit
}

// DecodeMIDI parses one channel body from src into buf. src must hold exactly
// one body and every event time must fall inside a period of period frames.
// buf is reset first.
func DecodeMIDI(buf *engine.MIDIBuffer, src []byte, period uint32) error {
	buf.Reset()
	count, off, err := quicvarint.Parse(src)
	if err != nil {
		return corrupt("midi count", err)
	}
	for i := uint64(0); i < count; i++ {
		t, n, err := quicvarint.Parse(src[off:])
		if err != nil {
			return corrupt("midi time", err)
		}
		if t >= uint64(period) {
			return corrupt("midi time", fmt.Errorf("event at frame %d outside period of %d", t, period))
		}
		off += n
		l, n, err := quicvarint.Parse(src[off:])
		if err != nil {
			return corrupt("midi length", err)
		}
		off += n
		if uint64(len(src)-off) < l {
			return corrupt("midi data", fmt.Errorf("%d bytes left, need %d", len(src)-off, l))
		}
		buf.Write(uint32(t), midi.Message(src[off:off+int(l)]))
		off += int(l)
	}
	if off != len(src) {
		return corrupt("midi body", fmt.Errorf("%d trailing bytes", len(src)-off))
	}
	return nil
}

func corrupt(field string, err error) error {
	return fmt.Errorf("%w: %s: %v", core.ErrPayloadTransfer, field, err)
}
