package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"firestige.xyz/netslave/internal/core"
)

// SyncLen is the size of the sync payload carrying one TransportFrame.
const SyncLen = 72

const newStateFlag = 0x01

// AppendSync appends the encoded transport frame to dst.
func AppendSync(dst []byte, tf core.TransportFrame) []byte {
	var b [SyncLen]byte
	b[0] = uint8(tf.Timebase)
	b[1] = uint8(tf.State)
	if tf.NewState {
		b[2] = newStateFlag
	}
	p := tf.Position
	binary.BigEndian.PutUint64(b[4:12], p.USecs)
	binary.BigEndian.PutUint32(b[12:16], p.FrameRate)
	binary.BigEndian.PutUint32(b[16:20], p.Frame)
	binary.BigEndian.PutUint32(b[20:24], uint32(p.Valid))
	binary.BigEndian.PutUint32(b[24:28], uint32(p.Bar))
	binary.BigEndian.PutUint32(b[28:32], uint32(p.Beat))
	binary.BigEndian.PutUint32(b[32:36], uint32(p.Tick))
	binary.BigEndian.PutUint64(b[36:44], math.Float64bits(p.BarStartTick))
	binary.BigEndian.PutUint32(b[44:48], math.Float32bits(p.BeatsPerBar))
	binary.BigEndian.PutUint32(b[48:52], math.Float32bits(p.BeatType))
	binary.BigEndian.PutUint64(b[52:60], math.Float64bits(p.TicksPerBeat))
	binary.BigEndian.PutUint64(b[60:68], math.Float64bits(p.BeatsPerMinute))
	return append(dst, b[:]...)
}

// DecodeSync parses a sync payload.
func DecodeSync(b []byte) (core.TransportFrame, error) {
	var tf core.TransportFrame
	if len(b) < SyncLen {
		return tf, &ParseError{Field: "sync", Err: fmt.Errorf("%d bytes, need %d", len(b), SyncLen)}
	}
	delta, err := core.TimebaseDeltaFromWire(b[0])
	if err != nil {
		return tf, &ParseError{Field: "sync.timebase", Err: err}
	}
	state, err := core.TransportStateFromWire(int8(b[1]))
	if err != nil {
		return tf, &ParseError{Field: "sync.state", Err: err}
	}
	tf.Timebase = delta
	tf.State = state
	tf.NewState = b[2]&newStateFlag != 0
	tf.Position = core.Position{
		USecs:          binary.BigEndian.Uint64(b[4:12]),
		FrameRate:      binary.BigEndian.Uint32(b[12:16]),
		Frame:          binary.BigEndian.Uint32(b[16:20]),
		Valid:          core.PositionBits(binary.BigEndian.Uint32(b[20:24])),
		Bar:            int32(binary.BigEndian.Uint32(b[24:28])),
		Beat:           int32(binary.BigEndian.Uint32(b[28:32])),
		Tick:           int32(binary.BigEndian.Uint32(b[32:36])),
		BarStartTick:   math.Float64frombits(binary.BigEndian.Uint64(b[36:44])),
		BeatsPerBar:    math.Float32frombits(binary.BigEndian.Uint32(b[44:48])),
		BeatType:       math.Float32frombits(binary.BigEndian.Uint32(b[48:52])),
		TicksPerBeat:   math.Float64frombits(binary.BigEndian.Uint64(b[52:60])),
		BeatsPerMinute: math.Float64frombits(binary.BigEndian.Uint64(b[60:68])),
	}
	return tf, nil
}
