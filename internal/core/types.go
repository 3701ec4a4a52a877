// Package core defines the domain types shared by every layer of the slave driver.
// It has zero external dependencies.
package core

import (
	"fmt"
	"strings"
	"time"
)

// Unspecified marks a channel count the master decides at negotiation time.
const Unspecified = -1

// NoRefnum is the timebase holder value meaning "no client holds timebase".
const NoRefnum = -1

// ─── Network mode ───

// NetworkMode trades buffering depth for jitter tolerance.
// The underlying value is the single-byte tag carried on the wire.
type NetworkMode uint8

const (
	ModeSlow   NetworkMode = 's'
	ModeNormal NetworkMode = 'n'
	ModeFast   NetworkMode = 'f'
)

// ParseNetworkMode maps a configuration name to a mode.
func ParseNetworkMode(name string) (NetworkMode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "slow":
		return ModeSlow, nil
	case "normal":
		return ModeNormal, nil
	case "fast":
		return ModeFast, nil
	default:
		return ModeSlow, fmt.Errorf("%w: network mode %q", ErrUnknownVariant, name)
	}
}

// NetworkModeFromTag validates a wire tag.
func NetworkModeFromTag(tag byte) (NetworkMode, error) {
	m := NetworkMode(tag)
	if !m.Valid() {
		return 0, fmt.Errorf("%w: network mode tag 0x%02x", ErrUnknownVariant, tag)
	}
	return m, nil
}

// Valid reports whether m is one of the declared modes.
func (m NetworkMode) Valid() bool {
	switch m {
	case ModeSlow, ModeNormal, ModeFast:
		return true
	}
	return false
}

func (m NetworkMode) String() string {
	switch m {
	case ModeSlow:
		return "slow"
	case ModeNormal:
		return "normal"
	case ModeFast:
		return "fast"
	}
	return fmt.Sprintf("mode(0x%02x)", uint8(m))
}

// ─── Sample encoder ───

// EncoderKind selects how audio samples are packed into the network frame.
type EncoderKind uint8

const (
	// EncoderFloat sends raw 32-bit float samples.
	EncoderFloat EncoderKind = 1
	// EncoderFixedRate sends a compressed stream with a fixed byte budget per cycle.
	EncoderFixedRate EncoderKind = 2
)

// EncoderKindFromWire validates a wire value.
func EncoderKindFromWire(v uint8) (EncoderKind, error) {
	k := EncoderKind(v)
	switch k {
	case EncoderFloat, EncoderFixedRate:
		return k, nil
	}
	return 0, fmt.Errorf("%w: encoder kind %d", ErrUnknownVariant, v)
}

func (k EncoderKind) String() string {
	switch k {
	case EncoderFloat:
		return "float"
	case EncoderFixedRate:
		return "fixed-rate"
	}
	return fmt.Sprintf("encoder(%d)", uint8(k))
}

// Encoder is the negotiated sample encoder choice.
// KBps is the per-channel bitrate and only meaningful for EncoderFixedRate.
type Encoder struct {
	Kind EncoderKind
	KBps int
}

func (e Encoder) String() string {
	if e.Kind == EncoderFixedRate {
		return fmt.Sprintf("%s(%dkbps)", e.Kind, e.KBps)
	}
	return e.Kind.String()
}

// ─── Session parameters ───

// SessionParams is the record agreed with the master at Initialize.
// Send* counts flow master → slave (local capture ports), Return* counts flow
// slave → master (local playback ports).
type SessionParams struct {
	Name                string
	SlaveHost           string
	MTU                 int
	PeriodSize          uint32
	SampleRate          uint32
	Encoder             Encoder
	SendAudioChannels   int
	ReturnAudioChannels int
	SendMIDIChannels    int
	ReturnMIDIChannels  int
	NetworkMode         NetworkMode
	TransportSync       bool
	SlaveSyncMode       bool
}

// Validate checks that p can drive a cycle exchange. Unspecified channel
// counts are rejected: a validated record is always fully resolved.
func (p SessionParams) Validate() error {
	if p.MTU <= 0 {
		return fmt.Errorf("%w: mtu %d", ErrConfigInvalid, p.MTU)
	}
	if p.PeriodSize == 0 || p.SampleRate == 0 {
		return fmt.Errorf("%w: period %d at %d Hz", ErrConfigInvalid, p.PeriodSize, p.SampleRate)
	}
	for name, n := range map[string]int{
		"send audio":   p.SendAudioChannels,
		"return audio": p.ReturnAudioChannels,
		"send midi":    p.SendMIDIChannels,
		"return midi":  p.ReturnMIDIChannels,
	} {
		if n < 0 {
			return fmt.Errorf("%w: %s channels %d", ErrConfigInvalid, name, n)
		}
	}
	if !p.NetworkMode.Valid() {
		return fmt.Errorf("%w: network mode %v", ErrUnknownVariant, p.NetworkMode)
	}
	switch p.Encoder.Kind {
	case EncoderFloat:
	case EncoderFixedRate:
		if p.Encoder.KBps <= 0 {
			return fmt.Errorf("%w: fixed-rate encoder needs a positive bitrate", ErrConfigInvalid)
		}
	default:
		return fmt.Errorf("%w: encoder %v", ErrUnknownVariant, p.Encoder.Kind)
	}
	return nil
}

// PeriodDuration is the wall-clock length of one cycle.
func (p SessionParams) PeriodDuration() time.Duration {
	if p.SampleRate == 0 {
		return 0
	}
	return time.Duration(p.PeriodSize) * time.Second / time.Duration(p.SampleRate)
}

// ─── Transport ───

// TransportState mirrors the host transport states that cross the link.
// Values match the numbering used on the wire.
type TransportState int8

const (
	TransportUnknown     TransportState = -1
	TransportStopped     TransportState = 0
	TransportRolling     TransportState = 1
	TransportStarting    TransportState = 3
	TransportNetStarting TransportState = 4
)

// TransportStateFromWire validates a wire value. Unknown is accepted: it is
// what a freshly reset peer reports before its first query.
func TransportStateFromWire(v int8) (TransportState, error) {
	s := TransportState(v)
	switch s {
	case TransportUnknown, TransportStopped, TransportRolling, TransportStarting, TransportNetStarting:
		return s, nil
	}
	return 0, fmt.Errorf("%w: transport state %d", ErrUnknownVariant, v)
}

func (s TransportState) String() string {
	switch s {
	case TransportUnknown:
		return "unknown"
	case TransportStopped:
		return "stopped"
	case TransportRolling:
		return "rolling"
	case TransportStarting:
		return "starting"
	case TransportNetStarting:
		return "net-starting"
	}
	return fmt.Sprintf("state(%d)", int8(s))
}

// TransportCommand is a request issued to the host transport.
type TransportCommand uint8

const (
	CommandNone TransportCommand = iota
	CommandStart
	CommandStop
)

// TimebaseDelta describes a change of timebase master since the last cycle.
type TimebaseDelta uint8

const (
	TimebaseNoChange TimebaseDelta = iota
	TimebaseRelease
	TimebaseClaim
	TimebaseClaimConditional
)

// TimebaseDeltaFromWire validates a wire value.
func TimebaseDeltaFromWire(v uint8) (TimebaseDelta, error) {
	d := TimebaseDelta(v)
	switch d {
	case TimebaseNoChange, TimebaseRelease, TimebaseClaim, TimebaseClaimConditional:
		return d, nil
	}
	return 0, fmt.Errorf("%w: timebase delta %d", ErrUnknownVariant, v)
}

func (d TimebaseDelta) String() string {
	switch d {
	case TimebaseNoChange:
		return "no-change"
	case TimebaseRelease:
		return "release"
	case TimebaseClaim:
		return "claim"
	case TimebaseClaimConditional:
		return "claim-conditional"
	}
	return fmt.Sprintf("timebase(%d)", uint8(d))
}

// PositionBits flags which optional Position fields are valid.
type PositionBits uint32

const (
	PositionBBT         PositionBits = 0x10
	PositionTimecode    PositionBits = 0x20
	PositionBBTOffset   PositionBits = 0x40
	PositionAudioVideo  PositionBits = 0x80
	PositionVideoOffset PositionBits = 0x100
)

// Position is the transport position payload.
type Position struct {
	USecs          uint64
	FrameRate      uint32
	Frame          uint32
	Valid          PositionBits
	Bar            int32
	Beat           int32
	Tick           int32
	BarStartTick   float64
	BeatsPerBar    float32
	BeatType       float32
	TicksPerBeat   float64
	BeatsPerMinute float64
}

// TransportFrame is the per-direction transport snapshot embedded in every
// sync packet. NewState means the peer has not yet observed State.
type TransportFrame struct {
	State    TransportState
	Timebase TimebaseDelta
	Position Position
	NewState bool
}

// ResetTransportFrame returns the frame used after Initialize and restart.
func ResetTransportFrame() TransportFrame {
	return TransportFrame{State: TransportUnknown}
}

// ─── Channels ───

// ChannelClass partitions local ports by media type and direction.
type ChannelClass uint8

const (
	AudioCapture ChannelClass = iota
	AudioPlayback
	MIDICapture
	MIDIPlayback
)

// ChannelClasses lists every class in frame order.
var ChannelClasses = []ChannelClass{AudioCapture, AudioPlayback, MIDICapture, MIDIPlayback}

// IsCapture reports whether data for this class flows master → slave.
func (c ChannelClass) IsCapture() bool { return c == AudioCapture || c == MIDICapture }

// IsMIDI reports whether the class carries MIDI events.
func (c ChannelClass) IsMIDI() bool { return c == MIDICapture || c == MIDIPlayback }

func (c ChannelClass) String() string {
	switch c {
	case AudioCapture:
		return "audio-capture"
	case AudioPlayback:
		return "audio-playback"
	case MIDICapture:
		return "midi-capture"
	case MIDIPlayback:
		return "midi-playback"
	}
	return fmt.Sprintf("class(%d)", uint8(c))
}

// ChannelCount returns the negotiated number of channels of class c.
func (p SessionParams) ChannelCount(c ChannelClass) int {
	switch c {
	case AudioCapture:
		return p.SendAudioChannels
	case AudioPlayback:
		return p.ReturnAudioChannels
	case MIDICapture:
		return p.SendMIDIChannels
	case MIDIPlayback:
		return p.ReturnMIDIChannels
	}
	return 0
}
