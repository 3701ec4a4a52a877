package protocol

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"firestige.xyz/netslave/internal/core"
)

// MessageType distinguishes the two params messages.
type MessageType uint8

const (
	// MsgSlaveAvailable is the slave's announcement carrying its requested params.
	MsgSlaveAvailable MessageType = 1
	// MsgSlaveSetParams is the master's authoritative reply.
	MsgSlaveSetParams MessageType = 2
)

func (t MessageType) String() string {
	switch t {
	case MsgSlaveAvailable:
		return "slave-available"
	case MsgSlaveSetParams:
		return "slave-set-params"
	}
	return fmt.Sprintf("message(%d)", uint8(t))
}

// paramsMessage is the CBOR body of a params packet. Integer keys keep the
// encoding compact and stable across field renames.
type paramsMessage struct {
	Type          uint8  `cbor:"1,keyasint"`
	Name          string `cbor:"2,keyasint"`
	SlaveHost     string `cbor:"3,keyasint"`
	MTU           int    `cbor:"4,keyasint"`
	PeriodSize    uint32 `cbor:"5,keyasint"`
	SampleRate    uint32 `cbor:"6,keyasint"`
	Encoder       uint8  `cbor:"7,keyasint"`
	KBps          int    `cbor:"8,keyasint"`
	SendAudio     int    `cbor:"9,keyasint"`
	ReturnAudio   int    `cbor:"10,keyasint"`
	SendMIDI      int    `cbor:"11,keyasint"`
	ReturnMIDI    int    `cbor:"12,keyasint"`
	Mode          uint8  `cbor:"13,keyasint"`
	TransportSync bool   `cbor:"14,keyasint"`
	SlaveSyncMode bool   `cbor:"15,keyasint"`
}

var paramsEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("protocol: cbor enc mode: %v", err))
	}
	paramsEncMode = em
}

// EncodeParams encodes a params message body.
func EncodeParams(t MessageType, p core.SessionParams) ([]byte, error) {
	msg := paramsMessage{
		Type:          uint8(t),
		Name:          p.Name,
		SlaveHost:     p.SlaveHost,
		MTU:           p.MTU,
		PeriodSize:    p.PeriodSize,
		SampleRate:    p.SampleRate,
		Encoder:       uint8(p.Encoder.Kind),
		KBps:          p.Encoder.KBps,
		SendAudio:     p.SendAudioChannels,
		ReturnAudio:   p.ReturnAudioChannels,
		SendMIDI:      p.SendMIDIChannels,
		ReturnMIDI:    p.ReturnMIDIChannels,
		Mode:          uint8(p.NetworkMode),
		TransportSync: p.TransportSync,
		SlaveSyncMode: p.SlaveSyncMode,
	}
	b, err := paramsEncMode.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	return b, nil
}

// DecodeParams decodes a params message body. Enumerations are validated;
// channel counts are returned as sent, a request may carry Unspecified.
func DecodeParams(b []byte) (MessageType, core.SessionParams, error) {
	var msg paramsMessage
	if err := cbor.Unmarshal(b, &msg); err != nil {
		return 0, core.SessionParams{}, &ParseError{Field: "params", Err: err}
	}
	t := MessageType(msg.Type)
	if t != MsgSlaveAvailable && t != MsgSlaveSetParams {
		return 0, core.SessionParams{}, &ParseError{Field: "params.type", Err: fmt.Errorf("%w: %d", core.ErrUnknownVariant, msg.Type)}
	}
	kind, err := core.EncoderKindFromWire(msg.Encoder)
	if err != nil {
		return 0, core.SessionParams{}, &ParseError{Field: "params.encoder", Err: err}
	}
	mode, err := core.NetworkModeFromTag(msg.Mode)
	if err != nil {
		return 0, core.SessionParams{}, &ParseError{Field: "params.mode", Err: err}
	}
	return t, core.SessionParams{
		Name:                msg.Name,
		SlaveHost:           msg.SlaveHost,
		MTU:                 msg.MTU,
		PeriodSize:          msg.PeriodSize,
		SampleRate:          msg.SampleRate,
		Encoder:             core.Encoder{Kind: kind, KBps: msg.KBps},
		SendAudioChannels:   msg.SendAudio,
		ReturnAudioChannels: msg.ReturnAudio,
		SendMIDIChannels:    msg.SendMIDI,
		ReturnMIDIChannels:  msg.ReturnMIDI,
		NetworkMode:         mode,
		TransportSync:       msg.TransportSync,
		SlaveSyncMode:       msg.SlaveSyncMode,
	}, nil
}
