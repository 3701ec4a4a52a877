// Package protocol implements the slave link wire format.
//
// Every datagram starts with a fixed 16-byte header:
//
//	Offset  Size  Description
//	------  ----  -----------
//	0       4     Magic: "NJSL"
//	4       1     Version (1)
//	5       1     Kind: 1=params, 2=sync, 3=data
//	6       1     Flags: bit0=last fragment, bit1=sent by slave
//	7       1     Reserved (0)
//	8       4     Cycle sequence number (big-endian uint32)
//	12      2     Fragment index
//	14      2     Fragment count
//	16      …     Payload
//
// The header is a registered gopacket layer so the receive path can use a
// DecodingLayerParser and the send path gopacket.SerializeLayers.
package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const (
	// HeaderLen is the fixed size of the packet header.
	HeaderLen = 16
	// Version is the only header version this package speaks.
	Version = 1

	magic = "NJSL"
)

// Kind identifies what the payload carries.
type Kind uint8

const (
	KindParams Kind = 1
	KindSync   Kind = 2
	KindData   Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindParams:
		return "params"
	case KindSync:
		return "sync"
	case KindData:
		return "data"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Flags are per-packet bits.
type Flags uint8

const (
	FlagLast      Flags = 1 << 0
	FlagFromSlave Flags = 1 << 1
)

// LayerTypeNetSlave is the gopacket layer type of Header.
var LayerTypeNetSlave = gopacket.RegisterLayerType(4219, gopacket.LayerTypeMetadata{
	Name:    "NetSlave",
	Decoder: gopacket.DecodeFunc(decodeHeader),
})

// Header is the common packet header.
type Header struct {
	layers.BaseLayer
	Version   uint8
	Kind      Kind
	Flags     Flags
	Cycle     uint32
	Fragment  uint16
	Fragments uint16
}

// LayerType implements gopacket.Layer.
func (h *Header) LayerType() gopacket.LayerType { return LayerTypeNetSlave }

// CanDecode implements gopacket.DecodingLayer.
func (h *Header) CanDecode() gopacket.LayerClass { return LayerTypeNetSlave }

// NextLayerType implements gopacket.DecodingLayer.
func (h *Header) NextLayerType() gopacket.LayerType { return gopacket.LayerTypePayload }

// DecodeFromBytes implements gopacket.DecodingLayer.
func (h *Header) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < HeaderLen {
		df.SetTruncated()
		return &ParseError{Field: "header", Err: fmt.Errorf("%d bytes, need %d", len(data), HeaderLen)}
	}
	if string(data[0:4]) != magic {
		return &ParseError{Field: "magic", Err: fmt.Errorf("got %q", data[0:4])}
	}
	if data[4] != Version {
		return &ParseError{Field: "version", Err: fmt.Errorf("unsupported version %d", data[4])}
	}
	kind := Kind(data[5])
	switch kind {
	case KindParams, KindSync, KindData:
	default:
		return &ParseError{Field: "kind", Err: fmt.Errorf("unknown kind %d", data[5])}
	}
	h.Version = data[4]
	h.Kind = kind
	h.Flags = Flags(data[6])
	h.Cycle = binary.BigEndian.Uint32(data[8:12])
	h.Fragment = binary.BigEndian.Uint16(data[12:14])
	h.Fragments = binary.BigEndian.Uint16(data[14:16])
	if h.Fragments == 0 || h.Fragment >= h.Fragments {
		return &ParseError{Field: "fragment", Err: fmt.Errorf("index %d of %d", h.Fragment, h.Fragments)}
	}
	h.BaseLayer = layers.BaseLayer{Contents: data[:HeaderLen], Payload: data[HeaderLen:]}
	return nil
}

// SerializeTo implements gopacket.SerializableLayer.
func (h *Header) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	bytes, err := b.PrependBytes(HeaderLen)
	if err != nil {
		return err
	}
	copy(bytes[0:4], magic)
	bytes[4] = Version
	bytes[5] = uint8(h.Kind)
	bytes[6] = uint8(h.Flags)
	bytes[7] = 0
	binary.BigEndian.PutUint32(bytes[8:12], h.Cycle)
	binary.BigEndian.PutUint16(bytes[12:14], h.Fragment)
	binary.BigEndian.PutUint16(bytes[14:16], h.Fragments)
	return nil
}

func decodeHeader(data []byte, p gopacket.PacketBuilder) error {
	h := &Header{}
	if err := h.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(h)
	return p.NextDecoder(h.NextLayerType())
}

// Decoder parses received datagrams without allocating per packet.
// The returned header and payload are only valid until the next Decode.
type Decoder struct {
	header  Header
	payload gopacket.Payload
	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

// NewDecoder creates a Decoder.
func NewDecoder() *Decoder {
	d := &Decoder{decoded: make([]gopacket.LayerType, 0, 2)}
	d.parser = gopacket.NewDecodingLayerParser(LayerTypeNetSlave, &d.header, &d.payload)
	return d
}

// Decode parses one datagram.
func (d *Decoder) Decode(data []byte) (*Header, []byte, error) {
	d.payload = nil
	if err := d.parser.DecodeLayers(data, &d.decoded); err != nil {
		return nil, nil, err
	}
	return &d.header, d.header.Payload, nil
}

// Encoder serializes datagrams into a reused buffer.
// The returned slice is only valid until the next Encode.
type Encoder struct {
	buf gopacket.SerializeBuffer
}

// NewEncoder creates an Encoder.
func NewEncoder() *Encoder {
	return &Encoder{buf: gopacket.NewSerializeBuffer()}
}

// Encode writes header followed by payload.
func (e *Encoder) Encode(h Header, payload []byte) ([]byte, error) {
	if h.Fragments == 0 {
		h.Fragments = 1
	}
	if err := gopacket.SerializeLayers(e.buf, gopacket.SerializeOptions{}, &h, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("serialize %s packet: %w", h.Kind, err)
	}
	return e.buf.Bytes(), nil
}
