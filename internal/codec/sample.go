// Package codec converts port buffers to and from their network encoding.
package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"firestige.xyz/netslave/internal/core"
)

// SampleEncoder packs one channel of one period.
type SampleEncoder interface {
	Kind() core.EncoderKind
	// ChannelBytes is the fixed wire size of one channel per cycle.
	ChannelBytes() int
	Encode(dst []byte, src []float32)
	Decode(dst []float32, src []byte)
}

// NewSampleEncoder builds the encoder selected by e for the given period.
func NewSampleEncoder(e core.Encoder, period, sampleRate uint32) (SampleEncoder, error) {
	if period == 0 {
		return nil, fmt.Errorf("%w: period 0", core.ErrConfigInvalid)
	}
	switch e.Kind {
	case core.EncoderFloat:
		return &floatEncoder{period: int(period)}, nil
	case core.EncoderFixedRate:
		return newFixedRate(e.KBps, period, sampleRate)
	}
	return nil, fmt.Errorf("%w: encoder %v", core.ErrUnknownVariant, e.Kind)
}

type floatEncoder struct {
	period int
}

func (f *floatEncoder) Kind() core.EncoderKind { return core.EncoderFloat }

func (f *floatEncoder) ChannelBytes() int { return f.period * 4 }

func (f *floatEncoder) Encode(dst []byte, src []float32) {
	for i := 0; i < f.period; i++ {
		var v float32
		if i < len(src) {
			v = src[i]
		}
		binary.BigEndian.PutUint32(dst[i*4:], math.Float32bits(v))
	}
}

func (f *floatEncoder) Decode(dst []float32, src []byte) {
	n := min(f.period, len(dst))
	for i := 0; i < n; i++ {
		dst[i] = math.Float32frombits(binary.BigEndian.Uint32(src[i*4:]))
	}
}

// fixedRate quantizes samples to the bit depth that fits the bitrate budget.
type fixedRate struct {
	period int
	bytes  int
	bits   uint
	scale  float64
	bias   uint32
}

const (
	minFixedBits = 2
	maxFixedBits = 16
)

func newFixedRate(kbps int, period, sampleRate uint32) (*fixedRate, error) {
	if kbps <= 0 || sampleRate == 0 {
		return nil, fmt.Errorf("%w: fixed-rate encoder at %d kbps, %d Hz", core.ErrConfigInvalid, kbps, sampleRate)
	}
	budget := int(uint64(kbps) * 1024 * uint64(period) / (uint64(sampleRate) * 8))
	bits := min(maxFixedBits, budget*8/int(period))
	if bits < minFixedBits {
		return nil, fmt.Errorf("%w: %d kbps leaves %d bits per sample", core.ErrConfigInvalid, kbps, bits)
	}
	return &fixedRate{
		period: int(period),
		bytes:  budget,
		bits:   uint(bits),
		scale:  float64(uint32(1)<<(bits-1) - 1),
		bias:   uint32(1) << (bits - 1),
	}, nil
}

func (f *fixedRate) Kind() core.EncoderKind { return core.EncoderFixedRate }

func (f *fixedRate) ChannelBytes() int { return f.bytes }

// BitsPerSample is the quantization depth in use.
func (f *fixedRate) BitsPerSample() int { return int(f.bits) }

func (f *fixedRate) Encode(dst []byte, src []float32) {
	clear(dst[:f.bytes])
	var acc uint64
	var nacc uint
	pos := 0
	for i := 0; i < f.period; i++ {
		var v float64
		if i < len(src) {
			v = math.Max(-1, math.Min(1, float64(src[i])))
		}
		q := uint32(int32(math.Round(v*f.scale)) + int32(f.bias))
		acc = acc<<f.bits | uint64(q)
		nacc += f.bits
		for nacc >= 8 {
			nacc -= 8
			dst[pos] = byte(acc >> nacc)
			pos++
		}
	}
	if nacc > 0 {
		dst[pos] = byte(acc << (8 - nacc))
	}
}

func (f *fixedRate) Decode(dst []float32, src []byte) {
	var acc uint64
	var nacc uint
	pos := 0
	mask := uint64(1)<<f.bits - 1
	n := min(f.period, len(dst))
	for i := 0; i < n; i++ {
		for nacc < f.bits {
			acc = acc<<8 | uint64(src[pos])
			pos++
			nacc += 8
		}
		nacc -= f.bits
		q := int32((acc >> nacc) & mask)
		dst[i] = float32(float64(q-int32(f.bias)) / f.scale)
	}
}
