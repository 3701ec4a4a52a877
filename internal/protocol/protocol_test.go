package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netslave/internal/core"
)

func TestHeaderEncodeDecode(t *testing.T) {
	enc := NewEncoder()
	pkt, err := enc.Encode(Header{
		Kind:      KindData,
		Flags:     FlagLast | FlagFromSlave,
		Cycle:     0xdeadbeef,
		Fragment:  2,
		Fragments: 3,
	}, []byte{1, 2, 3})
	require.NoError(t, err)
	require.Len(t, pkt, HeaderLen+3)
	assert.Equal(t, "NJSL", string(pkt[:4]))

	dec := NewDecoder()
	h, payload, err := dec.Decode(pkt)
	require.NoError(t, err)
	assert.Equal(t, KindData, h.Kind)
	assert.Equal(t, FlagLast|FlagFromSlave, h.Flags)
	assert.Equal(t, uint32(0xdeadbeef), h.Cycle)
	assert.Equal(t, uint16(2), h.Fragment)
	assert.Equal(t, uint16(3), h.Fragments)
	assert.Equal(t, []byte{1, 2, 3}, payload)
}

func TestHeaderEmptyPayload(t *testing.T) {
	pkt, err := NewEncoder().Encode(Header{Kind: KindData, Flags: FlagLast, Cycle: 7}, nil)
	require.NoError(t, err)

	h, payload, err := NewDecoder().Decode(pkt)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), h.Fragments)
	assert.Empty(t, payload)
}

func TestHeaderRejectsGarbage(t *testing.T) {
	valid, err := NewEncoder().Encode(Header{Kind: KindSync, Cycle: 1}, nil)
	require.NoError(t, err)

	tests := []struct {
		name  string
		data  []byte
		field string
	}{
		{"truncated", valid[:10], "header"},
		{"bad magic", append([]byte("XXXX"), valid[4:]...), "magic"},
		{"bad version", patch(valid, 4, 9), "version"},
		{"bad kind", patch(valid, 5, 42), "kind"},
		{"bad fragment", patch(valid, 13, 5), "fragment"},
	}
	dec := NewDecoder()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := dec.Decode(tt.data)
			require.Error(t, err)
			var pe *ParseError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.field, pe.Field)
		})
	}
}

func patch(b []byte, off int, v byte) []byte {
	out := append([]byte(nil), b...)
	out[off] = v
	return out
}

func TestSyncRoundTrip(t *testing.T) {
	tf := core.TransportFrame{
		State:    core.TransportNetStarting,
		Timebase: core.TimebaseClaimConditional,
		NewState: true,
		Position: core.Position{
			USecs:          123456789,
			FrameRate:      48000,
			Frame:          96000,
			Valid:          core.PositionBBT,
			Bar:            3,
			Beat:           2,
			Tick:           960,
			BarStartTick:   7680,
			BeatsPerBar:    4,
			BeatType:       4,
			TicksPerBeat:   1920,
			BeatsPerMinute: 120.5,
		},
	}
	b := AppendSync(nil, tf)
	require.Len(t, b, SyncLen)

	got, err := DecodeSync(b)
	require.NoError(t, err)
	assert.Equal(t, tf, got)
}

func TestSyncRejectsUnknownVariants(t *testing.T) {
	b := AppendSync(nil, core.ResetTransportFrame())

	_, err := DecodeSync(patch(b, 0, 9))
	assert.ErrorIs(t, err, core.ErrUnknownVariant)

	_, err = DecodeSync(patch(b, 1, 2))
	assert.ErrorIs(t, err, core.ErrUnknownVariant)

	_, err = DecodeSync(b[:SyncLen-1])
	var pe *ParseError
	assert.True(t, errors.As(err, &pe))
}

func TestParamsRoundTrip(t *testing.T) {
	p := core.SessionParams{
		Name:                "studio",
		SlaveHost:           "box",
		MTU:                 1500,
		PeriodSize:          256,
		SampleRate:          44100,
		Encoder:             core.Encoder{Kind: core.EncoderFixedRate, KBps: 128},
		SendAudioChannels:   core.Unspecified,
		ReturnAudioChannels: 2,
		SendMIDIChannels:    1,
		ReturnMIDIChannels:  0,
		NetworkMode:         core.ModeFast,
		TransportSync:       true,
		SlaveSyncMode:       true,
	}
	b, err := EncodeParams(MsgSlaveAvailable, p)
	require.NoError(t, err)

	typ, got, err := DecodeParams(b)
	require.NoError(t, err)
	assert.Equal(t, MsgSlaveAvailable, typ)
	assert.Equal(t, p, got)
}

func TestParamsEncodingIsDeterministic(t *testing.T) {
	p := core.SessionParams{Name: "a", MTU: 1500, NetworkMode: core.ModeSlow, Encoder: core.Encoder{Kind: core.EncoderFloat}}
	a, err := EncodeParams(MsgSlaveSetParams, p)
	require.NoError(t, err)
	b, err := EncodeParams(MsgSlaveSetParams, p)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestParamsRejectsUnknownMode(t *testing.T) {
	p := core.SessionParams{NetworkMode: core.NetworkMode('x'), Encoder: core.Encoder{Kind: core.EncoderFloat}}
	b, err := EncodeParams(MsgSlaveSetParams, p)
	require.NoError(t, err)

	_, _, err = DecodeParams(b)
	assert.ErrorIs(t, err, core.ErrUnknownVariant)

	_, _, err = DecodeParams([]byte{0xff, 0x00})
	var pe *ParseError
	assert.True(t, errors.As(err, &pe))
}

func TestFragmentsAndAssembler(t *testing.T) {
	const mtu = 100 // 56 bytes per fragment
	frame := make([]byte, 150)
	for i := range frame {
		frame[i] = byte(i)
	}
	assert.Equal(t, 56, FragmentPayload(mtu))
	assert.Equal(t, 3, FragmentCount(len(frame), mtu))
	assert.Equal(t, 1, FragmentCount(0, mtu))

	type frag struct {
		h    Header
		data []byte
	}
	var frags []frag
	err := Fragments(frame, mtu, func(i, n int, chunk []byte) error {
		frags = append(frags, frag{Header{Kind: KindData, Cycle: 9, Fragment: uint16(i), Fragments: uint16(n)}, append([]byte(nil), chunk...)})
		return nil
	})
	require.NoError(t, err)
	require.Len(t, frags, 3)

	a := NewAssembler(256, mtu)
	a.Reset(9)
	// Out of order delivery still completes.
	for _, i := range []int{2, 0} {
		done, err := a.Add(&frags[i].h, frags[i].data)
		require.NoError(t, err)
		assert.False(t, done)
	}
	done, err := a.Add(&frags[1].h, frags[1].data)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, frame, a.Frame())
}

func TestAssemblerRejectsForeignCycle(t *testing.T) {
	a := NewAssembler(64, 100)
	a.Reset(4)
	_, err := a.Add(&Header{Kind: KindData, Cycle: 5, Fragments: 1}, nil)
	assert.ErrorIs(t, err, core.ErrPayloadTransfer)
}

func TestEmptyFrameTakesOneFragment(t *testing.T) {
	calls := 0
	err := Fragments(nil, 1500, func(i, n int, chunk []byte) error {
		calls++
		assert.Equal(t, 1, n)
		assert.Empty(t, chunk)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestAssemblerRejectsMTUWithoutPayload(t *testing.T) {
	const mtu = 40
	assert.LessOrEqual(t, FragmentPayload(mtu), 0)

	a := NewAssembler(64, mtu)
	a.Reset(1)
	_, err := a.Add(&Header{Kind: KindData, Cycle: 1, Fragment: 1, Fragments: 2}, []byte{1, 2, 3, 4})
	assert.ErrorIs(t, err, core.ErrPayloadTransfer)

	err = Fragments([]byte{1}, mtu, func(int, int, []byte) error { return nil })
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestAssemblerRejectsIndexOutsideCount(t *testing.T) {
	a := NewAssembler(256, 100)
	a.Reset(3)
	_, err := a.Add(&Header{Kind: KindData, Cycle: 3, Fragment: 2, Fragments: 2}, make([]byte, 56))
	assert.ErrorIs(t, err, core.ErrPayloadTransfer)
}
