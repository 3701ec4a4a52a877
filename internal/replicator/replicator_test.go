package replicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netslave/internal/core"
	"firestige.xyz/netslave/internal/engine"
)

func TestDecodeStartAppliesPositionAndCommand(t *testing.T) {
	tr := engine.NewLocalTransport()
	tr.SetNetworkSync(true)
	r := New(tr)

	r.Decode(core.TransportFrame{
		State:    core.TransportStarting,
		NewState: true,
		Position: core.Position{Frame: 48000},
	})
	tr.Cycle(128)
	st, pos := tr.Query()
	assert.Equal(t, core.TransportNetStarting, st)
	assert.Equal(t, uint32(48000), pos.Frame)
}

func TestDecodeRollingForcesState(t *testing.T) {
	tr := engine.NewLocalTransport()
	r := New(tr)
	r.Decode(core.TransportFrame{State: core.TransportRolling, NewState: true})
	assert.Equal(t, core.TransportRolling, tr.State())
}

func TestDecodeStop(t *testing.T) {
	tr := engine.NewLocalTransport()
	tr.SetState(core.TransportRolling)
	r := New(tr)
	r.Decode(core.TransportFrame{State: core.TransportStopped, NewState: true})
	tr.Cycle(64)
	assert.Equal(t, core.TransportStopped, tr.State())
}

func TestDecodeIgnoresRepeatsAndOldNews(t *testing.T) {
	tr := engine.NewLocalTransport()
	r := New(tr)

	r.Decode(core.TransportFrame{State: core.TransportRolling, NewState: true})
	tr.SetState(core.TransportStopped)

	// Same state again is not re-applied.
	r.Decode(core.TransportFrame{State: core.TransportRolling, NewState: true})
	assert.Equal(t, core.TransportStopped, tr.State())

	// Without the new-state flag nothing happens.
	r.Decode(core.TransportFrame{State: core.TransportStarting})
	tr.Cycle(64)
	assert.Equal(t, core.TransportStopped, tr.State())

	// Unknown and net-starting are no-ops.
	r.Decode(core.TransportFrame{State: core.TransportNetStarting, NewState: true})
	assert.Equal(t, core.TransportStopped, tr.State())
}

func TestDecodeClaimResetsLocalHolder(t *testing.T) {
	tr := engine.NewLocalTransport()
	r := New(tr)
	tr.ClaimTimebase(7, false)

	r.Decode(core.TransportFrame{Timebase: core.TimebaseClaimConditional})
	holder, _ := tr.TimebaseMaster()
	assert.Equal(t, 7, holder, "conditional claim leaves holder")

	r.Decode(core.TransportFrame{Timebase: core.TimebaseClaim})
	holder, _ = tr.TimebaseMaster()
	assert.Equal(t, core.NoRefnum, holder)

	// The reset is not echoed as a local release.
	assert.Equal(t, core.TimebaseNoChange, r.Encode().Timebase)
}

func TestEncodeTimebaseDeltas(t *testing.T) {
	tr := engine.NewLocalTransport()
	r := New(tr)

	assert.Equal(t, core.TimebaseNoChange, r.Encode().Timebase)
	r.Commit()

	tr.ClaimTimebase(3, false)
	assert.Equal(t, core.TimebaseClaim, r.Encode().Timebase)
	r.Commit()
	assert.Equal(t, core.TimebaseNoChange, r.Encode().Timebase)
	r.Commit()

	tr.ResetTimebase(3)
	assert.Equal(t, core.TimebaseRelease, r.Encode().Timebase)
	r.Commit()

	tr.ClaimTimebase(4, true)
	assert.Equal(t, core.TimebaseClaimConditional, r.Encode().Timebase)
}

func TestEncodeWithoutCommitRepeats(t *testing.T) {
	tr := engine.NewLocalTransport()
	r := New(tr)
	tr.ClaimTimebase(3, false)

	assert.Equal(t, core.TimebaseClaim, r.Encode().Timebase)
	// Frame never left: report again.
	assert.Equal(t, core.TimebaseClaim, r.Encode().Timebase)
	r.Commit()
	assert.Equal(t, core.TimebaseNoChange, r.Encode().Timebase)
}

func TestNewStateOnlyOnFirstNetStarting(t *testing.T) {
	tr := engine.NewLocalTransport()
	tr.SetNetworkSync(true)
	r := New(tr)

	tr.SetCommand(core.CommandStart)
	tr.Cycle(64)
	require.Equal(t, core.TransportNetStarting, tr.State())

	out := r.Encode()
	assert.Equal(t, core.TransportNetStarting, out.State)
	assert.True(t, out.NewState)
	r.Commit()

	out = r.Encode()
	assert.False(t, out.NewState, "already reported")
}

func TestNewStateNeverEchoesMaster(t *testing.T) {
	tr := engine.NewLocalTransport()
	r := New(tr)

	for _, st := range []core.TransportState{core.TransportStopped, core.TransportRolling, core.TransportStarting, core.TransportNetStarting} {
		r.Reset()
		tr.SetState(st)
		r.Decode(core.TransportFrame{State: st})
		out := r.Encode()
		assert.False(t, out.NewState, "state %s", st)
	}
}

func TestNewStateNotSetForOtherStates(t *testing.T) {
	tr := engine.NewLocalTransport()
	r := New(tr)
	for _, st := range []core.TransportState{core.TransportStopped, core.TransportRolling, core.TransportStarting} {
		tr.SetState(st)
		assert.False(t, r.Encode().NewState, "state %s", st)
		r.Commit()
	}
}

func TestResetRestoresDefaults(t *testing.T) {
	tr := engine.NewLocalTransport()
	r := New(tr)
	tr.ClaimTimebase(1, false)
	r.Encode()
	r.Commit()
	r.Decode(core.TransportFrame{State: core.TransportRolling, NewState: true})

	r.Reset()
	snap := r.Snapshot()
	assert.Equal(t, "unknown", snap.LastSent)
	assert.Equal(t, "unknown", snap.LastApplied)
	assert.Equal(t, "unknown", snap.Received)
	assert.Equal(t, core.NoRefnum, snap.Holder)
	assert.Equal(t, core.TimebaseClaim, r.Encode().Timebase)
}
