// Package replicator mirrors the master's transport onto the local engine
// and reports local transport changes back.
package replicator

import (
	"firestige.xyz/netslave/internal/core"
	"firestige.xyz/netslave/internal/engine"
	"firestige.xyz/netslave/internal/log"
)

// Replicator translates transport frames to and from host transport calls.
// The master is authoritative: the slave only reports what it observes.
type Replicator struct {
	transport engine.Transport

	lastHolder  int
	lastSent    core.TransportState
	lastApplied core.TransportState
	received    core.TransportState

	pendingHolder int
	pendingState  core.TransportState
	pending       bool
}

// New creates a replicator in its reset state.
func New(t engine.Transport) *Replicator {
	r := &Replicator{transport: t}
	r.Reset()
	return r
}

// Reset returns to the state used after Initialize: nothing sent, nothing
// applied, no known timebase holder.
func (r *Replicator) Reset() {
	r.lastHolder = core.NoRefnum
	r.lastSent = core.TransportUnknown
	r.lastApplied = core.TransportUnknown
	r.received = core.TransportUnknown
	r.pending = false
}

// Decode applies an inbound frame to the local transport.
func (r *Replicator) Decode(in core.TransportFrame) {
	logger := log.Named("transport")

	if in.Timebase == core.TimebaseClaim {
		if holder, _ := r.transport.TimebaseMaster(); holder != core.NoRefnum {
			r.transport.ResetTimebase(holder)
			// Not a local release: nothing to report back.
			r.lastHolder = core.NoRefnum
			logger.Info("master is now timebase master")
		}
	}

	r.received = in.State
	if !in.NewState || in.State == r.lastApplied {
		return
	}
	switch in.State {
	case core.TransportStopped:
		r.transport.SetCommand(core.CommandStop)
		logger.Info("master stops transport")
	case core.TransportStarting:
		r.transport.RequestNewPosition(in.Position)
		r.transport.SetCommand(core.CommandStart)
		logger.Infof("master starts transport frame = %d", in.Position.Frame)
	case core.TransportRolling:
		r.transport.SetState(core.TransportRolling)
		logger.Infof("master is rolling frame = %d", in.Position.Frame)
	default:
		return
	}
	r.lastApplied = in.State
}

// Encode builds the outbound frame from the local transport. The holder and
// state it reports are only remembered once Commit confirms the frame left.
func (r *Replicator) Encode() core.TransportFrame {
	var out core.TransportFrame

	holder, conditional := r.transport.TimebaseMaster()
	switch {
	case holder == r.lastHolder:
		out.Timebase = core.TimebaseNoChange
	case holder == core.NoRefnum:
		out.Timebase = core.TimebaseRelease
	case conditional:
		out.Timebase = core.TimebaseClaimConditional
	default:
		out.Timebase = core.TimebaseClaim
	}
	if out.Timebase != core.TimebaseNoChange {
		log.Named("transport").Infof("local timebase change: %s", out.Timebase)
	}

	out.State, out.Position = r.transport.Query()
	out.NewState = out.State == core.TransportNetStarting &&
		out.State != r.lastSent &&
		out.State != r.received

	r.pendingHolder = holder
	r.pendingState = out.State
	r.pending = true
	return out
}

// Commit records the last encoded frame as delivered.
func (r *Replicator) Commit() {
	if !r.pending {
		return
	}
	r.lastHolder = r.pendingHolder
	r.lastSent = r.pendingState
	r.pending = false
}

// Snapshot is the replicator's view for status reporting.
type Snapshot struct {
	LastSent    string `json:"last_sent"`
	LastApplied string `json:"last_applied"`
	Received    string `json:"received"`
	Holder      int    `json:"timebase_holder"`
}

// Snapshot returns the current view.
func (r *Replicator) Snapshot() Snapshot {
	return Snapshot{
		LastSent:    r.lastSent.String(),
		LastApplied: r.lastApplied.String(),
		Received:    r.received.String(),
		Holder:      r.lastHolder,
	}
}
