package engine

import (
	"sync"

	"firestige.xyz/netslave/internal/core"
)

// LocalTransport is a minimal host transport state machine.
//
//	Stopped --start--> Starting --(net sync)--> NetStarting --SetState(Rolling)--> Rolling
//	                            \--(local)----------------------------------------> Rolling
type LocalTransport struct {
	mu          sync.Mutex
	state       core.TransportState
	pending     core.TransportCommand
	pos         core.Position
	requested   *core.Position
	holder      int
	conditional bool
	networkSync bool
}

// NewLocalTransport returns a stopped transport with no timebase holder.
func NewLocalTransport() *LocalTransport {
	return &LocalTransport{state: core.TransportStopped, holder: core.NoRefnum}
}

// Query implements Transport.
func (t *LocalTransport) Query() (core.TransportState, core.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state, t.pos
}

// State implements Transport.
func (t *LocalTransport) State() core.TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SetState implements Transport.
func (t *LocalTransport) SetState(s core.TransportState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// SetCommand implements Transport. Commands take effect on the next Cycle.
func (t *LocalTransport) SetCommand(c core.TransportCommand) {
	t.mu.Lock()
	t.pending = c
	t.mu.Unlock()
}

// RequestNewPosition implements Transport.
func (t *LocalTransport) RequestNewPosition(p core.Position) {
	t.mu.Lock()
	t.requested = &p
	t.mu.Unlock()
}

// TimebaseMaster implements Transport.
func (t *LocalTransport) TimebaseMaster() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.holder, t.conditional
}

// ClaimTimebase makes refnum the timebase holder.
func (t *LocalTransport) ClaimTimebase(refnum int, conditional bool) {
	t.mu.Lock()
	t.holder = refnum
	t.conditional = conditional
	t.mu.Unlock()
}

// ResetTimebase implements Transport. Only the current holder is cleared.
func (t *LocalTransport) ResetTimebase(refnum int) {
	t.mu.Lock()
	if t.holder == refnum {
		t.holder = core.NoRefnum
		t.conditional = false
	}
	t.mu.Unlock()
}

// SetNetworkSync implements Transport.
func (t *LocalTransport) SetNetworkSync(on bool) {
	t.mu.Lock()
	t.networkSync = on
	t.mu.Unlock()
}

// NetworkSync reports whether starts wait for the network.
func (t *LocalTransport) NetworkSync() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.networkSync
}

// Cycle advances the state machine by one period of nframes.
func (t *LocalTransport) Cycle(nframes uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.requested != nil {
		t.pos = *t.requested
		t.requested = nil
	}
	switch t.pending {
	case core.CommandStart:
		if t.state == core.TransportStopped {
			t.state = core.TransportStarting
		}
	case core.CommandStop:
		t.state = core.TransportStopped
	}
	t.pending = core.CommandNone

	switch t.state {
	case core.TransportStarting:
		if t.networkSync {
			t.state = core.TransportNetStarting
		} else {
			t.state = core.TransportRolling
		}
	case core.TransportRolling:
		t.pos.Frame += nframes
	}
}
