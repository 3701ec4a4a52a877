package metrics

import (
	"time"
)

// Phase names a point within a driver cycle.
type Phase string

const (
	PhaseSyncDecoded  Phase = "sync_decoded"
	PhaseEndOfRead    Phase = "end_of_read"
	PhaseStartOfWrite Phase = "start_of_write"
	PhaseSyncSent     Phase = "sync_sent"
	PhaseEndOfWrite   Phase = "end_of_write"
)

// CycleMonitor records phase timings of one cycle relative to its period.
// A nil monitor records nothing.
type CycleMonitor struct {
	period time.Duration
	start  time.Time
	now    func() time.Time
	last   map[Phase]float64
}

// NewCycleMonitor creates a monitor for the given period.
func NewCycleMonitor(period time.Duration) *CycleMonitor {
	return &CycleMonitor{
		period: period,
		now:    time.Now,
		last:   make(map[Phase]float64, 5),
	}
}

// Begin marks the start of a cycle.
func (m *CycleMonitor) Begin() {
	if m == nil {
		return
	}
	m.start = m.now()
}

// Mark observes phase.
func (m *CycleMonitor) Mark(phase Phase) {
	if m == nil || m.period <= 0 || m.start.IsZero() {
		return
	}
	ratio := float64(m.now().Sub(m.start)) / float64(m.period)
	m.last[phase] = ratio
	CyclePhaseRatio.WithLabelValues(string(phase)).Observe(ratio)
}

// Last returns the most recent ratio recorded for phase.
func (m *CycleMonitor) Last(phase Phase) (float64, bool) {
	if m == nil {
		return 0, false
	}
	r, ok := m.last[phase]
	return r, ok
}
