// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CyclesTotal counts driver cycles by outcome
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netslave_cycles_total",
			Help: "Total number of driver cycles by result",
		},
		[]string{"result"},
	)

	// LostCyclesTotal counts cycle numbers skipped by the master's sync stream
	LostCyclesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netslave_lost_cycles_total",
			Help: "Total number of cycles missing from the sync sequence",
		},
	)

	// DroppedPacketsTotal counts received datagrams discarded before use
	DroppedPacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netslave_dropped_packets_total",
			Help: "Total number of received packets discarded",
		},
		[]string{"reason"},
	)

	// MIDIEventsDroppedTotal counts MIDI events that did not fit a frame
	MIDIEventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netslave_midi_events_dropped_total",
			Help: "Total number of outgoing MIDI events dropped for lack of space",
		},
	)

	// NegotiationAttemptsTotal counts params exchanges by result
	NegotiationAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netslave_negotiation_attempts_total",
			Help: "Total number of session negotiation attempts",
		},
		[]string{"result"},
	)

	// RestartsTotal counts driver restarts
	RestartsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netslave_restarts_total",
			Help: "Total number of driver restarts",
		},
	)

	// DriverState tracks the current lifecycle state
	DriverState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "netslave_driver_state",
			Help: "Current driver state (1 for the active state, 0 otherwise)",
		},
		[]string{"state"},
	)

	// CyclePhaseRatio measures when each cycle phase completes, as a fraction of the period
	CyclePhaseRatio = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "netslave_cycle_phase_ratio",
			Help:    "Completion time of cycle phases relative to the period",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 15), // 0.1 .. 1.5
		},
		[]string{"phase"},
	)
)

// Cycle results
const (
	ResultOK         = "ok"
	ResultSyncMissed = "sync_missed"
	ResultFatal      = "fatal"
)

// Drop reasons
const (
	DropMalformed = "malformed"
	DropStale     = "stale"
	DropForeign   = "foreign"
)
