// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors. Callers classify failures with errors.Is.
var (
	// Startup errors, fatal to Initialize
	ErrNegotiation = errors.New("netslave: session negotiation failed")
	ErrAllocation  = errors.New("netslave: port allocation failed")

	// Cycle errors
	ErrSyncMissed      = errors.New("netslave: sync packet missed")
	ErrPayloadTransfer = errors.New("netslave: payload transfer failed")

	// Link errors
	ErrLinkClosed = errors.New("netslave: link closed")
	ErrTimeout    = errors.New("netslave: timeout")

	// Lifecycle errors
	ErrInvalidState = errors.New("netslave: invalid driver state")

	// Configuration and decoding errors
	ErrConfigInvalid  = errors.New("netslave: invalid configuration")
	ErrUnknownVariant = errors.New("netslave: unknown enumeration value")
)
