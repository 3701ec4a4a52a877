package channel

import "firestige.xyz/netslave/internal/core"

// CaptureLatency is the latency of every capture port: one period.
func CaptureLatency(period uint32) uint32 {
	return period
}

// PlaybackLatency is the latency of playback ports in frames. Each slower
// network mode buffers one more period, and an asynchronous slave adds one
// period on top.
func PlaybackLatency(mode core.NetworkMode, syncMode bool, period uint32) uint32 {
	var async uint32
	if !syncMode {
		async = period
	}
	switch mode {
	case core.ModeFast:
		return async
	case core.ModeNormal:
		return period + async
	default:
		return 2*period + async
	}
}
