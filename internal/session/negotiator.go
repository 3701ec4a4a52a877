// Package session negotiates session parameters with the master.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"firestige.xyz/netslave/internal/channel"
	"firestige.xyz/netslave/internal/codec"
	"firestige.xyz/netslave/internal/core"
	"firestige.xyz/netslave/internal/log"
	"firestige.xyz/netslave/internal/metrics"
	"firestige.xyz/netslave/internal/netio"
	"firestige.xyz/netslave/internal/protocol"
)

// Options bound the params exchange.
type Options struct {
	Attempts int
	Timeout  time.Duration
}

// DefaultOptions are used for zero fields.
var DefaultOptions = Options{Attempts: 5, Timeout: time.Second}

// Negotiator runs the params handshake over a link.
type Negotiator struct {
	link netio.Link
	opts Options
	enc  *protocol.Encoder
	dec  *protocol.Decoder
}

// NewNegotiator creates a negotiator.
func NewNegotiator(link netio.Link, opts Options) *Negotiator {
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultOptions.Attempts
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions.Timeout
	}
	return &Negotiator{
		link: link,
		opts: opts,
		enc:  protocol.NewEncoder(),
		dec:  protocol.NewDecoder(),
	}
}

// Negotiate announces requested to the master and returns the master's
// authoritative reply. The link is opened if needed. Every failure wraps
// core.ErrNegotiation.
func (n *Negotiator) Negotiate(ctx context.Context, requested core.SessionParams) (core.SessionParams, error) {
	logger := log.Named("session").WithField("slave", requested.Name)

	if !n.link.IsOpen() {
		if err := n.link.Open(); err != nil {
			return core.SessionParams{}, fmt.Errorf("%w: %v", core.ErrNegotiation, err)
		}
	}

	body, err := protocol.EncodeParams(protocol.MsgSlaveAvailable, requested)
	if err != nil {
		return core.SessionParams{}, fmt.Errorf("%w: %v", core.ErrNegotiation, err)
	}
	pkt, err := n.enc.Encode(protocol.Header{
		Kind:  protocol.KindParams,
		Flags: protocol.FlagLast | protocol.FlagFromSlave,
	}, body)
	if err != nil {
		return core.SessionParams{}, fmt.Errorf("%w: %v", core.ErrNegotiation, err)
	}
	// The encoder buffer is reused; keep our own copy across retries.
	req := append([]byte(nil), pkt...)

	var lastErr error
	for attempt := 1; attempt <= n.opts.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return core.SessionParams{}, fmt.Errorf("%w: %w", core.ErrNegotiation, err)
		}
		logger.Debugf("waiting for master, attempt %d/%d", attempt, n.opts.Attempts)

		resp, err := n.link.Exchange(ctx, req, n.opts.Timeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return core.SessionParams{}, fmt.Errorf("%w: %w", core.ErrNegotiation, err)
			}
			metrics.NegotiationAttemptsTotal.WithLabelValues("timeout").Inc()
			lastErr = err
			continue
		}
		params, err := n.accept(requested, resp)
		if err != nil {
			metrics.NegotiationAttemptsTotal.WithLabelValues("rejected").Inc()
			logger.WithError(err).Warn("discarding master reply")
			lastErr = err
			continue
		}
		metrics.NegotiationAttemptsTotal.WithLabelValues("ok").Inc()
		return params, nil
	}
	return core.SessionParams{}, fmt.Errorf("%w: no usable reply after %d attempts: %v", core.ErrNegotiation, n.opts.Attempts, lastErr)
}

func (n *Negotiator) accept(requested core.SessionParams, resp []byte) (core.SessionParams, error) {
	h, payload, err := n.dec.Decode(resp)
	if err != nil {
		return core.SessionParams{}, err
	}
	if h.Kind != protocol.KindParams {
		return core.SessionParams{}, fmt.Errorf("unexpected %s packet", h.Kind)
	}
	typ, params, err := protocol.DecodeParams(payload)
	if err != nil {
		return core.SessionParams{}, err
	}
	if typ != protocol.MsgSlaveSetParams {
		return core.SessionParams{}, fmt.Errorf("unexpected %s message", typ)
	}
	if params.SlaveHost == "" {
		params.SlaveHost = requested.SlaveHost
	}
	if params.Name == "" {
		params.Name = requested.Name
	}
	if params.SlaveSyncMode != requested.SlaveSyncMode {
		log.Named("session").Warnf("master echoed slave sync mode %t, keeping host mode %t", params.SlaveSyncMode, requested.SlaveSyncMode)
		params.SlaveSyncMode = requested.SlaveSyncMode
	}
	if err := params.Validate(); err != nil {
		return core.SessionParams{}, err
	}
	if err := checkFraming(params); err != nil {
		return core.SessionParams{}, err
	}
	reportOverrides(requested, params)
	return params, nil
}

// checkFraming rejects sessions whose frames cannot be carried at the
// negotiated MTU.
func checkFraming(p core.SessionParams) error {
	if protocol.FragmentPayload(p.MTU) <= 0 {
		return fmt.Errorf("%w: mtu %d leaves no room for payload", core.ErrConfigInvalid, p.MTU)
	}
	enc, err := codec.NewSampleEncoder(p.Encoder, p.PeriodSize, p.SampleRate)
	if err != nil {
		return err
	}
	for _, dir := range []channel.Direction{channel.Inbound, channel.Outbound} {
		n := channel.MaxFrameLen(dir, p, enc)
		if count := protocol.FragmentCount(n, p.MTU); count > protocol.MaxFragments {
			return fmt.Errorf("%w: %d byte frame needs %d fragments at mtu %d", core.ErrConfigInvalid, n, count, p.MTU)
		}
	}
	return nil
}

// reportOverrides logs every locally requested value the master changed.
func reportOverrides(requested, got core.SessionParams) {
	logger := log.Named("session")
	check := func(name string, want, have int) {
		if want != core.Unspecified && want != have {
			logger.Warnf("master overrides %s: requested %d, using %d", name, want, have)
		}
	}
	check("mtu", requested.MTU, got.MTU)
	check("capture audio channels", requested.SendAudioChannels, got.SendAudioChannels)
	check("playback audio channels", requested.ReturnAudioChannels, got.ReturnAudioChannels)
	check("capture midi channels", requested.SendMIDIChannels, got.SendMIDIChannels)
	check("playback midi channels", requested.ReturnMIDIChannels, got.ReturnMIDIChannels)
	if requested.NetworkMode != got.NetworkMode {
		logger.Warnf("master overrides network mode: requested %s, using %s", requested.NetworkMode, got.NetworkMode)
	}
	if requested.Encoder != got.Encoder {
		logger.Warnf("master overrides encoder: requested %s, using %s", requested.Encoder, got.Encoder)
	}
	if requested.TransportSync != got.TransportSync {
		logger.Warnf("master overrides transport sync: requested %t, using %t", requested.TransportSync, got.TransportSync)
	}
}
