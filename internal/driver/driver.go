// Package driver implements the slave driver lifecycle: Open, Initialize,
// per-cycle Read and Write, and Close.
//
// Lifecycle calls and cycle calls must not overlap. The host guarantees that
// no Read/Write is in flight while Open, Initialize or Close runs.
package driver

import (
	"context"
	"fmt"

	"firestige.xyz/netslave/internal/channel"
	"firestige.xyz/netslave/internal/codec"
	"firestige.xyz/netslave/internal/core"
	"firestige.xyz/netslave/internal/cycle"
	"firestige.xyz/netslave/internal/engine"
	"firestige.xyz/netslave/internal/log"
	"firestige.xyz/netslave/internal/metrics"
	"firestige.xyz/netslave/internal/netio"
	"firestige.xyz/netslave/internal/replicator"
	"firestige.xyz/netslave/internal/session"
)

// State is the driver lifecycle state.
type State string

const (
	StateClosed      State = "closed"
	StateOpened      State = "opened"
	StateInitialized State = "initialized"
	StateRunning     State = "running"
	StateRestarting  State = "restarting"
)

var allStates = []State{StateClosed, StateOpened, StateInitialized, StateRunning, StateRestarting}

// Config is the driver's already parsed configuration.
type Config struct {
	// Requested is announced to the master. Channel counts may be
	// core.Unspecified.
	Requested   core.SessionParams
	Naming      channel.Naming
	Negotiation session.Options
	// PeriodSize and SampleRate are applied at Open until the master's
	// values replace them.
	PeriodSize uint32
	SampleRate uint32
}

// Driver is one slave driver instance.
type Driver struct {
	cfg  Config
	host engine.Host
	link netio.Link

	negotiator *session.Negotiator
	channels   *channel.Manager
	replicator *replicator.Replicator

	state     State
	params    core.SessionParams
	ports     *channel.PortSet
	capture   *channel.Frame
	playback  *channel.Frame
	sync      *cycle.Synchronizer
	monitor   *metrics.CycleMonitor
	skipWrite bool
	restarts  int
}

// New creates a closed driver.
func New(cfg Config, host engine.Host, link netio.Link) *Driver {
	d := &Driver{
		cfg:        cfg,
		host:       host,
		link:       link,
		negotiator: session.NewNegotiator(link, cfg.Negotiation),
		channels:   channel.NewManager(host, host, cfg.Naming),
		replicator: replicator.New(host.Transport()),
	}
	d.setState(StateClosed)
	return d
}

func (d *Driver) setState(s State) {
	d.state = s
	for _, st := range allStates {
		v := 0.0
		if st == s {
			v = 1
		}
		metrics.DriverState.WithLabelValues(string(st)).Set(v)
	}
}

// State returns the lifecycle state.
func (d *Driver) State() State { return d.state }

// Params returns the negotiated parameters. Only meaningful once initialized.
func (d *Driver) Params() core.SessionParams { return d.params }

// Ports returns the allocated ports, nil before Initialize.
func (d *Driver) Ports() *channel.PortSet { return d.ports }

// Open applies the configured timing placeholders to the host. It does not
// touch the network.
func (d *Driver) Open() error {
	if d.state != StateClosed {
		return fmt.Errorf("%w: open in state %s", core.ErrInvalidState, d.state)
	}
	if d.cfg.PeriodSize > 0 {
		if err := d.host.SetBufferSize(d.cfg.PeriodSize); err != nil {
			return err
		}
	}
	if d.cfg.SampleRate > 0 {
		if err := d.host.SetSampleRate(d.cfg.SampleRate); err != nil {
			return err
		}
	}
	d.setState(StateOpened)
	return nil
}

// Attach is a no-op: ports are only known after negotiation.
func (d *Driver) Attach() error { return nil }

// Detach is a no-op, see Attach.
func (d *Driver) Detach() error { return nil }

// Initialize negotiates with the master and allocates the session. Called
// again on a driver that already ran, it first tears the previous session
// down. On failure the driver is left opened and must not be started.
func (d *Driver) Initialize(ctx context.Context) error {
	logger := log.Named("driver")

	switch d.state {
	case StateClosed:
		return fmt.Errorf("%w: initialize before open", core.ErrInvalidState)
	case StateOpened:
		if d.ports != nil {
			d.restart()
		}
	default:
		d.restart()
	}

	requested := d.cfg.Requested
	requested.SlaveSyncMode = d.host.SyncMode()
	requested.PeriodSize = d.host.BufferSize()
	requested.SampleRate = d.host.SampleRate()

	mode := "async"
	if requested.SlaveSyncMode {
		mode = "sync"
	}
	transport := "without"
	if requested.TransportSync {
		transport = "with"
	}
	logger.Infof("net driver started in %s mode %s master's transport sync", mode, transport)

	params, err := d.negotiator.Negotiate(ctx, requested)
	if err != nil {
		d.setState(StateOpened)
		return err
	}
	enc, err := codec.NewSampleEncoder(params.Encoder, params.PeriodSize, params.SampleRate)
	if err != nil {
		d.setState(StateOpened)
		return fmt.Errorf("%w: %v", core.ErrNegotiation, err)
	}
	ports, err := d.channels.Allocate(params)
	if err != nil {
		d.setState(StateOpened)
		return err
	}
	if err := d.applyTiming(params); err != nil {
		d.channels.Release(ports)
		d.setState(StateOpened)
		return fmt.Errorf("%w: %v", core.ErrAllocation, err)
	}

	d.params = params
	d.ports = ports
	d.capture = channel.NewFrame(channel.Inbound, params, enc)
	d.playback = channel.NewFrame(channel.Outbound, params, enc)
	d.monitor = metrics.NewCycleMonitor(params.PeriodDuration())
	d.sync = cycle.New(d.link, cycle.Options{
		MTU:      params.MTU,
		Timeout:  params.PeriodDuration(),
		MaxFrame: d.capture.MaxLen(),
		Monitor:  d.monitor,
	})
	d.replicator.Reset()
	d.skipWrite = false

	displayParams(logger, params)
	d.setState(StateInitialized)
	return nil
}

func (d *Driver) applyTiming(params core.SessionParams) error {
	if err := d.host.SetBufferSize(params.PeriodSize); err != nil {
		return err
	}
	if err := d.host.SetSampleRate(params.SampleRate); err != nil {
		return err
	}
	d.host.Transport().SetNetworkSync(params.TransportSync)
	return nil
}

func (d *Driver) restart() {
	log.Named("driver").Info("restarting driver")
	d.setState(StateRestarting)
	d.restarts++
	metrics.RestartsTotal.Inc()
	d.freeAll()
}

// freeAll releases every session resource. Safe to call repeatedly.
func (d *Driver) freeAll() {
	d.channels.Release(d.ports)
	d.ports = nil
	d.capture = nil
	d.playback = nil
	d.sync = nil
	d.monitor = nil
	d.skipWrite = false
	d.replicator.Reset()
	if err := d.link.Close(); err != nil {
		log.Named("driver").WithError(err).Warn("close link")
	}
}

// Close releases ports and the link. Closing twice is a no-op.
func (d *Driver) Close() error {
	if d.state == StateClosed {
		return nil
	}
	d.freeAll()
	d.params = core.SessionParams{}
	d.setState(StateClosed)
	return nil
}

// Read receives one cycle from the master into the capture ports.
//
// A missed sync is absorbed: Read returns nil and the following Write does
// nothing. A payload failure after the sync is returned and wraps
// core.ErrPayloadTransfer.
func (d *Driver) Read() error {
	if d.state != StateInitialized && d.state != StateRunning {
		return fmt.Errorf("%w: read in state %s", core.ErrInvalidState, d.state)
	}
	if d.state == StateInitialized {
		d.setState(StateRunning)
	}

	d.capture.Bind(d.channels, d.ports)
	status, err := d.sync.OnCycleRead(d.decodeTransport, d.capture)
	switch status {
	case cycle.StatusOK:
		d.skipWrite = false
		d.monitor.Mark(metrics.PhaseEndOfRead)
		return nil
	case cycle.StatusSyncMissed:
		d.skipWrite = true
		metrics.CyclesTotal.WithLabelValues(metrics.ResultSyncMissed).Inc()
		return nil
	default:
		d.skipWrite = true
		metrics.CyclesTotal.WithLabelValues(metrics.ResultFatal).Inc()
		return err
	}
}

func (d *Driver) decodeTransport(tf core.TransportFrame) {
	if d.params.TransportSync {
		d.replicator.Decode(tf)
	}
}

// Write sends the playback ports and local transport state for the cycle
// accepted by the preceding Read.
func (d *Driver) Write() error {
	if d.state != StateRunning {
		return fmt.Errorf("%w: write in state %s", core.ErrInvalidState, d.state)
	}
	if d.skipWrite {
		d.skipWrite = false
		return nil
	}

	d.playback.Bind(d.channels, d.ports)
	frame, dropped := d.playback.Pack()
	if dropped > 0 {
		metrics.MIDIEventsDroppedTotal.Add(float64(dropped))
		log.Named("driver").Debugf("dropped %d outgoing midi events", dropped)
	}

	tf := core.ResetTransportFrame()
	if d.params.TransportSync {
		tf = d.replicator.Encode()
	}
	if status, err := d.sync.OnCycleWrite(tf, frame); status != cycle.StatusOK {
		metrics.CyclesTotal.WithLabelValues(metrics.ResultFatal).Inc()
		return err
	}
	if d.params.TransportSync {
		d.replicator.Commit()
	}
	metrics.CyclesTotal.WithLabelValues(metrics.ResultOK).Inc()
	return nil
}

func displayParams(logger log.Logger, p core.SessionParams) {
	logger.Info("********************** Network parameters **********************")
	logger.Infof("Name : %s", p.Name)
	logger.Infof("Slave host : %s", p.SlaveHost)
	logger.Infof("MTU : %d", p.MTU)
	logger.Infof("Period size : %d frames at %d Hz (%s)", p.PeriodSize, p.SampleRate, p.PeriodDuration())
	logger.Infof("Encoder : %s", p.Encoder)
	logger.Infof("Audio channels : %d capture, %d playback", p.SendAudioChannels, p.ReturnAudioChannels)
	logger.Infof("MIDI channels : %d capture, %d playback", p.SendMIDIChannels, p.ReturnMIDIChannels)
	logger.Infof("Network mode : %s", p.NetworkMode)
	logger.Infof("Transport sync : %t", p.TransportSync)
	logger.Infof("Slave sync mode : %t", p.SlaveSyncMode)
	logger.Info("****************************************************************")
}
