// Package daemon implements the slave daemon lifecycle: it owns the local
// engine, the network link and the driver, and drives the cycle loop.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"firestige.xyz/netslave/internal/channel"
	"firestige.xyz/netslave/internal/command"
	"firestige.xyz/netslave/internal/config"
	"firestige.xyz/netslave/internal/driver"
	"firestige.xyz/netslave/internal/engine"
	logpkg "firestige.xyz/netslave/internal/log"
	"firestige.xyz/netslave/internal/metrics"
	"firestige.xyz/netslave/internal/netio"
	"firestige.xyz/netslave/internal/session"
)

// statusRefresh bounds how often the cycle loop republishes driver status.
const statusRefresh = 100 * time.Millisecond

// errRestart marks a cycle loop pass that ended in a driver restart.
var errRestart = errors.New("driver restart")

// Daemon manages the netslave daemon process lifecycle.
type Daemon struct {
	// Configuration
	config     *config.GlobalConfig
	configPath string
	socketPath string
	pidFile    string

	// Core components
	host          *engine.Local
	drv           *driver.Driver
	cmdHandler    *command.CommandHandler
	udsServer     *command.UDSServer
	metricsServer *metrics.Server // nil if metrics disabled

	// Lifecycle management
	restartCh    chan struct{}
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	sigChan      chan os.Signal

	// Published by the cycle loop, read by control commands.
	mu        sync.Mutex
	status    driver.Status
	published time.Time
	failures  uint64
	streak    int
}

// New creates a new Daemon instance talking UDP to the configured master.
func New(configPath, socketPath, pidFile string) (*Daemon, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if socketPath == "" {
		socketPath = cfg.Control.Socket
	}
	if pidFile == "" {
		pidFile = cfg.Control.PIDFile
	}
	link := netio.NewUDPLink(netio.UDPConfig{
		Address:   cfg.Driver.MulticastIP,
		Port:      cfg.Driver.UDPPort,
		Interface: cfg.Driver.Interface,
		TTL:       cfg.Driver.TTL,
	})
	d := newDaemon(cfg, link, socketPath, pidFile)
	d.configPath = configPath
	return d, nil
}

func newDaemon(cfg *config.GlobalConfig, link netio.Link, socketPath, pidFile string) *Daemon {
	host := engine.NewLocal(engine.Options{
		BufferSize: cfg.Engine.PeriodSize,
		SampleRate: cfg.Engine.SampleRate,
		SyncMode:   cfg.Engine.SyncMode,
		Loopback:   cfg.Engine.Loopback,
	})
	drv := driver.New(driver.Config{
		Requested: cfg.SessionRequest(),
		Naming:    channel.DefaultNaming(cfg.Driver.ClientName),
		Negotiation: session.Options{
			Attempts: cfg.Negotiation.Attempts,
			Timeout:  cfg.Negotiation.Timeout,
		},
		PeriodSize: cfg.Engine.PeriodSize,
		SampleRate: cfg.Engine.SampleRate,
	}, host, link)

	d := &Daemon{
		config:       cfg,
		socketPath:   socketPath,
		pidFile:      pidFile,
		host:         host,
		drv:          drv,
		restartCh:    make(chan struct{}, 1),
		shutdownChan: make(chan struct{}),
	}
	d.status = drv.Status()
	d.cmdHandler = command.NewCommandHandler(d)
	d.cmdHandler.SetShutdownFunc(d.TriggerShutdown)
	d.udsServer = command.NewUDSServer(socketPath, d.cmdHandler)
	return d
}

// Run starts every component and blocks until shutdown is triggered by
// SIGINT/SIGTERM, the daemon_shutdown command or ctx. SIGHUP restarts the
// driver.
func (d *Daemon) Run(ctx context.Context) error {
	if err := logpkg.Init(&d.config.Log); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logpkg.Close()
	logger := logpkg.Named("daemon")
	logger.WithField("version", command.Version).
		WithField("client", d.config.Driver.ClientName).
		WithField("config", d.configPath).
		WithField("socket", d.socketPath).
		Info("starting netslave daemon")
	for _, w := range d.config.Warnings {
		logger.Warn(w)
	}

	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer func() {
		if err := d.removePIDFile(); err != nil {
			logger.WithError(err).Error("error removing PID file")
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := d.startMetrics(ctx); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	defer d.stopMetrics()

	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(d.sigChan)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.udsServer.Start(gctx)
	})
	g.Go(func() error {
		return d.cycleLoop(gctx)
	})
	g.Go(func() error {
		d.watch(gctx, cancel)
		return nil
	})

	err := g.Wait()
	if cerr := d.drv.Close(); cerr != nil {
		logger.WithError(cerr).Error("error closing driver")
	}
	d.publish(true)
	logger.Info("daemon stopped gracefully")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// watch turns signals and shutdown requests into cancel or restart.
func (d *Daemon) watch(ctx context.Context, cancel context.CancelFunc) {
	logger := logpkg.Named("daemon")
	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				logger.WithField("signal", sig).Info("received shutdown signal")
				cancel()
				return
			case syscall.SIGHUP:
				logger.Info("received restart signal")
				_ = d.RequestRestart()
			}
		case <-d.shutdownChan:
			logger.Info("shutdown triggered by command")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

// cycleLoop is the only caller of the driver. It keeps the driver
// initialized and runs Read, engine process and Write back to back.
func (d *Daemon) cycleLoop(ctx context.Context) error {
	logger := logpkg.Named("daemon")
	if err := d.drv.Open(); err != nil {
		return err
	}
	d.publish(true)

	for ctx.Err() == nil {
		if st := d.drv.State(); st != driver.StateInitialized && st != driver.StateRunning {
			if err := d.initialize(ctx); err != nil {
				logger.WithError(err).Warn("driver initialization failed, retrying")
				d.wait(ctx, d.config.Daemon.RetryInterval)
			}
			continue
		}

		select {
		case <-d.restartCh:
			if err := d.initialize(ctx); err != nil {
				logger.WithError(err).Warn("driver restart failed, retrying")
			}
			continue
		default:
		}

		if err := d.runCycle(); errors.Is(err, errRestart) {
			d.queueRestart()
		}
		d.publish(false)
	}
	return nil
}

func (d *Daemon) initialize(ctx context.Context) error {
	err := d.drv.Initialize(ctx)
	d.mu.Lock()
	d.streak = 0
	d.mu.Unlock()
	d.publish(true)
	return err
}

// runCycle runs one period. Repeated failures ask for a restart.
func (d *Daemon) runCycle() error {
	err := d.drv.Read()
	if err == nil {
		d.host.Process()
		err = d.drv.Write()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		d.streak = 0
		return nil
	}
	d.failures++
	d.streak++
	logpkg.Named("daemon").WithError(err).WithField("consecutive", d.streak).Debug("cycle failed")
	if d.streak >= d.config.Daemon.MaxConsecutiveFailures {
		logpkg.Named("daemon").Warnf("%d consecutive cycle failures, restarting driver", d.streak)
		d.streak = 0
		return errRestart
	}
	return err
}

func (d *Daemon) wait(ctx context.Context, dur time.Duration) {
	if dur <= 0 {
		dur = time.Second
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-d.restartCh:
	case <-t.C:
	}
}

// publish snapshots driver status for control commands.
func (d *Daemon) publish(force bool) {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if !force && now.Sub(d.published) < statusRefresh {
		return
	}
	d.status = d.drv.Status()
	d.published = now
}

// DriverStatus implements command.Controller.
func (d *Daemon) DriverStatus() driver.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// RequestRestart implements command.Controller. The restart runs on the
// cycle loop between two cycles.
func (d *Daemon) RequestRestart() error {
	select {
	case <-d.shutdownChan:
		return errors.New("daemon is shutting down")
	default:
	}
	d.queueRestart()
	return nil
}

func (d *Daemon) queueRestart() {
	select {
	case d.restartCh <- struct{}{}:
	default:
		// Already pending.
	}
}

// Stats implements command.Controller.
func (d *Daemon) Stats() command.DaemonStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return command.DaemonStats{
		Cycles:              d.status.Cycle.Cycles,
		SyncMissed:          d.status.Cycle.SyncMissed,
		Lost:                d.status.Cycle.Lost,
		Dropped:             d.status.Cycle.Dropped,
		Failures:            d.failures,
		ConsecutiveFailures: d.streak,
		Restarts:            d.status.Restarts,
	}
}

// TriggerShutdown triggers graceful shutdown from external caller (e.g., daemon_shutdown command).
func (d *Daemon) TriggerShutdown() {
	d.shutdownOnce.Do(func() {
		close(d.shutdownChan)
	})
}

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics(ctx context.Context) error {
	if !d.config.Metrics.Enabled {
		logpkg.Named("daemon").Info("metrics server disabled")
		return nil
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path, func() (string, bool) {
		st := d.DriverStatus()
		return string(st.State), st.State == driver.StateRunning
	})
	return d.metricsServer.Start(ctx)
}

func (d *Daemon) stopMetrics() {
	if d.metricsServer == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.metricsServer.Stop(shutdownCtx); err != nil {
		logpkg.Named("daemon").WithError(err).Error("error stopping metrics server")
	}
}

// writePIDFile writes the current process ID to the PID file.
func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	pid := os.Getpid()
	data := []byte(strconv.Itoa(pid) + "\n")

	if err := os.WriteFile(d.pidFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}

	logpkg.Named("daemon").WithField("path", d.pidFile).WithField("pid", pid).Debug("PID file written")
	return nil
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}

	logpkg.Named("daemon").WithField("path", d.pidFile).Debug("PID file removed")
	return nil
}
