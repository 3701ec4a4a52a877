// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/netslave/internal/core"
	"firestige.xyz/netslave/internal/log"
	"firestige.xyz/netslave/internal/protocol"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `netslave:` root key in YAML.
type GlobalConfig struct {
	Driver      DriverConfig      `mapstructure:"driver"`
	Negotiation NegotiationConfig `mapstructure:"negotiation"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Control     ControlConfig     `mapstructure:"control"`
	Daemon      DaemonConfig      `mapstructure:"daemon"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Log         log.LoggerConfig  `mapstructure:"log"`

	// Warnings collects non-fatal problems found while validating.
	Warnings []string `mapstructure:"-"`
}

// ─── Driver ───

// DriverConfig is the slave's request to the master.
type DriverConfig struct {
	MulticastIP    string `mapstructure:"multicast_ip"`
	UDPPort        int    `mapstructure:"udp_port"`
	MTU            int    `mapstructure:"mtu"`
	InputPorts     int    `mapstructure:"input_ports"`  // -1 = master decides
	OutputPorts    int    `mapstructure:"output_ports"` // -1 = master decides
	MIDIInPorts    int    `mapstructure:"midi_in_ports"`
	MIDIOutPorts   int    `mapstructure:"midi_out_ports"`
	CompressedKbps int    `mapstructure:"compressed_kbps"` // <= 0 = uncompressed
	ClientName     string `mapstructure:"client_name"`     // Empty = os.Hostname()
	TransportSync  bool   `mapstructure:"transport_sync"`
	Mode           string `mapstructure:"mode"` // slow | normal | fast
	Interface      string `mapstructure:"interface"`
	TTL            int    `mapstructure:"ttl"`
}

// NegotiationConfig bounds the announce/reply exchange.
type NegotiationConfig struct {
	Attempts int           `mapstructure:"attempts"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// EngineConfig configures the local host engine. PeriodSize and SampleRate
// are placeholders until the master's values are negotiated.
type EngineConfig struct {
	PeriodSize uint32 `mapstructure:"period_size"`
	SampleRate uint32 `mapstructure:"sample_rate"`
	SyncMode   bool   `mapstructure:"sync_mode"`
	Loopback   bool   `mapstructure:"loopback"`
}

// ─── Control Plane ───

// ControlConfig contains local control plane settings.
type ControlConfig struct {
	Socket  string `mapstructure:"socket"`
	PIDFile string `mapstructure:"pid_file"`
}

// DaemonConfig tunes the cycle loop.
type DaemonConfig struct {
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures"`
	RetryInterval          time.Duration `mapstructure:"retry_interval"` // wait between failed Initialize attempts
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `netslave: ...`.
type configRoot struct {
	NetSlave GlobalConfig `mapstructure:"netslave"`
}

// Load loads configuration from file.
// The YAML file uses `netslave:` as root key; env vars use the NETSLAVE_ prefix
// (e.g., NETSLAVE_DRIVER_MTU).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// The `netslave.` key prefix maps to `NETSLAVE_` through the replacer.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.NetSlave

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use the "netslave." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Driver defaults
	v.SetDefault("netslave.driver.multicast_ip", "225.3.19.154")
	v.SetDefault("netslave.driver.udp_port", 19000)
	v.SetDefault("netslave.driver.mtu", 1500)
	v.SetDefault("netslave.driver.input_ports", core.Unspecified)
	v.SetDefault("netslave.driver.output_ports", core.Unspecified)
	v.SetDefault("netslave.driver.midi_in_ports", 0)
	v.SetDefault("netslave.driver.midi_out_ports", 0)
	v.SetDefault("netslave.driver.compressed_kbps", 0)
	v.SetDefault("netslave.driver.transport_sync", true)
	v.SetDefault("netslave.driver.mode", "slow")
	v.SetDefault("netslave.driver.ttl", 1)

	// Negotiation defaults
	v.SetDefault("netslave.negotiation.attempts", 5)
	v.SetDefault("netslave.negotiation.timeout", "1s")

	// Engine defaults
	v.SetDefault("netslave.engine.period_size", 128)
	v.SetDefault("netslave.engine.sample_rate", 48000)
	v.SetDefault("netslave.engine.sync_mode", false)
	v.SetDefault("netslave.engine.loopback", true)

	// Control defaults
	v.SetDefault("netslave.control.pid_file", "/var/run/netslave.pid")
	v.SetDefault("netslave.control.socket", "/var/run/netslave.sock")

	// Daemon defaults
	v.SetDefault("netslave.daemon.max_consecutive_failures", 8)
	v.SetDefault("netslave.daemon.retry_interval", "1s")

	// Log defaults
	v.SetDefault("netslave.log.level", "info")
	v.SetDefault("netslave.log.format", "text")
	v.SetDefault("netslave.log.file.enabled", false)
	v.SetDefault("netslave.log.file.filename", "/var/log/netslave/netslave.log")
	v.SetDefault("netslave.log.file.max_size", 100)
	v.SetDefault("netslave.log.file.max_age", 30)
	v.SetDefault("netslave.log.file.max_backups", 5)
	v.SetDefault("netslave.log.file.compress", true)

	// Metrics defaults
	v.SetDefault("netslave.metrics.enabled", true)
	v.SetDefault("netslave.metrics.listen", ":9091")
	v.SetDefault("netslave.metrics.path", "/metrics")
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.File.Level != "" && !validLevels[cfg.Log.File.Level] {
		return fmt.Errorf("invalid log file level: %s (must be debug/info/warn/error)", cfg.Log.File.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}

	// ── Driver ──
	d := &cfg.Driver
	if net.ParseIP(d.MulticastIP) == nil {
		return fmt.Errorf("%w: driver.multicast_ip %q", core.ErrConfigInvalid, d.MulticastIP)
	}
	if d.UDPPort <= 0 || d.UDPPort > 65535 {
		return fmt.Errorf("%w: driver.udp_port %d", core.ErrConfigInvalid, d.UDPPort)
	}
	if protocol.FragmentPayload(d.MTU) <= 0 || d.MTU > 65535 {
		return fmt.Errorf("%w: driver.mtu %d", core.ErrConfigInvalid, d.MTU)
	}
	for name, n := range map[string]int{
		"input_ports":    d.InputPorts,
		"output_ports":   d.OutputPorts,
		"midi_in_ports":  d.MIDIInPorts,
		"midi_out_ports": d.MIDIOutPorts,
	} {
		if n < core.Unspecified {
			return fmt.Errorf("%w: driver.%s %d", core.ErrConfigInvalid, name, n)
		}
	}
	if _, err := core.ParseNetworkMode(d.Mode); err != nil {
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("unknown network mode %q, using slow mode", d.Mode))
		d.Mode = core.ModeSlow.String()
	}
	if d.ClientName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		d.ClientName = hostname
	}

	// ── Negotiation ──
	if cfg.Negotiation.Attempts <= 0 {
		return fmt.Errorf("%w: negotiation.attempts %d", core.ErrConfigInvalid, cfg.Negotiation.Attempts)
	}
	if cfg.Negotiation.Timeout <= 0 {
		return fmt.Errorf("%w: negotiation.timeout %s", core.ErrConfigInvalid, cfg.Negotiation.Timeout)
	}

	// ── Engine ──
	if cfg.Engine.PeriodSize == 0 || cfg.Engine.SampleRate == 0 {
		return fmt.Errorf("%w: engine period %d at %d Hz", core.ErrConfigInvalid, cfg.Engine.PeriodSize, cfg.Engine.SampleRate)
	}

	if cfg.Daemon.MaxConsecutiveFailures <= 0 {
		cfg.Daemon.MaxConsecutiveFailures = 8
	}
	return nil
}

// SessionRequest builds the parameters announced to the master.
func (cfg *GlobalConfig) SessionRequest() core.SessionParams {
	d := cfg.Driver
	mode, err := core.ParseNetworkMode(d.Mode)
	if err != nil {
		mode = core.ModeSlow
	}
	enc := core.Encoder{Kind: core.EncoderFloat}
	if d.CompressedKbps > 0 {
		enc = core.Encoder{Kind: core.EncoderFixedRate, KBps: d.CompressedKbps}
	}
	host, _ := os.Hostname()
	return core.SessionParams{
		Name:                d.ClientName,
		SlaveHost:           host,
		MTU:                 d.MTU,
		PeriodSize:          cfg.Engine.PeriodSize,
		SampleRate:          cfg.Engine.SampleRate,
		Encoder:             enc,
		SendAudioChannels:   d.InputPorts,
		ReturnAudioChannels: d.OutputPorts,
		SendMIDIChannels:    d.MIDIInPorts,
		ReturnMIDIChannels:  d.MIDIOutPorts,
		NetworkMode:         mode,
		TransportSync:       d.TransportSync,
		SlaveSyncMode:       cfg.Engine.SyncMode,
	}
}
