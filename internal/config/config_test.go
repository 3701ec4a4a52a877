package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"firestige.xyz/netslave/internal/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
netslave:
  driver:
    multicast_ip: "239.1.2.3"
    udp_port: 19500
    mtu: 1400
    input_ports: 4
    output_ports: 2
    midi_in_ports: 1
    compressed_kbps: 256
    client_name: "stage-left"
    transport_sync: false
    mode: "fast"
  negotiation:
    attempts: 3
    timeout: "250ms"
  engine:
    period_size: 64
    sample_rate: 44100
    sync_mode: true
  control:
    socket: "/tmp/netslave.sock"
    pid_file: "/tmp/netslave.pid"
  log:
    level: "debug"
    format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Driver.MulticastIP != "239.1.2.3" {
		t.Errorf("Expected multicast ip 239.1.2.3, got %s", cfg.Driver.MulticastIP)
	}
	if cfg.Driver.UDPPort != 19500 {
		t.Errorf("Expected udp port 19500, got %d", cfg.Driver.UDPPort)
	}
	if cfg.Negotiation.Timeout != 250*time.Millisecond {
		t.Errorf("Expected negotiation timeout 250ms, got %s", cfg.Negotiation.Timeout)
	}
	if cfg.Control.Socket != "/tmp/netslave.sock" {
		t.Errorf("Expected socket /tmp/netslave.sock, got %s", cfg.Control.Socket)
	}
	if len(cfg.Warnings) != 0 {
		t.Errorf("Expected no warnings, got %v", cfg.Warnings)
	}

	req := cfg.SessionRequest()
	if req.Name != "stage-left" {
		t.Errorf("Expected name stage-left, got %s", req.Name)
	}
	if req.NetworkMode != core.ModeFast {
		t.Errorf("Expected fast mode, got %s", req.NetworkMode)
	}
	if req.Encoder != (core.Encoder{Kind: core.EncoderFixedRate, KBps: 256}) {
		t.Errorf("Expected fixed-rate 256 kbps encoder, got %s", req.Encoder)
	}
	if req.SendAudioChannels != 4 || req.ReturnAudioChannels != 2 || req.SendMIDIChannels != 1 {
		t.Errorf("Unexpected channel counts %+v", req)
	}
	if req.PeriodSize != 64 || req.SampleRate != 44100 || !req.SlaveSyncMode {
		t.Errorf("Unexpected engine placeholders %+v", req)
	}
	if req.TransportSync {
		t.Errorf("Expected transport sync off")
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
netslave:
  driver:
    client_name: "box"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Driver.MulticastIP != "225.3.19.154" {
		t.Errorf("Expected default multicast ip, got %s", cfg.Driver.MulticastIP)
	}
	if cfg.Driver.UDPPort != 19000 {
		t.Errorf("Expected default udp port 19000, got %d", cfg.Driver.UDPPort)
	}
	if cfg.Driver.MTU != 1500 {
		t.Errorf("Expected default mtu 1500, got %d", cfg.Driver.MTU)
	}
	if cfg.Driver.InputPorts != core.Unspecified || cfg.Driver.OutputPorts != core.Unspecified {
		t.Errorf("Expected unspecified audio ports, got %d/%d", cfg.Driver.InputPorts, cfg.Driver.OutputPorts)
	}
	if !cfg.Driver.TransportSync {
		t.Errorf("Expected transport sync on by default")
	}
	if cfg.Negotiation.Attempts != 5 || cfg.Negotiation.Timeout != time.Second {
		t.Errorf("Unexpected negotiation defaults %+v", cfg.Negotiation)
	}
	if cfg.Engine.PeriodSize != 128 || cfg.Engine.SampleRate != 48000 || !cfg.Engine.Loopback {
		t.Errorf("Unexpected engine defaults %+v", cfg.Engine)
	}
	if cfg.Daemon.MaxConsecutiveFailures != 8 {
		t.Errorf("Expected 8 consecutive failures, got %d", cfg.Daemon.MaxConsecutiveFailures)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("Unexpected log defaults %+v", cfg.Log)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Listen != ":9091" {
		t.Errorf("Unexpected metrics defaults %+v", cfg.Metrics)
	}

	req := cfg.SessionRequest()
	if req.Encoder.Kind != core.EncoderFloat {
		t.Errorf("Expected float encoder by default, got %s", req.Encoder)
	}
	if req.NetworkMode != core.ModeSlow {
		t.Errorf("Expected slow mode by default, got %s", req.NetworkMode)
	}
}

func TestLoadUnknownModeWarns(t *testing.T) {
	path := writeConfig(t, `
netslave:
  driver:
    mode: "ludicrous"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Driver.Mode != "slow" {
		t.Errorf("Expected fallback to slow mode, got %s", cfg.Driver.Mode)
	}
	if len(cfg.Warnings) != 1 {
		t.Errorf("Expected one warning, got %v", cfg.Warnings)
	}
}

func TestLoadHostnameDefault(t *testing.T) {
	path := writeConfig(t, `
netslave:
  log:
    level: "warn"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	host, _ := os.Hostname()
	if cfg.Driver.ClientName != host {
		t.Errorf("Expected client name %s, got %s", host, cfg.Driver.ClientName)
	}
}

func TestLoadInvalidLogLevel(t *testing.T) {
	path := writeConfig(t, `
netslave:
  log:
    level: "invalid"
`)

	if _, err := Load(path); err == nil {
		t.Error("Expected error for invalid log level, got nil")
	}
}

func TestLoadFileLogLevel(t *testing.T) {
	path := writeConfig(t, `
netslave:
  log:
    level: "info"
    file:
      enabled: true
      filename: "/tmp/netslave.log"
      level: "debug"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Log.File.Level != "debug" || cfg.Log.Level != "info" {
		t.Errorf("log levels = console %q, file %q", cfg.Log.Level, cfg.Log.File.Level)
	}

	path = writeConfig(t, `
netslave:
  log:
    file:
      level: "chatty"
`)
	if _, err := Load(path); err == nil {
		t.Error("Expected error for invalid file log level, got nil")
	}
}

func TestLoadInvalidLogFormat(t *testing.T) {
	path := writeConfig(t, `
netslave:
  log:
    format: "xml"
`)

	if _, err := Load(path); err == nil {
		t.Error("Expected error for invalid log format, got nil")
	}
}

func TestLoadRejectsTinyMTU(t *testing.T) {
	path := writeConfig(t, `
netslave:
  driver:
    mtu: 40
`)

	if _, err := Load(path); err == nil {
		t.Error("Expected error for mtu below header overhead, got nil")
	}
}

func TestLoadRejectsBadPortCount(t *testing.T) {
	path := writeConfig(t, `
netslave:
  driver:
    input_ports: -3
`)

	if _, err := Load(path); err == nil {
		t.Error("Expected error for negative port count, got nil")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, `
netslave:
  driver:
    mtu: 1500
`)

	t.Setenv("NETSLAVE_DRIVER_MTU", "9000")
	t.Setenv("NETSLAVE_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Driver.MTU != 9000 {
		t.Errorf("Expected mtu 9000 from env var, got %d", cfg.Driver.MTU)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level debug from env var, got %s", cfg.Log.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Error("Expected error for missing file, got nil")
	}
}
