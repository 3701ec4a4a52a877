package driver

import (
	"firestige.xyz/netslave/internal/core"
	"firestige.xyz/netslave/internal/cycle"
	"firestige.xyz/netslave/internal/replicator"
)

// ParamsView is SessionParams rendered for the control plane.
type ParamsView struct {
	Name          string `json:"name"`
	SlaveHost     string `json:"slave_host"`
	MTU           int    `json:"mtu"`
	PeriodSize    uint32 `json:"period_size"`
	SampleRate    uint32 `json:"sample_rate"`
	Encoder       string `json:"encoder"`
	AudioCapture  int    `json:"audio_capture"`
	AudioPlayback int    `json:"audio_playback"`
	MIDICapture   int    `json:"midi_capture"`
	MIDIPlayback  int    `json:"midi_playback"`
	NetworkMode   string `json:"network_mode"`
	TransportSync bool   `json:"transport_sync"`
	SlaveSyncMode bool   `json:"slave_sync_mode"`
}

// Status is a point-in-time view of the driver.
type Status struct {
	State     State               `json:"state"`
	Params    *ParamsView         `json:"params,omitempty"`
	Ports     int                 `json:"ports"`
	Restarts  int                 `json:"restarts"`
	Cycle     cycle.Stats         `json:"cycle"`
	Transport replicator.Snapshot `json:"transport"`
}

// Status returns the driver view. Like every other method it must not race
// with Read and Write.
func (d *Driver) Status() Status {
	st := Status{
		State:     d.state,
		Ports:     d.ports.Live(),
		Restarts:  d.restarts,
		Transport: d.replicator.Snapshot(),
	}
	if d.sync != nil {
		st.Cycle = d.sync.Stats()
	}
	if d.state == StateInitialized || d.state == StateRunning {
		st.Params = viewParams(d.params)
	}
	return st
}

func viewParams(p core.SessionParams) *ParamsView {
	return &ParamsView{
		Name:          p.Name,
		SlaveHost:     p.SlaveHost,
		MTU:           p.MTU,
		PeriodSize:    p.PeriodSize,
		SampleRate:    p.SampleRate,
		Encoder:       p.Encoder.String(),
		AudioCapture:  p.SendAudioChannels,
		AudioPlayback: p.ReturnAudioChannels,
		MIDICapture:   p.SendMIDIChannels,
		MIDIPlayback:  p.ReturnMIDIChannels,
		NetworkMode:   p.NetworkMode.String(),
		TransportSync: p.TransportSync,
		SlaveSyncMode: p.SlaveSyncMode,
	}
}
