// Package portaudio is the PortAudio backend. Each engine it creates is an
// engine.Core rendered from a non-interleaved PortAudio stream callback.
package portaudio

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	pa "github.com/gordonklaus/portaudio"

	"github.com/azzeloof/oscar-language"
	"github.com/azzeloof/oscar-language/devices"
	"github.com/azzeloof/oscar-language/engine"
	"github.com/azzeloof/oscar-language/engine/spec"
)

// Backend opens PortAudio output streams.
type Backend struct {
	Prefs  spec.Preferences
	Logger *slog.Logger

	mu          sync.Mutex
	initialized bool
}

var _ oscar.Backend = (*Backend)(nil)

// New creates a backend that resolves streams from prefs.
func New(prefs spec.Preferences, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{Prefs: prefs, Logger: logger}
}

// Initialize initializes the PortAudio library.
func (b *Backend) Initialize() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initialized {
		return nil
	}
	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("portaudio initialize: %w", err)
	}
	b.initialized = true
	b.Logger.Debug("portaudio: initialized", "version", pa.VersionText())
	return nil
}

// Terminate releases the PortAudio library. Engines must be shut down first.
func (b *Backend) Terminate() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return nil
	}
	b.initialized = false
	if err := pa.Terminate(); err != nil {
		return fmt.Errorf("portaudio terminate: %w", err)
	}
	return nil
}

// ListDevices enumerates every PortAudio device.
func (b *Backend) ListDevices() (devices.AudioDevices, error) {
	infos, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio devices: %w", err)
	}
	def, _ := pa.DefaultOutputDevice()

	out := make(devices.AudioDevices, 0, len(infos))
	for _, info := range infos {
		out = append(out, convert(info, def))
	}
	return out, nil
}

func convert(info, def *pa.DeviceInfo) devices.AudioDevice {
	d := devices.AudioDevice{
		Index:             info.Index,
		Name:              info.Name,
		MaxInputChannels:  info.MaxInputChannels,
		MaxOutputChannels: info.MaxOutputChannels,
		DefaultSampleRate: info.DefaultSampleRate,
		IsDefaultOutput:   def != nil && def.Index == info.Index,
	}
	if info.HostApi != nil {
		d.HostAPI = info.HostApi.Name
	}
	return d
}

func findInfo(index int) (*pa.DeviceInfo, error) {
	infos, err := pa.Devices()
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		if info.Index == index {
			return info, nil
		}
	}
	return nil, fmt.Errorf("device %d disappeared", index)
}

// CreateEngine validates the device, opens and starts an output stream and
// returns the *engine.Core it renders.
func (b *Backend) CreateEngine(deviceIndex, numChannels int) (oscar.Engine, error) {
	devs, err := b.ListDevices()
	if err != nil {
		return nil, &oscar.DeviceInitError{Device: deviceIndex, Msg: "cannot enumerate devices", Err: err}
	}
	dev, err := engine.ValidateDevice(devs, deviceIndex, numChannels)
	if err != nil {
		return nil, err
	}
	info, err := findInfo(deviceIndex)
	if err != nil {
		return nil, &oscar.DeviceInitError{Device: deviceIndex, Msg: "invalid device index", Err: err}
	}

	prefs := b.Prefs
	prefs.Channels = numChannels
	st := spec.Resolve(prefs, dev)

	var params pa.StreamParameters
	if prefs.Latency == spec.LatencyHigh {
		params = pa.HighLatencyParameters(nil, info)
	} else {
		params = pa.LowLatencyParameters(nil, info)
	}
	params.Output.Channels = st.Channels
	params.SampleRate = st.SampleRate
	params.FramesPerBuffer = st.FramesPerBuffer

	core := engine.NewCore(engine.Options{
		Channels:   st.Channels,
		SampleRate: st.SampleRate,
		Logger:     b.Logger,
	})

	stream, err := pa.OpenStream(params, guardRender(core.Render, b.Logger))
	if err != nil {
		return nil, &oscar.DeviceInitError{Device: deviceIndex, Msg: "failed to open stream", Err: err}
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, &oscar.DeviceInitError{Device: deviceIndex, Msg: "failed to start stream", Err: err}
	}

	core.OnShutdown(func() error {
		if err := stream.Stop(); err != nil {
			stream.Close()
			return fmt.Errorf("stop stream: %w", err)
		}
		if err := stream.Close(); err != nil {
			return fmt.Errorf("close stream: %w", err)
		}
		return nil
	})

	b.Logger.Info("portaudio: stream started",
		"device", dev.Name,
		"channels", st.Channels,
		"sample_rate", st.SampleRate,
		"buffer", st.FramesPerBuffer,
		"latency", st.Latency(),
	)
	return core, nil
}

// guardRender wraps a stream callback so a panic silences the block instead
// of crashing the process. Only the first panic is logged.
func guardRender(render func(out [][]float32), logger *slog.Logger) func(out [][]float32) {
	var logged atomic.Bool
	return func(out [][]float32) {
		defer func() {
			if r := recover(); r != nil {
				for _, ch := range out {
					clear(ch)
				}
				if logged.CompareAndSwap(false, true) {
					logger.Error("portaudio: render panicked, output silenced", "panic", r)
				}
			}
		}()
		render(out)
	}
}
