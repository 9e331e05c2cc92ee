package engine

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/azzeloof/oscar-language"
	"github.com/azzeloof/oscar-language/devices"
)

// ValidateDevice looks up index in devs and checks it can play numChannels
// output channels. Failures are *oscar.DeviceInitError.
func ValidateDevice(devs devices.AudioDevices, index, numChannels int) (*devices.AudioDevice, error) {
	dev := devs.ByIndex(index)
	if dev == nil {
		return nil, &oscar.DeviceInitError{Device: index, Msg: "invalid device index"}
	}
	if dev.MaxOutputChannels == 0 {
		return nil, &oscar.DeviceInitError{Device: index, Msg: "device has no output channels"}
	}
	if numChannels <= 0 {
		return nil, &oscar.DeviceInitError{Device: index, Msg: "requested channel count must be positive"}
	}
	if numChannels > dev.MaxOutputChannels {
		return nil, &oscar.DeviceInitError{Device: index, Msg: "device does not support requested number of output channels"}
	}
	return dev, nil
}

// Null is a backend without audio hardware. Its engines are plain Cores
// that only render when Render is called, which makes it the backend of
// choice for tests and headless sessions.
type Null struct {
	Devices    devices.AudioDevices
	SampleRate float64
	Logger     *slog.Logger

	mu          sync.Mutex
	initialized bool
}

var _ oscar.Backend = (*Null)(nil)

// NullDevices is the device list used when Null.Devices is empty.
var NullDevices = devices.AudioDevices{
	{Index: 0, Name: "null", HostAPI: "null", MaxOutputChannels: 8, DefaultSampleRate: 48000, IsDefaultOutput: true},
}

// NewNull creates a Null backend exposing NullDevices.
func NewNull() *Null {
	return &Null{}
}

func (n *Null) Initialize() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.initialized = true
	return nil
}

func (n *Null) Terminate() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.initialized = false
	return nil
}

func (n *Null) ready() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.initialized {
		return errors.New("null backend not initialized")
	}
	return nil
}

func (n *Null) ListDevices() (devices.AudioDevices, error) {
	if err := n.ready(); err != nil {
		return nil, err
	}
	if len(n.Devices) > 0 {
		return n.Devices, nil
	}
	return NullDevices, nil
}

// CreateEngine returns a *Core with numChannels outputs.
func (n *Null) CreateEngine(deviceIndex, numChannels int) (oscar.Engine, error) {
	devs, err := n.ListDevices()
	if err != nil {
		return nil, &oscar.DeviceInitError{Device: deviceIndex, Msg: "backend unavailable", Err: err}
	}
	dev, err := ValidateDevice(devs, deviceIndex, numChannels)
	if err != nil {
		return nil, err
	}
	rate := n.SampleRate
	if rate <= 0 {
		rate = dev.DefaultSampleRate
	}
	return NewCore(Options{Channels: numChannels, SampleRate: rate, Logger: n.Logger}), nil
}
