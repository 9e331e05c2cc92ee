package oscar

import (
	"github.com/azzeloof/oscar-language/devices"
)

// Backend is the audio library an Engine is created from. Initialize must be
// called before any other method and Terminate once the last Engine has been
// shut down.
type Backend interface {
	Initialize() error
	Terminate() error

	// ListDevices enumerates the audio devices the backend can open.
	ListDevices() (devices.AudioDevices, error)

	// CreateEngine opens deviceIndex with numChannels output channels and
	// starts rendering. Failures are reported as *DeviceInitError.
	CreateEngine(deviceIndex, numChannels int) (Engine, error)
}

// Engine is the real-time audio engine that owns all synth, patch and master
// state. Proxies hold names only; every read and write goes through here.
//
// Implementations must be safe for concurrent use from non-real-time
// goroutines.
type Engine interface {
	// GetOrCreateSynth returns the named synth, creating it with table when
	// it does not exist yet. An existing synth keeps its current table.
	GetOrCreateSynth(name string, table []float32) error
	// GetOrCreatePatch routes synth into channels under name. The synth must
	// already exist (ErrUnknownSynth otherwise). An existing patch is
	// returned unchanged.
	GetOrCreatePatch(name, synth string, channels []int) error
	DeleteSynth(name string) error
	DeletePatch(name string) error

	StartSynth(name string) error
	StopSynth(name string) error
	IsPlaying(name string) (bool, error)
	Frequency(name string) (float64, error)
	SetFrequency(name string, hz float64) error
	Amplitude(name string) (float64, error)
	SetAmplitude(name string, amp float64) error
	PhaseOffset(name string) (float64, error)
	SetPhaseOffset(name string, offset float64) error
	UpdateWavetable(name string, table []float32) error

	PatchSynth(name string) (string, error)
	SetPatchSynth(name, synth string) error
	PatchChannels(name string) ([]int, error)
	SetPatchChannels(name string, channels []int) error

	MasterVolume() (float64, error)
	SetMasterVolume(v float64) error
	Synths() ([]string, error)
	Patches() ([]string, error)
	StopAll() error

	// Shutdown releases the audio stream and every resource. It may only be
	// called once; subsequent calls return ErrEngineShutdown.
	Shutdown() error
}
