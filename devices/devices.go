// Package devices holds the value types returned by audio device
// enumeration, with helpers for filtering and lookup. Enumeration itself is
// done by an audio backend.
package devices

import (
	"fmt"
	"strings"
)

// AudioDevice describes one device reported by a backend.
type AudioDevice struct {
	Index             int     `json:"index"`
	Name              string  `json:"name"`
	HostAPI           string  `json:"hostApi,omitempty"`
	MaxInputChannels  int     `json:"maxInputChannels"`
	MaxOutputChannels int     `json:"maxOutputChannels"`
	DefaultSampleRate float64 `json:"defaultSampleRate"`
	IsDefaultOutput   bool    `json:"isDefaultOutput"`
}

// Helper methods for capability checking
func (a AudioDevice) CanInput() bool {
	return a.MaxInputChannels > 0
}

func (a AudioDevice) CanOutput() bool {
	return a.MaxOutputChannels > 0
}

func (a AudioDevice) String() string {
	return fmt.Sprintf("%d: '%s' (%d channels)", a.Index, a.Name, a.MaxOutputChannels)
}

// AudioDevices represents a slice of AudioDevice with filter methods
type AudioDevices []AudioDevice

// Outputs returns only devices that can play audio
func (devices AudioDevices) Outputs() AudioDevices {
	var outputs AudioDevices
	for _, device := range devices {
		if device.CanOutput() {
			outputs = append(outputs, device)
		}
	}
	return outputs
}

// ByIndex returns the device with the given backend index, or nil.
func (devices AudioDevices) ByIndex(index int) *AudioDevice {
	for i := range devices {
		if devices[i].Index == index {
			return &devices[i]
		}
	}
	return nil
}

// ByName returns the first device whose name contains name
// (case-insensitive), or nil.
func (devices AudioDevices) ByName(name string) *AudioDevice {
	needle := strings.ToLower(name)
	for i := range devices {
		if strings.Contains(strings.ToLower(devices[i].Name), needle) {
			return &devices[i]
		}
	}
	return nil
}

// DefaultOutput returns the device flagged as default output, falling back
// to the first output-capable device. It returns nil when there is none.
func (devices AudioDevices) DefaultOutput() *AudioDevice {
	outputs := devices.Outputs()
	for i := range outputs {
		if outputs[i].IsDefaultOutput {
			return &outputs[i]
		}
	}
	if len(outputs) > 0 {
		return &outputs[0]
	}
	return nil
}
