package midi

import (
	"errors"
	"fmt"
	"strings"

	"gitlab.com/gomidi/midi/v2"
)

// ErrPortNotFound is returned by Driver.Open for an unknown port name.
var ErrPortNotFound = errors.New("midi input not found")

// Driver enumerates and opens MIDI inputs.
type Driver interface {
	Name() string
	// Inputs lists the names of the available input ports.
	Inputs() ([]string, error)
	// Open opens the named input. An empty name opens the first input.
	Open(name string) (Port, error)
	Close() error
}

// Port is an open MIDI input. Read never waits for input longer than the
// driver's own short poll; it returns no messages when nothing arrived.
type Port interface {
	Read() ([]midi.Message, error)
	Close() error
	String() string
}

// Inputs lists the input ports of d. It has no effect on any bridge.
func Inputs(d Driver) ([]string, error) {
	if d == nil {
		return nil, errors.New("midi: no driver")
	}
	return d.Inputs()
}

// pickInput resolves name against the available inputs: an exact match
// wins, then a case-insensitive substring match. Empty name picks the
// first input.
func pickInput(inputs []string, name string) (string, error) {
	if len(inputs) == 0 {
		return "", fmt.Errorf("%w: no inputs available", ErrPortNotFound)
	}
	if name == "" {
		return inputs[0], nil
	}
	for _, in := range inputs {
		if in == name {
			return in, nil
		}
	}
	needle := strings.ToLower(name)
	for _, in := range inputs {
		if strings.Contains(strings.ToLower(in), needle) {
			return in, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrPortNotFound, name)
}

// shortMessage builds a channel or system message from a status byte and
// up to two data bytes, trimmed to the length the status implies.
func shortMessage(status, data1, data2 byte) midi.Message {
	switch n := dataLen(status); n {
	case 0:
		return midi.Message{status}
	case 1:
		return midi.Message{status, data1}
	default:
		return midi.Message{status, data1, data2}
	}
}

// dataLen returns the number of data bytes that follow status, or -1 for
// system exclusive.
func dataLen(status byte) int {
	switch status & 0xF0 {
	case 0x80, 0x90, 0xA0, 0xB0, 0xE0:
		return 2
	case 0xC0, 0xD0:
		return 1
	}
	switch status {
	case 0xF0:
		return -1
	case 0xF1, 0xF3:
		return 1
	case 0xF2:
		return 2
	}
	return 0
}
