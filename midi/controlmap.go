package midi

import (
	"errors"
	"sync"

	"gitlab.com/gomidi/midi/v2"

	"github.com/azzeloof/oscar-language"
	"github.com/azzeloof/oscar-language/control"
)

// Omni matches a controller on every MIDI channel.
const Omni = -1

// CC identifies a controller on a channel (0-15, or Omni).
type CC struct {
	Channel    int
	Controller uint8
}

// ControlMap maps control-change messages to controls. A mapped control
// is updated with the controller value scaled to [0,1].
type ControlMap struct {
	mu       sync.RWMutex
	controls map[CC]*control.Control[float64]
}

// NewControlMap creates an empty map.
func NewControlMap() *ControlMap {
	return &ControlMap{controls: make(map[CC]*control.Control[float64])}
}

// Control returns the control for cc, creating it on first use.
func (m *ControlMap) Control(cc CC) *control.Control[float64] {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.controls[cc]
	if !ok {
		c = control.New(0.0)
		m.controls[cc] = c
	}
	return c
}

// Lookup returns the control for cc if one exists.
func (m *ControlMap) Lookup(cc CC) (*control.Control[float64], bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.controls[cc]
	return c, ok
}

// Remove drops the control for cc.
func (m *ControlMap) Remove(cc CC) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.controls, cc)
}

// Mapped lists every mapped controller.
func (m *ControlMap) Mapped() []CC {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CC, 0, len(m.controls))
	for cc := range m.controls {
		out = append(out, cc)
	}
	return out
}

// Handle updates the controls matching a control-change message: the one
// for its exact channel and the Omni one. Other messages are ignored.
func (m *ControlMap) Handle(msg midi.Message) error {
	var ch, cc, val uint8
	if !msg.GetControlChange(&ch, &cc, &val) {
		return nil
	}
	v := float64(val) / 127

	var targets []*control.Control[float64]
	m.mu.RLock()
	if c, ok := m.controls[CC{Channel: int(ch), Controller: cc}]; ok {
		targets = append(targets, c)
	}
	if c, ok := m.controls[CC{Channel: Omni, Controller: cc}]; ok {
		targets = append(targets, c)
	}
	m.mu.RUnlock()

	var errs []error
	for _, c := range targets {
		errs = append(errs, c.Update(v))
	}
	return errors.Join(errs...)
}

// Handler adapts the map into a bridge Handler; update errors go to eh.
func (m *ControlMap) Handler(eh oscar.ErrorHandler) Handler {
	return func(msg midi.Message) {
		if err := m.Handle(msg); err != nil && eh != nil {
			eh.HandleError(err)
		}
	}
}
