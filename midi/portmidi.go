package midi

import (
	"fmt"
	"sync"

	"github.com/rakyll/portmidi"
	"gitlab.com/gomidi/midi/v2"
)

const portMidiBufferSize = 1024

// PortMidiDriver reads inputs through PortMidi. The library is initialized
// on first use and terminated by Close.
type PortMidiDriver struct {
	mu          sync.Mutex
	initialized bool
}

// NewPortMidi creates a PortMidi driver.
func NewPortMidi() *PortMidiDriver {
	return &PortMidiDriver{}
}

func (d *PortMidiDriver) Name() string { return "portmidi" }

func (d *PortMidiDriver) init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initialized {
		return nil
	}
	if err := portmidi.Initialize(); err != nil {
		return fmt.Errorf("portmidi initialize: %w", err)
	}
	d.initialized = true
	return nil
}

func (d *PortMidiDriver) inputs() (map[string]portmidi.DeviceID, []string, error) {
	if err := d.init(); err != nil {
		return nil, nil, err
	}
	ids := make(map[string]portmidi.DeviceID)
	var names []string
	for i := 0; i < portmidi.CountDevices(); i++ {
		info := portmidi.Info(portmidi.DeviceID(i))
		if info == nil || !info.IsInputAvailable {
			continue
		}
		if _, dup := ids[info.Name]; dup {
			continue
		}
		ids[info.Name] = portmidi.DeviceID(i)
		names = append(names, info.Name)
	}
	return ids, names, nil
}

func (d *PortMidiDriver) Inputs() ([]string, error) {
	_, names, err := d.inputs()
	return names, err
}

func (d *PortMidiDriver) Open(name string) (Port, error) {
	ids, names, err := d.inputs()
	if err != nil {
		return nil, err
	}
	picked, err := pickInput(names, name)
	if err != nil {
		return nil, err
	}
	stream, err := portmidi.NewInputStream(ids[picked], portMidiBufferSize)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", picked, err)
	}
	return &portMidiPort{name: picked, stream: stream}, nil
}

func (d *PortMidiDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return nil
	}
	d.initialized = false
	return portmidi.Terminate()
}

type portMidiPort struct {
	name   string
	stream *portmidi.Stream
}

func (p *portMidiPort) String() string { return p.name }

func (p *portMidiPort) Read() ([]midi.Message, error) {
	ready, err := p.stream.Poll()
	if err != nil {
		return nil, fmt.Errorf("poll %q: %w", p.name, err)
	}
	if !ready {
		return nil, nil
	}
	events, err := p.stream.Read(portMidiBufferSize)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", p.name, err)
	}
	msgs := make([]midi.Message, 0, len(events))
	for _, ev := range events {
		msgs = append(msgs, shortMessage(byte(ev.Status), byte(ev.Data1), byte(ev.Data2)))
	}
	return msgs, nil
}

func (p *portMidiPort) Close() error {
	return p.stream.Close()
}
