package midi

import (
	"fmt"
	"sync"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// RtMidiDriver reads inputs through gomidi's rtmidi driver. Incoming
// messages are delivered by a gomidi listener and buffered until the next
// Read.
type RtMidiDriver struct {
	drv *rtmididrv.Driver
}

// NewRtMidi creates the rtmidi driver.
func NewRtMidi() (*RtMidiDriver, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("rtmididrv: %w", err)
	}
	return &RtMidiDriver{drv: drv}, nil
}

func (d *RtMidiDriver) Name() string { return "rtmidi" }

func (d *RtMidiDriver) ins() ([]drivers.In, []string, error) {
	ins, err := d.drv.Ins()
	if err != nil {
		return nil, nil, fmt.Errorf("list inputs: %w", err)
	}
	names := make([]string, len(ins))
	for i, in := range ins {
		names[i] = in.String()
	}
	return ins, names, nil
}

func (d *RtMidiDriver) Inputs() ([]string, error) {
	_, names, err := d.ins()
	return names, err
}

func (d *RtMidiDriver) Open(name string) (Port, error) {
	ins, names, err := d.ins()
	if err != nil {
		return nil, err
	}
	picked, err := pickInput(names, name)
	if err != nil {
		return nil, err
	}
	var found drivers.In
	for i, n := range names {
		if n == picked {
			found = ins[i]
			break
		}
	}
	if err := found.Open(); err != nil {
		return nil, fmt.Errorf("open %q: %w", picked, err)
	}

	p := &rtMidiPort{name: picked, in: found}
	stop, err := midi.ListenTo(found, func(msg midi.Message, _ int32) {
		cp := make(midi.Message, len(msg))
		copy(cp, msg)
		p.mu.Lock()
		p.buf = append(p.buf, cp)
		p.mu.Unlock()
	}, midi.HandleError(func(listenErr error) {
		p.mu.Lock()
		p.err = listenErr
		p.mu.Unlock()
	}))
	if err != nil {
		_ = found.Close()
		return nil, fmt.Errorf("listen %q: %w", picked, err)
	}
	p.stop = stop
	return p, nil
}

func (d *RtMidiDriver) Close() error {
	return d.drv.Close()
}

type rtMidiPort struct {
	name string
	in   drivers.In
	stop func()

	mu  sync.Mutex
	buf []midi.Message
	err error
}

func (p *rtMidiPort) String() string { return p.name }

func (p *rtMidiPort) Read() ([]midi.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, fmt.Errorf("listen %q: %w", p.name, p.err)
	}
	msgs := p.buf
	p.buf = nil
	return msgs, nil
}

func (p *rtMidiPort) Close() error {
	if p.stop != nil {
		p.stop()
	}
	return p.in.Close()
}
