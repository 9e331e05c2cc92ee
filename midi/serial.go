package midi

import (
	"fmt"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"go.bug.st/serial"
)

// DefaultSerialBaud is the classic MIDI baud rate. USB serial bridges
// (hairless-midiserial style) usually run at 115200.
const DefaultSerialBaud = 31250

// SerialDriver reads raw MIDI bytes from a serial port, for controllers
// built on microcontrollers without USB-MIDI.
type SerialDriver struct {
	Baud        int
	ReadTimeout time.Duration
}

// NewSerial creates a serial driver; baud <= 0 selects DefaultSerialBaud.
func NewSerial(baud int) *SerialDriver {
	if baud <= 0 {
		baud = DefaultSerialBaud
	}
	return &SerialDriver{Baud: baud, ReadTimeout: time.Millisecond}
}

func (d *SerialDriver) Name() string { return "serial" }

func (d *SerialDriver) Inputs() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}

func (d *SerialDriver) Open(name string) (Port, error) {
	names, err := d.Inputs()
	if err != nil {
		return nil, err
	}
	picked, err := pickInput(names, name)
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(picked, &serial.Mode{BaudRate: d.Baud})
	if err != nil {
		return nil, fmt.Errorf("open serial %q: %w", picked, err)
	}
	if err := port.SetReadTimeout(d.ReadTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("serial %q: set read timeout: %w", picked, err)
	}
	return &serialPort{name: picked, port: port, buf: make([]byte, 256)}, nil
}

func (d *SerialDriver) Close() error { return nil }

type serialPort struct {
	name   string
	port   serial.Port
	buf    []byte
	parser StreamParser
}

func (p *serialPort) String() string { return p.name }

func (p *serialPort) Read() ([]midi.Message, error) {
	n, err := p.port.Read(p.buf)
	if err != nil {
		return nil, fmt.Errorf("read serial %q: %w", p.name, err)
	}
	if n == 0 {
		return nil, nil
	}
	return p.parser.Feed(p.buf[:n]), nil
}

func (p *serialPort) Close() error { return p.port.Close() }

// StreamParser turns a raw MIDI byte stream into messages. It understands
// running status and passes real-time bytes through as they arrive.
// System exclusive data is collected and emitted as one message.
type StreamParser struct {
	status byte
	data   []byte
	sysex  []byte
	inSysx bool
}

// Feed consumes b and returns every message completed by it.
func (sp *StreamParser) Feed(b []byte) []midi.Message {
	var out []midi.Message
	for _, c := range b {
		switch {
		case c >= 0xF8:
			out = append(out, midi.Message{c})
		case c == 0xF0:
			sp.inSysx = true
			sp.sysex = append(sp.sysex[:0], c)
		case c == 0xF7:
			if sp.inSysx {
				msg := make(midi.Message, len(sp.sysex)+1)
				copy(msg, sp.sysex)
				msg[len(sp.sysex)] = c
				out = append(out, msg)
			}
			sp.inSysx = false
		case c >= 0x80:
			sp.inSysx = false
			sp.status = c
			sp.data = sp.data[:0]
			if dataLen(c) == 0 {
				out = append(out, midi.Message{c})
				sp.status = 0
			}
		case sp.inSysx:
			sp.sysex = append(sp.sysex, c)
		case sp.status != 0:
			sp.data = append(sp.data, c)
			if len(sp.data) == dataLen(sp.status) {
				msg := make(midi.Message, 0, 3)
				msg = append(msg, sp.status)
				msg = append(msg, sp.data...)
				out = append(out, msg)
				sp.data = sp.data[:0]
				if sp.status >= 0xF0 {
					// system common messages do not set running status
					sp.status = 0
				}
			}
		}
	}
	return out
}
