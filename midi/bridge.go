// Package midi turns a polled MIDI input into a stream of messages
// delivered to a handler, without the caller ever waiting on hardware.
//
// A Bridge runs two goroutines sharing an unbounded Queue: a listener that
// polls the input port at a fixed interval and pushes what it reads, and a
// parser that pops messages and calls the handler. The handler therefore
// never runs on the listener's schedule, and a slow handler only makes the
// queue grow.
package midi

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"gitlab.com/gomidi/midi/v2"

	"github.com/azzeloof/oscar-language"
)

const (
	DefaultPollInterval = time.Millisecond
	DefaultIdleTimeout  = 10 * time.Millisecond
)

// Handler receives each message on the parser goroutine.
type Handler func(midi.Message)

// HardwareError reports a failure to open or poll a MIDI port. The
// listener that hit it has exited.
type HardwareError struct {
	Port string
	Op   string
	Err  error
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("midi %s %q: %v", e.Op, e.Port, e.Err)
}

func (e *HardwareError) Unwrap() error { return e.Err }

// Options configures a Bridge.
type Options struct {
	Driver Driver
	// Port selects the input by name; empty opens the first input.
	Port string
	// PollInterval is the listener's polling period.
	PollInterval time.Duration
	// IdleTimeout bounds how long the parser waits on an empty queue
	// before checking whether it should stop.
	IdleTimeout  time.Duration
	ErrorHandler oscar.ErrorHandler
	Logger       *slog.Logger
}

// Bridge is a running listener/parser pair. Create it with Start.
type Bridge struct {
	opts    Options
	handler Handler
	queue   *Queue

	running      atomic.Bool
	listening    atomic.Bool
	done         chan struct{}
	listenerDone chan struct{}
	parserID     atomic.Uint64
	stopOnce     sync.Once
	wg           sync.WaitGroup

	portName  atomic.Value
	delivered atomic.Int64
}

// Start launches the listener, which opens the port, and the parser, which
// calls h. Open failures are reported to the
// error handler as *HardwareError and leave the bridge without a listener.
func Start(opts Options, h Handler) (*Bridge, error) {
	if opts.Driver == nil {
		return nil, errors.New("midi: no driver")
	}
	if h == nil {
		return nil, errors.New("midi: nil handler")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ErrorHandler == nil {
		opts.ErrorHandler = &oscar.DefaultErrorHandler{Logger: opts.Logger}
	}

	b := &Bridge{
		opts:    opts,
		handler: h,
		queue:   NewQueue(),
		done:    make(chan struct{}),

		listenerDone: make(chan struct{}),
	}
	b.portName.Store(opts.Port)
	b.running.Store(true)
	b.listening.Store(true)

	b.wg.Add(2)
	go b.listen()
	go b.parse()
	return b, nil
}

// Stop clears the running flag and waits for both goroutines to exit. No
// message is delivered after Stop returns; messages still queued are
// dropped. Called from the handler, Stop waits for the listener only and
// the parser exits once the handler returns.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.running.Store(false)
		close(b.done)
	})
	if goroutineID() == b.parserID.Load() {
		<-b.listenerDone
	} else {
		b.wg.Wait()
	}
	if n := b.queue.Clear(); n > 0 {
		b.opts.Logger.Debug("midi: dropped queued messages", "count", n)
	}
}

// Running reports whether Stop has not been called yet.
func (b *Bridge) Running() bool { return b.running.Load() }

// Listening reports whether the listener goroutine is still alive.
func (b *Bridge) Listening() bool { return b.listening.Load() }

// Port returns the name of the opened port, or the configured name before
// the port is open.
func (b *Bridge) Port() string {
	name, _ := b.portName.Load().(string)
	return name
}

// Delivered returns the number of messages handed to the handler.
func (b *Bridge) Delivered() int64 { return b.delivered.Load() }

// Pending returns the number of queued, undelivered messages.
func (b *Bridge) Pending() int { return b.queue.Len() }

func (b *Bridge) fail(op string, err error) {
	b.opts.ErrorHandler.HandleError(&HardwareError{Port: b.Port(), Op: op, Err: err})
}

func (b *Bridge) listen() {
	defer b.wg.Done()
	defer close(b.listenerDone)
	defer b.listening.Store(false)

	port, err := b.opts.Driver.Open(b.opts.Port)
	if err != nil {
		b.fail("open", err)
		return
	}
	b.portName.Store(port.String())
	b.opts.Logger.Info("midi: listening", "port", port.String(), "driver", b.opts.Driver.Name())

	defer func() {
		if err := port.Close(); err != nil {
			b.opts.Logger.Warn("midi: close failed", "port", port.String(), "err", err)
		}
		b.opts.Logger.Debug("midi: listener exited", "port", port.String())
	}()

	ticker := time.NewTicker(b.opts.PollInterval)
	defer ticker.Stop()
	for b.running.Load() {
		msgs, err := port.Read()
		if err != nil {
			b.fail("poll", err)
			return
		}
		for _, msg := range msgs {
			b.queue.Push(msg)
		}
		select {
		case <-ticker.C:
		case <-b.done:
			return
		}
	}
}

func (b *Bridge) parse() {
	defer b.wg.Done()
	b.parserID.Store(goroutineID())
	for b.running.Load() {
		msg, ok := b.queue.Pop(b.done, b.opts.IdleTimeout)
		if !ok || !b.running.Load() {
			continue
		}
		b.deliver(msg)
	}
}

func (b *Bridge) deliver(msg midi.Message) {
	defer func() {
		if r := recover(); r != nil {
			b.opts.ErrorHandler.HandleError(fmt.Errorf("midi handler panicked on %v: %v", msg, r))
		}
	}()
	b.handler(msg)
	b.delivered.Add(1)
}

// goroutineID reads the current goroutine's id from its stack header,
// "goroutine 42 [running]:". It returns 0 if the header cannot be parsed.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	field := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(field, ' '); i > 0 {
		id, err := strconv.ParseUint(string(field[:i]), 10, 64)
		if err == nil {
			return id
		}
	}
	return 0
}
