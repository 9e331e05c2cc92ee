// Package mux merges the console, a set of listeners and every accepted
// client connection into one ordered stream of command lines delivered to
// a Sink.
//
// Each source has its own reader goroutine forwarding raw chunks to a
// single event loop. The loop owns every per-source Framer, so framing and
// command execution happen on one goroutine and commands from one source
// reach the sink in the order they were sent.
package mux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/azzeloof/oscar-language"
)

const (
	// StdinSource is the Command.Source of console lines.
	StdinSource = "stdin"

	DefaultReadBufferSize = 4096
	DefaultSlowCommand    = 300 * time.Millisecond
)

// Command is one framed line and the source it came from.
type Command struct {
	Source string
	Line   string
}

// Sink executes commands. It runs on the multiplexer loop; a returned
// error or a panic is reported to the error handler and the loop carries
// on.
type Sink interface {
	Exec(ctx context.Context, cmd Command) error
}

// SinkFunc adapts a function into a Sink.
type SinkFunc func(ctx context.Context, cmd Command) error

func (f SinkFunc) Exec(ctx context.Context, cmd Command) error { return f(ctx, cmd) }

// ConnectionFault reports a client connection that failed or sent
// something it should not have. Only that connection is affected.
type ConnectionFault struct {
	Conn   string
	Remote string
	Err    error
}

func (e *ConnectionFault) Error() string {
	return fmt.Sprintf("connection %s (%s): %v", e.Conn, e.Remote, e.Err)
}

func (e *ConnectionFault) Unwrap() error { return e.Err }

// CommandError reports a command the sink failed to execute.
type CommandError struct {
	Command Command
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %q: %v", e.Command.Source, e.Command.Line, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Options configures a Multiplexer.
type Options struct {
	// Stdin is the console source. Nil runs without one; the loop then
	// only stops on Shutdown or context cancellation.
	Stdin     io.Reader
	Listeners []net.Listener
	Sink      Sink

	ErrorHandler oscar.ErrorHandler
	Logger       *slog.Logger

	MaxLineBytes   int
	ReadBufferSize int
	// SlowCommand is the execution time above which a command is logged
	// as slow.
	SlowCommand time.Duration

	// OnShutdown runs after every source is closed, before Run returns.
	// The host uses it to stop all sound and release the engine.
	OnShutdown func() error
}

// Stats are counters maintained by the loop.
type Stats struct {
	Commands int64
	Failed   int64
	Accepted int64
	Open     int
	LastExec time.Duration
	MaxExec  time.Duration
}

type eventKind int

const (
	evAccept eventKind = iota
	evData
	evClosed
)

type event struct {
	kind eventKind
	src  *source
	conn net.Conn
	data []byte
	err  error
}

type source struct {
	id     string
	remote string
	conn   net.Conn
	framer *Framer
}

// Multiplexer is the event loop. Create it with New and drive it with Run.
type Multiplexer struct {
	opts Options

	events   chan event
	quit     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	ran      atomic.Bool
	wg       sync.WaitGroup

	stdin *source
	conns map[string]*source

	mu    sync.Mutex
	stats Stats
}

// New validates opts and returns a multiplexer ready to Run.
func New(opts Options) (*Multiplexer, error) {
	if opts.Sink == nil {
		return nil, errors.New("mux: nil sink")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ErrorHandler == nil {
		opts.ErrorHandler = &oscar.DefaultErrorHandler{Logger: opts.Logger}
	}
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = DefaultMaxLineBytes
	}
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = DefaultReadBufferSize
	}
	if opts.SlowCommand <= 0 {
		opts.SlowCommand = DefaultSlowCommand
	}
	return &Multiplexer{
		opts:   opts,
		events: make(chan event),
		quit:   make(chan struct{}),
		stop:   make(chan struct{}),
		conns:  make(map[string]*source),
	}, nil
}

// Shutdown asks Run to close every source and return. It does not wait.
func (m *Multiplexer) Shutdown() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Stats returns a snapshot of the loop counters.
func (m *Multiplexer) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Run services every source until stdin reaches end of stream, Shutdown is
// called or ctx is canceled. Before returning it closes every listener and
// connection, waits for their goroutines and calls OnShutdown. It returns
// ctx.Err() on cancellation, joined with any OnShutdown error.
func (m *Multiplexer) Run(ctx context.Context) error {
	if !m.ran.CompareAndSwap(false, true) {
		return errors.New("mux: Run called twice")
	}

	for _, l := range m.opts.Listeners {
		m.wg.Add(1)
		go m.accept(l)
		m.opts.Logger.Info("mux: listening", "addr", l.Addr().String())
	}
	if m.opts.Stdin != nil {
		m.stdin = &source{id: StdinSource, remote: StdinSource, framer: NewFramer(m.opts.MaxLineBytes)}
		// not tracked by wg: a console read cannot be interrupted
		go m.read(m.stdin, m.opts.Stdin)
	}

	runErr := m.loop(ctx)
	m.closeAll()

	if m.opts.OnShutdown != nil {
		if err := m.opts.OnShutdown(); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("shutdown hook: %w", err))
		}
	}
	return runErr
}

func (m *Multiplexer) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			m.opts.Logger.Info("mux: context canceled")
			return ctx.Err()
		case <-m.stop:
			m.opts.Logger.Info("mux: shutdown requested")
			return nil
		case ev := <-m.events:
			switch ev.kind {
			case evAccept:
				m.register(ev.conn)
			case evData:
				m.handleData(ctx, ev.src, ev.data)
			case evClosed:
				if ev.src == m.stdin {
					m.handleStdinEOF(ctx, ev.err)
					return nil
				}
				m.deregister(ev.src, ev.err)
			}
		}
	}
}

// send delivers ev to the loop unless the loop is gone.
func (m *Multiplexer) send(ev event) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.quit:
		return false
	}
}

func (m *Multiplexer) accept(l net.Listener) {
	defer m.wg.Done()
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-m.quit:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			m.opts.ErrorHandler.HandleError(fmt.Errorf("accept on %s: %w", l.Addr(), err))
			select {
			case <-time.After(50 * time.Millisecond):
			case <-m.quit:
				return
			}
			continue
		}
		if !m.send(event{kind: evAccept, conn: conn}) {
			conn.Close()
			return
		}
	}
}

func (m *Multiplexer) read(src *source, r io.Reader) {
	for {
		buf := make([]byte, m.opts.ReadBufferSize)
		n, err := r.Read(buf)
		if n > 0 {
			if !m.send(event{kind: evData, src: src, data: buf[:n]}) {
				return
			}
		}
		if err != nil {
			m.send(event{kind: evClosed, src: src, err: err})
			return
		}
	}
}

func (m *Multiplexer) register(conn net.Conn) {
	src := &source{
		id:     uuid.NewString(),
		remote: conn.RemoteAddr().String(),
		conn:   conn,
		framer: NewFramer(m.opts.MaxLineBytes),
	}
	m.conns[src.id] = src

	m.mu.Lock()
	m.stats.Accepted++
	m.stats.Open = len(m.conns)
	m.mu.Unlock()

	m.opts.Logger.Info("mux: client connected", "conn", src.id, "remote", src.remote)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.read(src, conn)
	}()
}

func (m *Multiplexer) deregister(src *source, cause error) {
	if _, ok := m.conns[src.id]; !ok {
		return
	}
	delete(m.conns, src.id)
	if n := src.framer.Pending(); n > 0 {
		m.opts.Logger.Debug("mux: discarding partial line", "conn", src.id, "bytes", n)
	}
	src.framer.Reset()
	src.conn.Close()

	m.mu.Lock()
	m.stats.Open = len(m.conns)
	m.mu.Unlock()

	if cause != nil && !errors.Is(cause, io.EOF) && !errors.Is(cause, net.ErrClosed) {
		m.opts.ErrorHandler.HandleError(&ConnectionFault{Conn: src.id, Remote: src.remote, Err: cause})
	}
	m.opts.Logger.Info("mux: client disconnected", "conn", src.id, "remote", src.remote)
}

func (m *Multiplexer) handleData(ctx context.Context, src *source, data []byte) {
	if src != m.stdin {
		if _, ok := m.conns[src.id]; !ok {
			return
		}
	}
	lines, err := src.framer.Feed(data)
	for _, line := range lines {
		m.exec(ctx, Command{Source: src.id, Line: line})
	}
	if err != nil {
		if src == m.stdin {
			m.opts.ErrorHandler.HandleError(fmt.Errorf("stdin: %w", err))
			return
		}
		m.opts.ErrorHandler.HandleError(&ConnectionFault{Conn: src.id, Remote: src.remote, Err: err})
	}
}

func (m *Multiplexer) handleStdinEOF(ctx context.Context, cause error) {
	if line, ok := m.stdin.framer.Flush(); ok {
		m.exec(ctx, Command{Source: StdinSource, Line: line})
	}
	if cause != nil && !errors.Is(cause, io.EOF) {
		m.opts.ErrorHandler.HandleError(fmt.Errorf("stdin: %w", cause))
	}
	m.opts.Logger.Info("mux: end of console input")
}

func (m *Multiplexer) exec(ctx context.Context, cmd Command) {
	start := time.Now()
	err := m.safeExec(ctx, cmd)
	d := time.Since(start)

	m.mu.Lock()
	m.stats.Commands++
	m.stats.LastExec = d
	if d > m.stats.MaxExec {
		m.stats.MaxExec = d
	}
	if err != nil {
		m.stats.Failed++
	}
	m.mu.Unlock()

	if err != nil {
		m.opts.ErrorHandler.HandleError(&CommandError{Command: cmd, Err: err})
	}
	if d > m.opts.SlowCommand {
		m.opts.Logger.Warn("mux: slow command", "source", cmd.Source, "line", cmd.Line, "took", d)
	}
}

func (m *Multiplexer) safeExec(ctx context.Context, cmd Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	return m.opts.Sink.Exec(ctx, cmd)
}

func (m *Multiplexer) closeAll() {
	close(m.quit)
	for _, l := range m.opts.Listeners {
		if err := l.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			m.opts.Logger.Warn("mux: close listener", "addr", l.Addr().String(), "err", err)
		}
	}
	for id, src := range m.conns {
		src.conn.Close()
		delete(m.conns, id)
	}
	m.wg.Wait()

	m.mu.Lock()
	m.stats.Open = 0
	m.mu.Unlock()
	m.opts.Logger.Info("mux: all sources closed")
}
