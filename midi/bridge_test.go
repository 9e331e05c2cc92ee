package midi

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"

	"github.com/azzeloof/oscar-language/internal/testutil"
)

type fakePort struct {
	mu      sync.Mutex
	pending []midi.Message
	readErr error
	closed  atomic.Bool
}

func (p *fakePort) inject(msgs ...midi.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, msgs...)
}

func (p *fakePort) failWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErr = err
}

func (p *fakePort) Read() ([]midi.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readErr != nil {
		return nil, p.readErr
	}
	msgs := p.pending
	p.pending = nil
	return msgs, nil
}

func (p *fakePort) Close() error {
	p.closed.Store(true)
	return nil
}

func (p *fakePort) String() string { return "fake in" }

type fakeDriver struct {
	port    *fakePort
	openErr error
}

func (d *fakeDriver) Name() string              { return "fake" }
func (d *fakeDriver) Inputs() ([]string, error) { return []string{"fake in"}, nil }
func (d *fakeDriver) Close() error              { return nil }

func (d *fakeDriver) Open(name string) (Port, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	return d.port, nil
}

func ccMessages(n int) []midi.Message {
	msgs := make([]midi.Message, n)
	for i := range msgs {
		msgs[i] = midi.ControlChange(0, 7, uint8(i%128))
	}
	return msgs
}

func startBridge(t *testing.T, d Driver, h Handler) (*Bridge, *testutil.ErrorRecorder) {
	t.Helper()
	rec := &testutil.ErrorRecorder{}
	b, err := Start(Options{
		Driver:       d,
		ErrorHandler: rec,
		Logger:       testutil.DiscardLogger(),
	}, h)
	require.NoError(t, err)
	t.Cleanup(b.Stop)
	return b, rec
}

func TestBridge_DeliversInOrder(t *testing.T) {
	port := &fakePort{}
	var mu sync.Mutex
	var got []uint8
	b, _ := startBridge(t, &fakeDriver{port: port}, func(msg midi.Message) {
		var ch, cc, val uint8
		if !msg.GetControlChange(&ch, &cc, &val) {
			t.Errorf("unexpected message %v", msg)
		}
		mu.Lock()
		got = append(got, val)
		mu.Unlock()
	})

	port.inject(ccMessages(100)...)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 100
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	for i, v := range got {
		assert.Equal(t, uint8(i), v)
	}
	mu.Unlock()
	assert.Equal(t, "fake in", b.Port())
	assert.Equal(t, int64(100), b.Delivered())
}

func TestBridge_NoDeliveryAfterStop(t *testing.T) {
	port := &fakePort{}
	var calls atomic.Int64
	b, _ := startBridge(t, &fakeDriver{port: port}, func(midi.Message) {
		time.Sleep(200 * time.Microsecond)
		calls.Add(1)
	})

	port.inject(ccMessages(1000)...)
	assert.Eventually(t, func() bool { return calls.Load() > 0 }, 2*time.Second, time.Millisecond)

	b.Stop()
	after := calls.Load()
	assert.False(t, b.Running())
	assert.False(t, b.Listening())
	assert.True(t, port.closed.Load(), "listener must release the port")

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, calls.Load())
	assert.Zero(t, b.Pending())
}

func TestBridge_StopIsIdempotent(t *testing.T) {
	b, _ := startBridge(t, &fakeDriver{port: &fakePort{}}, func(midi.Message) {})
	b.Stop()
	b.Stop()
	assert.False(t, b.Running())
}

func TestBridge_StopFromHandler(t *testing.T) {
	port := &fakePort{}
	var (
		bridge atomic.Pointer[Bridge]
		calls  atomic.Int64
	)
	stopped := make(chan struct{})
	b, _ := startBridge(t, &fakeDriver{port: port}, func(midi.Message) {
		if calls.Add(1) == 1 {
			bridge.Load().Stop()
			close(stopped)
		}
	})
	bridge.Store(b)

	port.inject(ccMessages(10)...)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop called from the handler did not return")
	}

	assert.Eventually(t, func() bool { return !b.Listening() }, time.Second, time.Millisecond)
	b.Stop()
	assert.Equal(t, int64(1), calls.Load())
	assert.True(t, port.closed.Load())
}

func TestGoroutineID(t *testing.T) {
	here := goroutineID()
	assert.NotZero(t, here)
	assert.Equal(t, here, goroutineID())

	other := make(chan uint64)
	go func() { other <- goroutineID() }()
	assert.NotEqual(t, here, <-other)
}

func TestBridge_OpenFailure(t *testing.T) {
	openErr := errors.New("no such device")
	b, rec := startBridge(t, &fakeDriver{openErr: openErr}, func(midi.Message) {
		t.Error("handler must not run")
	})

	assert.Eventually(t, func() bool { return !b.Listening() }, time.Second, time.Millisecond)
	require.Equal(t, 1, rec.Len())

	var hwErr *HardwareError
	require.ErrorAs(t, rec.Errors()[0], &hwErr)
	assert.Equal(t, "open", hwErr.Op)
	assert.ErrorIs(t, hwErr, openErr)
	assert.True(t, b.Running(), "a dead listener does not stop the bridge")
}

func TestBridge_PollFailure(t *testing.T) {
	port := &fakePort{}
	b, rec := startBridge(t, &fakeDriver{port: port}, func(midi.Message) {})

	port.failWith(errors.New("unplugged"))
	assert.Eventually(t, func() bool { return !b.Listening() }, time.Second, time.Millisecond)
	assert.True(t, port.closed.Load())

	var hwErr *HardwareError
	require.ErrorAs(t, rec.Errors()[0], &hwErr)
	assert.Equal(t, "poll", hwErr.Op)
	assert.Equal(t, "fake in", hwErr.Port)
}

func TestBridge_HandlerPanicIsRecovered(t *testing.T) {
	port := &fakePort{}
	var calls atomic.Int64
	_, rec := startBridge(t, &fakeDriver{port: port}, func(midi.Message) {
		if calls.Add(1) == 1 {
			panic("bad handler")
		}
	})

	port.inject(ccMessages(3)...)
	assert.Eventually(t, func() bool { return calls.Load() == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, rec.Len())
}

func TestStart_Validation(t *testing.T) {
	_, err := Start(Options{}, func(midi.Message) {})
	assert.Error(t, err)

	_, err = Start(Options{Driver: &fakeDriver{}}, nil)
	assert.Error(t, err)
}

func TestInputs(t *testing.T) {
	names, err := Inputs(&fakeDriver{})
	require.NoError(t, err)
	assert.Equal(t, []string{"fake in"}, names)

	_, err = Inputs(nil)
	assert.Error(t, err)
}

func TestPickInput(t *testing.T) {
	inputs := []string{"Midi Through Port-0", "Launchkey MK3 MIDI 1", "nanoKONTROL2"}

	got, err := pickInput(inputs, "")
	require.NoError(t, err)
	assert.Equal(t, inputs[0], got)

	got, err = pickInput(inputs, "nanoKONTROL2")
	require.NoError(t, err)
	assert.Equal(t, "nanoKONTROL2", got)

	got, err = pickInput(inputs, "launchkey")
	require.NoError(t, err)
	assert.Equal(t, "Launchkey MK3 MIDI 1", got)

	_, err = pickInput(inputs, "missing")
	assert.ErrorIs(t, err, ErrPortNotFound)

	_, err = pickInput(nil, "")
	assert.ErrorIs(t, err, ErrPortNotFound)
}
