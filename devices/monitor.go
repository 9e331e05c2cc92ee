package devices

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Lister enumerates the devices of one kind by name.
type Lister func() ([]string, error)

// Change reports a device appearing or disappearing.
type Change struct {
	Kind    string // source name given to Watch, e.g. "audio" or "midi"
	Device  string
	Removed bool
}

func (c Change) String() string {
	if c.Removed {
		return fmt.Sprintf("%s device removed: %s", c.Kind, c.Device)
	}
	return fmt.Sprintf("%s device added: %s", c.Kind, c.Device)
}

const (
	DefaultBaseInterval = 50 * time.Millisecond
	DefaultMaxInterval  = 2 * time.Second
)

const idleChecksBeforeSlowdown = 10

// MonitorOptions configures a Monitor.
type MonitorOptions struct {
	BaseInterval time.Duration
	MaxInterval  time.Duration
	OnChange     func(Change)
	OnError      func(error)
}

// Monitor polls device listers and reports hotplug changes. Polling starts
// at BaseInterval and backs off toward MaxInterval while nothing changes;
// any change resets it.
type Monitor struct {
	opts MonitorOptions

	mu       sync.Mutex
	sources  map[string]Lister
	known    map[string]map[string]bool
	interval time.Duration
	idle     int
	checks   int64
	avgCheck time.Duration
	maxCheck time.Duration

	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewMonitor creates a stopped monitor.
func NewMonitor(opts MonitorOptions) *Monitor {
	if opts.BaseInterval <= 0 {
		opts.BaseInterval = DefaultBaseInterval
	}
	if opts.MaxInterval < opts.BaseInterval {
		opts.MaxInterval = DefaultMaxInterval
		if opts.MaxInterval < opts.BaseInterval {
			opts.MaxInterval = opts.BaseInterval
		}
	}
	return &Monitor{
		opts:     opts,
		sources:  make(map[string]Lister),
		known:    make(map[string]map[string]bool),
		interval: opts.BaseInterval,
	}
}

// Watch adds a lister under kind. The devices present when Watch is
// called form the baseline and are not reported.
func (m *Monitor) Watch(kind string, list Lister) error {
	names, err := list()
	if err != nil {
		return fmt.Errorf("devices: initial %s listing: %w", kind, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[kind] = list
	m.known[kind] = toSet(names)
	return nil
}

// Start begins polling in a goroutine.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("devices: monitor is already running")
	}
	m.running = true
	m.done = make(chan struct{})
	m.wg.Add(1)
	go m.loop(m.done)
	return nil
}

// Stop halts polling and waits for the poll goroutine. It is safe to call
// on a stopped monitor.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.done)
	m.mu.Unlock()
	m.wg.Wait()
}

// Running reports whether the monitor is polling.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Interval returns the current adaptive polling interval.
func (m *Monitor) Interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}

// Stats returns the running average and maximum time of a full check and
// the number of checks made.
func (m *Monitor) Stats() (avg, max time.Duration, checks int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.avgCheck, m.maxCheck, m.checks
}

func (m *Monitor) loop(done <-chan struct{}) {
	defer m.wg.Done()
	timer := time.NewTimer(m.Interval())
	defer timer.Stop()
	for {
		select {
		case <-done:
			return
		case <-timer.C:
			m.Check()
			timer.Reset(m.Interval())
		}
	}
}

// Check polls every source once and reports changes. It returns the
// changes found.
func (m *Monitor) Check() []Change {
	start := time.Now()

	m.mu.Lock()
	kinds := make([]string, 0, len(m.sources))
	for k := range m.sources {
		kinds = append(kinds, k)
	}
	sources := make(map[string]Lister, len(m.sources))
	for k, l := range m.sources {
		sources[k] = l
	}
	m.mu.Unlock()
	sort.Strings(kinds)

	var changes []Change
	for _, kind := range kinds {
		names, err := sources[kind]()
		if err != nil {
			if m.opts.OnError != nil {
				m.opts.OnError(fmt.Errorf("devices: %s listing: %w", kind, err))
			}
			continue
		}
		changes = append(changes, m.diff(kind, toSet(names))...)
	}

	m.record(time.Since(start), len(changes) > 0)
	if m.opts.OnChange != nil {
		for _, c := range changes {
			m.opts.OnChange(c)
		}
	}
	return changes
}

func (m *Monitor) diff(kind string, now map[string]bool) []Change {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.known[kind]
	var changes []Change
	for _, name := range sortedKeys(now) {
		if !prev[name] {
			changes = append(changes, Change{Kind: kind, Device: name})
		}
	}
	for _, name := range sortedKeys(prev) {
		if !now[name] {
			changes = append(changes, Change{Kind: kind, Device: name, Removed: true})
		}
	}
	m.known[kind] = now
	return changes
}

// record updates timing stats and the adaptive interval.
func (m *Monitor) record(elapsed time.Duration, changed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.checks++
	if m.checks == 1 {
		m.avgCheck = elapsed
	} else {
		m.avgCheck = time.Duration(float64(m.avgCheck)*0.9 + float64(elapsed)*0.1)
	}
	if elapsed > m.maxCheck {
		m.maxCheck = elapsed
	}

	if changed {
		m.idle = 0
		m.interval = m.opts.BaseInterval
		return
	}
	m.idle++
	if m.idle > idleChecksBeforeSlowdown {
		next := time.Duration(float64(m.interval) * 1.1)
		if next > m.opts.MaxInterval {
			next = m.opts.MaxInterval
		}
		m.interval = next
	}
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Names returns the device names, for use as a Lister.
func (devices AudioDevices) Names() []string {
	out := make([]string, len(devices))
	for i, d := range devices {
		out[i] = d.Name
	}
	return out
}
