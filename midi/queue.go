package midi

import (
	"sync"
	"time"

	"gitlab.com/gomidi/midi/v2"
)

// Queue is an unbounded FIFO of MIDI messages. Pop blocks until a message
// arrives, the timeout expires or done is closed.
type Queue struct {
	mu     sync.Mutex
	items  []midi.Message
	head   int
	signal chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{signal: make(chan struct{})}
}

// notify wakes every goroutine blocked in Pop. Must be called with mu held.
func (q *Queue) notify() {
	close(q.signal)
	q.signal = make(chan struct{})
}

// Push appends msg.
func (q *Queue) Push(msg midi.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, msg)
	q.notify()
}

// TryPop removes and returns the oldest message without waiting.
func (q *Queue) TryPop() (midi.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *Queue) popLocked() (midi.Message, bool) {
	if q.head >= len(q.items) {
		return nil, false
	}
	msg := q.items[q.head]
	q.items[q.head] = nil
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return msg, true
}

// Pop waits up to timeout for a message. It returns false on timeout or
// when done is closed.
func (q *Queue) Pop(done <-chan struct{}, timeout time.Duration) (midi.Message, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		q.mu.Lock()
		if msg, ok := q.popLocked(); ok {
			q.mu.Unlock()
			return msg, true
		}
		sig := q.signal
		q.mu.Unlock()

		select {
		case <-sig:
		case <-timer.C:
			return nil, false
		case <-done:
			return nil, false
		}
	}
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Clear drops every queued message and returns how many there were.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items) - q.head
	q.items = nil
	q.head = 0
	return n
}
