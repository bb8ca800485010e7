package eventbus

import (
	"sync"
)

// Manager provides in-memory pub/sub of task events with a per-task ring
// buffer for Last-Event-ID replay. It only covers subscribers in this
// process; cross-process fan-out goes through the Broker.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int
}

// NewManager creates a manager whose rings hold capacity events per task.
func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = 256
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
	}
}

// Subscribe adds a subscriber channel for a task id; the caller must drain
// it and call Unsubscribe.
func (m *Manager) Subscribe(taskID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[taskID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[taskID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes the subscriber channel.
func (m *Manager) Unsubscribe(taskID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[taskID]; ok {
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(m.subscribers, taskID)
		}
	}
}

// Publish sends an event to all subscribers of the task (non-blocking; slow
// subscribers drop). Seq is assigned here in publish order.
func (m *Manager) Publish(evt Event) {
	taskID := evt.TaskID.String()
	m.mu.Lock()
	rg := m.history[taskID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[taskID] = rg
	}
	rg.nextSeq++
	evt.Seq = rg.nextSeq
	rg.push(evt)
	subs := m.subscribers[taskID]
	targets := make([]chan Event, 0, len(subs))
	for ch := range subs {
		targets = append(targets, ch)
	}
	m.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- evt:
		default:
		}
	}
}

// ReplaySince returns buffered events with Seq > since, best-effort within
// ring capacity.
func (m *Manager) ReplaySince(taskID string, since uint64) []Event {
	m.mu.RLock()
	rg := m.history[taskID]
	m.mu.RUnlock()
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Drop releases the history ring for a finished task.
func (m *Manager) Drop(taskID string) {
	m.mu.Lock()
	delete(m.history, taskID)
	m.mu.Unlock()
}

// ring is a fixed-capacity ring buffer of events.
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
