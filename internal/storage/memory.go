package storage

import (
	"sync"
	"sync/atomic"
)

// MemoryOrigin is an in-process origin shared by any number of Memory handles.
// It stands in for the browser's per-origin storage: every handle sees the same
// values and hears about the writes made by the others.
type MemoryOrigin struct {
	mu      sync.RWMutex
	values  map[string]string
	handles map[uint64]*Memory
	counter uint64
}

// NewMemoryOrigin creates an empty origin.
func NewMemoryOrigin() *MemoryOrigin {
	return &MemoryOrigin{
		values:  make(map[string]string),
		handles: make(map[uint64]*Memory),
	}
}

// Open returns a new handle onto the origin.
func (o *MemoryOrigin) Open() *Memory {
	m := &Memory{
		id:       atomic.AddUint64(&o.counter, 1),
		origin:   o,
		watchers: make(map[uint64]func(Event)),
	}
	o.mu.Lock()
	o.handles[m.id] = m
	o.mu.Unlock()
	return m
}

// Memory is one handle onto a MemoryOrigin.
type Memory struct {
	id     uint64
	origin *MemoryOrigin

	mu       sync.Mutex
	watchers map[uint64]func(Event)
	counter  uint64
	closed   bool
}

var _ Storage = (*Memory)(nil)

func (m *Memory) Get(key string) (string, bool, error) {
	m.origin.mu.RLock()
	defer m.origin.mu.RUnlock()
	v, ok := m.origin.values[key]
	return v, ok, nil
}

func (m *Memory) Set(key, value string) error {
	return m.write(Event{Key: key, Value: value, Present: true})
}

func (m *Memory) Remove(key string) error {
	return m.write(Event{Key: key})
}

func (m *Memory) write(ev Event) error {
	if m.isClosed() {
		return ErrClosed
	}
	o := m.origin
	o.mu.Lock()
	old, ok := o.values[ev.Key]
	if ok == ev.Present && old == ev.Value {
		// unchanged values raise no event
		o.mu.Unlock()
		return nil
	}
	if ev.Present {
		o.values[ev.Key] = ev.Value
	} else {
		delete(o.values, ev.Key)
	}
	peers := make([]*Memory, 0, len(o.handles))
	for id, h := range o.handles {
		if id != m.id {
			peers = append(peers, h)
		}
	}
	o.mu.Unlock()

	// Delivered synchronously so the write order is the delivery order.
	for _, p := range peers {
		p.deliver(ev)
	}
	return nil
}

func (m *Memory) deliver(ev Event) {
	m.mu.Lock()
	fns := make([]func(Event), 0, len(m.watchers))
	for _, fn := range m.watchers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (m *Memory) Watch(fn func(Event)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	m.counter++
	id := m.counter
	m.watchers[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
	}, nil
}

func (m *Memory) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close detaches the handle from its origin. Values stay in the origin.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.watchers = make(map[uint64]func(Event))
	m.mu.Unlock()

	m.origin.mu.Lock()
	delete(m.origin.handles, m.id)
	m.origin.mu.Unlock()
	return nil
}
