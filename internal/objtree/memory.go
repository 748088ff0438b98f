package objtree

import (
	"sync"
)

// Memory is an in-memory Tree. Used by tests and as a reference for the
// SQLite implementation's semantics.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]Descriptor
	states  map[string]any
	subs    []*memorySub

	// Extends counts structural updates, handy for idempotence tests.
	Extends int
}

type memorySub struct {
	pattern string
	ch      chan StateChange
}

// NewMemory creates an empty in-memory tree.
func NewMemory() *Memory {
	return &Memory{
		objects: make(map[string]Descriptor),
		states:  make(map[string]any),
	}
}

// GetObject returns the descriptor at path, or nil when absent.
func (m *Memory) GetObject(path string) (*Descriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	desc, ok := m.objects[path]
	if !ok {
		return nil, nil
	}
	return &desc, nil
}

// SetObjectIfMissing creates the object when absent.
func (m *Memory) SetObjectIfMissing(path string, desc Descriptor) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[path]; ok {
		return false, nil
	}
	m.objects[path] = desc
	return true, nil
}

// ExtendObject overwrites the descriptor at path.
func (m *Memory) ExtendObject(path string, desc Descriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[path] = desc
	m.Extends++
	return nil
}

// GetState returns the current value at path.
func (m *Memory) GetState(path string) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.states[path], nil
}

// SetState writes a value and notifies matching subscribers.
func (m *Memory) SetState(path string, value any, ack bool) error {
	m.mu.Lock()
	m.states[path] = value
	subs := make([]*memorySub, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	change := StateChange{Path: path, Value: value, Ack: ack}
	for _, sub := range subs {
		if MatchPattern(sub.pattern, path) {
			select {
			case sub.ch <- change:
			default:
				// Subscriber not draining, drop rather than block writers.
			}
		}
	}
	return nil
}

// SubscribeStates delivers changes for paths matching pattern.
func (m *Memory) SubscribeStates(pattern string) (<-chan StateChange, error) {
	sub := &memorySub{pattern: pattern, ch: make(chan StateChange, 64)}

	m.mu.Lock()
	m.subs = append(m.subs, sub)
	m.mu.Unlock()

	return sub.ch, nil
}

// Objects returns a snapshot of all object paths. Test helper.
func (m *Memory) Objects() map[string]Descriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Descriptor, len(m.objects))
	for path, desc := range m.objects {
		out[path] = desc
	}
	return out
}

// Close closes all subscriber channels.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sub := range m.subs {
		close(sub.ch)
	}
	m.subs = nil
	return nil
}
