// Package store holds captures per kind. The orchestrator is the only
// writer and goes through the four Store operations.
package store

import (
	"context"
	"sync"

	"github.com/teslashibe/go-idcapture/pkg/capture"
)

// Store is the capture store consumed by the orchestrator. It does not
// enforce the unvalidated-capture limit; callers check it before CreateCapture.
type Store interface {
	// SetCurrentCapture records what is being captured right now.
	SetCurrentCapture(kind capture.Kind, side capture.Side) error

	// CreateCapture appends c to the kind's list, keeping the newest maxCaptures.
	CreateCapture(kind capture.Kind, c capture.Capture, maxCaptures int) error

	// ValidateCapture resolves an unresolved capture. Resolved captures are left as is.
	ValidateCapture(id string, valid bool, kind capture.Kind) error

	// DeleteCaptures drops every capture of a kind.
	DeleteCaptures(kind capture.Kind) error
}

// Reader lists stored captures.
type Reader interface {
	Captures(kind capture.Kind) capture.List
}

// Backend is a Store whose contents can be read back.
type Backend interface {
	Store
	Reader
	Current() Current
	Get(id string) (capture.Capture, error)
}

// Open returns a SQLStore at path, or a MemoryStore when path is empty.
func Open(ctx context.Context, path string) (Backend, error) {
	if path == "" {
		return NewMemoryStore(), nil
	}
	s, err := OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Current is the capture target announced by SetCurrentCapture.
type Current struct {
	Kind capture.Kind `json:"kind"`
	Side capture.Side `json:"side,omitempty"`
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu       sync.RWMutex
	current  Current
	captures map[capture.Kind]capture.List

	// OnChange is called after every mutation with the affected kind.
	OnChange func(kind capture.Kind)
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		captures: make(map[capture.Kind]capture.List),
	}
}

// SetCurrentCapture records the capture target.
func (m *MemoryStore) SetCurrentCapture(kind capture.Kind, side capture.Side) error {
	m.mu.Lock()
	m.current = Current{Kind: kind, Side: side}
	m.mu.Unlock()
	m.changed(kind)
	return nil
}

// CreateCapture appends c to the kind's list.
func (m *MemoryStore) CreateCapture(kind capture.Kind, c capture.Capture, maxCaptures int) error {
	if !kind.Valid() {
		return capture.ErrUnknownKind
	}
	m.mu.Lock()
	m.captures[kind] = m.captures[kind].Add(c, maxCaptures)
	m.mu.Unlock()
	m.changed(kind)
	return nil
}

// ValidateCapture resolves the capture with id. It returns
// capture.ErrNotFound when the kind holds no such capture.
func (m *MemoryStore) ValidateCapture(id string, valid bool, kind capture.Kind) error {
	m.mu.Lock()
	list := m.captures[kind]
	if list.Index(id) < 0 {
		m.mu.Unlock()
		return capture.ErrNotFound
	}
	changed := list.Resolve(id, valid)
	m.mu.Unlock()

	if changed {
		m.changed(kind)
	}
	return nil
}

// DeleteCaptures drops every capture of kind.
func (m *MemoryStore) DeleteCaptures(kind capture.Kind) error {
	m.mu.Lock()
	delete(m.captures, kind)
	m.mu.Unlock()
	m.changed(kind)
	return nil
}

// Current returns the last announced capture target.
func (m *MemoryStore) Current() Current {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Captures returns a copy of the kind's captures, oldest first.
func (m *MemoryStore) Captures(kind capture.Kind) capture.List {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.captures[kind].Clone()
}

// Get returns a copy of the capture with id.
func (m *MemoryStore) Get(id string) (capture.Capture, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, list := range m.captures {
		if i := list.Index(id); i >= 0 {
			return list[i], nil
		}
	}
	return capture.Capture{}, capture.ErrNotFound
}

func (m *MemoryStore) changed(kind capture.Kind) {
	if m.OnChange != nil {
		m.OnChange(kind)
	}
}
