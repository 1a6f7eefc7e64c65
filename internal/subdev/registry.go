// Package subdev tracks the functional units (cells) instantiated under a
// controller and defines the interface cell handlers implement.
package subdev

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrDuplicateKind = errors.New("duplicate sub-device kind")
	ErrUnknownID     = errors.New("unknown sub-device")
)

// Kind names a cell type. A controller owns at most one cell of each kind.
type Kind string

const (
	KindTouchscreen Kind = "tsc"
	KindADC         Kind = "adc"
)

// ID identifies one instantiated sub-device.
type ID = uuid.UUID

// Entry is a registered sub-device.
type Entry struct {
	ID   ID   `json:"id"`
	Kind Kind `json:"kind"`
}

// Registry records sub-devices in registration order.
type Registry struct {
	mu      sync.Mutex
	entries []Entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry { return &Registry{} }

// Register adds a sub-device of the given kind and returns its ID.
func (r *Registry) Register(kind Kind) (ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.Kind == kind {
			return uuid.Nil, fmt.Errorf("%s: %w", kind, ErrDuplicateKind)
		}
	}
	id := uuid.New()
	r.entries = append(r.entries, Entry{ID: id, Kind: kind})
	return id, nil
}

// Unregister removes id.
func (r *Registry) Unregister(id ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.ID == id {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%s: %w", id, ErrUnknownID)
}

// List returns the registered IDs in registration order.
func (r *Registry) List() []ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]ID, len(r.entries))
	for i, e := range r.entries {
		ids[i] = e.ID
	}
	return ids
}

// Entries returns a copy of the registered entries in registration order.
func (r *Registry) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Kind returns the kind registered under id.
func (r *Registry) Kind(id ID) (Kind, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.ID == id {
			return e.Kind, true
		}
	}
	return "", false
}

// Len returns the number of registered sub-devices.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
