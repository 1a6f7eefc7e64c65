package config

import (
	"sync"

	"github.com/micro-nova/tscadc-go/internal/platform"
)

// MemStore is an in-memory Store. It backs tests and the built-in board
// description used in mock mode.
type MemStore struct {
	mu   sync.Mutex
	devs []*platform.Device
}

// NewMemStore returns a store holding devs.
func NewMemStore(devs ...*platform.Device) *MemStore {
	return &MemStore{devs: devs}
}

// Load returns the stored devices.
func (m *MemStore) Load() ([]*platform.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*platform.Device, len(m.devs))
	copy(out, m.devs)
	return out, nil
}

// Add appends a device.
func (m *MemStore) Add(dev *platform.Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devs = append(m.devs, dev)
}

// Path returns ":memory:" to indicate this is an in-memory store.
func (m *MemStore) Path() string { return ":memory:" }

var _ Store = (*MemStore)(nil)
