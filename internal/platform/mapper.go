package platform

import (
	"errors"
	"fmt"
	"sync"

	"github.com/micro-nova/tscadc-go/internal/hardware"
)

var (
	ErrMapFailed = errors.New("map failed")
	ErrNotMapped = errors.New("range not mapped")
)

// Mapping is a reserved range made addressable. The embedded Bank is valid
// until Unmap returns.
type Mapping interface {
	hardware.Bank
	Unmap() error
}

// Mapper maps physical ranges.
type Mapper interface {
	Map(r Range) (Mapping, error)
}

// MemMapper backs every mapping with an in-memory register bank. It is used
// by the mock backend and by tests.
type MemMapper struct {
	mu      sync.Mutex
	banks   map[uint64]*hardware.Mock
	live    int
	failMap bool
}

// NewMemMapper returns an empty MemMapper.
func NewMemMapper() *MemMapper {
	return &MemMapper{banks: make(map[uint64]*hardware.Mock)}
}

// SetFailMap makes every subsequent Map fail.
func (m *MemMapper) SetFailMap(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failMap = fail
}

func (m *MemMapper) Map(r Range) (Mapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMap {
		return nil, fmt.Errorf("map %s: %w (configured)", r, ErrMapFailed)
	}
	if !r.Valid() {
		return nil, fmt.Errorf("map %s: %w", r, ErrBadRange)
	}
	bank := hardware.NewMock()
	m.banks[r.Start] = bank
	m.live++
	return &memMapping{Mock: bank, m: m, r: r}, nil
}

// Bank returns the most recent bank mapped at start, live or not.
func (m *MemMapper) Bank(start uint64) *hardware.Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.banks[start]
}

// Live returns the number of mappings not yet unmapped.
func (m *MemMapper) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live
}

type memMapping struct {
	*hardware.Mock
	m *MemMapper
	r Range
}

func (mm *memMapping) Unmap() error {
	if mm.Closed() {
		return fmt.Errorf("unmap %s: %w", mm.r, ErrNotMapped)
	}
	mm.Close()
	mm.m.mu.Lock()
	mm.m.live--
	mm.m.mu.Unlock()
	return nil
}

var _ Mapper = (*MemMapper)(nil)
