package platform

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrBusy        = errors.New("address range busy")
	ErrBadRange    = errors.New("malformed address range")
	ErrNotReserved = errors.New("reservation already released")
)

// Range is an inclusive physical address range.
type Range struct {
	Start uint64
	End   uint64
}

// Size returns the number of bytes covered by r.
func (r Range) Size() uint64 { return r.End - r.Start + 1 }

// Valid reports whether r covers at least one byte.
func (r Range) Valid() bool { return r.End >= r.Start }

// Overlaps reports whether r and o share any address.
func (r Range) Overlaps(o Range) bool { return r.Start <= o.End && o.Start <= r.End }

func (r Range) String() string { return fmt.Sprintf("[%#08x-%#08x]", r.Start, r.End) }

// Reservation is exclusive ownership of an address range.
type Reservation interface {
	Range() Range
	Owner() string
	// Release gives the range back. A second Release returns ErrNotReserved.
	Release() error
}

// AddressSpace hands out exclusive reservations.
type AddressSpace interface {
	Reserve(r Range, owner string) (Reservation, error)
}

// Table is an in-process address-space table. Reservations never overlap.
type Table struct {
	mu   sync.Mutex
	live []*tableReservation // sorted by Start
}

// NewTable returns an empty table.
func NewTable() *Table { return &Table{} }

// Reserve claims r for owner. It fails with ErrBusy if any part of r is
// already reserved.
func (t *Table) Reserve(r Range, owner string) (Reservation, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("reserve %s: %w", r, ErrBadRange)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, l := range t.live {
		if l.r.Overlaps(r) {
			return nil, fmt.Errorf("reserve %s for %s: %w (held by %s %s)", r, owner, ErrBusy, l.owner, l.r)
		}
	}
	res := &tableReservation{t: t, r: r, owner: owner}
	t.live = append(t.live, res)
	sort.Slice(t.live, func(i, j int) bool { return t.live[i].r.Start < t.live[j].r.Start })
	return res, nil
}

// Outstanding returns the number of live reservations.
func (t *Table) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}

func (t *Table) release(res *tableReservation) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, l := range t.live {
		if l == res {
			t.live = append(t.live[:i], t.live[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("release %s: %w", res.r, ErrNotReserved)
}

type tableReservation struct {
	t     *Table
	r     Range
	owner string
}

func (res *tableReservation) Range() Range   { return res.r }
func (res *tableReservation) Owner() string  { return res.owner }
func (res *tableReservation) Release() error { return res.t.release(res) }

var _ AddressSpace = (*Table)(nil)
