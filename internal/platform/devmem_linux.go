//go:build linux

package platform

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
	"periph.io/x/host/v3/pmem"
)

// DevMem maps physical register ranges through /dev/mem.
type DevMem struct{}

func (DevMem) Map(r Range) (Mapping, error) {
	if !r.Valid() || r.Size()%4 != 0 {
		return nil, fmt.Errorf("map %s: %w", r, ErrBadRange)
	}
	view, err := pmem.Map(r.Start, int(r.Size()))
	if err != nil {
		return nil, fmt.Errorf("map %s: %w: %w", r, ErrMapFailed, err)
	}
	return &devMapping{view: view, mem: view.Bytes(), r: r}, nil
}

type devMapping struct {
	view *pmem.View
	mem  []byte
	r    Range
}

func (d *devMapping) reg(off uint32) *uint32 {
	if d.mem == nil {
		panic(fmt.Sprintf("platform: access to register 0x%03x after unmap of %s", off, d.r))
	}
	if off%4 != 0 || uint64(off)+4 > uint64(len(d.mem)) {
		panic(fmt.Sprintf("platform: register 0x%03x outside %s", off, d.r))
	}
	return (*uint32)(unsafe.Pointer(&d.mem[off]))
}

// Register accesses go through sync/atomic so each one is a single 32-bit
// load or store.
func (d *devMapping) Read(off uint32) uint32       { return atomic.LoadUint32(d.reg(off)) }
func (d *devMapping) Write(off uint32, val uint32) { atomic.StoreUint32(d.reg(off), val) }

func (d *devMapping) Unmap() error {
	if d.mem == nil {
		return fmt.Errorf("unmap %s: %w", d.r, ErrNotMapped)
	}
	d.mem = nil
	return d.view.Close()
}

// LockedTable extends Table with an flock(2) per reservation so two
// processes driving the same hardware cannot both reserve it.
type LockedTable struct {
	*Table
	dir string
}

// NewLockedTable keeps its lock files in dir, creating it if needed.
func NewLockedTable(dir string) (*LockedTable, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("iomem: lock dir: %w", err)
	}
	return &LockedTable{Table: NewTable(), dir: dir}, nil
}

func (t *LockedTable) Reserve(r Range, owner string) (Reservation, error) {
	res, err := t.Table.Reserve(r, owner)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(t.dir, fmt.Sprintf("iomem-%08x-%08x.lock", r.Start, r.End))
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_CLOEXEC, 0644)
	if err != nil {
		_ = res.Release()
		return nil, fmt.Errorf("iomem: open %s: %w", path, err)
	}
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		unix.Close(fd)
		_ = res.Release()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("reserve %s for %s: %w (locked by another process)", r, owner, ErrBusy)
		}
		return nil, fmt.Errorf("iomem: flock %s: %w", path, err)
	}
	slog.Debug("iomem: reserved", "range", r.String(), "owner", owner, "lock", path)
	return &lockedReservation{Reservation: res, fd: fd}, nil
}

type lockedReservation struct {
	Reservation
	fd int
}

func (l *lockedReservation) Release() error {
	if err := l.Reservation.Release(); err != nil {
		return err
	}
	_ = unix.Flock(l.fd, unix.LOCK_UN)
	return unix.Close(l.fd)
}

var (
	_ Mapper       = DevMem{}
	_ AddressSpace = (*LockedTable)(nil)
)
