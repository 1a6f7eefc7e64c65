package hardware

import (
	"fmt"
	"sync"
)

// revisionReset is the REVISION register value of the AM335x TSC_ADC_SS.
const revisionReset uint32 = 0x47300001

// Access is one recorded register access on a Mock.
type Access struct {
	Write bool
	Off   Offset
	Val   uint32
}

func (a Access) String() string {
	op := "R"
	if a.Write {
		op = "W"
	}
	return fmt.Sprintf("%s 0x%03x=0x%08x", op, a.Off, a.Val)
}

// Mock is a thread-safe in-memory register bank for tests and development.
// It records every access in order. Once closed, any access panics, the same
// way an access through a torn-down mapping would fault.
type Mock struct {
	mu     sync.Mutex
	regs   map[Offset]uint32
	log    []Access
	closed bool
}

// NewMock returns a bank holding the controller's reset values.
func NewMock() *Mock {
	return &Mock{
		regs: map[Offset]uint32{
			RegRevision: revisionReset,
			RegADCFSM:   0x10, // FSM idle
		},
	}
}

func (m *Mock) Read(off Offset) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkLive(off)
	v := m.regs[off]
	m.log = append(m.log, Access{Off: off, Val: v})
	return v
}

func (m *Mock) Write(off Offset, val uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkLive(off)
	m.regs[off] = val
	m.log = append(m.log, Access{Write: true, Off: off, Val: val})
}

func (m *Mock) checkLive(off Offset) {
	if m.closed {
		panic(fmt.Sprintf("hardware: access to register 0x%03x after unmap", off))
	}
	if off%4 != 0 {
		panic(fmt.Sprintf("hardware: unaligned register offset 0x%03x", off))
	}
}

// Close invalidates the bank.
func (m *Mock) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

// Closed reports whether Close has been called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// GetReg returns a register value without recording an access. It works on
// a closed bank so tests can inspect the final state.
func (m *Mock) GetReg(off Offset) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regs[off]
}

// SetReg sets a register value without recording an access.
func (m *Mock) SetReg(off Offset, val uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs[off] = val
}

// Log returns a copy of the access log.
func (m *Mock) Log() []Access {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Access, len(m.log))
	copy(out, m.log)
	return out
}

// Writes returns the values written to off, oldest first.
func (m *Mock) Writes(off Offset) []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []uint32
	for _, a := range m.log {
		if a.Write && a.Off == off {
			out = append(out, a.Val)
		}
	}
	return out
}

var _ Bank = (*Mock)(nil)
