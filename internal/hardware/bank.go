// Package hardware provides the register-level view of the TSC/ADC
// subsystem: the register map, the 32-bit register bank abstraction shared by
// the real /dev/mem mapping and the in-memory mock, and the clock divider
// calculation.
package hardware

// Offset is a byte offset from the base of the mapped register block.
type Offset = uint32

// Bank is a mapped 32-bit register block.
//
// A Bank is only valid between a successful map and the matching unmap.
// Accessing it outside that window is a programming error, not a runtime
// condition, so neither method returns an error.
type Bank interface {
	// Read returns the register at base+off.
	Read(off Offset) uint32

	// Write stores val into the register at base+off.
	Write(off Offset, val uint32)
}
