package tscadc

import (
	"errors"
	"fmt"

	"github.com/micro-nova/tscadc-go/internal/hardware"
	"github.com/micro-nova/tscadc-go/internal/subdev"
)

// Probe failures. Every one of them is terminal for the attempt; the
// resources taken before the failing step have been released by the time
// Probe returns.
var (
	ErrMissingConfig    = errors.New("missing platform configuration")
	ErrMissingResource  = errors.New("missing or malformed memory resource")
	ErrMissingInterrupt = errors.New("missing interrupt")
	ErrOutOfMemory      = errors.New("out of controller handles")
	ErrResourceBusy     = errors.New("register range busy")
	ErrMappingFailed    = errors.New("register mapping failed")
	ErrClockTooSlow     = hardware.ErrClockTooSlow
	ErrDividerRange     = hardware.ErrDividerRange
	ErrDuplicateKind    = subdev.ErrDuplicateKind
	ErrSubdeviceInit    = errors.New("sub-device init failed")
)

// ErrInvalidHandle is returned by Remove for a device that has no live
// controller, e.g. one that was never probed or was already removed.
var ErrInvalidHandle = errors.New("invalid controller handle")

// SubdeviceInitError reports which cell failed to bind. It matches both
// ErrSubdeviceInit and the cell's own error.
type SubdeviceInitError struct {
	Kind subdev.Kind
	Err  error
}

func (e *SubdeviceInitError) Error() string {
	return fmt.Sprintf("sub-device %s init failed: %v", e.Kind, e.Err)
}

func (e *SubdeviceInitError) Unwrap() []error { return []error{ErrSubdeviceInit, e.Err} }
