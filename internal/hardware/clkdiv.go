package hardware

import (
	"errors"
	"fmt"
	"math"

	"periph.io/x/conn/v3/physic"
)

const (
	// TargetSampleRate is the ADC clock the divider aims for. At 3 MHz the
	// converter captures 12-bit samples at 200 kSPS.
	TargetSampleRate uint64 = 3_000_000

	// MinDividerThreshold is the smallest accepted ratio between the
	// functional clock and the ADC clock. The subsystem assumes the OCP
	// clock runs at least 6x faster than the ADC clock.
	MinDividerThreshold uint64 = 6
)

var (
	// ErrClockTooSlow is returned when the functional clock cannot drive the
	// ADC at TargetSampleRate.
	ErrClockTooSlow = errors.New("clock too slow")

	// ErrDividerRange is returned when the divider does not fit the CLKDIV
	// register.
	ErrDividerRange = errors.New("divider out of range")
)

// ComputeDivider returns the CLKDIV register value for a functional clock of
// baseHz. The register is zero-based, so the value is the integer ratio minus
// one.
func ComputeDivider(baseHz uint64) (uint32, error) {
	q := baseHz / TargetSampleRate
	if q < MinDividerThreshold {
		return 0, fmt.Errorf("%w: %d Hz gives ratio %d, need at least %d", ErrClockTooSlow, baseHz, q, MinDividerThreshold)
	}
	if q-1 > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d Hz gives divider %d", ErrDividerRange, baseHz, q-1)
	}
	return uint32(q - 1), nil
}

// DividerFor is ComputeDivider for a periph frequency. Sub-hertz fractions
// are truncated.
func DividerFor(f physic.Frequency) (uint32, error) {
	if f < physic.Hertz {
		return 0, fmt.Errorf("%w: %s", ErrClockTooSlow, f)
	}
	return ComputeDivider(uint64(f / physic.Hertz))
}
