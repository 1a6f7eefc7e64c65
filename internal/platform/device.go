// Package platform models the collaborators a controller driver is bound
// against: the platform device descriptor with its resources and
// configuration record, the address-space manager that reserves and maps
// register ranges, and the power/clock manager.
package platform

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

var (
	ErrNoResource = errors.New("no such resource")
	ErrNoIRQ      = errors.New("no irq resource")
)

// ResourceKind distinguishes memory ranges from interrupt lines.
type ResourceKind string

const (
	ResourceMem ResourceKind = "mem"
	ResourceIRQ ResourceKind = "irq"
)

// Resource is one entry of a device's resource table. For IRQ resources
// Start holds the interrupt number and End is ignored.
type Resource struct {
	Kind  ResourceKind `json:"type"`
	Name  string       `json:"name,omitempty"`
	Start uint64       `json:"start"`
	End   uint64       `json:"end,omitempty"`
	Flags uint32       `json:"flags,omitempty"`
}

// Range returns the inclusive address range of a memory resource.
func (r Resource) Range() Range { return Range{Start: r.Start, End: r.End} }

// ControllerConfig is the board-supplied configuration record for a TSC/ADC
// controller.
type ControllerConfig struct {
	ADCChannels      int    `json:"adc_channels"`       // analog inputs handed to the ADC
	TSCWires         int    `json:"tsc_wires"`          // 0 disables the touchscreen
	XPlateResistance int    `json:"x_plate_resistance"` // ohms
	IRQFlags         uint32 `json:"irq_flags,omitempty"`
}

// Device is a platform device: a named hardware unit with a resource table
// and an optional configuration record.
type Device struct {
	Name      string            `json:"name"`
	Driver    string            `json:"driver"`
	ID        int               `json:"id"`
	Config    *ControllerConfig `json:"config,omitempty"`
	Resources []Resource        `json:"resources"`

	mu      sync.Mutex
	drvdata any
}

// SameDescription reports whether d and o describe the same hardware: same
// name, driver, ID, configuration record and resource table.
func (d *Device) SameDescription(o *Device) bool {
	if d.Name != o.Name || d.Driver != o.Driver || d.ID != o.ID {
		return false
	}
	if (d.Config == nil) != (o.Config == nil) || d.Config != nil && *d.Config != *o.Config {
		return false
	}
	return slices.Equal(d.Resources, o.Resources)
}

// MemResource returns the n-th memory resource.
func (d *Device) MemResource(n int) (Resource, error) {
	return d.resource(ResourceMem, n)
}

// IRQ returns the interrupt number of the n-th IRQ resource.
func (d *Device) IRQ(n int) (int, error) {
	r, err := d.resource(ResourceIRQ, n)
	if err != nil {
		return -1, fmt.Errorf("%s: %w", d.Name, ErrNoIRQ)
	}
	return int(r.Start), nil
}

func (d *Device) resource(kind ResourceKind, n int) (Resource, error) {
	i := 0
	for _, r := range d.Resources {
		if r.Kind != kind {
			continue
		}
		if i == n {
			return r, nil
		}
		i++
	}
	return Resource{}, fmt.Errorf("%s: %s resource %d: %w", d.Name, kind, n, ErrNoResource)
}

// SetDriverData publishes the bound driver's live context.
func (d *Device) SetDriverData(v any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drvdata = v
}

// DriverData returns the value stored by SetDriverData, or nil.
func (d *Device) DriverData() any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.drvdata
}
