// Package tscadc drives the bring-up and tear-down of a TI touchscreen/ADC
// subsystem: one register block, one interrupt line and one clock domain
// shared by a touchscreen cell and a general purpose ADC cell.
//
// Probe acquires resources in a fixed order and unwinds exactly the steps
// that completed if a later one fails. Remove releases everything in the
// fixed teardown order.
package tscadc

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"go.uber.org/multierr"

	"github.com/micro-nova/tscadc-go/internal/hardware"
	"github.com/micro-nova/tscadc-go/internal/platform"
	"github.com/micro-nova/tscadc-go/internal/subdev"
)

const (
	// DriverName is matched against platform device descriptions.
	DriverName = "ti_tscadc"

	// FunctionalClock is the clock whose rate sets the ADC divider.
	FunctionalClock = "adc_tsc_fck"
)

// Driver binds TSC/ADC controllers to platform devices.
type Driver struct {
	Space  platform.AddressSpace
	Mapper platform.Mapper
	Power  platform.PowerManager
	Cells  []subdev.Cell

	// MaxControllers bounds the number of live controllers. Zero means no
	// limit.
	MaxControllers int

	mu   sync.Mutex
	live int
}

// NewDriver returns a driver using the given collaborators.
func NewDriver(space platform.AddressSpace, mapper platform.Mapper, power platform.PowerManager, cells []subdev.Cell) *Driver {
	return &Driver{Space: space, Mapper: mapper, Power: power, Cells: cells}
}

// Name returns DriverName.
func (d *Driver) Name() string { return DriverName }

// Live returns the number of controller handles currently allocated.
func (d *Driver) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live
}

func (d *Driver) alloc(dev *platform.Device, irq int) (*Controller, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.MaxControllers > 0 && d.live >= d.MaxControllers {
		return nil, fmt.Errorf("tscadc: %s: %w (%d live)", dev.Name, ErrOutOfMemory, d.live)
	}
	d.live++
	return newController(dev, irq), nil
}

func (d *Driver) free() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.live--
}

// undoStack holds the release actions of completed probe steps.
type undoStack []undoStep

type undoStep struct {
	name string
	fn   func() error
}

func (u *undoStack) push(name string, fn func() error) {
	*u = append(*u, undoStep{name: name, fn: fn})
}

// unwind runs the release actions newest first. Every action runs even if
// an earlier one fails.
func (u *undoStack) unwind(dev string) error {
	var errs error
	for i := len(*u) - 1; i >= 0; i-- {
		s := (*u)[i]
		slog.Debug("tscadc: rollback", "dev", dev, "step", s.name)
		if err := s.fn(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	*u = nil
	return errs
}

// Probe brings up the controller described by dev and publishes it as the
// device's driver data. On failure nothing acquired during the attempt is
// left held.
func (d *Driver) Probe(dev *platform.Device) (err error) {
	if dev == nil || dev.Config == nil {
		name := "<nil>"
		if dev != nil {
			name = dev.Name
		}
		slog.Error("tscadc: could not find platform data", "dev", name)
		return fmt.Errorf("tscadc: %s: %w", name, ErrMissingConfig)
	}

	mem, err := dev.MemResource(0)
	if err != nil {
		slog.Error("tscadc: no memory resource defined", "dev", dev.Name)
		return fmt.Errorf("tscadc: %w: %w", ErrMissingResource, err)
	}
	if !mem.Range().Valid() {
		slog.Error("tscadc: malformed memory resource", "dev", dev.Name, "range", mem.Range().String())
		return fmt.Errorf("tscadc: %s: %w: %s", dev.Name, ErrMissingResource, mem.Range())
	}
	irq, err := dev.IRQ(0)
	if err != nil || irq < 0 {
		slog.Error("tscadc: no irq specified", "dev", dev.Name)
		return fmt.Errorf("tscadc: %s: %w", dev.Name, ErrMissingInterrupt)
	}

	c, err := d.alloc(dev, irq)
	if err != nil {
		slog.Error("tscadc: failed to allocate controller", "dev", dev.Name, "err", err)
		return err
	}

	var undo undoStack
	undo.push("free handle", func() error { d.free(); return nil })
	defer func() {
		if err == nil {
			return
		}
		if uerr := undo.unwind(dev.Name); uerr != nil {
			slog.Error("tscadc: rollback incomplete", "dev", dev.Name, "err", uerr)
		}
		c.setState(Destroyed)
	}()

	res, err := d.Space.Reserve(mem.Range(), dev.Name)
	if err != nil {
		slog.Error("tscadc: failed to reserve registers", "dev", dev.Name, "err", err)
		return fmt.Errorf("tscadc: %s: %w: %w", dev.Name, ErrResourceBusy, err)
	}
	c.res = res
	undo.push("release region", res.Release)

	regs, err := d.Mapper.Map(mem.Range())
	if err != nil {
		slog.Error("tscadc: failed to map registers", "dev", dev.Name, "err", err)
		return fmt.Errorf("tscadc: %s: %w: %w", dev.Name, ErrMappingFailed, err)
	}
	c.regs = regs
	undo.push("unmap", regs.Unmap)
	c.setState(ResourcesReserved)

	d.Power.Enable(dev.Name)
	undo.push("pm disable", func() error { d.Power.Disable(dev.Name); return nil })
	if err := d.Power.Get(dev.Name); err != nil {
		slog.Error("tscadc: failed to power up", "dev", dev.Name, "err", err)
		return fmt.Errorf("tscadc: %s: power up: %w", dev.Name, err)
	}
	undo.push("pm put", func() error { return d.Power.Put(dev.Name) })

	rate, err := d.Power.ClockRate(FunctionalClock)
	if err != nil {
		slog.Error("tscadc: failed to get functional clock", "dev", dev.Name, "clk", FunctionalClock, "err", err)
		return fmt.Errorf("tscadc: %s: %w", dev.Name, err)
	}
	div, err := hardware.DividerFor(rate)
	if err != nil {
		slog.Error("tscadc: clock rate rejected", "dev", dev.Name, "rate", rate.String(), "err", err)
		return fmt.Errorf("tscadc: %s: %w", dev.Name, err)
	}
	c.clock, c.divider = rate, div
	c.setState(ClockValidated)

	regs.Write(hardware.RegCLKDIV, div)
	undo.push("disable sampling", func() error { regs.Write(hardware.RegSE, 0); return nil })
	regs.Write(hardware.RegCTRL, hardware.NewControlWord(hardware.OperatingBits).Value())
	regs.Write(hardware.RegIDLECONFIG, hardware.IdleConfig)
	hardware.EnableSubsystem(regs)
	c.setState(RegistersProgrammed)

	parent := &subdev.Parent{Device: dev.Name, Bank: regs, IRQ: irq, Config: c.cfg}
	for _, cell := range d.Cells {
		if cell.Wanted != nil && !cell.Wanted(c.cfg) {
			continue
		}
		id, err := c.addCell(cell, parent)
		if err != nil {
			slog.Error("tscadc: failed to add sub-device", "dev", dev.Name, "kind", cell.Kind, "err", err)
			return fmt.Errorf("tscadc: %s: %w", dev.Name, err)
		}
		undo.push("remove "+string(cell.Kind), func() error { return c.removeCell(id) })
	}
	c.setState(SubdevicesActive)

	dev.SetDriverData(c)
	c.setState(Running)
	slog.Info("tscadc: probed",
		"dev", dev.Name,
		"range", mem.Range().String(),
		"irq", irq,
		"clk", rate.String(),
		"clkdiv", div,
		"cells", len(c.handlers),
	)
	return nil
}

func (c *Controller) addCell(cell subdev.Cell, parent *subdev.Parent) (subdev.ID, error) {
	id, err := c.subdevs.Register(cell.Kind)
	if err != nil {
		return id, err
	}
	h := cell.New()
	if err := h.Add(parent); err != nil {
		_ = c.subdevs.Unregister(id)
		return id, &SubdeviceInitError{Kind: cell.Kind, Err: err}
	}
	c.handlers[id] = h
	return id, nil
}

func (c *Controller) removeCell(id subdev.ID) error {
	h, ok := c.handlers[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, subdev.ErrUnknownID)
	}
	delete(c.handlers, id)
	return multierr.Append(h.Remove(), c.subdevs.Unregister(id))
}

// Remove tears down the controller bound to dev. Sampling is halted before
// the registers are unmapped, and cells are removed only after every
// hardware resource has been released.
func (d *Driver) Remove(dev *platform.Device) error {
	c, ok := FromDevice(dev)
	if !ok {
		return fmt.Errorf("tscadc: remove: %w", ErrInvalidHandle)
	}

	c.mu.Lock()
	if c.state != Running {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("tscadc: remove %s in state %s: %w", dev.Name, st, ErrInvalidHandle)
	}
	c.regs.Write(hardware.RegSE, 0)
	c.state = Destroyed
	c.mu.Unlock()
	dev.SetDriverData(nil)

	var errs error
	if err := c.regs.Unmap(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("unmap: %w", err))
	}
	if err := c.res.Release(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("release region: %w", err))
	}
	if err := d.Power.Put(dev.Name); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("pm put: %w", err))
	}
	d.Power.Disable(dev.Name)

	ids := c.subdevs.List()
	slices.Reverse(ids)
	for _, id := range ids {
		if err := c.removeCell(id); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("remove sub-device: %w", err))
		}
	}
	d.free()

	if errs != nil {
		slog.Error("tscadc: teardown incomplete", "dev", dev.Name, "err", errs)
		return fmt.Errorf("tscadc: remove %s: %w", dev.Name, errs)
	}
	slog.Info("tscadc: removed", "dev", dev.Name)
	return nil
}

// Describe returns the Info of the controller bound to dev, or nil if there
// is none.
func (d *Driver) Describe(dev *platform.Device) any {
	c, ok := FromDevice(dev)
	if !ok {
		return nil
	}
	return c.Info()
}
