package tscadc

import (
	"fmt"
	"sync"

	"github.com/micro-nova/tscadc-go/internal/hardware"
	"github.com/micro-nova/tscadc-go/internal/platform"
	"github.com/micro-nova/tscadc-go/internal/subdev"
	"periph.io/x/conn/v3/physic"
)

// Controller is a live TSC/ADC controller. Probe only ever publishes fully
// initialized controllers; after Remove the handle is Destroyed and its
// register accessors must not be used.
type Controller struct {
	mu    sync.Mutex
	state State

	dev      *platform.Device
	cfg      platform.ControllerConfig
	irq      int
	res      platform.Reservation
	regs     platform.Mapping
	clock    physic.Frequency
	divider  uint32
	subdevs  *subdev.Registry
	handlers map[subdev.ID]subdev.Handler
}

func newController(dev *platform.Device, irq int) *Controller {
	return &Controller{
		state:    Unconfigured,
		dev:      dev,
		cfg:      *dev.Config,
		irq:      irq,
		subdevs:  subdev.NewRegistry(),
		handlers: make(map[subdev.ID]subdev.Handler),
	}
}

// FromDevice returns the live controller bound to dev.
func FromDevice(dev *platform.Device) (*Controller, bool) {
	if dev == nil {
		return nil, false
	}
	c, ok := dev.DriverData().(*Controller)
	return c, ok && c != nil
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Name returns the platform device name.
func (c *Controller) Name() string { return c.dev.Name }

// IRQ returns the controller's interrupt line.
func (c *Controller) IRQ() int { return c.irq }

// Config returns the configuration record the controller was probed with.
func (c *Controller) Config() platform.ControllerConfig { return c.cfg }

// Clock returns the functional clock rate observed at probe.
func (c *Controller) Clock() physic.Frequency { return c.clock }

// Divider returns the programmed CLKDIV value.
func (c *Controller) Divider() uint32 { return c.divider }

// Subdevices returns the bound cells in activation order.
func (c *Controller) Subdevices() []subdev.Entry { return c.subdevs.Entries() }

// Read reads a controller register.
func (c *Controller) Read(off hardware.Offset) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Running {
		return 0, fmt.Errorf("tscadc: read 0x%03x in state %s: %w", off, c.state, ErrInvalidHandle)
	}
	return c.regs.Read(off), nil
}

// Write writes a controller register.
func (c *Controller) Write(off hardware.Offset, val uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Running {
		return fmt.Errorf("tscadc: write 0x%03x in state %s: %w", off, c.state, ErrInvalidHandle)
	}
	c.regs.Write(off, val)
	return nil
}

// Registers reads back the programmed register state.
func (c *Controller) Registers() (hardware.RegisterSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Running {
		return hardware.RegisterSnapshot{}, fmt.Errorf("tscadc: snapshot in state %s: %w", c.state, ErrInvalidHandle)
	}
	return hardware.ReadSnapshot(c.regs), nil
}

// Info is a point-in-time description of a controller.
type Info struct {
	Device     string                     `json:"device"`
	State      State                      `json:"state"`
	IRQ        int                        `json:"irq"`
	ClockHz    int64                      `json:"clock_hz"`
	Divider    uint32                     `json:"clkdiv"`
	Config     platform.ControllerConfig  `json:"config"`
	Subdevices []subdev.Entry             `json:"subdevices"`
	Registers  *hardware.RegisterSnapshot `json:"registers,omitempty"`
}

// Info describes the controller. Registers are only read while Running.
func (c *Controller) Info() Info {
	info := Info{
		Device:     c.dev.Name,
		State:      c.State(),
		IRQ:        c.irq,
		ClockHz:    int64(c.clock / physic.Hertz),
		Divider:    c.divider,
		Config:     c.cfg,
		Subdevices: c.subdevs.Entries(),
	}
	if snap, err := c.Registers(); err == nil {
		info.Registers = &snap
	}
	return info
}
