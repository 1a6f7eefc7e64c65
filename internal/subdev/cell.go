package subdev

import (
	"github.com/micro-nova/tscadc-go/internal/hardware"
	"github.com/micro-nova/tscadc-go/internal/platform"
)

// Parent is the live controller context a cell binds against.
type Parent struct {
	Device string
	Bank   hardware.Bank
	IRQ    int
	Config platform.ControllerConfig
}

// Handler is an instantiated cell.
type Handler interface {
	// Add binds the handler to a live controller.
	Add(p *Parent) error
	// Remove unbinds the handler. It must not touch the register bank,
	// which may already be unmapped.
	Remove() error
}

// Cell describes one kind of functional unit a controller can host.
type Cell struct {
	Kind Kind
	// Wanted reports whether the configuration asks for this cell.
	Wanted func(cfg platform.ControllerConfig) bool
	New    func() Handler
}
