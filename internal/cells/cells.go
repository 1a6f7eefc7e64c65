// Package cells provides the stock cell handlers of the TSC/ADC controller.
// They validate their share of the configuration and hold the parent's
// register context while bound; sampling itself lives elsewhere.
package cells

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/micro-nova/tscadc-go/internal/platform"
	"github.com/micro-nova/tscadc-go/internal/subdev"
)

// MaxChannels is the number of analog inputs the subsystem multiplexes.
const MaxChannels = 8

var (
	ErrBadWires     = errors.New("unsupported touchscreen wire count")
	ErrBadChannels  = errors.New("invalid adc channel count")
	ErrChannelsFull = errors.New("touchscreen and adc channels exceed inputs")
	ErrNotBound     = errors.New("cell not bound")
	ErrAlreadyBound = errors.New("cell already bound")
)

// Default returns the controller's cells in activation order.
func Default() []subdev.Cell {
	return []subdev.Cell{Touchscreen(), ADC()}
}

// Touchscreen describes the touchscreen cell, wanted when the board wires a
// panel.
func Touchscreen() subdev.Cell {
	return subdev.Cell{
		Kind:   subdev.KindTouchscreen,
		Wanted: func(cfg platform.ControllerConfig) bool { return cfg.TSCWires > 0 },
		New:    func() subdev.Handler { return &TSC{} },
	}
}

// ADC describes the general purpose ADC cell, wanted when the board hands it
// at least one channel.
func ADC() subdev.Cell {
	return subdev.Cell{
		Kind:   subdev.KindADC,
		Wanted: func(cfg platform.ControllerConfig) bool { return cfg.ADCChannels > 0 },
		New:    func() subdev.Handler { return &GPADC{} },
	}
}

// binding is the state shared by both handlers.
type binding struct {
	mu     sync.Mutex
	parent *subdev.Parent
}

func (b *binding) bind(p *subdev.Parent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.parent != nil {
		return ErrAlreadyBound
	}
	b.parent = p
	return nil
}

func (b *binding) unbind() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.parent == nil {
		return ErrNotBound
	}
	b.parent = nil
	return nil
}

// Bound reports whether the handler currently holds a parent.
func (b *binding) Bound() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.parent != nil
}

// TSC is the touchscreen cell handler.
type TSC struct {
	binding
	Wires int
}

func (t *TSC) Add(p *subdev.Parent) error {
	cfg := p.Config
	switch cfg.TSCWires {
	case 4, 5, 8:
	default:
		return fmt.Errorf("tsc: %d wires: %w", cfg.TSCWires, ErrBadWires)
	}
	if cfg.TSCWires+cfg.ADCChannels > MaxChannels {
		return fmt.Errorf("tsc: %d wires + %d adc channels: %w", cfg.TSCWires, cfg.ADCChannels, ErrChannelsFull)
	}
	if err := t.bind(p); err != nil {
		return fmt.Errorf("tsc: %w", err)
	}
	t.Wires = cfg.TSCWires
	slog.Debug("tsc: bound", "dev", p.Device, "wires", cfg.TSCWires, "x_plate_ohms", cfg.XPlateResistance)
	return nil
}

func (t *TSC) Remove() error {
	if err := t.unbind(); err != nil {
		return fmt.Errorf("tsc: %w", err)
	}
	slog.Debug("tsc: unbound")
	return nil
}

// GPADC is the general purpose ADC cell handler.
type GPADC struct {
	binding
	Channels int
}

func (a *GPADC) Add(p *subdev.Parent) error {
	cfg := p.Config
	if cfg.ADCChannels < 1 || cfg.ADCChannels > MaxChannels {
		return fmt.Errorf("adc: %d channels: %w", cfg.ADCChannels, ErrBadChannels)
	}
	if cfg.TSCWires+cfg.ADCChannels > MaxChannels {
		return fmt.Errorf("adc: %d wires + %d channels: %w", cfg.TSCWires, cfg.ADCChannels, ErrChannelsFull)
	}
	if err := a.bind(p); err != nil {
		return fmt.Errorf("adc: %w", err)
	}
	a.Channels = cfg.ADCChannels
	slog.Debug("adc: bound", "dev", p.Device, "channels", cfg.ADCChannels)
	return nil
}

func (a *GPADC) Remove() error {
	if err := a.unbind(); err != nil {
		return fmt.Errorf("adc: %w", err)
	}
	slog.Debug("adc: unbound")
	return nil
}

var (
	_ subdev.Handler = (*TSC)(nil)
	_ subdev.Handler = (*GPADC)(nil)
)
