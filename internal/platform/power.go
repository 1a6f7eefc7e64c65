package platform

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/physic"
)

var (
	ErrUnbalanced  = errors.New("unbalanced power reference release")
	ErrPowerFailed = errors.New("power on failed")
	ErrNoClock     = errors.New("clock not found")
)

// ClockSource reports functional clock rates.
type ClockSource interface {
	Rate(name string) (physic.Frequency, error)
}

// StaticClocks is a fixed clock table keyed by clock name.
type StaticClocks map[string]physic.Frequency

func (c StaticClocks) Rate(name string) (physic.Frequency, error) {
	f, ok := c[name]
	if !ok {
		return 0, fmt.Errorf("%s: %w", name, ErrNoClock)
	}
	return f, nil
}

// PowerManager is the runtime power and clock collaborator of a driver.
type PowerManager interface {
	Enable(dev string)
	Disable(dev string)
	// Get takes a usage reference and powers the device up.
	Get(dev string) error
	// Put drops a reference taken by Get.
	Put(dev string) error
	ClockRate(name string) (physic.Frequency, error)
}

// Power is a reference-counted runtime power manager.
type Power struct {
	mu      sync.Mutex
	clocks  ClockSource
	usage   map[string]int
	enabled map[string]bool
	failGet bool
}

// NewPower returns a power manager reading clock rates from clocks.
func NewPower(clocks ClockSource) *Power {
	return &Power{
		clocks:  clocks,
		usage:   make(map[string]int),
		enabled: make(map[string]bool),
	}
}

// SetFailGet makes every subsequent Get fail.
func (p *Power) SetFailGet(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failGet = fail
}

func (p *Power) Enable(dev string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled[dev] = true
}

func (p *Power) Disable(dev string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.enabled, dev)
}

func (p *Power) Get(dev string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failGet {
		return fmt.Errorf("%s: %w (configured)", dev, ErrPowerFailed)
	}
	if !p.enabled[dev] {
		return fmt.Errorf("%s: %w: runtime pm disabled", dev, ErrPowerFailed)
	}
	p.usage[dev]++
	return nil
}

func (p *Power) Put(dev string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.usage[dev] == 0 {
		return fmt.Errorf("%s: %w", dev, ErrUnbalanced)
	}
	p.usage[dev]--
	if p.usage[dev] == 0 {
		delete(p.usage, dev)
	}
	return nil
}

// Usage returns the current reference count of dev.
func (p *Power) Usage(dev string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usage[dev]
}

// Enabled reports whether runtime power management is enabled for dev.
func (p *Power) Enabled(dev string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled[dev]
}

func (p *Power) ClockRate(name string) (physic.Frequency, error) {
	if p.clocks == nil {
		return 0, fmt.Errorf("%s: %w", name, ErrNoClock)
	}
	return p.clocks.Rate(name)
}

var _ PowerManager = (*Power)(nil)
