// Package devmgr matches platform device descriptions to registered drivers
// and tracks which devices are bound.
//
// Bind and unbind calls are serialized: a driver never sees two concurrent
// probes or removes from the same manager.
package devmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"github.com/micro-nova/tscadc-go/internal/events"
	"github.com/micro-nova/tscadc-go/internal/platform"
)

var (
	ErrDriverExists  = errors.New("driver already registered")
	ErrNoDriver      = errors.New("no driver for device")
	ErrDeviceExists  = errors.New("device already added")
	ErrUnknownDevice = errors.New("unknown device")
	ErrAlreadyBound  = errors.New("device already bound")
	ErrNotBound      = errors.New("device not bound")
)

// DefaultRetryInterval paces probe retries of unbound devices.
const DefaultRetryInterval = time.Second

// Driver is something that can be bound to a platform device.
type Driver interface {
	Name() string
	Probe(dev *platform.Device) error
	Remove(dev *platform.Device) error
}

// Describer is implemented by drivers that can report the state of a bound
// device.
type Describer interface {
	Describe(dev *platform.Device) any
}

// Status is the externally visible state of one device.
type Status struct {
	Name      string                     `json:"name"`
	Driver    string                     `json:"driver"`
	Bound     bool                       `json:"bound"`
	Attempts  int                        `json:"probe_attempts"`
	LastError string                     `json:"last_error,omitempty"`
	Resources []platform.Resource        `json:"resources"`
	Config    *platform.ControllerConfig `json:"config,omitempty"`
	Detail    any                        `json:"detail,omitempty"`
}

type entry struct {
	dev      *platform.Device
	bound    bool
	attempts int
	lastErr  error
}

// Manager owns the set of known devices and registered drivers.
type Manager struct {
	mu      sync.Mutex
	drivers map[string]Driver
	devices map[string]*entry
	order   []string
	bus     *events.Bus
	limiter *rate.Limiter
}

// New returns a manager publishing lifecycle events on bus, which may be nil.
// Retries are paced at one probe per interval.
func New(bus *events.Bus, interval time.Duration) *Manager {
	if interval <= 0 {
		interval = DefaultRetryInterval
	}
	return &Manager{
		drivers: make(map[string]Driver),
		devices: make(map[string]*entry),
		bus:     bus,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

func (m *Manager) publish(typ events.Type, dev *platform.Device, err error) {
	if m.bus == nil {
		return
	}
	ev := events.Event{Type: typ, Device: dev.Name, Driver: dev.Driver}
	if err != nil {
		ev.Error = err.Error()
	}
	m.bus.Publish(ev)
}

// RegisterDriver makes d available for binding. Devices already added that
// name d are probed immediately.
func (m *Manager) RegisterDriver(d Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drivers[d.Name()]; ok {
		return fmt.Errorf("devmgr: %s: %w", d.Name(), ErrDriverExists)
	}
	m.drivers[d.Name()] = d
	slog.Info("devmgr: driver registered", "driver", d.Name())

	for _, name := range m.order {
		e := m.devices[name]
		if !e.bound && e.dev.Driver == d.Name() {
			_ = m.bindLocked(e)
		}
	}
	return nil
}

// Add records dev and tries to bind it. The device stays known even if the
// probe fails; the probe error is returned.
func (m *Manager) Add(dev *platform.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[dev.Name]; ok {
		return fmt.Errorf("devmgr: %s: %w", dev.Name, ErrDeviceExists)
	}
	e := &entry{dev: dev}
	m.devices[dev.Name] = e
	m.order = append(m.order, dev.Name)
	slog.Info("devmgr: device added", "dev", dev.Name, "driver", dev.Driver)
	m.publish(events.Added, dev, nil)
	return m.bindLocked(e)
}

// Replace swaps the description of an existing device for dev, unbinding the
// old one first. Unknown devices are simply added. A description identical to
// the current one leaves the device untouched.
func (m *Manager) Replace(dev *platform.Device) error {
	m.mu.Lock()
	e, ok := m.devices[dev.Name]
	same := ok && e.dev.SameDescription(dev)
	m.mu.Unlock()
	if same {
		slog.Debug("devmgr: description unchanged", "dev", dev.Name)
		return nil
	}
	if err := m.Delete(dev.Name); err != nil && !errors.Is(err, ErrUnknownDevice) {
		return err
	}
	return m.Add(dev)
}

// Bind probes the named device.
func (m *Manager) Bind(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookupLocked(name)
	if err != nil {
		return err
	}
	if e.bound {
		return fmt.Errorf("devmgr: %s: %w", name, ErrAlreadyBound)
	}
	return m.bindLocked(e)
}

// Unbind removes the driver from the named device.
func (m *Manager) Unbind(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookupLocked(name)
	if err != nil {
		return err
	}
	return m.unbindLocked(e)
}

// Delete unbinds the named device if needed and forgets it.
func (m *Manager) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookupLocked(name)
	if err != nil {
		return err
	}
	var errs error
	if e.bound {
		errs = m.unbindLocked(e)
	}
	delete(m.devices, name)
	m.order = slices.DeleteFunc(m.order, func(n string) bool { return n == name })
	slog.Info("devmgr: device deleted", "dev", name)
	m.publish(events.Deleted, e.dev, nil)
	return errs
}

func (m *Manager) lookupLocked(name string) (*entry, error) {
	e, ok := m.devices[name]
	if !ok {
		return nil, fmt.Errorf("devmgr: %s: %w", name, ErrUnknownDevice)
	}
	return e, nil
}

func (m *Manager) bindLocked(e *entry) error {
	d, ok := m.drivers[e.dev.Driver]
	if !ok {
		e.lastErr = fmt.Errorf("devmgr: %s: %w %q", e.dev.Name, ErrNoDriver, e.dev.Driver)
		slog.Debug("devmgr: deferring probe", "dev", e.dev.Name, "driver", e.dev.Driver)
		return e.lastErr
	}
	e.attempts++
	if err := d.Probe(e.dev); err != nil {
		e.lastErr = err
		slog.Warn("devmgr: probe failed", "dev", e.dev.Name, "driver", d.Name(), "attempt", e.attempts, "err", err)
		m.publish(events.ProbeFailed, e.dev, err)
		return err
	}
	e.bound = true
	e.lastErr = nil
	slog.Info("devmgr: bound", "dev", e.dev.Name, "driver", d.Name())
	m.publish(events.Bound, e.dev, nil)
	return nil
}

func (m *Manager) unbindLocked(e *entry) error {
	if !e.bound {
		return fmt.Errorf("devmgr: %s: %w", e.dev.Name, ErrNotBound)
	}
	d := m.drivers[e.dev.Driver]
	err := d.Remove(e.dev)
	// A failed remove still leaves the device unbound.
	e.bound = false
	e.lastErr = err
	if err != nil {
		slog.Error("devmgr: remove failed", "dev", e.dev.Name, "driver", d.Name(), "err", err)
	} else {
		slog.Info("devmgr: unbound", "dev", e.dev.Name, "driver", d.Name())
	}
	m.publish(events.Unbound, e.dev, err)
	return err
}

// Devices returns the status of every known device in the order they were
// added.
func (m *Manager) Devices() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.statusLocked(m.devices[name]))
	}
	return out
}

// Device returns the status of the named device.
func (m *Manager) Device(name string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookupLocked(name)
	if err != nil {
		return Status{}, err
	}
	return m.statusLocked(e), nil
}

func (m *Manager) statusLocked(e *entry) Status {
	st := Status{
		Name:      e.dev.Name,
		Driver:    e.dev.Driver,
		Bound:     e.bound,
		Attempts:  e.attempts,
		Resources: e.dev.Resources,
		Config:    e.dev.Config,
	}
	if e.lastErr != nil {
		st.LastError = e.lastErr.Error()
	}
	if d, ok := m.drivers[e.dev.Driver].(Describer); ok && e.bound {
		st.Detail = d.Describe(e.dev)
	}
	return st
}

// Retry probes every unbound device that has a driver, one at a time at the
// manager's retry rate. It returns early if ctx is cancelled.
func (m *Manager) Retry(ctx context.Context) error {
	m.mu.Lock()
	var pending []string
	for _, name := range m.order {
		e := m.devices[name]
		if _, ok := m.drivers[e.dev.Driver]; ok && !e.bound {
			pending = append(pending, name)
		}
	}
	m.mu.Unlock()

	for _, name := range pending {
		if err := m.limiter.Wait(ctx); err != nil {
			return err
		}
		m.mu.Lock()
		// The device may have been bound or deleted while we waited.
		if e, ok := m.devices[name]; ok && !e.bound {
			_ = m.bindLocked(e)
		}
		m.mu.Unlock()
	}
	return nil
}

// RetryLoop calls Retry every interval until ctx is done.
func (m *Manager) RetryLoop(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := m.Retry(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("devmgr: retry failed", "err", err)
			}
		}
	}
}

// Shutdown unbinds every bound device, most recently added first.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs error
	for i := len(m.order) - 1; i >= 0; i-- {
		e := m.devices[m.order[i]]
		if e.bound {
			errs = multierr.Append(errs, m.unbindLocked(e))
		}
	}
	return errs
}
