package tscadc_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/micro-nova/tscadc-go/internal/cells"
	"github.com/micro-nova/tscadc-go/internal/hardware"
	"github.com/micro-nova/tscadc-go/internal/platform"
	"github.com/micro-nova/tscadc-go/internal/subdev"
	"github.com/micro-nova/tscadc-go/internal/tscadc"
	"periph.io/x/conn/v3/physic"
)

const regBase = 0x44E0D000

type fixture struct {
	table  *platform.Table
	mapper *platform.MemMapper
	power  *platform.Power
	clocks platform.StaticClocks
	drv    *tscadc.Driver
}

func newFixture(t *testing.T, clk physic.Frequency, cs []subdev.Cell) *fixture {
	t.Helper()
	f := &fixture{
		table:  platform.NewTable(),
		mapper: platform.NewMemMapper(),
		clocks: platform.StaticClocks{tscadc.FunctionalClock: clk},
	}
	f.power = platform.NewPower(f.clocks)
	f.drv = tscadc.NewDriver(f.table, f.mapper, f.power, cs)
	return f
}

func newDevice(name string, base uint64) *platform.Device {
	return &platform.Device{
		Name:   name,
		Driver: tscadc.DriverName,
		Config: &platform.ControllerConfig{ADCChannels: 4, TSCWires: 4, XPlateResistance: 200},
		Resources: []platform.Resource{
			{Kind: platform.ResourceMem, Start: base, End: base + 0x1FFF},
			{Kind: platform.ResourceIRQ, Start: 16},
		},
	}
}

// assertReleased checks that nothing taken for dev is still held.
func (f *fixture) assertReleased(t *testing.T, dev *platform.Device) {
	t.Helper()
	if n := f.table.Outstanding(); n != 0 {
		t.Errorf("%d reservations outstanding", n)
	}
	if n := f.mapper.Live(); n != 0 {
		t.Errorf("%d mappings live", n)
	}
	if n := f.power.Usage(dev.Name); n != 0 {
		t.Errorf("power usage = %d, want 0", n)
	}
	if f.power.Enabled(dev.Name) {
		t.Error("runtime pm still enabled")
	}
	if n := f.drv.Live(); n != 0 {
		t.Errorf("%d controller handles live", n)
	}
	if _, ok := tscadc.FromDevice(dev); ok {
		t.Error("controller still published on device")
	}
}

func kinds(entries []subdev.Entry) []subdev.Kind {
	out := make([]subdev.Kind, len(entries))
	for i, e := range entries {
		out[i] = e.Kind
	}
	return out
}

func TestProbeRemove(t *testing.T) {
	f := newFixture(t, 24*physic.MegaHertz, cells.Default())
	dev := newDevice("tscadc.0", regBase)

	if err := f.drv.Probe(dev); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	c, ok := tscadc.FromDevice(dev)
	if !ok {
		t.Fatal("controller not published")
	}
	if c.State() != tscadc.Running {
		t.Errorf("state = %s, want running", c.State())
	}
	if c.IRQ() != 16 || c.Divider() != 7 {
		t.Errorf("irq=%d clkdiv=%d, want 16, 7", c.IRQ(), c.Divider())
	}
	want := []subdev.Kind{subdev.KindTouchscreen, subdev.KindADC}
	if diff := cmp.Diff(want, kinds(c.Subdevices())); diff != "" {
		t.Errorf("sub-devices (-want +got):\n%s", diff)
	}

	if f.table.Outstanding() != 1 || f.mapper.Live() != 1 || f.power.Usage(dev.Name) != 1 {
		t.Errorf("held: reservations=%d mappings=%d power=%d",
			f.table.Outstanding(), f.mapper.Live(), f.power.Usage(dev.Name))
	}

	snap, err := c.Registers()
	if err != nil {
		t.Fatalf("Registers: %v", err)
	}
	wantSnap := hardware.RegisterSnapshot{
		ClkDiv:     7,
		Ctrl:       hardware.OperatingBits | hardware.CtrlSSEnable,
		IdleConfig: hardware.IdleConfig,
	}
	if snap != wantSnap {
		t.Errorf("registers = %+v, want %+v", snap, wantSnap)
	}

	if err := f.drv.Remove(dev); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if c.State() != tscadc.Destroyed {
		t.Errorf("state after remove = %s", c.State())
	}
	if len(c.Subdevices()) != 0 {
		t.Errorf("sub-devices after remove = %v", c.Subdevices())
	}
	f.assertReleased(t, dev)

	if _, err := c.Read(hardware.RegCTRL); !errors.Is(err, tscadc.ErrInvalidHandle) {
		t.Errorf("Read after remove err = %v, want ErrInvalidHandle", err)
	}
	if err := f.drv.Remove(dev); !errors.Is(err, tscadc.ErrInvalidHandle) {
		t.Errorf("second Remove err = %v, want ErrInvalidHandle", err)
	}
}

func TestProbeRegisterSequence(t *testing.T) {
	f := newFixture(t, 24*physic.MegaHertz, nil)
	dev := newDevice("tscadc.0", regBase)
	if err := f.drv.Probe(dev); err != nil {
		t.Fatalf("Probe: %v", err)
	}

	ctrl := hardware.NewControlWord(hardware.OperatingBits).Value()
	want := []hardware.Access{
		{Write: true, Off: hardware.RegCLKDIV, Val: 7},
		{Write: true, Off: hardware.RegCTRL, Val: ctrl},
		{Write: true, Off: hardware.RegIDLECONFIG, Val: hardware.IdleConfig},
		{Off: hardware.RegCTRL, Val: ctrl},
		{Write: true, Off: hardware.RegCTRL, Val: ctrl | hardware.CtrlSSEnable},
	}
	if diff := cmp.Diff(want, f.mapper.Bank(regBase).Log()); diff != "" {
		t.Errorf("register accesses (-want +got):\n%s", diff)
	}
}

func TestProbeOnlyConfiguredCells(t *testing.T) {
	tests := []struct {
		cfg  platform.ControllerConfig
		want []subdev.Kind
	}{
		{platform.ControllerConfig{ADCChannels: 8}, []subdev.Kind{subdev.KindADC}},
		{platform.ControllerConfig{TSCWires: 4}, []subdev.Kind{subdev.KindTouchscreen}},
		{platform.ControllerConfig{}, []subdev.Kind{}},
	}
	for _, tc := range tests {
		f := newFixture(t, 24*physic.MegaHertz, cells.Default())
		dev := newDevice("tscadc.0", regBase)
		cfg := tc.cfg
		dev.Config = &cfg
		if err := f.drv.Probe(dev); err != nil {
			t.Fatalf("Probe(%+v): %v", tc.cfg, err)
		}
		c, _ := tscadc.FromDevice(dev)
		if diff := cmp.Diff(tc.want, kinds(c.Subdevices())); diff != "" {
			t.Errorf("cfg %+v sub-devices (-want +got):\n%s", tc.cfg, diff)
		}
		if err := f.drv.Remove(dev); err != nil {
			t.Fatalf("Remove: %v", err)
		}
		f.assertReleased(t, dev)
	}
}

func TestProbeValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*platform.Device)
		want   error
	}{
		{"no config", func(d *platform.Device) { d.Config = nil }, tscadc.ErrMissingConfig},
		{"no mem", func(d *platform.Device) { d.Resources = d.Resources[1:] }, tscadc.ErrMissingResource},
		{"inverted mem", func(d *platform.Device) { d.Resources[0].End = d.Resources[0].Start - 1 }, tscadc.ErrMissingResource},
		{"no irq", func(d *platform.Device) { d.Resources = d.Resources[:1] }, tscadc.ErrMissingInterrupt},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, 24*physic.MegaHertz, cells.Default())
			dev := newDevice("tscadc.0", regBase)
			tc.mutate(dev)
			if err := f.drv.Probe(dev); !errors.Is(err, tc.want) {
				t.Fatalf("Probe err = %v, want %v", err, tc.want)
			}
			f.assertReleased(t, dev)
		})
	}

	f := newFixture(t, 24*physic.MegaHertz, nil)
	if err := f.drv.Probe(nil); !errors.Is(err, tscadc.ErrMissingConfig) {
		t.Errorf("Probe(nil) err = %v, want ErrMissingConfig", err)
	}
}

// journal records cell events together with the hardware state seen at the
// time, so tests can check where cell removal falls in the release order.
type journal struct {
	mu     sync.Mutex
	events []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, fmt.Sprintf(format, args...))
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.events...)
}

type probeHandler struct {
	kind    subdev.Kind
	j       *journal
	f       *fixture
	dev     string
	failAdd error
}

func (h *probeHandler) Add(p *subdev.Parent) error {
	if h.failAdd != nil {
		h.j.add("add %s failed", h.kind)
		return h.failAdd
	}
	h.j.add("add %s", h.kind)
	return nil
}

func (h *probeHandler) Remove() error {
	h.j.add("remove %s mapped=%v power=%d", h.kind, h.f.mapper.Live() > 0, h.f.power.Usage(h.dev))
	return nil
}

func journalCell(kind subdev.Kind, j *journal, f **fixture, dev string, failAdd error) subdev.Cell {
	return subdev.Cell{
		Kind: kind,
		New: func() subdev.Handler {
			return &probeHandler{kind: kind, j: j, f: *f, dev: dev, failAdd: failAdd}
		},
	}
}

func TestRemoveReleasesCellsLast(t *testing.T) {
	j := &journal{}
	var f *fixture
	cs := []subdev.Cell{
		journalCell(subdev.KindTouchscreen, j, &f, "tscadc.0", nil),
		journalCell(subdev.KindADC, j, &f, "tscadc.0", nil),
	}
	f = newFixture(t, 24*physic.MegaHertz, cs)
	dev := newDevice("tscadc.0", regBase)
	if err := f.drv.Probe(dev); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if err := f.drv.Remove(dev); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	want := []string{
		"add tsc",
		"add adc",
		"remove adc mapped=false power=0",
		"remove tsc mapped=false power=0",
	}
	if diff := cmp.Diff(want, j.list()); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
	f.assertReleased(t, dev)
}

func TestSubdeviceFailureRollsBack(t *testing.T) {
	cause := errors.New("adc refused")
	j := &journal{}
	var f *fixture
	cs := []subdev.Cell{
		journalCell(subdev.KindTouchscreen, j, &f, "tscadc.0", nil),
		journalCell(subdev.KindADC, j, &f, "tscadc.0", cause),
	}
	f = newFixture(t, 24*physic.MegaHertz, cs)
	dev := newDevice("tscadc.0", regBase)

	err := f.drv.Probe(dev)
	if !errors.Is(err, tscadc.ErrSubdeviceInit) || !errors.Is(err, cause) {
		t.Fatalf("Probe err = %v, want ErrSubdeviceInit wrapping cause", err)
	}
	var serr *tscadc.SubdeviceInitError
	if !errors.As(err, &serr) || serr.Kind != subdev.KindADC {
		t.Fatalf("errors.As SubdeviceInitError = %v (%v)", serr, err)
	}

	// Cells are rolled back first, while the hardware is still held.
	want := []string{
		"add tsc",
		"add adc failed",
		"remove tsc mapped=true power=1",
	}
	if diff := cmp.Diff(want, j.list()); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
	f.assertReleased(t, dev)
}

func TestProbeFailureRollback(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *fixture, dev *platform.Device)
		want    error
		foreign int // reservations held by someone else
	}{
		{
			name: "range busy",
			setup: func(f *fixture, dev *platform.Device) {
				if _, err := f.table.Reserve(platform.Range{Start: regBase + 0x100, End: regBase + 0x1FF}, "other"); err != nil {
					panic(err)
				}
			},
			want:    tscadc.ErrResourceBusy,
			foreign: 1,
		},
		{
			name:  "map failure",
			setup: func(f *fixture, dev *platform.Device) { f.mapper.SetFailMap(true) },
			want:  tscadc.ErrMappingFailed,
		},
		{
			name:  "power failure",
			setup: func(f *fixture, dev *platform.Device) { f.power.SetFailGet(true) },
			want:  platform.ErrPowerFailed,
		},
		{
			name:  "clock missing",
			setup: func(f *fixture, dev *platform.Device) { delete(f.clocks, tscadc.FunctionalClock) },
			want:  platform.ErrNoClock,
		},
		{
			name:  "clock too slow",
			setup: func(f *fixture, dev *platform.Device) { f.clocks[tscadc.FunctionalClock] = 15 * physic.MegaHertz },
			want:  tscadc.ErrClockTooSlow,
		},
		{
			name: "duplicate cell kind",
			setup: func(f *fixture, dev *platform.Device) {
				f.drv.Cells = append(f.drv.Cells, cells.ADC())
			},
			want: tscadc.ErrDuplicateKind,
		},
		{
			name:  "cell rejects config",
			setup: func(f *fixture, dev *platform.Device) { dev.Config.ADCChannels = 5 },
			want:  cells.ErrChannelsFull,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, 24*physic.MegaHertz, cells.Default())
			dev := newDevice("tscadc.0", regBase)
			tc.setup(f, dev)

			if err := f.drv.Probe(dev); !errors.Is(err, tc.want) {
				t.Fatalf("Probe err = %v, want %v", err, tc.want)
			}

			if n := f.table.Outstanding(); n != tc.foreign {
				t.Errorf("reservations = %d, want %d", n, tc.foreign)
			}
			if n := f.mapper.Live(); n != 0 {
				t.Errorf("%d mappings live", n)
			}
			if n := f.power.Usage(dev.Name); n != 0 {
				t.Errorf("power usage = %d", n)
			}
			if f.power.Enabled(dev.Name) {
				t.Error("runtime pm still enabled")
			}
			if n := f.drv.Live(); n != 0 {
				t.Errorf("%d handles live", n)
			}
			if _, ok := tscadc.FromDevice(dev); ok {
				t.Error("partially initialized controller published")
			}
			if bank := f.mapper.Bank(regBase); bank != nil && !bank.Closed() {
				t.Error("register bank left mapped")
			}
		})
	}
}

func TestClockTooSlowWritesNothing(t *testing.T) {
	f := newFixture(t, 15*physic.MegaHertz, cells.Default())
	dev := newDevice("tscadc.0", regBase)
	if err := f.drv.Probe(dev); !errors.Is(err, tscadc.ErrClockTooSlow) {
		t.Fatalf("Probe err = %v, want ErrClockTooSlow", err)
	}
	bank := f.mapper.Bank(regBase)
	if bank == nil {
		t.Fatal("registers were never mapped")
	}
	if log := bank.Log(); len(log) != 0 {
		t.Errorf("register accesses after clock rejection: %v", log)
	}
	f.assertReleased(t, dev)
}

func TestOutOfHandles(t *testing.T) {
	f := newFixture(t, 24*physic.MegaHertz, cells.Default())
	f.drv.MaxControllers = 1
	first := newDevice("tscadc.0", regBase)
	second := newDevice("tscadc.1", regBase+0x10000)

	if err := f.drv.Probe(first); err != nil {
		t.Fatalf("Probe first: %v", err)
	}
	if err := f.drv.Probe(second); !errors.Is(err, tscadc.ErrOutOfMemory) {
		t.Fatalf("Probe second err = %v, want ErrOutOfMemory", err)
	}
	if f.table.Outstanding() != 1 || f.power.Usage(second.Name) != 0 {
		t.Errorf("second probe held resources: reservations=%d power=%d",
			f.table.Outstanding(), f.power.Usage(second.Name))
	}

	if err := f.drv.Remove(first); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := f.drv.Probe(second); err != nil {
		t.Fatalf("Probe second after remove: %v", err)
	}
}

func TestSameRangeTwiceIsBusy(t *testing.T) {
	f := newFixture(t, 24*physic.MegaHertz, cells.Default())
	a := newDevice("tscadc.0", regBase)
	b := newDevice("tscadc.1", regBase)
	if err := f.drv.Probe(a); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if err := f.drv.Probe(b); !errors.Is(err, tscadc.ErrResourceBusy) {
		t.Fatalf("Probe b err = %v, want ErrResourceBusy", err)
	}
	if err := f.drv.Remove(a); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	f.assertReleased(t, a)
}

func TestRemoveDisablesSamplingBeforeUnmap(t *testing.T) {
	f := newFixture(t, 24*physic.MegaHertz, cells.Default())
	dev := newDevice("tscadc.0", regBase)
	if err := f.drv.Probe(dev); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	c, _ := tscadc.FromDevice(dev)
	if err := c.Write(hardware.RegSE, 0x1FFFF); err != nil {
		t.Fatalf("Write SE: %v", err)
	}

	if err := f.drv.Remove(dev); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	bank := f.mapper.Bank(regBase)
	if !bank.Closed() {
		t.Fatal("bank not unmapped")
	}
	log := bank.Log()
	last := log[len(log)-1]
	if !last.Write || last.Off != hardware.RegSE || last.Val != 0 {
		t.Errorf("last access before unmap = %v, want SE=0 write", last)
	}
}

func TestRollbackAfterProgrammingDisablesSampling(t *testing.T) {
	f := newFixture(t, 24*physic.MegaHertz, []subdev.Cell{cells.ADC()})
	dev := newDevice("tscadc.0", regBase)
	dev.Config.ADCChannels = 0
	f.drv.Cells[0].Wanted = nil // force the ADC cell to bind and fail

	if err := f.drv.Probe(dev); !errors.Is(err, cells.ErrBadChannels) {
		t.Fatalf("Probe err = %v, want ErrBadChannels", err)
	}
	if got := f.mapper.Bank(regBase).Writes(hardware.RegSE); len(got) != 1 || got[0] != 0 {
		t.Errorf("SE writes = %v, want [0]", got)
	}
	f.assertReleased(t, dev)
}

func TestReprobeAfterRollback(t *testing.T) {
	f := newFixture(t, 15*physic.MegaHertz, cells.Default())
	dev := newDevice("tscadc.0", regBase)
	if err := f.drv.Probe(dev); err == nil {
		t.Fatal("Probe succeeded with a slow clock")
	}
	f.clocks[tscadc.FunctionalClock] = 24 * physic.MegaHertz
	if err := f.drv.Probe(dev); err != nil {
		t.Fatalf("re-Probe: %v", err)
	}
	if err := f.drv.Remove(dev); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	f.assertReleased(t, dev)
}

func TestStateString(t *testing.T) {
	states := map[tscadc.State]string{
		tscadc.Unconfigured:        "unconfigured",
		tscadc.ResourcesReserved:   "resources-reserved",
		tscadc.ClockValidated:      "clock-validated",
		tscadc.RegistersProgrammed: "registers-programmed",
		tscadc.SubdevicesActive:    "subdevices-active",
		tscadc.Running:             "running",
		tscadc.Destroyed:           "destroyed",
		tscadc.State(99):           "unknown",
	}
	for s, want := range states {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), s.String(), want)
		}
	}
}
