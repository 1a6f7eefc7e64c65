package platform_test

import (
	"errors"
	"testing"

	"github.com/micro-nova/tscadc-go/internal/hardware"
	"github.com/micro-nova/tscadc-go/internal/platform"
)

func TestMemMapperLifecycle(t *testing.T) {
	m := platform.NewMemMapper()
	r := platform.Range{Start: 0x44E0D000, End: 0x44E0EFFF}

	mp, err := m.Map(r)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if m.Live() != 1 {
		t.Errorf("Live = %d, want 1", m.Live())
	}
	mp.Write(hardware.RegCLKDIV, 7)
	if got := m.Bank(r.Start).GetReg(hardware.RegCLKDIV); got != 7 {
		t.Errorf("bank CLKDIV = %d, want 7", got)
	}

	if err := mp.Unmap(); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
	if m.Live() != 0 {
		t.Errorf("Live = %d after unmap, want 0", m.Live())
	}
	if !m.Bank(r.Start).Closed() {
		t.Error("bank still live after unmap")
	}
	if err := mp.Unmap(); !errors.Is(err, platform.ErrNotMapped) {
		t.Errorf("second Unmap err = %v, want ErrNotMapped", err)
	}
}

func TestMemMapperFailure(t *testing.T) {
	m := platform.NewMemMapper()
	m.SetFailMap(true)
	if _, err := m.Map(platform.Range{Start: 0, End: 0xFFF}); !errors.Is(err, platform.ErrMapFailed) {
		t.Errorf("err = %v, want ErrMapFailed", err)
	}
	if m.Live() != 0 {
		t.Errorf("Live = %d, want 0", m.Live())
	}
}
