//go:build linux

package main

import (
	"path/filepath"

	"github.com/micro-nova/tscadc-go/internal/platform"
)

// newHardwarePlatform maps registers through /dev/mem, guards register
// windows with lock files under stateDir and reads clock rates from debugfs.
func newHardwarePlatform(stateDir string) (*hardwarePlatform, error) {
	locks, err := platform.NewLockedTable(filepath.Join(stateDir, "iomem"))
	if err != nil {
		return nil, err
	}
	return &hardwarePlatform{
		space:  locks,
		mapper: platform.DevMem{},
		clocks: platform.SysfsClocks{Root: platform.DefaultClkRoot},
	}, nil
}
