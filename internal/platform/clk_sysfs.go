package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"periph.io/x/conn/v3/physic"
)

// DefaultClkRoot is where the common clock framework exposes clock rates.
const DefaultClkRoot = "/sys/kernel/debug/clk"

// SysfsClocks reads clock rates from the kernel clock tree,
// <root>/<name>/clk_rate.
type SysfsClocks struct {
	Root string
}

func (c SysfsClocks) Rate(name string) (physic.Frequency, error) {
	root := c.Root
	if root == "" {
		root = DefaultClkRoot
	}
	path := filepath.Join(root, name, "clk_rate")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("%s: %w", name, ErrNoClock)
		}
		return 0, fmt.Errorf("clk: read %s: %w", path, err)
	}
	hz, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("clk: parse %s: %w", path, err)
	}
	return physic.Frequency(hz) * physic.Hertz, nil
}
