// Package config loads platform device descriptions.
//
// Each description is a JSON file naming the device, the driver that should
// bind it, its resource table and the controller configuration record.
package config

import "github.com/micro-nova/tscadc-go/internal/platform"

// Store is a source of platform device descriptions.
type Store interface {
	// Load returns every valid description. Files that fail to parse are
	// skipped and logged.
	Load() ([]*platform.Device, error)

	// Path returns the location the store reads from.
	Path() string
}
