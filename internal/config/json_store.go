package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/micro-nova/tscadc-go/internal/platform"
)

// Ext is the extension of description files.
const Ext = ".json"

var ErrNoName = errors.New("description has no device name")

// JSONStore reads one description per *.json file in a directory.
type JSONStore struct {
	dir string
}

// NewJSONStore creates a store over the given config directory.
func NewJSONStore(dir string) *JSONStore {
	return &JSONStore{dir: dir}
}

// Path returns the config directory.
func (s *JSONStore) Path() string { return s.dir }

// Load reads every description in the directory, sorted by file name.
// A missing directory yields no devices.
func (s *JSONStore) Load() ([]*platform.Device, error) {
	files, err := s.Files()
	if err != nil {
		return nil, err
	}
	var devs []*platform.Device
	for _, path := range files {
		dev, err := LoadFile(path)
		if err != nil {
			slog.Warn("config: skipping invalid description", "file", filepath.Base(path), "err", err)
			continue
		}
		devs = append(devs, dev)
	}
	return devs, nil
}

// Files lists the description files in the directory, sorted by name.
func (s *JSONStore) Files() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var files []string
	for _, e := range entries {
		if e.IsDir() || !IsDescription(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(s.dir, e.Name()))
	}
	return files, nil
}

// IsDescription reports whether a file name looks like a description.
func IsDescription(name string) bool {
	base := filepath.Base(name)
	return strings.HasSuffix(base, Ext) && !strings.HasPrefix(base, ".")
}

// LoadFile parses a single description file.
func LoadFile(path string) (*platform.Device, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a description. A missing config record is not an error
// here: the driver rejects it at probe time.
func Parse(data []byte) (*platform.Device, error) {
	var dev platform.Device
	if err := json.Unmarshal(data, &dev); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if dev.Name == "" {
		return nil, ErrNoName
	}
	return &dev, nil
}

var _ Store = (*JSONStore)(nil)
