// Package auth gates the operating endpoints of the HTTP surface behind
// operator keys read from operators.json in the state directory. With no
// keys configured every request passes.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// KeysFileName is the operator key file inside the state directory.
const KeysFileName = "operators.json"

// Operator is one entry of the key file, keyed by operator name.
type Operator struct {
	Key     string `json:"key"`
	Comment string `json:"comment,omitempty"`
}

// Service verifies operator keys. The key file is reloaded whenever it
// changes on disk.
type Service struct {
	mu        sync.RWMutex
	dir       string
	operators map[string]Operator
	watcher   *fsnotify.Watcher
}

// NewService loads the key file from dir and starts watching it. A missing
// file or directory leaves the service open.
func NewService(dir string) (*Service, error) {
	s := &Service{
		dir:       dir,
		operators: make(map[string]Operator),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("auth: could not create fsnotify watcher", "err", err)
		return s, nil
	}
	s.watcher = watcher
	if err := watcher.Add(dir); err != nil {
		slog.Warn("auth: could not watch state dir", "dir", dir, "err", err)
	}
	go s.watchLoop(s.keysPath())
	return s, nil
}

func (s *Service) keysPath() string {
	return filepath.Join(s.dir, KeysFileName)
}

// Reload re-reads the key file.
func (s *Service) Reload() error {
	data, err := os.ReadFile(s.keysPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.mu.Lock()
			s.operators = make(map[string]Operator)
			s.mu.Unlock()
			return nil
		}
		return err
	}

	var ops map[string]Operator
	if err := json.Unmarshal(data, &ops); err != nil {
		return err
	}
	for name, op := range ops {
		if op.Key == "" {
			slog.Warn("auth: operator has no key", "operator", name)
			delete(ops, name)
		}
	}

	s.mu.Lock()
	s.operators = ops
	s.mu.Unlock()
	slog.Debug("auth: reloaded operators", "count", len(ops))
	return nil
}

// IsOpen reports whether no operator keys are configured.
func (s *Service) IsOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.operators) == 0
}

// Verify returns the operator owning key. Keys are compared in constant
// time; the empty key never matches.
func (s *Service) Verify(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for name, op := range s.operators {
		if subtle.ConstantTimeCompare([]byte(key), []byte(op.Key)) == 1 {
			return name, true
		}
	}
	return "", false
}

// Close stops the file watcher.
func (s *Service) Close() {
	if s.watcher != nil {
		s.watcher.Close()
	}
}

func (s *Service) watchLoop(keysPath string) {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Name != keysPath {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) {
				if err := s.Reload(); err != nil {
					slog.Warn("auth: failed to reload operators", "err", err)
				}
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("auth: watcher error", "err", err)
		}
	}
}
