package devmgr

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/micro-nova/tscadc-go/internal/config"
)

// Load adds every description store yields. Probe failures are logged and
// left for Retry; only a failing store is an error.
func (m *Manager) Load(store config.Store) error {
	devs, err := store.Load()
	if err != nil {
		return err
	}
	for _, dev := range devs {
		if err := m.Add(dev); err != nil {
			slog.Debug("devmgr: device not bound", "dev", dev.Name, "src", store.Path(), "err", err)
		}
	}
	return nil
}

// Watch adds every description in the store's directory and then follows
// the directory until ctx is done: new or rewritten files are (re)added,
// removed or renamed files delete their device. Devices added by Watch stay
// known after it returns.
func (m *Manager) Watch(ctx context.Context, store *config.JSONStore) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(store.Path()); err != nil {
		return err
	}

	files, err := store.Files()
	if err != nil {
		return err
	}
	byPath := make(map[string]string)
	for _, path := range files {
		m.syncFile(byPath, path)
	}
	slog.Info("devmgr: watching config dir", "dir", store.Path(), "descriptions", len(byPath))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !config.IsDescription(event.Name) {
				continue
			}
			switch {
			case event.Has(fsnotify.Write) || event.Has(fsnotify.Create):
				m.syncFile(byPath, event.Name)
			case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
				m.dropFile(byPath, event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("devmgr: watcher error", "err", err)
		}
	}
}

func (m *Manager) syncFile(byPath map[string]string, path string) {
	dev, err := config.LoadFile(path)
	if err != nil {
		slog.Warn("devmgr: ignoring description", "file", filepath.Base(path), "err", err)
		return
	}
	if old, ok := byPath[path]; ok && old != dev.Name {
		m.dropFile(byPath, path)
	}
	byPath[path] = dev.Name
	if err := m.Replace(dev); err != nil {
		slog.Debug("devmgr: device not bound", "dev", dev.Name, "err", err)
	}
}

func (m *Manager) dropFile(byPath map[string]string, path string) {
	name, ok := byPath[path]
	if !ok {
		return
	}
	delete(byPath, path)
	if err := m.Delete(name); err != nil {
		slog.Warn("devmgr: delete failed", "dev", name, "err", err)
	}
}
