package profile

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 750 * time.Millisecond

// Manager holds the live profile and reloads it when a personality document
// changes on disk. Readers always see a complete profile; a failed reload
// keeps the previous one.
type Manager struct {
	base string
	name string

	mu      sync.RWMutex
	current *Profile

	timerMu sync.Mutex
	timer   *time.Timer
}

func NewManager(base, name string) (*Manager, error) {
	p, err := Load(base, name)
	if err != nil {
		return nil, err
	}
	return &Manager{base: base, name: name, current: p}, nil
}

// Current returns the live profile.
func (m *Manager) Current() *Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Reload re-reads the documents and swaps them in atomically.
func (m *Manager) Reload() error {
	p, err := Load(m.base, m.name)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.current = p
	m.mu.Unlock()
	slog.Info("profile reloaded", "agent", m.name)
	return nil
}

// Watch reloads the profile when any document in the base directory changes,
// debounced, until ctx is done. Editors rewrite files with temp+rename, so
// the watch is on the directory rather than the individual files.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(m.base); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Ext(event.Name) != ".md" {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				m.scheduleReload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("profile watcher error", "error", err)
			}
		}
	}()
	return nil
}

func (m *Manager) scheduleReload() {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(reloadDebounce, func() {
		if err := m.Reload(); err != nil {
			slog.Warn("profile reload failed, keeping previous", "error", err)
		}
	})
}
