// Package cache persists what is known about positioning devices between
// runs: which devices were confirmed and how reliably they answered.
package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/posdev/internal/device"
	"gopkg.in/yaml.v3"
)

// Entry is one remembered device.
type Entry struct {
	Kind         device.Kind `yaml:"kind"`
	Key          string      `yaml:"key"`
	Name         string      `yaml:"name,omitempty"`
	Successes    int         `yaml:"successes"`
	Failures     int         `yaml:"failures"`
	LastDetected time.Time   `yaml:"last_detected,omitempty"`
}

func (e Entry) Identity() device.Identity {
	return device.Identity{Kind: e.Kind, Key: e.Key}
}

func (e Entry) Reliability() device.Reliability {
	return device.Reliability{
		Successes:    e.Successes,
		Failures:     e.Failures,
		LastDetected: e.LastDetected,
	}
}

type file struct {
	Version int     `yaml:"version"`
	Devices []Entry `yaml:"devices"`
}

const fileVersion = 1

// Registry is a YAML-backed device cache. An empty path keeps the cache in
// memory only.
type Registry struct {
	mu      sync.RWMutex
	path    string
	entries []Entry
	logger  *logrus.Logger
}

// Open loads the registry at path. A missing file yields an empty registry.
func Open(path string, logger *logrus.Logger) (*Registry, error) {
	if logger == nil {
		logger = logrus.New()
	}
	r := &Registry{path: path, logger: logger}
	if path == "" {
		return r, nil
	}

	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.WithField("path", path).Debug("Device cache not found, starting empty")
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read device cache %s: %w", path, err)
	}

	var f file
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("failed to parse device cache %s: %w", path, err)
	}
	if f.Version > fileVersion {
		return nil, fmt.Errorf("device cache %s has unsupported version %d", path, f.Version)
	}
	for _, e := range f.Devices {
		if e.Key == "" || (e.Kind != device.KindSerial && e.Kind != device.KindWireless) {
			logger.WithFields(logrus.Fields{"kind": e.Kind, "key": e.Key}).Warn("Skipping malformed cache entry")
			continue
		}
		if r.indexLocked(e.Identity()) >= 0 {
			continue
		}
		r.entries = append(r.entries, e)
	}
	logger.WithFields(logrus.Fields{"path": path, "devices": len(r.entries)}).Debug("Device cache loaded")
	return r, nil
}

// Path returns the backing file, or "" for an in-memory registry.
func (r *Registry) Path() string {
	return r.path
}

// Entries returns the remembered devices of kind in the order they were
// first recorded. An empty kind returns all of them.
func (r *Registry) Entries(kind device.Kind) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if kind == "" || e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Lookup returns the entry for id.
func (r *Registry) Lookup(id device.Identity) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := r.indexLocked(id); i >= 0 {
		return r.entries[i], true
	}
	return Entry{}, false
}

func (r *Registry) indexLocked(id device.Identity) int {
	for i, e := range r.entries {
		if e.Identity().Equal(id) {
			return i
		}
	}
	return -1
}

// Record stores the detection history of a device and saves the file.
// Unconfirmed devices that were never confirmed before are not remembered.
func (r *Registry) Record(id device.Identity, name string, rel device.Reliability, confirmed bool) error {
	r.mu.Lock()
	i := r.indexLocked(id)
	if i < 0 {
		if !confirmed {
			r.mu.Unlock()
			return nil
		}
		r.entries = append(r.entries, Entry{Kind: id.Kind, Key: id.Key})
		i = len(r.entries) - 1
	}
	e := &r.entries[i]
	if name != "" {
		e.Name = name
	}
	e.Successes = rel.Successes
	e.Failures = rel.Failures
	if !rel.LastDetected.IsZero() {
		e.LastDetected = rel.LastDetected.UTC()
	}
	r.mu.Unlock()

	return r.Save()
}

// Purge forgets every device and removes the backing file.
func (r *Registry) Purge() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
	if r.path == "" {
		return nil
	}
	if err := os.Remove(r.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove device cache %s: %w", r.path, err)
	}
	r.logger.WithField("path", r.path).Info("Device cache purged")
	return nil
}

// Save writes the registry atomically through a temporary file.
func (r *Registry) Save() error {
	r.mu.RLock()
	f := file{Version: fileVersion, Devices: append([]Entry(nil), r.entries...)}
	r.mu.RUnlock()
	if r.path == "" {
		return nil
	}

	b, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("failed to encode device cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(r.path), "."+filepath.Base(r.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to write device cache: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write device cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write device cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write device cache: %w", err)
	}
	return nil
}

// DefaultPath returns the per-user cache location.
func DefaultPath() string {
	dir, err := os.UserCacheDir()
	if err != nil || strings.TrimSpace(dir) == "" {
		return ""
	}
	return filepath.Join(dir, "posdev", "devices.yaml")
}
