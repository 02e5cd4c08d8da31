// Package devicesettings holds per-device tuning values loaded from a YAML
// file and reloaded whenever the file changes on disk.
package devicesettings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Keys read by the screen automaton and the device drivers.
const (
	KeyAccountIndex        = "account_index"
	KeyScreenDetection     = "screendetection"
	KeyScreenshotType      = "screenshot_type"
	KeyScreenshotQuality   = "screenshot_quality"
	KeyPostScreenshotDelay = "post_screenshot_delay"
	KeyExtendedLogin       = "extended_login"
	KeyADBSerial           = "adb_serial"
	KeyYOffset             = "y_offset"
)

type file struct {
	Devices map[string]map[string]any `yaml:"devices"`
}

// Settings is a concurrency-safe view of the settings file.
type Settings struct {
	path   string
	logger *zap.Logger

	mu   sync.RWMutex
	data map[string]map[string]any

	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// Load reads the settings file at path. A missing file yields empty settings.
func Load(path string, logger *zap.Logger) (*Settings, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Settings{
		path:   path,
		logger: logger,
		data:   make(map[string]map[string]any),
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) reload() error {
	if s.path == "" {
		return nil
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read device settings: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse device settings: %w", err)
	}
	if f.Devices == nil {
		f.Devices = make(map[string]map[string]any)
	}
	s.mu.Lock()
	// Runtime overrides set via Set survive only until the next reload.
	s.data = f.Devices
	s.mu.Unlock()
	return nil
}

// Get returns the value for key on origin, or def when unset.
func (s *Settings) Get(origin, key string, def any) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if dev, ok := s.data[origin]; ok {
		if v, ok := dev[key]; ok && v != nil {
			return v
		}
	}
	return def
}

// Set overrides a value in memory.
func (s *Settings) Set(origin, key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.data[origin]
	if !ok {
		dev = make(map[string]any)
		s.data[origin] = dev
	}
	dev[key] = value
}

// GetInt returns an integer setting.
func (s *Settings) GetInt(origin, key string, def int) int {
	switch v := s.Get(origin, key, def).(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// GetFloat returns a numeric setting as float64.
func (s *Settings) GetFloat(origin, key string, def float64) float64 {
	switch v := s.Get(origin, key, def).(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

// GetBool returns a boolean setting.
func (s *Settings) GetBool(origin, key string, def bool) bool {
	if v, ok := s.Get(origin, key, def).(bool); ok {
		return v
	}
	return def
}

// GetString returns a string setting.
func (s *Settings) GetString(origin, key string, def string) string {
	if v, ok := s.Get(origin, key, def).(string); ok {
		return v
	}
	return def
}

// Watch starts reloading the file on change. The directory is watched rather
// than the file so editors that replace the file are picked up.
func (s *Settings) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}
	s.watcher = w
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run(ctx)
	return nil
}

// Stop ends watching and waits for the watch loop to exit. Safe to call more than once.
func (s *Settings) Stop() {
	if s.watcher == nil {
		return
	}
	s.stopOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
		s.watcher.Close()
	})
}

func (s *Settings) run(ctx context.Context) {
	defer close(s.doneCh)
	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := s.reload(); err != nil {
				s.logger.Warn("Device settings reload failed", zap.Error(err))
				continue
			}
			s.logger.Info("Device settings reloaded", zap.String("path", s.path))
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("Device settings watcher error", zap.Error(err))
		}
	}
}
