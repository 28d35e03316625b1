// Package config provides configuration loading and hot reload.
package config

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Holder hands out the current *Config and swaps it atomically on
// reload. Only the plan catalog, capability pricing, and logging
// section take effect without a restart; the server, database, and
// key sections are read once at startup, and a reload that touches
// them logs a warning instead of applying.
type Holder struct {
	path   string
	logger zerolog.Logger

	current atomic.Pointer[Config]

	mu          sync.Mutex
	subscribers []func(*Config)

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewHolder loads the file at path and returns a holder serving it.
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}

	h := &Holder{
		path:   abs,
		logger: logger,
		done:   make(chan struct{}),
	}
	h.current.Store(cfg)
	return h, nil
}

// Get returns the current configuration.
func (h *Holder) Get() *Config {
	return h.current.Load()
}

// OnChange registers fn to run after a reload changes a hot-swappable
// section. The new config is already visible through Get when fn runs.
func (h *Holder) OnChange(fn func(*Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers = append(h.subscribers, fn)
}

// Reload re-reads the file. A load failure keeps the old config in
// place. Subscribers are notified only when the plans, capability
// pricing, or logging section actually changed.
func (h *Holder) Reload() error {
	next, err := Load(h.path)
	if err != nil {
		h.logger.Error().Err(err).Str("path", h.path).Msg("config reload failed, keeping old config")
		return fmt.Errorf("reload config: %w", err)
	}

	prev := h.current.Swap(next)

	if staticSectionsChanged(prev, next) {
		h.logger.Warn().Msg("server, database, or key settings changed; restart required to apply")
	}
	if !hotSectionsChanged(prev, next) {
		h.logger.Debug().Str("path", h.path).Msg("config reloaded, no hot-swappable changes")
		return nil
	}

	h.logger.Info().
		Int("plans", len(next.Plans)).
		Int("capability_prices", len(next.CapabilityPricing)).
		Str("log_level", next.Logging.Level).
		Msg("configuration reloaded")

	h.mu.Lock()
	subs := append([]func(*Config){}, h.subscribers...)
	h.mu.Unlock()
	for _, fn := range subs {
		fn(next)
	}
	return nil
}

// hotSectionsChanged reports whether a section that applies without a
// restart differs between the two configs.
func hotSectionsChanged(prev, next *Config) bool {
	return !reflect.DeepEqual(prev.Plans, next.Plans) ||
		!reflect.DeepEqual(prev.CapabilityPricing, next.CapabilityPricing) ||
		prev.Logging != next.Logging
}

// staticSectionsChanged reports whether a restart-only section differs.
func staticSectionsChanged(prev, next *Config) bool {
	return prev.Server != next.Server ||
		prev.Database != next.Database ||
		prev.Keys != next.Keys
}

// WatchFile reloads whenever the config file is rewritten. The parent
// directory is watched because editors and configuration management
// tools replace the file on save.
func (h *Holder) WatchFile() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(h.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	h.watcher = watcher

	go func() {
		name := filepath.Base(h.path)
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != name || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := h.Reload(); err != nil {
					h.logger.Error().Err(err).Msg("file watch reload failed")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				h.logger.Error().Err(err).Msg("file watcher error")
			case <-h.done:
				return
			}
		}
	}()

	h.logger.Info().Str("path", h.path).Msg("watching config file for changes")
	return nil
}

// WatchSignals reloads on SIGHUP.
func (h *Holder) WatchSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case <-sigCh:
				if err := h.Reload(); err != nil {
					h.logger.Error().Err(err).Msg("SIGHUP reload failed")
				}
			case <-h.done:
				return
			}
		}
	}()
}

// Stop ends file and signal watching.
func (h *Holder) Stop() {
	close(h.done)
	if h.watcher != nil {
		h.watcher.Close()
	}
}
