// Package apikey resolves the gateway API key from a static value or from a
// watched file so operators can rotate credentials without a restart.
package apikey

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"pkt.systems/pslog"

	"pkt.systems/mcpbridge/internal/loggingutil"
)

// Source yields the currently active API key. An empty key means client
// authentication is disabled.
type Source struct {
	logger  pslog.Logger
	path    string
	current atomic.Value

	watcher *fsnotify.Watcher
	stop    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// Static returns a source that always yields key.
func Static(key string) *Source {
	s := &Source{}
	s.current.Store(strings.TrimSpace(key))
	return s
}

// FromFile loads the key from path and watches the containing directory for
// changes. Rotations are picked up as soon as the file is rewritten or
// atomically replaced.
func FromFile(path string, logger pslog.Logger) (*Source, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("apikey: resolve %q: %w", path, err)
	}
	s := &Source{
		logger: loggingutil.EnsureLogger(logger).With("sys", "auth.apikey"),
		path:   abs,
		stop:   make(chan struct{}),
	}
	key, err := readKeyFile(abs)
	if err != nil {
		return nil, err
	}
	s.current.Store(key)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("apikey: create watcher: %w", err)
	}
	// Watch the directory rather than the file itself; atomic replacement
	// swaps the inode and a file watch would go stale after the first rename.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("apikey: watch %q: %w", filepath.Dir(abs), err)
	}
	s.watcher = watcher
	s.wg.Add(1)
	go s.run()
	return s, nil
}

// Current returns the active key.
func (s *Source) Current() string {
	if s == nil {
		return ""
	}
	key, _ := s.current.Load().(string)
	return key
}

// Enabled reports whether a non-empty key is configured.
func (s *Source) Enabled() bool {
	return s.Current() != ""
}

// Close stops the file watcher, if any. Safe to call multiple times.
func (s *Source) Close() error {
	if s == nil || s.watcher == nil {
		return nil
	}
	s.once.Do(func() {
		close(s.stop)
		s.watcher.Close()
	})
	s.wg.Wait()
	return nil
}

func (s *Source) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			s.reload()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("apikey.watch.error", "error", err)
		}
	}
}

func (s *Source) reload() {
	key, err := readKeyFile(s.path)
	if err != nil {
		s.logger.Warn("apikey.reload.failed", "path", s.path, "error", err)
		return
	}
	if key == "" {
		// A truncated file during rotation must not silently disable auth.
		s.logger.Warn("apikey.reload.empty", "path", s.path)
		return
	}
	if prev, _ := s.current.Load().(string); prev == key {
		return
	}
	s.current.Store(key)
	s.logger.Info("apikey.rotated", "path", s.path)
}

func readKeyFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("apikey: read %q: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}
