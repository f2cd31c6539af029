package config

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/artpar/occigate/adapters/metrics"
)

// reloadDebounce coalesces the burst of events editors produce for one save.
const reloadDebounce = 100 * time.Millisecond

// Holder owns the live configuration. Only the logging section is applied
// on reload; changes to anything else are logged and wait for a restart.
type Holder struct {
	mu       sync.RWMutex
	config   *Config
	pending  []string
	path     string
	logger   zerolog.Logger
	watcher  *fsnotify.Watcher
	onChange []func(*Config)
	metrics  *metrics.Collector
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewHolder loads path and keeps it as the live configuration.
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config path: %w", err)
	}
	cfg, err := Load(abs)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &Holder{
		config: cfg,
		path:   abs,
		logger: logger.With().Str("component", "config").Logger(),
		stopCh: make(chan struct{}),
	}, nil
}

// SetMetrics makes reloads update the config metrics.
func (h *Holder) SetMetrics(m *metrics.Collector) {
	h.mu.Lock()
	h.metrics = m
	h.mu.Unlock()
}

// Path returns the absolute path of the config file.
func (h *Holder) Path() string {
	return h.path
}

// Get returns the live configuration.
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// PendingRestart lists the fields changed on disk since startup that only
// take effect after a restart.
func (h *Holder) PendingRestart() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.pending)
}

// OnChange registers fn to run after every successful reload.
func (h *Holder) OnChange(fn func(*Config)) {
	h.mu.Lock()
	h.onChange = append(h.onChange, fn)
	h.mu.Unlock()
}

// Reload reads the file again. An invalid file leaves the live
// configuration untouched.
func (h *Holder) Reload() error {
	next, err := Load(h.path)

	h.mu.Lock()
	m := h.metrics
	if err != nil {
		h.mu.Unlock()
		if m != nil {
			m.ConfigReloadErrors.Inc()
		}
		h.logger.Error().Err(err).Str("path", h.path).Msg("config reload failed, keeping old config")
		return fmt.Errorf("reload config: %w", err)
	}
	prev := h.config
	h.config = next
	for _, f := range restartRequired(prev, next) {
		if !slices.Contains(h.pending, f) {
			h.pending = append(h.pending, f)
		}
	}
	listeners := slices.Clone(h.onChange)
	h.mu.Unlock()

	h.logChanges(prev, next)
	for _, fn := range listeners {
		fn(next)
	}
	if m != nil {
		m.ConfigReloads.Inc()
		m.ConfigLastReload.SetToCurrentTime()
	}
	h.logger.Info().Str("path", h.path).Msg("configuration reloaded")
	return nil
}

// WatchFile reloads whenever the config file is written or replaced.
// The directory is watched so that atomic saves are seen.
func (h *Holder) WatchFile() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(h.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(h.path), err)
	}
	h.mu.Lock()
	h.watcher = w
	h.mu.Unlock()

	go h.watchLoop(w)
	h.logger.Info().Str("path", h.path).Msg("watching config file")
	return nil
}

// WatchSignals reloads on SIGHUP until Stop.
func (h *Holder) WatchSignals() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sig)
		for {
			select {
			case <-sig:
				h.logger.Info().Msg("SIGHUP received")
				_ = h.Reload()
			case <-h.stopCh:
				return
			}
		}
	}()
}

// Stop ends file and signal watching. It is safe to call more than once.
func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		h.mu.Lock()
		if h.watcher != nil {
			h.watcher.Close()
		}
		h.mu.Unlock()
	})
}

func (h *Holder) watchLoop(w *fsnotify.Watcher) {
	name := filepath.Base(h.path)
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			h.logger.Debug().Str("op", ev.Op.String()).Msg("config file changed")
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			_ = h.Reload()

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("config watcher")

		case <-h.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

func (h *Holder) logChanges(prev, next *Config) {
	if prev.Logging != next.Logging {
		h.logger.Info().
			Str("level", next.Logging.Level).
			Str("format", next.Logging.Format).
			Msg("logging changed")
	}
	for _, f := range restartRequired(prev, next) {
		h.logger.Warn().Str("field", f).Msg("config change takes effect after restart")
	}
}

// restartFields are the settings wired once at startup.
var restartFields = []struct {
	name    string
	differs func(a, b *Config) bool
}{
	{"server.host", func(a, b *Config) bool { return a.Server.Host != b.Server.Host }},
	{"server.port", func(a, b *Config) bool { return a.Server.Port != b.Server.Port }},
	{"server.base_url", func(a, b *Config) bool { return a.Server.BaseURL != b.Server.BaseURL }},
	{"backend.type", func(a, b *Config) bool { return a.Backend.Type != b.Backend.Type }},
	{"backend.sqlite.dsn", func(a, b *Config) bool { return a.Backend.SQLite.DSN != b.Backend.SQLite.DSN }},
	{"auth", func(a, b *Config) bool { return a.Auth != b.Auth }},
	{"metrics", func(a, b *Config) bool { return a.Metrics != b.Metrics }},
	{"events.stream", func(a, b *Config) bool { return a.Events.Stream != b.Events.Stream }},
	{"events.nats", func(a, b *Config) bool { return a.Events.NATS != b.Events.NATS }},
	{"extensions.dir", func(a, b *Config) bool { return a.Extensions.Dir != b.Extensions.Dir }},
}

func restartRequired(prev, next *Config) []string {
	var changed []string
	for _, f := range restartFields {
		if f.differs(prev, next) {
			changed = append(changed, f.name)
		}
	}
	return changed
}

// ReloadableFields returns the fields applied without a restart.
func ReloadableFields() []string {
	return []string{"logging.level", "logging.format"}
}

// NonReloadableFields returns the fields that need a restart.
func NonReloadableFields() []string {
	names := make([]string, len(restartFields))
	for i, f := range restartFields {
		names[i] = f.name
	}
	return names
}
