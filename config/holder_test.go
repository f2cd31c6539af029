package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/artpar/occigate/adapters/metrics"
	"github.com/artpar/occigate/config"
)

func TestHolder_Get(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	got := h.Get()
	if got == nil {
		t.Fatal("Get returned nil")
	}
	if got.Backend.Type != config.BackendSQLite {
		t.Errorf("Backend.Type = %s, want sqlite", got.Backend.Type)
	}
	if h.Path() != path {
		t.Errorf("Path() = %s, want %s", h.Path(), path)
	}
}

func TestHolder_Reload(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	h.SetMetrics(m)

	if h.Get().Logging.Level != "info" {
		t.Errorf("initial Logging.Level = %s, want info", h.Get().Logging.Level)
	}

	var mu sync.Mutex
	var received *config.Config
	h.OnChange(func(cfg *config.Config) {
		mu.Lock()
		received = cfg
		mu.Unlock()
	})

	newContent := `
backend:
  type: sqlite
  sqlite:
    dsn: "inventory.db"
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(newContent), 0644); err != nil {
		t.Fatalf("write new config: %v", err)
	}
	if err := h.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}

	if h.Get().Logging.Level != "debug" {
		t.Errorf("reloaded Logging.Level = %s, want debug", h.Get().Logging.Level)
	}
	mu.Lock()
	if received == nil || received.Logging.Level != "debug" {
		t.Errorf("OnChange received %+v", received)
	}
	mu.Unlock()
	if got := testutil.ToFloat64(m.ConfigReloads); got != 1 {
		t.Errorf("config reloads = %v, want 1", got)
	}
}

func TestHolder_ReloadInvalidConfig(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	h.SetMetrics(m)

	invalidContent := `
backend:
  type: opennebula
`
	if err := os.WriteFile(path, []byte(invalidContent), 0644); err != nil {
		t.Fatalf("write invalid config: %v", err)
	}

	if err := h.Reload(); err == nil {
		t.Error("Reload should fail for invalid config")
	}

	// Old config should still be in place
	if got := h.Get().Backend.Type; got != config.BackendSQLite {
		t.Errorf("should keep old config, got Backend.Type = %s", got)
	}
	if got := testutil.ToFloat64(m.ConfigReloadErrors); got != 1 {
		t.Errorf("config reload errors = %v, want 1", got)
	}
}

func TestHolder_PendingRestart(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	if got := h.PendingRestart(); len(got) != 0 {
		t.Fatalf("PendingRestart() = %v before any reload", got)
	}

	moved := `
server:
  port: 9191
backend:
  type: sqlite
  sqlite:
    dsn: "inventory.db"
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(moved), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := h.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}
	if err := h.Reload(); err != nil {
		t.Fatalf("second Reload error: %v", err)
	}

	got := h.PendingRestart()
	if len(got) != 1 || got[0] != "server.port" {
		t.Errorf("PendingRestart() = %v, want [server.port]", got)
	}
}

func TestHolder_WatchFile(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	reloaded := make(chan *config.Config, 8)
	h.OnChange(func(cfg *config.Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})

	if err := h.WatchFile(); err != nil {
		t.Fatalf("WatchFile error: %v", err)
	}

	newContent := validConfig() + `
logging:
  level: warn
`
	if err := os.WriteFile(path, []byte(newContent), 0644); err != nil {
		t.Fatalf("write new config: %v", err)
	}

	// A write may surface as several events; wait for the final content.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-reloaded:
			if cfg.Logging.Level == "warn" {
				return
			}
		case <-deadline:
			t.Fatal("file watcher did not trigger reload")
		}
	}
}

func TestHolder_ConcurrentAccess(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if h.Get() == nil {
					t.Error("concurrent Get returned nil")
				}
			}
		}()
	}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.Reload()
		}()
	}
	wg.Wait()
}

func TestHolder_StopTwice(t *testing.T) {
	h, err := config.NewHolder(writeConfig(t, validConfig()), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	h.Stop()
	h.Stop()
}

func TestReloadableFields(t *testing.T) {
	reloadable := config.ReloadableFields()
	for _, f := range []string{"logging.level", "logging.format"} {
		if !contains(reloadable, f) {
			t.Errorf("%s not in ReloadableFields", f)
		}
	}

	restart := config.NonReloadableFields()
	for _, f := range []string{"server.port", "backend.type", "auth"} {
		if !contains(restart, f) {
			t.Errorf("%s not in NonReloadableFields", f)
		}
	}
	for _, f := range reloadable {
		if contains(restart, f) {
			t.Errorf("%s is listed as both reloadable and not", f)
		}
	}
}

// Helpers

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func validConfig() string {
	return `
server:
  port: 9090
backend:
  type: sqlite
  sqlite:
    dsn: "inventory.db"
`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
