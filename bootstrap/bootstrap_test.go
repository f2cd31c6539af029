package bootstrap_test

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/artpar/occigate/adapters/idgen"
	"github.com/artpar/occigate/adapters/metrics"
	"github.com/artpar/occigate/bootstrap"
	"github.com/artpar/occigate/config"
)

const (
	computeKind = `compute; scheme="http://schemas.ogf.org/occi/infrastructure#"; class="kind"`
	prodMixin   = `prod; scheme="http://example.com/tags#"; class="mixin"; location="/tags/prod/"`
)

func testConfig(t *testing.T, content string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "occigate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func newApp(t *testing.T, cfg *config.Config) (*bootstrap.App, *metrics.Collector) {
	t.Helper()
	logger := zerolog.Nop()
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	app, err := bootstrap.NewWithOptions(cfg, bootstrap.Options{
		Logger:   &logger,
		Metrics:  m,
		Gatherer: reg,
		IDs:      idgen.NewSequential("vm"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { app.Shutdown() })
	return app, m
}

func do(h http.Handler, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBootstrap_Dummy(t *testing.T) {
	app, _ := newApp(t, testConfig(t, "server:\n  port: 9000\n"))

	require.NotNil(t, app.Runtime)
	require.NotNil(t, app.Catalog)
	assert.Equal(t, "dummy", app.Provider.Name())
	assert.Equal(t, "0.0.0.0:9000", app.HTTPServer.Addr)

	rec := do(app.Handler, http.MethodGet, "/-/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "compute")
	assert.Equal(t, bootstrap.ServerName, rec.Header().Get("Server"))

	rec = do(app.Handler, http.MethodGet, "/version", nil)
	assert.Contains(t, rec.Body.String(), `"backend":"dummy"`)
}

func TestBootstrap_EventStreamDisabled(t *testing.T) {
	app, _ := newApp(t, testConfig(t, "events:\n  stream: false\n"))
	rec := do(app.Handler, http.MethodGet, "/events", nil)
	assert.NotEqual(t, "text/event-stream", rec.Header().Get("Content-Type"))
}

func TestBootstrap_SQLiteRestart(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "inventory.db")
	content := "backend:\n  type: sqlite\n  sqlite:\n    dsn: \"" + dsn + "\"\n"

	first, _ := newApp(t, testConfig(t, content))
	rec := do(first.Handler, http.MethodPut, "/-/", map[string]string{"Category": prodMixin})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(first.Handler, http.MethodPost, "/compute/", map[string]string{
		"Category": computeKind + ", " + prodMixin,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	loc := rec.Header().Get("Location")
	require.NotEmpty(t, loc)
	path := loc[strings.Index(loc, "/compute/"):]
	require.NoError(t, first.Shutdown())

	second, m := newApp(t, testConfig(t, content))
	rec = do(second.Handler, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "prod")

	rec = do(second.Handler, http.MethodGet, "/tags/prod/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), path)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Entities.WithLabelValues("http://schemas.ogf.org/occi/infrastructure#compute")))
	assert.Equal(t, http.StatusOK, do(second.Handler, http.MethodGet, "/health/ready", nil).Code)
}

func TestBootstrap_BasicAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	app, _ := newApp(t, testConfig(t, "auth:\n  username: admin\n  password_hash: \""+string(hash)+"\"\n"))

	assert.Equal(t, http.StatusUnauthorized, do(app.Handler, http.MethodGet, "/-/", nil).Code)

	req := httptest.NewRequest(http.MethodGet, "/-/", nil)
	req.SetBasicAuth("admin", "s3cret")
	rec := httptest.NewRecorder()
	app.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBootstrap_Extensions(t *testing.T) {
	dir := t.TempDir()
	ext := `
scheme: "http://example.com/occi/ext#"
mixins:
  - term: gpu
    title: GPU accelerated
    location: /mixins/gpu/
    related: "http://schemas.ogf.org/occi/infrastructure#compute"
    attributes:
      example.gpu.count:
        type: number
        default: 1
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gpu.yaml"), []byte(ext), 0644))

	app, _ := newApp(t, testConfig(t, "extensions:\n  dir: \""+dir+"\"\n"))
	rec := do(app.Handler, http.MethodGet, "/-/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gpu")
}

func TestBootstrap_MetricsDisabled(t *testing.T) {
	cfg := testConfig(t, "metrics:\n  enabled: false\n")
	logger := zerolog.Nop()
	app, err := bootstrap.NewWithOptions(cfg, bootstrap.Options{Logger: &logger})
	require.NoError(t, err)
	defer app.Shutdown()

	assert.Nil(t, app.Metrics)
	rec := do(app.Handler, http.MethodGet, "/metrics", nil)
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestNewProvider_Unknown(t *testing.T) {
	_, _, err := bootstrap.NewProvider(config.BackendConfig{Type: "opennebula"}, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestWatch_AppliesLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "occigate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0644))
	h, err := config.NewHolder(path, zerolog.Nop())
	require.NoError(t, err)

	app, _ := newApp(t, h.Get())
	app.Watch(h)
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: error\n"), 0644))
	require.NoError(t, h.Reload())
	assert.Equal(t, zerolog.ErrorLevel, zerolog.GlobalLevel())
}
