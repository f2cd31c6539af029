package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/occigate/adapters/backend/dummy"
	"github.com/artpar/occigate/adapters/hasher"
	apihttp "github.com/artpar/occigate/adapters/http"
	"github.com/artpar/occigate/adapters/idgen"
	"github.com/artpar/occigate/adapters/metrics"
	occihttp "github.com/artpar/occigate/core/channel/http"
	"github.com/artpar/occigate/core/runtime"
	"github.com/artpar/occigate/domain/infrastructure"
)

const computeKind = `compute; scheme="http://schemas.ogf.org/occi/infrastructure#"; class="kind"`

type stubHealth struct{ err error }

func (s stubHealth) HealthCheck(context.Context) error { return s.err }

type fixture struct {
	router  http.Handler
	metrics *metrics.Collector
	reg     *prometheus.Registry
	stream  *apihttp.EventStream
}

func setupTestRouter(t *testing.T, cfg apihttp.RouterConfig) *fixture {
	t.Helper()

	rt := runtime.New(runtime.Config{IDs: idgen.NewSequential("vm"), Logger: zerolog.Nop()})
	cat := infrastructure.New(infrastructure.Deps{
		Delegator:     rt.Delegator(),
		Provider:      dummy.New(zerolog.Nop()),
		OnStateChange: rt.StateChanged,
		Logger:        zerolog.Nop(),
	})
	require.NoError(t, rt.Bootstrap(cat.Categories()...))

	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	m.Subscribe(rt.Events())

	stream := apihttp.NewEventStream(zerolog.Nop())
	stream.Subscribe(rt.Events())

	cfg.Metrics = m
	cfg.Gatherer = reg
	cfg.Events = stream
	channel := occihttp.New(rt, occihttp.Options{Logger: zerolog.Nop()})
	return &fixture{
		router:  apihttp.NewRouter(channel.Handler(), zerolog.Nop(), cfg),
		metrics: m,
		reg:     reg,
		stream:  stream,
	}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	f := setupTestRouter(t, apihttp.RouterConfig{})

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		rec := f.do(httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String(), path)
	}
}

func TestHealth_NotReady(t *testing.T) {
	f := setupTestRouter(t, apihttp.RouterConfig{Health: stubHealth{err: errors.New("database is locked")}})

	rec := f.do(httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body["status"])
	assert.Equal(t, "database is locked", body["error"])

	// Liveness does not depend on the backend.
	rec = f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestVersion(t *testing.T) {
	f := setupTestRouter(t, apihttp.RouterConfig{
		Version: apihttp.VersionResponse{Version: "1.2.3", Backend: "dummy"},
	})

	rec := f.do(httptest.NewRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var v apihttp.VersionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, "1.2.3", v.Version)
	assert.Equal(t, "occigate", v.Service)
	assert.Equal(t, "dummy", v.Backend)
}

func TestChannelMounted(t *testing.T) {
	f := setupTestRouter(t, apihttp.RouterConfig{})

	req := httptest.NewRequest(http.MethodPost, "/compute/", nil)
	req.Header.Set("Category", computeKind)
	rec := f.do(req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	loc := rec.Header().Get("Location")
	require.NotEmpty(t, loc)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/-/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "compute")
}

func TestMetricsEndpoint(t *testing.T) {
	f := setupTestRouter(t, apihttp.RouterConfig{})

	req := httptest.NewRequest(http.MethodPost, "/compute/", nil)
	req.Header.Set("Category", computeKind)
	require.Equal(t, http.StatusCreated, f.do(req).Code)
	f.do(httptest.NewRequest(http.MethodGet, "/compute/", nil))
	f.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RequestsTotal.WithLabelValues("POST", "/compute/", "201")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RequestsTotal.WithLabelValues("GET", "/compute/", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Entities.WithLabelValues(infrastructure.InfraScheme+"compute")))

	rec := f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "occigate_requests_total")
	assert.Contains(t, string(body), "occigate_entities")
	assert.NotContains(t, string(body), `path="/health"`)
}

func testAuth() *apihttp.BasicAuth {
	creds := hasher.NewCredentials("admin", "letmein", hasher.Fake{})
	return apihttp.NewBasicAuth(creds, nil, zerolog.Nop())
}

func TestBasicAuth(t *testing.T) {
	creds := hasher.NewCredentials("admin", "letmein", hasher.Fake{})
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	f := setupTestRouter(t, apihttp.RouterConfig{
		Auth: apihttp.NewBasicAuth(creds, m, zerolog.Nop()),
	})

	tests := []struct {
		name       string
		user, pass string
		set        bool
		want       int
	}{
		{"no credentials", "", "", false, http.StatusUnauthorized},
		{"wrong password", "admin", "nope", true, http.StatusUnauthorized},
		{"wrong user", "root", "letmein", true, http.StatusUnauthorized},
		{"valid", "admin", "letmein", true, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/-/", nil)
			if tt.set {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			rec := f.do(req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				assert.True(t, strings.HasPrefix(rec.Header().Get("WWW-Authenticate"), "Basic "))
			}
		})
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthFailures.WithLabelValues("missing_credentials")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.AuthFailures.WithLabelValues("invalid_credentials")))

	// Operational endpoints stay open.
	assert.Equal(t, http.StatusOK, f.do(httptest.NewRequest(http.MethodGet, "/health", nil)).Code)
	assert.Equal(t, http.StatusOK, f.do(httptest.NewRequest(http.MethodGet, "/version", nil)).Code)
}
