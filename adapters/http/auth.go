package http

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/artpar/occigate/adapters/hasher"
	"github.com/artpar/occigate/adapters/metrics"
)

// BasicAuth guards the OCCI channel with a single set of credentials.
type BasicAuth struct {
	creds   *hasher.Credentials
	realm   string
	metrics *metrics.Collector
	logger  zerolog.Logger
}

// NewBasicAuth creates the middleware. m may be nil.
func NewBasicAuth(creds *hasher.Credentials, m *metrics.Collector, logger zerolog.Logger) *BasicAuth {
	return &BasicAuth{creds: creds, realm: "occigate", metrics: m, logger: logger}
}

// Middleware rejects requests without valid credentials.
func (a *BasicAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok {
			a.reject(w, r, "missing_credentials")
			return
		}
		if !a.creds.Check(user, pass) {
			a.reject(w, r, "invalid_credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *BasicAuth) reject(w http.ResponseWriter, r *http.Request, reason string) {
	if a.metrics != nil {
		a.metrics.AuthFailures.WithLabelValues(reason).Inc()
	}
	a.logger.Debug().
		Str("reason", reason).
		Str("path", r.URL.Path).
		Str("remote", r.RemoteAddr).
		Msg("authentication failed")

	w.Header().Set("WWW-Authenticate", `Basic realm="`+a.realm+`", charset="UTF-8"`)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte("Unauthorized\n"))
}
