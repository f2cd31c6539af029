// Package bootstrap wires all dependencies and starts the application.
// Configuration comes from a YAML file with OCCIGATE_* environment overrides.
package bootstrap

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/artpar/occigate/adapters/backend/dummy"
	"github.com/artpar/occigate/adapters/clock"
	"github.com/artpar/occigate/adapters/hasher"
	apihttp "github.com/artpar/occigate/adapters/http"
	"github.com/artpar/occigate/adapters/idgen"
	"github.com/artpar/occigate/adapters/metrics"
	occinats "github.com/artpar/occigate/adapters/nats"
	"github.com/artpar/occigate/adapters/sqlite"
	occihttp "github.com/artpar/occigate/core/channel/http"
	"github.com/artpar/occigate/core/runtime"
	"github.com/artpar/occigate/core/schema"
	"github.com/artpar/occigate/config"
	"github.com/artpar/occigate/domain/infrastructure"
	"github.com/artpar/occigate/ports"
)

// Version is set at build time.
var Version = "dev"

// ServerName is sent in the Server header of every OCCI response.
const ServerName = "occigate/OCCI/1.1"

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Config
	Runtime    *runtime.Runtime
	Catalog    *infrastructure.Catalog
	Provider   ports.Provider
	Metrics    *metrics.Collector
	Handler    http.Handler
	HTTPServer *http.Server

	inventory *sqlite.Inventory
	stream    *apihttp.EventStream
	gatherer  prometheus.Gatherer
	nats      *nats.Conn
	holder    *config.Holder
}

// Options customises New for tests and embedding.
type Options struct {
	// Logger overrides the logger built from the configuration.
	Logger *zerolog.Logger

	// Metrics overrides the collector registered on the default registry.
	// Gatherer serves it and must be set with it.
	Metrics  *metrics.Collector
	Gatherer prometheus.Gatherer

	// IDs overrides the UUID generator.
	IDs runtime.IDGenerator

	// Clock overrides the wall clock.
	Clock ports.Clock
}

// New creates and initializes the application from cfg.
func New(cfg *config.Config) (*App, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates the application with explicit collaborators.
func NewWithOptions(cfg *config.Config, opts Options) (*App, error) {
	logger := setupLogger(cfg.Logging)
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	logger.Info().Str("version", Version).Str("backend", cfg.Backend.Type).Msg("initializing occigate")

	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.IDs == nil {
		opts.IDs = idgen.UUID{}
	}

	a := &App{Logger: logger, Config: cfg, gatherer: opts.Gatherer}

	if cfg.Metrics.Enabled {
		a.Metrics = opts.Metrics
		if a.Metrics == nil {
			a.Metrics = metrics.New()
		}
		logger.Info().Str("path", cfg.Metrics.Path).Msg("prometheus metrics enabled")
	}

	provider, inv, err := NewProvider(cfg.Backend, opts.Clock, logger)
	if err != nil {
		return nil, fmt.Errorf("init backend: %w", err)
	}
	a.inventory = inv
	a.Provider = provider
	if a.Metrics != nil {
		a.Provider = a.Metrics.Instrument(provider)
	}

	if err := a.initRuntime(opts.IDs); err != nil {
		a.Provider.Close()
		return nil, err
	}

	if err := a.initEvents(); err != nil {
		a.Provider.Close()
		return nil, fmt.Errorf("init events: %w", err)
	}

	if err := a.initHTTPServer(); err != nil {
		a.Shutdown()
		return nil, fmt.Errorf("init http server: %w", err)
	}

	return a, nil
}

// NewWithHotReload creates the application from the file at path and
// reloads it on file changes and SIGHUP.
func NewWithHotReload(path string) (*App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger := setupLogger(cfg.Logging)

	holder, err := config.NewHolder(path, logger)
	if err != nil {
		return nil, err
	}
	a, err := NewWithOptions(holder.Get(), Options{Logger: &logger})
	if err != nil {
		holder.Stop()
		return nil, err
	}

	a.Watch(holder)
	if err := holder.WatchFile(); err != nil {
		logger.Warn().Err(err).Msg("config file watch unavailable")
	}
	holder.WatchSignals()
	return a, nil
}

// NewProvider builds the backend named by cfg.Type. The inventory is
// returned as well when the backend persists entities.
func NewProvider(cfg config.BackendConfig, clk ports.Clock, logger zerolog.Logger) (ports.Provider, *sqlite.Inventory, error) {
	switch cfg.Type {
	case config.BackendDummy, "":
		return dummy.New(logger), nil, nil
	case config.BackendSQLite:
		db, err := sqlite.Open(cfg.SQLite.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info().Str("dsn", cfg.SQLite.DSN).Msg("inventory database ready")
		inv := sqlite.NewInventory(db, clk, logger)
		return inv, inv, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend type %q", cfg.Type)
	}
}

func (a *App) initRuntime(ids runtime.IDGenerator) error {
	a.Runtime = runtime.New(runtime.Config{
		IDs:            ids,
		BackendTimeout: a.Config.Backend.Timeout,
		Logger:         a.Logger,
	})
	a.Catalog = infrastructure.New(infrastructure.Deps{
		Delegator:     a.Runtime.Delegator(),
		Provider:      a.Provider,
		OnStateChange: a.Runtime.StateChanged,
		Logger:        a.Logger,
	})
	if err := a.Runtime.Bootstrap(a.Catalog.Categories()...); err != nil {
		return fmt.Errorf("bootstrap categories: %w", err)
	}

	if dir := a.Config.Extensions.Dir; dir != "" {
		defs, err := schema.ParseDir(dir)
		if err != nil {
			return fmt.Errorf("load extensions: %w", err)
		}
		if err := a.Runtime.Define(defs...); err != nil {
			return fmt.Errorf("define extensions: %w", err)
		}
		a.Logger.Info().Str("dir", dir).Int("files", len(defs)).Msg("extensions loaded")
	}

	if a.inventory != nil {
		if err := a.restore(context.Background()); err != nil {
			return fmt.Errorf("restore inventory: %w", err)
		}
	}
	return nil
}

// restore re-declares stored user mixins and rebuilds the stored entities.
func (a *App) restore(ctx context.Context) error {
	decls, err := a.inventory.MixinDecls(ctx)
	if err != nil {
		return err
	}
	for _, d := range decls {
		if _, err := a.Runtime.DeclareMixin(ctx, d); err != nil {
			return fmt.Errorf("mixin %s: %w", schema.Identity(d.Scheme, d.Term), err)
		}
	}

	recs, err := a.inventory.Records(ctx)
	if err != nil {
		return err
	}
	n, err := a.Runtime.Restore(ctx, recs)
	if err != nil {
		return err
	}
	if a.Metrics != nil {
		for _, rec := range recs {
			a.Metrics.Entities.WithLabelValues(rec.Kind).Inc()
		}
	}
	a.Logger.Info().Int("entities", n).Int("mixins", len(decls)).Msg("inventory restored")
	return nil
}

// initEvents subscribes the event consumers. Subscriptions happen after
// restore so replayed state is not persisted or forwarded twice.
func (a *App) initEvents() error {
	bus := a.Runtime.Events()
	if a.inventory != nil {
		a.inventory.Subscribe(bus)
	}
	if a.Metrics != nil {
		a.Metrics.Subscribe(bus)
	}
	if a.Config.Events.Stream {
		a.stream = apihttp.NewEventStream(a.Logger)
		a.stream.Subscribe(bus)
	}

	nc := a.Config.Events.NATS
	if nc.URL == "" {
		return nil
	}
	conn, err := occinats.Connect(nc.URL, "occigate", a.Logger)
	if err != nil {
		return err
	}
	a.nats = conn
	occinats.NewForwarder(conn, nc.SubjectPrefix, a.Logger).Subscribe(bus)
	a.Logger.Info().Str("url", nc.URL).Str("prefix", nc.SubjectPrefix).Msg("forwarding events to nats")
	return nil
}

func (a *App) initHTTPServer() error {
	channel := occihttp.New(a.Runtime, occihttp.Options{
		BaseURL: a.Config.Server.BaseURL,
		Server:  ServerName,
		MaxBody: a.Config.Server.MaxBody,
		Logger:  a.Logger,
	})

	rc := apihttp.RouterConfig{
		Metrics:     a.Metrics,
		MetricsPath: a.Config.Metrics.Path,
		Timeout:     a.Config.Server.WriteTimeout,
		Version: apihttp.VersionResponse{
			Version: Version,
			Backend: a.Provider.Name(),
		},
	}
	if a.inventory != nil {
		rc.Health = a.inventory
	}
	if a.stream != nil {
		rc.Events = a.stream
	}
	if a.Metrics != nil {
		rc.Gatherer = a.gatherer
	}
	if a.Config.Auth.Enabled() {
		creds := hasher.NewCredentials(a.Config.Auth.Username, a.Config.Auth.PasswordHash, hasher.NewBcrypt(0))
		rc.Auth = apihttp.NewBasicAuth(creds, a.Metrics, a.Logger)
		a.Logger.Info().Str("user", a.Config.Auth.Username).Msg("basic auth enabled")
	}

	a.Handler = apihttp.NewRouter(channel.Handler(), a.Logger, rc)
	a.HTTPServer = &http.Server{
		Addr:         net.JoinHostPort(a.Config.Server.Host, strconv.Itoa(a.Config.Server.Port)),
		Handler:      a.Handler,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}
	return nil
}

// Watch follows configuration changes through h. Only logging settings
// are applied live.
func (a *App) Watch(h *config.Holder) {
	a.holder = h
	if a.Metrics != nil {
		h.SetMetrics(a.Metrics)
	}
	h.OnChange(func(cfg *config.Config) {
		if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
			zerolog.SetGlobalLevel(level)
		}
		if pending := h.PendingRestart(); len(pending) > 0 {
			a.Logger.Warn().Strs("fields", pending).Msg("restart pending")
		}
	})
}

// Run starts the HTTP server and blocks until shutdown.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		a.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.holder != nil {
		a.holder.Stop()
	}

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	if a.nats != nil {
		if err := a.nats.Drain(); err != nil {
			a.Logger.Error().Err(err).Msg("nats drain error")
		}
		a.nats = nil
	}

	if a.Provider != nil {
		if err := a.Provider.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("backend close error")
		}
		a.Provider = nil
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
