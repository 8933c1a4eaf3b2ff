package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdhttp "net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wirechat-rooms/internal/auth"
	"github.com/vovakirdan/wirechat-rooms/internal/config"
	"github.com/vovakirdan/wirechat-rooms/internal/core"
	"github.com/vovakirdan/wirechat-rooms/internal/metrics"
	"github.com/vovakirdan/wirechat-rooms/internal/store"
	"github.com/vovakirdan/wirechat-rooms/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/wirechat-rooms/internal/transport/http"
)

const roomTokenTTL = 24 * time.Hour

// App wires together stores, core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	sessions        *store.SessionStore
	snapshot        store.Snapshotter
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	snap, err := newSnapshotter(cfg)
	if err != nil {
		return nil, fmt.Errorf("init session snapshot: %w", err)
	}
	logger.Info().Str("backend", cfg.SessionBackend).Str("path", cfg.SessionsPath).Msg("session snapshot initialized")

	sessions := store.NewSessionStore(snap, logger)
	if err := sessions.Load(ctx); err != nil {
		// A corrupt snapshot is not fatal.
		logger.Warn().Err(err).Str("path", cfg.SessionsPath).Msg("starting with no sessions")
		quarantineSnapshot(cfg, logger)
	}
	logger.Info().Int("sessions", len(sessions.All())).Msg("sessions restored")

	rooms := store.NewRoomStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, rooms.Len)

	hub := core.NewHub(rooms, sessions, core.WithLogger(logger), core.WithMetrics(m))

	authService := auth.NewService(&auth.JWTConfig{
		Secret: []byte(cfg.JWTSecret),
		Issuer: cfg.JWTIssuer,
		TTL:    roomTokenTTL,
	})

	server := transporthttp.NewServer(transporthttp.Deps{
		Hub:      hub,
		Rooms:    rooms,
		Sessions: sessions,
		Auth:     authService,
		Gatherer: reg,
	}, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		sessions:        sessions,
		snapshot:        snap,
		log:             logger,
	}, nil
}

// quarantineSnapshot moves an unreadable JSON snapshot aside so the next save
// does not overwrite it.
func quarantineSnapshot(cfg *config.Config, logger *zerolog.Logger) {
	if cfg.SessionBackend != config.BackendJSON {
		return
	}
	aside := cfg.SessionsPath + ".corrupt"
	if err := os.Rename(cfg.SessionsPath, aside); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn().Err(err).Str("path", cfg.SessionsPath).Msg("failed to move session snapshot aside")
		return
	}
	logger.Warn().Str("path", aside).Msg("session snapshot moved aside")
}

func newSnapshotter(cfg *config.Config) (store.Snapshotter, error) {
	switch cfg.SessionBackend {
	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SessionsPath), 0o755); err != nil {
			return nil, err
		}
		return sqlite.New(cfg.SessionsPath)
	case config.BackendJSON:
		return store.NewFileSnapshotter(cfg.SessionsPath)
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.SessionBackend)
	}
}

// Run starts the HTTP server and the hub and blocks until context
// cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	defer a.cleanup()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// cleanup closes the snapshot backend.
func (a *App) cleanup() {
	closeSnapshot(a.snapshot, a.log)
}

func closeSnapshot(snap store.Snapshotter, logger *zerolog.Logger) {
	closer, ok := snap.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close session snapshot")
	} else {
		logger.Info().Msg("session snapshot closed")
	}
}
