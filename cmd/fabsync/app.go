package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/fabsync/internal/api"
	"github.com/rickgao/fabsync/internal/auth"
	"github.com/rickgao/fabsync/internal/config"
	"github.com/rickgao/fabsync/internal/connection"
	"github.com/rickgao/fabsync/internal/database"
	"github.com/rickgao/fabsync/internal/journal"
	"github.com/rickgao/fabsync/internal/logging"
	"github.com/rickgao/fabsync/internal/poller"
	"github.com/rickgao/fabsync/internal/router"
	"github.com/rickgao/fabsync/internal/session"
	"github.com/rickgao/fabsync/internal/status"
	"github.com/rickgao/fabsync/internal/version"
)

const shutdownTimeout = 10 * time.Second

// app is the process-wide sync core shared by all commands: one router,
// one connection manager and one hub per session.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	router *router.Router
	conn   *connection.Manager
	hub    *session.Hub
	client *api.Client

	pool    *pgxpool.Pool
	journal *journal.Writer
	status  *status.Server

	// stops run in reverse order on shutdown
	stops []func(context.Context) error
}

func newApp(flags *globalFlags) (*app, error) {
	cfg, err := config.LoadAndValidate(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.statusAddr != "" {
		cfg.Status.Addr = flags.statusAddr
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(logger)

	tokens, err := loadSession(cfg.Session)
	if err != nil {
		return nil, err
	}
	if _, ok := tokens.Token(); !ok {
		logger.Warn("no valid session token; push connection disabled, REST calls will fail")
	} else if exp, ok := tokens.ExpiresAt(); ok {
		logger.Info("session token loaded", "expires_at", exp)
	}

	r := router.New(logger)
	conn := connection.NewManager(connection.Config{
		URL:                  cfg.API.WSURL,
		MaxReconnectAttempts: cfg.Connection.MaxReconnectAttempts,
		ReconnectInterval:    cfg.Connection.ReconnectInterval,
		HandshakeTimeout:     cfg.Connection.HandshakeTimeout,
		WriteTimeout:         cfg.Connection.WriteTimeout,
	}, tokens, r, logger)
	hub := session.NewHub(session.Config{
		HeartbeatInterval: cfg.Connection.HeartbeatInterval,
	}, conn, r, logger)

	client := api.NewClient(
		cfg.API.RestURL,
		tokens,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
		api.WithRateLimit(cfg.API.RateLimit, cfg.API.RateBurst),
	)

	logger.Info("fabsync starting",
		"version", version.Version,
		"rest_url", cfg.API.RestURL,
		"ws_url", cfg.API.WSURL,
	)

	return &app{
		cfg:    cfg,
		logger: logger,
		router: r,
		conn:   conn,
		hub:    hub,
		client: client,
	}, nil
}

func loadSession(cfg config.SessionConfig) (*auth.Session, error) {
	if cfg.TokenFile != "" {
		s, err := auth.LoadToken(cfg.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("load session token: %w", err)
		}
		return s, nil
	}
	return auth.NewSession(cfg.Token), nil
}

func (a *app) pollerConfig() poller.Config {
	return poller.Config{
		Interval: a.cfg.Poller.Interval,
		Timeout:  a.cfg.Poller.Timeout,
	}
}

// start brings up the optional journal and status endpoint.
func (a *app) start(ctx context.Context) error {
	if a.cfg.Journal.Enabled {
		if err := a.startJournal(ctx); err != nil {
			return err
		}
	}

	if a.cfg.Status.Addr != "" {
		a.status = status.New(a.cfg.Status.Addr, a.conn, a.logger)
		a.status.Register("hub", func() any { return a.hub.Stats() })
		a.status.Register("router", func() any { return a.router.Stats() })
		if a.journal != nil {
			a.status.Register("journal", func() any { return a.journal.Stats() })
			a.status.Register("database", func() any {
				st := a.pool.Stat()
				return map[string]int32{
					"total_conns":    st.TotalConns(),
					"idle_conns":     st.IdleConns(),
					"acquired_conns": st.AcquiredConns(),
				}
			})
		}
		if err := a.status.Start(ctx); err != nil {
			return err
		}
		a.onStop(a.status.Stop)
	}
	return nil
}

func (a *app) startJournal(ctx context.Context) error {
	db := a.cfg.Journal.Database
	a.logger.Info("connecting to journal database",
		"host", db.Host,
		"port", db.Port,
		"database", db.Name,
	)

	pool, err := database.Connect(ctx, db)
	if err != nil {
		return fmt.Errorf("journal database: %w", err)
	}
	a.pool = pool
	a.onStop(func(context.Context) error {
		pool.Close()
		return nil
	})

	if err := journal.EnsureSchema(ctx, pool); err != nil {
		return err
	}

	a.journal = journal.NewWriter(journal.Config{
		BatchSize:     a.cfg.Journal.BatchSize,
		FlushInterval: a.cfg.Journal.FlushInterval,
		BufferSize:    a.cfg.Journal.BufferSize,
	}, pool, a.logger)
	if err := a.journal.Start(ctx); err != nil {
		return err
	}
	a.onStop(a.journal.Stop)
	return nil
}

func (a *app) onStop(fn func(context.Context) error) {
	a.stops = append(a.stops, fn)
}

// shutdown stops everything started so far, newest first, then detaches
// any remaining consumers so the connection closes.
func (a *app) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	for i := len(a.stops) - 1; i >= 0; i-- {
		if err := a.stops[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.stops = nil
	a.hub.Close()

	a.logger.Info("fabsync stopped", "connection", a.conn.Snapshot().State)
	return errors.Join(errs...)
}

// run starts the app, calls fn, waits for ctx and shuts down.
func (a *app) run(ctx context.Context, fn func(ctx context.Context) error) error {
	err := a.start(ctx)
	if err == nil {
		err = fn(ctx)
	}
	if err == nil {
		<-ctx.Done()
		a.logger.Info("shutting down")
	}
	return errors.Join(err, a.shutdown())
}
