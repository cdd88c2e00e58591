// Package app wires the parley server runtime: config, logging, HTTP routes,
// the interview session registry, and the WebSocket gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"parley/internal/credential"
	"parley/internal/gateway"
	"parley/internal/httpapi"
	"parley/internal/interview"
	"parley/internal/invite"
	"parley/internal/ratelimit"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App is the parley server runtime.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	limiter  *ratelimit.Limiter
	registry *interview.Registry
	ws       *gateway.WSGateway
	api      *httpapi.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	st, dbPool, dbEnabled, stores, err := newStores(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	credCfg, err := credential.LoadConfigFromEnv()
	if err != nil {
		_ = st.Close(context.Background())
		return nil, err
	}
	creds, err := credential.NewPasetoV4PublicManager(credCfg)
	if err != nil {
		_ = st.Close(context.Background())
		return nil, err
	}

	invites, err := invite.NewService(stores.invites)
	if err != nil {
		_ = st.Close(context.Background())
		return nil, err
	}
	exchanger, err := invite.NewExchanger(log, invites, stores.sessions, creds)
	if err != nil {
		_ = st.Close(context.Background())
		return nil, err
	}

	questions := defaultQuestionSource()
	registry, err := interview.NewRegistry(log, interview.Deps{
		Transcriber: interview.NoopTranscriber{},
		Speech:      interview.NoopSpeechSynth{},
		Results:     stores.results,
		Sessions:    stores.sessions,
	}, questions)
	if err != nil {
		_ = st.Close(context.Background())
		return nil, err
	}

	limiter := ratelimit.New(ratelimit.DefaultClasses())

	ws, err := gateway.NewWSGateway(log, creds, registry)
	if err != nil {
		_ = st.Close(context.Background())
		return nil, err
	}
	api, err := httpapi.NewHandler(log, exchanger, limiter)
	if err != nil {
		_ = st.Close(context.Background())
		return nil, err
	}

	log.Info("credential.issuer", "public_key", creds.PublicKeyHex())

	return &App{
		cfg:       cfg,
		log:       log,
		store:     st,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		limiter:   limiter,
		registry:  registry,
		ws:        ws,
		api:       api,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	a.limiter.StartSweeper()
	defer a.limiter.Stop()
	defer a.registry.Stop()

	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.ws, a.api)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// appStores groups the persistence implementations behind one choice.
type appStores struct {
	invites  invite.Store
	sessions interview.SessionStore
	results  interview.ResultStore
}

// newStores decides between Postgres-backed persistence and in-memory dev stores.
func newStores(ctx context.Context, cfg Config, log Logger) (Store, *pgxpool.Pool, bool, appStores, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_stores")
		return nopStore{}, nil, false, appStores{
			invites:  invite.NewMemoryStore(),
			sessions: interview.NewMemorySessionStore(),
			results:  interview.NewMemoryResultStore(),
		}, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, appStores{}, err
	}

	if cfg.MigrateOnStart {
		if err := Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, false, appStores{}, err
		}
	}

	log.Info("db.enabled.postgres_stores", "schema", cfg.DBSchema)

	inviteStore, err := invite.NewPostgresStore(pool, invite.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, false, appStores{}, err
	}
	sessionStore, err := interview.NewPostgresSessionStore(pool, interview.WithSessionSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, false, appStores{}, err
	}
	resultStore, err := interview.NewPostgresResultStore(pool, cfg.DBSchema)
	if err != nil {
		pool.Close()
		return nil, nil, false, appStores{}, err
	}

	return dbStore{pool: pool}, pool, true, appStores{
		invites:  inviteStore,
		sessions: sessionStore,
		results:  resultStore,
	}, nil
}

type dbStore struct {
	pool *pgxpool.Pool
}

func (s dbStore) Close(_ context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// defaultQuestionSource serves a fixed interview when no authoring backend
// is wired. Question authoring is owned by the surrounding SaaS.
func defaultQuestionSource() interview.QuestionSource {
	return interview.StaticQuestionSource{Questions: []interview.Question{
		{ID: "q-intro", Prompt: "Tell me about yourself and your background.", BudgetSec: 120},
		{ID: "q-project", Prompt: "Walk me through a project you are proud of.", BudgetSec: 180},
		{ID: "q-conflict", Prompt: "Describe a disagreement with a teammate and how you resolved it.", BudgetSec: 150},
	}}
}
