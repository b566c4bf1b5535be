package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"orbit/api/internal/app"
	"orbit/api/internal/config"
	"orbit/api/internal/email"
	"orbit/api/internal/housekeeping"
	"orbit/api/internal/joincode"
	"orbit/api/internal/metrics"
	"orbit/api/internal/realtime"
	"orbit/api/internal/search"
	"orbit/api/internal/store"
	"orbit/api/internal/store/memstore"
)

func newLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewExample()
	}
	return logger
}

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()
	ctx := context.Background()

	var (
		repos    store.Repositories
		fallback search.Searcher
		pgSearch *search.PgSearch
	)
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("database connection failed", zap.Error(err))
		}
		defer db.Close()

		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			logger.Fatal("migrations failed", zap.Error(err))
		}
		repos = store.NewPostgresStore(db)
		pgSearch = search.NewPgSearch(db)
		fallback = pgSearch
	} else {
		logger.Warn("DATABASE_URL not set, using the in-memory store")
		mem := memstore.New()
		repos = mem
		fallback = search.NewStoreSearch(mem)
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
	}
	searchService := search.NewService(meiliClient, fallback, logger)
	defer searchService.Close()
	go searchService.ReindexFromPG(ctx, pgSearch)

	var presence app.Presence = realtime.Nop{}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		hub, err := realtime.NewRedisHub(cfg.RedisURL, cfg.PresenceTTL)
		if err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		defer hub.Close()
		presence = hub
		logger.Info("using redis for presence and change fan-out")
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !mailer.IsConfigured() {
		logger.Info("SMTP not configured, invitation mail disabled")
	}

	m := metrics.New()
	sessions := app.NewSessions(app.Dependencies{
		Repos:     repos,
		JoinCodes: joincode.NewService(repos, cfg.JoinCodeTTL),
		Presence:  presence,
		Search:    searchService,
		Mailer:    mailer,
		Metrics:   m,
		Log:       logger,
		Retention: cfg.ActivityRetention,
	})

	scheduler, err := housekeeping.New(cfg.HousekeepingSpec, repos, cfg.JoinCodePurgeAfter, logger, m)
	if err != nil {
		logger.Fatal("housekeeping schedule", zap.Error(err))
	}
	err = scheduler.Schedule(cfg.SessionSweepSpec, "sweep sessions", func(context.Context) error {
		if dropped := sessions.Sweep(cfg.SessionIdleTTL); dropped > 0 {
			logger.Info("dropped idle sessions", zap.Int("count", dropped))
		}
		return nil
	})
	if err != nil {
		logger.Fatal("housekeeping schedule", zap.Error(err))
	}
	scheduler.Start()

	httpServer := app.NewHTTPServer(sessions, app.HTTPConfig{
		JWTSecret:  cfg.JWTSecret,
		AccessTTL:  cfg.AccessTTL,
		CORSOrigin: cfg.CORSOrigin,
	})
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("Orbit API listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	scheduler.Stop(shutdownCtx)
}
