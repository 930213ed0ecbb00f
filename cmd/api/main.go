package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"attendancesvc/internal/attendance"
	"attendancesvc/internal/config"
	"attendancesvc/internal/docstore"
	"attendancesvc/internal/docstore/memory"
	"attendancesvc/internal/docstore/mongostore"
	"attendancesvc/internal/docstore/pgstore"
	"attendancesvc/internal/feed"
	"attendancesvc/internal/httpapi"
	"attendancesvc/internal/logger"
	"attendancesvc/internal/metrics"
	"attendancesvc/internal/store"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, log); err != nil {
		log.Fatal("http server failed", zap.Error(err))
	}
}

// backend is the document store plus the health checks of what it connected to.
type backend struct {
	client docstore.Client
	checks map[string]httpapi.HealthCheck
	close  func()
}

func openBackend(ctx context.Context, cfg config.App, log *zap.Logger) (_ *backend, err error) {
	b := &backend{checks: map[string]httpapi.HealthCheck{}, close: func() {}}
	defer func() {
		if err != nil {
			b.close()
		}
	}()

	var broker feed.Broker
	if cfg.FeedBackend == "redis" {
		rdb := store.NewRedis(cfg.RedisAddr)
		if !rdb.Healthy(ctx) {
			log.Warn("redis not reachable yet", zap.String("addr", cfg.RedisAddr))
		}
		broker = feed.NewRedis(rdb.Client, "")
		b.checks["redis"] = rdb.Healthy
		b.close = func() { _ = rdb.Close() }
	} else {
		broker = feed.NewInMemory(64)
	}

	switch cfg.DocBackend {
	case "mongo":
		m, err := store.NewMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		b.client = mongostore.New(m.Database, log.Named("mongo"))
		b.checks["mongo"] = m.Healthy
	case "postgres":
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if err := store.RunMigrations(db.Client, log.Named("migrate")); err != nil {
			_ = db.Close()
			return nil, err
		}
		b.client = pgstore.New(db.Client, broker, log.Named("postgres"))
		b.checks["postgres"] = db.Healthy
	default:
		b.client = memory.New(broker, log.Named("memory"))
	}
	return b, nil
}

func runHTTP(cfg config.App, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	b, err := openBackend(connectCtx, cfg, log)
	cancel()
	if err != nil {
		return err
	}
	defer b.close()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.client.Close(closeCtx); err != nil {
			log.Warn("closing document store", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	client := metrics.New(reg).Client(b.client)

	acc := attendance.NewAccessor(client,
		attendance.WithLocation(loc),
		attendance.WithLogger(log.Named("attendance")),
	)
	svc := attendance.NewService(acc, cfg.EnforceDaily, log.Named("checkin"))
	handler := httpapi.NewHandler(acc, svc, log.Named("http"))

	if cfg.AuthDisabled {
		log.Warn("authentication disabled")
	}
	router := httpapi.NewRouter(handler, httpapi.Options{
		SigningKey:      cfg.JWTSigningKey,
		Issuer:          cfg.JWTIssuer,
		AuthDisabled:    cfg.AuthDisabled,
		RateLimitPerMin: cfg.RateLimitPerMin,
		CORSOrigins:     cfg.CORSOrigins,
		Metrics:         promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Checks:          b.checks,
		Logger:          log.Named("access"),
	})

	// WriteTimeout stays zero: SSE and WebSocket responses are long-lived.
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server",
			zap.String("addr", srv.Addr),
			zap.String("doc_backend", cfg.DocBackend),
			zap.String("feed_backend", cfg.FeedBackend),
			zap.String("timezone", loc.String()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced shutdown", zap.Error(err))
	}
	log.Info("server exited")
	return nil
}
