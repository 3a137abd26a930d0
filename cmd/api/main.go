package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iProgrammerDmytro/credit-system/internal/auth"
	"github.com/iProgrammerDmytro/credit-system/internal/config"
	"github.com/iProgrammerDmytro/credit-system/internal/credits"
	"github.com/iProgrammerDmytro/credit-system/internal/events"
	"github.com/iProgrammerDmytro/credit-system/internal/httpapi"
	"github.com/iProgrammerDmytro/credit-system/internal/scheduler"
	"github.com/iProgrammerDmytro/credit-system/pkg/logger"
	"github.com/iProgrammerDmytro/credit-system/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

func main() {
	// Local convenience only; deployed environments inject real env.
	_ = godotenv.Load()

	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	var sink credits.EventSink
	if cfg.NATS.URL != "" {
		nc, err := events.Connect(cfg.NATS.URL)
		if err != nil {
			log.Error("nats init failed", "err", err)
			os.Exit(1)
		}
		defer nc.Close()
		sink = events.NewPublisher(nc, log)
	}

	store := credits.NewPostgresStore(db)
	service := credits.NewService(store, sink)
	sweeper := credits.NewSweeper(store, sink, credits.SweeperConfig{
		ReservationTTL: cfg.Credits.ReservationTTL,
		ChunkSize:      cfg.Credits.SweepChunkSize,
	}, log)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, httpapi.Handlers{
		Auth:    authManager,
		Credits: service,
		Store:   store,
	}, authManager, store, service)

	// Stale-reservation sweeper; a crashed request handler leaves a PENDING
	// hold behind, and this is what eventually refunds it.
	runner := scheduler.NewRunner(sweeper, rdb, scheduler.Config{
		Interval: cfg.Credits.SweepInterval,
	}, log)
	go runner.Run(rootCtx)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
