// Package main runs the ban side-effect worker: it drains the intent
// queue and applies the video-access and event-access steps against the
// conference and event-log services.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/foxford/dispatchd/internal/banops"
	"github.com/foxford/dispatchd/internal/clients"
	"github.com/foxford/dispatchd/internal/config"
	"github.com/foxford/dispatchd/internal/store"
	"github.com/foxford/dispatchd/pkg/database"
	redisclient "github.com/foxford/dispatchd/pkg/redis"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{
		MaxConns:        int32(cfg.Database.PoolSize),
		MinConns:        int32(cfg.Database.PoolIdle),
		ConnTimeout:     cfg.Database.PoolTimeout,
		MaxConnLifetime: cfg.Database.MaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redisclient.NewClient(ctx, cfg.Cache.URL, cfg.Cache.Password, cfg.Cache.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	st := store.New(pool, logger)
	conference := clients.NewConferenceClient(cfg.Clients.ConferenceBaseURL, cfg.Clients.RPCTimeout, logger)
	eventlog := clients.NewEventLogClient(cfg.Clients.EventLogBaseURL, cfg.Clients.RPCTimeout, logger)

	queue := banops.NewQueue(rdb.Client, logger)
	worker := banops.NewWorker(st, queue, conference, eventlog, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go worker.Run(workerCtx)
	logger.Info("ban worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(cfg.Server.ShutdownGrace)
	logger.Info("ban worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
