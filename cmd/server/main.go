// Package main runs the dispatcher: the HTTP surface, the broker consumer
// and graceful shutdown with a short drain grace for in-flight messages.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/foxford/dispatchd/internal/authzproxy"
	"github.com/foxford/dispatchd/internal/banops"
	"github.com/foxford/dispatchd/internal/broker"
	"github.com/foxford/dispatchd/internal/cache"
	"github.com/foxford/dispatchd/internal/clients"
	"github.com/foxford/dispatchd/internal/config"
	"github.com/foxford/dispatchd/internal/download"
	"github.com/foxford/dispatchd/internal/httpapi"
	"github.com/foxford/dispatchd/internal/lifecycle"
	"github.com/foxford/dispatchd/internal/middleware"
	"github.com/foxford/dispatchd/internal/pipeline"
	"github.com/foxford/dispatchd/internal/router"
	"github.com/foxford/dispatchd/internal/store"
	"github.com/foxford/dispatchd/pkg/database"
	redisclient "github.com/foxford/dispatchd/pkg/redis"
	"github.com/foxford/dispatchd/pkg/storage"
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

	st := store.New(pool, logger)
	if err := st.Migrate(ctx); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redisclient.NewClient(ctx, cfg.Cache.URL, cfg.Cache.Password, cfg.Cache.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var cacheRedis *redisclient.Client
	if cfg.Cache.Enabled {
		cacheRedis = rdb
	}
	classCache := cache.New(st, cacheRedis, cfg.Cache.ExpirationTime, logger)

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			MediaBucket:          cfg.AWS.MediaBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	bus, err := broker.Connect(cfg.NATS.URL, cfg.NATS.ServiceID, logger)
	if err != nil {
		logger.Fatal("nats", zap.Error(err))
	}
	defer bus.Close()

	conference := clients.NewConferenceClient(cfg.Clients.ConferenceBaseURL, cfg.Clients.RPCTimeout, logger)
	eventlog := clients.NewEventLogClient(cfg.Clients.EventLogBaseURL, cfg.Clients.RPCTimeout, logger)
	taskqueue := clients.NewTaskQueueClient(cfg.Clients.TaskQueueBaseURL, cfg.Clients.RPCTimeout, logger)

	lifecycleSvc := lifecycle.New(st, conference, eventlog, bus, cfg.Clients.RetryDelay, logger)
	preroll := func(string) int64 { return cfg.Audiences.DefaultPrerollOffsetMs }
	pipelineSvc := pipeline.New(st, conference, eventlog, taskqueue, bus, preroll, logger)

	decider := authzproxy.NewHTTPDecider(cfg.Authz.BaseURL, cfg.Clients.RPCTimeout, logger)
	authz := authzproxy.New(st, decider, cfg.Authz.TrustedAudience, cfg.Authz.AccountID, cfg.Clients.RetryDelay, logger)

	banQueue := banops.NewQueue(rdb.Client, logger)
	bans := banops.NewSequencer(st, banQueue, logger)

	downloadSvc := download.New(s3Client, logger)

	// Broker consumer
	consumerCtx, consumerCancel := context.WithCancel(context.Background())
	defer consumerCancel()
	msgs, err := bus.Subscribe(consumerCtx)
	if err != nil {
		logger.Fatal("subscribe", zap.Error(err))
	}
	rt := router.New(lifecycleSvc, pipelineSvc, nil, logger)
	go rt.Run(consumerCtx, msgs)

	// HTTP surface
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	engine.Use(middleware.Logger(logger))

	api := httpapi.New(lifecycleSvc, pipelineSvc, classCache, st, st, authz, bans, downloadSvc, eventlog, bus, cfg.JWT.Secret, cfg.Server.DefaultFrontendBase, logger)
	api.Routes(engine)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	// Short drain grace for in-flight broker messages; anything past it
	// resumes on the next redelivery.
	consumerCancel()
	time.Sleep(cfg.Server.ShutdownGrace)
	logger.Info("stopped")
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
