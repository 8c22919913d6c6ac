package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"profile-gateway/internal/api"
	"profile-gateway/internal/cache"
	"profile-gateway/internal/common/config"
	"profile-gateway/internal/common/database"
	"profile-gateway/internal/common/logger"
	"profile-gateway/internal/common/observability"
	"profile-gateway/internal/consolidate"
	"profile-gateway/internal/query"
	"profile-gateway/internal/service"
	"profile-gateway/internal/sources"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}

	log := logger.NewStructured(cfg.Logging.Level, cfg.Logging.Format)
	log.Info("starting profile gateway", map[string]interface{}{
		"version":     cfg.App.Version,
		"environment": cfg.App.Environment,
	})

	obs := observability.New(cfg.App.Name, cfg.Observability.JaegerEndpoint)
	defer obs.Shutdown()

	redisClient, err := connectRedis(cfg, log)
	if err != nil {
		log.Error("redis connection failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer redisClient.Close()

	pgClient, err := connectPostgres(cfg, log)
	if err != nil {
		log.Error("postgres connection failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer pgClient.Close()

	esClient, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
	if err != nil {
		log.Error("elasticsearch client init failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	if err := esClient.Ping(); err != nil {
		// The search index only serves name queries; start degraded
		// rather than refuse all traffic.
		log.Warn("elasticsearch unreachable at startup", map[string]interface{}{"error": err.Error()})
	}

	clients, err := sources.Build(cfg.Sources, sources.Deps{
		DB:      pgClient.GetDB(),
		ES:      esClient.Client,
		ESIndex: cfg.Database.Elasticsearch.Index,
		Logger:  log,
	})
	if err != nil {
		log.Error("source setup failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	svc := service.New(
		query.NewClassifier(cfg.Query, log),
		cache.New(redisClient.GetClient(), cfg.Cache, log),
		consolidate.New(cfg.Sources.Precedence, log),
		clients,
		cfg.Cache,
		log,
		obs,
	)

	e := api.NewRouter(api.NewHandler(svc), api.Readiness{
		Redis: redisClient.GetClient(),
		DB:    pgClient.GetDB(),
	}, log)

	go func() {
		log.Info("http server listening", map[string]interface{}{"address": cfg.Server.Address})
		if err := e.Start(cfg.Server.Address); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down", nil)
	ctx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Error("shutdown did not complete cleanly", map[string]interface{}{"error": err.Error()})
	}
}

// connectRedis retries with linear backoff so the gateway survives starting
// before its cache in orchestrated environments.
func connectRedis(cfg *config.Config, log logger.Logger) (*database.RedisClient, error) {
	var client *database.RedisClient
	err := retry(5, 2*time.Second, log, "redis", func() error {
		var err error
		client, err = database.NewRedis(cfg.Database.Redis)
		return err
	})
	return client, err
}

func connectPostgres(cfg *config.Config, log logger.Logger) (*database.PostgresClient, error) {
	var client *database.PostgresClient
	err := retry(5, 2*time.Second, log, "postgres", func() error {
		var err error
		client, err = database.NewPostgres(cfg.Database.Postgres)
		return err
	})
	return client, err
}

func retry(attempts int, delay time.Duration, log logger.Logger, name string, fn func() error) error {
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < attempts {
			log.Warn("connection attempt failed, retrying", map[string]interface{}{
				"target":  name,
				"attempt": i,
				"error":   err.Error(),
			})
			time.Sleep(delay * time.Duration(i))
		}
	}
	return err
}
