package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"techstore/config"
	"techstore/internal/api"
	"techstore/internal/auth"
	"techstore/internal/broker"
	"techstore/internal/cart"
	"techstore/internal/pricing"
	"techstore/internal/ratelimit"
	"techstore/internal/redisclient"
	"techstore/internal/service"
	"techstore/internal/store"
	"techstore/internal/util"
	"techstore/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting TechStore API", zap.String("env", cfg.Server.Env), zap.String("version", cfg.Server.Version))

	if cfg.Observ.JaegerEndpoint != "" {
		sampleRatio := 1.0
		if cfg.Server.Production() {
			sampleRatio = 0.1
		}
		tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint, sampleRatio)
		if err != nil {
			log.Fatalf("Failed to initialize tracer: %v", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				log.Printf("Error shutting down tracer: %v", err)
			}
		}()
	}

	ctx := context.Background()

	repo, err := store.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer repo.Close()
	logger.Info("Database connected", zap.String("driver", cfg.Database.Driver))

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	checks := map[string]api.Pinger{"database": repo}

	var (
		cartStore cart.Store = cart.NewMemoryStore()
		claims    service.IdempotencyStore
		general   ratelimit.Limiter
	)
	authLimiter := ratelimit.NewTokenBucket(cfg.RateLimit.AuthRequests, cfg.RateLimit.AuthWindow)
	go ratelimit.RunSweeper(workerCtx, authLimiter, time.Minute)

	if cfg.Redis.Addr != "" {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("Redis unavailable, using in-memory limiter and carts", zap.Error(err))
		} else {
			defer redisClient.Close()
			logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))
			cartStore = redisClient
			claims = redisClient
			general = ratelimit.NewRedisFixedWindow(redisClient, "general", cfg.RateLimit.Requests, cfg.RateLimit.Window)
			checks["redis"] = redisClient
		}
	}
	if general == nil {
		window := ratelimit.NewFixedWindow(cfg.RateLimit.Requests, cfg.RateLimit.Window)
		go ratelimit.RunSweeper(workerCtx, window, time.Minute)
		general = window
	}

	pricingCfg := pricing.Config{
		FreeShippingThreshold: cfg.Business.FreeShippingThreshold,
		ShippingFee:           cfg.Business.ShippingFee,
		TaxRate:               cfg.Business.TaxRate,
	}
	promos := pricing.NewCatalog(pricing.DefaultPromos())

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		log.Fatalf("Failed to initialize tokens: %v", err)
	}

	catalogService := service.NewCatalogService(repo)

	// Order events feed the catalog's sales counters, through Kafka when
	// brokers are configured and in process otherwise.
	var (
		publisher     service.EventPublisher
		catalogWorker *worker.CatalogWorker
	)
	if len(cfg.Kafka.Brokers) > 0 {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
		defer producer.Close()
		publisher = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))

		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
		catalogWorker = worker.NewCatalogWorker(consumer, catalogService)
		go func() {
			if err := catalogWorker.Start(workerCtx); err != nil {
				logger.Error("Catalog worker error", zap.Error(err))
			}
		}()
	} else {
		publisher = worker.NewCatalogWorker(nil, catalogService)
	}

	orderService := service.NewOrderService(repo, service.NewStockKeeper(repo), pricingCfg, promos, publisher, claims)
	authService := service.NewAuthService(repo, tokens, cfg.Auth.AdminEmails)
	cartService := service.NewCartService(cartStore, repo, orderService, pricingCfg, promos)

	if cfg.Server.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Dependencies{
		Catalog:        catalogService,
		Orders:         orderService,
		Auth:           authService,
		Carts:          cartService,
		Tokens:         tokens,
		GeneralLimiter: general,
		AuthLimiter:    authLimiter,
		Checks:         checks,
		TrustedProxies: cfg.Server.TrustedProxies,
		Env:            cfg.Server.Env,
		Version:        cfg.Server.Version,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           withCORS(cfg.Server, router),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	var metricsSrv *http.Server
	if port := cfg.Observ.PrometheusPort; port != "" && port != cfg.Server.Port {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: fmt.Sprintf(":%s", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server error", zap.Error(err))
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	workerCancel()
	if catalogWorker != nil {
		if err := catalogWorker.Stop(); err != nil {
			logger.Warn("Failed to stop catalog worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}
