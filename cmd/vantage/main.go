package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/vantagecms/vantage/pkg/auth"
	"github.com/vantagecms/vantage/pkg/authz"
	"github.com/vantagecms/vantage/pkg/config"
	"github.com/vantagecms/vantage/pkg/middleware"
	"github.com/vantagecms/vantage/pkg/observability"
	"github.com/vantagecms/vantage/pkg/rbac"
	"github.com/vantagecms/vantage/pkg/scopes"
	"github.com/vantagecms/vantage/pkg/signing"
	"github.com/vantagecms/vantage/pkg/tenancy"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.LogLevel, os.Stdout)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	// Signing keys resolve before anything else; a misconfigured key pair
	// must stop startup rather than fall back to a generated one.
	keys := signing.NewManager(cfg.Signing, logger)
	if err := keys.Init(); err != nil {
		logger.WithError(err).Error("signing key initialization failed")
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.WithError(err).Error("failed to open database")
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := db.PingContext(ctx); err != nil {
		logger.WithError(err).Error("database is unreachable")
		os.Exit(1)
	}

	if err := rbac.RunMigrations(ctx, db); err != nil {
		logger.WithError(err).Error("migrations failed")
		os.Exit(1)
	}

	rbacStore := rbac.NewStore(db)
	if err := rbac.MigrateLegacyPermissionNames(ctx, rbacStore, rbac.DefaultLegacyRenames); err != nil {
		logger.WithError(err).Error("legacy permission migration failed")
		os.Exit(1)
	}

	redisClient := newRedisClient(cfg.Redis.URL)
	defer redisClient.Close()

	tokens := auth.NewTokenIssuer(keys, cfg.Token.Issuer, cfg.Token.Audience, cfg.Token.TTL)
	apiKeys := auth.NewAPIKeyStore(db)
	scopeStore := scopes.NewStore(db)
	graph := rbac.NewGraph(rbacStore, metrics)
	fields := rbac.NewFieldResolver(rbacStore)
	enforcer := rbac.NewEnforcer(graph, fields, metrics)
	tenants := tenancy.NewService(db, tokens, apiKeys, rbacStore, metrics)

	authenticator := middleware.NewAuthenticator(tenants)
	limiter := middleware.NewLimiter(redisClient, cfg.RateLimit.KeyPrefix, cfg.RateLimit.DefaultLimit, cfg.RateLimit.Window, cfg.RateLimit.RouteLimits, metrics)
	quota := middleware.NewQuotaReader(redisClient, cfg.RateLimit.KeyPrefix, cfg.RateLimit.DefaultLimit, cfg.RateLimit.Window, cfg.RateLimit.RouteLimits, metrics)

	router := mux.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logging(logger))

	// Key discovery endpoints are public.
	signing.NewHandlers(keys, cfg.Token.Issuer).RegisterRoutes(router)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(authenticator.Authenticate)
	api.Use(limiter.Handler)
	api.Use(quota.QuotaHeaders)

	rbac.NewHandlers(rbacStore, graph, fields, scopeStore, enforcer).RegisterRoutes(api)
	tenancy.NewHandlers(tenants).RegisterRoutes(api)

	keyRoutes := api.NewRoute().Subrouter()
	keyRoutes.Use(enforcer.Require(authz.RequireScope("apikey.manage")))
	auth.NewHandlers(apiKeys).RegisterRoutes(keyRoutes)

	// Expired API keys are deactivated hourly.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@hourly", func() {
		n, err := apiKeys.CleanupExpired(context.Background())
		if err != nil {
			logger.WithError(err).Warn("api key cleanup failed")
			return
		}
		if n > 0 {
			logger.WithField("deactivated", n).Info("deactivated expired api keys")
		}
	}); err != nil {
		logger.WithError(err).Error("failed to schedule api key cleanup")
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	apiServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	metricsServer := &http.Server{
		Addr:    cfg.Server.MetricsAddr,
		Handler: metrics.Handler(),
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.WithField("addr", cfg.Server.Addr).Info("starting API server")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		logger.WithField("addr", cfg.Server.MetricsAddr).Info("starting metrics server")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("API server shutdown error")
		}
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.WithError(err).Error("server exited with error")
		os.Exit(1)
	}
}

func newRedisClient(url string) *redis.Client {
	if url == "" {
		return redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		log.Fatalf("Invalid VANTAGE_REDIS_URL: %v", err)
	}
	return redis.NewClient(opts)
}
