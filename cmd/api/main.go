package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	validator "github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"

	"github.com/doubleoak/estimator-api/internal/config"
	"github.com/doubleoak/estimator-api/internal/estimate"
	"github.com/doubleoak/estimator-api/internal/export"
	"github.com/doubleoak/estimator-api/internal/health"
	"github.com/doubleoak/estimator-api/internal/lock"
	"github.com/doubleoak/estimator-api/internal/obs"
	"github.com/doubleoak/estimator-api/internal/pricebook"
	"github.com/doubleoak/estimator-api/internal/ratelimit"
	"github.com/doubleoak/estimator-api/internal/security"
	"github.com/doubleoak/estimator-api/internal/session"
	"github.com/doubleoak/estimator-api/internal/summary"
)

const metricsNamespace = "estimator"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	if cfg.TracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "estimator-api",
			Endpoint:      cfg.TracingEndpoint,
			SamplingRatio: cfg.TracingSampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			cfg.TracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		cancel()
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		cancel()
		logger.Fatal().Err(err).Msg("ping redis")
	}
	cancel()

	book := pricebook.New(cfg.PricebookPath, cfg.PricebookSheet, logger)
	if cfg.PricebookPath != "" {
		if err := book.Reload(); err != nil {
			logger.Warn().Err(err).Str("path", cfg.PricebookPath).
				Msg("pricebook unavailable, estimates fall back to entered prices")
		}
	}

	store := session.NewStore(redisClient, cfg.SessionTTL)
	validate := validator.New()
	engine := estimate.NewEngine(estimate.ParamsFromConfig(*cfg), book, logger)

	estimateHandler := estimate.NewHandler(estimate.HandlerConfig{
		Engine:   engine,
		Store:    store,
		Validate: validate,
		Logger:   logger,
	})
	exportHandler := export.NewHandler(export.HandlerConfig{
		Store:   store,
		TaxRate: cfg.SalesTaxRate,
		Logger:  logger,
	})
	summaryHandler := summary.NewHandler(summary.HandlerConfig{
		Store:    store,
		Validate: validate,
		Logger:   logger,
	})
	locker := &lock.Locker{R: redisClient}
	pricebookHandler := pricebook.NewHandler(pricebook.HandlerConfig{Book: book, Locker: locker})

	httpMetrics := obs.NewHTTPMetrics(metricsNamespace, obs.ParseBucketsCSV(cfg.MetricsBucketsCSV), nil)
	limiter := ratelimit.New(redisClient, cfg.RateLimitMax, cfg.RateLimitWindow, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if cfg.TracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{Enable: true, EnableHSTS: true}.Middleware)
	r.Use(security.BodyLimit{Max: 1 << 20}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())

	healthHandler := health.Handler{
		Redis:     redisPinger{client: redisClient},
		Pricebook: book,
	}
	r.Get("/healthz/live", healthHandler.Live)
	r.Get("/healthz/ready", healthHandler.Ready)

	r.Route("/v1", func(v chi.Router) {
		v.Get("/pricebook/price", pricebookHandler.Price)
		v.Post("/pricebook/reload", pricebookHandler.Reload)

		v.Route("/sessions/{sid}", func(s chi.Router) {
			s.Use(limiter.Middleware)

			s.Post("/estimates/fence", estimateHandler.Fence)
			s.Post("/estimates/unit", estimateHandler.Unit)

			s.Get("/export", exportHandler.Get)
			s.Post("/export/add", exportHandler.Add)
			s.Post("/export/seed", exportHandler.Seed)
			s.Post("/export/clear", exportHandler.Clear)
			s.Delete("/export/lines/{id}", exportHandler.Remove)

			s.Post("/summary/items", summaryHandler.AddItems)
			s.Get("/summary", summaryHandler.Get)
			s.Get("/summary/csv", summaryHandler.DownloadCSV)
			s.Delete("/summary", summaryHandler.Clear)
		})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	}()

	<-rootCtx.Done()
	logger.Info().Msg("shutting down")
	health.SetReady(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
