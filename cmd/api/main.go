package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rptools/mtregistry/config"
	"github.com/rptools/mtregistry/db"
	"github.com/rptools/mtregistry/instance"
	"github.com/rptools/mtregistry/metrics"
	resp "github.com/rptools/mtregistry/response"
	"github.com/rptools/mtregistry/stats"
	"github.com/rptools/mtregistry/task"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"
)

// Build-time injected variables
var (
	Version = ""
)

func main() {
	var logger *zap.Logger
	var dotFile string
	var err error

	sweepCapable := flag.Bool("sweep", true, "api instance will also run the expiry sweep")
	flag.Parse()

	// Determine running environment and initialize structural logger
	env := os.Getenv("ENV")
	if config.EnvProduction == env {
		dotFile = ".env.production"
		logger, err = zap.NewProduction()
	} else {
		dotFile = ".env.development"
		logger, err = zap.NewDevelopment()
	}

	if err != nil {
		log.Fatalf("Cannot initialize logger: %v\n", err)
	}
	logger = logger.With(zap.String("Version", Version))

	cfg, err := config.Load(dotFile)
	if err != nil {
		logger.Fatal("Cannot load configurations",
			zap.Error(err),
		)
	}

	// Attach sentry to zap so we can do automatic error capturing
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Env,
			Release:     Version,
			Debug:       !cfg.IsProduction(),
		}); err != nil {
			logger.Fatal("Cannot initialize sentry",
				zap.Error(err),
			)
		}
		defer sentry.Flush(time.Second * 2)

		core, err := zapsentry.NewCore(zapsentry.Configuration{
			Level: zapcore.ErrorLevel,
			Tags: map[string]string{
				"component": "api",
			},
		}, zapsentry.NewSentryClientFromClient(sentry.CurrentHub().Client()))
		if err != nil {
			logger.Fatal("Cannot attach sentry to logger",
				zap.Error(err),
			)
		}
		logger = zapsentry.AttachCoreToLogger(core, logger)
	}

	defer logger.Sync()

	// Initialize backend connections
	gdb, err := db.New(db.Options{
		URI:          cfg.PostgresURI,
		Logger:       logger,
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
	})
	if err != nil {
		logger.Fatal("Cannot connect to Postgres",
			zap.Error(err),
		)
	}
	defer db.Close(gdb)

	instanceManager, err := instance.NewManager(logger, gdb)
	if err != nil {
		logger.Fatal("Cannot initialize InstanceManager",
			zap.Error(err),
		)
	}

	registry, err := instance.NewRegistry(instance.RegistryOptions{
		Store:             instanceManager,
		Logger:            logger,
		HeartbeatInterval: cfg.HeartbeatInterval(),
	})
	if err != nil {
		logger.Fatal("Cannot initialize Registry",
			zap.Error(err),
		)
	}

	var limiter func(http.Handler) http.Handler
	if cfg.RateLimitRequests > 0 {
		limiter = httprate.Limit(
			cfg.RateLimitRequests,
			cfg.RateLimitWindow,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				resp.WriteError(w, r, resp.ErrTooManyRequests())
			}),
		)
	}

	instanceRouter, err := instance.NewService(instance.ServiceOptions{
		Registry: registry,
		Logger:   logger,
		Limiter:  limiter,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Instance Service Router",
			zap.Error(err),
		)
	}

	statsManager, err := stats.NewManager(logger, gdb)
	if err != nil {
		logger.Fatal("Cannot initialize StatsManager",
			zap.Error(err),
		)
	}

	aggregator, err := stats.NewAggregator(stats.AggregatorOptions{
		Querier: statsManager,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Aggregator",
			zap.Error(err),
		)
	}

	statsRouter, err := stats.NewService(stats.ServiceOptions{
		Aggregator:   aggregator,
		Logger:       logger,
		DefaultHours: cfg.DefaultHours,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Stats Service Router",
			zap.Error(err),
		)
	}

	rootRouter := chi.NewRouter()

	rootRouter.Use(middleware.RequestID)
	rootRouter.Use(middleware.RealIP)
	rootRouter.Use(middleware.Recoverer)
	rootRouter.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "PUT", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	rootRouter.Use(metrics.Middleware)

	instanceRouter.Routes(rootRouter)
	statsRouter.Routes(rootRouter)

	rootRouter.Get("/healthz", healthz(logger, gdb))
	rootRouter.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Handler:           rootRouter,
		Addr:              cfg.HTTPAddr,
		ReadHeaderTimeout: 10 * time.Second,
	}

	httpTask, err := task.NewHTTPTask(task.HTTPOptions{
		Server:          srv,
		Logger:          logger,
		ShutdownTimeout: cfg.ShutdownTimeout,
	})
	if err != nil {
		logger.Fatal("Cannot get http task",
			zap.Error(err),
		)
	}

	supervisor := task.NewSupervisor(logger, "api", cfg.ShutdownTimeout)
	supervisor.Add(httpTask)

	if *sweepCapable {
		sweeper, err := instance.NewSweeper(instance.SweeperOptions{
			Store:   instanceManager,
			Logger:  logger,
			Timeout: cfg.Timeout(),
		})
		if err != nil {
			logger.Fatal("Cannot initialize Sweeper",
				zap.Error(err),
			)
		}
		sweepTask, err := task.NewSweepTask(task.SweepOptions{
			Sweeper:  sweeper,
			Logger:   logger,
			Interval: cfg.SweepInterval,
		})
		if err != nil {
			logger.Fatal("Cannot get sweep task",
				zap.Error(err),
			)
		}
		supervisor.Add(sweepTask)
		logger.Info("API instance will run the expiry sweep")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("API server started",
		zap.String("Addr", cfg.HTTPAddr),
	)

	if err := supervisor.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Error("Supervisor stopped unexpectedly",
			zap.Error(err),
		)
	}

	logger.Info("API server stopped")
}

func healthz(logger *zap.Logger, gdb *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx, gdb); err != nil {
			logger.Warn("Health check failed",
				zap.Error(err),
			)
			resp.WriteError(w, r, resp.ErrUnavailable())
			return
		}
		resp.WriteStatus(w, r, http.StatusNoContent)
	}
}
