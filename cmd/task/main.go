package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rptools/mtregistry/config"
	"github.com/rptools/mtregistry/db"
	"github.com/rptools/mtregistry/instance"
	"github.com/rptools/mtregistry/task"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Build-time injected variables
var (
	Version = ""
)

func main() {
	var logger *zap.Logger
	var dotFile string
	var err error

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
				"component": "task",
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

	supervisor := task.NewSupervisor(logger, "task", cfg.ShutdownTimeout)
	supervisor.Add(sweepTask)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("Sweep task started",
		zap.Duration("Timeout", cfg.Timeout()),
	)

	if err := supervisor.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Error("Supervisor stopped unexpectedly",
			zap.Error(err),
		)
	}

	logger.Info("Sweep task stopped")
}
