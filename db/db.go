package db

import (
	"context"
	"fmt"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"moul.io/zapgorm2"
)

// Options configures the PostgreSQL connection pool
type Options struct {
	URI          string
	Logger       *zap.Logger
	MaxOpenConns int
	MaxIdleConns int
}

func (o *Options) validate() error {
	if len(o.URI) == 0 {
		return fmt.Errorf("empty URI is invalid")
	}
	if o.Logger == nil {
		return fmt.Errorf("nil Logger is invalid")
	}
	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = 20
	}
	if o.MaxIdleConns <= 0 {
		o.MaxIdleConns = 1
	}
	return nil
}

// Logger returns the gorm logger backed by zap. Missing records are handled in application logic
// and are not forwarded to zap/sentry.
func Logger(logger *zap.Logger) gormlogger.Interface {
	gLogger := zapgorm2.New(logger.Named("gorm"))
	gLogger.LogLevel = gormlogger.Warn
	gLogger.SlowThreshold = time.Second
	gLogger.IgnoreRecordNotFoundError = true
	return gLogger
}

// Config is the gorm configuration shared by every connection. Driver errors are translated
// so that unique violations surface as gorm.ErrDuplicatedKey.
func Config(logger *zap.Logger) *gorm.Config {
	return &gorm.Config{
		Logger:         Logger(logger),
		TranslateError: true,
	}
}

// New returns an instance for interacting with the PostgreSQL database
func New(option Options) (*gorm.DB, error) {
	if err := option.validate(); err != nil {
		return nil, err
	}
	db, err := gorm.Open(postgres.Open(option.URI), Config(option.Logger))
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot connect to database")
	}
	pool, err := db.DB()
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot get the connection pool")
	}
	pool.SetMaxIdleConns(option.MaxIdleConns)
	pool.SetMaxOpenConns(option.MaxOpenConns)
	pool.SetConnMaxLifetime(time.Hour)
	return db, nil
}

// Ping checks that the pool can still reach the database
func Ping(ctx context.Context, db *gorm.DB) error {
	pool, err := db.DB()
	if err != nil {
		return extErrors.Wrap(err, "Cannot get the connection pool")
	}
	return pool.PingContext(ctx)
}

// Close releases every connection held by the pool
func Close(db *gorm.DB) error {
	pool, err := db.DB()
	if err != nil {
		return extErrors.Wrap(err, "Cannot get the connection pool")
	}
	return pool.Close()
}
