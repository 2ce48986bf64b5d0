package task

import (
	"time"

	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"
)

// EventHook forwards supervisor events to logger
func EventHook(logger *zap.Logger) suture.EventHook {
	return func(e suture.Event) {
		fields := make([]zap.Field, 0, len(e.Map()))
		for k, v := range e.Map() {
			fields = append(fields, zap.Any(k, v))
		}
		switch e.Type() {
		case suture.EventTypeServicePanic, suture.EventTypeServiceTerminate:
			logger.Error(e.String(), fields...)
		default:
			logger.Warn(e.String(), fields...)
		}
	}
}

// NewSupervisor returns a supervisor that restarts failing services with backoff and
// gives each of them shutdownTimeout to stop
func NewSupervisor(logger *zap.Logger, name string, shutdownTimeout time.Duration) *suture.Supervisor {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return suture.New(name, suture.Spec{
		EventHook:        EventHook(logger.With(zap.String("Supervisor", name))),
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          shutdownTimeout,
	})
}
