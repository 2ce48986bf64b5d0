package task

import (
	"context"
	"fmt"
	"time"

	"github.com/rptools/mtregistry/instance"

	"go.uber.org/zap"
)

// Sweeper runs one expiry pass
type Sweeper interface {
	Sweep(ctx context.Context) (instance.SweepResult, error)
}

type SweepOptions struct {
	Sweeper  Sweeper
	Logger   *zap.Logger
	Interval time.Duration
}

// SweepTask expires silent instances on a fixed cadence. A pass runs as soon as the task
// starts, then once per Interval. Passes never overlap.
type SweepTask struct {
	SweepOptions
}

func NewSweepTask(option SweepOptions) (*SweepTask, error) {
	if option.Sweeper == nil {
		return nil, fmt.Errorf("nil Sweeper is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Interval <= 0 {
		return nil, fmt.Errorf("Interval must be positive")
	}
	return &SweepTask{
		SweepOptions: option,
	}, nil
}

// Serve implements suture.Service
func (t *SweepTask) Serve(ctx context.Context) error {
	t.Logger.Info("Expiry sweep scheduled",
		zap.Duration("Interval", t.Interval),
	)

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		t.runOnce(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (t *SweepTask) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	// a failed pass is retried on the next tick
	if _, err := t.Sweeper.Sweep(ctx); err != nil {
		t.Logger.Error("Expiry sweep failed",
			zap.Error(err),
		)
	}
}

func (t *SweepTask) String() string {
	return "expiry-sweep"
}
