package instance

import (
	"context"
	"fmt"
	"time"

	"github.com/rptools/mtregistry/metrics"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// SweeperOptions contains the configuration for Sweeper
type SweeperOptions struct {
	Store  Store
	Logger *zap.Logger
	// Timeout is how long an instance may stay silent before it is expired
	Timeout time.Duration
	Clock   func() time.Time
}

// Sweeper expires active instances that stopped sending heartbeats
type Sweeper struct {
	SweeperOptions
}

// SweepResult summarises one sweep pass
type SweepResult struct {
	Expired int
	Failed  int
}

func NewSweeper(option SweeperOptions) (*Sweeper, error) {
	if option.Store == nil {
		return nil, fmt.Errorf("nil Store is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Timeout <= 0 {
		return nil, fmt.Errorf("Timeout must be positive")
	}
	if option.Clock == nil {
		option.Clock = time.Now
	}
	return &Sweeper{
		SweeperOptions: option,
	}, nil
}

// Sweep runs one pass. Each expired instance is handled in its own transaction; a failure is
// logged and counted and the pass moves on. An error is only returned when the candidates
// cannot be listed at all.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	start := time.Now()
	defer func() {
		metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	cutoff := s.Clock().UTC().Add(-s.Timeout)
	ids, err := s.Store.ListExpired(ctx, cutoff)
	if err != nil {
		s.Logger.Error("Unable to list expired instances",
			zap.Error(err),
		)
		return result, extErrors.Wrap(err, "Cannot sweep expired instances")
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		expired, err := s.expire(ctx, id, cutoff)
		if err != nil {
			s.Logger.Error("Unable to expire instance",
				zap.String("InstanceID", id),
				zap.Error(err),
			)
			result.Failed++
			metrics.SweepFailures.Inc()
			continue
		}
		if expired {
			result.Expired++
			metrics.SweepExpired.Inc()
		}
	}

	s.Logger.Info("Expiry sweep finished",
		zap.Time("Cutoff", cutoff),
		zap.Int("Candidates", len(ids)),
		zap.Int("Expired", result.Expired),
		zap.Int("Failed", result.Failed),
	)
	return result, nil
}

// expire reports false when a heartbeat revived the instance between listing and update
func (s *Sweeper) expire(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	var expired bool
	err := s.Store.Transaction(ctx, func(tx Store) error {
		n, err := tx.Expire(ctx, id, cutoff)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		expired = true
		return tx.AppendEvent(ctx, id, EventServerTimeOut, s.Clock().UTC())
	})
	if err != nil {
		return false, err
	}
	return expired, nil
}
