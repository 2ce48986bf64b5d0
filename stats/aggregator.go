package stats

import (
	"context"
	"fmt"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// AggregatorOptions contains the collaborators of an Aggregator
type AggregatorOptions struct {
	Querier Querier
	Logger  *zap.Logger
	Clock   func() time.Time
}

// Aggregator turns a list of windows into per-version breakdowns
type Aggregator struct {
	AggregatorOptions
}

func NewAggregator(option AggregatorOptions) (*Aggregator, error) {
	if option.Querier == nil {
		return nil, fmt.Errorf("nil Querier is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Clock == nil {
		option.Clock = time.Now
	}
	return &Aggregator{
		AggregatorOptions: option,
	}, nil
}

func (a *Aggregator) since(hours int) time.Time {
	return a.Clock().UTC().Add(-time.Duration(hours) * time.Hour)
}

// VersionsByWindow returns one Window per entry of hours, in the same order.
// Windows without any matching server are left out.
func (a *Aggregator) VersionsByWindow(ctx context.Context, hours []int) ([]Window, error) {
	windows := make([]Window, 0, len(hours))
	for _, h := range hours {
		if err := checkHours(h); err != nil {
			return nil, err
		}
		rows, err := a.Querier.VersionsSince(ctx, a.since(h))
		if err != nil {
			return nil, extErrors.Wrapf(err, "Cannot aggregate %d hour window", h)
		}
		if len(rows) == 0 {
			continue
		}
		window := Window{
			Hours:       h,
			VersionInfo: make([]VersionInfo, 0, len(rows)),
		}
		for _, row := range rows {
			window.VersionInfo = append(window.VersionInfo, VersionInfo{
				Version: row.Version,
				Servers: row.Servers,
				Players: row.Players,
			})
		}
		windows = append(windows, window)
	}
	return windows, nil
}

// VersionsByWindowAndWeekday is VersionsByWindow with every window split by the weekday of
// the heartbeats in timezone. An empty timezone means UTC.
func (a *Aggregator) VersionsByWindowAndWeekday(ctx context.Context, hours []int, timezone string) (*DaysResult, error) {
	if timezone == "" {
		timezone = defaultTimezone
	}
	result := DaysResult{
		Timezone: timezone,
		Data:     make([]DayWindow, 0, len(hours)),
	}
	for _, h := range hours {
		if err := checkHours(h); err != nil {
			return nil, err
		}
		rows, err := a.Querier.WeekdaysSince(ctx, a.since(h), timezone)
		if err != nil {
			return nil, extErrors.Wrapf(err, "Cannot aggregate %d hour window by weekday", h)
		}
		if len(rows) == 0 {
			continue
		}
		window := DayWindow{Hours: h}
		for i := range window.Days {
			window.Days[i].VersionInfo = make([]VersionInfo, 0)
		}
		for _, row := range rows {
			if row.Weekday < 0 || row.Weekday >= len(window.Days) {
				a.Logger.Warn("Ignoring row with invalid weekday",
					zap.Int("Weekday", row.Weekday),
					zap.String("Version", row.Version),
				)
				continue
			}
			day := &window.Days[row.Weekday]
			day.VersionInfo = append(day.VersionInfo, VersionInfo{
				Version: row.Version,
				Servers: row.Servers,
				Players: row.Players,
			})
		}
		result.Data = append(result.Data, window)
	}
	return &result, nil
}
