package stats

import (
	"context"
	"fmt"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Querier runs the aggregation queries for one window
type Querier interface {
	VersionsSince(ctx context.Context, since time.Time) ([]VersionRow, error)
	WeekdaysSince(ctx context.Context, since time.Time, timezone string) ([]WeekdayRow, error)
}

// Manager runs the statistics queries against the instance and heartbeat_log tables
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ Querier = &Manager{}

// Players of an instance is the most it reported in any heartbeat of the window.
const versionsQuery = `
SELECT i.version AS version,
	COUNT(*) AS servers,
	COALESCE(SUM(p.players), 0) AS players
FROM instance i
LEFT JOIN (
	SELECT instance_id, MAX(number_players) AS players
	FROM heartbeat_log
	WHERE created_at >= @since
	GROUP BY instance_id
) p ON p.instance_id = i.id
WHERE i.last_heartbeat >= @since
GROUP BY i.version
ORDER BY i.version`

const weekdaysQuery = `
SELECT d.weekday AS weekday,
	i.version AS version,
	COUNT(*) AS servers,
	COALESCE(SUM(d.players), 0) AS players
FROM (
	SELECT instance_id,
		CAST(EXTRACT(DOW FROM created_at AT TIME ZONE @tz) AS INTEGER) AS weekday,
		MAX(number_players) AS players
	FROM heartbeat_log
	WHERE created_at >= @since
	GROUP BY instance_id, weekday
) d
JOIN instance i ON i.id = d.instance_id
GROUP BY d.weekday, i.version
ORDER BY d.weekday, i.version`

// NewManager returns a Manager reading from db. The tables are owned by instance.Manager.
func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if db == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

func (m *Manager) VersionsSince(ctx context.Context, since time.Time) ([]VersionRow, error) {
	rows := make([]VersionRow, 0, 8)
	result := m.db.WithContext(ctx).
		Raw(versionsQuery, map[string]interface{}{
			"since": since,
		}).
		Scan(&rows)
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Time("Since", since),
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot aggregate versions")
	}
	return rows, nil
}

func (m *Manager) WeekdaysSince(ctx context.Context, since time.Time, timezone string) ([]WeekdayRow, error) {
	rows := make([]WeekdayRow, 0, 16)
	result := m.db.WithContext(ctx).
		Raw(weekdaysQuery, map[string]interface{}{
			"since": since,
			"tz":    timezone,
		}).
		Scan(&rows)
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Time("Since", since),
			zap.String("Timezone", timezone),
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot aggregate versions by weekday")
	}
	return rows, nil
}
