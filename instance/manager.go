package instance

import (
	"context"
	"errors"
	"fmt"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Manager handles the database operations relating to Instance
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ Store = &Manager{}

// NewManager returns a new Manager for instances
func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if db == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if err := db.AutoMigrate(&Instance{}, &Info{}, &Event{}, &Heartbeat{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize instance.Manager")
	}
	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

func (m *Manager) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Manager{
			db:     tx,
			logger: m.logger,
		})
	})
}

func (m *Manager) GetByID(ctx context.Context, id string) (*Instance, error) {
	inst := Instance{}

	result := m.db.WithContext(ctx).Where("id = ?", id).First(&inst)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get instance by id")
	}

	return &inst, nil
}

func (m *Manager) FindActiveByName(ctx context.Context, name string) (*Instance, error) {
	inst := Instance{}

	result := m.db.WithContext(ctx).
		Where("active = ?", true).
		Where("name = ?", name).
		First(&inst)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get active instance by name")
	}

	return &inst, nil
}

func (m *Manager) Create(ctx context.Context, inst *Instance) error {
	result := m.db.WithContext(ctx).Create(inst)
	if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
		return ErrNameTaken
	}
	if result.Error != nil {
		m.logger.Error("Unable to create new instance in database",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot create instance")
	}
	return nil
}

func (m *Manager) Refresh(ctx context.Context, opt RefreshOption) (int64, error) {
	if len(opt.InstanceID) == 0 {
		return 0, fmt.Errorf("empty InstanceID is invalid")
	}
	updates := map[string]interface{}{
		"address":        nullable(opt.Addresses.Address),
		"ipv4":           nullable(opt.Addresses.IPv4),
		"ipv6":           nullable(opt.Addresses.IPv6),
		"active":         true,
		"last_heartbeat": opt.LastHeartbeat,
	}
	if opt.Port > 0 {
		updates["port"] = opt.Port
	}
	if len(opt.Version) > 0 {
		updates["version"] = opt.Version
	}
	result := m.db.WithContext(ctx).
		Model(&Instance{}).
		Where("id = ?", opt.InstanceID).
		Updates(updates)
	if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
		return 0, ErrNameTaken
	}
	if result.Error != nil {
		return 0, extErrors.Wrap(result.Error, "Cannot refresh instance")
	}
	return result.RowsAffected, nil
}

func (m *Manager) Deactivate(ctx context.Context, opt DeactivateOption) (int64, error) {
	query := m.db.WithContext(ctx).
		Model(&Instance{}).
		Where("active = ?", true)
	switch {
	case len(opt.ClientID) > 0 && len(opt.InstanceID) == 0:
		query = query.Where("client_id = ?", opt.ClientID)
		if len(opt.ExceptID) > 0 {
			query = query.Where("id <> ?", opt.ExceptID)
		}
	case len(opt.InstanceID) > 0 && len(opt.ClientID) == 0:
		query = query.Where("id = ?", opt.InstanceID)
	default:
		return 0, fmt.Errorf("exactly one of DeactivateOption.ClientID and DeactivateOption.InstanceID is required")
	}

	updates := map[string]interface{}{
		"active": false,
	}
	if opt.ClearAddresses {
		updates["address"] = nil
		updates["ipv4"] = nil
		updates["ipv6"] = nil
	}
	if !opt.LastHeartbeat.IsZero() {
		updates["last_heartbeat"] = opt.LastHeartbeat
	}

	result := query.Updates(updates)
	if result.Error != nil {
		return 0, extErrors.Wrap(result.Error, "Cannot deactivate instances")
	}
	return result.RowsAffected, nil
}

func (m *Manager) ReplaceInfo(ctx context.Context, id string, info []Info) error {
	db := m.db.WithContext(ctx)
	if result := db.Where("instance_id = ?", id).Delete(&Info{}); result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot delete instance info")
	}
	if len(info) == 0 {
		return nil
	}
	rows := make([]Info, len(info))
	for i := range info {
		rows[i] = Info{
			InstanceID: id,
			Name:       info[i].Name,
			Value:      info[i].Value,
		}
	}
	if result := db.Create(&rows); result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot insert instance info")
	}
	return nil
}

func (m *Manager) AppendEvent(ctx context.Context, id string, eventType EventType, at time.Time) error {
	result := m.db.WithContext(ctx).Create(&Event{
		InstanceID: id,
		EventType:  eventType,
		CreatedAt:  at,
	})
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot append event "+string(eventType))
	}
	return nil
}

func (m *Manager) AppendHeartbeat(ctx context.Context, hb *Heartbeat) error {
	result := m.db.WithContext(ctx).Create(hb)
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot append heartbeat")
	}
	return nil
}

func (m *Manager) ListActive(ctx context.Context) ([]Summary, error) {
	results := make([]Summary, 0, 8)
	result := m.db.WithContext(ctx).
		Model(&Instance{}).
		Select("name", "version").
		Where("active = ?", true).
		Order("name").
		Scan(&results)
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list active instances")
	}
	return results, nil
}

func (m *Manager) ListSeenSince(ctx context.Context, since time.Time) ([]Summary, error) {
	results := make([]Summary, 0, 8)
	result := m.db.WithContext(ctx).
		Model(&Instance{}).
		Distinct("name", "version").
		Where("last_heartbeat >= ?", since).
		Order("name").
		Scan(&results)
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list recently seen instances")
	}
	return results, nil
}

func (m *Manager) ListInfo(ctx context.Context, id string) ([]Info, error) {
	results := make([]Info, 0, 4)
	result := m.db.WithContext(ctx).
		Where("instance_id = ?", id).
		Order("id").
		Find(&results)
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot list instance info")
	}
	return results, nil
}

func (m *Manager) ListExpired(ctx context.Context, cutoff time.Time) ([]string, error) {
	ids := make([]string, 0, 4)
	result := m.db.WithContext(ctx).
		Model(&Instance{}).
		Where("active = ?", true).
		Where("last_heartbeat < ?", cutoff).
		Pluck("id", &ids)
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot list expired instances")
	}
	return ids, nil
}

func (m *Manager) Expire(ctx context.Context, id string, cutoff time.Time) (int64, error) {
	result := m.db.WithContext(ctx).
		Model(&Instance{}).
		Where("id = ?", id).
		Where("active = ?", true).
		Where("last_heartbeat < ?", cutoff).
		Updates(map[string]interface{}{
			"active":  false,
			"address": nil,
			"ipv4":    nil,
			"ipv6":    nil,
		})
	if result.Error != nil {
		return 0, extErrors.Wrap(result.Error, "Cannot expire instance")
	}
	return result.RowsAffected, nil
}
