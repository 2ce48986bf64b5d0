package instance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rptools/mtregistry/metrics"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

var validate *validator.Validate = validator.New()

// ValidationError reports a missing or malformed field in a request. Nothing was written.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return "invalid request: " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Messages lists the offending fields in a form fit for an API response
func (e *ValidationError) Messages() []string {
	var fieldErrors validator.ValidationErrors
	if !errors.As(e.Err, &fieldErrors) {
		return []string{e.Err.Error()}
	}
	msgs := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", fe.Field(), fe.Tag()))
	}
	return msgs
}

func validateStruct(s interface{}) error {
	if err := validate.Struct(s); err != nil {
		return &ValidationError{Err: err}
	}
	return nil
}

// InfoItem is one name/value pair supplied with a registration
type InfoItem struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// RegisterRequest carries the details a server reports when it registers
type RegisterRequest struct {
	ClientID string     `json:"clientId" validate:"required"`
	Name     string     `json:"name" validate:"required"`
	Address  string     `json:"address" validate:"required_without_all=IPv4 IPv6"`
	IPv4     string     `json:"ipv4" validate:"omitempty,ipv4"`
	IPv6     string     `json:"ipv6" validate:"omitempty,ipv6"`
	Port     int        `json:"port" validate:"required,min=1,max=65535"`
	Version  string     `json:"version" validate:"required"`
	Country  string     `json:"country" validate:"required"`
	Language string     `json:"language"`
	Timezone string     `json:"timezone"`
	WebRTC   bool       `json:"webrtc"`
	Info     []InfoItem `json:"info" validate:"dive"`
}

func (r *RegisterRequest) addresses() Addresses {
	return Addresses{Address: r.Address, IPv4: r.IPv4, IPv6: r.IPv6}
}

// RegisterResult is the outcome of Register
type RegisterResult struct {
	Status           RegisterStatus
	ID               string
	HeartbeatMinutes int
}

// HeartbeatRequest is the periodic liveness report of a registered server
type HeartbeatRequest struct {
	ID            string `json:"id" validate:"required"`
	ClientID      string `json:"clientId" validate:"required"`
	Address       string `json:"address" validate:"required_without_all=IPv4 IPv6"`
	IPv4          string `json:"ipv4" validate:"omitempty,ipv4"`
	IPv6          string `json:"ipv6" validate:"omitempty,ipv6"`
	NumberPlayers int    `json:"number_players" validate:"min=0"`
	NumberMaps    int    `json:"number_maps" validate:"min=0"`
}

func (r *HeartbeatRequest) addresses() Addresses {
	return Addresses{Address: r.Address, IPv4: r.IPv4, IPv6: r.IPv6}
}

// DisconnectRequest is sent by a server shutting down cleanly
type DisconnectRequest struct {
	ID       string `json:"id" validate:"required"`
	ClientID string `json:"clientId" validate:"required"`
}

// RegistryOptions contains the collaborators of a Registry
type RegistryOptions struct {
	Store             Store
	Logger            *zap.Logger
	HeartbeatInterval time.Duration
	// Clock defaults to time.Now
	Clock func() time.Time
}

// Registry applies the liveness rules for registrations, heartbeats and disconnects
type Registry struct {
	RegistryOptions
}

// NewRegistry returns a Registry backed by the given Store
func NewRegistry(option RegistryOptions) (*Registry, error) {
	if option.Store == nil {
		return nil, fmt.Errorf("nil Store is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.HeartbeatInterval < time.Minute {
		return nil, fmt.Errorf("HeartbeatInterval must be at least one minute")
	}
	if option.Clock == nil {
		option.Clock = time.Now
	}
	return &Registry{
		RegistryOptions: option,
	}, nil
}

func (r *Registry) now() time.Time {
	return r.Clock().UTC()
}

// HeartbeatMinutes is the reporting cadence handed back to registering servers
func (r *Registry) HeartbeatMinutes() int {
	return int(r.HeartbeatInterval / time.Minute)
}

func normalizeVersion(version string) string {
	if version == "1" || version == "0.0.1" {
		return developmentVersion
	}
	return version
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// Register maps a registration onto a new or an existing instance.
//
// If no active instance holds the name a new one is created. If the active holder has the
// same client id, it is the same process coming back and its row is refreshed. Otherwise the
// name belongs to someone else and RegisterNameExists is returned without any change.
// On both success paths any other active instance of the client is deactivated first.
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if err := validateStruct(&req); err != nil {
		return nil, err
	}

	logger := r.Logger.With(
		zap.String("ClientID", req.ClientID),
		zap.String("Name", req.Name),
	)

	now := r.now()
	version := normalizeVersion(req.Version)
	result := RegisterResult{
		HeartbeatMinutes: r.HeartbeatMinutes(),
	}

	err := r.Store.Transaction(ctx, func(tx Store) error {
		existing, err := tx.FindActiveByName(ctx, req.Name)
		if err != nil {
			return err
		}
		if existing != nil && existing.ClientID != req.ClientID {
			result.Status = RegisterNameExists
			return nil
		}

		deactivate := DeactivateOption{
			ClientID: req.ClientID,
		}
		if existing != nil {
			deactivate.ExceptID = existing.ID
		}
		if _, err := tx.Deactivate(ctx, deactivate); err != nil {
			return err
		}

		if existing != nil {
			if _, err := tx.Refresh(ctx, RefreshOption{
				InstanceID:    existing.ID,
				Addresses:     req.addresses(),
				LastHeartbeat: now,
				Port:          req.Port,
				Version:       version,
			}); err != nil {
				return err
			}
			if err := tx.AppendEvent(ctx, existing.ID, EventUpdateServer, now); err != nil {
				return err
			}
			result.Status = RegisterMatched
			result.ID = existing.ID
			return nil
		}

		addrs := req.addresses()
		inst := Instance{
			ID:            uuid.New().String(),
			ClientID:      req.ClientID,
			Name:          req.Name,
			Address:       nullable(addrs.Address),
			IPv4:          nullable(addrs.IPv4),
			IPv6:          nullable(addrs.IPv6),
			Port:          req.Port,
			Public:        true,
			Version:       version,
			CountryCode:   req.Country,
			Language:      req.Language,
			Timezone:      req.Timezone,
			WebRTC:        req.WebRTC,
			Active:        true,
			FirstSeen:     now,
			LastHeartbeat: now,
		}
		if err := tx.Create(ctx, &inst); err != nil {
			return err
		}

		info := make([]Info, 0, len(req.Info))
		for _, item := range req.Info {
			if strings.TrimSpace(item.Name) == "" {
				continue
			}
			info = append(info, Info{
				Name:  truncate(item.Name, maxInfoLength),
				Value: truncate(item.Value, maxInfoLength),
			})
		}
		if err := tx.ReplaceInfo(ctx, inst.ID, info); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, inst.ID, EventRegisterServer, now); err != nil {
			return err
		}
		result.Status = RegisterCreated
		result.ID = inst.ID
		return nil
	})
	if errors.Is(err, ErrNameTaken) {
		// a concurrent registration claimed the name after the lookup
		result = RegisterResult{Status: RegisterNameExists}
		err = nil
	}
	if err != nil {
		logger.Error("Unable to register server",
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot register server")
	}

	metrics.Registrations.WithLabelValues(string(result.Status)).Inc()
	logger.Info("Server registration processed",
		zap.String("Status", string(result.Status)),
		zap.String("InstanceID", result.ID),
	)
	return &result, nil
}

// Heartbeat records that an instance is alive. Other active instances of the same client are
// deactivated and their addresses cleared. Repeating a heartbeat converges to the same state.
func (r *Registry) Heartbeat(ctx context.Context, req HeartbeatRequest) (HeartbeatStatus, error) {
	if err := validateStruct(&req); err != nil {
		return "", err
	}

	logger := r.Logger.With(
		zap.String("ClientID", req.ClientID),
		zap.String("InstanceID", req.ID),
	)

	now := r.now()
	var status HeartbeatStatus

	err := r.Store.Transaction(ctx, func(tx Store) error {
		current, err := tx.GetByID(ctx, req.ID)
		if err != nil {
			return err
		}
		if current == nil || current.ClientID != req.ClientID {
			status = HeartbeatUnknown
			return nil
		}
		if !current.Active {
			// the sweep expired it; someone may have claimed the name since
			holder, err := tx.FindActiveByName(ctx, current.Name)
			if err != nil {
				return err
			}
			if holder != nil && holder.ID != current.ID {
				status = HeartbeatNameExists
				return nil
			}
		}

		// only a heartbeat that is applied may retire the client's other instances
		if _, err := tx.Deactivate(ctx, DeactivateOption{
			ClientID:       req.ClientID,
			ExceptID:       req.ID,
			ClearAddresses: true,
		}); err != nil {
			return err
		}

		if current.Active && current.Addresses() != req.addresses() {
			logger.Info("Server address changed",
				zap.Any("From", current.Addresses()),
				zap.Any("To", req.addresses()),
			)
		}

		if _, err := tx.Refresh(ctx, RefreshOption{
			InstanceID:    req.ID,
			Addresses:     req.addresses(),
			LastHeartbeat: now,
		}); err != nil {
			return err
		}
		if err := tx.AppendHeartbeat(ctx, &Heartbeat{
			InstanceID:    req.ID,
			NumberPlayers: req.NumberPlayers,
			NumberMaps:    req.NumberMaps,
			CreatedAt:     now,
		}); err != nil {
			return err
		}
		status = HeartbeatOK
		return nil
	})
	if errors.Is(err, ErrNameTaken) {
		status = HeartbeatNameExists
		err = nil
	}
	if err != nil {
		logger.Error("Unable to process heartbeat",
			zap.Error(err),
		)
		return "", extErrors.Wrap(err, "Cannot process heartbeat")
	}

	metrics.Heartbeats.WithLabelValues(string(status)).Inc()
	if status != HeartbeatOK {
		logger.Warn("Heartbeat not applied",
			zap.String("Status", string(status)),
		)
	}
	return status, nil
}

// Disconnect deactivates an instance on request of its server. The event is logged, then the
// instance is deactivated by client id and by id; each step is attempted even if an earlier one
// failed. Disconnecting an instance that is already inactive or unknown is a no-op.
func (r *Registry) Disconnect(ctx context.Context, req DisconnectRequest) error {
	if err := validateStruct(&req); err != nil {
		return err
	}

	logger := r.Logger.With(
		zap.String("ClientID", req.ClientID),
		zap.String("InstanceID", req.ID),
	)

	now := r.now()
	var errs []error

	if err := r.Store.AppendEvent(ctx, req.ID, EventDisconnectServer, now); err != nil {
		logger.Error("Unable to record disconnect event",
			zap.Error(err),
		)
		errs = append(errs, err)
	}
	if _, err := r.Store.Deactivate(ctx, DeactivateOption{
		ClientID:      req.ClientID,
		LastHeartbeat: now,
	}); err != nil {
		logger.Error("Unable to deactivate instances by client id",
			zap.Error(err),
		)
		errs = append(errs, err)
	}
	if _, err := r.Store.Deactivate(ctx, DeactivateOption{
		InstanceID:    req.ID,
		LastHeartbeat: now,
	}); err != nil {
		logger.Error("Unable to deactivate instance by id",
			zap.Error(err),
		)
		errs = append(errs, err)
	}

	metrics.Disconnects.Inc()
	return errors.Join(errs...)
}

// ActiveServers lists name and version of every active instance
func (r *Registry) ActiveServers(ctx context.Context) ([]Summary, error) {
	return r.Store.ListActive(ctx)
}

// ServersSince lists the distinct name/version pairs that reported within the last hours
func (r *Registry) ServersSince(ctx context.Context, hours int) ([]Summary, error) {
	if hours <= 0 || hours > MaxHours {
		return nil, &ValidationError{Err: fmt.Errorf("hours must be between 1 and %d, got %d", MaxHours, hours)}
	}
	since := r.now().Add(-time.Duration(hours) * time.Hour)
	return r.Store.ListSeenSince(ctx, since)
}

// Details returns the active instance holding name with its metadata, or nil if there is none
func (r *Registry) Details(ctx context.Context, name string) (*Details, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &ValidationError{Err: fmt.Errorf("name is required")}
	}
	inst, err := r.Store.FindActiveByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, nil
	}
	info, err := r.Store.ListInfo(ctx, inst.ID)
	if err != nil {
		return nil, err
	}
	return &Details{
		Name:          inst.Name,
		Address:       inst.Address,
		IPv4:          inst.IPv4,
		IPv6:          inst.IPv6,
		Port:          inst.Port,
		Version:       inst.Version,
		LastHeartbeat: inst.LastHeartbeat,
		WebRTC:        inst.WebRTC,
		Info:          info,
	}, nil
}
