package instance

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	resp "github.com/rptools/mtregistry/response"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	Registry *Registry
	Logger   *zap.Logger
	// Limiter, when set, wraps the routes that write to the registry
	Limiter func(http.Handler) http.Handler
}

// Service is the server registry API router
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the registry API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Registry == nil {
		return nil, fmt.Errorf("nil Registry is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

const (
	statusOK         = "ok"
	statusNameExists = "name-exists"
	statusUnknown    = "unknown"
)

type registerResponse struct {
	Status           string `json:"status"`
	ID               string `json:"id,omitempty"`
	ServerID         string `json:"serverId,omitempty"`
	HeartBeatMinutes int    `json:"heartBeatMinutes,omitempty"`
}

type statusResponse struct {
	Status string `json:"status"`
}

func (s *Service) writeRequestError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error, msg string) {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		logger.Warn("Invalid request",
			zap.Strings("Problems", vErr.Messages()),
		)
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(vErr.Messages()...))
		return
	}
	resp.WriteError(w, r, resp.ErrUnexpected().AddMessages(msg))
}

func (s *Service) registerServer(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := resp.DecodeJSON(r, &req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}

	logger := s.Logger.With(
		zap.String("ClientID", req.ClientID),
		zap.String("Name", req.Name),
	)

	result, err := s.Registry.Register(r.Context(), req)
	if err != nil {
		s.writeRequestError(w, r, logger, err, "Cannot register server")
		return
	}

	switch result.Status {
	case RegisterNameExists:
		resp.WriteResponse(w, r, registerResponse{Status: statusNameExists})
	case RegisterMatched:
		resp.WriteResponse(w, r, registerResponse{
			Status:           statusOK,
			ID:               result.ID,
			HeartBeatMinutes: result.HeartbeatMinutes,
		})
	default:
		resp.WriteResponse(w, r, registerResponse{
			Status:           statusOK,
			ServerID:         result.ID,
			HeartBeatMinutes: result.HeartbeatMinutes,
		})
	}
}

func (s *Service) serverHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatRequest
	if err := resp.DecodeJSON(r, &req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}

	logger := s.Logger.With(
		zap.String("ClientID", req.ClientID),
		zap.String("InstanceID", req.ID),
	)

	status, err := s.Registry.Heartbeat(r.Context(), req)
	if err != nil {
		s.writeRequestError(w, r, logger, err, "Cannot process heartbeat")
		return
	}

	switch status {
	case HeartbeatNameExists:
		resp.WriteResponse(w, r, statusResponse{Status: statusNameExists})
	case HeartbeatUnknown:
		resp.WriteResponse(w, r, statusResponse{Status: statusUnknown})
	default:
		resp.WriteResponse(w, r, statusResponse{Status: statusOK})
	}
}

func (s *Service) serverDisconnect(w http.ResponseWriter, r *http.Request) {
	var req DisconnectRequest
	if err := resp.DecodeJSON(r, &req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}

	logger := s.Logger.With(
		zap.String("ClientID", req.ClientID),
		zap.String("InstanceID", req.ID),
	)

	if err := s.Registry.Disconnect(r.Context(), req); err != nil {
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			s.writeRequestError(w, r, logger, err, "")
			return
		}
		// best effort: the failing steps are already logged
		logger.Warn("Disconnect completed with errors",
			zap.Error(err),
		)
	}

	resp.WriteResponse(w, r, statusResponse{Status: statusOK})
}

func (s *Service) activeServers(w http.ResponseWriter, r *http.Request) {
	results, err := s.Registry.ActiveServers(r.Context())
	if err != nil {
		s.Logger.Error("Unable to list active servers",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot get the list of active servers"))
		return
	}
	resp.WriteResponse(w, r, results)
}

func (s *Service) serversLastNHours(w http.ResponseWriter, r *http.Request) {
	hours, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("hours")))
	if err != nil || hours <= 0 || hours > MaxHours {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Invalid hours param"))
		return
	}

	results, err := s.Registry.ServersSince(r.Context(), hours)
	if err != nil {
		s.Logger.Error("Unable to list recently seen servers",
			zap.Int("Hours", hours),
			zap.Error(err),
		)
		s.writeRequestError(w, r, s.Logger, err, "Cannot get the list of servers")
		return
	}
	resp.WriteResponse(w, r, results)
}

func (s *Service) serverDetails(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if strings.TrimSpace(name) == "" {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Invalid name param"))
		return
	}

	details, err := s.Registry.Details(r.Context(), name)
	if err != nil {
		s.Logger.Error("Unable to get server details",
			zap.String("Name", name),
			zap.Error(err),
		)
		s.writeRequestError(w, r, s.Logger, err, "Cannot get details about the server")
		return
	}
	resp.WriteResponse(w, r, details)
}

// Routes registers the registry API on r
func (s *Service) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		if s.Limiter != nil {
			r.Use(s.Limiter)
		}
		r.Put("/register-server", s.registerServer)
		r.Patch("/server-heartbeat", s.serverHeartbeat)
		r.Patch("/server-disconnect", s.serverDisconnect)
	})

	r.Get("/active-servers", s.activeServers)
	r.Get("/servers-last-n-hours", s.serversLastNHours)
	r.Get("/server-details", s.serverDetails)
}

// Router will return the routes under registry API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	s.Routes(r)
	return r
}
