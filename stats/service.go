package stats

import (
	"errors"
	"fmt"
	"net/http"

	resp "github.com/rptools/mtregistry/response"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ServiceOptions contains the configuration for the statistics router
type ServiceOptions struct {
	Aggregator *Aggregator
	Logger     *zap.Logger
	// DefaultHours is used when a request does not name any window
	DefaultHours []int
}

// Service is the statistics API router
type Service struct {
	ServiceOptions
}

func NewService(option ServiceOptions) (*Service, error) {
	if option.Aggregator == nil {
		return nil, fmt.Errorf("nil Aggregator is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if len(option.DefaultHours) == 0 {
		return nil, fmt.Errorf("empty DefaultHours is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

func writeParamError(w http.ResponseWriter, r *http.Request, err error) bool {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(vErr.Error()))
		return true
	}
	return false
}

func (s *Service) serverVersions(w http.ResponseWriter, r *http.Request) {
	hours, err := ParseHours(r.URL.Query().Get("hours"), s.DefaultHours)
	if writeParamError(w, r, err) {
		return
	}

	windows, err := s.Aggregator.VersionsByWindow(r.Context(), hours)
	if writeParamError(w, r, err) {
		return
	}
	if err != nil {
		s.Logger.Error("Error retrieving server versions",
			zap.Ints("Hours", hours),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot get server versions"))
		return
	}
	resp.WriteResponse(w, r, windows)
}

func (s *Service) serverDays(w http.ResponseWriter, r *http.Request) {
	hours, err := ParseHours(r.URL.Query().Get("hours"), s.DefaultHours)
	if writeParamError(w, r, err) {
		return
	}
	timezone, err := ParseTimezone(r.URL.Query().Get("timezone"))
	if writeParamError(w, r, err) {
		return
	}

	days, err := s.Aggregator.VersionsByWindowAndWeekday(r.Context(), hours, timezone)
	if writeParamError(w, r, err) {
		return
	}
	if err != nil {
		s.Logger.Error("Error retrieving server days",
			zap.Ints("Hours", hours),
			zap.String("Timezone", timezone),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot get server days"))
		return
	}
	resp.WriteResponse(w, r, days)
}

// Routes registers the statistics API on r
func (s *Service) Routes(r chi.Router) {
	r.Get("/server-versions", s.serverVersions)
	r.Get("/server-days", s.serverDays)
}

// Router will return the routes under statistics API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	s.Routes(r)
	return r
}
