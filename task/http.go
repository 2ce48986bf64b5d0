package task

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// Server is the part of *http.Server the task drives
type Server interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

type HTTPOptions struct {
	Server          Server
	Logger          *zap.Logger
	ShutdownTimeout time.Duration
}

// HTTPTask runs an HTTP server until its context is cancelled, then drains it
type HTTPTask struct {
	HTTPOptions
}

func NewHTTPTask(option HTTPOptions) (*HTTPTask, error) {
	if option.Server == nil {
		return nil, fmt.Errorf("nil Server is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.ShutdownTimeout <= 0 {
		option.ShutdownTimeout = 10 * time.Second
	}
	return &HTTPTask{
		HTTPOptions: option,
	}, nil
}

// Serve implements suture.Service
func (t *HTTPTask) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		err := t.Server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return extErrors.Wrap(err, "HTTP server failed")
		}
		return nil
	case <-ctx.Done():
		t.Logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), t.ShutdownTimeout)
		defer cancel()
		if err := t.Server.Shutdown(shutdownCtx); err != nil {
			return extErrors.Wrap(err, "HTTP server shutdown failed")
		}
		<-errCh
		return ctx.Err()
	}
}

func (t *HTTPTask) String() string {
	return "http-server"
}
