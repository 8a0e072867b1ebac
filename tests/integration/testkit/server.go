package testkit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sha1n/retro-sync/internal/app"
	"github.com/spf13/pflag"
)

const startTimeout = 5 * time.Second

// ServerService runs the application over SSE in the background
type ServerService struct {
	flags  *pflag.FlagSet
	cancel context.CancelFunc
	errCh  chan error
}

// NewServerService creates a service that runs the app with the given flags
func NewServerService(flags *pflag.FlagSet) *ServerService {
	return &ServerService{flags: flags}
}

// Start runs the app and waits for its health endpoint
func (s *ServerService) Start() (map[string]any, error) {
	host, _ := s.flags.GetString("host")
	port, _ := s.flags.GetInt("port")
	baseURL := fmt.Sprintf("http://%s:%d", host, port)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.errCh = make(chan error, 1)
	go func() {
		s.errCh <- app.RunWithDeps(ctx, app.DefaultRunParams(), s.flags, "test")
	}()

	deadline := time.Now().Add(startTimeout)
	for time.Now().Before(deadline) {
		select {
		case err := <-s.errCh:
			cancel()
			return nil, fmt.Errorf("server exited during startup: %w", err)
		default:
		}

		resp, err := http.Get(baseURL + "/health")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return map[string]any{PropBaseURL: baseURL}, nil
			}
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	return nil, errors.New("server did not become healthy")
}

// Stop cancels the app and waits for it to exit
func (s *ServerService) Stop() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	s.cancel = nil

	select {
	case err := <-s.errCh:
		return err
	case <-time.After(startTimeout):
		return errors.New("server did not stop")
	}
}

func (s *ServerService) GetName() string {
	return "server"
}
