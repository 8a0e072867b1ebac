package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/retro-sync/internal/config"
	"github.com/sha1n/retro-sync/internal/syncer"
)

type fixedStatus struct{}

func (fixedStatus) Stats() syncer.Stats {
	return syncer.Stats{State: syncer.Idle, CyclesRun: 7}
}

func newTestMCPServer() *mcp.Server {
	return mcp.NewServer(&mcp.Implementation{Name: "test", Version: "1.0"}, nil)
}

func apiKeySettings() *config.Settings {
	return &config.Settings{
		Host: "localhost",
		Port: 9090,
		Auth: config.AuthSettings{Type: config.AuthTypeAPIKey, APIKeys: []string{"test-key"}},
	}
}

func TestNewSSEServer_Auth(t *testing.T) {
	tests := []struct {
		name     string
		auth     config.AuthSettings
		wantErr  bool
		wantAddr string
	}{
		{name: "none", auth: config.AuthSettings{Type: config.AuthTypeNone}, wantAddr: "localhost:8080"},
		{name: "basic", auth: config.AuthSettings{Type: config.AuthTypeBasic, Basic: config.BasicAuthSettings{Username: "admin", Password: "secret"}}, wantAddr: "localhost:8080"},
		{name: "apikey", auth: config.AuthSettings{Type: config.AuthTypeAPIKey, APIKeys: []string{"k"}}, wantAddr: "localhost:8080"},
		{name: "basic without password", auth: config.AuthSettings{Type: config.AuthTypeBasic, Basic: config.BasicAuthSettings{Username: "admin"}}, wantErr: true},
		{name: "unknown", auth: config.AuthSettings{Type: "oauth"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := &config.Settings{Host: "localhost", Port: 8080, Auth: tt.auth}
			srv, err := NewSSEServer(newTestMCPServer(), settings, nil)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if srv.Addr != tt.wantAddr {
				t.Errorf("Expected addr %q, got %q", tt.wantAddr, srv.Addr)
			}
		})
	}
}

func TestNewSSEServer_HealthBypassesAuth(t *testing.T) {
	srv, err := NewSSEServer(newTestMCPServer(), apiKeySettings(), nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("Expected body 'ok', got %q", rec.Body.String())
	}
}

func TestNewSSEServer_ProtectedEndpoints(t *testing.T) {
	srv, err := NewSSEServer(newTestMCPServer(), apiKeySettings(), fixedStatus{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	for _, path := range []string{"/sse", "/status"} {
		rec := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected status 401, got %d", path, rec.Code)
		}
	}
}

func TestNewSSEServer_Status(t *testing.T) {
	srv, err := NewSSEServer(newTestMCPServer(), apiKeySettings(), fixedStatus{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	req := httptest.NewRequest("GET", "/status", nil)
	req.Header.Set("Authorization", "Bearer test-key")
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("Expected JSON body: %v", err)
	}
	if got["state"] != "idle" || got["cycles_run"] != float64(7) {
		t.Errorf("Unexpected status: %v", got)
	}
}

func TestNewSSEServer_StatusDisabledAndMethod(t *testing.T) {
	settings := &config.Settings{Host: "localhost", Port: 8080}
	srv, err := NewSSEServer(newTestMCPServer(), settings, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503 when disabled, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest("POST", "/status", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", rec.Code)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port
}

func TestStartSSEServer_ShutsDownOnCancel(t *testing.T) {
	settings := &config.Settings{Host: "127.0.0.1", Port: freePort(t)}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- StartSSEServer(ctx, newTestMCPServer(), settings, fixedStatus{}) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", settings.Port)
	waitFor(t, 2*time.Second, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("Server did not shut down")
	}
}

func TestStartSSEServer_ListenError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer func() { _ = l.Close() }()

	settings := &config.Settings{Host: "127.0.0.1", Port: l.Addr().(*net.TCPAddr).Port}
	if err := StartSSEServer(context.Background(), newTestMCPServer(), settings, nil); err == nil {
		t.Error("Expected error when the port is taken")
	}
}
