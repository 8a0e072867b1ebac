// Package testkit starts the board database and the sync server for
// end-to-end tests.
package testkit

import (
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/sha1n/retro-sync/internal/app"
	"github.com/spf13/pflag"
)

// Property names published by the services of this package
const (
	PropStoreDSN = "store.dsn"
	PropBaseURL  = "server.base_url"
)

// Service represents a test service that can be started and stopped
type Service interface {
	Start() (map[string]any, error)
	Stop() error
	GetName() string
}

// TestEnvContext provides access to properties collected during environment startup
type TestEnvContext interface {
	GetProperties() map[string]any
	GetProperty(name string) (any, bool)
}

// TestEnv manages the lifecycle of test services
type TestEnv interface {
	Start() (map[string]any, error)
	Stop() error
	GetContext() TestEnvContext
}

type envContext struct {
	properties map[string]any
}

func (c *envContext) GetProperties() map[string]any {
	return c.properties
}

func (c *envContext) GetProperty(name string) (any, bool) {
	val, ok := c.properties[name]
	return val, ok
}

type testEnv struct {
	services []Service
	started  int
	context  *envContext
}

// NewTestEnv creates a test environment; services start in order and stop in reverse
func NewTestEnv(services ...Service) TestEnv {
	return &testEnv{
		services: services,
		context:  &envContext{properties: make(map[string]any)},
	}
}

// Start starts every service. On failure the services already started are stopped.
func (e *testEnv) Start() (map[string]any, error) {
	for _, s := range e.services {
		props, err := s.Start()
		if err != nil {
			stopErr := e.Stop()
			return nil, errors.Join(fmt.Errorf("start %s: %w", s.GetName(), err), stopErr)
		}
		e.started++
		for k, v := range props {
			e.context.properties[k] = v
		}
	}
	return e.context.properties, nil
}

func (e *testEnv) Stop() error {
	var errs []error
	for i := e.started - 1; i >= 0; i-- {
		if err := e.services[i].Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", e.services[i].GetName(), err))
		}
	}
	e.started = 0
	return errors.Join(errs...)
}

func (e *testEnv) GetContext() TestEnvContext {
	return e.context
}

// GetFreePort returns a free port from the kernel
func GetFreePort() (int, error) {
	return getFreePortWithAddr("localhost:0")
}

// MustGetFreePort returns a free port or fails the test
func MustGetFreePort(t testing.TB) int {
	t.Helper()
	port, err := GetFreePort()
	if err != nil {
		t.Fatalf("Failed to get free port: %v", err)
	}
	return port
}

func getFreePortWithAddr(addrStr string) (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", addrStr)
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// FlagOptions configures NewTestFlags
type FlagOptions struct {
	Port         int           // Uses free port if 0
	Host         string        // Defaults to "localhost"
	AuthType     string        // Defaults to "none"
	APIKeys      []string      // Used with AuthType "apikey"
	StoreDSN     string        // Required to sync
	IndexBaseDir string        // Bleve backend when set
	SyncInterval time.Duration // Defaults to 100ms
	Watermark    string        // Defaults to "memory"
	StateDir     string
}

// NewTestFlags creates a pflag.FlagSet for an SSE server syncing into bleve
func NewTestFlags(t testing.TB, opts *FlagOptions) *pflag.FlagSet {
	t.Helper()

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	app.RegisterFlags(flags)

	o := FlagOptions{}
	if opts != nil {
		o = *opts
	}
	if o.Port == 0 {
		o.Port = MustGetFreePort(t)
	}
	if o.Host == "" {
		o.Host = "localhost"
	}
	if o.AuthType == "" {
		o.AuthType = "none"
	}
	if o.SyncInterval == 0 {
		o.SyncInterval = 100 * time.Millisecond
	}
	if o.Watermark == "" {
		o.Watermark = "memory"
	}

	set := func(name, value string) {
		if err := flags.Set(name, value); err != nil {
			t.Fatalf("Failed to set flag %s: %v", name, err)
		}
	}

	set("transport", "sse")
	set("host", o.Host)
	set("port", fmt.Sprintf("%d", o.Port))
	set("auth-type", o.AuthType)
	for _, k := range o.APIKeys {
		set("auth-api-keys", k)
	}
	set("log-level", "warn")
	set("sync-interval", o.SyncInterval.String())
	set("sync-watermark", o.Watermark)
	if o.StateDir != "" {
		set("sync-state-dir", o.StateDir)
	}
	if o.StoreDSN != "" {
		set("store-dsn", o.StoreDSN)
	}
	if o.IndexBaseDir != "" {
		set("index-backend", "bleve")
		set("index-base-dir", o.IndexBaseDir)
	}

	return flags
}
