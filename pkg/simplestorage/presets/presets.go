// Package presets builds ready-to-use storage runtimes for common setups
// without going through a config file.
package presets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/tendant/simple-storage/pkg/simplestorage"
	"github.com/tendant/simple-storage/pkg/simplestorage/config"
)

// NewDevelopment creates a runtime for local development.
//
// Documents are stored by the native filesystem driver under ./dev-data
// and metrics are collected. The returned cleanup closes the runtime and
// removes the data directory.
//
// Example:
//
//	rt, cleanup, err := presets.NewDevelopment()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cleanup()
func NewDevelopment(opts ...DevelopmentOption) (*config.Runtime, func(), error) {
	cfg := &devConfig{
		storageDir: "./dev-data",
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	c, err := config.Load(
		config.WithFilesystemStorage(cfg.storageDir),
		config.WithStorageName("dev"),
		config.WithMetrics(true),
	)
	if err != nil {
		return nil, nil, err
	}
	rt, err := c.Build(context.Background(), cfg.logger, cfg.types...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create development storage: %w", err)
	}

	cleanup := func() {
		if err := rt.Close(); err != nil {
			cfg.logger.Warn("failed to close development storage", "err", err)
		}
		os.RemoveAll(cfg.storageDir)
	}
	return rt, cleanup, nil
}

// NewTesting creates an in-memory service isolated to t
func NewTesting(t testing.TB, types ...simplestorage.TypeDescriptor) simplestorage.Service {
	t.Helper()

	c, err := config.Load(config.WithMemoryStorage(), config.WithStorageName("test"))
	if err != nil {
		t.Fatalf("failed to load test config: %v", err)
	}
	rt, err := c.Build(context.Background(), slog.New(slog.DiscardHandler), types...)
	if err != nil {
		t.Fatalf("failed to create test service: %v", err)
	}
	t.Cleanup(func() {
		rt.Close()
	})
	return rt.Service
}

// NewProduction creates a runtime from the environment (STORAGE_URL and
// friends). The memory backend is refused since it loses every document
// on exit.
func NewProduction(ctx context.Context, logger *slog.Logger, opts ...config.Option) (*config.Runtime, error) {
	c, err := config.Load(append([]config.Option{config.WithEnv()}, opts...)...)
	if err != nil {
		return nil, err
	}
	if c.Driver() == config.DriverMemory {
		return nil, fmt.Errorf("production preset requires persistent storage, got %s", c.StorageURL)
	}
	return c.Build(ctx, logger)
}

type devConfig struct {
	storageDir string
	logger     *slog.Logger
	types      []simplestorage.TypeDescriptor
}

// DevelopmentOption is a functional option for NewDevelopment
type DevelopmentOption func(*devConfig)

// WithDevStorage sets the development data directory
func WithDevStorage(dir string) DevelopmentOption {
	return func(cfg *devConfig) {
		cfg.storageDir = dir
	}
}

// WithDevLogger sets the logger handed to the service
func WithDevLogger(logger *slog.Logger) DevelopmentOption {
	return func(cfg *devConfig) {
		cfg.logger = logger
	}
}

// WithDevTypes registers entity types on the development registry
func WithDevTypes(types ...simplestorage.TypeDescriptor) DevelopmentOption {
	return func(cfg *devConfig) {
		cfg.types = append(cfg.types, types...)
	}
}
