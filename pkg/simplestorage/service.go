package simplestorage

import (
	"context"
	"errors"
	"io"
	"log/slog"
)

// Service is the storage facade handed to application code. It adds path
// conveniences and registry-driven storage of entities to a Driver.
type Service interface {
	Driver

	// EnsureFolder resolves a folder path, creating every missing folder
	// along it
	EnsureFolder(ctx context.Context, path string) (*StorageObject, error)

	// CreateFolderIfNotPresent returns the existing folder or creates it
	CreateFolderIfNotPresent(ctx context.Context, parentPath, name string, props Properties) (*StorageObject, error)

	// RestoreDocument creates a document, or replaces its stream when one
	// already exists under the same name
	RestoreDocument(ctx context.Context, reader io.Reader, contentType string, props Properties, parentPath string) (*StorageObject, error)

	// StoreEntity stores a registered entity as a document named name
	StoreEntity(ctx context.Context, entity Entity, reader io.Reader, contentType, name, parentPath string) (*StorageObject, error)

	// UpdateEntityProperties rewrites the properties of obj from entity
	UpdateEntityProperties(ctx context.Context, obj *StorageObject, entity Entity) (*StorageObject, error)

	// HasTag reports whether obj carries tag
	HasTag(obj *StorageObject, tag string) bool

	// AddTag appends tag to the tag list of obj
	AddTag(ctx context.Context, obj *StorageObject, tag string) (*StorageObject, error)

	// Registry returns the type registry
	Registry() *Registry
}

type service struct {
	Driver

	storeName   string
	store       BlobStore
	native      Driver
	registry    *Registry
	concurrency int
	logger      *slog.Logger
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithBlobStore serves requests from a flat BlobStore through folder
// emulation
func WithBlobStore(name string, store BlobStore) Option {
	return func(s *service) {
		s.storeName = name
		s.store = store
	}
}

// WithDriver serves requests from a driver with native folders
func WithDriver(driver Driver) Option {
	return func(s *service) {
		s.native = driver
	}
}

// WithRegistry sets the type registry
func WithRegistry(registry *Registry) Option {
	return func(s *service) {
		s.registry = registry
	}
}

// WithTreeConcurrency bounds parallel sibling processing in tree operations
func WithTreeConcurrency(n int) Option {
	return func(s *service) {
		s.concurrency = n
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{concurrency: 1}

	for _, option := range options {
		option(s)
	}

	if s.store == nil && s.native == nil {
		return nil, errors.New("a blob store or a native driver is required")
	}
	if s.store != nil && s.native != nil {
		return nil, errors.New("blob store and native driver are mutually exclusive")
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.registry == nil {
		registry, err := NewRegistry(nil)
		if err != nil {
			return nil, err
		}
		s.registry = registry
	}

	if s.native != nil {
		s.Driver = s.native
	} else {
		if s.storeName == "" {
			s.storeName = "default"
		}
		s.Driver = NewFlatDriver(s.storeName, s.store, s.registry.Codec(), s.concurrency, s.logger)
	}
	return s, nil
}

func (s *service) Registry() *Registry {
	return s.registry
}
