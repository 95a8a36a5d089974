package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-storage/pkg/simplestorage"
	"github.com/tendant/simple-storage/pkg/simplestorage/metrics"
	"github.com/tendant/simple-storage/pkg/simplestorage/storage/boltdb"
	"github.com/tendant/simple-storage/pkg/simplestorage/storage/fs"
	"github.com/tendant/simple-storage/pkg/simplestorage/storage/memory"
	miniostorage "github.com/tendant/simple-storage/pkg/simplestorage/storage/minio"
	"github.com/tendant/simple-storage/pkg/simplestorage/storage/postgres"
	"github.com/tendant/simple-storage/pkg/simplestorage/storage/redisstore"
	s3storage "github.com/tendant/simple-storage/pkg/simplestorage/storage/s3"
	"github.com/tendant/simple-storage/pkg/simplestorage/storage/sqlite"
)

// Driver names
const (
	DriverMemory   = "memory"
	DriverFS       = "fs"
	DriverS3       = "s3"
	DriverMinio    = "minio"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverBolt     = "bolt"
	DriverRedis    = "redis"
)

// Drivers lists every driver name Validate accepts
var Drivers = []string{DriverMemory, DriverFS, DriverS3, DriverMinio, DriverPostgres, DriverSQLite, DriverBolt, DriverRedis}

// Option applies configuration to a Config instance.
type Option func(*Config) error

// Load constructs a Config by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*Config, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() Config {
	return Config{
		StorageURL:      "memory://",
		StorageName:     "default",
		TreeConcurrency: 1,
		MetadataTag:     simplestorage.DefaultMetadataTag,
		NameCacheSize:   simplestorage.DefaultNameCacheSize,
		AWS: AWSConfig{
			Region:       "us-east-1",
			SSEAlgorithm: "AES256",
		},
	}
}

// Config describes which backend serves the storage service and how the
// service is tuned. Fields are filled from defaults, options, files and
// environment variables, in the order the options are given to Load.
type Config struct {
	StorageURL      string `yaml:"storage_url" json:"storage_url" toml:"storage_url" env:"STORAGE_URL" env-description:"Backend location, e.g. memory://, file:///data, s3://bucket"`
	StorageDriver   string `yaml:"storage_driver" json:"storage_driver" toml:"storage_driver" env:"STORAGE_DRIVER" env-description:"Driver name; derived from the URL scheme when empty"`
	StorageName     string `yaml:"storage_name" json:"storage_name" toml:"storage_name" env:"STORAGE_NAME" env-description:"Backend label used in logs, metrics and redis key prefixes"`
	TreeConcurrency int    `yaml:"tree_concurrency" json:"tree_concurrency" toml:"tree_concurrency" env:"TREE_CONCURRENCY" env-description:"Parallel siblings in copy, rename and delete of folders"`
	MetadataTag     string `yaml:"metadata_tag" json:"metadata_tag" toml:"metadata_tag" env:"METADATA_TAG" env-description:"Prefix marking metadata entries owned by the service"`
	NameCacheSize   int    `yaml:"name_cache_size" json:"name_cache_size" toml:"name_cache_size" env:"NAME_CACHE_SIZE" env-description:"Entries in the property name cache"`
	MetadataLimit   int    `yaml:"metadata_limit" json:"metadata_limit" toml:"metadata_limit" env:"METADATA_LIMIT" env-description:"Metadata budget in bytes for s3 and minio, 0 for the driver default"`
	EnableMetrics   bool   `yaml:"enable_metrics" json:"enable_metrics" toml:"enable_metrics" env:"ENABLE_METRICS" env-description:"Record Prometheus metrics for blob operations"`

	AWS AWSConfig `yaml:"aws" json:"aws" toml:"aws"`
}

// AWSConfig holds credentials and options for the s3 and minio drivers.
// URL parameters take precedence over these values.
type AWSConfig struct {
	AccessKeyID     string `yaml:"access_key_id" json:"access_key_id" toml:"access_key_id" env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" json:"secret_access_key" toml:"secret_access_key" env:"AWS_SECRET_ACCESS_KEY"`
	Region          string `yaml:"region" json:"region" toml:"region" env:"AWS_REGION"`
	EnableSSE       bool   `yaml:"enable_sse" json:"enable_sse" toml:"enable_sse" env:"AWS_S3_ENABLE_SSE"`
	SSEAlgorithm    string `yaml:"sse_algorithm" json:"sse_algorithm" toml:"sse_algorithm" env:"AWS_S3_SSE_ALGORITHM"`
	SSEKMSKeyID     string `yaml:"sse_kms_key_id" json:"sse_kms_key_id" toml:"sse_kms_key_id" env:"AWS_S3_SSE_KMS_KEY_ID"`
	CreateBucket    bool   `yaml:"create_bucket" json:"create_bucket" toml:"create_bucket" env:"AWS_S3_CREATE_BUCKET"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.StorageURL == "" {
		return errors.New("storage_url is required")
	}
	if c.StorageName == "" {
		return errors.New("storage_name is required")
	}
	if c.TreeConcurrency < 1 {
		return fmt.Errorf("tree_concurrency must be at least 1, got %d", c.TreeConcurrency)
	}
	if c.MetadataTag == "" {
		return errors.New("metadata_tag is required")
	}
	if c.NameCacheSize < 1 {
		return fmt.Errorf("name_cache_size must be at least 1, got %d", c.NameCacheSize)
	}
	if c.MetadataLimit < 0 {
		return fmt.Errorf("metadata_limit cannot be negative, got %d", c.MetadataLimit)
	}

	target, err := ParseStorageURL(c.StorageURL)
	if err != nil {
		return err
	}
	if c.StorageDriver != "" {
		if !slices.Contains(Drivers, c.StorageDriver) {
			return fmt.Errorf("unknown storage driver %q (known: %s)", c.StorageDriver, strings.Join(Drivers, ", "))
		}
		if c.StorageDriver != target.Driver {
			return fmt.Errorf("storage driver %q does not match storage_url scheme of driver %q", c.StorageDriver, target.Driver)
		}
	}
	return nil
}

// Driver returns the driver name selected by the configuration
func (c *Config) Driver() string {
	if c.StorageDriver != "" {
		return c.StorageDriver
	}
	target, err := ParseStorageURL(c.StorageURL)
	if err != nil {
		return ""
	}
	return target.Driver
}

// Runtime is a built storage service together with the resources it owns
type Runtime struct {
	Service simplestorage.Service
	// Metrics is nil unless EnableMetrics is set
	Metrics *metrics.Metrics

	closers []func() error
}

// Close releases database handles and clients opened by Build
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build creates the storage service described by the configuration.
// types registers the entity types available to StoreEntity.
func (c *Config) Build(ctx context.Context, logger *slog.Logger, types ...simplestorage.TypeDescriptor) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	target, err := ParseStorageURL(c.StorageURL)
	if err != nil {
		return nil, err
	}

	registry, err := simplestorage.NewRegistry(types,
		simplestorage.WithMetadataTag(c.MetadataTag),
		simplestorage.WithNameCacheSize(c.NameCacheSize),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build type registry: %w", err)
	}

	rt := &Runtime{}
	if c.EnableMetrics {
		rt.Metrics = metrics.New()
	}
	options := []simplestorage.Option{
		simplestorage.WithRegistry(registry),
		simplestorage.WithTreeConcurrency(c.TreeConcurrency),
		simplestorage.WithLogger(logger),
	}

	if target.Driver == DriverFS {
		driver, err := fs.New(fs.Config{BaseDir: target.Path, Codec: registry.Codec(), Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("failed to build storage driver %s: %w", target.Driver, err)
		}
		options = append(options, simplestorage.WithDriver(driver))
	} else {
		store, err := c.buildBlobStore(ctx, target, rt)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to build storage backend %s: %w", target.Driver, err)
		}
		if rt.Metrics != nil {
			store = rt.Metrics.Instrument(target.Driver, store)
		}
		options = append(options, simplestorage.WithBlobStore(c.StorageName, store))
	}

	logger.Debug("storage configured", "driver", target.Driver, "name", c.StorageName, "tree_concurrency", c.TreeConcurrency)

	rt.Service, err = simplestorage.New(options...)
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// buildBlobStore creates a BlobStore for target. Resources needing a
// Close are registered on rt.
func (c *Config) buildBlobStore(ctx context.Context, target *StorageTarget, rt *Runtime) (simplestorage.BlobStore, error) {
	switch target.Driver {
	case DriverMemory:
		return memory.New(), nil

	case DriverS3:
		return s3storage.New(s3storage.Config{
			Region:                 firstNonEmpty(target.Region, c.AWS.Region),
			Bucket:                 target.Bucket,
			AccessKeyID:            firstNonEmpty(target.AccessKeyID, c.AWS.AccessKeyID),
			SecretAccessKey:        firstNonEmpty(target.SecretAccessKey, c.AWS.SecretAccessKey),
			Endpoint:               target.Endpoint,
			UsePathStyle:           target.PathStyle,
			MetadataLimit:          c.MetadataLimit,
			EnableSSE:              c.AWS.EnableSSE,
			SSEAlgorithm:           c.AWS.SSEAlgorithm,
			SSEKMSKeyID:            c.AWS.SSEKMSKeyID,
			CreateBucketIfNotExist: c.AWS.CreateBucket,
		})

	case DriverMinio:
		return miniostorage.New(miniostorage.Config{
			Endpoint:               target.Endpoint,
			Bucket:                 target.Bucket,
			AccessKeyID:            firstNonEmpty(target.AccessKeyID, c.AWS.AccessKeyID),
			SecretAccessKey:        firstNonEmpty(target.SecretAccessKey, c.AWS.SecretAccessKey),
			Region:                 firstNonEmpty(target.Region, c.AWS.Region),
			Secure:                 target.Secure,
			MetadataLimit:          c.MetadataLimit,
			CreateBucketIfNotExist: c.AWS.CreateBucket,
		})

	case DriverPostgres:
		pool, err := pgxpool.New(ctx, target.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to create pgx pool: %w", err)
		}
		rt.closers = append(rt.closers, func() error { pool.Close(); return nil })
		store := postgres.NewWithPool(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil

	case DriverSQLite:
		store, err := sqlite.New(target.Path)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, store.Close)
		return store, nil

	case DriverBolt:
		store, err := boltdb.Open(target.Path)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, store.Close)
		return store, nil

	case DriverRedis:
		store, err := redisstore.NewFromURL(ctx, target.DSN, c.StorageName+":")
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, store.Close)
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", target.Driver)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
