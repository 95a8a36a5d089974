package config

import (
	"fmt"
)

// WithStorageURL sets the backend location
func WithStorageURL(storageURL string) Option {
	return func(c *Config) error {
		if storageURL == "" {
			return fmt.Errorf("storage URL cannot be empty")
		}
		c.StorageURL = storageURL
		return nil
	}
}

// WithMemoryStorage selects the in-memory backend
func WithMemoryStorage() Option {
	return WithStorageURL("memory://")
}

// WithFilesystemStorage selects the native filesystem driver rooted at baseDir
func WithFilesystemStorage(baseDir string) Option {
	return func(c *Config) error {
		if baseDir == "" {
			return fmt.Errorf("filesystem base directory cannot be empty")
		}
		c.StorageURL = "file://" + baseDir
		return nil
	}
}

// WithStorageName sets the backend label
func WithStorageName(name string) Option {
	return func(c *Config) error {
		if name == "" {
			return fmt.Errorf("storage name cannot be empty")
		}
		c.StorageName = name
		return nil
	}
}

// WithTreeConcurrency sets how many siblings tree operations process at once
func WithTreeConcurrency(n int) Option {
	return func(c *Config) error {
		if n < 1 {
			return fmt.Errorf("tree concurrency must be positive, got: %d", n)
		}
		c.TreeConcurrency = n
		return nil
	}
}

// WithMetadataTag sets the prefix of owned metadata entries
func WithMetadataTag(tag string) Option {
	return func(c *Config) error {
		c.MetadataTag = tag
		return nil
	}
}

// WithMetadataLimit overrides the metadata budget of s3 and minio
func WithMetadataLimit(limit int) Option {
	return func(c *Config) error {
		if limit < 0 {
			return fmt.Errorf("metadata limit cannot be negative, got: %d", limit)
		}
		c.MetadataLimit = limit
		return nil
	}
}

// WithS3Credentials sets the access key pair used by s3 and minio
func WithS3Credentials(accessKeyID, secretAccessKey string) Option {
	return func(c *Config) error {
		c.AWS.AccessKeyID = accessKeyID
		c.AWS.SecretAccessKey = secretAccessKey
		return nil
	}
}

// WithS3Encryption enables server-side encryption on s3 writes
func WithS3Encryption(algorithm, kmsKeyID string) Option {
	return func(c *Config) error {
		if algorithm != "AES256" && algorithm != "aws:kms" {
			return fmt.Errorf("sse algorithm must be 'AES256' or 'aws:kms', got: %s", algorithm)
		}
		c.AWS.EnableSSE = true
		c.AWS.SSEAlgorithm = algorithm
		c.AWS.SSEKMSKeyID = kmsKeyID
		return nil
	}
}

// WithMetrics toggles Prometheus instrumentation of the blob store
func WithMetrics(enabled bool) Option {
	return func(c *Config) error {
		c.EnableMetrics = enabled
		return nil
	}
}
