package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/tendant/simple-storage/pkg/simplestorage"
)

// DefaultMetadataLimit is the user metadata budget of an object.
const DefaultMetadataLimit = 2048

// Config options for the MinIO backend
type Config struct {
	Endpoint        string // host:port of the server
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Secure          bool // Use TLS
	MetadataLimit   int  // User metadata budget in bytes (default: 2048)

	CreateBucketIfNotExist bool
}

// Backend is a MinIO implementation of the simplestorage.BlobStore interface
type Backend struct {
	client *minio.Client
	bucket string
	limit  int
}

// New creates a new MinIO storage backend
func New(config Config) (*Backend, error) {
	if config.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if config.MetadataLimit == 0 {
		config.MetadataLimit = DefaultMetadataLimit
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.Secure,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	backend := &Backend{client: client, bucket: config.Bucket, limit: config.MetadataLimit}
	if config.CreateBucketIfNotExist {
		if err := backend.createBucketIfNotExists(context.Background(), config.Region); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return backend, nil
}

func (b *Backend) createBucketIfNotExists(ctx context.Context, region string) error {
	exists, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return translate("bucket_exists", b.bucket, err)
	}
	if exists {
		return nil
	}
	err = b.client.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{Region: region})
	if code := minio.ToErrorResponse(err).Code; code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
		return nil
	}
	return err
}

// MetadataLimit reports the user metadata budget in bytes
func (b *Backend) MetadataLimit() int {
	return b.limit
}

// Put uploads content with its content type and user metadata
func (b *Backend) Put(ctx context.Context, key string, reader io.Reader, params simplestorage.PutParams) (*simplestorage.BlobInfo, error) {
	contentType := params.ContentType
	if contentType == "" {
		contentType = simplestorage.MimeTypeOctetStream
	}
	_, err := b.client.PutObject(ctx, b.bucket, key, reader, -1, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: params.Metadata,
	})
	if err != nil {
		return nil, translate("put", key, err)
	}
	return b.Head(ctx, key)
}

// Get downloads the content of key
func (b *Backend) Get(ctx context.Context, key string) (io.ReadCloser, *simplestorage.BlobInfo, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, translate("get", key, err)
	}
	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, nil, translate("get", key, err)
	}
	return obj, blobInfo(stat), nil
}

// Head retrieves the attributes of key
func (b *Backend) Head(ctx context.Context, key string) (*simplestorage.BlobInfo, error) {
	stat, err := b.client.StatObject(ctx, b.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, translate("head", key, err)
	}
	return blobInfo(stat), nil
}

// Delete removes key and reports whether it existed
func (b *Backend) Delete(ctx context.Context, key string) (bool, error) {
	exists, err := b.Exists(ctx, key)
	if err != nil || !exists {
		return false, err
	}
	if err := b.client.RemoveObject(ctx, b.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return false, translate("delete", key, err)
	}
	return true, nil
}

// List returns the objects directly under prefix and one group entry per
// deeper prefix
func (b *Backend) List(ctx context.Context, prefix string) ([]simplestorage.ListEntry, error) {
	var entries []simplestorage.ListEntry
	for obj := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return nil, translate("list", prefix, obj.Err)
		}
		if strings.HasSuffix(obj.Key, simplestorage.Separator) {
			entries = append(entries, simplestorage.ListEntry{
				Key:     strings.TrimSuffix(obj.Key, simplestorage.Separator),
				IsGroup: true,
			})
			continue
		}
		entries = append(entries, simplestorage.ListEntry{Key: obj.Key, Size: obj.Size})
	}
	slices.SortStableFunc(entries, func(a, b simplestorage.ListEntry) int {
		return strings.Compare(a.Key, b.Key)
	})
	return entries, nil
}

// Copy duplicates src into dst server side, keeping metadata
func (b *Backend) Copy(ctx context.Context, src, dst string) error {
	_, err := b.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: b.bucket, Object: dst},
		minio.CopySrcOptions{Bucket: b.bucket, Object: src},
	)
	if err != nil {
		return translate("copy", src, err)
	}
	return nil
}

// Exists reports whether key is stored
func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.Head(ctx, key)
	if errors.Is(err, simplestorage.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// SetMetadata replaces the user metadata of key with a self copy
func (b *Backend) SetMetadata(ctx context.Context, key string, metadata map[string]string) (*simplestorage.BlobInfo, error) {
	current, err := b.Head(ctx, key)
	if err != nil {
		return nil, err
	}
	_, err = b.client.CopyObject(ctx,
		minio.CopyDestOptions{
			Bucket:          b.bucket,
			Object:          key,
			UserMetadata:    metadata,
			ReplaceMetadata: true,
			ContentType:     current.ContentType,
		},
		minio.CopySrcOptions{Bucket: b.bucket, Object: key},
	)
	if err != nil {
		return nil, translate("set_metadata", key, err)
	}
	return b.Head(ctx, key)
}

// blobInfo converts object info. User metadata keys come back in canonical
// header case and are lowered again.
func blobInfo(stat minio.ObjectInfo) *simplestorage.BlobInfo {
	meta := make(map[string]string, len(stat.UserMetadata))
	for k, v := range stat.UserMetadata {
		meta[strings.ToLower(k)] = v
	}
	return &simplestorage.BlobInfo{
		Key:         stat.Key,
		Size:        stat.Size,
		ContentType: stat.ContentType,
		ETag:        stat.ETag,
		UpdatedAt:   stat.LastModified,
		Metadata:    meta,
	}
}

// translate maps minio error responses onto the storage taxonomy.
func translate(op, key string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound", "NoSuchBucket":
		return fmt.Errorf("minio %s %s: %w: %w", op, key, simplestorage.ErrNotFound, err)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
		return fmt.Errorf("minio %s %s: %w: %w", op, key, simplestorage.ErrUnauthorized, err)
	}
	return fmt.Errorf("minio %s %s: %w", op, key, err)
}
