package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/tendant/simple-storage/pkg/simplestorage"
)

// DefaultMetadataLimit is the user metadata budget of an S3 object.
const DefaultMetadataLimit = 2048

// Config options for the S3 backend
type Config struct {
	Region          string // AWS region
	Bucket          string // S3 bucket name
	AccessKeyID     string // AWS access key ID
	SecretAccessKey string // AWS secret access key
	Endpoint        string // Optional custom endpoint for S3-compatible services
	UsePathStyle    bool   // Use path-style addressing (default: false)
	MetadataLimit   int    // User metadata budget in bytes (default: 2048)

	// Server-side encryption options
	EnableSSE    bool   // Enable server-side encryption
	SSEAlgorithm string // SSE algorithm (AES256 or aws:kms)
	SSEKMSKeyID  string // Optional KMS key ID for aws:kms algorithm

	// MinIO/S3-compatible service options
	CreateBucketIfNotExist bool // Create bucket if it doesn't exist
}

// Backend is an S3-compatible implementation of the simplestorage.BlobStore interface
type Backend struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	config   Config
}

// New creates a new S3-compatible storage backend
func New(config Config) (*Backend, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if config.Region == "" {
		config.Region = "us-east-1"
	}
	if config.MetadataLimit == 0 {
		config.MetadataLimit = DefaultMetadataLimit
	}

	var awsCfg aws.Config
	var err error

	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(config.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				config.AccessKeyID,
				config.SecretAccessKey,
				"",
			)),
		)
	} else {
		// Use default credential chain
		awsCfg, err = awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(config.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Options []func(*s3.Options)
	if config.Endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = config.UsePathStyle
		})
	}
	client := s3.NewFromConfig(awsCfg, s3Options...)

	backend := &Backend{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   config.Bucket,
		config:   config,
	}

	if config.CreateBucketIfNotExist {
		if err := backend.createBucketIfNotExists(context.Background()); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return backend, nil
}

// createBucketIfNotExists creates the bucket if it doesn't exist
func (b *Backend) createBucketIfNotExists(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err == nil {
		return nil
	}

	// MinIO answers with several shapes for a missing bucket
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) &&
		!strings.Contains(err.Error(), "BadRequest") &&
		!strings.Contains(err.Error(), "NoSuchBucket") {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	createInput := &s3.CreateBucketInput{
		Bucket: aws.String(b.bucket),
	}
	if b.config.Region != "us-east-1" {
		createInput.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(b.config.Region),
		}
	}

	_, err = b.client.CreateBucket(ctx, createInput)
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		var exists *types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// MetadataLimit reports the user metadata budget in bytes
func (b *Backend) MetadataLimit() int {
	return b.config.MetadataLimit
}

// Put uploads content with its content type and user metadata
func (b *Backend) Put(ctx context.Context, key string, reader io.Reader, params simplestorage.PutParams) (*simplestorage.BlobInfo, error) {
	contentType := params.ContentType
	if contentType == "" {
		contentType = simplestorage.MimeTypeOctetStream
	}
	input := &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        reader,
		ContentType: aws.String(contentType),
		Metadata:    params.Metadata,
	}
	b.applySSE(input)

	if _, err := b.uploader.Upload(ctx, input); err != nil {
		return nil, translate("put", key, err)
	}
	return b.Head(ctx, key)
}

// Get downloads the content of key
func (b *Backend) Get(ctx context.Context, key string) (io.ReadCloser, *simplestorage.BlobInfo, error) {
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, nil, translate("get", key, err)
	}
	info := &simplestorage.BlobInfo{
		Key:         key,
		Size:        aws.ToInt64(result.ContentLength),
		ContentType: aws.ToString(result.ContentType),
		ETag:        strings.Trim(aws.ToString(result.ETag), "\""),
		UpdatedAt:   aws.ToTime(result.LastModified),
		Metadata:    result.Metadata,
	}
	return result.Body, info, nil
}

// Head retrieves the attributes of key
func (b *Backend) Head(ctx context.Context, key string) (*simplestorage.BlobInfo, error) {
	result, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, translate("head", key, err)
	}
	return &simplestorage.BlobInfo{
		Key:         key,
		Size:        aws.ToInt64(result.ContentLength),
		ContentType: aws.ToString(result.ContentType),
		ETag:        strings.Trim(aws.ToString(result.ETag), "\""),
		UpdatedAt:   aws.ToTime(result.LastModified),
		Metadata:    result.Metadata,
	}, nil
}

// Delete removes key. S3 deletes are idempotent, so existence is checked
// first to report whether anything was removed.
func (b *Backend) Delete(ctx context.Context, key string) (bool, error) {
	exists, err := b.Exists(ctx, key)
	if err != nil || !exists {
		return false, err
	}
	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return false, translate("delete", key, err)
	}
	return true, nil
}

// List returns the objects directly under prefix and one group entry per
// deeper common prefix
func (b *Backend) List(ctx context.Context, prefix string) ([]simplestorage.ListEntry, error) {
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String(simplestorage.Separator),
	})

	var entries []simplestorage.ListEntry
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, translate("list", prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == prefix {
				continue
			}
			entries = append(entries, simplestorage.ListEntry{Key: key, Size: aws.ToInt64(obj.Size)})
		}
		for _, cp := range page.CommonPrefixes {
			group := strings.TrimSuffix(aws.ToString(cp.Prefix), simplestorage.Separator)
			entries = append(entries, simplestorage.ListEntry{Key: group, IsGroup: true})
		}
	}
	slices.SortStableFunc(entries, func(a, b simplestorage.ListEntry) int {
		return strings.Compare(a.Key, b.Key)
	})
	return entries, nil
}

// Copy duplicates src into dst server side, keeping metadata
func (b *Backend) Copy(ctx context.Context, src, dst string) error {
	input := &s3.CopyObjectInput{
		Bucket:            aws.String(b.bucket),
		Key:               aws.String(dst),
		CopySource:        aws.String(b.copySource(src)),
		MetadataDirective: types.MetadataDirectiveCopy,
	}
	b.applyCopySSE(input)
	if _, err := b.client.CopyObject(ctx, input); err != nil {
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
	input := &s3.CopyObjectInput{
		Bucket:            aws.String(b.bucket),
		Key:               aws.String(key),
		CopySource:        aws.String(b.copySource(key)),
		MetadataDirective: types.MetadataDirectiveReplace,
		ContentType:       aws.String(current.ContentType),
		Metadata:          metadata,
	}
	b.applyCopySSE(input)
	if _, err := b.client.CopyObject(ctx, input); err != nil {
		return nil, translate("set_metadata", key, err)
	}
	return b.Head(ctx, key)
}

// copySource renders bucket/key with each key segment escaped.
func (b *Backend) copySource(key string) string {
	segments := strings.Split(key, simplestorage.Separator)
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return b.bucket + "/" + strings.Join(segments, "/")
}

func (b *Backend) sse() (types.ServerSideEncryption, *string) {
	if !b.config.EnableSSE {
		return "", nil
	}
	switch b.config.SSEAlgorithm {
	case "AES256":
		return types.ServerSideEncryptionAes256, nil
	case "aws:kms":
		if b.config.SSEKMSKeyID != "" {
			return types.ServerSideEncryptionAwsKms, aws.String(b.config.SSEKMSKeyID)
		}
		return types.ServerSideEncryptionAwsKms, nil
	}
	return "", nil
}

func (b *Backend) applySSE(input *s3.PutObjectInput) {
	input.ServerSideEncryption, input.SSEKMSKeyId = b.sse()
}

func (b *Backend) applyCopySSE(input *s3.CopyObjectInput) {
	input.ServerSideEncryption, input.SSEKMSKeyId = b.sse()
}

// translate maps SDK errors onto the storage taxonomy.
func translate(op, key string, err error) error {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return fmt.Errorf("s3 %s %s: %w: %w", op, key, simplestorage.ErrNotFound, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("s3 %s %s: %w: %w", op, key, simplestorage.ErrNotFound, err)
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			return fmt.Errorf("s3 %s %s: %w: %w", op, key, simplestorage.ErrUnauthorized, err)
		}
	}
	return fmt.Errorf("s3 %s %s: %w", op, key, err)
}
