package redisstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tendant/simple-storage/pkg/simplestorage"
)

// Hash fields of a stored blob
const (
	fieldData        = "data"
	fieldContentType = "content_type"
	fieldSize        = "size"
	fieldETag        = "etag"
	fieldUpdatedAt   = "updated_at"
	fieldMetadata    = "metadata"
)

// Backend stores each blob as a hash and keeps every key in a sorted set
// with equal scores, so ZRANGEBYLEX yields keys in byte order.
type Backend struct {
	client    redis.UniversalClient
	namespace string
}

// New wraps an existing client. namespace prefixes every redis key.
func New(client redis.UniversalClient, namespace string) *Backend {
	return &Backend{client: client, namespace: namespace}
}

// NewFromURL parses a redis:// URL, connects and pings the server
func NewFromURL(ctx context.Context, url, namespace string) (*Backend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis options: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(client, namespace), nil
}

// Close closes the underlying client
func (b *Backend) Close() error {
	return b.client.Close()
}

func (b *Backend) blobKey(key string) string {
	return b.namespace + "blob:" + key
}

func (b *Backend) indexKey() string {
	return b.namespace + "keys"
}

func (b *Backend) Put(ctx context.Context, key string, reader io.Reader, params simplestorage.PutParams) (*simplestorage.BlobInfo, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read content for %s: %w", key, err)
	}
	contentType := params.ContentType
	if contentType == "" {
		contentType = simplestorage.MimeTypeOctetStream
	}
	metaJSON, err := encodeMetadata(params.Metadata)
	if err != nil {
		return nil, err
	}
	sum := md5.Sum(data)
	info := &simplestorage.BlobInfo{
		Key:         key,
		Size:        int64(len(data)),
		ContentType: contentType,
		ETag:        hex.EncodeToString(sum[:]),
		UpdatedAt:   time.Now().UTC(),
		Metadata:    params.Metadata,
	}

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, b.blobKey(key), map[string]any{
			fieldData:        data,
			fieldContentType: contentType,
			fieldSize:        info.Size,
			fieldETag:        info.ETag,
			fieldUpdatedAt:   info.UpdatedAt.UnixNano(),
			fieldMetadata:    metaJSON,
		})
		pipe.ZAdd(ctx, b.indexKey(), redis.Z{Member: key})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis put %s: %w", key, err)
	}
	return info, nil
}

func (b *Backend) Get(ctx context.Context, key string) (io.ReadCloser, *simplestorage.BlobInfo, error) {
	fields, err := b.load(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	info, err := blobInfo(key, fields)
	if err != nil {
		return nil, nil, err
	}
	return io.NopCloser(strings.NewReader(fields[fieldData])), info, nil
}

func (b *Backend) Head(ctx context.Context, key string) (*simplestorage.BlobInfo, error) {
	fields, err := b.load(ctx, key)
	if err != nil {
		return nil, err
	}
	return blobInfo(key, fields)
}

func (b *Backend) Delete(ctx context.Context, key string) (bool, error) {
	var del *redis.IntCmd
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, b.blobKey(key))
		pipe.ZRem(ctx, b.indexKey(), key)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis delete %s: %w", key, err)
	}
	return del.Val() > 0, nil
}

func (b *Backend) List(ctx context.Context, prefix string) ([]simplestorage.ListEntry, error) {
	rng := &redis.ZRangeBy{Min: "[" + prefix, Max: "+"}
	if prefix == "" {
		rng.Min = "-"
	} else if end := prefixEnd(prefix); end != "" {
		rng.Max = "(" + end
	}
	keys, err := b.client.ZRangeByLex(ctx, b.indexKey(), rng).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list %s: %w", prefix, err)
	}
	if len(keys) == 0 {
		return []simplestorage.ListEntry{}, nil
	}

	sizes := make([]*redis.StringCmd, len(keys))
	_, err = b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			sizes[i] = pipe.HGet(ctx, b.blobKey(k), fieldSize)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis list %s: %w", prefix, err)
	}

	entries := make([]simplestorage.ListEntry, 0, len(keys))
	for i, k := range keys {
		size, err := sizes[i].Int64()
		if errors.Is(err, redis.Nil) {
			// index entry without a hash, deleted concurrently
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis list %s: %w", k, err)
		}
		entries = append(entries, simplestorage.ListEntry{Key: k, Size: size})
	}
	return simplestorage.GroupListing(prefix, entries), nil
}

func (b *Backend) Copy(ctx context.Context, src, dst string) error {
	fields, err := b.load(ctx, src)
	if err != nil {
		return err
	}
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	values[fieldUpdatedAt] = time.Now().UTC().UnixNano()

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, b.blobKey(dst))
		pipe.HSet(ctx, b.blobKey(dst), values)
		pipe.ZAdd(ctx, b.indexKey(), redis.Z{Member: dst})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis copy %s to %s: %w", src, dst, err)
	}
	return nil
}

func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Exists(ctx, b.blobKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", key, err)
	}
	return n > 0, nil
}

// SetMetadata replaces the metadata of key in place
func (b *Backend) SetMetadata(ctx context.Context, key string, metadata map[string]string) (*simplestorage.BlobInfo, error) {
	exists, err := b.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("redis set metadata %s: %w", key, simplestorage.ErrNotFound)
	}
	metaJSON, err := encodeMetadata(metadata)
	if err != nil {
		return nil, err
	}
	err = b.client.HSet(ctx, b.blobKey(key),
		fieldMetadata, metaJSON,
		fieldUpdatedAt, time.Now().UTC().UnixNano(),
	).Err()
	if err != nil {
		return nil, fmt.Errorf("redis set metadata %s: %w", key, err)
	}
	return b.Head(ctx, key)
}

func (b *Backend) load(ctx context.Context, key string) (map[string]string, error) {
	fields, err := b.client.HGetAll(ctx, b.blobKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("redis get %s: %w", key, simplestorage.ErrNotFound)
	}
	return fields, nil
}

func blobInfo(key string, fields map[string]string) (*simplestorage.BlobInfo, error) {
	size, err := strconv.ParseInt(fields[fieldSize], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt size for %s: %w", key, err)
	}
	updated, err := strconv.ParseInt(fields[fieldUpdatedAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt timestamp for %s: %w", key, err)
	}
	meta := map[string]string{}
	if raw := fields[fieldMetadata]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			return nil, fmt.Errorf("corrupt metadata for %s: %w", key, err)
		}
	}
	return &simplestorage.BlobInfo{
		Key:         key,
		Size:        size,
		ContentType: fields[fieldContentType],
		ETag:        fields[fieldETag],
		UpdatedAt:   time.Unix(0, updated).UTC(),
		Metadata:    meta,
	}, nil
}

func encodeMetadata(meta map[string]string) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// prefixEnd returns the smallest string greater than every key starting
// with prefix, or "" when there is none.
func prefixEnd(prefix string) string {
	end := []byte(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return string(end[:i+1])
		}
	}
	return ""
}
