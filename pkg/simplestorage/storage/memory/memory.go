package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/tendant/simple-storage/pkg/simplestorage"
	"github.com/tidwall/btree"
)

type object struct {
	data        []byte
	contentType string
	metadata    map[string]string
	updatedAt   time.Time
}

// Backend is an in-memory implementation of the simplestorage.BlobStore
// interface. Keys are kept ordered so prefix listings are range scans.
type Backend struct {
	mu      sync.RWMutex
	objects *btree.Map[string, *object]
}

// New creates a new in-memory storage backend
func New() *Backend {
	return &Backend{objects: btree.NewMap[string, *object](0)}
}

// Put stores a copy of the reader's content
func (b *Backend) Put(ctx context.Context, key string, reader io.Reader, params simplestorage.PutParams) (*simplestorage.BlobInfo, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read content for %s: %w", key, err)
	}
	contentType := params.ContentType
	if contentType == "" {
		contentType = simplestorage.MimeTypeOctetStream
	}
	obj := &object{
		data:        data,
		contentType: contentType,
		metadata:    maps.Clone(params.Metadata),
		updatedAt:   time.Now().UTC(),
	}

	b.mu.Lock()
	b.objects.Set(key, obj)
	b.mu.Unlock()

	return obj.info(key), nil
}

// Get returns the content of key
func (b *Backend) Get(ctx context.Context, key string) (io.ReadCloser, *simplestorage.BlobInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, ok := b.objects.Get(key)
	if !ok {
		return nil, nil, notFound(key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), obj.info(key), nil
}

// Head returns the info of key
func (b *Backend) Head(ctx context.Context, key string) (*simplestorage.BlobInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, ok := b.objects.Get(key)
	if !ok {
		return nil, notFound(key)
	}
	return obj.info(key), nil
}

// Delete removes key
func (b *Backend) Delete(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, deleted := b.objects.Delete(key)
	return deleted, nil
}

// List returns the immediate children under prefix
func (b *Backend) List(ctx context.Context, prefix string) ([]simplestorage.ListEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var entries []simplestorage.ListEntry
	b.objects.Ascend(prefix, func(key string, obj *object) bool {
		if !strings.HasPrefix(key, prefix) {
			return false
		}
		entries = append(entries, simplestorage.ListEntry{Key: key, Size: int64(len(obj.data))})
		return true
	})
	return simplestorage.GroupListing(prefix, entries), nil
}

// Copy duplicates src into dst
func (b *Backend) Copy(ctx context.Context, src, dst string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	obj, ok := b.objects.Get(src)
	if !ok {
		return notFound(src)
	}
	b.objects.Set(dst, &object{
		data:        obj.data,
		contentType: obj.contentType,
		metadata:    maps.Clone(obj.metadata),
		updatedAt:   time.Now().UTC(),
	})
	return nil
}

// Exists reports whether key is stored
func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, ok := b.objects.Get(key)
	return ok, nil
}

// SetMetadata replaces the metadata of key
func (b *Backend) SetMetadata(ctx context.Context, key string, metadata map[string]string) (*simplestorage.BlobInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	obj, ok := b.objects.Get(key)
	if !ok {
		return nil, notFound(key)
	}
	updated := *obj
	updated.metadata = maps.Clone(metadata)
	updated.updatedAt = time.Now().UTC()
	b.objects.Set(key, &updated)
	return updated.info(key), nil
}

// Len returns the number of stored blobs
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.objects.Len()
}

// Keys returns every stored key in order
func (b *Backend) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.objects.Keys()
}

func (o *object) info(key string) *simplestorage.BlobInfo {
	return &simplestorage.BlobInfo{
		Key:         key,
		Size:        int64(len(o.data)),
		ContentType: o.contentType,
		UpdatedAt:   o.updatedAt,
		Metadata:    maps.Clone(o.metadata),
	}
}

func notFound(key string) error {
	return fmt.Errorf("object %s: %w", key, simplestorage.ErrNotFound)
}
