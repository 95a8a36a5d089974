package boltdb

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"time"

	"github.com/tendant/simple-storage/pkg/simplestorage"
	bolt "go.etcd.io/bbolt"
)

// Bucket names
var (
	DataBucket = []byte("blobs") // Raw contents
	InfoBucket = []byte("info")  // JSON encoded record per key
)

// record is the stored form of a blob's attributes.
type record struct {
	ContentType string            `json:"content_type"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Size        int64             `json:"size"`
	ETag        string            `json:"etag"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func (r *record) info(key string) *simplestorage.BlobInfo {
	meta := maps.Clone(r.Metadata)
	if meta == nil {
		meta = map[string]string{}
	}
	return &simplestorage.BlobInfo{
		Key:         key,
		Size:        r.Size,
		ContentType: r.ContentType,
		ETag:        r.ETag,
		UpdatedAt:   r.UpdatedAt,
		Metadata:    meta,
	}
}

// Backend provides BBolt-based blob storage
type Backend struct {
	db *bolt.DB
}

// Open opens or creates a blob database at path
func Open(path string) (*Backend, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{DataBucket, InfoBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Backend{db: db}, nil
}

// Close closes the database
func (b *Backend) Close() error {
	return b.db.Close()
}

func (b *Backend) Put(ctx context.Context, key string, reader io.Reader, params simplestorage.PutParams) (*simplestorage.BlobInfo, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read content for %s: %w", key, err)
	}
	rec := &record{
		ContentType: params.ContentType,
		Metadata:    maps.Clone(params.Metadata),
		Size:        int64(len(data)),
		ETag:        etag(data),
		UpdatedAt:   time.Now().UTC(),
	}
	if rec.ContentType == "" {
		rec.ContentType = simplestorage.MimeTypeOctetStream
	}

	err = b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(DataBucket).Put([]byte(key), data); err != nil {
			return err
		}
		return putRecord(tx, key, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("bolt put %s: %w", key, err)
	}
	return rec.info(key), nil
}

func (b *Backend) Get(ctx context.Context, key string) (io.ReadCloser, *simplestorage.BlobInfo, error) {
	var data []byte
	var rec *record
	err := b.db.View(func(tx *bolt.Tx) error {
		var err error
		if rec, err = getRecord(tx, key); err != nil {
			return err
		}
		// Make a copy since the slice is only valid during the transaction
		data = append([]byte(nil), tx.Bucket(DataBucket).Get([]byte(key))...)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), rec.info(key), nil
}

func (b *Backend) Head(ctx context.Context, key string) (*simplestorage.BlobInfo, error) {
	var rec *record
	err := b.db.View(func(tx *bolt.Tx) error {
		var err error
		rec, err = getRecord(tx, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec.info(key), nil
}

func (b *Backend) Delete(ctx context.Context, key string) (bool, error) {
	var deleted bool
	err := b.db.Update(func(tx *bolt.Tx) error {
		info := tx.Bucket(InfoBucket)
		if info.Get([]byte(key)) == nil {
			return nil
		}
		deleted = true
		if err := info.Delete([]byte(key)); err != nil {
			return err
		}
		return tx.Bucket(DataBucket).Delete([]byte(key))
	})
	if err != nil {
		return false, fmt.Errorf("bolt delete %s: %w", key, err)
	}
	return deleted, nil
}

func (b *Backend) List(ctx context.Context, prefix string) ([]simplestorage.ListEntry, error) {
	var entries []simplestorage.ListEntry
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(InfoBucket).Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("corrupt record %s: %w", k, err)
			}
			entries = append(entries, simplestorage.ListEntry{Key: string(k), Size: rec.Size})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return simplestorage.GroupListing(prefix, entries), nil
}

func (b *Backend) Copy(ctx context.Context, src, dst string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		rec, err := getRecord(tx, src)
		if err != nil {
			return err
		}
		data := append([]byte(nil), tx.Bucket(DataBucket).Get([]byte(src))...)
		if err := tx.Bucket(DataBucket).Put([]byte(dst), data); err != nil {
			return err
		}
		rec.UpdatedAt = time.Now().UTC()
		return putRecord(tx, dst, rec)
	})
}

func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := b.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(InfoBucket).Get([]byte(key)) != nil
		return nil
	})
	return exists, err
}

// SetMetadata replaces the metadata of key in place
func (b *Backend) SetMetadata(ctx context.Context, key string, metadata map[string]string) (*simplestorage.BlobInfo, error) {
	var rec *record
	err := b.db.Update(func(tx *bolt.Tx) error {
		var err error
		if rec, err = getRecord(tx, key); err != nil {
			return err
		}
		rec.Metadata = maps.Clone(metadata)
		rec.UpdatedAt = time.Now().UTC()
		return putRecord(tx, key, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec.info(key), nil
}

func getRecord(tx *bolt.Tx, key string) (*record, error) {
	raw := tx.Bucket(InfoBucket).Get([]byte(key))
	if raw == nil {
		return nil, fmt.Errorf("bolt %s: %w", key, simplestorage.ErrNotFound)
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("corrupt record %s: %w", key, err)
	}
	return &rec, nil
}

func putRecord(tx *bolt.Tx, key string, rec *record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return tx.Bucket(InfoBucket).Put([]byte(key), raw)
}

func etag(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
