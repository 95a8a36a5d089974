package postgres

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-storage/pkg/simplestorage"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Schema creates the blobs table. Keys compare bytewise so prefix scans
// return each group contiguously.
const Schema = `
CREATE TABLE IF NOT EXISTS blobs (
	key          TEXT COLLATE "C" PRIMARY KEY,
	data         BYTEA NOT NULL,
	content_type TEXT NOT NULL,
	metadata     JSONB NOT NULL DEFAULT '{}',
	size         BIGINT NOT NULL,
	etag         TEXT NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
)`

// Backend stores blobs as rows of a PostgreSQL table
type Backend struct {
	db DBTX
}

// New creates a new PostgreSQL blob store
func New(db DBTX) *Backend {
	return &Backend{db: db}
}

// NewWithPool creates a new PostgreSQL blob store with connection pool
func NewWithPool(pool *pgxpool.Pool) *Backend {
	return &Backend{db: pool}
}

// EnsureSchema creates the blobs table when missing
func (b *Backend) EnsureSchema(ctx context.Context) error {
	if _, err := b.db.Exec(ctx, Schema); err != nil {
		return handlePostgresError("ensure_schema", "", err)
	}
	return nil
}

func (b *Backend) Put(ctx context.Context, key string, reader io.Reader, params simplestorage.PutParams) (*simplestorage.BlobInfo, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read content for %s: %w", key, err)
	}
	info := &simplestorage.BlobInfo{
		Key:         key,
		Size:        int64(len(data)),
		ContentType: params.ContentType,
		ETag:        etag(data),
		UpdatedAt:   time.Now().UTC(),
		Metadata:    params.Metadata,
	}
	if info.ContentType == "" {
		info.ContentType = simplestorage.MimeTypeOctetStream
	}
	if info.Metadata == nil {
		info.Metadata = map[string]string{}
	}

	query := `
		INSERT INTO blobs (key, data, content_type, metadata, size, etag, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (key) DO UPDATE SET
			data = EXCLUDED.data,
			content_type = EXCLUDED.content_type,
			metadata = EXCLUDED.metadata,
			size = EXCLUDED.size,
			etag = EXCLUDED.etag,
			updated_at = EXCLUDED.updated_at`
	_, err = b.db.Exec(ctx, query, key, data, info.ContentType, info.Metadata, info.Size, info.ETag, info.UpdatedAt)
	if err != nil {
		return nil, handlePostgresError("put", key, err)
	}
	return info, nil
}

func (b *Backend) Get(ctx context.Context, key string) (io.ReadCloser, *simplestorage.BlobInfo, error) {
	query := `
		SELECT data, content_type, metadata, size, etag, updated_at
		FROM blobs
		WHERE key = $1`

	var data []byte
	info := &simplestorage.BlobInfo{Key: key}
	err := b.db.QueryRow(ctx, query, key).Scan(
		&data,
		&info.ContentType,
		&info.Metadata,
		&info.Size,
		&info.ETag,
		&info.UpdatedAt,
	)
	if err != nil {
		return nil, nil, handlePostgresError("get", key, err)
	}
	return io.NopCloser(bytes.NewReader(data)), info, nil
}

func (b *Backend) Head(ctx context.Context, key string) (*simplestorage.BlobInfo, error) {
	query := `
		SELECT content_type, metadata, size, etag, updated_at
		FROM blobs
		WHERE key = $1`

	info := &simplestorage.BlobInfo{Key: key}
	err := b.db.QueryRow(ctx, query, key).Scan(
		&info.ContentType,
		&info.Metadata,
		&info.Size,
		&info.ETag,
		&info.UpdatedAt,
	)
	if err != nil {
		return nil, handlePostgresError("head", key, err)
	}
	return info, nil
}

func (b *Backend) Delete(ctx context.Context, key string) (bool, error) {
	tag, err := b.db.Exec(ctx, `DELETE FROM blobs WHERE key = $1`, key)
	if err != nil {
		return false, handlePostgresError("delete", key, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (b *Backend) List(ctx context.Context, prefix string) ([]simplestorage.ListEntry, error) {
	query := `
		SELECT key, size
		FROM blobs
		WHERE starts_with(key, $1)
		ORDER BY key`

	rows, err := b.db.Query(ctx, query, prefix)
	if err != nil {
		return nil, handlePostgresError("list", prefix, err)
	}
	defer rows.Close()

	var entries []simplestorage.ListEntry
	for rows.Next() {
		var e simplestorage.ListEntry
		if err := rows.Scan(&e.Key, &e.Size); err != nil {
			return nil, handlePostgresError("list", prefix, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, handlePostgresError("list", prefix, err)
	}
	return simplestorage.GroupListing(prefix, entries), nil
}

func (b *Backend) Copy(ctx context.Context, src, dst string) error {
	query := `
		INSERT INTO blobs (key, data, content_type, metadata, size, etag, updated_at)
		SELECT $2, data, content_type, metadata, size, etag, $3
		FROM blobs
		WHERE key = $1
		ON CONFLICT (key) DO UPDATE SET
			data = EXCLUDED.data,
			content_type = EXCLUDED.content_type,
			metadata = EXCLUDED.metadata,
			size = EXCLUDED.size,
			etag = EXCLUDED.etag,
			updated_at = EXCLUDED.updated_at`
	tag, err := b.db.Exec(ctx, query, src, dst, time.Now().UTC())
	if err != nil {
		return handlePostgresError("copy", src, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("copy %s: %w", src, simplestorage.ErrNotFound)
	}
	return nil
}

func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := b.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM blobs WHERE key = $1)`, key).Scan(&exists)
	if err != nil {
		return false, handlePostgresError("exists", key, err)
	}
	return exists, nil
}

// SetMetadata replaces the metadata of key in place
func (b *Backend) SetMetadata(ctx context.Context, key string, metadata map[string]string) (*simplestorage.BlobInfo, error) {
	if metadata == nil {
		metadata = map[string]string{}
	}
	query := `
		UPDATE blobs SET metadata = $2, updated_at = $3
		WHERE key = $1
		RETURNING content_type, metadata, size, etag, updated_at`

	info := &simplestorage.BlobInfo{Key: key}
	err := b.db.QueryRow(ctx, query, key, metadata, time.Now().UTC()).Scan(
		&info.ContentType,
		&info.Metadata,
		&info.Size,
		&info.ETag,
		&info.UpdatedAt,
	)
	if err != nil {
		return nil, handlePostgresError("set_metadata", key, err)
	}
	return info, nil
}

func etag(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// Error handling helper
func handlePostgresError(operation, key string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", operation, key, simplestorage.ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42501", "28000", "28P01": // insufficient_privilege, invalid_authorization, invalid_password
			return fmt.Errorf("%s %s: %w: %w", operation, key, simplestorage.ErrUnauthorized, err)
		case "42P01": // undefined_table
			return fmt.Errorf("table blobs does not exist, run EnsureSchema: %w", err)
		default:
			return fmt.Errorf("database error in %s: %s (code: %s): %w", operation, pgErr.Message, pgErr.Code, err)
		}
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}
