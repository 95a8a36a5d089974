package sqlite

import (
	"bytes"
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tendant/simple-storage/pkg/simplestorage"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS blobs (
	key          TEXT PRIMARY KEY,
	data         BLOB,
	content_type TEXT NOT NULL,
	metadata     TEXT NOT NULL DEFAULT '{}',
	size         INTEGER NOT NULL,
	etag         TEXT NOT NULL,
	updated_at   INTEGER NOT NULL
);
`

// Backend stores blobs in a single SQLite table. TEXT keys compare
// bytewise, so prefix ranges come back with each group contiguous.
type Backend struct {
	db *sql.DB
}

// New opens or creates the database at dbPath. ":memory:" gives a private
// in-memory database.
func New(dbPath string) (*Backend, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// one connection keeps ":memory:" databases shared and serialises writers
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, err
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
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

	_, err = b.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO blobs (key, data, content_type, metadata, size, etag, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, key, data, contentType, metaJSON, info.Size, info.ETag, info.UpdatedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("sqlite put %s: %w", key, err)
	}
	return info, nil
}

func (b *Backend) Get(ctx context.Context, key string) (io.ReadCloser, *simplestorage.BlobInfo, error) {
	var data []byte
	var metaJSON string
	var updatedAt int64
	info := &simplestorage.BlobInfo{Key: key}

	err := b.db.QueryRowContext(ctx, `
		SELECT data, content_type, metadata, size, etag, updated_at
		FROM blobs WHERE key = ?
	`, key).Scan(&data, &info.ContentType, &metaJSON, &info.Size, &info.ETag, &updatedAt)
	if err != nil {
		return nil, nil, queryError("get", key, err)
	}
	if info.Metadata, err = decodeMetadata(metaJSON); err != nil {
		return nil, nil, err
	}
	info.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return io.NopCloser(bytes.NewReader(data)), info, nil
}

func (b *Backend) Head(ctx context.Context, key string) (*simplestorage.BlobInfo, error) {
	var metaJSON string
	var updatedAt int64
	info := &simplestorage.BlobInfo{Key: key}

	err := b.db.QueryRowContext(ctx, `
		SELECT content_type, metadata, size, etag, updated_at
		FROM blobs WHERE key = ?
	`, key).Scan(&info.ContentType, &metaJSON, &info.Size, &info.ETag, &updatedAt)
	if err != nil {
		return nil, queryError("head", key, err)
	}
	if info.Metadata, err = decodeMetadata(metaJSON); err != nil {
		return nil, err
	}
	info.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return info, nil
}

func (b *Backend) Delete(ctx context.Context, key string) (bool, error) {
	res, err := b.db.ExecContext(ctx, `DELETE FROM blobs WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("sqlite delete %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (b *Backend) List(ctx context.Context, prefix string) ([]simplestorage.ListEntry, error) {
	query := `SELECT key, size FROM blobs WHERE key >= ? ORDER BY key`
	args := []any{prefix}
	if end := prefixEnd(prefix); end != "" {
		query = `SELECT key, size FROM blobs WHERE key >= ? AND key < ? ORDER BY key`
		args = append(args, end)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite list %s: %w", prefix, err)
	}
	defer rows.Close()

	var entries []simplestorage.ListEntry
	for rows.Next() {
		var e simplestorage.ListEntry
		if err := rows.Scan(&e.Key, &e.Size); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return simplestorage.GroupListing(prefix, entries), nil
}

func (b *Backend) Copy(ctx context.Context, src, dst string) error {
	res, err := b.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO blobs (key, data, content_type, metadata, size, etag, updated_at)
		SELECT ?, data, content_type, metadata, size, etag, ?
		FROM blobs WHERE key = ?
	`, dst, time.Now().UTC().UnixNano(), src)
	if err != nil {
		return fmt.Errorf("sqlite copy %s: %w", src, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("sqlite copy %s: %w", src, simplestorage.ErrNotFound)
	}
	return nil
}

func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := b.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM blobs WHERE key = ?)`, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("sqlite exists %s: %w", key, err)
	}
	return exists, nil
}

// SetMetadata replaces the metadata of key in place
func (b *Backend) SetMetadata(ctx context.Context, key string, metadata map[string]string) (*simplestorage.BlobInfo, error) {
	metaJSON, err := encodeMetadata(metadata)
	if err != nil {
		return nil, err
	}
	res, err := b.db.ExecContext(ctx, `UPDATE blobs SET metadata = ?, updated_at = ? WHERE key = ?`,
		metaJSON, time.Now().UTC().UnixNano(), key)
	if err != nil {
		return nil, fmt.Errorf("sqlite set metadata %s: %w", key, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, fmt.Errorf("sqlite set metadata %s: %w", key, simplestorage.ErrNotFound)
	}
	return b.Head(ctx, key)
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

func decodeMetadata(raw string) (map[string]string, error) {
	meta := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("corrupt metadata: %w", err)
	}
	return meta, nil
}

func queryError(op, key string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("sqlite %s %s: %w", op, key, simplestorage.ErrNotFound)
	}
	return fmt.Errorf("sqlite %s %s: %w", op, key, err)
}
