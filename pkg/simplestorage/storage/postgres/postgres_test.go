package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-storage/pkg/simplestorage"
	"github.com/tendant/simple-storage/pkg/simplestorage/storage/storagetest"
)

func TestHandlePostgresError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{name: "no rows", err: pgx.ErrNoRows, kind: simplestorage.ErrNotFound},
		{name: "privilege", err: &pgconn.PgError{Code: "42501"}, kind: simplestorage.ErrUnauthorized},
		{name: "password", err: &pgconn.PgError{Code: "28P01"}, kind: simplestorage.ErrUnauthorized},
		{name: "missing table", err: &pgconn.PgError{Code: "42P01"}, kind: simplestorage.ErrGeneric},
		{name: "other", err: errors.New("conn reset"), kind: simplestorage.ErrGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, simplestorage.KindOf(handlePostgresError("head", "k", tt.err)))
		})
	}
}

func TestEtag(t *testing.T) {
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", etag([]byte("hello")))
}

func TestPostgresBackend_Suite(t *testing.T) {
	connString := os.Getenv("POSTGRES_TEST_URL")
	if connString == "" {
		t.Skip("POSTGRES_TEST_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, connString)
	require.NoError(t, err, "Failed to connect to test database")
	t.Cleanup(pool.Close)
	require.NoError(t, pool.Ping(ctx), "Failed to ping test database")

	backend := NewWithPool(pool)
	require.NoError(t, backend.EnsureSchema(ctx))

	storagetest.RunBlobStoreSuite(t, func(t *testing.T) simplestorage.BlobStore {
		return backend
	})
}
