package redisstore

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-storage/pkg/simplestorage"
	"github.com/tendant/simple-storage/pkg/simplestorage/storage/storagetest"
)

func newMiniBackend(t *testing.T) (*Backend, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, "test:"), srv
}

func TestRedisBackend_Suite(t *testing.T) {
	storagetest.RunBlobStoreSuite(t, func(t *testing.T) simplestorage.BlobStore {
		b, _ := newMiniBackend(t)
		return b
	})
}

func TestRedisBackend_LiveSuite(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	storagetest.RunBlobStoreSuite(t, func(t *testing.T) simplestorage.BlobStore {
		b, err := NewFromURL(context.Background(), url, "simplestorage-test:")
		require.NoError(t, err)
		t.Cleanup(func() { b.Close() })
		return b
	})
}

func TestRedisBackend_Layout(t *testing.T) {
	b, srv := newMiniBackend(t)
	ctx := context.Background()

	_, err := b.Put(ctx, "docs/a.txt", strings.NewReader("abc"), simplestorage.PutParams{ContentType: "text/plain"})
	require.NoError(t, err)

	assert.True(t, srv.Exists("test:blob:docs/a.txt"))
	members, err := srv.ZMembers("test:keys")
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/a.txt"}, members)
	assert.Equal(t, "3", srv.HGet("test:blob:docs/a.txt", fieldSize))

	deleted, err := b.Delete(ctx, "docs/a.txt")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, srv.Exists("test:blob:docs/a.txt"))
}

func TestRedisBackend_BinaryData(t *testing.T) {
	b, _ := newMiniBackend(t)
	ctx := context.Background()
	payload := string([]byte{0, 1, 2, 0xff, 0xfe})

	_, err := b.Put(ctx, "bin", strings.NewReader(payload), simplestorage.PutParams{})
	require.NoError(t, err)

	rc, info, err := b.Get(ctx, "bin")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))
	assert.Equal(t, simplestorage.MimeTypeOctetStream, info.ContentType)
}

func TestRedisBackend_NotFound(t *testing.T) {
	b, _ := newMiniBackend(t)
	ctx := context.Background()

	_, err := b.Head(ctx, "missing")
	assert.True(t, errors.Is(err, simplestorage.ErrNotFound))
	_, err = b.SetMetadata(ctx, "missing", nil)
	assert.True(t, errors.Is(err, simplestorage.ErrNotFound))
	err = b.Copy(ctx, "missing", "other")
	assert.True(t, errors.Is(err, simplestorage.ErrNotFound))
}

func TestPrefixEnd(t *testing.T) {
	assert.Equal(t, "a0", prefixEnd("a/"))
	assert.Equal(t, "", prefixEnd(""))
	assert.Equal(t, "b", prefixEnd("a\xff"))
}
