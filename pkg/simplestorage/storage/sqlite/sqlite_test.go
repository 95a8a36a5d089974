package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-storage/pkg/simplestorage"
	"github.com/tendant/simple-storage/pkg/simplestorage/storage/storagetest"
)

func newBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New(filepath.Join(t.TempDir(), "blobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestSQLiteBackend_Suite(t *testing.T) {
	storagetest.RunBlobStoreSuite(t, func(t *testing.T) simplestorage.BlobStore {
		return newBackend(t)
	})
}

func TestSQLiteBackend_InMemory(t *testing.T) {
	b, err := New(":memory:")
	require.NoError(t, err)
	defer b.Close()
	ctx := context.Background()

	_, err = b.Put(ctx, "a/b", strings.NewReader("x"), simplestorage.PutParams{})
	require.NoError(t, err)
	exists, err := b.Exists(ctx, "a/b")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSQLiteBackend_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blobs.db")
	ctx := context.Background()

	b, err := New(path)
	require.NoError(t, err)
	_, err = b.Put(ctx, "docs/a.txt", strings.NewReader("kept"), simplestorage.PutParams{
		ContentType: "text/plain",
		Metadata:    map[string]string{"sp_k": "v"},
	})
	require.NoError(t, err)
	require.NoError(t, b.Close())

	b, err = New(path)
	require.NoError(t, err)
	defer b.Close()
	info, err := b.Head(ctx, "docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(4), info.Size)
	assert.Equal(t, map[string]string{"sp_k": "v"}, info.Metadata)
}

func TestPrefixEnd(t *testing.T) {
	assert.Equal(t, "a0", prefixEnd("a/"))
	assert.Equal(t, "b", prefixEnd("a"))
	assert.Equal(t, "", prefixEnd(""))
	assert.Equal(t, "b", prefixEnd("a\xff"))
}
