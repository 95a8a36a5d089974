package simplestorage_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-storage/pkg/simplestorage"
	"github.com/tendant/simple-storage/pkg/simplestorage/storage/memory"
)

func put(t *testing.T, store simplestorage.BlobStore, key, contentType string, data []byte) {
	t.Helper()
	_, err := store.Put(context.Background(), key, bytes.NewReader(data), simplestorage.PutParams{ContentType: contentType})
	require.NoError(t, err)
}

func TestDirectoryIndex(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	put(t, store, "docs", simplestorage.DirectoryContentType, nil)
	put(t, store, "docs/a.txt", "text/plain", []byte("a"))
	put(t, store, "docs/empty.txt", "text/plain", nil)
	put(t, store, "docs/sub/b.txt", "text/plain", []byte("b"))
	put(t, store, "docs/bare", simplestorage.DirectoryContentType, nil)
	put(t, store, "docs/both", simplestorage.DirectoryContentType, nil)
	put(t, store, "docs/both/c.txt", "text/plain", []byte("c"))
	index := simplestorage.NewDirectoryIndex(store)

	t.Run("is directory", func(t *testing.T) {
		tests := []struct {
			key   string
			isDir bool
		}{
			{key: "", isDir: true},
			{key: "docs", isDir: true},
			{key: "docs/sub", isDir: true},
			{key: "docs/bare", isDir: true},
			{key: "docs/a.txt", isDir: false},
			{key: "docs/empty.txt", isDir: false},
			{key: "docs/missing", isDir: false},
			{key: "doc", isDir: false},
		}
		for _, tt := range tests {
			isDir, err := index.IsDirectory(ctx, tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.isDir, isDir, tt.key)
		}
	})

	t.Run("list children", func(t *testing.T) {
		entries, err := index.ListChildren(ctx, "docs")
		require.NoError(t, err)

		kinds := map[string]simplestorage.EntryKind{}
		for _, e := range entries {
			_, dup := kinds[e.Key]
			assert.False(t, dup, "duplicate entry %s", e.Key)
			kinds[e.Key] = e.Kind
		}
		assert.Equal(t, map[string]simplestorage.EntryKind{
			"docs/a.txt":     simplestorage.EntryDocument,
			"docs/empty.txt": simplestorage.EntryDocument,
			"docs/sub":       simplestorage.EntryDirectory,
			"docs/bare":      simplestorage.EntryDirectory,
			"docs/both":      simplestorage.EntryDirectory,
		}, kinds)
	})

	t.Run("root lists top level only", func(t *testing.T) {
		entries, err := index.ListChildren(ctx, simplestorage.RootKey)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "docs", entries[0].Key)
		assert.Equal(t, simplestorage.EntryDirectory, entries[0].Kind)
		assert.Equal(t, "directory", entries[0].Kind.String())
	})

	t.Run("missing prefix is empty", func(t *testing.T) {
		entries, err := index.ListChildren(ctx, "nowhere")
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}
