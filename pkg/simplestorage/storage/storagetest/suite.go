// Package storagetest holds the conformance suite every BlobStore driver
// runs, and fault injection helpers for tree operation tests.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-storage/pkg/simplestorage"
)

// Factory returns the store under test. It may be called once per subtest.
type Factory func(t *testing.T) simplestorage.BlobStore

// RunBlobStoreSuite exercises the BlobStore contract. Keys are written under
// a fresh namespace so stores backed by shared servers can be reused.
func RunBlobStoreSuite(t *testing.T, newStore Factory) {
	ns := fmt.Sprintf("suite%d", time.Now().UnixNano())
	key := func(parts ...string) string {
		return ns + "/" + strings.Join(parts, "/")
	}
	meta := map[string]string{"sp_mzxw6": "A1D0C6E83F027327D8461063F4AC58A6|NDI"}

	t.Run("PutGetHead", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		info, err := store.Put(ctx, key("put", "a.txt"), strings.NewReader("hello"), simplestorage.PutParams{
			ContentType: "text/plain",
			Metadata:    meta,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(5), info.Size)
		assert.Equal(t, meta, info.Metadata)

		rc, got, err := store.Get(ctx, key("put", "a.txt"))
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, rc.Close())
		require.NoError(t, err)
		assert.Equal(t, "hello", string(data))
		assert.Equal(t, "text/plain", got.ContentType)
		assert.Equal(t, meta, got.Metadata)

		head, err := store.Head(ctx, key("put", "a.txt"))
		require.NoError(t, err)
		assert.Equal(t, int64(5), head.Size)
		assert.Equal(t, "text/plain", head.ContentType)
		assert.Equal(t, meta, head.Metadata)

		exists, err := store.Exists(ctx, key("put", "a.txt"))
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("Overwrite", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		_, err := store.Put(ctx, key("over", "a"), strings.NewReader("one"), simplestorage.PutParams{ContentType: "text/plain", Metadata: meta})
		require.NoError(t, err)
		_, err = store.Put(ctx, key("over", "a"), strings.NewReader("second"), simplestorage.PutParams{ContentType: "text/csv"})
		require.NoError(t, err)

		head, err := store.Head(ctx, key("over", "a"))
		require.NoError(t, err)
		assert.Equal(t, int64(6), head.Size)
		assert.Equal(t, "text/csv", head.ContentType)
		assert.Empty(t, head.Metadata)
	})

	t.Run("NotFound", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		_, _, err := store.Get(ctx, key("missing"))
		assert.True(t, errors.Is(err, simplestorage.ErrNotFound), "get: %v", err)

		_, err = store.Head(ctx, key("missing"))
		assert.True(t, errors.Is(err, simplestorage.ErrNotFound), "head: %v", err)

		exists, err := store.Exists(ctx, key("missing"))
		require.NoError(t, err)
		assert.False(t, exists)

		deleted, err := store.Delete(ctx, key("missing"))
		require.NoError(t, err)
		assert.False(t, deleted)

		err = store.Copy(ctx, key("missing"), key("missing-copy"))
		assert.True(t, errors.Is(err, simplestorage.ErrNotFound), "copy: %v", err)
	})

	t.Run("Delete", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		_, err := store.Put(ctx, key("del", "a"), strings.NewReader("x"), simplestorage.PutParams{})
		require.NoError(t, err)

		deleted, err := store.Delete(ctx, key("del", "a"))
		require.NoError(t, err)
		assert.True(t, deleted)

		exists, err := store.Exists(ctx, key("del", "a"))
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("List", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		for k, v := range map[string]string{
			key("list", "a.txt"):       "aaa",
			key("list", "b", "c.txt"):  "c",
			key("list", "b", "d", "e"): "e",
			key("list", "f"):           "",
			key("listing", "x"):        "x",
		} {
			_, err := store.Put(ctx, k, strings.NewReader(v), simplestorage.PutParams{ContentType: "text/plain"})
			require.NoError(t, err)
		}

		entries, err := store.List(ctx, key("list")+"/")
		require.NoError(t, err)
		assert.ElementsMatch(t, []simplestorage.ListEntry{
			{Key: key("list", "a.txt"), Size: 3},
			{Key: key("list", "b"), IsGroup: true},
			{Key: key("list", "f"), Size: 0},
		}, entries)

		entries, err = store.List(ctx, key("list", "b")+"/")
		require.NoError(t, err)
		assert.ElementsMatch(t, []simplestorage.ListEntry{
			{Key: key("list", "b", "c.txt"), Size: 1},
			{Key: key("list", "b", "d"), IsGroup: true},
		}, entries)

		entries, err = store.List(ctx, key("nothing")+"/")
		require.NoError(t, err)
		assert.Empty(t, entries)

		entries, err = store.List(ctx, "")
		require.NoError(t, err)
		assert.Contains(t, entries, simplestorage.ListEntry{Key: ns, IsGroup: true})
	})

	t.Run("Copy", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		_, err := store.Put(ctx, key("copy", "src"), strings.NewReader("payload"), simplestorage.PutParams{ContentType: "text/plain", Metadata: meta})
		require.NoError(t, err)
		require.NoError(t, store.Copy(ctx, key("copy", "src"), key("copy", "dst")))

		rc, info, err := store.Get(ctx, key("copy", "dst"))
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, rc.Close())
		require.NoError(t, err)
		assert.Equal(t, "payload", string(data))
		assert.Equal(t, "text/plain", info.ContentType)
		assert.Equal(t, meta, info.Metadata)

		exists, err := store.Exists(ctx, key("copy", "src"))
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("SetMetadata", func(t *testing.T) {
		store := newStore(t)
		w, ok := store.(simplestorage.MetadataWriter)
		if !ok {
			t.Skip("store does not implement MetadataWriter")
		}
		ctx := context.Background()

		_, err := store.Put(ctx, key("meta", "a"), strings.NewReader("data"), simplestorage.PutParams{ContentType: "text/plain", Metadata: meta})
		require.NoError(t, err)

		updated := map[string]string{"sp_nbswy3dp": "v"}
		_, err = w.SetMetadata(ctx, key("meta", "a"), updated)
		require.NoError(t, err)

		rc, info, err := store.Get(ctx, key("meta", "a"))
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, rc.Close())
		require.NoError(t, err)
		assert.Equal(t, "data", string(data))
		assert.Equal(t, "text/plain", info.ContentType)
		assert.Equal(t, updated, info.Metadata)

		_, err = w.SetMetadata(ctx, key("meta", "missing"), updated)
		assert.True(t, errors.Is(err, simplestorage.ErrNotFound))
	})
}
