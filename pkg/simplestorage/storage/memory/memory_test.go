package memory_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-storage/pkg/simplestorage"
	"github.com/tendant/simple-storage/pkg/simplestorage/storage/memory"
	"github.com/tendant/simple-storage/pkg/simplestorage/storage/storagetest"
)

func TestMemoryBackend(t *testing.T) {
	storagetest.RunBlobStoreSuite(t, func(t *testing.T) simplestorage.BlobStore {
		return memory.New()
	})
}

func TestMemoryBackend_KeysAreOrdered(t *testing.T) {
	backend := memory.New()
	ctx := context.Background()

	for _, k := range []string{"b/2", "a", "b/1", "a/z"} {
		_, err := backend.Put(ctx, k, strings.NewReader(k), simplestorage.PutParams{})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "a/z", "b/1", "b/2"}, backend.Keys())
	assert.Equal(t, 4, backend.Len())
}

func TestMemoryBackend_ReturnedMetadataIsACopy(t *testing.T) {
	backend := memory.New()
	ctx := context.Background()

	meta := map[string]string{"k": "v"}
	_, err := backend.Put(ctx, "a", strings.NewReader("x"), simplestorage.PutParams{Metadata: meta})
	require.NoError(t, err)
	meta["k"] = "changed"

	info, err := backend.Head(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "v", info.Metadata["k"])
	assert.Equal(t, simplestorage.MimeTypeOctetStream, info.ContentType)

	info.Metadata["k"] = "changed again"
	again, err := backend.Head(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "v", again.Metadata["k"])
}

func TestMemoryBackend_ConcurrentAccess(t *testing.T) {
	backend := memory.New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := "c/" + string(rune('a'+i))
			_, err := backend.Put(ctx, key, strings.NewReader("x"), simplestorage.PutParams{})
			assert.NoError(t, err)
			_, err = backend.List(ctx, "c/")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	entries, err := backend.List(ctx, "c/")
	require.NoError(t, err)
	assert.Len(t, entries, 16)
}
