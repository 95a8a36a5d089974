package presets

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-storage/pkg/simplestorage"
)

func TestNewDevelopment(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dev-data")
	rt, cleanup, err := NewDevelopment(WithDevStorage(dir))
	require.NoError(t, err)
	require.NotNil(t, rt.Metrics)

	ctx := context.Background()
	_, err = rt.Service.EnsureFolder(ctx, "/notes")
	require.NoError(t, err)
	doc, err := rt.Service.RestoreDocument(ctx, strings.NewReader("hello"), "text/plain",
		simplestorage.Properties{simplestorage.PropName: "a.txt"}, "/notes")
	require.NoError(t, err)
	assert.Equal(t, "/notes/a.txt", doc.Path)

	_, err = os.Stat(filepath.Join(dir, "notes", "a.txt"))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, rt.Metrics.WritePrometheus(&buf))

	cleanup()
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "data directory should be removed")
}

func TestNewTesting(t *testing.T) {
	svc := NewTesting(t)
	ctx := context.Background()

	folder, err := svc.EnsureFolder(ctx, "/a/b")
	require.NoError(t, err)
	assert.True(t, folder.IsFolder())

	found, err := svc.GetObjectByPath(ctx, "/a/b", true)
	require.NoError(t, err)
	assert.Equal(t, folder.Key, found.Key)
	assert.Equal(t, simplestorage.StoreTypeFlat, svc.Type())
}

func TestNewTesting_Isolated(t *testing.T) {
	ctx := context.Background()
	first := NewTesting(t)
	second := NewTesting(t)

	_, err := first.EnsureFolder(ctx, "/only-here")
	require.NoError(t, err)

	obj, err := second.GetObjectByPath(ctx, "/only-here", true)
	require.NoError(t, err)
	assert.True(t, obj.IsPlaceholder())
}

func TestNewProduction(t *testing.T) {
	ctx := context.Background()

	t.Run("memory refused", func(t *testing.T) {
		t.Setenv("STORAGE_URL", "memory://")
		_, err := NewProduction(ctx, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "persistent storage")
	})

	t.Run("bolt from environment", func(t *testing.T) {
		t.Setenv("STORAGE_URL", "bolt://"+filepath.Join(t.TempDir(), "blobs.db"))
		rt, err := NewProduction(ctx, nil)
		require.NoError(t, err)
		defer rt.Close()

		_, err = rt.Service.EnsureFolder(ctx, "/x")
		require.NoError(t, err)
	})

	t.Run("invalid environment", func(t *testing.T) {
		t.Setenv("STORAGE_URL", "gopher://nowhere")
		_, err := NewProduction(ctx, nil)
		require.Error(t, err)
	})
}
