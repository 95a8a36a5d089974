package metrics

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-storage/pkg/simplestorage"
	"github.com/tendant/simple-storage/pkg/simplestorage/storage/memory"
	"github.com/tendant/simple-storage/pkg/simplestorage/storage/storagetest"
)

func TestInstrument_Suite(t *testing.T) {
	m := New()
	storagetest.RunBlobStoreSuite(t, func(t *testing.T) simplestorage.BlobStore {
		return m.Instrument("memory", memory.New())
	})
	assert.Greater(t, testutil.ToFloat64(m.Operations().WithLabelValues("memory", "put", ResultOK)), 0.0)
}

func TestInstrument_CountsResults(t *testing.T) {
	m := New()
	store := m.Instrument("memory", memory.New())
	ctx := context.Background()

	_, err := store.Put(ctx, "a", strings.NewReader("x"), simplestorage.PutParams{})
	require.NoError(t, err)
	_, err = store.Head(ctx, "a")
	require.NoError(t, err)
	_, err = store.Head(ctx, "missing")
	require.Error(t, err)

	ops := m.Operations()
	assert.Equal(t, 1.0, testutil.ToFloat64(ops.WithLabelValues("memory", "put", ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(ops.WithLabelValues("memory", "head", ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(ops.WithLabelValues("memory", "head", ResultNotFound)))
	assert.Equal(t, 3, testutil.CollectAndCount(ops))
}

func TestInstrument_PreservesCapabilities(t *testing.T) {
	m := New()

	store := m.Instrument("memory", memory.New())
	_, ok := store.(simplestorage.MetadataWriter)
	assert.True(t, ok)
	limiter, ok := store.(simplestorage.MetadataLimiter)
	require.True(t, ok)
	assert.Equal(t, 0, limiter.MetadataLimit())

	plain := m.Instrument("faulty", storagetest.NewFaultyStore(memory.New(), storagetest.OpPut, 0))
	_, ok = plain.(simplestorage.MetadataWriter)
	assert.False(t, ok)
}

func TestInstrument_ThroughService(t *testing.T) {
	m := New()
	svc, err := simplestorage.New(simplestorage.WithBlobStore("memory", m.Instrument("memory", memory.New())))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = svc.EnsureFolder(ctx, "a/b")
	require.NoError(t, err)
	_, err = svc.CreateDocument(ctx, strings.NewReader("hello"), "text/plain",
		simplestorage.Properties{simplestorage.PropName: "doc.txt"}, "a/b")
	require.NoError(t, err)

	assert.GreaterOrEqual(t, testutil.ToFloat64(m.Operations().WithLabelValues("memory", "put", ResultOK)), 3.0)

	var buf bytes.Buffer
	require.NoError(t, m.WritePrometheus(&buf))
	out := buf.String()
	assert.Contains(t, out, "simplestorage_blob_operations_total")
	assert.Contains(t, out, "simplestorage_blob_operation_duration_seconds_bucket")
	assert.Contains(t, out, `backend="memory"`)
}
