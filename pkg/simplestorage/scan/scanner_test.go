package scan

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-storage/pkg/simplestorage"
	"github.com/tendant/simple-storage/pkg/simplestorage/storage/memory"
)

func setupTree(t *testing.T) simplestorage.Service {
	t.Helper()
	svc, err := simplestorage.New(simplestorage.WithBlobStore("memory", memory.New()))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = svc.EnsureFolder(ctx, "/docs/img")
	require.NoError(t, err)
	for _, doc := range []struct{ parent, name, contentType string }{
		{"/docs", "a.txt", "text/plain"},
		{"/docs", "b.txt", "text/plain"},
		{"/docs/img", "c.png", "image/png"},
	} {
		_, err := svc.CreateDocument(ctx, strings.NewReader(doc.name), doc.contentType,
			simplestorage.Properties{simplestorage.PropName: doc.name}, doc.parent)
		require.NoError(t, err)
	}
	return svc
}

func TestScan_ProcessesInKeyOrder(t *testing.T) {
	svc := setupTree(t)
	var seen []string

	result, err := New(svc, nil).ForEach(context.Background(), "/docs", func(ctx context.Context, obj *simplestorage.StorageObject) error {
		seen = append(seen, obj.Key)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"docs/a.txt", "docs/b.txt", "docs/img", "docs/img/c.png"}, seen)
	assert.Equal(t, int64(4), result.TotalFound)
	assert.Equal(t, int64(4), result.TotalProcessed)
}

func TestScan_Filters(t *testing.T) {
	svc := setupTree(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"documents only", Filter{DocumentsOnly: true}, []string{"docs/a.txt", "docs/b.txt", "docs/img/c.png"}},
		{"folders only", Filter{FoldersOnly: true}, []string{"docs/img"}},
		{"mime prefix", Filter{MimePrefix: "image/"}, []string{"docs/img/c.png"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen []string
			result, err := New(svc, nil).Scan(ctx, Options{
				Root:   "/docs",
				Filter: tt.filter,
				Processor: ProcessorFunc(func(ctx context.Context, obj *simplestorage.StorageObject) error {
					seen = append(seen, obj.Key)
					return nil
				}),
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, seen)
			assert.Equal(t, int64(4)-int64(len(tt.want)), result.TotalSkipped)
		})
	}
}

func TestScan_TagProcessor(t *testing.T) {
	svc := setupTree(t)
	ctx := context.Background()
	scanner := New(svc, nil)

	result, err := scanner.Scan(ctx, Options{
		Root:      "/docs",
		Filter:    Filter{DocumentsOnly: true},
		Processor: TagProcessor(svc, "P:acc:reviewed"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.TotalProcessed)

	var tagged []string
	_, err = scanner.Scan(ctx, Options{
		Filter: Filter{Tag: "P:acc:reviewed"},
		Processor: ProcessorFunc(func(ctx context.Context, obj *simplestorage.StorageObject) error {
			tagged = append(tagged, obj.Key)
			return nil
		}),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/a.txt", "docs/b.txt", "docs/img/c.png"}, tagged)
}

func TestScan_FailuresDoNotStop(t *testing.T) {
	svc := setupTree(t)
	boom := errors.New("boom")

	result, err := New(svc, nil).ForEach(context.Background(), "/docs", func(ctx context.Context, obj *simplestorage.StorageObject) error {
		if strings.HasSuffix(obj.Key, ".txt") {
			return boom
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.TotalFailed)
	assert.Equal(t, int64(2), result.TotalProcessed)
	assert.Equal(t, []string{"docs/a.txt", "docs/b.txt"}, result.FailedKeys)
}

func TestScan_DryRunAndProgress(t *testing.T) {
	svc := setupTree(t)
	var progress [][2]int64

	result, err := New(svc, nil).Scan(context.Background(), Options{
		Root:      "/docs",
		DryRun:    true,
		BatchSize: 3,
		OnProgress: func(processed, total int64) {
			progress = append(progress, [2]int64{processed, total})
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), result.TotalProcessed)
	assert.Equal(t, [][2]int64{{3, 4}, {4, 4}}, progress)
}

func TestScan_InvalidOptions(t *testing.T) {
	svc := setupTree(t)
	scanner := New(svc, nil)
	ctx := context.Background()

	_, err := scanner.Scan(ctx, Options{Root: "/docs"})
	assert.Error(t, err)

	_, err = scanner.Scan(ctx, Options{DryRun: true, Filter: Filter{DocumentsOnly: true, FoldersOnly: true}})
	assert.Error(t, err)
}
