package simplestorage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToKey(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{"root", "/", "", false},
		{"empty is root", "", "", false},
		{"absolute", "/a/b/c.txt", "a/b/c.txt", false},
		{"trailing separator", "/a/b/", "a/b", false},
		{"relative", "a/b", "a/b", false},
		{"double separator", "/a//b", "", true},
		{"double leading", "//a", "", true},
		{"double trailing", "/a//", "", true},
		{"parent segment", "/../victim.txt", "", true},
		{"parent only", "/..", "", true},
		{"nested parent segment", "/a/../../b", "", true},
		{"current segment", "/a/./b", "", true},
		{"dots inside a name", "/a/..b/c..", "a/..b/c..", false},
		{"key with leading separator", "/a/x.txt", "a/x.txt", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToKey(tt.path)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidArguments))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToPathRoundTrip(t *testing.T) {
	for _, path := range []string{"/", "/a", "/a/b/c.txt"} {
		key, err := ToKey(path)
		require.NoError(t, err)
		assert.Equal(t, path, ToPath(key))
	}
}

func TestChild(t *testing.T) {
	key, err := Child("", "a")
	require.NoError(t, err)
	assert.Equal(t, "a", key)

	key, err = Child("a/b", "c.txt")
	require.NoError(t, err)
	assert.Equal(t, "a/b/c.txt", key)

	_, err = Child("a", "b/c")
	assert.True(t, errors.Is(err, ErrInvalidArguments))

	_, err = Child("a", "")
	assert.True(t, errors.Is(err, ErrInvalidArguments))

	for _, name := range []string{".", ".."} {
		_, err = Child("a", name)
		assert.True(t, errors.Is(err, ErrInvalidArguments), name)
	}

	key, err = Child("a", "...")
	require.NoError(t, err)
	assert.Equal(t, "a/...", key)
}

func TestParentKey(t *testing.T) {
	assert.Equal(t, "a/b", ParentKey("a/b/c"))
	assert.Equal(t, "", ParentKey("a"))
	assert.Equal(t, "c", leafName("a/b/c"))
	assert.True(t, IsRoot("/"))
	assert.False(t, IsRoot("/a"))
}

func TestGroupListing(t *testing.T) {
	entries := []ListEntry{
		{Key: "a/b", Size: 0},
		{Key: "a/b/c.txt", Size: 3},
		{Key: "a/b/d/e", Size: 1},
		{Key: "a/f.txt", Size: 5},
		{Key: "b/g", Size: 1},
	}
	got := GroupListing("a/", entries)
	assert.Equal(t, []ListEntry{
		{Key: "a/b", Size: 0},
		{Key: "a/b", IsGroup: true},
		{Key: "a/f.txt", Size: 5},
	}, got)

	root := GroupListing("", entries)
	assert.Equal(t, []ListEntry{
		{Key: "a", IsGroup: true},
		{Key: "b", IsGroup: true},
	}, root)
}
