package simplestorage

import (
	"context"
	"io"
	"strings"
)

// BlobStore defines the flat operations a backend must supply
type BlobStore interface {
	// Put writes a blob and returns the committed info
	Put(ctx context.Context, key string, reader io.Reader, params PutParams) (*BlobInfo, error)

	// Get opens a blob. Absent keys return ErrNotFound.
	Get(ctx context.Context, key string) (io.ReadCloser, *BlobInfo, error)

	// Head returns blob info without the stream. Absent keys return ErrNotFound.
	Head(ctx context.Context, key string) (*BlobInfo, error)

	// Delete removes a blob and reports whether it existed
	Delete(ctx context.Context, key string) (bool, error)

	// List returns the immediate children under prefix, which is either empty
	// or ends with Separator. Deeper keys are collapsed into group entries.
	List(ctx context.Context, prefix string) ([]ListEntry, error)

	// Copy duplicates data and metadata from src to dst
	Copy(ctx context.Context, src, dst string) error

	// Exists reports whether a blob is stored at key
	Exists(ctx context.Context, key string) (bool, error)
}

// MetadataLimiter is implemented by stores whose metadata slot is bounded.
// MetadataLimit returns the byte budget for names plus values, 0 for none.
type MetadataLimiter interface {
	MetadataLimit() int
}

// MetadataWriter is implemented by stores that can replace the metadata of
// a blob without rewriting its data. Stores without it are updated by
// reading and re-putting the blob.
type MetadataWriter interface {
	SetMetadata(ctx context.Context, key string, metadata map[string]string) (*BlobInfo, error)
}

// Driver is the uniform folder/document surface. It is implemented natively
// by hierarchical backends and emulated over a BlobStore by the flat driver.
type Driver interface {
	// CreateFolder creates name under the folder at parentPath
	CreateFolder(ctx context.Context, parentPath, name string, props Properties) (*StorageObject, error)

	// CreateDocument stores a new document under the folder at parentPath.
	// The leaf name comes from PropName.
	CreateDocument(ctx context.Context, reader io.Reader, contentType string, props Properties, parentPath string) (*StorageObject, error)

	// UpdateProperties merges props into the object. A changed PropName
	// renames it in place.
	UpdateProperties(ctx context.Context, obj *StorageObject, props Properties) (*StorageObject, error)

	// UpdateStream replaces the content of an existing document
	UpdateStream(ctx context.Context, key string, reader io.Reader, contentType string) (*StorageObject, error)

	// GetInputStream opens the content of a document
	GetInputStream(ctx context.Context, key string) (io.ReadCloser, error)

	// GetObject resolves a key
	GetObject(ctx context.Context, key string) (*StorageObject, error)

	// GetObjectByPath resolves a path. When isFolder is set and nothing
	// exists there, an unresolved placeholder is returned.
	GetObjectByPath(ctx context.Context, path string, isFolder bool) (*StorageObject, error)

	// GetChildren lists descendants of a folder down to depth levels.
	// depth <= 0 means unlimited, 1 means immediate children.
	GetChildren(ctx context.Context, key string, depth int) ([]*StorageObject, error)

	// Delete removes a document or a whole folder tree and reports whether
	// anything existed
	Delete(ctx context.Context, key string) (bool, error)

	// CopyNode copies source into the target folder
	CopyNode(ctx context.Context, source, target *StorageObject) error

	// Rename changes the leaf name of obj to the leaf of targetPath. The
	// parent of targetPath must be the parent of obj.
	Rename(ctx context.Context, obj *StorageObject, targetPath string) (*StorageObject, error)

	// Type reports the variant
	Type() StoreType
}

// GroupListing collapses a sorted list of flat entries under prefix into
// immediate children, the way a delimiter listing does. Entries outside
// prefix are ignored.
func GroupListing(prefix string, entries []ListEntry) []ListEntry {
	out := make([]ListEntry, 0, len(entries))
	lastGroup := ""
	for _, e := range entries {
		if !strings.HasPrefix(e.Key, prefix) || len(e.Key) == len(prefix) {
			continue
		}
		rest := e.Key[len(prefix):]
		if i := strings.Index(rest, Separator); i >= 0 {
			group := prefix + rest[:i]
			if group != lastGroup {
				out = append(out, ListEntry{Key: group, IsGroup: true})
				lastGroup = group
			}
			continue
		}
		out = append(out, ListEntry{Key: e.Key, Size: e.Size})
	}
	return out
}
