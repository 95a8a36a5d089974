package simplestorage

import (
	"context"
	"errors"
)

// EntryKind classifies a child found by DirectoryIndex.
type EntryKind int

const (
	EntryDocument EntryKind = iota
	EntryDirectory
)

func (k EntryKind) String() string {
	if k == EntryDirectory {
		return "directory"
	}
	return "document"
}

// Entry is an immediate child of a virtual directory.
type Entry struct {
	Kind EntryKind
	Key  string
}

// DirectoryIndex infers folders on a flat BlobStore from shared key
// prefixes and sentinel blobs.
type DirectoryIndex struct {
	store BlobStore
}

// NewDirectoryIndex returns an index over store.
func NewDirectoryIndex(store BlobStore) *DirectoryIndex {
	return &DirectoryIndex{store: store}
}

// IsDirectory reports whether key is a folder: the root, a prefix with
// descendants, or a bare sentinel.
func (d *DirectoryIndex) IsDirectory(ctx context.Context, key string) (bool, error) {
	if key == RootKey {
		return true, nil
	}
	entries, err := d.store.List(ctx, listPrefix(key))
	if err != nil {
		return false, wrapBackend("is_directory", key, err)
	}
	if len(entries) > 0 {
		return true, nil
	}
	return d.hasSentinel(ctx, key)
}

// ListChildren returns the immediate children of key. A missing prefix
// yields an empty result.
func (d *DirectoryIndex) ListChildren(ctx context.Context, key string) ([]Entry, error) {
	entries, err := d.store.List(ctx, listPrefix(key))
	if err != nil {
		return nil, wrapBackend("list_children", key, err)
	}

	groups := make(map[string]struct{})
	for _, e := range entries {
		if e.IsGroup {
			groups[e.Key] = struct{}{}
		}
	}

	out := make([]Entry, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.Key == key {
			continue
		}
		if _, dup := seen[e.Key]; dup {
			continue
		}
		kind := EntryDocument
		if _, grouped := groups[e.Key]; grouped || e.IsGroup {
			kind = EntryDirectory
		} else if e.Size == 0 {
			sentinel, err := d.hasSentinel(ctx, e.Key)
			if err != nil {
				return nil, err
			}
			if sentinel {
				kind = EntryDirectory
			}
		}
		seen[e.Key] = struct{}{}
		out = append(out, Entry{Kind: kind, Key: e.Key})
	}
	return out, nil
}

// hasSentinel reports whether a directory sentinel is stored at key.
func (d *DirectoryIndex) hasSentinel(ctx context.Context, key string) (bool, error) {
	info, err := d.store.Head(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, wrapBackend("head", key, err)
	}
	return info.IsSentinel(), nil
}
