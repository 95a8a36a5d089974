package simplestorage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sourcegraph/conc/pool"
)

// Tree implements recursive copy, rename and delete over virtual folders
// of a flat BlobStore.
//
// A rename copies the subtree and then deletes the source. A crash between
// the two leaves both present; the error reported to the caller says so and
// nothing reconciles it automatically.
type Tree struct {
	store       BlobStore
	index       *DirectoryIndex
	concurrency int
	logger      *slog.Logger
}

// NewTree returns tree operations over store. concurrency bounds the number
// of siblings processed in parallel; 1 or less walks sequentially.
func NewTree(store BlobStore, index *DirectoryIndex, concurrency int, logger *slog.Logger) *Tree {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Tree{store: store, index: index, concurrency: concurrency, logger: logger}
}

// CopySubtree copies the document or folder at sourceKey into the folder
// at targetParentKey keeping its leaf name, and returns the new key. On
// failure the partially written target is removed before returning.
func (t *Tree) CopySubtree(ctx context.Context, sourceKey, targetParentKey string) (string, error) {
	if sourceKey == RootKey {
		return "", newError(ErrInvalidArguments, "copy_subtree", sourceKey, errors.New("cannot copy the root"))
	}
	targetKey, err := Child(targetParentKey, leafName(sourceKey))
	if err != nil {
		return "", err
	}
	if err := t.copy(ctx, "copy_subtree", sourceKey, targetKey); err != nil {
		return "", err
	}
	return targetKey, nil
}

// RenameSubtree moves sourceKey to targetKey. Both must share a parent.
func (t *Tree) RenameSubtree(ctx context.Context, sourceKey, targetKey string) error {
	if sourceKey == RootKey || targetKey == RootKey {
		return newError(ErrInvalidArguments, "rename_subtree", sourceKey, errors.New("cannot rename the root"))
	}
	if ParentKey(sourceKey) != ParentKey(targetKey) {
		return newError(ErrInvalidArguments, "rename_subtree", sourceKey,
			fmt.Errorf("target %q is not under parent %q", ToPath(targetKey), ToPath(ParentKey(sourceKey))))
	}
	if _, err := Child(ParentKey(targetKey), leafName(targetKey)); err != nil {
		return err
	}
	if strings.EqualFold(sourceKey, targetKey) {
		return nil
	}
	if err := t.copy(ctx, "rename_subtree", sourceKey, targetKey); err != nil {
		return err
	}
	if _, err := t.DeleteSubtree(ctx, sourceKey); err != nil {
		t.logger.Error("Rename copied the subtree but failed to delete the source",
			"source", sourceKey, "target", targetKey, "err", err)
		return newError(ErrGeneric, "rename_subtree", sourceKey,
			fmt.Errorf("copied to %q but source removal failed, both may exist: %w", targetKey, err))
	}
	return nil
}

// DeleteSubtree removes a document, or a folder with everything below it.
// It reports false when nothing existed at key. A failure part way leaves
// the tree partially deleted.
func (t *Tree) DeleteSubtree(ctx context.Context, key string) (bool, error) {
	if key == RootKey {
		return false, newError(ErrInvalidArguments, "delete_subtree", key, errors.New("cannot delete the root"))
	}
	isDir, err := t.index.IsDirectory(ctx, key)
	if err != nil {
		return false, err
	}
	if !isDir {
		deleted, err := t.store.Delete(ctx, key)
		if err != nil {
			return false, wrapBackend("delete", key, err)
		}
		if !deleted {
			t.logger.Warn("Delete of absent key", "key", key)
		}
		return deleted, nil
	}
	if err := t.deleteDir(ctx, key); err != nil {
		return false, newError(ErrGeneric, "delete_subtree", key, err)
	}
	return true, nil
}

func (t *Tree) copy(ctx context.Context, op, sourceKey, targetKey string) error {
	if strings.EqualFold(sourceKey, targetKey) {
		return nil
	}
	if strings.HasPrefix(targetKey, sourceKey+Separator) {
		return newError(ErrInvalidArguments, op, sourceKey, fmt.Errorf("target %q is inside the source", targetKey))
	}

	srcDir, err := t.index.IsDirectory(ctx, sourceKey)
	if err != nil {
		return err
	}
	if !srcDir {
		exists, err := t.store.Exists(ctx, sourceKey)
		if err != nil {
			return wrapBackend(op, sourceKey, err)
		}
		if !exists {
			return newError(ErrNotFound, op, sourceKey, nil)
		}
	}
	if err := t.ensureAbsent(ctx, op, targetKey); err != nil {
		return err
	}

	if srcDir {
		err = t.copyDir(ctx, sourceKey, targetKey)
	} else {
		err = t.copyDocument(ctx, sourceKey, targetKey)
	}
	if err == nil {
		return nil
	}

	t.logger.Debug("Copy failed, removing partial target", "source", sourceKey, "target", targetKey, "err", err)
	if cleanupErr := t.deletePartial(ctx, targetKey); cleanupErr != nil {
		t.logger.Warn("Failed to remove partial copy target", "target", targetKey, "err", cleanupErr)
	}
	return newError(ErrGeneric, op, sourceKey, err)
}

func (t *Tree) ensureAbsent(ctx context.Context, op, key string) error {
	exists, err := t.store.Exists(ctx, key)
	if err != nil {
		return wrapBackend(op, key, err)
	}
	if !exists {
		exists, err = t.index.IsDirectory(ctx, key)
		if err != nil {
			return err
		}
	}
	if exists {
		return newError(ErrConstraintViolated, op, key, fmt.Errorf("target %q already exists", ToPath(key)))
	}
	return nil
}

func (t *Tree) copyDir(ctx context.Context, sourceKey, targetKey string) error {
	t.logger.Debug("Copy folder", "source", sourceKey, "target", targetKey)

	var meta map[string]string
	info, err := t.store.Head(ctx, sourceKey)
	switch {
	case err == nil:
		meta = info.Metadata
	case !errors.Is(err, ErrNotFound):
		return err
	}
	if _, err := t.store.Put(ctx, targetKey, bytes.NewReader(nil), PutParams{ContentType: DirectoryContentType, Metadata: meta}); err != nil {
		return err
	}

	dirs, docs, err := t.children(ctx, sourceKey)
	if err != nil {
		return err
	}
	if err := t.fanOut(ctx, dirs, func(ctx context.Context, e Entry) error {
		return t.copyDir(ctx, e.Key, targetKey+Separator+leafName(e.Key))
	}); err != nil {
		return err
	}
	return t.fanOut(ctx, docs, func(ctx context.Context, e Entry) error {
		return t.copyDocument(ctx, e.Key, targetKey+Separator+leafName(e.Key))
	})
}

func (t *Tree) copyDocument(ctx context.Context, sourceKey, targetKey string) error {
	t.logger.Debug("Copy document", "source", sourceKey, "target", targetKey)
	return t.store.Copy(ctx, sourceKey, targetKey)
}

func (t *Tree) deleteDir(ctx context.Context, key string) error {
	t.logger.Debug("Delete folder", "key", key)

	dirs, docs, err := t.children(ctx, key)
	if err != nil {
		return err
	}
	if err := t.fanOut(ctx, dirs, func(ctx context.Context, e Entry) error {
		return t.deleteDir(ctx, e.Key)
	}); err != nil {
		return err
	}
	if err := t.fanOut(ctx, docs, func(ctx context.Context, e Entry) error {
		_, err := t.store.Delete(ctx, e.Key)
		return err
	}); err != nil {
		return err
	}
	_, err = t.store.Delete(ctx, key)
	return err
}

// deletePartial removes whatever a failed copy wrote at key.
func (t *Tree) deletePartial(ctx context.Context, key string) error {
	isDir, err := t.index.IsDirectory(ctx, key)
	if err != nil {
		return err
	}
	if isDir {
		return t.deleteDir(ctx, key)
	}
	_, err = t.store.Delete(ctx, key)
	return err
}

func (t *Tree) children(ctx context.Context, key string) (dirs, docs []Entry, err error) {
	entries, err := t.index.ListChildren(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	for _, e := range entries {
		if e.Kind == EntryDirectory {
			dirs = append(dirs, e)
		} else {
			docs = append(docs, e)
		}
	}
	return dirs, docs, nil
}

// fanOut runs fn for each sibling, in parallel when concurrency allows,
// and returns the first error.
func (t *Tree) fanOut(ctx context.Context, entries []Entry, fn func(context.Context, Entry) error) error {
	if len(entries) == 0 {
		return nil
	}
	if t.concurrency <= 1 || len(entries) == 1 {
		for _, e := range entries {
			if err := fn(ctx, e); err != nil {
				return err
			}
		}
		return nil
	}
	p := pool.New().WithMaxGoroutines(t.concurrency).WithContext(ctx).WithCancelOnError().WithFirstError()
	for _, e := range entries {
		p.Go(func(ctx context.Context) error {
			return fn(ctx, e)
		})
	}
	return p.Wait()
}
