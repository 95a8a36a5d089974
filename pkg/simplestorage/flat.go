package simplestorage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// FlatDriver emulates folders on top of a flat BlobStore.
type FlatDriver struct {
	name   string
	store  BlobStore
	index  *DirectoryIndex
	tree   *Tree
	codec  *MetadataCodec
	limit  int
	logger *slog.Logger
}

// NewFlatDriver wires the folder emulation over store. name identifies the
// backend in errors and logs.
func NewFlatDriver(name string, store BlobStore, codec *MetadataCodec, concurrency int, logger *slog.Logger) *FlatDriver {
	if logger == nil {
		logger = slog.Default()
	}
	if codec == nil {
		codec = NewMetadataCodec("")
	}
	logger = logger.With("backend", name)
	index := NewDirectoryIndex(store)
	d := &FlatDriver{
		name:   name,
		store:  store,
		index:  index,
		tree:   NewTree(store, index, concurrency, logger),
		codec:  codec,
		logger: logger,
	}
	if l, ok := store.(MetadataLimiter); ok {
		d.limit = l.MetadataLimit()
	}
	return d
}

// Index returns the directory index used by the driver.
func (f *FlatDriver) Index() *DirectoryIndex { return f.index }

// Tree returns the tree operations used by the driver.
func (f *FlatDriver) Tree() *Tree { return f.tree }

func (f *FlatDriver) Type() StoreType { return StoreTypeFlat }

func (f *FlatDriver) CreateFolder(ctx context.Context, parentPath, name string, props Properties) (*StorageObject, error) {
	parentKey, err := ToKey(parentPath)
	if err != nil {
		return nil, f.fail(err)
	}
	key, err := Child(parentKey, name)
	if err != nil {
		return nil, f.fail(err)
	}
	if err := f.ensureAbsent(ctx, "create_folder", key, nil); err != nil {
		return nil, err
	}
	meta, err := f.encode("create_folder", key, props)
	if err != nil {
		return nil, err
	}
	info, err := f.store.Put(ctx, key, bytes.NewReader(nil), PutParams{ContentType: DirectoryContentType, Metadata: meta})
	if err != nil {
		return nil, f.fail(wrapBackend("create_folder", key, err))
	}
	f.logger.Debug("Created folder", "key", key)
	return f.folderObject(key, info.Metadata)
}

func (f *FlatDriver) CreateDocument(ctx context.Context, reader io.Reader, contentType string, props Properties, parentPath string) (*StorageObject, error) {
	parentKey, err := ToKey(parentPath)
	if err != nil {
		return nil, f.fail(err)
	}
	name, _ := props[PropName].(string)
	if name == "" {
		name = uuid.NewString()
	}
	key, err := Child(parentKey, name)
	if err != nil {
		return nil, f.fail(err)
	}
	if err := f.ensureAbsent(ctx, "create_document", key, ErrContentAlreadyExists); err != nil {
		return nil, err
	}
	meta, err := f.encode("create_document", key, props)
	if err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = MimeTypeOctetStream
	}
	info, err := f.store.Put(ctx, key, reader, PutParams{ContentType: contentType, Metadata: meta})
	if err != nil {
		return nil, f.fail(wrapBackend("create_document", key, err))
	}
	f.logger.Debug("Created document", "key", key, "size", info.Size)
	return f.documentObject(key, info)
}

func (f *FlatDriver) UpdateProperties(ctx context.Context, obj *StorageObject, props Properties) (*StorageObject, error) {
	if obj == nil {
		return nil, f.fail(newError(ErrInvalidArguments, "update_properties", "", errors.New("nil object")))
	}
	key, err := f.canonical(obj.Key)
	if err != nil {
		return nil, err
	}
	if key == RootKey {
		return nil, f.fail(newError(ErrInvalidArguments, "update_properties", key, errors.New("cannot update the root")))
	}

	info, err := f.store.Head(ctx, key)
	var current map[string]string
	switch {
	case err == nil:
		current = info.Metadata
	case errors.Is(err, ErrNotFound):
		isDir, err := f.index.IsDirectory(ctx, key)
		if err != nil {
			return nil, f.fail(err)
		}
		if !isDir {
			return nil, f.fail(newError(ErrNotFound, "update_properties", key, nil))
		}
	default:
		return nil, f.fail(wrapBackend("update_properties", key, err))
	}

	// A rejected rename must not leave the merged properties behind.
	target := key
	if name, ok := props[PropName].(string); ok && name != "" && !strings.EqualFold(name, leafName(key)) {
		if target, err = Child(ParentKey(key), name); err != nil {
			return nil, f.fail(err)
		}
		if err := f.ensureAbsent(ctx, "update_properties", target, nil); err != nil {
			return nil, err
		}
	}

	decoded, err := f.codec.DecodeProperties(current)
	if err != nil {
		return nil, f.fail(err)
	}
	meta, err := f.encode("update_properties", key, decoded.Merge(props))
	if err != nil {
		return nil, err
	}
	if info == nil || info.IsSentinel() {
		_, err = f.store.Put(ctx, key, bytes.NewReader(nil), PutParams{ContentType: DirectoryContentType, Metadata: meta})
	} else {
		err = f.writeMetadata(ctx, key, info, meta)
	}
	if err != nil {
		return nil, f.fail(wrapBackend("update_properties", key, err))
	}

	if target != key {
		if err := f.tree.RenameSubtree(ctx, key, target); err != nil {
			return nil, f.fail(err)
		}
		key = target
	}
	return f.GetObject(ctx, key)
}

func (f *FlatDriver) UpdateStream(ctx context.Context, key string, reader io.Reader, contentType string) (*StorageObject, error) {
	key, err := f.canonical(key)
	if err != nil {
		return nil, err
	}
	info, err := f.documentInfo(ctx, "update_stream", key)
	if err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = info.ContentType
	}
	updated, err := f.store.Put(ctx, key, reader, PutParams{ContentType: contentType, Metadata: info.Metadata})
	if err != nil {
		return nil, f.fail(wrapBackend("update_stream", key, err))
	}
	return f.documentObject(key, updated)
}

func (f *FlatDriver) GetInputStream(ctx context.Context, key string) (io.ReadCloser, error) {
	key, err := f.canonical(key)
	if err != nil {
		return nil, err
	}
	rc, info, err := f.store.Get(ctx, key)
	if err != nil {
		return nil, f.fail(wrapBackend("get_input_stream", key, err))
	}
	if info.IsSentinel() {
		rc.Close()
		return nil, f.fail(newError(ErrInvalidArguments, "get_input_stream", key, errors.New("key is a folder")))
	}
	return rc, nil
}

func (f *FlatDriver) GetObject(ctx context.Context, key string) (*StorageObject, error) {
	key, err := f.canonical(key)
	if err != nil {
		return nil, err
	}
	if key == RootKey {
		return f.folderObject(key, nil)
	}
	info, err := f.store.Head(ctx, key)
	if err == nil {
		if info.IsSentinel() {
			return f.folderObject(key, info.Metadata)
		}
		return f.documentObject(key, info)
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, f.fail(wrapBackend("get_object", key, err))
	}
	isDir, err := f.index.IsDirectory(ctx, key)
	if err != nil {
		return nil, f.fail(err)
	}
	if !isDir {
		return nil, f.fail(newError(ErrNotFound, "get_object", key, nil))
	}
	return f.folderObject(key, nil)
}

func (f *FlatDriver) GetObjectByPath(ctx context.Context, path string, isFolder bool) (*StorageObject, error) {
	key, err := ToKey(path)
	if err != nil {
		return nil, f.fail(err)
	}
	obj, err := f.GetObject(ctx, key)
	if err != nil && isFolder && KindOf(err) == ErrNotFound {
		return &StorageObject{Key: key, Path: ToPath(key), Properties: Properties{}}, nil
	}
	return obj, err
}

func (f *FlatDriver) GetChildren(ctx context.Context, key string, depth int) ([]*StorageObject, error) {
	key, err := f.canonical(key)
	if err != nil {
		return nil, err
	}
	entries, err := f.index.ListChildren(ctx, key)
	if err != nil {
		return nil, f.fail(err)
	}
	out := make([]*StorageObject, 0, len(entries))
	for _, e := range entries {
		obj, err := f.GetObject(ctx, e.Key)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
		if e.Kind == EntryDirectory && depth != 1 {
			next := depth - 1
			if depth <= 0 {
				next = 0
			}
			below, err := f.GetChildren(ctx, e.Key, next)
			if err != nil {
				return nil, err
			}
			out = append(out, below...)
		}
	}
	return out, nil
}

func (f *FlatDriver) Delete(ctx context.Context, key string) (bool, error) {
	key, err := f.canonical(key)
	if err != nil {
		return false, err
	}
	deleted, err := f.tree.DeleteSubtree(ctx, key)
	if err != nil {
		return false, f.fail(err)
	}
	return deleted, nil
}

func (f *FlatDriver) CopyNode(ctx context.Context, source, target *StorageObject) error {
	if source == nil || target == nil {
		return f.fail(newError(ErrInvalidArguments, "copy_node", "", errors.New("nil object")))
	}
	sourceKey, err := f.canonical(source.Key)
	if err != nil {
		return err
	}
	targetKey, err := f.canonical(target.Key)
	if err != nil {
		return err
	}
	isDir, err := f.index.IsDirectory(ctx, targetKey)
	if err != nil {
		return f.fail(err)
	}
	if !isDir {
		return f.fail(newError(ErrInvalidArguments, "copy_node", targetKey, errors.New("target is not a folder")))
	}
	if _, err := f.tree.CopySubtree(ctx, sourceKey, targetKey); err != nil {
		return f.fail(err)
	}
	return nil
}

func (f *FlatDriver) Rename(ctx context.Context, obj *StorageObject, targetPath string) (*StorageObject, error) {
	if obj == nil {
		return nil, f.fail(newError(ErrInvalidArguments, "rename", "", errors.New("nil object")))
	}
	key, err := f.canonical(obj.Key)
	if err != nil {
		return nil, err
	}
	targetKey, err := ToKey(targetPath)
	if err != nil {
		return nil, f.fail(err)
	}
	if err := f.tree.RenameSubtree(ctx, key, targetKey); err != nil {
		return nil, f.fail(err)
	}
	if strings.EqualFold(key, targetKey) {
		return f.GetObject(ctx, key)
	}
	return f.GetObject(ctx, targetKey)
}

// canonical normalizes a caller-supplied key the way ToKey normalizes a
// path, so "/a", "a/" and "a" address the same object.
func (f *FlatDriver) canonical(key string) (string, error) {
	k, err := ToKey(key)
	if err != nil {
		return "", f.fail(err)
	}
	return k, nil
}

// documentInfo heads key and rejects absent keys and folders.
func (f *FlatDriver) documentInfo(ctx context.Context, op, key string) (*BlobInfo, error) {
	info, err := f.store.Head(ctx, key)
	if err != nil {
		return nil, f.fail(wrapBackend(op, key, err))
	}
	if info.IsSentinel() {
		return nil, f.fail(newError(ErrInvalidArguments, op, key, errors.New("key is a folder")))
	}
	return info, nil
}

func (f *FlatDriver) ensureAbsent(ctx context.Context, op, key string, cause error) error {
	exists, err := f.store.Exists(ctx, key)
	if err != nil {
		return f.fail(wrapBackend(op, key, err))
	}
	if !exists {
		if exists, err = f.index.IsDirectory(ctx, key); err != nil {
			return f.fail(err)
		}
	}
	if exists {
		return f.fail(newError(ErrConstraintViolated, op, key, cause))
	}
	return nil
}

func (f *FlatDriver) encode(op, key string, props Properties) (map[string]string, error) {
	meta, err := f.codec.EncodeProperties(props)
	if err != nil {
		return nil, f.fail(err)
	}
	if f.limit > 0 {
		if size := MetadataSize(meta); size > f.limit {
			return nil, f.fail(newError(ErrInvalidArguments, op, key,
				fmt.Errorf("encoded properties take %d bytes, backend allows %d", size, f.limit)))
		}
	}
	return meta, nil
}

func (f *FlatDriver) writeMetadata(ctx context.Context, key string, info *BlobInfo, meta map[string]string) error {
	if w, ok := f.store.(MetadataWriter); ok {
		_, err := w.SetMetadata(ctx, key, meta)
		return err
	}
	rc, _, err := f.store.Get(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = f.store.Put(ctx, key, rc, PutParams{ContentType: info.ContentType, Metadata: meta})
	return err
}

func (f *FlatDriver) documentObject(key string, info *BlobInfo) (*StorageObject, error) {
	props, err := f.codec.DecodeProperties(info.Metadata)
	if err != nil {
		return nil, f.fail(err)
	}
	if _, ok := props[PropObjectTypeID]; !ok {
		props[PropObjectTypeID] = BaseTypeDocument
	}
	props[PropBaseTypeID] = BaseTypeDocument
	props[PropContentLength] = info.Size
	props[PropMimeType] = info.ContentType
	if !info.UpdatedAt.IsZero() {
		props[PropLastModification] = info.UpdatedAt
	}
	return newObject(key, props), nil
}

func (f *FlatDriver) folderObject(key string, meta map[string]string) (*StorageObject, error) {
	props, err := f.codec.DecodeProperties(meta)
	if err != nil {
		return nil, f.fail(err)
	}
	if _, ok := props[PropObjectTypeID]; !ok {
		props[PropObjectTypeID] = BaseTypeFolder
	}
	props[PropBaseTypeID] = BaseTypeFolder
	return newObject(key, props), nil
}

func (f *FlatDriver) fail(err error) error {
	var se *StorageError
	if errors.As(err, &se) && se.Backend == "" {
		se.Backend = f.name
	}
	return err
}

// newObject fills the properties derived from the key.
func newObject(key string, props Properties) *StorageObject {
	props[PropName] = leafName(key)
	props[PropObjectID] = key
	props[PropPath] = ToPath(key)
	return &StorageObject{Key: key, Path: ToPath(key), Properties: props}
}
