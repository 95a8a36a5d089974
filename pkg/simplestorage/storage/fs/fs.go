package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tendant/simple-storage/pkg/simplestorage"
)

const (
	backendName = "fs"

	// sidecarSuffix ends every property file. A folder keeps its properties
	// in ".props" inside itself, a file "x" in ".x.props" next to it.
	sidecarSuffix = ".props"
	folderSidecar = ".props"

	// tempSuffix marks in-flight stream replacements.
	tempSuffix = ".partial"

	// contentTypeEntry holds the MIME type in a file's sidecar. It carries
	// no codec tag, so property decoding skips it.
	contentTypeEntry = "content-type"
)

// Driver is a filesystem implementation of the simplestorage.Driver
// interface with real directories for folders.
type Driver struct {
	mu      sync.RWMutex
	baseDir string
	codec   *simplestorage.MetadataCodec
	logger  *slog.Logger
}

// Config options for the filesystem driver
type Config struct {
	// Base directory holding the tree
	BaseDir string
	// Codec for sidecar entries, defaults to the sp_ tag
	Codec  *simplestorage.MetadataCodec
	Logger *slog.Logger
}

// New creates a new filesystem driver
func New(config Config) (*Driver, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}
	if err := os.MkdirAll(config.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	codec := config.Codec
	if codec == nil {
		codec = simplestorage.NewMetadataCodec("")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		baseDir: config.BaseDir,
		codec:   codec,
		logger:  logger.With("backend", backendName),
	}, nil
}

func (d *Driver) Type() simplestorage.StoreType { return simplestorage.StoreTypeNative }

func (d *Driver) CreateFolder(ctx context.Context, parentPath, name string, props simplestorage.Properties) (*simplestorage.StorageObject, error) {
	parentKey, key, err := d.childKey("create_folder", parentPath, name)
	if err != nil {
		return nil, err
	}
	meta, err := d.codec.EncodeProperties(props)
	if err != nil {
		return nil, own(err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.requireFolder("create_folder", parentKey); err != nil {
		return nil, err
	}
	dir := d.fullPath(key)
	if err := os.Mkdir(dir, 0755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fail(simplestorage.ErrConstraintViolated, "create_folder", key, nil)
		}
		return nil, osError("create_folder", key, err)
	}
	if err := writeSidecar(d.sidecarPath(key, true), meta); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fail(simplestorage.ErrGeneric, "create_folder", key, err)
	}
	d.logger.Debug("Created folder", "key", key)
	return d.object("create_folder", key)
}

func (d *Driver) CreateDocument(ctx context.Context, reader io.Reader, contentType string, props simplestorage.Properties, parentPath string) (*simplestorage.StorageObject, error) {
	name, _ := props[simplestorage.PropName].(string)
	if name == "" {
		name = uuid.NewString()
	}
	parentKey, key, err := d.childKey("create_document", parentPath, name)
	if err != nil {
		return nil, err
	}
	meta, err := d.codec.EncodeProperties(props)
	if err != nil {
		return nil, own(err)
	}
	if contentType == "" {
		contentType = simplestorage.MimeTypeOctetStream
	}
	meta[contentTypeEntry] = contentType

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.requireFolder("create_document", parentKey); err != nil {
		return nil, err
	}
	filePath := d.fullPath(key)
	file, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fail(simplestorage.ErrConstraintViolated, "create_document", key, simplestorage.ErrContentAlreadyExists)
		}
		return nil, osError("create_document", key, err)
	}
	_, err = io.Copy(file, reader)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = writeSidecar(d.sidecarPath(key, false), meta)
	}
	if err != nil {
		_ = os.Remove(filePath)
		return nil, fail(simplestorage.ErrGeneric, "create_document", key, fmt.Errorf("failed to write file: %w", err))
	}
	d.logger.Debug("Created document", "key", key)
	return d.object("create_document", key)
}

func (d *Driver) UpdateProperties(ctx context.Context, obj *simplestorage.StorageObject, props simplestorage.Properties) (*simplestorage.StorageObject, error) {
	if obj == nil {
		return nil, fail(simplestorage.ErrInvalidArguments, "update_properties", "", errors.New("nil object"))
	}
	key, err := d.resolve("update_properties", obj.Key)
	if err != nil {
		return nil, err
	}
	if key == simplestorage.RootKey {
		return nil, fail(simplestorage.ErrInvalidArguments, "update_properties", key, errors.New("cannot update the root"))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	info, err := d.stat("update_properties", key)
	if err != nil {
		return nil, err
	}
	target := key
	if name, ok := props[simplestorage.PropName].(string); ok && name != "" && name != leaf(key) {
		if _, target, err = d.childKey("update_properties", simplestorage.ToPath(simplestorage.ParentKey(key)), name); err != nil {
			return nil, err
		}
		if err := d.ensureAbsent("update_properties", key, target); err != nil {
			return nil, err
		}
	}

	sidecar := d.sidecarPath(key, info.IsDir())
	meta, err := readSidecar(sidecar)
	if err != nil {
		return nil, fail(simplestorage.ErrGeneric, "update_properties", key, err)
	}
	current, err := d.codec.DecodeProperties(meta)
	if err != nil {
		return nil, own(err)
	}
	updated, err := d.codec.EncodeProperties(current.Merge(props))
	if err != nil {
		return nil, own(err)
	}
	if ct := meta[contentTypeEntry]; ct != "" {
		updated[contentTypeEntry] = ct
	}
	if err := writeSidecar(sidecar, updated); err != nil {
		return nil, fail(simplestorage.ErrGeneric, "update_properties", key, err)
	}

	if target != key {
		if err := d.move("update_properties", key, target, info.IsDir()); err != nil {
			return nil, err
		}
		key = target
	}
	return d.object("update_properties", key)
}

func (d *Driver) UpdateStream(ctx context.Context, key string, reader io.Reader, contentType string) (*simplestorage.StorageObject, error) {
	key, err := d.resolve("update_stream", key)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.document("update_stream", key); err != nil {
		return nil, err
	}
	filePath := d.fullPath(key)
	tmp, err := os.CreateTemp(filepath.Dir(filePath), "."+filepath.Base(filePath)+".*"+tempSuffix)
	if err != nil {
		return nil, osError("update_stream", key, err)
	}
	_, err = io.Copy(tmp, reader)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), filePath)
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return nil, fail(simplestorage.ErrGeneric, "update_stream", key, err)
	}

	if contentType != "" {
		sidecar := d.sidecarPath(key, false)
		meta, err := readSidecar(sidecar)
		if err == nil {
			meta[contentTypeEntry] = contentType
			err = writeSidecar(sidecar, meta)
		}
		if err != nil {
			return nil, fail(simplestorage.ErrGeneric, "update_stream", key, err)
		}
	}
	return d.object("update_stream", key)
}

func (d *Driver) GetInputStream(ctx context.Context, key string) (io.ReadCloser, error) {
	key, err := d.resolve("get_input_stream", key)
	if err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if _, err := d.document("get_input_stream", key); err != nil {
		return nil, err
	}
	file, err := os.Open(d.fullPath(key))
	if err != nil {
		return nil, osError("get_input_stream", key, err)
	}
	return file, nil
}

func (d *Driver) GetObject(ctx context.Context, key string) (*simplestorage.StorageObject, error) {
	key, err := d.resolve("get_object", key)
	if err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.object("get_object", key)
}

func (d *Driver) GetObjectByPath(ctx context.Context, path string, isFolder bool) (*simplestorage.StorageObject, error) {
	key, err := simplestorage.ToKey(path)
	if err != nil {
		return nil, own(err)
	}
	obj, err := d.GetObject(ctx, key)
	if err != nil && isFolder && simplestorage.KindOf(err) == simplestorage.ErrNotFound {
		return &simplestorage.StorageObject{Key: key, Path: simplestorage.ToPath(key), Properties: simplestorage.Properties{}}, nil
	}
	return obj, err
}

func (d *Driver) GetChildren(ctx context.Context, key string, depth int) ([]*simplestorage.StorageObject, error) {
	key, err := d.resolve("get_children", key)
	if err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.children(key, depth)
}

func (d *Driver) Delete(ctx context.Context, key string) (bool, error) {
	key, err := d.resolve("delete", key)
	if err != nil {
		return false, err
	}
	if key == simplestorage.RootKey {
		return false, fail(simplestorage.ErrInvalidArguments, "delete", key, errors.New("cannot delete the root"))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if hidden(leaf(key)) {
		return false, nil
	}
	filePath := d.fullPath(key)
	info, err := os.Lstat(filePath)
	if errors.Is(err, os.ErrNotExist) {
		d.logger.Warn("Delete of absent key", "key", key)
		return false, nil
	}
	if err != nil {
		return false, osError("delete", key, err)
	}

	if info.IsDir() {
		err = os.RemoveAll(filePath)
	} else if err = os.Remove(filePath); err == nil {
		err = removeIfExists(d.sidecarPath(key, false))
	}
	if err != nil {
		return false, osError("delete", key, err)
	}
	d.logger.Debug("Deleted", "key", key, "folder", info.IsDir())
	return true, nil
}

func (d *Driver) CopyNode(ctx context.Context, source, target *simplestorage.StorageObject) error {
	if source == nil || target == nil {
		return fail(simplestorage.ErrInvalidArguments, "copy_node", "", errors.New("nil object"))
	}
	sourceKey, err := d.resolve("copy_node", source.Key)
	if err != nil {
		return err
	}
	parentKey, err := d.resolve("copy_node", target.Key)
	if err != nil {
		return err
	}
	if sourceKey == simplestorage.RootKey {
		return fail(simplestorage.ErrInvalidArguments, "copy_node", sourceKey, errors.New("cannot copy the root"))
	}
	targetKey, err := simplestorage.Child(parentKey, leaf(sourceKey))
	if err != nil {
		return own(err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.requireFolder("copy_node", parentKey); err != nil {
		return err
	}
	info, err := d.stat("copy_node", sourceKey)
	if err != nil {
		return err
	}
	if strings.EqualFold(sourceKey, targetKey) {
		return nil
	}
	if strings.HasPrefix(targetKey, sourceKey+simplestorage.Separator) {
		return fail(simplestorage.ErrInvalidArguments, "copy_node", sourceKey, fmt.Errorf("target %q is inside the source", targetKey))
	}
	if _, err := os.Lstat(d.fullPath(targetKey)); err == nil {
		return fail(simplestorage.ErrConstraintViolated, "copy_node", targetKey, fmt.Errorf("target %q already exists", simplestorage.ToPath(targetKey)))
	}

	src, dst := d.fullPath(sourceKey), d.fullPath(targetKey)
	if info.IsDir() {
		err = copyDir(src, dst)
	} else if err = copyFile(src, dst); err == nil {
		err = copyFile(d.sidecarPath(sourceKey, false), d.sidecarPath(targetKey, false))
		if errors.Is(err, os.ErrNotExist) {
			err = nil
		}
	}
	if err != nil {
		d.logger.Debug("Copy failed, removing partial target", "source", sourceKey, "target", targetKey, "err", err)
		cleanupErr := os.RemoveAll(dst)
		if !info.IsDir() {
			cleanupErr = errors.Join(cleanupErr, removeIfExists(d.sidecarPath(targetKey, false)))
		}
		if cleanupErr != nil {
			d.logger.Warn("Failed to remove partial copy target", "target", targetKey, "err", cleanupErr)
		}
		return fail(simplestorage.ErrGeneric, "copy_node", sourceKey, err)
	}
	d.logger.Debug("Copied", "source", sourceKey, "target", targetKey)
	return nil
}

func (d *Driver) Rename(ctx context.Context, obj *simplestorage.StorageObject, targetPath string) (*simplestorage.StorageObject, error) {
	if obj == nil {
		return nil, fail(simplestorage.ErrInvalidArguments, "rename", "", errors.New("nil object"))
	}
	key, err := d.resolve("rename", obj.Key)
	if err != nil {
		return nil, err
	}
	targetKey, err := d.resolve("rename", targetPath)
	if err != nil {
		return nil, err
	}
	if key == simplestorage.RootKey || targetKey == simplestorage.RootKey {
		return nil, fail(simplestorage.ErrInvalidArguments, "rename", key, errors.New("cannot rename the root"))
	}
	parentKey := simplestorage.ParentKey(key)
	if parentKey != simplestorage.ParentKey(targetKey) {
		return nil, fail(simplestorage.ErrInvalidArguments, "rename", key,
			fmt.Errorf("target %q is not under parent %q", targetPath, simplestorage.ToPath(parentKey)))
	}
	if hidden(leaf(targetKey)) {
		return nil, fail(simplestorage.ErrInvalidArguments, "rename", targetKey, errors.New("reserved name"))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	info, err := d.stat("rename", key)
	if err != nil {
		return nil, err
	}
	if key != targetKey {
		if err := d.move("rename", key, targetKey, info.IsDir()); err != nil {
			return nil, err
		}
	}
	return d.object("rename", targetKey)
}

func (d *Driver) children(key string, depth int) ([]*simplestorage.StorageObject, error) {
	dir := d.fullPath(key)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return []*simplestorage.StorageObject{}, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, osError("get_children", key, err)
	}

	out := make([]*simplestorage.StorageObject, 0, len(entries))
	for _, e := range entries {
		if hidden(e.Name()) {
			continue
		}
		childKey := e.Name()
		if key != simplestorage.RootKey {
			childKey = key + simplestorage.Separator + e.Name()
		}
		obj, err := d.object("get_children", childKey)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
		if e.IsDir() && depth != 1 {
			next := depth - 1
			if depth <= 0 {
				next = 0
			}
			below, err := d.children(childKey, next)
			if err != nil {
				return nil, err
			}
			out = append(out, below...)
		}
	}
	return out, nil
}

// object builds the StorageObject for key from the filesystem and its
// sidecar.
func (d *Driver) object(op, key string) (*simplestorage.StorageObject, error) {
	if hidden(leaf(key)) {
		return nil, fail(simplestorage.ErrNotFound, op, key, nil)
	}
	info, err := d.stat(op, key)
	if err != nil {
		return nil, err
	}
	meta, err := readSidecar(d.sidecarPath(key, info.IsDir()))
	if err != nil {
		return nil, fail(simplestorage.ErrGeneric, op, key, err)
	}
	props, err := d.codec.DecodeProperties(meta)
	if err != nil {
		return nil, own(err)
	}

	baseType := simplestorage.BaseTypeFolder
	if !info.IsDir() {
		baseType = simplestorage.BaseTypeDocument
		contentType := meta[contentTypeEntry]
		if contentType == "" {
			contentType = simplestorage.MimeTypeOctetStream
		}
		props[simplestorage.PropContentLength] = info.Size()
		props[simplestorage.PropMimeType] = contentType
	}
	if _, ok := props[simplestorage.PropObjectTypeID]; !ok {
		props[simplestorage.PropObjectTypeID] = baseType
	}
	props[simplestorage.PropBaseTypeID] = baseType
	props[simplestorage.PropLastModification] = info.ModTime().UTC()
	props[simplestorage.PropName] = leaf(key)
	props[simplestorage.PropObjectID] = key
	props[simplestorage.PropPath] = simplestorage.ToPath(key)
	return &simplestorage.StorageObject{Key: key, Path: simplestorage.ToPath(key), Properties: props}, nil
}

// document stats key and rejects folders.
func (d *Driver) document(op, key string) (os.FileInfo, error) {
	if hidden(leaf(key)) {
		return nil, fail(simplestorage.ErrNotFound, op, key, nil)
	}
	info, err := d.stat(op, key)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fail(simplestorage.ErrInvalidArguments, op, key, errors.New("key is a folder"))
	}
	return info, nil
}

func (d *Driver) requireFolder(op, key string) error {
	info, err := d.stat(op, key)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fail(simplestorage.ErrInvalidArguments, op, key, errors.New("parent is not a folder"))
	}
	return nil
}

// move renames key to target within the same parent, carrying a file's
// sidecar along.
func (d *Driver) move(op, key, target string, isDir bool) error {
	if err := d.ensureAbsent(op, key, target); err != nil {
		return err
	}
	if err := os.Rename(d.fullPath(key), d.fullPath(target)); err != nil {
		return osError(op, key, err)
	}
	if !isDir {
		err := os.Rename(d.sidecarPath(key, false), d.sidecarPath(target, false))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fail(simplestorage.ErrGeneric, op, key, err)
		}
	}
	d.logger.Debug("Renamed", "source", key, "target", target)
	return nil
}

func (d *Driver) stat(op, key string) (os.FileInfo, error) {
	info, err := os.Stat(d.fullPath(key))
	if err != nil {
		return nil, osError(op, key, err)
	}
	return info, nil
}

func (d *Driver) childKey(op, parentPath, name string) (string, string, error) {
	parentKey, err := simplestorage.ToKey(parentPath)
	if err != nil {
		return "", "", own(err)
	}
	key, err := simplestorage.Child(parentKey, name)
	if err != nil {
		return "", "", own(err)
	}
	if hidden(name) {
		return "", "", fail(simplestorage.ErrInvalidArguments, op, key, fmt.Errorf("name %q is reserved", name))
	}
	if !d.contains(key) {
		return "", "", fail(simplestorage.ErrInvalidArguments, op, key, errors.New("key escapes the base directory"))
	}
	return parentKey, key, nil
}

// resolve canonicalizes a caller-supplied key or path and rejects keys
// whose file would land outside the base directory.
func (d *Driver) resolve(op, key string) (string, error) {
	k, err := simplestorage.ToKey(key)
	if err != nil {
		return "", own(err)
	}
	if !d.contains(k) {
		return "", fail(simplestorage.ErrInvalidArguments, op, k, errors.New("key escapes the base directory"))
	}
	return k, nil
}

// ensureAbsent fails when target is taken by anything but key itself.
func (d *Driver) ensureAbsent(op, key, target string) error {
	if strings.EqualFold(key, target) {
		return nil
	}
	if _, err := os.Lstat(d.fullPath(target)); err == nil {
		return fail(simplestorage.ErrConstraintViolated, op, target, fmt.Errorf("target %q already exists", simplestorage.ToPath(target)))
	}
	return nil
}

func (d *Driver) fullPath(key string) string {
	return filepath.Join(d.baseDir, filepath.FromSlash(key))
}

// contains reports whether the file of key stays under the base directory.
func (d *Driver) contains(key string) bool {
	rel, err := filepath.Rel(d.baseDir, d.fullPath(key))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func (d *Driver) sidecarPath(key string, isDir bool) string {
	p := d.fullPath(key)
	if isDir {
		return filepath.Join(p, folderSidecar)
	}
	return filepath.Join(filepath.Dir(p), "."+filepath.Base(p)+sidecarSuffix)
}

func readSidecar(path string) (map[string]string, error) {
	meta := map[string]string{}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return meta, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("corrupt sidecar %s: %w", path, err)
	}
	return meta, nil
}

func writeSidecar(path string, meta map[string]string) error {
	if len(meta) == 0 {
		return removeIfExists(path)
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func copyDir(src, dst string) error {
	if err := os.Mkdir(dst, 0755); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), tempSuffix) {
			continue
		}
		from, to := filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())
		if e.IsDir() {
			err = copyDir(from, to)
		} else {
			err = copyFile(from, to)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// hidden reports names the driver keeps for itself.
func hidden(name string) bool {
	return strings.HasPrefix(name, ".") && (strings.HasSuffix(name, sidecarSuffix) || strings.HasSuffix(name, tempSuffix))
}

func leaf(key string) string {
	return key[strings.LastIndex(key, simplestorage.Separator)+1:]
}

func fail(kind error, op, key string, err error) error {
	return simplestorage.NewStorageError(kind, backendName, op, key, err)
}

func osError(op, key string, err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fail(simplestorage.ErrNotFound, op, key, err)
	case errors.Is(err, os.ErrPermission):
		return fail(simplestorage.ErrUnauthorized, op, key, err)
	default:
		return fail(simplestorage.ErrGeneric, op, key, err)
	}
}

// own stamps the backend name on errors produced by the shared codecs.
func own(err error) error {
	var se *simplestorage.StorageError
	if errors.As(err, &se) && se.Backend == "" {
		se.Backend = backendName
	}
	return err
}
