package simplestorage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
)

var (
	filenameReplacer   = newNameReplacer("_")
	folderNameReplacer = newNameReplacer("'")
)

func newNameReplacer(with string) *strings.Replacer {
	var pairs []string
	for _, c := range []string{`\`, "/", ":", "@", "(", ")", "&", "<", ">", "?", `"`} {
		pairs = append(pairs, c, with)
	}
	return strings.NewReplacer(pairs...)
}

// SanitizeFilename trims name and replaces characters that break paths or
// backend names with an underscore.
func SanitizeFilename(name string) string {
	return filenameReplacer.Replace(strings.TrimSpace(name))
}

// SanitizeFolderName is SanitizeFilename for folders, which use an
// apostrophe as replacement.
func SanitizeFolderName(name string) string {
	return folderNameReplacer.Replace(strings.TrimSpace(name))
}

// TitledProperties returns title and description properties together with
// the titled tag. Empty values are left out.
func TitledProperties(title, description string) Properties {
	props := Properties{}
	if title == "" && description == "" {
		return props
	}
	props[PropTags] = []string{TagTitled}
	if title != "" {
		props[PropTitle] = title
	}
	if description != "" {
		props[PropDescription] = description
	}
	return props
}

func (s *service) EnsureFolder(ctx context.Context, path string) (*StorageObject, error) {
	key, err := ToKey(path)
	if err != nil {
		return nil, err
	}
	obj, err := s.GetObject(ctx, RootKey)
	if err != nil {
		return nil, err
	}
	if key == RootKey {
		return obj, nil
	}

	current := RootKey
	for _, seg := range strings.Split(key, Separator) {
		obj, err = s.CreateFolderIfNotPresent(ctx, ToPath(current), seg, nil)
		if err != nil {
			return nil, err
		}
		current = obj.Key
	}
	return obj, nil
}

func (s *service) CreateFolderIfNotPresent(ctx context.Context, parentPath, name string, props Properties) (*StorageObject, error) {
	parentKey, err := ToKey(parentPath)
	if err != nil {
		return nil, err
	}
	key, err := Child(parentKey, name)
	if err != nil {
		return nil, err
	}

	obj, err := s.GetObject(ctx, key)
	if err == nil {
		if !obj.IsFolder() {
			return nil, newError(ErrInvalidArguments, "create_folder_if_not_present", key, errors.New("a document exists at this path"))
		}
		return obj, nil
	}
	if KindOf(err) != ErrNotFound {
		return nil, err
	}

	obj, err = s.CreateFolder(ctx, parentPath, name, props)
	if KindOf(err) == ErrConstraintViolated {
		// created concurrently
		return s.GetObject(ctx, key)
	}
	return obj, err
}

func (s *service) RestoreDocument(ctx context.Context, reader io.Reader, contentType string, props Properties, parentPath string) (*StorageObject, error) {
	name, _ := props[PropName].(string)
	if name == "" {
		return s.CreateDocument(ctx, reader, contentType, props, parentPath)
	}
	parentKey, err := ToKey(parentPath)
	if err != nil {
		return nil, err
	}
	key, err := Child(parentKey, name)
	if err != nil {
		return nil, err
	}

	existing, err := s.GetObject(ctx, key)
	switch {
	case err == nil && existing.IsFolder():
		return nil, newError(ErrInvalidArguments, "restore_document", key, errors.New("a folder exists at this path"))
	case err == nil:
		s.logger.Debug("Restoring over existing document", "key", key)
		return s.UpdateStream(ctx, key, reader, contentType)
	case KindOf(err) == ErrNotFound:
		return s.CreateDocument(ctx, reader, contentType, props, parentPath)
	default:
		return nil, err
	}
}

func (s *service) StoreEntity(ctx context.Context, entity Entity, reader io.Reader, contentType, name, parentPath string) (*StorageObject, error) {
	props, err := s.registry.Describe(entity)
	if err != nil {
		return nil, err
	}
	if name != "" {
		props[PropName] = SanitizeFilename(name)
	}
	return s.CreateDocument(ctx, reader, contentType, props, parentPath)
}

func (s *service) UpdateEntityProperties(ctx context.Context, obj *StorageObject, entity Entity) (*StorageObject, error) {
	props, err := s.registry.Describe(entity)
	if err != nil {
		return nil, err
	}
	if obj != nil {
		if tags := mergeTags(obj.Tags(), props[PropTags]); len(tags) > 0 {
			props[PropTags] = tags
		}
	}
	return s.UpdateProperties(ctx, obj, props)
}

func (s *service) HasTag(obj *StorageObject, tag string) bool {
	return obj != nil && slices.Contains(obj.Tags(), tag)
}

func (s *service) AddTag(ctx context.Context, obj *StorageObject, tag string) (*StorageObject, error) {
	if obj == nil {
		return nil, newError(ErrInvalidArguments, "add_tag", "", errors.New("nil object"))
	}
	if tag == "" {
		return nil, newError(ErrInvalidArguments, "add_tag", obj.Key, fmt.Errorf("empty tag"))
	}
	if s.HasTag(obj, tag) {
		return obj, nil
	}
	tags := append(slices.Clone(obj.Tags()), tag)
	return s.UpdateProperties(ctx, obj, Properties{PropTags: tags})
}

// mergeTags keeps existing tags first and appends new ones in order.
func mergeTags(existing []string, extra any) []string {
	out := slices.Clone(existing)
	more, _ := extra.([]string)
	for _, t := range more {
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}
