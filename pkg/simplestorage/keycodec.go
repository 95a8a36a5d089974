package simplestorage

import (
	"fmt"
	"strings"
)

// Separator delimits path segments in paths and keys.
const Separator = "/"

// RootKey is the key of the root folder.
const RootKey = ""

// ToKey canonicalizes a hierarchical path into a flat key. One leading and
// one trailing separator are stripped. Empty, "." and ".." segments are
// rejected. A key is accepted as well and comes back unchanged, so ToKey
// also canonicalizes caller-supplied keys.
func ToKey(path string) (string, error) {
	if IsRoot(path) {
		return RootKey, nil
	}
	key := strings.TrimPrefix(path, Separator)
	key = strings.TrimSuffix(key, Separator)
	for _, seg := range strings.Split(key, Separator) {
		if seg == "" {
			return "", newError(ErrInvalidArguments, "to_key", path, fmt.Errorf("empty segment in path %q", path))
		}
		if isDotSegment(seg) {
			return "", newError(ErrInvalidArguments, "to_key", path, fmt.Errorf("relative segment %q in path %q", seg, path))
		}
	}
	return key, nil
}

// ToPath renders a key as an absolute path.
func ToPath(key string) string {
	return Separator + key
}

// IsRoot reports whether path addresses the root folder.
func IsRoot(path string) bool {
	return path == "" || path == Separator
}

// Child builds the key of name under parentKey. A name containing the
// separator is rejected.
func Child(parentKey, name string) (string, error) {
	if name == "" {
		return "", newError(ErrInvalidArguments, "child", parentKey, fmt.Errorf("empty name"))
	}
	if strings.Contains(name, Separator) {
		return "", newError(ErrInvalidArguments, "child", parentKey, fmt.Errorf("name %q contains %q", name, Separator))
	}
	if isDotSegment(name) {
		return "", newError(ErrInvalidArguments, "child", parentKey, fmt.Errorf("name %q is reserved", name))
	}
	if parentKey == RootKey {
		return name, nil
	}
	return parentKey + Separator + name, nil
}

// ParentKey returns the key of the folder holding key.
func ParentKey(key string) string {
	if i := strings.LastIndex(key, Separator); i >= 0 {
		return key[:i]
	}
	return RootKey
}

func isDotSegment(seg string) bool {
	return seg == "." || seg == ".."
}

func leafName(key string) string {
	if i := strings.LastIndex(key, Separator); i >= 0 {
		return key[i+1:]
	}
	return key
}

// listPrefix returns the list-by-prefix argument for the children of key.
func listPrefix(key string) string {
	if key == RootKey {
		return ""
	}
	return key + Separator
}
