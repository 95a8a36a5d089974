package simplestorage

import (
	"fmt"
)

// DefaultNameCacheSize bounds the encoded property name cache.
const DefaultNameCacheSize = 256

// Entity is a domain value that can be stored as a document. Its storage
// shape comes from the TypeDescriptor registered under StorageTypeID.
type Entity interface {
	StorageTypeID() string
}

// PropertyDescriptor extracts one property from an entity.
type PropertyDescriptor struct {
	Name  string
	Value func(Entity) any
}

// TypeDescriptor is the static storage shape of an entity type.
type TypeDescriptor struct {
	ID         string
	TypeName   string
	Tags       []string
	Properties []PropertyDescriptor
}

// Registry maps type identifiers to descriptors. It is immutable once built
// and owns the bounded name cache of the metadata codec it hands out.
type Registry struct {
	types map[string]TypeDescriptor
	codec *MetadataCodec
}

type registryConfig struct {
	tag       string
	cacheSize int
}

// RegistryOption configures NewRegistry.
type RegistryOption func(*registryConfig)

// WithMetadataTag sets the namespace tag for encoded property names.
func WithMetadataTag(tag string) RegistryOption {
	return func(c *registryConfig) { c.tag = tag }
}

// WithNameCacheSize sets the name cache bound. Zero disables caching.
func WithNameCacheSize(n int) RegistryOption {
	return func(c *registryConfig) { c.cacheSize = n }
}

// NewRegistry validates descriptors and freezes them.
func NewRegistry(descriptors []TypeDescriptor, opts ...RegistryOption) (*Registry, error) {
	cfg := registryConfig{tag: DefaultMetadataTag, cacheSize: DefaultNameCacheSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.cacheSize < 0 {
		return nil, newError(ErrInvalidArguments, "new_registry", "", fmt.Errorf("negative cache size %d", cfg.cacheSize))
	}

	types := make(map[string]TypeDescriptor, len(descriptors))
	for _, d := range descriptors {
		if d.ID == "" {
			return nil, newError(ErrInvalidArguments, "new_registry", "", fmt.Errorf("descriptor without id"))
		}
		if _, dup := types[d.ID]; dup {
			return nil, newError(ErrInvalidArguments, "new_registry", d.ID, fmt.Errorf("duplicate descriptor"))
		}
		for _, p := range d.Properties {
			if p.Name == "" || p.Value == nil {
				return nil, newError(ErrInvalidArguments, "new_registry", d.ID, fmt.Errorf("incomplete property descriptor %q", p.Name))
			}
			if IsDerivedProperty(p.Name) && p.Name != PropName {
				return nil, newError(ErrInvalidArguments, "new_registry", d.ID, fmt.Errorf("property %q is computed by the store", p.Name))
			}
		}
		if d.TypeName == "" {
			d.TypeName = BaseTypeDocument
		}
		d.Tags = append([]string(nil), d.Tags...)
		d.Properties = append([]PropertyDescriptor(nil), d.Properties...)
		types[d.ID] = d
	}

	codec, err := newCachedCodec(cfg.tag, cfg.cacheSize)
	if err != nil {
		return nil, err
	}
	return &Registry{types: types, codec: codec}, nil
}

// Codec returns the metadata codec bound to the registry's name cache.
func (r *Registry) Codec() *MetadataCodec {
	return r.codec
}

// Lookup returns the descriptor registered under id.
func (r *Registry) Lookup(id string) (TypeDescriptor, bool) {
	d, ok := r.types[id]
	if !ok {
		return TypeDescriptor{}, false
	}
	d.Tags = append([]string(nil), d.Tags...)
	return d, true
}

// Describe renders an entity into a property map carrying its type name
// and tags.
func (r *Registry) Describe(e Entity) (Properties, error) {
	if e == nil {
		return nil, newError(ErrInvalidArguments, "describe", "", fmt.Errorf("nil entity"))
	}
	d, ok := r.types[e.StorageTypeID()]
	if !ok {
		return nil, newError(ErrInvalidArguments, "describe", e.StorageTypeID(), fmt.Errorf("type is not registered"))
	}
	props := Properties{PropObjectTypeID: d.TypeName}
	if len(d.Tags) > 0 {
		props[PropTags] = append([]string(nil), d.Tags...)
	}
	for _, p := range d.Properties {
		if v := p.Value(e); v != nil {
			props[p.Name] = v
		}
	}
	return props, nil
}
