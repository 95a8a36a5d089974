package simplestorage

import (
	"fmt"
)

// EncodeProperties turns a property map into backend metadata. Derived
// properties and nil values are skipped; PropTags is encoded as a list.
func (c *MetadataCodec) EncodeProperties(props Properties) (map[string]string, error) {
	out := make(map[string]string, len(props))
	for name, value := range props {
		if value == nil || IsDerivedProperty(name) {
			continue
		}
		if name == PropTags {
			tags, err := toTagList(value)
			if err != nil {
				return nil, codecError("encode_properties", name, err)
			}
			out[c.EncodeKey(name)] = c.EncodeList(tags)
			continue
		}
		token, err := c.EncodeScalar(value)
		if err != nil {
			return nil, err
		}
		out[c.EncodeKey(name)] = token
	}
	return out, nil
}

// DecodeProperties reverses EncodeProperties. Metadata entries not carrying
// the codec tag belong to the backend and are ignored.
func (c *MetadataCodec) DecodeProperties(meta map[string]string) (Properties, error) {
	out := make(Properties, len(meta))
	for token, value := range meta {
		if !c.Owns(token) {
			continue
		}
		name, err := c.DecodeKey(token)
		if err != nil {
			return nil, err
		}
		if name == PropTags {
			tags, err := c.DecodeList(value)
			if err != nil {
				return nil, err
			}
			out[name] = tags
			continue
		}
		v, err := c.DecodeScalar(value)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

// MetadataSize is the byte count a backend charges for meta.
func MetadataSize(meta map[string]string) int {
	n := 0
	for k, v := range meta {
		n += len(k) + len(v)
	}
	return n
}

func toTagList(value any) ([]string, error) {
	switch v := value.(type) {
	case []string:
		return v, nil
	case string:
		return []string{v}, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("tag %v is %T, not string", item, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("tags must be a string list, got %T", value)
	}
}

// Merge overlays update on p. A nil value in update removes the property.
// The result never aliases either map.
func (p Properties) Merge(update Properties) Properties {
	out := p.Clone()
	for k, v := range update {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}
