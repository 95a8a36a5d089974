package simplestorage

import (
	"crypto/md5"
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMetadataTag prefixes every encoded property name.
const DefaultMetadataTag = "sp_"

const (
	fingerprintLen = md5.Size * 2
	tokenSep       = "|"
	listSep        = ","

	intPrefix  = "i."
	boolPrefix = "b."
	timePrefix = "t."
)

// Names use lower-case base32 so they survive backends that fold metadata
// keys to lower case and ones that only accept identifier characters.
var nameEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

var valueEncoding = base64.RawURLEncoding

// MetadataCodec packs property names and values into the string metadata
// slot of a flat backend.
type MetadataCodec struct {
	tag     string
	encoded *lru.Cache[string, string]
	decoded *lru.Cache[string, string]
}

// NewMetadataCodec returns a codec without a name cache. An empty tag
// selects DefaultMetadataTag.
func NewMetadataCodec(tag string) *MetadataCodec {
	if tag == "" {
		tag = DefaultMetadataTag
	}
	return &MetadataCodec{tag: strings.ToLower(tag)}
}

func newCachedCodec(tag string, size int) (*MetadataCodec, error) {
	c := NewMetadataCodec(tag)
	if size <= 0 {
		return c, nil
	}
	var err error
	if c.encoded, err = lru.New[string, string](size); err != nil {
		return nil, err
	}
	if c.decoded, err = lru.New[string, string](size); err != nil {
		return nil, err
	}
	return c, nil
}

// Tag returns the namespace tag.
func (c *MetadataCodec) Tag() string {
	return c.tag
}

// EncodeKey encodes a property name.
func (c *MetadataCodec) EncodeKey(name string) string {
	if c.encoded != nil {
		if token, ok := c.encoded.Get(name); ok {
			return token
		}
	}
	token := c.tag + strings.ToLower(nameEncoding.EncodeToString([]byte(name)))
	if c.encoded != nil {
		c.encoded.Add(name, token)
	}
	return token
}

// DecodeKey reverses EncodeKey.
func (c *MetadataCodec) DecodeKey(token string) (string, error) {
	if c.decoded != nil {
		if name, ok := c.decoded.Get(token); ok {
			return name, nil
		}
	}
	if !c.Owns(token) {
		return "", codecError("decode_key", token, fmt.Errorf("missing tag %q", c.tag))
	}
	raw, err := nameEncoding.DecodeString(strings.ToUpper(token[len(c.tag):]))
	if err != nil {
		return "", codecError("decode_key", token, err)
	}
	name := string(raw)
	if c.decoded != nil {
		c.decoded.Add(token, name)
	}
	return name, nil
}

// Owns reports whether a metadata name was produced by this codec.
func (c *MetadataCodec) Owns(token string) bool {
	return len(token) >= len(c.tag) && strings.EqualFold(token[:len(c.tag)], c.tag)
}

// EncodeScalar encodes a string, integer, bool or time value. Every integer
// width comes back from DecodeScalar as int64, so an int or int32 round-trips
// by value but not by Go type.
func (c *MetadataCodec) EncodeScalar(value any) (string, error) {
	var raw, prefix string
	switch v := value.(type) {
	case string:
		raw = v
	case int64:
		raw, prefix = strconv.FormatInt(v, 10), intPrefix
	case int:
		raw, prefix = strconv.FormatInt(int64(v), 10), intPrefix
	case int32:
		raw, prefix = strconv.FormatInt(int64(v), 10), intPrefix
	case bool:
		raw, prefix = strconv.FormatBool(v), boolPrefix
	case time.Time:
		raw, prefix = v.UTC().Format(time.RFC3339Nano), timePrefix
	default:
		return "", codecError("encode_scalar", fmt.Sprintf("%T", value), fmt.Errorf("unsupported value type %T", value))
	}
	return fingerprint(raw) + tokenSep + prefix + valueEncoding.EncodeToString([]byte(raw)), nil
}

// DecodeScalar reverses EncodeScalar. Integers decode as int64 and times
// in UTC.
func (c *MetadataCodec) DecodeScalar(token string) (any, error) {
	payload, err := splitToken(token)
	if err != nil {
		return nil, codecError("decode_scalar", token, err)
	}
	kind := ""
	for _, p := range []string{intPrefix, boolPrefix, timePrefix} {
		if strings.HasPrefix(payload, p) {
			kind, payload = p, payload[len(p):]
			break
		}
	}
	raw, err := valueEncoding.DecodeString(payload)
	if err != nil {
		return nil, codecError("decode_scalar", token, err)
	}
	s := string(raw)
	var v any
	switch kind {
	case intPrefix:
		v, err = strconv.ParseInt(s, 10, 64)
	case boolPrefix:
		v, err = strconv.ParseBool(s)
	case timePrefix:
		v, err = time.Parse(time.RFC3339Nano, s)
	default:
		v = s
	}
	if err != nil {
		return nil, codecError("decode_scalar", token, err)
	}
	return v, nil
}

// EncodeList encodes an ordered list of strings. Each element is written as
// fingerprint|payload and elements are joined by a comma.
func (c *MetadataCodec) EncodeList(values []string) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fingerprint(v) + tokenSep + valueEncoding.EncodeToString([]byte(v))
	}
	return strings.Join(parts, listSep)
}

// DecodeList reverses EncodeList. Fingerprints are skipped, not verified.
func (c *MetadataCodec) DecodeList(token string) ([]string, error) {
	if token == "" {
		return []string{}, nil
	}
	parts := strings.Split(token, listSep)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		payload, err := splitToken(part)
		if err != nil {
			return nil, codecError("decode_list", token, err)
		}
		raw, err := valueEncoding.DecodeString(payload)
		if err != nil {
			return nil, codecError("decode_list", token, err)
		}
		out = append(out, string(raw))
	}
	return out, nil
}

func fingerprint(raw string) string {
	sum := md5.Sum([]byte(raw))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// splitToken checks the fingerprint|payload shape and returns the payload.
func splitToken(token string) (string, error) {
	fp, payload, ok := strings.Cut(token, tokenSep)
	if !ok {
		return "", fmt.Errorf("token %q has no %q", token, tokenSep)
	}
	if len(fp) != fingerprintLen {
		return "", fmt.Errorf("fingerprint %q has length %d", fp, len(fp))
	}
	if _, err := hex.DecodeString(fp); err != nil {
		return "", fmt.Errorf("fingerprint %q is not hex", fp)
	}
	return payload, nil
}

func codecError(op, key string, err error) error {
	return newError(ErrGeneric, op, key, err)
}
