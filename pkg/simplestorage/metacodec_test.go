package simplestorage

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataCodec_Key(t *testing.T) {
	c := NewMetadataCodec("")

	token := c.EncodeKey("foo_pippo:bar-baz")
	assert.Equal(t, "sp_mzxw6x3qnfyha3z2mjqxellcmf5a", token)

	for _, name := range []string{"foo_pippo:bar-baz", PropTags, "cm:title", "ünïcødé name", ""} {
		t.Run(name, func(t *testing.T) {
			decoded, err := c.DecodeKey(c.EncodeKey(name))
			require.NoError(t, err)
			assert.Equal(t, name, decoded)
		})
	}
}

func TestMetadataCodec_KeySurvivesCaseFolding(t *testing.T) {
	c := NewMetadataCodec("")
	token := c.EncodeKey(PropTitle)
	decoded, err := c.DecodeKey(token)
	require.NoError(t, err)
	assert.Equal(t, PropTitle, decoded)

	upper, err := c.DecodeKey("SP_" + token[len("sp_"):])
	require.NoError(t, err)
	assert.Equal(t, PropTitle, upper)
}

func TestMetadataCodec_DecodeKeyRejectsForeignNames(t *testing.T) {
	c := NewMetadataCodec("")
	_, err := c.DecodeKey("content-type")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGeneric))

	_, err = c.DecodeKey("sp_!!!")
	assert.True(t, errors.Is(err, ErrGeneric))
}

func TestMetadataCodec_Scalar(t *testing.T) {
	c := NewMetadataCodec("")

	token, err := c.EncodeScalar("EPFL | École polytechnique fédérale de Lausanne: home")
	require.NoError(t, err)
	assert.Equal(t, "CE7A46462067A4959A06E3CC010761BD|RVBGTCB8IMOJY29sZSBwb2x5dGVjaG5pcXVlIGbDqWTDqXJhbGUgZGUgTGF1c2FubmU6IGhvbWU", token)

	ts := time.Date(2024, 3, 1, 10, 30, 0, 123, time.UTC)
	values := []any{"plain", "", "a,b|c", int64(42), int64(-7), true, false, ts}
	for _, v := range values {
		token, err := c.EncodeScalar(v)
		require.NoError(t, err)
		decoded, err := c.DecodeScalar(token)
		require.NoError(t, err)
		assert.Equal(t, v, decoded)
	}

	token, err = c.EncodeScalar(int64(42))
	require.NoError(t, err)
	assert.Equal(t, "A1D0C6E83F027327D8461063F4AC58A6|i.NDI", token)
}

func TestMetadataCodec_ScalarNormalizesIntegers(t *testing.T) {
	c := NewMetadataCodec("")
	token, err := c.EncodeScalar(7)
	require.NoError(t, err)
	decoded, err := c.DecodeScalar(token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), decoded)
}

func TestMetadataCodec_ScalarRejectsUnsupported(t *testing.T) {
	c := NewMetadataCodec("")
	_, err := c.EncodeScalar(struct{}{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGeneric))

	_, err = c.EncodeScalar(3.14)
	assert.Error(t, err)
}

func TestMetadataCodec_MalformedTokens(t *testing.T) {
	c := NewMetadataCodec("")
	for _, token := range []string{
		"no-separator",
		"ABC|cGF5bG9hZA",
		"ZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZ|cGF5bG9hZA",
		"CE7A46462067A4959A06E3CC010761BD|not base64!",
	} {
		t.Run(token, func(t *testing.T) {
			_, err := c.DecodeScalar(token)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrGeneric))

			_, err = c.DecodeList(token)
			assert.True(t, errors.Is(err, ErrGeneric))
		})
	}
}

func TestMetadataCodec_List(t *testing.T) {
	c := NewMetadataCodec("")

	encoded := c.EncodeList([]string{"Stig Tøfting", "Jesper Grønkjær"})
	assert.Equal(t, "C1464EC8021E90955A3494D72A4D43E3|U3RpZyBUw7hmdGluZw,32CA428ED8CF01AFC14383134BCF3135|SmVzcGVyIEdyw7hua2rDpnI", encoded)

	decoded, err := c.DecodeList(c.EncodeList([]string{"Alice", "Bó"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice", "Bó"}, decoded)

	empty, err := c.DecodeList(c.EncodeList(nil))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMetadataCodec_ListFingerprintIsNotVerified(t *testing.T) {
	c := NewMetadataCodec("")
	decoded, err := c.DecodeList("00000000000000000000000000000000|QWxpY2U")
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice"}, decoded)
}

func TestMetadataCodec_Properties(t *testing.T) {
	c := NewMetadataCodec("")
	props := Properties{
		PropName:          "ignored.txt",
		PropContentLength: int64(10),
		PropTitle:         "Quarterly report",
		PropAuthor:        "Bó",
		PropTags:          []string{TagTitled, "P:custom"},
		"custom:count":    int64(3),
		"custom:nil":      nil,
	}
	meta, err := c.EncodeProperties(props)
	require.NoError(t, err)
	assert.Len(t, meta, 4)
	for k := range meta {
		assert.True(t, c.Owns(k))
	}

	meta["content-type"] = "text/plain"
	decoded, err := c.DecodeProperties(meta)
	require.NoError(t, err)
	assert.Equal(t, Properties{
		PropTitle:      "Quarterly report",
		PropAuthor:     "Bó",
		PropTags:       []string{TagTitled, "P:custom"},
		"custom:count": int64(3),
	}, decoded)
}

func TestMetadataCodec_CachedNames(t *testing.T) {
	c, err := newCachedCodec("x_", 2)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		for _, name := range []string{"a", "b", "c"} {
			name2, err := c.DecodeKey(c.EncodeKey(name))
			require.NoError(t, err)
			assert.Equal(t, name, name2)
		}
	}
	assert.LessOrEqual(t, c.encoded.Len(), 2)
	assert.LessOrEqual(t, c.decoded.Len(), 2)
}
