package fingerprint

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hem-bad/dedupscan/internal/docstore"
)

func makeDoc(id string, fields map[string]any) *docstore.Document {
	return &docstore.Document{ID: id, Timestamp: time.Now(), Fields: fields}
}

func mustExtractor(t *testing.T, fields ...string) *Extractor {
	t.Helper()
	h, err := NewHasher(AlgSHA256)
	require.NoError(t, err)
	e, err := NewExtractor(fields, h)
	require.NoError(t, err)
	return e
}

func TestKeyEqualOnConfiguredFields(t *testing.T) {
	e := mustExtractor(t, "CAC", "FTSE", "SMI")

	a := makeDoc("A", map[string]any{"CAC": 1854.6, "FTSE": 2827.5, "SMI": 2061.7, "host": "x1"})
	b := makeDoc("B", map[string]any{"CAC": 1854.6, "FTSE": 2827.5, "SMI": 2061.7, "host": "x2"})
	c := makeDoc("C", map[string]any{"CAC": 1900.0, "FTSE": 2827.5, "SMI": 2061.7})

	// Identical configured fields produce identical keys regardless of
	// differences on unconfigured fields.
	assert.Equal(t, e.Key(a), e.Key(b))
	assert.NotEqual(t, e.Key(a), e.Key(c))
}

func TestKeyFloatRepresentation(t *testing.T) {
	e := mustExtractor(t, "CAC")

	// "1854.60" and "1854.6" decode to the same float64 and must
	// fingerprint identically.
	var f1, f2 map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"CAC": 1854.60}`), &f1))
	require.NoError(t, json.Unmarshal([]byte(`{"CAC": 1854.6}`), &f2))

	assert.Equal(t, e.Key(makeDoc("A", f1)), e.Key(makeDoc("B", f2)))
}

func TestKeyAbsentFieldIsNotEmptyString(t *testing.T) {
	e := mustExtractor(t, "CAC", "FTSE")

	missing := makeDoc("A", map[string]any{"CAC": 1.0})
	empty := makeDoc("B", map[string]any{"CAC": 1.0, "FTSE": ""})
	null := makeDoc("C", map[string]any{"CAC": 1.0, "FTSE": nil})

	assert.NotEqual(t, e.Key(missing), e.Key(empty),
		"absent field must not collide with empty string")
	assert.Equal(t, e.Key(missing), e.Key(null),
		"explicit null and absent are both the absent sentinel")
}

func TestKeyConcatenationUnambiguous(t *testing.T) {
	e := mustExtractor(t, "a", "b")

	// ("ab","c") vs ("a","bc"): same concatenated bytes, different values.
	d1 := makeDoc("A", map[string]any{"a": "ab", "b": "c"})
	d2 := makeDoc("B", map[string]any{"a": "a", "b": "bc"})
	assert.NotEqual(t, e.Key(d1), e.Key(d2))

	// Values containing the length-prefix syntax still cannot collide.
	d3 := makeDoc("C", map[string]any{"a": "1:x", "b": "y"})
	d4 := makeDoc("D", map[string]any{"a": "1:x" + "1:y", "b": ""})
	assert.NotEqual(t, e.Key(d3), e.Key(d4))
}

func TestKeyFieldOrderMatters(t *testing.T) {
	h, err := NewHasher(AlgSHA256)
	require.NoError(t, err)
	e1, err := NewExtractor([]string{"a", "b"}, h)
	require.NoError(t, err)
	e2, err := NewExtractor([]string{"b", "a"}, h)
	require.NoError(t, err)

	d := makeDoc("A", map[string]any{"a": "x", "b": "y"})
	assert.NotEqual(t, e1.Key(d), e2.Key(d))
}

func TestNewExtractorValidation(t *testing.T) {
	h, err := NewHasher(AlgSHA256)
	require.NoError(t, err)

	tests := []struct {
		name   string
		fields []string
	}{
		{"empty list", nil},
		{"empty field name", []string{"a", ""}},
		{"duplicate field", []string{"a", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewExtractor(tt.fields, h)
			assert.Error(t, err)
		})
	}
}

func TestHashers(t *testing.T) {
	tests := []struct {
		name    string
		hexLen  int
	}{
		{AlgSHA256, 64},
		{AlgSHA1, 40},
		{AlgFNV128a, 32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := NewHasher(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.name, h.Name())

			key := h.Sum([]byte("payload"))
			assert.Len(t, string(key), tt.hexLen)
			assert.Equal(t, key, h.Sum([]byte("payload")), "hashing must be deterministic")
			assert.NotEqual(t, key, h.Sum([]byte("payloae")))
		})
	}
}

func TestNewHasherDefaultsAndErrors(t *testing.T) {
	h, err := NewHasher("")
	require.NoError(t, err)
	assert.Equal(t, AlgSHA256, h.Name())

	_, err = NewHasher("crc32")
	assert.Error(t, err)
}
