package fingerprint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/hem-bad/dedupscan/internal/docstore"
)

// Key is a fixed-width document fingerprint in hex form.
type Key string

// Extractor computes fingerprints over a fixed, ordered field list.
type Extractor struct {
	fields []string
	hasher Hasher
}

// NewExtractor creates an extractor for the given ordered field list.
// The field list must be non-empty; an empty list would fingerprint every
// document identically.
func NewExtractor(fields []string, hasher Hasher) (*Extractor, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("fingerprint field list must not be empty")
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher must not be nil")
	}
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f == "" {
			return nil, fmt.Errorf("fingerprint field name must not be empty")
		}
		if seen[f] {
			return nil, fmt.Errorf("duplicate fingerprint field %q", f)
		}
		seen[f] = true
	}
	return &Extractor{fields: append([]string(nil), fields...), hasher: hasher}, nil
}

// Fields returns the configured field list in order.
func (e *Extractor) Fields() []string {
	return append([]string(nil), e.fields...)
}

// Key computes the fingerprint for one document.
func (e *Extractor) Key(doc *docstore.Document) Key {
	var buf bytes.Buffer
	for _, field := range e.fields {
		v, ok := doc.Fields[field]
		if !ok || v == nil {
			// Absent marker. '-' cannot start a length prefix, so this
			// never collides with a present value.
			buf.WriteByte('-')
			continue
		}
		s := canonical(v)
		buf.WriteString(strconv.Itoa(len(s)))
		buf.WriteByte(':')
		buf.WriteString(s)
	}
	return e.hasher.Sum(buf.Bytes())
}

// canonical coerces a field value to a stable string form. Values arrive
// as JSON-decoded Go values, so the cases cover the JSON type universe
// plus the integer types an in-memory store may hand us directly.
func canonical(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		if x {
			return "true"
		}
		return "false"
	case float64:
		// Shortest round-trip form: 1854.60 and 1854.6 decode to the
		// same float64 and therefore serialize identically.
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case int:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return strconv.FormatFloat(f, 'g', -1, 64)
		}
		return x.String()
	default:
		// Nested structures: canonical JSON (map keys sorted by the
		// encoder) keeps equal values byte-identical.
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprintf("%v", x)
		}
		return string(b)
	}
}
