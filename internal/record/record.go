// Package record defines the JSON document that is synchronized between
// the in-memory mapping, the remote hash and the local backup file.
package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// CrashedKey is the reserved backup key marking a live session that ended
// without a clean remote write.
const CrashedKey = "crashed"

// ErrUnserializable is returned when a value cannot be encoded as JSON.
var ErrUnserializable = errors.New("value is not JSON-serializable")

// Record is a schemaless JSON object.
type Record map[string]any

// New returns an empty record.
func New() Record {
	return Record{}
}

// Parse decodes a JSON object. A JSON null decodes to an empty record.
func Parse(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse record: %w", err)
	}
	if r == nil {
		r = Record{}
	}
	return r, nil
}

// Marshal encodes the record compactly. Map keys are emitted in sorted
// order, which makes the output canonical.
func (r Record) Marshal() ([]byte, error) {
	if r == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(map[string]any(r))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnserializable, err)
	}
	return data, nil
}

// Clone returns a deep copy. Values are expected to be normalized (see
// Normalize) so only maps and slices need copying.
func (r Record) Clone() Record {
	if r == nil {
		return Record{}
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies a normalized JSON value.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = CloneValue(vv)
		}
		return m
	case Record:
		return map[string]any(t.Clone())
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = CloneValue(vv)
		}
		return s
	default:
		return v
	}
}

// Equal reports structural equality by comparing canonical encodings.
// Records that cannot be encoded are never equal.
func Equal(a, b Record) bool {
	ea, err := a.Marshal()
	if err != nil {
		return false
	}
	eb, err := b.Marshal()
	if err != nil {
		return false
	}
	return bytes.Equal(ea, eb)
}

// Keys returns the record keys in sorted order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Normalize round-trips v through JSON so in-memory values have the same
// shape a reload would produce.
func Normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnserializable, err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnserializable, err)
	}
	return out, nil
}

// Crashed reports whether the record carries crashed: true.
func (r Record) Crashed() bool {
	v, ok := r[CrashedKey].(bool)
	return ok && v
}

// WithCrashed returns a copy of r carrying crashed: true.
func (r Record) WithCrashed() Record {
	out := r.Clone()
	out[CrashedKey] = true
	return out
}

// WithoutCrashed returns a copy of r with the crashed marker removed.
func (r Record) WithoutCrashed() Record {
	out := r.Clone()
	delete(out, CrashedKey)
	return out
}
