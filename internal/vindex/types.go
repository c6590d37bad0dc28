package vindex

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Field is one metadata entry.
type Field struct {
	Key   string
	Value string
}

// Metadata is an ordered key/value list attached to a chunk.
//
// It encodes as a JSON object whose keys keep their insertion order.
type Metadata []Field

// Get returns the value stored under key.
func (m Metadata) Get(key string) (string, bool) {
	for _, f := range m {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Set replaces the value for key, or appends it when absent.
func (m Metadata) Set(key, value string) Metadata {
	for i := range m {
		if m[i].Key == key {
			m[i].Value = value
			return m
		}
	}
	return append(m, Field{Key: key, Value: value})
}

// Clone returns an independent copy.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	copy(out, m)
	return out
}

// Validate rejects blank and duplicate keys.
func (m Metadata) Validate() error {
	seen := make(map[string]struct{}, len(m))
	for _, f := range m {
		k := strings.TrimSpace(f.Key)
		if k == "" {
			return fmt.Errorf("metadata key is empty")
		}
		if _, dup := seen[k]; dup {
			return fmt.Errorf("duplicate metadata key %q", k)
		}
		seen[k] = struct{}{}
	}
	return nil
}

// MarshalJSON writes m as an object, preserving order.
func (m Metadata) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object of scalar values, preserving order.
// Numbers and booleans are kept in their literal form; nested values are rejected.
func (m *Metadata) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*m = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("metadata must be a JSON object")
	}
	out := Metadata{}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := kt.(string)
		vt, err := dec.Token()
		if err != nil {
			return err
		}
		var val string
		switch v := vt.(type) {
		case string:
			val = v
		case json.Number:
			val = v.String()
		case bool:
			val = fmt.Sprintf("%t", v)
		case nil:
			val = ""
		default:
			return fmt.Errorf("metadata value for %q must be a scalar", key)
		}
		out = append(out, Field{Key: key, Value: val})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*m = out
	return nil
}

// Chunk is the metadata stored for one index row.
type Chunk struct {
	ID       string   `json:"id"`
	SourceID string   `json:"source_id"`
	Seq      int      `json:"seq"`
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata,omitempty"`
}

// Hit is one search result.
type Hit struct {
	Row   int
	Score float32
	Chunk Chunk
}
