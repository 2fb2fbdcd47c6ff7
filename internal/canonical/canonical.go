// Package canonical produces deterministic JSON serializations and
// SHA-256 content hashes over them.
//
// Canonical JSON here means: object keys sorted bytewise, minimal
// separators, no HTML escaping, strings NFC normalized. Two logically
// identical values always serialize to the same bytes regardless of
// map iteration order or input formatting, which is what makes the
// stored hashes reproducible from the stored payloads.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/text/unicode/norm"
)

// Marshal serializes v to canonical JSON.
//
// Unlike strict RFC 8785, floats and null are permitted: feasibility
// payloads are untrusted JSON produced elsewhere and routinely carry
// both. Numbers are rendered the way encoding/json renders them, so a
// value that survives a decode/encode round trip hashes identically.
//
// Values that are not already JSON-shaped (structs, typed slices) are
// normalized through an encoding/json round trip first.
func Marshal(v any) ([]byte, error) {
	n, err := normalize(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := marshalValue(&buf, n); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// normalize reduces v to the JSON data model: nil, bool, float64,
// json.Number, string, []any, map[string]any.
func normalize(v any) (any, error) {
	switch v.(type) {
	case nil, bool, string, float64, int, int64, json.Number, []any, map[string]any:
		return v, nil
	}
	// Anything else (structs, typed maps/slices, named types) goes
	// through encoding/json so its JSON tags decide the shape.
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: normalize %T: %w", v, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("canonical: normalize %T: %w", v, err)
	}
	return out, nil
}

func marshalValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case string:
		return marshalString(buf, val)
	case json.Number:
		buf.WriteString(val.String())
		return nil
	case int:
		fmt.Fprintf(buf, "%d", val)
		return nil
	case int64:
		fmt.Fprintf(buf, "%d", val)
		return nil
	case float64:
		// Delegate number formatting to encoding/json so hashes agree
		// with payloads that were decoded from JSON.
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("canonical: marshal float: %w", err)
		}
		buf.Write(raw)
		return nil
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			e, err := normalize(elem)
			if err != nil {
				return err
			}
			if err := marshalValue(buf, e); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
		return nil
	case map[string]any:
		buf.WriteByte('{')
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := marshalString(buf, k); err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
			buf.WriteByte(':')
			e, err := normalize(val[k])
			if err != nil {
				return err
			}
			if err := marshalValue(buf, e); err != nil {
				return fmt.Errorf("value for key %q: %w", k, err)
			}
		}
		buf.WriteByte('}')
		return nil
	default:
		n, err := normalize(v)
		if err != nil {
			return err
		}
		return marshalValue(buf, n)
	}
}

// marshalString writes a JSON string with NFC normalization and HTML
// escaping disabled (< > & stay literal).
func marshalString(buf *bytes.Buffer, s string) error {
	normalized := norm.NFC.String(s)

	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return err
	}

	out := tmp.Bytes()
	// json.Encoder adds a trailing newline, remove it.
	if len(out) > 0 && out[len(out)-1] == '\n' {
		out = out[:len(out)-1]
	}
	buf.Write(out)
	return nil
}
