package metacache

import (
	"encoding/json"
	"fmt"
)

// FieldFunc rewrites one top-level field of an upstream document. Returning
// keep=false removes the field from the migrated form.
type FieldFunc func(value json.RawMessage) (out json.RawMessage, keep bool, err error)

// Transform maps field names to their rewrite functions. Fields absent from
// the table pass through unchanged.
type Transform map[string]FieldFunc

// Migrate produces the downstream form of an upstream JSON document.
func Migrate(raw []byte, tr Transform) ([]byte, error) {
	doc, err := parseDocument(raw)
	if err != nil {
		return nil, err
	}

	out := make(document, 0, len(doc))
	for _, m := range doc {
		fn, tracked := tr[m.name]
		if !tracked {
			out = append(out, m)

			continue
		}

		value, keep, err := fn(m.value)
		if err != nil {
			return nil, fmt.Errorf("cannot migrate field %s: %w", m.name, err)
		}
		if !keep {
			continue
		}

		out = append(out, member{name: m.name, value: value})
	}

	return out.marshal()
}

// Drop removes the field from the migrated form.
func Drop() FieldFunc {
	return func(json.RawMessage) (json.RawMessage, bool, error) {
		return nil, false, nil
	}
}

// SetValue replaces the field with a fixed value.
func SetValue(v any) FieldFunc {
	return func(json.RawMessage) (json.RawMessage, bool, error) {
		out, err := json.Marshal(v)

		return out, true, err
	}
}

// MapString rewrites a string-valued field.
func MapString(fn func(string) (string, error)) FieldFunc {
	return func(value json.RawMessage) (json.RawMessage, bool, error) {
		var s string
		if err := json.Unmarshal(value, &s); err != nil {
			return nil, false, fmt.Errorf("field is not a string: %w", err)
		}

		s, err := fn(s)
		if err != nil {
			return nil, false, err
		}

		out, err := json.Marshal(s)

		return out, true, err
	}
}

// MapArray rewrites each element of an array-valued field.
func MapArray(fn func(json.RawMessage) (json.RawMessage, error)) FieldFunc {
	return func(value json.RawMessage) (json.RawMessage, bool, error) {
		var entries []json.RawMessage
		if err := json.Unmarshal(value, &entries); err != nil {
			return nil, false, fmt.Errorf("field is not an array: %w", err)
		}

		out := make([]json.RawMessage, 0, len(entries))
		for i, entry := range entries {
			v, err := fn(entry)
			if err != nil {
				return nil, false, fmt.Errorf("element %d: %w", i, err)
			}
			out = append(out, v)
		}

		result, err := json.Marshal(out)

		return result, true, err
	}
}

// MapMembers rewrites each member of an object-valued field, preserving
// member order. The callback may drop a member by returning keep=false.
func MapMembers(fn func(name string, value json.RawMessage) (json.RawMessage, bool, error)) FieldFunc {
	return func(value json.RawMessage) (json.RawMessage, bool, error) {
		doc, err := parseDocument(value)
		if err != nil {
			return nil, false, err
		}

		out := make(document, 0, len(doc))
		for _, m := range doc {
			v, keep, err := fn(m.name, m.value)
			if err != nil {
				return nil, false, fmt.Errorf("member %s: %w", m.name, err)
			}
			if !keep {
				continue
			}
			out = append(out, member{name: m.name, value: v})
		}

		result, err := out.marshal()

		return result, true, err
	}
}
