package metacache

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// member is one field of a JSON object with its position preserved, so a
// migrated document keeps the upstream field order and diffs stay readable.
type member struct {
	name  string
	value json.RawMessage
}

type document []member

func parseDocument(data []byte) (document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("cannot read document: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("document is not a JSON object")
	}

	var doc document
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("cannot read field name: %w", err)
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("cannot read field %s: %w", name, err)
		}

		doc = append(doc, member{name: name, value: value})
	}

	return doc, nil
}

func (d document) marshal() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	for i, m := range d {
		if i > 0 {
			buf.WriteByte(',')
		}

		name, err := json.Marshal(m.name)
		if err != nil {
			return nil, fmt.Errorf("cannot marshal field name %s: %w", m.name, err)
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(m.value)
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}
