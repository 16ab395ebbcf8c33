// Package codec encodes rows as JSON objects for storage in the key-value
// store and decodes them back with their key order preserved.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/guileen/kvql/types"
)

// RawValueField is the field name given to stored values that are not JSON
// objects, such as plain strings written by other clients.
const RawValueField = "value"

// ErrNotObject is returned when patching a stored value that is not a JSON
// object.
var ErrNotObject = errors.New("stored value is not a JSON object")

// EncodeRow encodes fields as a JSON object, in field order. Absent values
// are omitted.
func EncodeRow(fields []types.Field) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for _, f := range fields {
		if f.Value.IsAbsent() {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false

		name, err := json.Marshal(f.Name)
		if err != nil {
			return nil, fmt.Errorf("encode field name %q: %w", f.Name, err)
		}
		buf.Write(name)
		buf.WriteByte(':')

		val, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("encode field %q: %w", f.Name, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// DecodeRow decodes a stored value into fields, preserving the order in
// which keys appear. Values that are not JSON objects decode to a single
// RawValueField string field.
func DecodeRow(data []byte) ([]types.Field, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return []types.Field{{Name: RawValueField, Value: types.NewString(string(data))}}, nil
	}

	members, err := readMembers(trimmed)
	if err != nil {
		return nil, err
	}

	var fields []types.Field
	seen := make(map[string]int)
	for _, m := range members {
		val, err := decodeValue(m.value)
		if err != nil {
			return nil, fmt.Errorf("decode row field %q: %w", m.name, err)
		}
		// duplicate keys: last one wins, position of the first is kept
		if idx, dup := seen[m.name]; dup {
			fields[idx].Value = val
			continue
		}
		seen[m.name] = len(fields)
		fields = append(fields, types.Field{Name: m.name, Value: val})
	}
	return fields, nil
}

// member is one name/value pair of a stored object, kept as written.
type member struct {
	name  string
	value json.RawMessage
}

// PatchRow sets fields in the stored object data and returns the new
// encoding. Members not named in set keep their original bytes and order;
// new members are appended in set order. An absent value removes the
// member. Later duplicates of a patched name are dropped.
func PatchRow(data []byte, set []types.Field) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrNotObject
	}
	members, err := readMembers(trimmed)
	if err != nil {
		return nil, err
	}

	patch := make(map[string]types.Value, len(set))
	for _, f := range set {
		patch[f.Name] = f.Value
	}
	done := make(map[string]bool, len(set))

	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	emit := func(name string, value []byte) error {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		key, err := json.Marshal(name)
		if err != nil {
			return fmt.Errorf("encode field name %q: %w", name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
		return nil
	}
	emitValue := func(name string, v types.Value) error {
		if v.IsAbsent() {
			return nil
		}
		val, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode field %q: %w", name, err)
		}
		return emit(name, val)
	}

	for _, m := range members {
		v, patched := patch[m.name]
		if !patched {
			if err := emit(m.name, m.value); err != nil {
				return nil, err
			}
			continue
		}
		if done[m.name] {
			continue
		}
		done[m.name] = true
		if err := emitValue(m.name, v); err != nil {
			return nil, err
		}
	}
	for _, f := range set {
		if done[f.Name] {
			continue
		}
		done[f.Name] = true
		if err := emitValue(f.Name, f.Value); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func readMembers(data []byte) ([]member, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}
	var members []member
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode row key: %w", err)
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("decode row: unexpected key token %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode row field %q: %w", name, err)
		}
		members = append(members, member{name: name, value: raw})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("decode row: trailing data after object")
	}
	return members, nil
}

func decodeValue(raw json.RawMessage) (types.Value, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return types.Absent(), nil
	}
	switch trimmed[0] {
	case 'n':
		return types.Absent(), nil
	case 't', 'f':
		return types.NewString(string(trimmed)), nil
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return types.Value{}, err
		}
		return types.NewString(s), nil
	case '{', '[':
		return types.NewString(string(trimmed)), nil
	default:
		f, ok := types.ParseNumber(string(trimmed))
		if !ok {
			return types.Value{}, fmt.Errorf("invalid number %s", trimmed)
		}
		return types.NewNumber(f), nil
	}
}
