package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"
)

// IngestedAtField is stamped on every record during packaging.
const IngestedAtField = "_ingested_at_utc"

// Kind identifies the JSON type held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a single JSON value as returned by the upstream API. Numbers keep
// their literal text so prices and supplies are written back exactly as read.
type Value struct {
	kind Kind
	b    bool
	n    json.Number
	s    string
	arr  []Value
	obj  *Record
}

func Null() Value                  { return Value{kind: KindNull} }
func Bool(b bool) Value            { return Value{kind: KindBool, b: b} }
func Number(n json.Number) Value   { return Value{kind: KindNumber, n: n} }
func Int(i int64) Value            { return Value{kind: KindNumber, n: json.Number(strconv.FormatInt(i, 10))} }
func String(s string) Value        { return Value{kind: KindString, s: s} }
func Array(items ...Value) Value   { return Value{kind: KindArray, arr: items} }
func Object(rec *Record) Value     { return Value{kind: KindObject, obj: rec} }
func (v Value) Kind() Kind         { return v.kind }
func (v Value) IsNull() bool       { return v.kind == KindNull }
func (v Value) Items() []Value     { return v.arr }
func (v Value) Record() *Record    { return v.obj }

// Float builds a number value from f using the shortest representation.
func Float(f float64) Value {
	return Value{kind: KindNumber, n: json.Number(strconv.FormatFloat(f, 'g', -1, 64))}
}

// Str returns the string payload and whether the value is a string.
func (v Value) Str() (string, bool) {
	return v.s, v.kind == KindString
}

// Num returns the literal number and whether the value is a number.
func (v Value) Num() (json.Number, bool) {
	return v.n, v.kind == KindNumber
}

// Truth returns the boolean payload and whether the value is a bool.
func (v Value) Truth() (bool, bool) {
	return v.b, v.kind == KindBool
}

// MarshalJSON writes the value compactly without HTML escaping.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes any JSON value, keeping object key order.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	out, err := decodeValue(dec)
	if err != nil {
		return err
	}
	if err := expectEOF(dec); err != nil {
		return err
	}
	*v = out
	return nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		if v.n == "" {
			buf.WriteByte('0')
			return nil
		}
		buf.WriteString(string(v.n))
	case KindString:
		return writeString(buf, v.s)
	case KindArray:
		buf.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		if v.obj == nil {
			buf.WriteString("{}")
			return nil
		}
		return v.obj.encode(buf)
	default:
		return fmt.Errorf("unknown value kind %d", v.kind)
	}
	return nil
}

// Record is one asset's market snapshot: an ordered mapping of keys to JSON
// values. Unknown fields are kept verbatim and in their original order.
type Record struct {
	keys   []string
	values map[string]Value
}

// NewRecord returns an empty record.
func NewRecord() *Record {
	return &Record{values: make(map[string]Value)}
}

func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

// Keys returns the keys in insertion order.
func (r *Record) Keys() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.keys...)
}

func (r *Record) Get(key string) (Value, bool) {
	if r == nil {
		return Value{}, false
	}
	v, ok := r.values[key]
	return v, ok
}

// Set adds key at the end, or replaces the value in place when it exists.
func (r *Record) Set(key string, v Value) {
	if r.values == nil {
		r.values = make(map[string]Value)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = v
}

// Clone returns a shallow copy; nested arrays and objects are shared.
func (r *Record) Clone() *Record {
	out := &Record{
		keys:   make([]string, len(r.keys)),
		values: make(map[string]Value, len(r.values)),
	}
	copy(out.keys, r.keys)
	for k, v := range r.values {
		out.values[k] = v
	}
	return out
}

// MarshalJSON writes the record as a compact JSON object in key order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := r.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts a single JSON object.
func (r *Record) UnmarshalJSON(data []byte) error {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return err
	}
	if v.kind != KindObject {
		return fmt.Errorf("expected JSON object, got %s", v.kind)
	}
	*r = *v.obj
	return nil
}

func (r *Record) encode(buf *bytes.Buffer) error {
	buf.WriteByte('{')
	for i, key := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeString(buf, key); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := r.values[key].encode(buf); err != nil {
			return fmt.Errorf("encode %q: %w", key, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

// DecodeRecords parses a JSON array of objects into records.
func DecodeRecords(data []byte) ([]*Record, error) {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	if v.kind != KindArray {
		return nil, fmt.Errorf("expected JSON array, got %s", v.kind)
	}
	records := make([]*Record, 0, len(v.arr))
	for i, item := range v.arr {
		if item.kind != KindObject {
			return nil, fmt.Errorf("element %d: expected JSON object, got %s", i, item.kind)
		}
		records = append(records, item.obj)
	}
	return records, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return Number(t), nil
	case string:
		return String(t), nil
	case json.Delim:
		switch t {
		case '{':
			rec := NewRecord()
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := kt.(string)
				if !ok {
					return Value{}, fmt.Errorf("unexpected object key %v", kt)
				}
				item, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				rec.Set(key, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return Object(rec), nil
		case '[':
			items := make([]Value, 0)
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return Array(items...), nil
		}
	}
	return Value{}, fmt.Errorf("unexpected token %v", tok)
}

func expectEOF(dec *json.Decoder) error {
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON value")
		}
		return err
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) error {
	buf.WriteByte('"')
	for {
		// encoding/json escapes U+2028 and U+2029 even with HTML escaping off.
		i := strings.IndexAny(s, "\u2028\u2029")
		if i < 0 {
			break
		}
		if err := writeEscaped(buf, s[:i]); err != nil {
			return err
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		buf.WriteString(s[i : i+size])
		s = s[i+size:]
	}
	if err := writeEscaped(buf, s); err != nil {
		return err
	}
	buf.WriteByte('"')
	return nil
}

// writeEscaped writes s as the inside of a JSON string literal.
func writeEscaped(buf *bytes.Buffer, s string) error {
	if s == "" {
		return nil
	}
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	// Drop the quotes and the trailing newline Encode adds.
	out := tmp.Bytes()
	buf.Write(out[1 : len(out)-2])
	return nil
}
