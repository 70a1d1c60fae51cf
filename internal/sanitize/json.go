package sanitize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Member is one key/value pair of an Object.
type Member struct {
	Key   string
	Value any
}

// Object is a JSON object that keeps its key order.
type Object []Member

// Get returns the value stored under key.
func (o Object) Get(key string) (any, bool) {
	for _, m := range o {
		if m.Key == key {
			return m.Value, true
		}
	}
	return nil, false
}

// GetString returns the string stored under key, or "" when absent or not a string.
func (o Object) GetString(key string) string {
	v, _ := o.Get(key)
	s, _ := v.(string)
	return s
}

// Keys returns the keys in order.
func (o Object) Keys() []string {
	keys := make([]string, len(o))
	for i, m := range o {
		keys[i] = m.Key
	}
	return keys
}

// MarshalJSON implements json.Marshaler, preserving key order.
func (o Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(m.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(m.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Limits bound the shape of a decoded document.
type Limits struct {
	// MaxDepth is the deepest allowed container nesting. The top-level
	// value is depth 1.
	MaxDepth int

	// MaxNodes is the largest allowed number of values, containers included.
	MaxNodes int
}

// DefaultLimits returns the default decode limits.
func DefaultLimits() Limits {
	return Limits{MaxDepth: DefaultMaxDepth, MaxNodes: DefaultMaxNodes}
}

// Decode reads exactly one JSON value from r. Objects decode to Object,
// arrays to []any, numbers to json.Number. Duplicate keys keep the
// position of the first occurrence and the value of the last.
func Decode(r io.Reader, limits Limits) (any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	d := &decoder{dec: dec, limits: limits}

	v, err := d.value(1)
	if err != nil {
		return nil, err
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after JSON value", ErrSyntax)
	}

	return v, nil
}

type decoder struct {
	dec    *json.Decoder
	limits Limits
	nodes  int
}

func (d *decoder) value(depth int) (any, error) {
	d.nodes++
	if d.limits.MaxNodes > 0 && d.nodes > d.limits.MaxNodes {
		return nil, ErrTooLarge
	}

	tok, err := d.dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSyntax, err)
	}

	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}

	if d.limits.MaxDepth > 0 && depth > d.limits.MaxDepth {
		return nil, ErrMaxDepth
	}

	switch delim {
	case '{':
		return d.object(depth)
	case '[':
		return d.array(depth)
	default:
		return nil, fmt.Errorf("%w: unexpected delimiter %q", ErrSyntax, delim)
	}
}

func (d *decoder) object(depth int) (any, error) {
	obj := Object{}
	index := make(map[string]int)

	for d.dec.More() {
		tok, err := d.dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSyntax, err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: object key is not a string", ErrSyntax)
		}

		val, err := d.value(depth + 1)
		if err != nil {
			return nil, err
		}

		if i, dup := index[key]; dup {
			obj[i].Value = val
			continue
		}
		index[key] = len(obj)
		obj = append(obj, Member{Key: key, Value: val})
	}

	if _, err := d.dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSyntax, err)
	}
	return obj, nil
}

func (d *decoder) array(depth int) (any, error) {
	arr := []any{}

	for d.dec.More() {
		val, err := d.value(depth + 1)
		if err != nil {
			return nil, err
		}
		arr = append(arr, val)
	}

	if _, err := d.dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSyntax, err)
	}
	return arr, nil
}

// Bind copies a decoded value into dst through a JSON round trip.
func Bind(v, dst any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}
