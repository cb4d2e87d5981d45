package document

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/tidwall/gjson"
)

// Value is a JSON fragment. The zero Value means "no result".
type Value json.RawMessage

var (
	EmptyObject = Value(`{}`)
	EmptyArray  = Value(`[]`)
)

var errInvalidJSON = errors.New("document: invalid JSON")

// FromRaw validates b and wraps it. Leading and trailing space is trimmed.
func FromRaw(b []byte) (Value, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(b) {
		return nil, errInvalidJSON
	}
	out := make([]byte, len(b))
	copy(out, b)
	return Value(out), nil
}

// From marshals any Go value.
func From(v any) (Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Value(b), nil
}

// MustFrom is From for values known to marshal, such as maps built in code.
func MustFrom(v any) Value {
	out, err := From(v)
	if err != nil {
		panic(err)
	}
	return out
}

// IsEmpty reports nil, null, {} and [] as empty.
func (v Value) IsEmpty() bool {
	switch string(bytes.TrimSpace(v)) {
	case "", "null", "{}", "[]":
		return true
	}
	return false
}

// Or returns v unless it is empty.
func (v Value) Or(def Value) Value {
	if v.IsEmpty() {
		return def
	}
	return v
}

func (v Value) Result() gjson.Result {
	if len(v) == 0 {
		return gjson.Result{}
	}
	return gjson.ParseBytes(v)
}

// Get reads a gjson path.
func (v Value) Get(path string) gjson.Result {
	if len(v) == 0 {
		return gjson.Result{}
	}
	return gjson.GetBytes(v, path)
}

// Records returns the elements of an array value, or nothing for other kinds.
func (v Value) Records() []gjson.Result {
	r := v.Result()
	if !r.IsArray() {
		return nil
	}
	return r.Array()
}

func (v Value) Raw() json.RawMessage { return json.RawMessage(v) }

func (v Value) String() string { return string(v) }

func (v Value) MarshalJSON() ([]byte, error) {
	if len(v) == 0 {
		return []byte("null"), nil
	}
	return v, nil
}

func (v *Value) UnmarshalJSON(b []byte) error {
	nv, err := FromRaw(b)
	if err != nil {
		return err
	}
	*v = nv
	return nil
}
