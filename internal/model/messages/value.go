package messages

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ValueKind tells which variant a Value carries.
type ValueKind uint8

const (
	ValueNone ValueKind = iota
	ValueNumber
	ValueBool
	ValueString
)

// Value is the reading payload: a number, a boolean or a string.
// Camera readings carry base64 encoded image bytes as a string.
// The zero Value is "no value" and fails Reading.Validate.
type Value struct {
	kind   ValueKind
	number float64
	flag   bool
	text   string
}

func NumberValue(f float64) Value { return Value{kind: ValueNumber, number: f} }
func BoolValue(b bool) Value      { return Value{kind: ValueBool, flag: b} }
func StringValue(s string) Value  { return Value{kind: ValueString, text: s} }

func (v Value) Kind() ValueKind { return v.kind }

func (v Value) Number() (float64, bool) { return v.number, v.kind == ValueNumber }
func (v Value) Bool() (bool, bool)      { return v.flag, v.kind == ValueBool }
func (v Value) Text() (string, bool)    { return v.text, v.kind == ValueString }

// Any returns the payload as a plain Go value, nil when empty.
func (v Value) Any() any {
	switch v.kind {
	case ValueNumber:
		return v.number
	case ValueBool:
		return v.flag
	case ValueString:
		return v.text
	}
	return nil
}

func (v Value) String() string {
	switch v.kind {
	case ValueNumber:
		return strconv.FormatFloat(v.number, 'g', -1, 64)
	case ValueBool:
		return strconv.FormatBool(v.flag)
	case ValueString:
		return v.text
	}
	return "<none>"
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

func (v *Value) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*v = Value{}
		return nil
	}
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case float64:
		*v = NumberValue(x)
	case bool:
		*v = BoolValue(x)
	case string:
		*v = StringValue(x)
	default:
		return fmt.Errorf("value must be a number, boolean or string, got %T", raw)
	}
	return nil
}
