package model

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// ExtraKind discriminates the value held by an ExtraValue.
type ExtraKind string

const (
	ExtraKindString ExtraKind = "string"
	ExtraKindNumber ExtraKind = "number"
	ExtraKindBool   ExtraKind = "bool"
	ExtraKindNull   ExtraKind = "null"
)

// ExtraValue is a small tagged union (string | number | bool | null) used for
// overflow columns. Source cells that don't map onto a canonical field are
// preserved here verbatim instead of being dropped.
type ExtraValue struct {
	Kind ExtraKind
	Str  string
	Num  decimal.Decimal
	Bool bool
}

// ExtraFields maps an original column header to its preserved value.
type ExtraFields map[string]ExtraValue

// StringValue wraps a string as an ExtraValue.
func StringValue(s string) ExtraValue {
	return ExtraValue{Kind: ExtraKindString, Str: s}
}

// NumberValue wraps a decimal as an ExtraValue.
func NumberValue(d decimal.Decimal) ExtraValue {
	return ExtraValue{Kind: ExtraKindNumber, Num: d}
}

// BoolValue wraps a bool as an ExtraValue.
func BoolValue(b bool) ExtraValue {
	return ExtraValue{Kind: ExtraKindBool, Bool: b}
}

// NullValue is the null ExtraValue.
func NullValue() ExtraValue {
	return ExtraValue{Kind: ExtraKindNull}
}

// MarshalJSON encodes the union as its bare JSON value, so overflow columns
// round-trip through the JSON storage columns unchanged.
func (v ExtraValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ExtraKindString:
		return json.Marshal(v.Str)
	case ExtraKindNumber:
		return []byte(v.Num.String()), nil
	case ExtraKindBool:
		return json.Marshal(v.Bool)
	case ExtraKindNull, "":
		return []byte("null"), nil
	}
	return nil, eris.Errorf("model: unknown extra value kind %q", v.Kind)
}

// UnmarshalJSON decodes a bare JSON scalar back into the union.
func (v *ExtraValue) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return eris.Wrap(err, "model: decode extra value")
	}

	switch x := raw.(type) {
	case nil:
		*v = NullValue()
	case bool:
		*v = BoolValue(x)
	case string:
		*v = StringValue(x)
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		if err != nil {
			return eris.Wrapf(err, "model: parse extra number %q", x.String())
		}
		*v = NumberValue(d)
	default:
		return eris.Errorf("model: extra value must be a scalar, got %T", raw)
	}
	return nil
}

// String renders the value the way the source cell would have shown it.
func (v ExtraValue) String() string {
	switch v.Kind {
	case ExtraKindString:
		return v.Str
	case ExtraKindNumber:
		return v.Num.String()
	case ExtraKindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	}
	return ""
}
