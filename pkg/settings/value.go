package settings

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Kind is the type tag of a Value.
type Kind int

const (
	// KindInvalid is the zero Value's kind.
	KindInvalid Kind = iota
	KindString
	KindNumber
	KindBool
	KindChoice
)

// String returns the kind name used in storage and on the command line.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindChoice:
		return "choice"
	default:
		return "invalid"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "string":
		return KindString, nil
	case "number":
		return KindNumber, nil
	case "bool":
		return KindBool, nil
	case "choice":
		return KindChoice, nil
	default:
		return KindInvalid, fmt.Errorf("unknown setting kind %q", s)
	}
}

// Value is one setting value. The zero Value is invalid.
type Value struct {
	kind    Kind
	str     string
	num     float64
	boolean bool
	options []string
}

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number returns a numeric value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, boolean: b} }

// Choice returns a choice value with selected picked from options.
func Choice(selected string, options ...string) Value {
	return Value{kind: KindChoice, str: selected, options: slices.Clone(options)}
}

// Kind returns the value's type tag.
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether v holds a value.
func (v Value) IsValid() bool { return v.kind != KindInvalid }

// AsString returns the string held by a string value.
func (v Value) AsString() (string, bool) {
	return v.str, v.kind == KindString
}

// AsNumber returns the number held by a number value.
func (v Value) AsNumber() (float64, bool) {
	return v.num, v.kind == KindNumber
}

// AsBool returns the boolean held by a bool value.
func (v Value) AsBool() (bool, bool) {
	return v.boolean, v.kind == KindBool
}

// AsChoice returns the selection held by a choice value.
func (v Value) AsChoice() (string, bool) {
	return v.str, v.kind == KindChoice
}

// Options returns the allowed selections of a choice value.
func (v Value) Options() []string {
	return slices.Clone(v.options)
}

// Equal reports whether v and o have the same kind and contents.
func (v Value) Equal(o Value) bool {
	return v.kind == o.kind && v.str == o.str && v.num == o.num &&
		v.boolean == o.boolean && slices.Equal(v.options, o.options)
}

// String formats the value for display.
func (v Value) String() string {
	switch v.kind {
	case KindString, KindChoice:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.boolean)
	default:
		return "<invalid>"
	}
}

// Parse converts text to a value shaped like template: same kind and, for
// choices, the same options.
func Parse(template Value, text string) (Value, error) {
	switch template.kind {
	case KindString:
		return String(text), nil
	case KindNumber:
		f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return Value{}, fmt.Errorf("%q is not a number", text)
		}
		return Number(f), nil
	case KindBool:
		b, err := strconv.ParseBool(strings.TrimSpace(text))
		if err != nil {
			return Value{}, fmt.Errorf("%q is not a boolean", text)
		}
		return Bool(b), nil
	case KindChoice:
		v := Choice(strings.TrimSpace(text), template.options...)
		if !slices.Contains(v.options, v.str) {
			return Value{}, fmt.Errorf("%q is not one of %s", text, strings.Join(v.options, ", "))
		}
		return v, nil
	default:
		return Value{}, fmt.Errorf("cannot parse into an invalid setting")
	}
}

type wireValue struct {
	Kind    string          `json:"kind"`
	Value   json.RawMessage `json:"value"`
	Options []string        `json:"options,omitempty"`
}

// MarshalJSON encodes v as {"kind": ..., "value": ..., "options": [...]}.
func (v Value) MarshalJSON() ([]byte, error) {
	var (
		raw []byte
		err error
	)
	switch v.kind {
	case KindString, KindChoice:
		raw, err = json.Marshal(v.str)
	case KindNumber:
		raw, err = json.Marshal(v.num)
	case KindBool:
		raw, err = json.Marshal(v.boolean)
	default:
		return nil, fmt.Errorf("cannot marshal an invalid setting")
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireValue{Kind: v.kind.String(), Value: raw, Options: v.options})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	kind, err := ParseKind(w.Kind)
	if err != nil {
		return err
	}

	out := Value{kind: kind, options: w.Options}
	switch kind {
	case KindString, KindChoice:
		err = json.Unmarshal(w.Value, &out.str)
	case KindNumber:
		err = json.Unmarshal(w.Value, &out.num)
	case KindBool:
		err = json.Unmarshal(w.Value, &out.boolean)
	}
	if err != nil {
		return fmt.Errorf("invalid %s setting value: %w", kind, err)
	}
	*v = out
	return nil
}
