package interaction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind enumerates the value types an option can carry.
type Kind string

const (
	KindString  Kind = "string"
	KindInteger Kind = "integer"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
)

// Chat platforms number their option types; these are the ones guidon maps.
const (
	chatTypeString  = 3
	chatTypeInteger = 4
	chatTypeBoolean = 5
	chatTypeNumber  = 10
)

func kindFromChatType(t int) (Kind, bool) {
	switch t {
	case chatTypeString:
		return KindString, true
	case chatTypeInteger:
		return KindInteger, true
	case chatTypeBoolean:
		return KindBoolean, true
	case chatTypeNumber:
		return KindNumber, true
	}
	return "", false
}

// ChatType returns the chat platform option type number for k.
func (k Kind) ChatType() int {
	switch k {
	case KindInteger:
		return chatTypeInteger
	case KindBoolean:
		return chatTypeBoolean
	case KindNumber:
		return chatTypeNumber
	default:
		return chatTypeString
	}
}

func (k Kind) Valid() bool {
	switch k {
	case KindString, KindInteger, KindNumber, KindBoolean:
		return true
	}
	return false
}

// Option is one named command argument. Exactly one of the value fields is
// meaningful, selected by Kind.
type Option struct {
	Name string  `cbor:"name"`
	Kind Kind    `cbor:"kind"`
	Str  string  `cbor:"s,omitempty"`
	Int  int64   `cbor:"i,omitempty"`
	Num  float64 `cbor:"n,omitempty"`
	Bool bool    `cbor:"b,omitempty"`
}

func StringOption(name, v string) Option   { return Option{Name: name, Kind: KindString, Str: v} }
func IntOption(name string, v int64) Option { return Option{Name: name, Kind: KindInteger, Int: v} }
func NumberOption(name string, v float64) Option {
	return Option{Name: name, Kind: KindNumber, Num: v}
}
func BoolOption(name string, v bool) Option { return Option{Name: name, Kind: KindBoolean, Bool: v} }

// Value returns the option's value as a plain Go value.
func (o Option) Value() any {
	switch o.Kind {
	case KindInteger:
		return o.Int
	case KindNumber:
		return o.Num
	case KindBoolean:
		return o.Bool
	default:
		return o.Str
	}
}

type optionJSON struct {
	Name  string          `json:"name"`
	Kind  Kind            `json:"kind,omitempty"`
	Type  int             `json:"type,omitempty"`
	Value json.RawMessage `json:"value"`
}

func (o Option) MarshalJSON() ([]byte, error) {
	v, err := json.Marshal(o.Value())
	if err != nil {
		return nil, err
	}
	return json.Marshal(optionJSON{Name: o.Name, Kind: o.Kind, Value: v})
}

// UnmarshalJSON accepts {"name","kind","value"}, the chat platform form
// {"name","type","value"}, or a bare {"name","value"} whose kind is
// inferred from the JSON value.
func (o *Option) UnmarshalJSON(data []byte) error {
	var raw optionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Name == "" {
		return fmt.Errorf("option without name")
	}
	if len(raw.Value) == 0 {
		return fmt.Errorf("option %q: missing value", raw.Name)
	}

	kind := raw.Kind
	if kind == "" && raw.Type != 0 {
		k, ok := kindFromChatType(raw.Type)
		if !ok {
			return fmt.Errorf("option %q: unsupported type %d", raw.Name, raw.Type)
		}
		kind = k
	}
	if kind == "" {
		kind = inferKind(raw.Value)
	}
	if !kind.Valid() {
		return fmt.Errorf("option %q: unknown kind %q", raw.Name, kind)
	}

	out := Option{Name: raw.Name, Kind: kind}
	switch kind {
	case KindString:
		if err := json.Unmarshal(raw.Value, &out.Str); err != nil {
			return fmt.Errorf("option %q: want string: %w", raw.Name, err)
		}
	case KindInteger:
		n, err := parseInteger(raw.Value)
		if err != nil {
			return fmt.Errorf("option %q: want integer: %w", raw.Name, err)
		}
		out.Int = n
	case KindNumber:
		if err := json.Unmarshal(raw.Value, &out.Num); err != nil {
			return fmt.Errorf("option %q: want number: %w", raw.Name, err)
		}
	case KindBoolean:
		if err := json.Unmarshal(raw.Value, &out.Bool); err != nil {
			return fmt.Errorf("option %q: want boolean: %w", raw.Name, err)
		}
	}
	*o = out
	return nil
}

func inferKind(v json.RawMessage) Kind {
	v = bytes.TrimSpace(v)
	switch {
	case len(v) == 0:
		return ""
	case v[0] == '"':
		return KindString
	case bytes.Equal(v, []byte("true")) || bytes.Equal(v, []byte("false")):
		return KindBoolean
	case bytes.ContainsAny(v, ".eE"):
		return KindNumber
	case v[0] == '-' || (v[0] >= '0' && v[0] <= '9'):
		return KindInteger
	}
	return ""
}

// parseInteger accepts JSON integers, integral floats and numeric strings.
func parseInteger(v json.RawMessage) (int64, error) {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return strconv.ParseInt(s, 10, 64)
	}
	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt64 {
		return 0, fmt.Errorf("%v is not an integer", f)
	}
	return int64(f), nil
}

// Options is the ordered option list of one interaction.
type Options []Option

func (opts Options) Get(name string) (Option, bool) {
	for _, o := range opts {
		if o.Name == name {
			return o, true
		}
	}
	return Option{}, false
}

// Int reads name as an integer. Integral numbers and numeric strings
// qualify, since web forms commonly send coordinates as strings.
func (opts Options) Int(name string) (int64, bool) {
	o, ok := opts.Get(name)
	if !ok {
		return 0, false
	}
	switch o.Kind {
	case KindInteger:
		return o.Int, true
	case KindNumber:
		if o.Num == math.Trunc(o.Num) {
			return int64(o.Num), true
		}
	case KindString:
		if n, err := strconv.ParseInt(strings.TrimSpace(o.Str), 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

func (opts Options) Text(name string) (string, bool) {
	o, ok := opts.Get(name)
	if !ok || o.Kind != KindString {
		return "", false
	}
	return o.Str, true
}

// ParseArgs reads command-line style "name=value" pairs. Values that parse
// as integers, numbers or true/false get that kind; anything else is a string.
func ParseArgs(args []string) (Options, error) {
	var opts Options
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("option %q: want name=value", arg)
		}
		opts = append(opts, parseArg(name, value))
	}
	return opts, nil
}

func parseArg(name, value string) Option {
	if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		return IntOption(name, i)
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return NumberOption(name, f)
	}
	switch value {
	case "true":
		return BoolOption(name, true)
	case "false":
		return BoolOption(name, false)
	}
	return StringOption(name, value)
}
