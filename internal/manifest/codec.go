package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// ValueKind is the type of a codec info value.
type ValueKind int

const (
	KindString ValueKind = iota + 1
	KindNumber
	KindBool
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	}
	return "invalid"
}

// CodecValue is a codec info value restricted to string, number or bool.
type CodecValue struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
}

func StringValue(s string) CodecValue  { return CodecValue{kind: KindString, str: s} }
func NumberValue(n float64) CodecValue { return CodecValue{kind: KindNumber, num: n} }
func BoolValue(b bool) CodecValue      { return CodecValue{kind: KindBool, b: b} }

func (v CodecValue) Kind() ValueKind { return v.kind }

// Any returns the value as string, float64 or bool.
func (v CodecValue) Any() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	}
	return nil
}

func (v CodecValue) String() string {
	return fmt.Sprint(v.Any())
}

func (v CodecValue) validate() error {
	switch v.kind {
	case KindString, KindBool:
		return nil
	case KindNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return fmt.Errorf("%w: non-finite number", ErrInvalidCodecInfo)
		}
		return nil
	}
	return fmt.Errorf("%w: unset value", ErrInvalidCodecInfo)
}

func (v CodecValue) MarshalJSON() ([]byte, error) {
	if err := v.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(v.Any())
}

func (v *CodecValue) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := codecValueOf(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func codecValueOf(raw any) (CodecValue, error) {
	switch x := raw.(type) {
	case string:
		return StringValue(x), nil
	case bool:
		return BoolValue(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return CodecValue{}, fmt.Errorf("%w: %v", ErrInvalidCodecInfo, err)
		}
		return NumberValue(f), nil
	case float64:
		return NumberValue(x), nil
	case float32:
		return NumberValue(float64(x)), nil
	case int:
		return NumberValue(float64(x)), nil
	case int64:
		return NumberValue(float64(x)), nil
	case uint64:
		return NumberValue(float64(x)), nil
	}
	return CodecValue{}, fmt.Errorf("%w: unsupported value type %T", ErrInvalidCodecInfo, raw)
}

// CodecInfo is informational codec metadata.
type CodecInfo map[string]CodecValue

// CodecInfoFromMap converts a generic map, rejecting nested values.
func CodecInfoFromMap(m map[string]any) (CodecInfo, error) {
	out := make(CodecInfo, len(m))
	for k, raw := range m {
		v, err := codecValueOf(raw)
		if err != nil {
			return nil, fmt.Errorf("codec_info[%q]: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// Validate checks every value is set and finite.
func (c CodecInfo) Validate() error {
	for _, k := range c.Keys() {
		if k == "" {
			return fmt.Errorf("%w: empty key", ErrInvalidCodecInfo)
		}
		if err := c[k].validate(); err != nil {
			return fmt.Errorf("codec_info[%q]: %w", k, err)
		}
	}
	return nil
}

// Keys returns the keys in sorted order.
func (c CodecInfo) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c CodecInfo) clone() CodecInfo {
	out := make(CodecInfo, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
