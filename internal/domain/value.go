package domain

import (
	"bytes"
	"fmt"
	"strconv"

	json "github.com/goccy/go-json"
)

// ValueKind tags the runtime type held by a Value.
type ValueKind uint8

const (
	// KindNone is the zero Value; it never appears in a well-formed record.
	KindNone ValueKind = iota
	KindNumber
	KindText
)

func (k ValueKind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	default:
		return "none"
	}
}

// Value is a condition operand or an input record value.
// Payroll inputs are either numeric (age, vehicle_cc, basic_salary) or
// categorical (gender, citizenship_status).
type Value struct {
	Kind ValueKind
	Num  float64
	Text string
}

// NumericValue returns a numeric Value.
func NumericValue(n float64) Value {
	return Value{Kind: KindNumber, Num: n}
}

// TextValue returns a text Value.
func TextValue(s string) Value {
	return Value{Kind: KindText, Text: s}
}

// IsNumeric reports whether v holds a number.
func (v Value) IsNumeric() bool { return v.Kind == KindNumber }

// IsText reports whether v holds a string.
func (v Value) IsText() bool { return v.Kind == KindText }

// Equal compares two values by kind and content.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	if v.Kind == KindNumber {
		return v.Num == o.Num
	}
	return v.Text == o.Text
}

func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindText:
		return strconv.Quote(v.Text)
	default:
		return "<none>"
	}
}

// MarshalJSON writes a number or a string.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNumber:
		return json.Marshal(v.Num)
	case KindText:
		return json.Marshal(v.Text)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts a JSON number or string.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Value{}
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = TextValue(s)
		return nil
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("value must be a number or a string: %s", data)
		}
		*v = NumericValue(n)
		return nil
	}
}

// Record is the input record a rule set is evaluated against:
// field name to value, sourced from an employee or database row.
type Record map[string]Value

// Lookup returns the value of field and whether it is present.
func (r Record) Lookup(field string) (Value, bool) {
	v, ok := r[field]
	if !ok || v.Kind == KindNone {
		return Value{}, false
	}
	return v, true
}

// Number returns the numeric value of field.
func (r Record) Number(field string) (float64, bool) {
	v, ok := r.Lookup(field)
	if !ok || !v.IsNumeric() {
		return 0, false
	}
	return v.Num, true
}

// With returns a copy of r with field set to v.
func (r Record) With(field string, v Value) Record {
	out := make(Record, len(r)+1)
	for k, val := range r {
		out[k] = val
	}
	out[field] = v
	return out
}

// RecordFromMap converts a decoded JSON or YAML document into a Record.
// Booleans become 1 and 0.
func RecordFromMap(m map[string]any) (Record, error) {
	rec := make(Record, len(m))
	for k, raw := range m {
		switch v := raw.(type) {
		case float64:
			rec[k] = NumericValue(v)
		case float32:
			rec[k] = NumericValue(float64(v))
		case int:
			rec[k] = NumericValue(float64(v))
		case int64:
			rec[k] = NumericValue(float64(v))
		case uint64:
			rec[k] = NumericValue(float64(v))
		case json.Number:
			n, err := v.Float64()
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", k, err)
			}
			rec[k] = NumericValue(n)
		case string:
			rec[k] = TextValue(v)
		case bool:
			if v {
				rec[k] = NumericValue(1)
			} else {
				rec[k] = NumericValue(0)
			}
		default:
			return nil, fmt.Errorf("field %q: unsupported value type %T", k, raw)
		}
	}
	return rec, nil
}
