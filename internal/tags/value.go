// Package tags models the editable metadata of a DICOM file: a two-level
// tree of tag nodes, the edit session that tracks changes against the
// analyzed snapshot, and search and grouping helpers over it.
package tags

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

// Kind is the kind of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindSequence
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindSequence:
		return "sequence"
	default:
		return "unknown"
	}
}

// Value is the scalar value of a tag node. It is one of Null, String,
// Number or Sequence(itemCount). Numbers keep their literal text so that
// a round trip never reformats them.
//
// Values are comparable with ==; two values are equal when both the kind
// and the payload match.
type Value struct {
	kind  Kind
	str   string
	items int
}

// Null returns the null value. It is also the zero Value.
func Null() Value { return Value{} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number returns a number value with the given literal.
func Number(n json.Number) Value { return Value{kind: KindNumber, str: n.String()} }

// Int returns a number value for an integer.
func Int(n int64) Value { return Value{kind: KindNumber, str: strconv.FormatInt(n, 10)} }

// Float returns a number value for a float, in its shortest form.
func Float(f float64) Value {
	return Value{kind: KindNumber, str: strconv.FormatFloat(f, 'g', -1, 64)}
}

// Sequence returns the marker value of a sequence with n items.
func Sequence(n int) Value { return Value{kind: KindSequence, items: n} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

// Str returns the payload of a string value.
func (v Value) Str() (string, bool) { return v.str, v.kind == KindString }

// Num returns the literal of a number value.
func (v Value) Num() (json.Number, bool) { return json.Number(v.str), v.kind == KindNumber }

// Items returns the item count of a sequence marker.
func (v Value) Items() (int, bool) { return v.items, v.kind == KindSequence }

// Equal reports structural equality.
func (v Value) Equal(o Value) bool { return v == o }

// Text returns the display form of the value. Null renders as "".
func (v Value) Text() string {
	switch v.kind {
	case KindString, KindNumber:
		return v.str
	case KindSequence:
		return sequenceText(v.items)
	default:
		return ""
	}
}

func (v Value) String() string {
	if v.kind == KindNull {
		return "null"
	}
	return v.Text()
}

func sequenceText(n int) string {
	return fmt.Sprintf("Sequence with %d items", n)
}

var sequenceMarker = regexp.MustCompile(`^Sequence with (\d+) items$`)

// parseSequenceMarker recognizes the wire form of a sequence marker.
func parseSequenceMarker(s string) (int, bool) {
	m := sequenceMarker.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// MarshalJSON encodes null, a string, a number literal, or the sequence
// marker string.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return []byte(v.str), nil
	case KindSequence:
		return json.Marshal(sequenceText(v.items))
	default:
		return nil, fmt.Errorf("tags: cannot marshal value of kind %d", v.kind)
	}
}

// UnmarshalJSON decodes null, strings, numbers and booleans. Booleans become
// strings. Sequence markers decode as plain strings here; Node restores them
// when its VR is SQ.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("tags: empty value")
	}
	switch data[0] {
	case 'n':
		*v = Null()
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = String(strconv.FormatBool(b))
		return nil
	case '{', '[':
		return fmt.Errorf("%w: %s", ErrUnsupportedValue, truncate(string(data), 32))
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var n json.Number
	if err := dec.Decode(&n); err != nil {
		return fmt.Errorf("tags: invalid number %q: %w", truncate(string(data), 32), err)
	}
	*v = Number(n)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
