package resp

import (
	"math"
	"strconv"
)

// Type identifies the wire variant a Value was decoded from. The constants
// use the protocol's own type bytes so a Type prints meaningfully in logs.
type Type byte

const (
	TypeSimpleString Type = '+'
	TypeSimpleError  Type = '-'
	TypeInteger      Type = ':'
	TypeBulkString   Type = '$'
	TypeArray        Type = '*'
	TypeNull         Type = '_'
	TypeBoolean      Type = '#'
	TypeDouble       Type = ','
	TypeBigNumber    Type = '('
	TypeBulkError    Type = '!'
	TypeVerbatim     Type = '='
	TypeMap          Type = '%'
	TypeSet          Type = '~'
	TypePush         Type = '>'
	TypeAttribute    Type = '|'
)

// String returns a human-readable name for the type.
func (t Type) String() string {
	switch t {
	case TypeSimpleString:
		return "simple-string"
	case TypeSimpleError:
		return "simple-error"
	case TypeInteger:
		return "integer"
	case TypeBulkString:
		return "bulk-string"
	case TypeArray:
		return "array"
	case TypeNull:
		return "null"
	case TypeBoolean:
		return "boolean"
	case TypeDouble:
		return "double"
	case TypeBigNumber:
		return "big-number"
	case TypeBulkError:
		return "bulk-error"
	case TypeVerbatim:
		return "verbatim-string"
	case TypeMap:
		return "map"
	case TypeSet:
		return "set"
	case TypePush:
		return "push"
	case TypeAttribute:
		return "attribute"
	}
	return "unknown"
}

// Pair is one key/value entry of a map or attribute reply. Wire order is
// preserved, including duplicate keys.
type Pair struct {
	Key   Value
	Value Value
}

// Value is the decoded form of a single reply frame. It is a tagged union:
// Type selects which of the payload fields is meaningful.
//
//	TypeSimpleString, TypeBigNumber  → Str
//	TypeSimpleError                  → Str (error message)
//	TypeInteger                      → Int
//	TypeBulkString, TypeBulkError    → Bulk
//	TypeBoolean                      → Bool
//	TypeDouble                       → Float
//	TypeVerbatim                     → Format (3-char encoding) + Str
//	TypeArray, TypeSet               → Elems
//	TypeMap                          → Pairs
//	TypePush                         → Str (kind) + Elems
//	TypeAttribute                    → Pairs (metadata) + Inner
//	TypeNull                         → no payload
//
// Bulk payloads may alias the buffer the value was decoded from; callers
// that retain the buffer for reuse must copy first. The connection layer
// hands frame storage to the decoded value, so values it returns are safe
// to keep.
type Value struct {
	Type   Type
	Str    string
	Bulk   []byte
	Int    int64
	Float  float64
	Bool   bool
	Format string
	Elems  []Value
	Pairs  []Pair
	Inner  *Value
}

// Constructors. These keep decoder internals and tests readable; they build
// exactly the shape the decoder itself produces.

func Null() Value                 { return Value{Type: TypeNull} }
func SimpleString(s string) Value { return Value{Type: TypeSimpleString, Str: s} }
func SimpleError(msg string) Value {
	return Value{Type: TypeSimpleError, Str: msg}
}
func Int(n int64) Value        { return Value{Type: TypeInteger, Int: n} }
func Bulk(b []byte) Value      { return Value{Type: TypeBulkString, Bulk: b} }
func BulkStr(s string) Value   { return Value{Type: TypeBulkString, Bulk: []byte(s)} }
func Bool(b bool) Value        { return Value{Type: TypeBoolean, Bool: b} }
func Double(f float64) Value   { return Value{Type: TypeDouble, Float: f} }
func BigNumber(s string) Value { return Value{Type: TypeBigNumber, Str: s} }
func BulkError(b []byte) Value { return Value{Type: TypeBulkError, Bulk: b} }
func Verbatim(format, data string) Value {
	return Value{Type: TypeVerbatim, Format: format, Str: data}
}
func Array(elems ...Value) Value { return Value{Type: TypeArray, Elems: elems} }
func Set(elems ...Value) Value   { return Value{Type: TypeSet, Elems: elems} }
func Map(pairs ...Pair) Value    { return Value{Type: TypeMap, Pairs: pairs} }
func Push(kind string, data ...Value) Value {
	return Value{Type: TypePush, Str: kind, Elems: data}
}
func Attribute(pairs []Pair, inner Value) Value {
	return Value{Type: TypeAttribute, Pairs: pairs, Inner: &inner}
}

// unwrap strips attribute decoration so accessors see the carried value.
func (v Value) unwrap() Value {
	for v.Type == TypeAttribute && v.Inner != nil {
		v = *v.Inner
	}
	return v
}

// IsNull reports whether the value is the null variant (including the
// RESP2 legacy null bulk string and null array forms, which decode to it).
func (v Value) IsNull() bool { return v.unwrap().Type == TypeNull }

// IsError reports whether the value is an error frame (simple or bulk).
func (v Value) IsError() bool {
	t := v.unwrap().Type
	return t == TypeSimpleError || t == TypeBulkError
}

// IsPush reports whether the value is an out-of-band push frame.
func (v Value) IsPush() bool { return v.unwrap().Type == TypePush }

// ErrorMessage returns the message of an error frame.
func (v Value) ErrorMessage() (string, bool) {
	switch u := v.unwrap(); u.Type {
	case TypeSimpleError:
		return u.Str, true
	case TypeBulkError:
		return string(u.Bulk), true
	}
	return "", false
}

// AsStr coerces string-like variants to a string.
func (v Value) AsStr() (string, bool) {
	switch u := v.unwrap(); u.Type {
	case TypeSimpleString, TypeBigNumber, TypeVerbatim:
		return u.Str, true
	case TypeBulkString:
		return string(u.Bulk), true
	}
	return "", false
}

// AsBytes coerces string-like variants to their raw bytes.
func (v Value) AsBytes() ([]byte, bool) {
	switch u := v.unwrap(); u.Type {
	case TypeBulkString, TypeBulkError:
		return u.Bulk, true
	case TypeSimpleString, TypeBigNumber, TypeVerbatim:
		return []byte(u.Str), true
	}
	return nil, false
}

// AsInt coerces the value to an int64. Integers convert directly;
// string-like variants are parsed as base-10.
func (v Value) AsInt() (int64, bool) {
	u := v.unwrap()
	if u.Type == TypeInteger {
		return u.Int, true
	}
	if s, ok := u.AsStr(); ok {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

// AsFloat coerces the value to a float64. Doubles and integers convert
// directly; string-like variants are parsed.
func (v Value) AsFloat() (float64, bool) {
	switch u := v.unwrap(); u.Type {
	case TypeDouble:
		return u.Float, true
	case TypeInteger:
		return float64(u.Int), true
	default:
		if s, ok := u.AsStr(); ok {
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// AsBool coerces the value to a bool. Booleans convert directly; integers
// follow the 0/1 convention.
func (v Value) AsBool() (bool, bool) {
	switch u := v.unwrap(); u.Type {
	case TypeBoolean:
		return u.Bool, true
	case TypeInteger:
		return u.Int != 0, true
	}
	return false, false
}

// AsArray returns the elements of an array, set, or push payload.
func (v Value) AsArray() ([]Value, bool) {
	switch u := v.unwrap(); u.Type {
	case TypeArray, TypeSet, TypePush:
		return u.Elems, true
	}
	return nil, false
}

// AsMap returns the ordered pairs of a map reply.
func (v Value) AsMap() ([]Pair, bool) {
	if u := v.unwrap(); u.Type == TypeMap {
		return u.Pairs, true
	}
	return nil, false
}

// Equal reports structural equality. Unlike ==/reflect.DeepEqual it treats
// two NaN doubles as equal, so round-trip comparisons of ,nan work.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case TypeNull:
		return true
	case TypeSimpleString, TypeSimpleError, TypeBigNumber:
		return v.Str == o.Str
	case TypeInteger:
		return v.Int == o.Int
	case TypeBoolean:
		return v.Bool == o.Bool
	case TypeDouble:
		if math.IsNaN(v.Float) && math.IsNaN(o.Float) {
			return true
		}
		return v.Float == o.Float
	case TypeBulkString, TypeBulkError:
		return string(v.Bulk) == string(o.Bulk)
	case TypeVerbatim:
		return v.Format == o.Format && v.Str == o.Str
	case TypeArray, TypeSet:
		return elemsEqual(v.Elems, o.Elems)
	case TypePush:
		return v.Str == o.Str && elemsEqual(v.Elems, o.Elems)
	case TypeMap:
		return pairsEqual(v.Pairs, o.Pairs)
	case TypeAttribute:
		if !pairsEqual(v.Pairs, o.Pairs) {
			return false
		}
		if (v.Inner == nil) != (o.Inner == nil) {
			return false
		}
		return v.Inner == nil || v.Inner.Equal(*o.Inner)
	}
	return false
}

func elemsEqual(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

func pairsEqual(a, b []Pair) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Key.Equal(b[i].Key) || !a[i].Value.Equal(b[i].Value) {
			return false
		}
	}
	return true
}
