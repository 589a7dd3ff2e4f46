package op

import (
	"bytes"
	"fmt"
	"strconv"
)

// ValueKind tags the variant held by a Value.
type ValueKind byte

const (
	NoValue     ValueKind = 0
	StringValue ValueKind = 'S'
	NumberValue ValueKind = 'N'
	BoolValue   ValueKind = 'B'
	BytesValue  ValueKind = 'Y'
	RefValue    ValueKind = 'R'
)

func (k ValueKind) String() string {
	switch k {
	case StringValue:
		return "string"
	case NumberValue:
		return "number"
	case BoolValue:
		return "boolean"
	case BytesValue:
		return "bytes"
	case RefValue:
		return "objectId"
	default:
		return "none"
	}
}

// Value is a map entry value: a primitive or a reference to another
// object in the pool. The zero Value holds nothing.
type Value struct {
	kind  ValueKind
	str   string
	num   float64
	flag  bool
	bytes []byte
}

func String(s string) Value { return Value{kind: StringValue, str: s} }

func Number(n float64) Value { return Value{kind: NumberValue, num: n} }

func Bool(b bool) Value { return Value{kind: BoolValue, flag: b} }

func Bytes(b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{kind: BytesValue, bytes: cp}
}

func Ref(id ObjectID) Value { return Value{kind: RefValue, str: string(id)} }

func (v Value) Kind() ValueKind { return v.kind }

func (v Value) IsZero() bool { return v.kind == NoValue }

func (v Value) AsString() (string, bool) {
	return v.str, v.kind == StringValue
}

func (v Value) AsNumber() (float64, bool) {
	return v.num, v.kind == NumberValue
}

func (v Value) AsBool() (bool, bool) {
	return v.flag, v.kind == BoolValue
}

// AsBytes returns the stored slice; callers must not modify it.
func (v Value) AsBytes() ([]byte, bool) {
	return v.bytes, v.kind == BytesValue
}

func (v Value) AsRef() (ObjectID, bool) {
	return ObjectID(v.str), v.kind == RefValue
}

func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case StringValue, RefValue:
		return v.str == other.str
	case NumberValue:
		return v.num == other.num
	case BoolValue:
		return v.flag == other.flag
	case BytesValue:
		return bytes.Equal(v.bytes, other.bytes)
	}
	return true
}

func (v Value) String() string {
	switch v.kind {
	case StringValue:
		return strconv.Quote(v.str)
	case NumberValue:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case BoolValue:
		return strconv.FormatBool(v.flag)
	case BytesValue:
		return fmt.Sprintf("bytes(%x)", v.bytes)
	case RefValue:
		return "{" + v.str + "}"
	}
	return "none"
}
