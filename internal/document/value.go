// Package document defines the value model handed to the indexing engine.
//
// A Value is a closed tagged variant produced by the caller's serialization
// layer (FromAny, FromJSON). The field encoder, the reduce-key codec and the
// projection read-back path all switch exhaustively over Kind instead of
// probing dynamic types.
package document

import (
	"bytes"
	"math"
	"time"
)

type Kind uint8

const (
	KindNull Kind = iota
	// KindMissing is a null marker for a property that was never set.
	KindMissing
	// KindExplicitNull is a null marker for a property explicitly set to null.
	KindExplicitNull
	KindEmpty
	KindBool
	KindInt32
	KindInt64
	KindFloat32
	KindFloat64
	KindDecimal
	KindText
	KindDateTime
	KindDateTimeOffset
	KindDuration
	KindBytes
	KindArray
	KindObject
	KindBoosted
	KindPoint
)

var kindNames = [...]string{
	KindNull:           "null",
	KindMissing:        "missing",
	KindExplicitNull:   "explicit-null",
	KindEmpty:          "empty",
	KindBool:           "bool",
	KindInt32:          "int32",
	KindInt64:          "int64",
	KindFloat32:        "float32",
	KindFloat64:        "float64",
	KindDecimal:        "decimal",
	KindText:           "text",
	KindDateTime:       "datetime",
	KindDateTimeOffset: "datetime-offset",
	KindDuration:       "duration",
	KindBytes:          "bytes",
	KindArray:          "array",
	KindObject:         "object",
	KindBoosted:        "boosted",
	KindPoint:          "point",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Value is an immutable structured value. The zero Value is Null.
type Value struct {
	kind  Kind
	flag  bool
	i     int64
	f     float64
	g     float64
	s     string
	t     time.Time
	raw   []byte
	elems []Value
	obj   *Object
	inner *Value
}

func Null() Value         { return Value{kind: KindNull} }
func Missing() Value      { return Value{kind: KindMissing} }
func ExplicitNull() Value { return Value{kind: KindExplicitNull} }

// String returns Text, or Empty for the empty string.
func String(s string) Value {
	if s == "" {
		return Value{kind: KindEmpty}
	}
	return Value{kind: KindText, s: s}
}

func Bool(b bool) Value              { return Value{kind: KindBool, flag: b} }
func Int32(n int32) Value            { return Value{kind: KindInt32, i: int64(n)} }
func Int64(n int64) Value            { return Value{kind: KindInt64, i: n} }
func Float32(f float32) Value        { return Value{kind: KindFloat32, f: float64(f)} }
func Float64(f float64) Value        { return Value{kind: KindFloat64, f: f} }
func Duration(d time.Duration) Value { return Value{kind: KindDuration, i: int64(d)} }

// Decimal holds an exact decimal number in its textual form. The text must be
// a plain decimal literal (optional sign, digits, optional fraction).
func Decimal(text string) (Value, error) {
	if !isDecimalLiteral(text) {
		return Value{}, &FormatError{Kind: KindDecimal, Input: text}
	}
	return Value{kind: KindDecimal, s: text}, nil
}

// MustDecimal is Decimal for literals known to be valid.
func MustDecimal(text string) Value {
	v, err := Decimal(text)
	if err != nil {
		panic(err)
	}
	return v
}

// DateTime stores a calendar timestamp. Timestamps in UTC keep a UTC flag;
// any other location is reduced to its wall clock.
func DateTime(t time.Time) Value {
	utc := t.Location() == time.UTC
	wall := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	return Value{kind: KindDateTime, t: wall, flag: utc}
}

// DateTimeOffset stores a timestamp together with its UTC offset.
func DateTimeOffset(t time.Time) Value {
	return Value{kind: KindDateTimeOffset, t: t}
}

func Bytes(b []byte) Value {
	return Value{kind: KindBytes, raw: bytes.Clone(b)}
}

func Array(elems ...Value) Value {
	return Value{kind: KindArray, elems: elems}
}

func ObjectValue(o *Object) Value {
	if o == nil {
		return Null()
	}
	return Value{kind: KindObject, obj: o}
}

// Boosted wraps v with an index-time boost applied to every field it produces.
func Boosted(v Value, boost float32) Value {
	inner := v
	return Value{kind: KindBoosted, f: float64(boost), inner: &inner}
}

// Point is a geographic coordinate for spatial fields.
func Point(lat, lng float64) Value {
	return Value{kind: KindPoint, f: lat, g: lng}
}

func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is any of the null kinds.
func (v Value) IsNull() bool {
	return v.kind == KindNull || v.kind == KindMissing || v.kind == KindExplicitNull
}

func (v Value) IsNumeric() bool {
	switch v.kind {
	case KindInt32, KindInt64, KindFloat32, KindFloat64, KindDecimal:
		return true
	}
	return false
}

func (v Value) IsTemporal() bool {
	return v.kind == KindDateTime || v.kind == KindDateTimeOffset || v.kind == KindDuration
}

func (v Value) Bool() bool { return v.flag }

// Int returns the integer payload of Int32, Int64 and Duration values.
func (v Value) Int() int64 { return v.i }

// Float returns the numeric payload as float64 for any numeric kind.
func (v Value) Float() float64 {
	switch v.kind {
	case KindInt32, KindInt64:
		return float64(v.i)
	case KindDecimal:
		f, _ := parseDecimalFloat(v.s)
		return f
	}
	return v.f
}

// Text returns the string payload of Text and Decimal values.
func (v Value) Text() string { return v.s }

func (v Value) Time() time.Time { return v.t }

// IsUTC reports whether a DateTime value was created from a UTC timestamp.
func (v Value) IsUTC() bool { return v.kind == KindDateTime && v.flag }

func (v Value) Duration() time.Duration { return time.Duration(v.i) }

// Ticks returns a duration as a count of 100ns intervals.
func (v Value) Ticks() int64 { return v.i / 100 }

func (v Value) Bytes() []byte { return v.raw }

func (v Value) Elems() []Value { return v.elems }

func (v Value) Object() *Object { return v.obj }

func (v Value) Boost() float32 { return float32(v.f) }

func (v Value) Inner() Value {
	if v.inner == nil {
		return Null()
	}
	return *v.inner
}

func (v Value) LatLng() (float64, float64) { return v.f, v.g }

// Equal reports structural equality.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull, KindMissing, KindExplicitNull, KindEmpty:
		return true
	case KindBool:
		return a.flag == b.flag
	case KindInt32, KindInt64, KindDuration:
		return a.i == b.i
	case KindFloat32, KindFloat64:
		return a.f == b.f || (math.IsNaN(a.f) && math.IsNaN(b.f))
	case KindDecimal, KindText:
		return a.s == b.s
	case KindDateTime:
		return a.flag == b.flag && a.t.Equal(b.t)
	case KindDateTimeOffset:
		_, ao := a.t.Zone()
		_, bo := b.t.Zone()
		return ao == bo && a.t.Equal(b.t)
	case KindBytes:
		return bytes.Equal(a.raw, b.raw)
	case KindArray:
		if len(a.elems) != len(b.elems) {
			return false
		}
		for i := range a.elems {
			if !Equal(a.elems[i], b.elems[i]) {
				return false
			}
		}
		return true
	case KindObject:
		return a.obj.Equal(b.obj)
	case KindBoosted:
		return a.f == b.f && Equal(a.Inner(), b.Inner())
	case KindPoint:
		return a.f == b.f && a.g == b.g
	}
	return false
}

// FormatError reports text that cannot be parsed as the requested kind.
type FormatError struct {
	Kind  Kind
	Input string
}

func (e *FormatError) Error() string {
	return "invalid " + e.Kind.String() + " literal " + quote(e.Input)
}

func quote(s string) string {
	if len(s) > 64 {
		s = s[:64] + "..."
	}
	return `"` + s + `"`
}
