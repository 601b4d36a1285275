package document

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// MarshalJSON renders v as compact JSON. Object property order is kept.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := FromJSON(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func (o *Object) MarshalJSON() ([]byte, error) {
	return ObjectValue(o).MarshalJSON()
}

func (o *Object) UnmarshalJSON(data []byte) error {
	v, err := FromJSON(data)
	if err != nil {
		return err
	}
	if v.Kind() != KindObject {
		return fmt.Errorf("expected JSON object, got %s", v.Kind())
	}
	*o = *v.Object()
	return nil
}

// CompactJSON is the canonical compact JSON text of v.
func CompactJSON(v Value) string {
	var buf bytes.Buffer
	_ = writeJSON(&buf, v)
	return buf.String()
}

func writeJSON(buf *bytes.Buffer, v Value) error {
	switch v.kind {
	case KindNull, KindMissing, KindExplicitNull:
		buf.WriteString("null")
	case KindEmpty:
		buf.WriteString(`""`)
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.flag))
	case KindInt32, KindInt64:
		buf.WriteString(strconv.FormatInt(v.i, 10))
	case KindFloat32, KindFloat64:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			writeString(buf, FormatFloat(v.f, 64))
			return nil
		}
		bits := 64
		if v.kind == KindFloat32 {
			bits = 32
		}
		buf.WriteString(strconv.FormatFloat(v.f, 'g', -1, bits))
	case KindDecimal:
		buf.WriteString(TrimDecimal(v.s))
	case KindText:
		writeString(buf, v.s)
	case KindDateTime, KindDateTimeOffset, KindDuration, KindPoint:
		writeString(buf, v.Invariant())
	case KindBytes:
		writeString(buf, base64.StdEncoding.EncodeToString(v.raw))
	case KindArray:
		buf.WriteByte('[')
		for i, e := range v.elems {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSON(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, p := range v.obj.Properties() {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, p.Name)
			buf.WriteByte(':')
			if err := writeJSON(buf, p.Value); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case KindBoosted:
		return writeJSON(buf, v.Inner())
	default:
		return fmt.Errorf("cannot render %s as JSON", v.kind)
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}

// FromJSON parses JSON text into a Value, keeping object property order.
// Integers become Int32 or Int64 by magnitude, other numbers Float64, and
// strings in the fixed date layouts become temporal values.
func FromJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeJSON(dec)
	if err != nil {
		return Value{}, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return Value{}, fmt.Errorf("trailing data after JSON value")
	}
	return v, nil
}

// ParseObject parses a JSON object.
func ParseObject(data []byte) (*Object, error) {
	v, err := FromJSON(data)
	if err != nil {
		return nil, err
	}
	if v.Kind() != KindObject {
		return nil, fmt.Errorf("expected JSON object, got %s", v.Kind())
	}
	return v.Object(), nil
}

func decodeJSON(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, fmt.Errorf("reading JSON token: %w", err)
	}
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return numberValue(t), nil
	case string:
		return stringValue(t), nil
	case json.Delim:
		switch t {
		case '[':
			var elems []Value
			for dec.More() {
				e, err := decodeJSON(dec)
				if err != nil {
					return Value{}, err
				}
				elems = append(elems, e)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, fmt.Errorf("closing JSON array: %w", err)
			}
			return Array(elems...), nil
		case '{':
			obj := &Object{}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, fmt.Errorf("reading JSON key: %w", err)
				}
				key, _ := keyTok.(string)
				val, err := decodeJSON(dec)
				if err != nil {
					return Value{}, err
				}
				obj.Set(key, val)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, fmt.Errorf("closing JSON object: %w", err)
			}
			return ObjectValue(obj), nil
		}
	}
	return Value{}, fmt.Errorf("unexpected JSON token %v", tok)
}

func numberValue(n json.Number) Value {
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		if i >= math.MinInt32 && i <= math.MaxInt32 {
			return Int32(int32(i))
		}
		return Int64(i)
	}
	f, _ := n.Float64()
	return Float64(f)
}

func stringValue(s string) Value {
	if len(s) >= len("2006-01-02T15:04:05.0000000") && s[4] == '-' && s[10] == 'T' {
		if v, err := ParseDateTime(s); err == nil {
			return v
		}
	}
	return String(s)
}

// FromAny converts plain Go values into a Value. Maps become objects with
// keys in sorted order; slices and arrays become Array values.
func FromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case *Object:
		return ObjectValue(t)
	case Object:
		return ObjectValue(&t)
	case bool:
		return Bool(t)
	case int8:
		return Int32(int32(t))
	case int16:
		return Int32(int32(t))
	case int32:
		return Int32(t)
	case uint8:
		return Int32(int32(t))
	case uint16:
		return Int32(int32(t))
	case int:
		return Int64(int64(t))
	case int64:
		return Int64(t)
	case uint32:
		return Int64(int64(t))
	case uint:
		return Int64(int64(t))
	case uint64:
		return Int64(int64(t))
	case float32:
		return Float32(t)
	case float64:
		return Float64(t)
	case json.Number:
		return numberValue(t)
	case string:
		return String(t)
	case []byte:
		return Bytes(t)
	case time.Time:
		return DateTime(t)
	case time.Duration:
		return Duration(t)
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		obj := &Object{}
		for _, k := range keys {
			obj.Set(k, FromAny(t[k]))
		}
		return ObjectValue(obj)
	case []any:
		elems := make([]Value, len(t))
		for i, e := range t {
			elems[i] = FromAny(e)
		}
		return Array(elems...)
	}

	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		elems := make([]Value, rv.Len())
		for i := range elems {
			elems[i] = FromAny(rv.Index(i).Interface())
		}
		return Array(elems...)
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			keys := rv.MapKeys()
			sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
			obj := &Object{}
			for _, k := range keys {
				obj.Set(k.String(), FromAny(rv.MapIndex(k).Interface()))
			}
			return ObjectValue(obj)
		}
	case reflect.Pointer:
		if rv.IsNil() {
			return Null()
		}
		return FromAny(rv.Elem().Interface())
	}
	return String(strings.TrimSpace(fmt.Sprint(x)))
}

// ObjectFromMap is FromAny for map literals, used heavily by map functions.
func ObjectFromMap(m map[string]any) *Object {
	return FromAny(m).Object()
}
