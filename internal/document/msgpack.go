package document

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Values travel through the record store and segment files as msgpack
// arrays of [kind, payload], which keeps every kind distinction that JSON
// would lose (int32 vs int64, decimal text, UTC flags, offsets).

func (v Value) EncodeMsgpack(enc *msgpack.Encoder) error {
	return encodeValue(enc, v)
}

func (v *Value) DecodeMsgpack(dec *msgpack.Decoder) error {
	decoded, err := decodeValue(dec)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

func (o *Object) EncodeMsgpack(enc *msgpack.Encoder) error {
	return encodeValue(enc, ObjectValue(o))
}

func (o *Object) DecodeMsgpack(dec *msgpack.Decoder) error {
	v, err := decodeValue(dec)
	if err != nil {
		return err
	}
	if v.Kind() != KindObject {
		return fmt.Errorf("expected object, got %s", v.Kind())
	}
	*o = *v.Object()
	return nil
}

// MarshalObject encodes an object for storage.
func MarshalObject(o *Object) ([]byte, error) {
	return msgpack.Marshal(o)
}

// UnmarshalObject decodes bytes written by MarshalObject.
func UnmarshalObject(data []byte) (*Object, error) {
	o := &Object{}
	if err := msgpack.Unmarshal(data, o); err != nil {
		return nil, fmt.Errorf("decoding object: %w", err)
	}
	return o, nil
}

func encodeValue(enc *msgpack.Encoder, v Value) error {
	if err := enc.EncodeArrayLen(2); err != nil {
		return err
	}
	if err := enc.EncodeUint8(uint8(v.kind)); err != nil {
		return err
	}
	switch v.kind {
	case KindNull, KindMissing, KindExplicitNull, KindEmpty:
		return enc.EncodeNil()
	case KindBool:
		return enc.EncodeBool(v.flag)
	case KindInt32, KindInt64, KindDuration:
		return enc.EncodeInt(v.i)
	case KindFloat32, KindFloat64:
		return enc.EncodeFloat64(v.f)
	case KindDecimal, KindText:
		return enc.EncodeString(v.s)
	case KindDateTime:
		if err := enc.EncodeArrayLen(2); err != nil {
			return err
		}
		if err := enc.EncodeInt(v.t.UnixNano()); err != nil {
			return err
		}
		return enc.EncodeBool(v.flag)
	case KindDateTimeOffset:
		_, offset := v.t.Zone()
		if err := enc.EncodeArrayLen(2); err != nil {
			return err
		}
		if err := enc.EncodeInt(v.t.UnixNano()); err != nil {
			return err
		}
		return enc.EncodeInt(int64(offset))
	case KindBytes:
		return enc.EncodeBytes(v.raw)
	case KindArray:
		if err := enc.EncodeArrayLen(len(v.elems)); err != nil {
			return err
		}
		for _, e := range v.elems {
			if err := encodeValue(enc, e); err != nil {
				return err
			}
		}
		return nil
	case KindObject:
		props := v.obj.Properties()
		if err := enc.EncodeArrayLen(len(props) * 2); err != nil {
			return err
		}
		for _, p := range props {
			if err := enc.EncodeString(p.Name); err != nil {
				return err
			}
			if err := encodeValue(enc, p.Value); err != nil {
				return err
			}
		}
		return nil
	case KindBoosted:
		if err := enc.EncodeArrayLen(2); err != nil {
			return err
		}
		if err := enc.EncodeFloat64(v.f); err != nil {
			return err
		}
		return encodeValue(enc, v.Inner())
	case KindPoint:
		if err := enc.EncodeArrayLen(2); err != nil {
			return err
		}
		if err := enc.EncodeFloat64(v.f); err != nil {
			return err
		}
		return enc.EncodeFloat64(v.g)
	}
	return fmt.Errorf("cannot encode value of kind %d", v.kind)
}

func decodeValue(dec *msgpack.Decoder) (Value, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return Value{}, err
	}
	if n != 2 {
		return Value{}, fmt.Errorf("malformed value: array of %d", n)
	}
	k, err := dec.DecodeUint8()
	if err != nil {
		return Value{}, err
	}
	kind := Kind(k)
	switch kind {
	case KindNull, KindMissing, KindExplicitNull, KindEmpty:
		return Value{kind: kind}, dec.DecodeNil()
	case KindBool:
		b, err := dec.DecodeBool()
		return Value{kind: kind, flag: b}, err
	case KindInt32, KindInt64, KindDuration:
		i, err := dec.DecodeInt64()
		return Value{kind: kind, i: i}, err
	case KindFloat32, KindFloat64:
		f, err := dec.DecodeFloat64()
		return Value{kind: kind, f: f}, err
	case KindDecimal, KindText:
		s, err := dec.DecodeString()
		return Value{kind: kind, s: s}, err
	case KindDateTime:
		if _, err := dec.DecodeArrayLen(); err != nil {
			return Value{}, err
		}
		nanos, err := dec.DecodeInt64()
		if err != nil {
			return Value{}, err
		}
		utc, err := dec.DecodeBool()
		return Value{kind: kind, t: time.Unix(0, nanos).UTC(), flag: utc}, err
	case KindDateTimeOffset:
		if _, err := dec.DecodeArrayLen(); err != nil {
			return Value{}, err
		}
		nanos, err := dec.DecodeInt64()
		if err != nil {
			return Value{}, err
		}
		offset, err := dec.DecodeInt64()
		if err != nil {
			return Value{}, err
		}
		zone := time.FixedZone("", int(offset))
		return Value{kind: kind, t: time.Unix(0, nanos).In(zone)}, nil
	case KindBytes:
		b, err := dec.DecodeBytes()
		return Value{kind: kind, raw: b}, err
	case KindArray:
		count, err := dec.DecodeArrayLen()
		if err != nil {
			return Value{}, err
		}
		elems := make([]Value, 0, max(count, 0))
		for range count {
			e, err := decodeValue(dec)
			if err != nil {
				return Value{}, err
			}
			elems = append(elems, e)
		}
		return Array(elems...), nil
	case KindObject:
		count, err := dec.DecodeArrayLen()
		if err != nil {
			return Value{}, err
		}
		obj := &Object{props: make([]Property, 0, max(count/2, 0))}
		for i := 0; i < count; i += 2 {
			name, err := dec.DecodeString()
			if err != nil {
				return Value{}, err
			}
			val, err := decodeValue(dec)
			if err != nil {
				return Value{}, err
			}
			obj.props = append(obj.props, Property{Name: name, Value: val})
		}
		return ObjectValue(obj), nil
	case KindBoosted:
		if _, err := dec.DecodeArrayLen(); err != nil {
			return Value{}, err
		}
		boost, err := dec.DecodeFloat64()
		if err != nil {
			return Value{}, err
		}
		inner, err := decodeValue(dec)
		if err != nil {
			return Value{}, err
		}
		return Value{kind: kind, f: boost, inner: &inner}, nil
	case KindPoint:
		if _, err := dec.DecodeArrayLen(); err != nil {
			return Value{}, err
		}
		lat, err := dec.DecodeFloat64()
		if err != nil {
			return Value{}, err
		}
		lng, err := dec.DecodeFloat64()
		return Value{kind: kind, f: lat, g: lng}, err
	}
	return Value{}, fmt.Errorf("unknown value kind %d", k)
}
