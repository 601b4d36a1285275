package encoder

import (
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/definition"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/index"
)

// Decode rebuilds a projection from the stored fields of an index entry.
// Derived fields are folded back into the value they were produced from and
// the document id field is left out.
func Decode(stored []index.StoredField) *document.Object {
	var order []string
	values := make(map[string][]document.Value)
	arrays := make(map[string]bool)
	convert := make(map[string]bool)

	note := func(name string) {
		if _, ok := values[name]; !ok {
			values[name] = nil
			order = append(order, name)
		}
	}
	for _, sf := range stored {
		switch {
		case sf.Name == definition.DocumentIDField:
		case strings.HasSuffix(sf.Name, RangeSuffix):
		case strings.HasSuffix(sf.Name, IsArraySuffix):
			base := strings.TrimSuffix(sf.Name, IsArraySuffix)
			arrays[base] = true
			note(base)
		case strings.HasSuffix(sf.Name, ConvertToJSONSuffix):
			convert[strings.TrimSuffix(sf.Name, ConvertToJSONSuffix)] = true
		default:
			note(sf.Name)
			values[sf.Name] = append(values[sf.Name], storedValue(sf))
		}
	}

	out := document.NewObject()
	for _, name := range order {
		vals := values[name]
		if convert[name] {
			for i, v := range vals {
				if v.Kind() != document.KindText {
					continue
				}
				if parsed, err := document.FromJSON([]byte(v.Text())); err == nil {
					vals[i] = parsed
				}
			}
		}
		if len(vals) == 1 && !arrays[name] {
			out.Set(name, vals[0])
			continue
		}
		out.Set(name, document.Array(vals...))
	}
	return out
}

// storedValue restores a single stored value using the kind recorded at
// encoding time. Values that no longer parse come back as text.
func storedValue(sf index.StoredField) document.Value {
	if sf.Binary != nil || sf.Kind == document.KindBytes {
		return document.Bytes(sf.Binary)
	}
	switch sf.Value {
	case NullValue:
		return document.Null()
	case EmptyString:
		return document.String("")
	}
	s := sf.Value
	switch sf.Kind {
	case document.KindBool:
		if b, err := strconv.ParseBool(s); err == nil {
			return document.Bool(b)
		}
	case document.KindInt32:
		if n, err := strconv.ParseInt(s, 10, 32); err == nil {
			return document.Int32(int32(n))
		}
	case document.KindInt64:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return document.Int64(n)
		}
	case document.KindFloat32:
		if f, ok := parseFloat(s, 32); ok {
			return document.Float32(float32(f))
		}
	case document.KindFloat64:
		if f, ok := parseFloat(s, 64); ok {
			return document.Float64(f)
		}
	case document.KindDecimal:
		if v, err := document.Decimal(s); err == nil {
			return v
		}
	case document.KindDateTime, document.KindDateTimeOffset:
		if v, err := document.ParseDateTime(s); err == nil {
			return v
		}
	case document.KindDuration:
		if d, err := document.ParseDuration(s); err == nil {
			return document.Duration(d)
		}
	case document.KindPoint:
		if lat, lng, err := document.ParsePoint(s); err == nil {
			return document.Point(lat, lng)
		}
	case document.KindObject:
		if v, err := document.FromJSON([]byte(s)); err == nil {
			return v
		}
	}
	return document.String(s)
}

func parseFloat(s string, bits int) (float64, bool) {
	switch s {
	case "Infinity":
		s = "+Inf"
	case "-Infinity":
		s = "-Inf"
	}
	f, err := strconv.ParseFloat(s, bits)
	return f, err == nil
}
