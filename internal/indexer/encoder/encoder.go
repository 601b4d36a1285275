// Package encoder turns structured values into index fields and reads stored
// fields back into projections.
package encoder

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/definition"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/errors"
)

// Sentinel values written in place of null and empty strings.
const (
	NullValue   = "NULL_VALUE"
	EmptyString = "EMPTY_STRING"
)

// Suffixes of the derived fields.
const (
	RangeSuffix         = "_Range"
	IsArraySuffix       = "_IsArray"
	ConvertToJSONSuffix = "_ConvertToJson"
)

// MaxBinarySize is the largest binary value that can be stored.
const MaxBinarySize = 1024

type cacheKey struct {
	name       string
	index      index.IndexMode
	store      index.Store
	termVector index.TermVector
	path       string
}

// Encoder encodes the values of one index. It reuses field instances
// between calls, so a field is only valid until the same field is encoded
// again: callers add each document to the writer before encoding the next.
// An Encoder is not safe for concurrent use.
type Encoder struct {
	def   *definition.Index
	cache map[cacheKey]*index.Field
}

func New(def *definition.Index) *Encoder {
	return &Encoder{def: def, cache: make(map[cacheKey]*index.Field)}
}

// Encode produces the fields for one named value.
func (e *Encoder) Encode(name string, v document.Value, defaultStorage index.Store) ([]*index.Field, error) {
	name, err := fieldName(name)
	if err != nil {
		return nil, err
	}
	storage := e.storage(name, defaultStorage)
	return e.encode(nil, name, v, storage, false, "")
}

// EncodeObject encodes every property of rec.
func (e *Encoder) EncodeObject(rec *document.Object, defaultStorage index.Store) ([]*index.Field, error) {
	var out []*index.Field
	for _, p := range rec.Properties() {
		fields, err := e.Encode(p.Name, p.Value, defaultStorage)
		if err != nil {
			return nil, err
		}
		out = append(out, fields...)
	}
	return out, nil
}

// DocumentIDField is the reserved field holding the lower-cased source id.
func (e *Encoder) DocumentIDField(id string) *index.Field {
	return e.field(definition.DocumentIDField, strings.ToLower(id), index.StoreYes, index.IndexNotAnalyzed, index.TermVectorNo, "")
}

// ReduceKeyField is the reserved field holding the reduce key of a
// map-reduce result.
func (e *Encoder) ReduceKeyField(key string) *index.Field {
	return e.field(definition.ReduceKeyField, key, index.StoreYes, index.IndexNotAnalyzed, index.TermVectorNo, "")
}

func fieldName(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", apperrors.Validation("field name cannot be empty")
	}
	first := []rune(name)[0]
	if !unicode.IsLetter(first) && first != '_' {
		name = "_" + name
	}
	return name, nil
}

func (e *Encoder) storage(name string, def index.Store) index.Store {
	d := definition.StorageNo
	if def == index.StoreYes {
		d = definition.StorageYes
	}
	if e.def.StorageFor(name, d) == definition.StorageYes {
		return index.StoreYes
	}
	return index.StoreNo
}

func (e *Encoder) indexMode(name string, def index.IndexMode) index.IndexMode {
	switch e.def.IndexingFor(name) {
	case definition.IndexingNo:
		return index.IndexNo
	case definition.IndexingAnalyzed:
		return index.IndexAnalyzed
	case definition.IndexingNotAnalyzed:
		return index.IndexNotAnalyzed
	}
	return def
}

func (e *Encoder) termVector(name string) index.TermVector {
	switch e.def.TermVectorFor(name) {
	case definition.TermVectorYes:
		return index.TermVectorYes
	case definition.TermVectorWithPositions:
		return index.TermVectorPositions
	case definition.TermVectorWithOffsets:
		return index.TermVectorOffsets
	case definition.TermVectorWithPositionsAndOffsets:
		return index.TermVectorPositionsOffsets
	}
	return index.TermVectorNo
}

// field returns the cached field for the key, reset to the given value.
func (e *Encoder) field(name, value string, store index.Store, mode index.IndexMode, tv index.TermVector, path string) *index.Field {
	key := cacheKey{name: name, index: mode, store: store, termVector: tv, path: path}
	f, ok := e.cache[key]
	if !ok {
		f = &index.Field{Name: name, Store: store, Index: mode, TermVector: tv}
		e.cache[key] = f
	}
	f.Value = value
	f.Binary = nil
	f.Numeric = nil
	f.Point = nil
	f.Boost = 1
	f.OmitNorms = mode != index.IndexAnalyzed
	f.Kind = document.KindText
	return f
}

func (e *Encoder) encode(out []*index.Field, name string, v document.Value, storage index.Store, nested bool, path string) ([]*index.Field, error) {
	switch v.Kind() {
	case document.KindMissing:
		return out, nil

	case document.KindExplicitNull:
		if e.def.SortFor(name) != definition.SortNone {
			return out, nil
		}
		return append(out, e.marker(name, NullValue, storage, path, document.KindNull)), nil

	case document.KindNull:
		return append(out, e.marker(name, NullValue, storage, path, document.KindNull)), nil

	case document.KindEmpty:
		return append(out, e.marker(name, EmptyString, storage, path, document.KindEmpty)), nil

	case document.KindBoosted:
		start := len(out)
		var err error
		out, err = e.encode(out, name, v.Inner(), storage, false, path)
		if err != nil {
			return nil, err
		}
		for _, f := range out[start:] {
			f.Boost *= v.Boost()
			f.OmitNorms = false
		}
		return out, nil

	case document.KindBytes:
		if len(v.Bytes()) > MaxBinarySize {
			return nil, apperrors.Validation("Binary values must be smaller than 1Kb, field %s has %d bytes", name, len(v.Bytes()))
		}
		f := e.field(name, "", index.StoreYes, index.IndexNo, index.TermVectorNo, path)
		f.Binary = v.Bytes()
		f.Kind = document.KindBytes
		return append(out, f), nil

	case document.KindArray:
		analyzed := e.indexMode(name, index.IndexAnalyzed) == index.IndexAnalyzed
		marked := storage == index.StoreNo || nested
		var err error
		for i, el := range v.Elems() {
			if analyzed && el.IsNull() {
				continue
			}
			if !marked {
				f := e.field(name+IsArraySuffix, "true", index.StoreYes, index.IndexNotAnalyzed, index.TermVectorNo, path)
				f.Kind = document.KindBool
				out = append(out, f)
				marked = true
			}
			out, err = e.encode(out, name, el, storage, true, path+"/"+strconv.Itoa(i))
			if err != nil {
				return nil, err
			}
		}
		return out, nil

	case document.KindPoint:
		lat, lng := v.LatLng()
		f := e.field(name, document.FormatPoint(lat, lng), storage, index.IndexNotAnalyzed, index.TermVectorNo, path)
		f.Point = &index.GeoPoint{Lat: lat, Lng: lng}
		f.Kind = document.KindPoint
		return append(out, f), nil

	case document.KindObject:
		f := e.field(name, document.CompactJSON(v), storage, e.indexMode(name, index.IndexNotAnalyzed), e.termVector(name), path)
		f.Kind = document.KindObject
		marker := e.field(name+ConvertToJSONSuffix, "true", index.StoreYes, index.IndexNotAnalyzed, index.TermVectorNo, path)
		marker.Kind = document.KindBool
		return append(out, f, marker), nil
	}

	return e.encodeScalar(out, name, v, storage, path), nil
}

func (e *Encoder) marker(name, sentinel string, storage index.Store, path string, kind document.Kind) *index.Field {
	f := e.field(name, sentinel, storage, index.IndexNotAnalyzed, index.TermVectorNo, path)
	f.Kind = kind
	return f
}

func (e *Encoder) encodeScalar(out []*index.Field, name string, v document.Value, storage index.Store, path string) []*index.Field {
	tv := e.termVector(name)
	var mode index.IndexMode
	switch {
	case v.IsTemporal():
		mode = index.IndexNotAnalyzed
	case e.def.IndexingFor(name) == definition.IndexingNotAnalyzed:
		mode = index.IndexNotAnalyzed
	case v.Kind() == document.KindText:
		mode = e.indexMode(name, index.IndexAnalyzed)
	default:
		mode = e.indexMode(name, index.IndexNotAnalyzed)
	}
	f := e.field(name, v.Invariant(), storage, mode, tv, path)
	f.Kind = v.Kind()
	out = append(out, f)

	if n, ok := e.rangeValue(name, v); ok {
		r := e.field(name+RangeSuffix, "", storage, index.IndexNotAnalyzed, index.TermVectorNo, path)
		r.Numeric = &n
		r.Kind = v.Kind()
		out = append(out, r)
	}
	return out
}

// rangeValue is the raw numeric written to the _Range sibling of numeric,
// decimal and duration values.
func (e *Encoder) rangeValue(name string, v document.Value) (index.Numeric, bool) {
	sort := e.def.SortFor(name)
	switch v.Kind() {
	case document.KindInt32:
		if sort == definition.SortLong {
			return index.IntNumeric(index.NumericInt64, v.Int()), true
		}
		return index.IntNumeric(index.NumericInt32, v.Int()), true
	case document.KindInt64:
		return index.IntNumeric(index.NumericInt64, v.Int()), true
	case document.KindFloat32:
		if sort == definition.SortDouble {
			return index.FloatNumeric(index.NumericFloat64, v.Float()), true
		}
		return index.FloatNumeric(index.NumericFloat32, v.Float()), true
	case document.KindFloat64, document.KindDecimal:
		return index.FloatNumeric(index.NumericFloat64, v.Float()), true
	case document.KindDuration:
		return index.IntNumeric(index.NumericInt64, v.Ticks()), true
	}
	return index.Numeric{}, false
}
