package index

import (
	"math"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/document"
)

type Store uint8

const (
	StoreNo Store = iota
	StoreYes
)

type IndexMode uint8

const (
	IndexNo IndexMode = iota
	IndexAnalyzed
	IndexNotAnalyzed
)

type TermVector uint8

const (
	TermVectorNo TermVector = iota
	TermVectorYes
	TermVectorPositions
	TermVectorOffsets
	TermVectorPositionsOffsets
)

// HasOffsets reports whether the vector keeps token offsets, which the
// highlighter needs.
func (tv TermVector) HasOffsets() bool {
	return tv == TermVectorOffsets || tv == TermVectorPositionsOffsets
}

type NumericKind uint8

const (
	NumericInt32 NumericKind = iota
	NumericInt64
	NumericFloat32
	NumericFloat64
)

// Numeric is a raw, range-comparable numeric value.
type Numeric struct {
	Kind  NumericKind `msgpack:"k"`
	Int   int64       `msgpack:"i,omitempty"`
	Float float64     `msgpack:"f,omitempty"`
}

func IntNumeric(kind NumericKind, n int64) Numeric {
	return Numeric{Kind: kind, Int: n}
}

func FloatNumeric(kind NumericKind, f float64) Numeric {
	if kind == NumericFloat32 {
		f = float64(float32(f))
	}
	return Numeric{Kind: kind, Float: f}
}

func (n Numeric) Float64() float64 {
	switch n.Kind {
	case NumericInt32, NumericInt64:
		return float64(n.Int)
	}
	return n.Float
}

// Compare orders two numerics; NaN sorts after every number.
func (n Numeric) Compare(o Numeric) int {
	if (n.Kind == NumericInt32 || n.Kind == NumericInt64) && (o.Kind == NumericInt32 || o.Kind == NumericInt64) {
		switch {
		case n.Int < o.Int:
			return -1
		case n.Int > o.Int:
			return 1
		}
		return 0
	}
	a, b := n.Float64(), o.Float64()
	switch {
	case math.IsNaN(a) && math.IsNaN(b):
		return 0
	case math.IsNaN(a):
		return 1
	case math.IsNaN(b):
		return -1
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

type GeoPoint struct {
	Lat float64 `msgpack:"a"`
	Lng float64 `msgpack:"o"`
}

// Field is one indexable entry of a document.
type Field struct {
	Name       string
	Value      string
	Binary     []byte
	Numeric    *Numeric
	Point      *GeoPoint
	Store      Store
	Index      IndexMode
	TermVector TermVector
	Boost      float32
	OmitNorms  bool
	// Kind is the value kind the field was encoded from.
	Kind document.Kind
}

// Stored is the retrievable form of a stored field.
func (f *Field) Stored() StoredField {
	sf := StoredField{Name: f.Name, Value: f.Value, Kind: f.Kind}
	if f.Binary != nil {
		sf.Binary = append([]byte(nil), f.Binary...)
	}
	if f.Numeric != nil {
		n := *f.Numeric
		sf.Numeric = &n
	}
	return sf
}

// StoredField is a stored value as returned by a reader.
type StoredField struct {
	Name    string        `msgpack:"n"`
	Value   string        `msgpack:"v,omitempty"`
	Binary  []byte        `msgpack:"b,omitempty"`
	Numeric *Numeric      `msgpack:"x,omitempty"`
	Kind    document.Kind `msgpack:"k"`
}

// Document is the set of fields added to the index for one entry.
type Document struct {
	Fields []*Field
}

func (d *Document) Add(f *Field) {
	d.Fields = append(d.Fields, f)
}

// Clone copies the document and its fields, detaching it from encoders that
// reuse Field values.
func (d *Document) Clone() *Document {
	c := &Document{Fields: make([]*Field, len(d.Fields))}
	for i, f := range d.Fields {
		cf := *f
		c.Fields[i] = &cf
	}
	return c
}

// Get returns the first value of the named field.
func (d *Document) Get(name string) (string, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Term addresses every document holding the exact term in a field.
type Term struct {
	Field string
	Text  string
}
