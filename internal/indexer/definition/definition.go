// Package definition describes user-defined indexes: the map and reduce
// functions that produce index entries and the per-field storage, indexing,
// term-vector, sort and analyzer options applied when encoding them.
package definition

import (
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/document"
)

// Reserved field names.
const (
	DocumentIDField = "__document_id"
	ReduceKeyField  = "__reduce_key"
	// AllFields in a fetch list means "return every stored field".
	AllFields = "__all_fields"
	// CatchAll in Fields allows queries on fields not declared up front.
	CatchAll = "_"
	// ScoreField and TempScoreField sort by relevance.
	ScoreField     = "__score"
	TempScoreField = "temp-index-score"
	// RandomField prefixes random sort keys.
	RandomField = "__random"
	// DistanceField sorts by distance from the query's spatial center.
	DistanceField = "__distance"
	// DefaultSpatialField is used when a spatial query names no field.
	DefaultSpatialField = "__spatial"
)

type Storage uint8

const (
	StorageDefault Storage = iota
	StorageNo
	StorageYes
)

type Indexing uint8

const (
	IndexingDefault Indexing = iota
	IndexingNo
	IndexingAnalyzed
	IndexingNotAnalyzed
)

type TermVector uint8

const (
	TermVectorNo TermVector = iota
	TermVectorYes
	TermVectorWithPositions
	TermVectorWithOffsets
	TermVectorWithPositionsAndOffsets
)

// SortOption is a hint on how a field is compared when sorting.
type SortOption uint8

const (
	SortNone SortOption = iota
	SortString
	SortInt
	SortLong
	SortFloat
	SortDouble
	SortShort
	SortByte
)

func (s SortOption) Numeric() bool {
	switch s {
	case SortInt, SortLong, SortFloat, SortDouble, SortShort, SortByte:
		return true
	}
	return false
}

// MapFunc turns one source document into zero or more index records.
type MapFunc func(doc document.Document) ([]*document.Object, error)

// ReduceFunc aggregates records. It receives records that may span several
// reduce keys and must group them itself; its output has the same shape as
// the map output so that it can be applied repeatedly.
type ReduceFunc func(records []*document.Object) ([]*document.Object, error)

// GroupByFunc extracts the reduce key value from a map or reduce record.
type GroupByFunc func(record *document.Object) document.Value

// Spatial configures a geographic point field.
type Spatial struct {
	// ErrorPct is the allowed distance error as a fraction of the radius.
	ErrorPct float64
}

// Index is an immutable index definition. Replacing a definition requires
// rebuilding the index.
type Index struct {
	Name    string
	Maps    []MapFunc
	Reduce  ReduceFunc
	GroupBy GroupByFunc

	// Fields lists the fields the index produces. CatchAll allows any field.
	Fields []string

	Stores      map[string]Storage
	Indexes     map[string]Indexing
	TermVectors map[string]TermVector
	SortOptions map[string]SortOption
	Analyzers   map[string]string
	Spatial     map[string]Spatial

	// IsTemp marks auto-created indexes that start in memory.
	IsTemp bool
}

// Validate checks the definition is usable.
func (d *Index) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("index definition has no name")
	}
	if len(d.Maps) == 0 {
		return fmt.Errorf("index %q has no map function", d.Name)
	}
	if d.Reduce != nil && d.GroupBy == nil {
		return fmt.Errorf("index %q has a reduce function but no group-by", d.Name)
	}
	if d.Reduce == nil && d.GroupBy != nil {
		return fmt.Errorf("index %q has a group-by but no reduce function", d.Name)
	}
	return nil
}

func (d *Index) IsMapReduce() bool { return d.Reduce != nil }

// ContainsField reports whether queries may reference name.
func (d *Index) ContainsField(name string) bool {
	if name == DocumentIDField || (d.IsMapReduce() && name == ReduceKeyField) {
		return true
	}
	if _, ok := d.Spatial[name]; ok {
		return true
	}
	for _, f := range d.Fields {
		if f == name || f == CatchAll {
			return true
		}
	}
	return false
}

func (d *Index) StorageFor(name string, def Storage) Storage {
	if s, ok := d.Stores[name]; ok && s != StorageDefault {
		return s
	}
	return def
}

// IndexingFor returns the configured indexing mode or IndexingDefault.
func (d *Index) IndexingFor(name string) Indexing {
	return d.Indexes[name]
}

func (d *Index) TermVectorFor(name string) TermVector {
	return d.TermVectors[name]
}

func (d *Index) SortFor(name string) SortOption {
	return d.SortOptions[name]
}

// AnalyzerFor returns the configured analyzer name, or "".
func (d *Index) AnalyzerFor(name string) string {
	return d.Analyzers[name]
}
