package executor

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/definition"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/encoder"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/errors"
)

type entry struct {
	key string
	rec *document.Object
}

func analyzersFor(def *definition.Index) *tokenizer.PerField {
	pf := tokenizer.NewPerField(tokenizer.LowerCaseKeyword{})
	for field, mode := range def.Indexes {
		if mode == definition.IndexingAnalyzed {
			pf.Set(field, tokenizer.StandardAnalyzer())
		}
	}
	return pf
}

// build indexes one entry per element the way the indexing pipelines do:
// map-reduce entries carry the reduce key, the others the document id.
func build(t *testing.T, def *definition.Index, entries ...entry) (*Executor, *index.Reader) {
	t.Helper()
	pf := analyzersFor(def)
	w, err := index.OpenWriter(index.RAMDirectory{}, pf)
	require.NoError(t, err)
	enc := encoder.New(def)
	storage := index.StoreNo
	if def.IsMapReduce() {
		storage = index.StoreYes
	}
	for _, e := range entries {
		fields, err := enc.EncodeObject(e.rec, storage)
		require.NoError(t, err)
		d := &index.Document{}
		if def.IsMapReduce() {
			d.Add(enc.ReduceKeyField(e.key))
		} else {
			d.Add(enc.DocumentIDField(e.key))
		}
		for _, f := range fields {
			d.Add(f)
		}
		require.NoError(t, w.AddDocument(d))
	}
	r, err := w.Commit()
	require.NoError(t, err)
	return New(r, def, Options{Analyzers: pf, SnapshotVersion: 7}), r
}

func run(t *testing.T, e *Executor, q Query) ([]Result, Stats) {
	t.Helper()
	op, err := e.Execute(q)
	require.NoError(t, err)
	var out []Result
	for r, err := range op.Results() {
		require.NoError(t, err)
		out = append(out, r)
	}
	return out, op.Stats()
}

func keys(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Key
	}
	return out
}

func obj(props ...document.Property) *document.Object {
	return document.NewObject(props...)
}

func TestPagingSurfacesEveryDocumentOnce(t *testing.T) {
	def := &definition.Index{Name: "Users/ByTag", Fields: []string{"Tag"}}
	var entries []entry
	for _, id := range []string{"users/1", "users/2", "users/3", "users/4", "users/5"} {
		// two matching entries per document, as an array fan-out produces
		entries = append(entries,
			entry{id, obj(document.P("Tag", document.String("x")))},
			entry{id, obj(document.P("Tag", document.String("x")))},
		)
	}
	e, _ := build(t, def, entries...)

	var all []string
	var skipped int
	for start := 0; start < 6; start += 2 {
		page, stats := run(t, e, Query{Query: "Tag:x", Start: start, PageSize: 2})
		all = append(all, keys(page)...)
		skipped += stats.SkippedResults
		assert.Equal(t, 10, stats.TotalResults)
		assert.Equal(t, int64(7), stats.SnapshotVersion)
	}
	assert.Equal(t, []string{"users/1", "users/2", "users/3", "users/4", "users/5"}, all)
	assert.Positive(t, skipped)
}

func TestPageSizeMaxIntReturnsEverything(t *testing.T) {
	def := &definition.Index{Name: "Users/ByTag", Fields: []string{"Tag"}}
	var entries []entry
	for _, id := range []string{"users/1", "users/2", "users/3"} {
		entries = append(entries, entry{id, obj(document.P("Tag", document.String("x")))})
	}
	e, _ := build(t, def, entries...)

	page, _ := run(t, e, Query{Query: "Tag:x", PageSize: math.MaxInt})
	assert.Equal(t, []string{"users/1", "users/2", "users/3"}, keys(page))

	page, _ = run(t, e, Query{Query: "Tag:x", Start: 1, PageSize: math.MaxInt})
	assert.Equal(t, []string{"users/2", "users/3"}, keys(page))
}

func TestDistinctProjections(t *testing.T) {
	def := &definition.Index{
		Name:   "Users/ByCity",
		Fields: []string{"Name", "City", "Age"},
		Stores: map[string]definition.Storage{"Name": definition.StorageYes, "City": definition.StorageYes},
	}
	e, _ := build(t, def,
		entry{"users/1", obj(document.P("Name", document.String("Oren")), document.P("City", document.String("Hadera")), document.P("Age", document.Int32(30)))},
		entry{"users/2", obj(document.P("Name", document.String("Oren")), document.P("City", document.String("Hadera")), document.P("Age", document.Int32(31)))},
		entry{"users/3", obj(document.P("Name", document.String("Ayende")), document.P("City", document.String("Hadera")), document.P("Age", document.Int32(30)))},
	)

	page, stats := run(t, e, Query{Query: "City:Hadera", FieldsToFetch: []string{"Name", "City"}, IsDistinct: true})
	require.Len(t, page, 2)
	assert.Equal(t, 1, stats.SkippedResults)
	assert.Equal(t, "Oren", page[0].Projection.Field("Name").Text())
	assert.Equal(t, "Ayende", page[1].Projection.Field("Name").Text())
	assert.Equal(t, "Hadera", page[1].Projection.Field("City").Text())

	page, _ = run(t, e, Query{Query: "City:Hadera", FieldsToFetch: []string{"Name", "City"}, IsDistinct: true, Start: 1, PageSize: 1})
	require.Len(t, page, 1)
	assert.Equal(t, "Ayende", page[0].Projection.Field("Name").Text())
}

func TestProjectionKeepsEveryEntryOfADocument(t *testing.T) {
	def := &definition.Index{
		Name:   "Orders/ByProduct",
		Fields: []string{"Shop", "Product"},
		Stores: map[string]definition.Storage{"Product": definition.StorageYes},
	}
	e, _ := build(t, def,
		entry{"orders/1", obj(document.P("Shop", document.String("x")), document.P("Product", document.String("apple")))},
		entry{"orders/1", obj(document.P("Shop", document.String("x")), document.P("Product", document.String("pear")))},
		entry{"orders/2", obj(document.P("Shop", document.String("x")), document.P("Product", document.String("plum")))},
	)

	page, stats := run(t, e, Query{Query: "Shop:x", FieldsToFetch: []string{"Product"}})
	require.Len(t, page, 3)
	assert.Equal(t, 0, stats.SkippedResults)
	assert.Equal(t, []string{"orders/1", "orders/1", "orders/2"}, keys(page))
	var products []string
	for _, r := range page {
		products = append(products, r.Projection.Field("Product").Text())
	}
	assert.Equal(t, []string{"apple", "pear", "plum"}, products)

	// without a projection the same document surfaces once
	page, stats = run(t, e, Query{Query: "Shop:x"})
	assert.Equal(t, []string{"orders/1", "orders/2"}, keys(page))
	assert.Equal(t, 1, stats.SkippedResults)
}

func TestIntersection(t *testing.T) {
	def := &definition.Index{Name: "Docs/ByTag", Fields: []string{"Tag"}}
	e, _ := build(t, def,
		entry{"docs/1", obj(document.P("Tag", document.Array(document.String("a"), document.String("b"))))},
		entry{"docs/2", obj(document.P("Tag", document.String("a")))},
		entry{"docs/3", obj(document.P("Tag", document.String("b")))},
	)

	page, stats := run(t, e, Query{Query: "Tag:a INTERSECT Tag:b"})
	assert.Equal(t, []string{"docs/1"}, keys(page))
	assert.Equal(t, 1, stats.TotalResults)

	_, err := e.Execute(Query{Query: "Tag:a INTERSECT  "})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestIntersectionWidensWindow(t *testing.T) {
	def := &definition.Index{Name: "Docs/ByTag", Fields: []string{"Tag", "Extra"}}
	var entries []entry
	for i := range 20 {
		tags := []document.Value{document.String("a")}
		if i >= 15 {
			tags = append(tags, document.String("b"))
		}
		entries = append(entries, entry{key: "docs/" + string(rune('a'+i)), rec: obj(document.P("Tag", document.Array(tags...)))})
	}
	e, _ := build(t, def, entries...)

	page, _ := run(t, e, Query{Query: "Tag:a INTERSECT Tag:b", PageSize: 3})
	assert.Equal(t, []string{"docs/p", "docs/q", "docs/r"}, keys(page))
}

func TestValidation(t *testing.T) {
	def := &definition.Index{Name: "Users/ByName", Fields: []string{"Name"}}
	e, _ := build(t, def, entry{"users/1", obj(document.P("Name", document.String("Oren")))})

	for name, q := range map[string]Query{
		"unknown field":          {Query: "Age:30"},
		"unknown range field":    {Query: "Age_Range:[1 TO 2]"},
		"unknown sort":           {Query: "Name:oren", SortedFields: []SortedField{{Field: "Age"}}},
		"distance without area":  {Query: "Name:oren", SortedFields: []SortedField{{Field: definition.DistanceField}}},
		"negative start":         {Query: "Name:oren", Start: -1},
		"distinct without fetch": {Query: "Name:oren", IsDistinct: true},
		"highlight not stored":   {Query: "Name:oren", HighlightedFields: []HighlightedField{{Field: "Name"}}},
		"bad syntax":             {Query: "Name:(oren"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := e.Execute(q)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrValidation), "got %v", err)
		})
	}

	for _, field := range []string{definition.ScoreField, definition.TempScoreField, definition.RandomField + ";seed", "Name"} {
		_, err := e.Execute(Query{Query: "Name:oren", SortedFields: []SortedField{{Field: field}}})
		assert.NoError(t, err, field)
	}

	catchAll := &definition.Index{Name: "Dynamic", Fields: []string{definition.CatchAll}}
	e, _ = build(t, catchAll, entry{"users/1", obj(document.P("Anything", document.String("x")))})
	_, err := e.Execute(Query{Query: "Anything:x AND Other_Range:[1 TO 2]"})
	assert.NoError(t, err)
}

func TestResultsAreSingleUse(t *testing.T) {
	def := &definition.Index{Name: "Users/ByName", Fields: []string{"Name"}}
	e, _ := build(t, def,
		entry{"users/1", obj(document.P("Name", document.String("Oren")))},
		entry{"users/2", obj(document.P("Name", document.String("Oren")))},
	)
	op, err := e.Execute(Query{Query: "Name:Oren"})
	require.NoError(t, err)

	var first []string
	for r, err := range op.Results() {
		require.NoError(t, err)
		first = append(first, r.Key)
		break
	}
	assert.Equal(t, []string{"users/1"}, first)

	var errs []error
	for _, err := range op.Results() {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrSequenceConsumed)
}

func TestHighlighting(t *testing.T) {
	def := &definition.Index{
		Name:        "Posts/ByBody",
		Fields:      []string{"Body"},
		Stores:      map[string]definition.Storage{"Body": definition.StorageYes},
		Indexes:     map[string]definition.Indexing{"Body": definition.IndexingAnalyzed},
		TermVectors: map[string]definition.TermVector{"Body": definition.TermVectorWithPositionsAndOffsets},
	}
	e, _ := build(t, def, entry{"posts/1", obj(document.P("Body", document.String("The quick brown fox jumps over the lazy dog")))})

	page, _ := run(t, e, Query{Query: "Body:fox", HighlightedFields: []HighlightedField{{Field: "Body", FragmentLength: 100, FragmentCount: 1}}})
	require.Len(t, page, 1)
	assert.Equal(t, []string{"The quick brown <b>fox</b> jumps over the lazy dog"}, page[0].Highlightings["Body"])
	assert.Nil(t, page[0].Projection)

	page, _ = run(t, e, Query{
		Query:               "Body:fox",
		FieldsToFetch:       []string{"Body"},
		HighlightedFields:   []HighlightedField{{Field: "Body", FragmentsField: "BodyFragments"}},
		HighlighterPreTags:  []string{"["},
		HighlighterPostTags: []string{"]"},
	})
	require.Len(t, page, 1)
	assert.Nil(t, page[0].Highlightings)
	frags := page[0].Projection.Field("BodyFragments")
	require.Equal(t, document.KindArray, frags.Kind())
	assert.Equal(t, "The quick brown [fox] jumps over the lazy dog", frags.Elems()[0].Text())
}

func TestFragments(t *testing.T) {
	text := "alpha beta gamma delta epsilon zeta eta theta iota kappa lambda mu"
	toks := tokenizer.Whitespace{}.Tokenize(text)
	var matched []tokenizer.Token
	for _, tok := range toks {
		if tok.Term == "alpha" || tok.Term == "lambda" {
			matched = append(matched, tok)
		}
	}
	got := fragments(text, matched, 20, 2, []string{"<"}, []string{">"})
	require.Len(t, got, 2)
	assert.Contains(t, got[0], "<alpha>")
	assert.Contains(t, got[1], "<lambda>")
	assert.NotContains(t, got[0], "lambda")

	got = fragments(text, matched, 20, 1, []string{"<"}, []string{">"})
	assert.Len(t, got, 1)
}

func TestMapReduceResultsCarryProjection(t *testing.T) {
	def := &definition.Index{
		Name:    "Orders/CountByCategory",
		Fields:  []string{"Category", "Count"},
		Maps:    []definition.MapFunc{func(document.Document) ([]*document.Object, error) { return nil, nil }},
		Reduce:  func(r []*document.Object) ([]*document.Object, error) { return r, nil },
		GroupBy: func(r *document.Object) document.Value { return r.Field("Category") },
	}
	e, _ := build(t, def,
		entry{"books", obj(document.P("Category", document.String("books")), document.P("Count", document.Int64(2)))},
		entry{"toys", obj(document.P("Category", document.String("toys")), document.P("Count", document.Int64(1)))},
	)

	page, _ := run(t, e, Query{Query: "Category:books"})
	require.Len(t, page, 1)
	assert.Equal(t, "books", page[0].Key)
	assert.True(t, document.Equal(document.Int64(2), page[0].Projection.Field("Count")))
	assert.Equal(t, "books", page[0].Projection.Field(definition.ReduceKeyField).Text())

	page, _ = run(t, e, Query{Query: "*:*", FieldsToFetch: []string{"Count"}})
	require.Len(t, page, 2)
	_, hasCategory := page[0].Projection.Get("Category")
	assert.False(t, hasCategory)
	assert.Equal(t, "books", page[0].Projection.Field(definition.ReduceKeyField).Text())
}

func TestSortByNumericField(t *testing.T) {
	def := &definition.Index{
		Name:        "Users/ByAge",
		Fields:      []string{"Age"},
		SortOptions: map[string]definition.SortOption{"Age": definition.SortInt},
	}
	e, _ := build(t, def,
		entry{"users/1", obj(document.P("Age", document.Int32(30)))},
		entry{"users/2", obj(document.P("Age", document.Int32(10)))},
		entry{"users/3", obj(document.P("Age", document.Int32(20)))},
	)

	page, _ := run(t, e, Query{Query: "*:*", SortedFields: []SortedField{{Field: "Age"}}})
	assert.Equal(t, []string{"users/2", "users/3", "users/1"}, keys(page))

	page, _ = run(t, e, Query{Query: "*:*", SortedFields: []SortedField{{Field: "Age", Descending: true}}})
	assert.Equal(t, []string{"users/1", "users/3", "users/2"}, keys(page))

	page, _ = run(t, e, Query{Query: "Age_Range:[Ix15 TO *]", SortedFields: []SortedField{{Field: "-Age_Range"}}})
	assert.Equal(t, []string{"users/1", "users/3"}, keys(page))
}

func TestSpatialQuery(t *testing.T) {
	def := &definition.Index{
		Name:    "Places/ByLocation",
		Fields:  []string{"Name"},
		Spatial: map[string]definition.Spatial{"Location": {}},
	}
	e, _ := build(t, def,
		entry{"places/haifa", obj(document.P("Location", document.Point(32.794, 34.9896)))},
		entry{"places/hadera", obj(document.P("Location", document.Point(32.434, 34.9196)))},
		entry{"places/telaviv", obj(document.P("Location", document.Point(32.0853, 34.7818)))},
	)
	area := &SpatialQuery{Field: "Location", Lat: 32.0853, Lng: 34.7818, RadiusKm: 50, Relation: index.SpatialWithin}

	page, _ := run(t, e, Query{Spatial: area, SortedFields: []SortedField{{Field: definition.DistanceField}}})
	assert.Equal(t, []string{"places/telaviv", "places/hadera"}, keys(page))

	page, _ = run(t, e, Query{Query: "__document_id:places/hadera", Spatial: area})
	assert.Equal(t, []string{"places/hadera"}, keys(page))
}
