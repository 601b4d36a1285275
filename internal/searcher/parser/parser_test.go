package parser

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/definition"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/errors"
)

func testDefinition() (*definition.Index, *tokenizer.PerField) {
	def := &definition.Index{
		Name:    "Users/ByName",
		Fields:  []string{"Name", "Age", "Date", "Body", "Code"},
		Indexes: map[string]definition.Indexing{"Body": definition.IndexingAnalyzed, "Code": definition.IndexingNotAnalyzed},
	}
	pf := tokenizer.NewPerField(tokenizer.LowerCaseKeyword{})
	pf.Set("Body", tokenizer.StandardAnalyzer())
	return def, pf
}

func parse(t *testing.T, query string, opts Options) index.Query {
	t.Helper()
	def, pf := testDefinition()
	q, err := Parse(query, def, pf, opts)
	require.NoError(t, err)
	return q
}

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		query string
		opts  Options
		want  string
	}{
		{name: "term is lower-cased by the default analyzer", query: "Name:Ayende", want: "Name:ayende"},
		{name: "not analyzed field keeps case", query: "Code:AbC", want: "Code:AbC"},
		{name: "and with numeric range", query: "Name:Ayende AND Age_Range:[Ix10 TO Ix20]", want: "+Name:ayende +Age_Range:[10 TO 20]"},
		{name: "open numeric range", query: "Age_Range:{Dx1.5 TO *]", want: "Age_Range:{1.5 TO *]"},
		{name: "analyzed phrase", query: `Body:"the quick brown fox"`, want: `Body:"quick brown fox"`},
		{name: "prefix", query: "Name:Ay*", want: "Name:ay*"},
		{name: "wildcard", query: "Name:A?e*", want: "Name:a?e*"},
		{name: "prohibited clause", query: "Name:a -Name:b", want: "Name:a -Name:b"},
		{name: "not keyword", query: "Name:a NOT Name:b", want: "Name:a -Name:b"},
		{name: "default and operator", query: "Name:a Name:b OR Name:c", opts: Options{DefaultOperator: OperatorAnd}, want: "+Name:a Name:b Name:c"},
		{name: "default field", query: "quick", opts: Options{DefaultField: "Body"}, want: "Body:quick"},
		{name: "grouped field", query: "Name:(a OR b)", want: "Name:a Name:b"},
		{name: "boosted term", query: "Name:a^2", want: "Name:a^2"},
		{name: "boosted group", query: "(Name:a Name:b)^3", want: "(Name:a Name:b)^3"},
		{name: "search terms", query: "Name:<<Ayende Oren>>", want: "Name:ayende Name:oren"},
		{name: "in methods merge", query: "@in<Name>:(Ayende, Oren) OR @in<Name>:([[Raw Term]])", want: `@in<Name>:(ayende, oren, "Raw Term")`},
		{name: "empty in", query: "@emptyIn<Name>:()", want: "@in<Name>:()"},
		{name: "match all", query: "*:*", want: "*:*"},
		{name: "empty query", query: "   ", want: "*:*"},
		{name: "only stop words", query: "Body:the", want: "<none>"},
		{name: "term range", query: "Name:[A TO M}", want: "Name:[a TO m}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parse(t, tt.query, tt.opts).String())
		})
	}
}

func TestParseRawTerms(t *testing.T) {
	q := parse(t, "Name:[[Ayende Rahien]]", Options{})
	require.IsType(t, &index.TermQuery{}, q)
	assert.Equal(t, "Ayende Rahien", q.(*index.TermQuery).Term)

	q = parse(t, "Date:2020-01-01T10:00:00.0000000Z", Options{})
	require.IsType(t, &index.TermQuery{}, q)
	assert.Equal(t, "2020-01-01T10:00:00.0000000Z", q.(*index.TermQuery).Term)

	q = parse(t, "Name:NULL_VALUE", Options{})
	require.IsType(t, &index.TermQuery{}, q)
	assert.Equal(t, "NULL_VALUE", q.(*index.TermQuery).Term)
}

func TestParseErrors(t *testing.T) {
	for _, query := range []string{
		"Name:(a b",
		`Name:"abc`,
		"AND Name:a",
		"@foo<Name>:x",
		"Age_Range:[Ixabc TO 5]",
		"Name:[a b]",
		"lonely",
	} {
		t.Run(query, func(t *testing.T) {
			def, pf := testDefinition()
			_, err := Parse(query, def, pf, Options{})
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrValidation))
		})
	}
}

func TestPlannerCachesPlans(t *testing.T) {
	def, pf := testDefinition()
	p := NewPlanner(def, pf, 8)

	first, err := p.Plan("Name:a AND Age_Range:[1 TO 2]", Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Name", "Age_Range"}, first.Fields)

	second, err := p.Plan("Name:a AND Age_Range:[1 TO 2]", Options{})
	require.NoError(t, err)
	assert.Same(t, first, second)

	other, err := p.Plan("Name:a AND Age_Range:[1 TO 2]", Options{DefaultOperator: OperatorAnd})
	require.NoError(t, err)
	assert.NotSame(t, first, other)
	assert.Equal(t, 2, p.Len())

	_, err = p.Plan("Name:(", Options{})
	require.Error(t, err)
	assert.Equal(t, 2, p.Len())
}

func TestStripRange(t *testing.T) {
	assert.Equal(t, "Age", StripRange("Age_Range"))
	assert.Equal(t, "Name", StripRange("Name"))
}
