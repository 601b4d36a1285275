package parser

import (
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/definition"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/tokenizer"
)

func BenchmarkParse(b *testing.B) {
	def := &definition.Index{
		Name:    "Articles",
		Fields:  []string{"Title", "Body", "Category", "Rating"},
		Indexes: map[string]definition.Indexing{"Body": definition.IndexingAnalyzed},
	}
	analyzers := tokenizer.NewPerField(tokenizer.LowerCaseKeyword{})
	analyzers.Set("Body", tokenizer.English())

	queries := []struct {
		name  string
		query string
	}{
		{"term", "Title:search"},
		{"boolean", "Body:index AND Body:query OR Category:databases"},
		{"prohibited", "Body:reduce -Body:map"},
		{"phrase", `Body:"inverted index"`},
		{"range", "Rating_Range:[3 TO 5]"},
		{"wildcard", "Body:snap*"},
		{"in", "@in<Category>:(databases,search,storage)"},
		{"grouped", "(Title:search OR Title:index) AND (Category:databases -Body:legacy)"},
	}
	for _, q := range queries {
		b.Run(q.name, func(b *testing.B) {
			b.ReportAllocs()
			for b.Loop() {
				if _, err := Parse(q.query, def, analyzers, Options{}); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
