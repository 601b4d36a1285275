package main

import (
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/definition"
)

// definitions are the indexes the service runs.
func definitions() []*definition.Index {
	return []*definition.Index{
		articlesByTitle(),
		articlesCountByCategory(),
	}
}

// articlesByTitle is a full-text index over article titles and bodies.
func articlesByTitle() *definition.Index {
	return &definition.Index{
		Name:   "Articles/ByTitle",
		Fields: []string{"Title", "Body", "Category", "Tags", "Published", "Rating"},
		Maps: []definition.MapFunc{func(doc document.Document) ([]*document.Object, error) {
			if doc.Data.Field("Type").Text() != "article" {
				return nil, nil
			}
			return []*document.Object{doc.Data.Select("Title", "Body", "Category", "Tags", "Published", "Rating")}, nil
		}},
		Stores: map[string]definition.Storage{
			"Title": definition.StorageYes,
			"Body":  definition.StorageYes,
		},
		Indexes: map[string]definition.Indexing{
			"Title":    definition.IndexingAnalyzed,
			"Body":     definition.IndexingAnalyzed,
			"Category": definition.IndexingNotAnalyzed,
		},
		TermVectors: map[string]definition.TermVector{
			"Body": definition.TermVectorWithPositionsAndOffsets,
		},
		SortOptions: map[string]definition.SortOption{
			"Rating": definition.SortDouble,
		},
		Analyzers: map[string]string{
			"Body": "english",
		},
	}
}

// articlesCountByCategory counts articles per category.
func articlesCountByCategory() *definition.Index {
	return &definition.Index{
		Name:   "Articles/CountByCategory",
		Fields: []string{"Category", "Count"},
		Maps: []definition.MapFunc{func(doc document.Document) ([]*document.Object, error) {
			if doc.Data.Field("Type").Text() != "article" {
				return nil, nil
			}
			return []*document.Object{document.NewObject(
				document.P("Category", doc.Data.Field("Category")),
				document.P("Count", document.Int64(1)),
			)}, nil
		}},
		Reduce: func(records []*document.Object) ([]*document.Object, error) {
			counts := make(map[string]int64)
			var order []string
			for _, r := range records {
				category := r.Field("Category").Text()
				if _, ok := counts[category]; !ok {
					order = append(order, category)
				}
				counts[category] += r.Field("Count").Int()
			}
			out := make([]*document.Object, 0, len(order))
			for _, category := range order {
				out = append(out, document.NewObject(
					document.P("Category", document.String(category)),
					document.P("Count", document.Int64(counts[category])),
				))
			}
			return out, nil
		},
		GroupBy: func(r *document.Object) document.Value { return r.Field("Category") },
		SortOptions: map[string]definition.SortOption{
			"Count": definition.SortLong,
		},
	}
}
