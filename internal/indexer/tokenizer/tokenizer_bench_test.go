package tokenizer

import (
	"fmt"
	"strings"
	"testing"
)

var sampleTexts = map[string]string{
	"short": "The quick brown fox jumps over the lazy dog",
	"medium": `Map-reduce indexes group the output of every document by a reduce key
        and keep one entry per key. Readers work on snapshots taken at commit
        time, so a slow query never blocks the writer that publishes the next one.`,
	"long": strings.Repeat(`Analyzed fields are split into terms, stop words are dropped and the
        remaining words are stemmed before they reach the inverted index. Term
        vectors keep positions and offsets so that highlighting can cut fragments
        around the matched tokens without analyzing the stored text again. `, 20),
}

func BenchmarkAnalyzers(b *testing.B) {
	analyzers := map[string]Analyzer{
		"standard":   StandardAnalyzer(),
		"english":    English(),
		"simple":     Simple{},
		"whitespace": Whitespace{},
	}
	for aname, a := range analyzers {
		for tname, text := range sampleTexts {
			b.Run(aname+"/"+tname, func(b *testing.B) {
				b.ReportAllocs()
				b.SetBytes(int64(len(text)))
				for b.Loop() {
					_ = a.Tokenize(text)
				}
			})
		}
	}
}

func BenchmarkEnglishParallel(b *testing.B) {
	text := sampleTexts["medium"]
	a := English()
	b.ReportAllocs()
	b.SetBytes(int64(len(text)))
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = a.Tokenize(text)
		}
	})
}

func BenchmarkEnglishVaryingSize(b *testing.B) {
	base := "snapshot readers reducing indexed documents "
	for _, size := range []int{10, 100, 1000, 5000} {
		text := strings.Repeat(base, size/len(base)+1)[:size]
		b.Run(fmt.Sprintf("bytes_%d", size), func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for b.Loop() {
				_ = Tokenize(text)
			}
		})
	}
}
