// Package tokenizer provides the analyzers applied to analyzed fields at
// index time and to query terms at search time. Analyzers normalise Unicode,
// lower-case, split on non-alphanumeric boundaries, optionally drop stop
// words and stem English words.
package tokenizer

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	snowballeng "github.com/kljensen/snowball/english"
	"golang.org/x/text/unicode/norm"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "but": {}, "by": {}, "for": {}, "if": {}, "in": {},
	"into": {}, "is": {}, "it": {}, "no": {}, "not": {}, "of": {},
	"on": {}, "or": {}, "such": {}, "that": {}, "the": {}, "their": {},
	"then": {}, "there": {}, "these": {}, "they": {}, "this": {}, "to": {},
	"was": {}, "will": {}, "with": {},
}

// Token is one normalised term with its position and the byte offsets of
// the source text it was produced from.
type Token struct {
	Term     string `msgpack:"t"`
	Position int    `msgpack:"p"`
	Start    int    `msgpack:"s"`
	End      int    `msgpack:"e"`
}

// Analyzer turns field text into tokens.
type Analyzer interface {
	Tokenize(text string) []Token
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(text string) []Token

func (f AnalyzerFunc) Tokenize(text string) []Token { return f(text) }

// Standard splits on non-alphanumeric runes, lower-cases and drops stop words.
type Standard struct {
	StopWords map[string]struct{}
	Stem      bool
}

func (a Standard) Tokenize(text string) []Token {
	tokens := make([]Token, 0, len(text)/6)
	pos := 0
	forEachWord(text, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	}, func(word string, start, end int) {
		term := normalize(word)
		if _, isStop := a.StopWords[term]; isStop {
			pos++
			return
		}
		if a.Stem {
			term = snowballeng.Stem(term, false)
		}
		if term == "" {
			return
		}
		tokens = append(tokens, Token{Term: term, Position: pos, Start: start, End: end})
		pos++
	})
	return tokens
}

// Simple keeps letter runs only, lower-cased.
type Simple struct{}

func (Simple) Tokenize(text string) []Token {
	var tokens []Token
	pos := 0
	forEachWord(text, unicode.IsLetter, func(word string, start, end int) {
		tokens = append(tokens, Token{Term: normalize(word), Position: pos, Start: start, End: end})
		pos++
	})
	return tokens
}

// Whitespace splits on whitespace and keeps case.
type Whitespace struct{}

func (Whitespace) Tokenize(text string) []Token {
	var tokens []Token
	pos := 0
	forEachWord(text, func(r rune) bool { return !unicode.IsSpace(r) }, func(word string, start, end int) {
		tokens = append(tokens, Token{Term: word, Position: pos, Start: start, End: end})
		pos++
	})
	return tokens
}

// Keyword emits the whole value as a single token.
type Keyword struct{}

func (Keyword) Tokenize(text string) []Token {
	return []Token{{Term: text, End: len(text)}}
}

// LowerCaseKeyword emits the whole value lower-cased as a single token.
type LowerCaseKeyword struct{}

func (LowerCaseKeyword) Tokenize(text string) []Token {
	return []Token{{Term: strings.ToLower(text), End: len(text)}}
}

// Tokenize runs the English analyzer: stop words removed and terms stemmed.
func Tokenize(text string) []Token {
	return English().Tokenize(text)
}

// StandardAnalyzer drops English stop words without stemming.
func StandardAnalyzer() Analyzer {
	return Standard{StopWords: stopWords}
}

func English() Analyzer {
	return Standard{StopWords: stopWords, Stem: true}
}

// Lookup resolves an analyzer by its configured name.
func Lookup(name string) (Analyzer, error) {
	switch strings.ToLower(name) {
	case "standard", "standardanalyzer":
		return StandardAnalyzer(), nil
	case "english", "snowball":
		return English(), nil
	case "simple", "simpleanalyzer":
		return Simple{}, nil
	case "whitespace", "whitespaceanalyzer":
		return Whitespace{}, nil
	case "keyword", "keywordanalyzer":
		return Keyword{}, nil
	case "lowercase_keyword", "lowercasekeywordanalyzer":
		return LowerCaseKeyword{}, nil
	}
	return nil, fmt.Errorf("unknown analyzer %q", name)
}

// PerField routes each field to its configured analyzer, falling back to a
// default for unlisted fields.
type PerField struct {
	Default Analyzer
	fields  map[string]Analyzer
}

func NewPerField(def Analyzer) *PerField {
	return &PerField{Default: def, fields: make(map[string]Analyzer)}
}

func (p *PerField) Set(field string, a Analyzer) {
	p.fields[field] = a
}

func (p *PerField) For(field string) Analyzer {
	if a, ok := p.fields[field]; ok {
		return a
	}
	return p.Default
}

func normalize(word string) string {
	return strings.ToLower(norm.NFKC.String(word))
}

// forEachWord calls fn with every maximal run of runes accepted by keep,
// together with its byte offsets in text.
func forEachWord(text string, keep func(rune) bool, fn func(word string, start, end int)) {
	start := -1
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if keep(r) {
			if start < 0 {
				start = i
			}
		} else if start >= 0 {
			fn(text[start:i], start, i)
			start = -1
		}
		i += size
	}
	if start >= 0 {
		fn(text[start:], start, len(text))
	}
}
