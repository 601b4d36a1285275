package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func terms(tokens []Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Term
	}
	return out
}

func TestStandardKeepsOffsets(t *testing.T) {
	text := "The Quick, brown fox"
	tokens := Standard{StopWords: stopWords}.Tokenize(text)

	require.Equal(t, []string{"quick", "brown", "fox"}, terms(tokens))
	assert.Equal(t, "Quick", text[tokens[0].Start:tokens[0].End])
	// the stop word still occupies a position
	assert.Equal(t, 1, tokens[0].Position)
	assert.Equal(t, 3, tokens[2].Position)
}

func TestEnglishStems(t *testing.T) {
	assert.Equal(t, []string{"run", "quick"}, terms(Tokenize("running quickly")))
}

func TestKeywordAnalyzers(t *testing.T) {
	assert.Equal(t, []string{"Hello World"}, terms(Keyword{}.Tokenize("Hello World")))
	assert.Equal(t, []string{"hello world"}, terms(LowerCaseKeyword{}.Tokenize("Hello World")))
}

func TestNormalizesUnicode(t *testing.T) {
	// fullwidth letters fold to ASCII under NFKC
	assert.Equal(t, []string{"abc"}, terms(Simple{}.Tokenize("ＡＢＣ")))
}

func TestLookup(t *testing.T) {
	for _, name := range []string{"standard", "english", "simple", "whitespace", "keyword", "lowercase_keyword", "StandardAnalyzer"} {
		a, err := Lookup(name)
		require.NoError(t, err, name)
		assert.NotNil(t, a)
	}
	_, err := Lookup("klingon")
	assert.Error(t, err)
}

func TestPerFieldFallsBack(t *testing.T) {
	p := NewPerField(LowerCaseKeyword{})
	p.Set("Body", English())

	assert.Equal(t, []string{"hello world"}, terms(p.For("Title").Tokenize("Hello World")))
	assert.Equal(t, []string{"hello", "world"}, terms(p.For("Body").Tokenize("Hello World")))
}
