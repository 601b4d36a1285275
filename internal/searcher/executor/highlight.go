package executor

import (
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/tokenizer"
)

const (
	defaultFragmentLength = 100
	minFragmentLength     = 18
	defaultFragmentCount  = 1
	defaultPreTag         = "<b>"
	defaultPostTag        = "</b>"
)

// highlight builds fragments of the stored text of hf.Field around the
// tokens the query matched, using the term vector offsets recorded at
// index time.
func (p *Prepared) highlight(r *index.Reader, h hit, hf HighlightedField) []string {
	tokens := r.TermVector(h.doc, hf.Field)
	if len(tokens) == 0 {
		return nil
	}
	var values []string
	for _, sf := range h.stored {
		if sf.Name == hf.Field {
			values = append(values, sf.Value)
		}
	}
	if len(values) == 0 {
		return nil
	}
	// multiple values were indexed one offset apart
	text := strings.Join(values, " ")

	var matched []tokenizer.Token
	for _, tok := range tokens {
		if tok.Start < tok.End && tok.End <= len(text) && p.matches(hf.Field, tok.Term) {
			matched = append(matched, tok)
		}
	}
	if len(matched) == 0 {
		return nil
	}
	slices.SortStableFunc(matched, func(a, b tokenizer.Token) int { return a.Start - b.Start })

	length := hf.FragmentLength
	if length <= 0 {
		length = defaultFragmentLength
	}
	length = max(length, minFragmentLength)
	count := hf.FragmentCount
	if count <= 0 {
		count = defaultFragmentCount
	}
	pre, post := p.q.HighlighterPreTags, p.q.HighlighterPostTags
	if len(pre) == 0 {
		pre = []string{defaultPreTag}
	}
	if len(post) == 0 {
		post = []string{defaultPostTag}
	}
	return fragments(text, matched, length, count, pre, post)
}

// fragments cuts up to count windows of about length bytes, each starting
// near the first matched token not yet covered, and wraps every matched
// token inside a window in tags. Tags cycle by the order in which distinct
// terms first appear.
func fragments(text string, matched []tokenizer.Token, length, count int, pre, post []string) []string {
	ordinal := make(map[string]int)
	for _, tok := range matched {
		if _, ok := ordinal[tok.Term]; !ok {
			ordinal[tok.Term] = len(ordinal)
		}
	}

	var out []string
	i := 0
	for i < len(matched) && len(out) < count {
		first := matched[i]
		start := max(0, first.Start-length/4)
		end := min(len(text), start+length)
		if end-start < length {
			start = max(0, end-length)
		}
		end = max(end, first.End)
		start = wordStart(text, start, first.Start)

		j := i
		last := first.End
		for j < len(matched) && matched[j].Start >= start && matched[j].End <= end {
			last = matched[j].End
			j++
		}
		end = wordEnd(text, last, end)

		var sb strings.Builder
		pos := start
		for _, tok := range matched[i:j] {
			if tok.Start < pos {
				continue
			}
			n := ordinal[tok.Term]
			sb.WriteString(text[pos:tok.Start])
			sb.WriteString(pre[n%len(pre)])
			sb.WriteString(text[tok.Start:tok.End])
			sb.WriteString(post[n%len(post)])
			pos = tok.End
		}
		sb.WriteString(text[pos:end])
		out = append(out, strings.TrimSpace(sb.String()))
		i = j
	}
	return out
}

// wordStart moves start to a rune boundary and, when it falls inside a
// word, past that word as long as it stays before limit.
func wordStart(text string, start, limit int) int {
	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}
	if start == 0 || text[start-1] == ' ' {
		return start
	}
	if i := strings.IndexByte(text[start:limit], ' '); i >= 0 {
		return start + i + 1
	}
	return start
}

// wordEnd trims end back to the last space after from, so that a fragment
// does not end inside a word.
func wordEnd(text string, from, end int) int {
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end++
	}
	if end >= len(text) || text[end] == ' ' {
		return end
	}
	if i := strings.LastIndexByte(text[from:end], ' '); i >= 0 {
		return from + i
	}
	return end
}
