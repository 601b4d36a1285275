// Package parser turns Lucene-style query strings into engine queries.
//
// Beyond the classic syntax (field:term, "phrases", wildcards, [a TO b]
// ranges, boolean operators and ^boosts) it understands [[raw terms]] that
// bypass analysis, <<a b c>> term lists, date literals, numeric ranges on
// _Range fields (Ix, Lx, Fx and Dx prefixes) and the @in<Field>:(a, b) and
// @emptyIn<Field>:() methods.
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/definition"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/encoder"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/errors"
)

type Operator int

const (
	OperatorOr Operator = iota
	OperatorAnd
)

func ParseOperator(s string) (Operator, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "OR":
		return OperatorOr, nil
	case "AND":
		return OperatorAnd, nil
	}
	return OperatorOr, fmt.Errorf("unknown operator %q", s)
}

// Options control how terms without a field and adjacent clauses without
// an operator are interpreted.
type Options struct {
	DefaultField    string
	DefaultOperator Operator
}

var dateTerm = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{7}(Z|[+-]\d{2}:\d{2})?`)

type modifier int

const (
	modNone modifier = iota
	modRequired
	modProhibited
)

type conjunction int

const (
	conjNone conjunction = iota
	conjAnd
	conjOr
)

// Parse parses query for the index described by def. Analyzed terms go
// through the analyzer configured for their field.
func Parse(query string, def *definition.Index, analyzers *tokenizer.PerField, opts Options) (index.Query, error) {
	if strings.TrimSpace(query) == "" {
		return &index.MatchAllQuery{}, nil
	}
	p := &parser{src: query, def: def, analyzers: analyzers, opts: opts}
	q, err := p.parseQuery(opts.DefaultField, false)
	if err != nil {
		return nil, apperrors.Validation("could not parse %q: %s", query, err.Error())
	}
	p.skipSpace()
	if !p.eof() {
		return nil, apperrors.Validation("could not parse %q: unexpected %q at %d", query, p.peek(), p.pos)
	}
	if q == nil {
		return index.MatchNoneQuery{}, nil
	}
	return q, nil
}

type parser struct {
	src       string
	pos       int
	def       *definition.Index
	analyzers *tokenizer.PerField
	opts      Options
}

type clause struct {
	query index.Query
	occur index.Occur
}

func (p *parser) eof() bool { return p.pos >= len(p.src) }

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) hasPrefix(s string) bool {
	return strings.HasPrefix(p.src[p.pos:], s)
}

func (p *parser) skipSpace() {
	for !p.eof() && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

// keyword consumes word when it stands alone at the current position.
func (p *parser) keyword(word string) bool {
	if !p.hasPrefix(word) {
		return false
	}
	end := p.pos + len(word)
	if end < len(p.src) && !unicode.IsSpace(rune(p.src[end])) && p.src[end] != '(' {
		return false
	}
	p.pos = end
	return true
}

func (p *parser) parseQuery(field string, nested bool) (index.Query, error) {
	var clauses []clause
	for {
		p.skipSpace()
		if p.eof() || (nested && p.peek() == ')') {
			break
		}
		conj := conjNone
		switch {
		case p.keyword("AND"), p.hasPrefix("&&"):
			if p.hasPrefix("&&") {
				p.pos += 2
			}
			conj = conjAnd
		case p.keyword("OR"), p.hasPrefix("||"):
			if p.hasPrefix("||") {
				p.pos += 2
			}
			conj = conjOr
		}
		if conj != conjNone {
			if len(clauses) == 0 {
				return nil, fmt.Errorf("query cannot start with an operator")
			}
			p.skipSpace()
		}

		mods := modNone
		switch {
		case p.peek() == '+':
			p.pos++
			mods = modRequired
		case p.peek() == '-', p.peek() == '!':
			p.pos++
			mods = modProhibited
		case p.keyword("NOT"):
			mods = modProhibited
		}
		p.skipSpace()
		if p.eof() {
			return nil, fmt.Errorf("missing clause at end of query")
		}

		q, err := p.parseClause(field)
		if err != nil {
			return nil, err
		}
		clauses = p.addClause(clauses, conj, mods, q)
	}
	return p.combine(clauses), nil
}

// addClause applies the classic Lucene rules: AND makes both neighbours
// required, OR under a default AND makes the previous one optional.
func (p *parser) addClause(clauses []clause, conj conjunction, mods modifier, q index.Query) []clause {
	if n := len(clauses); n > 0 {
		last := &clauses[n-1]
		if conj == conjAnd && last.occur != index.OccurMustNot {
			last.occur = index.OccurMust
		}
		if p.opts.DefaultOperator == OperatorAnd && conj == conjOr && last.occur != index.OccurMustNot {
			last.occur = index.OccurShould
		}
	}
	if q == nil {
		return clauses
	}
	var required, prohibited bool
	if p.opts.DefaultOperator == OperatorOr {
		prohibited = mods == modProhibited
		required = mods == modRequired
		if conj == conjAnd && !prohibited {
			required = true
		}
	} else {
		prohibited = mods == modProhibited
		required = !prohibited && conj != conjOr
	}
	occur := index.OccurShould
	switch {
	case prohibited:
		occur = index.OccurMustNot
	case required:
		occur = index.OccurMust
	}
	return append(clauses, clause{query: q, occur: occur})
}

// combine builds the boolean query for a clause list, merging method
// clauses on the same field and unwrapping a single remaining clause.
func (p *parser) combine(clauses []clause) index.Query {
	if len(clauses) == 0 {
		return nil
	}
	merged := clauses[:0:0]
	byField := make(map[string]int)
	for _, c := range clauses {
		if tq, ok := c.query.(*index.TermsQuery); ok {
			if at, seen := byField[tq.Field]; seen {
				first := merged[at].query.(*index.TermsQuery)
				merged[at].query = &index.TermsQuery{
					Field: first.Field,
					Terms: append(append([]string(nil), first.Terms...), tq.Terms...),
					Boost: first.Boost,
				}
				continue
			}
			byField[tq.Field] = len(merged)
		}
		merged = append(merged, c)
	}
	if len(merged) == 1 && merged[0].occur != index.OccurMustNot {
		return merged[0].query
	}
	bq := &index.BooleanQuery{}
	for _, c := range merged {
		bq.Add(c.query, c.occur)
	}
	return bq
}

func (p *parser) parseClause(defaultField string) (index.Query, error) {
	field := defaultField
	explicit := false
	if name, ok := p.fieldName(); ok {
		field, explicit = name, true
	}
	p.skipSpace()

	if strings.HasPrefix(field, "@") && explicit {
		return p.parseMethod(field)
	}

	var q index.Query
	var err error
	switch {
	case p.peek() == '(':
		p.pos++
		q, err = p.parseQuery(field, true)
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if p.peek() != ')' {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
	case p.hasPrefix("[["):
		raw, err := p.readUntil("]]")
		if err != nil {
			return nil, err
		}
		q, err = p.rawTerm(field, unescape(raw))
		if err != nil {
			return nil, err
		}
	case p.hasPrefix("<<"):
		q, err = p.parseSearchTerms(field)
	case p.peek() == '[' || p.peek() == '{':
		q, err = p.parseRange(field)
	case p.peek() == '"':
		text, err := p.readQuoted()
		if err != nil {
			return nil, err
		}
		p.skipSlop()
		q, err = p.textQuery(field, text)
		if err != nil {
			return nil, err
		}
	default:
		q, err = p.parseTerm(field)
	}
	if err != nil {
		return nil, err
	}
	return p.parseBoost(q)
}

// fieldName consumes "name:" when present.
func (p *parser) fieldName() (string, bool) {
	if p.hasPrefix("*:") {
		p.pos += 2
		return "*", true
	}
	end := p.pos
	for end < len(p.src) {
		c := rune(p.src[end])
		if unicode.IsLetter(c) || unicode.IsDigit(c) || strings.ContainsRune("_@<>.", c) || c >= utf8RuneSelf {
			end++
			continue
		}
		break
	}
	if end == p.pos || end >= len(p.src) || p.src[end] != ':' {
		return "", false
	}
	name := p.src[p.pos:end]
	p.pos = end + 1
	return name, true
}

const utf8RuneSelf = 0x80

func (p *parser) parseTerm(field string) (index.Query, error) {
	if m := dateTerm.FindString(p.src[p.pos:]); m != "" {
		p.pos += len(m)
		return p.rawTerm(field, m)
	}
	var sb strings.Builder
	wildcard := false
	for !p.eof() {
		c := p.peek()
		if c == '\\' && p.pos+1 < len(p.src) {
			sb.WriteByte(p.src[p.pos+1])
			p.pos += 2
			continue
		}
		if unicode.IsSpace(rune(c)) || strings.IndexByte(`()"^:~`, c) >= 0 {
			break
		}
		if c == '*' || c == '?' {
			wildcard = true
		}
		sb.WriteByte(c)
		p.pos++
	}
	text := sb.String()
	if text == "" {
		if p.eof() {
			return nil, fmt.Errorf("missing term")
		}
		return nil, fmt.Errorf("unexpected %q at %d", p.peek(), p.pos)
	}
	p.skipSlop()
	if field == "*" && text == "*" {
		return &index.MatchAllQuery{}, nil
	}
	if field == "" {
		return nil, fmt.Errorf("term %q has no field and no default field is set", text)
	}
	if wildcard {
		return p.wildcardQuery(field, text), nil
	}
	if isRangeField(field) {
		n, err := parseNumeric(text)
		if err != nil {
			return nil, err
		}
		return &index.NumericRangeQuery{Field: field, Min: n, Max: n, IncludeMin: true, IncludeMax: true}, nil
	}
	return p.textQuery(field, text)
}

// textQuery analyzes text: no tokens drops the clause, one token is a term
// query and several are a phrase.
func (p *parser) textQuery(field, text string) (index.Query, error) {
	if field == "" {
		return nil, fmt.Errorf("term %q has no field and no default field is set", text)
	}
	if isSentinel(text) {
		return &index.TermQuery{Field: field, Term: text}, nil
	}
	tokens := p.analyzerFor(field).Tokenize(text)
	switch len(tokens) {
	case 0:
		return nil, nil
	case 1:
		return &index.TermQuery{Field: field, Term: tokens[0].Term}, nil
	}
	terms := make([]string, len(tokens))
	for i, t := range tokens {
		terms[i] = t.Term
	}
	return &index.PhraseQuery{Field: field, Terms: terms}, nil
}

func (p *parser) rawTerm(field, text string) (index.Query, error) {
	if field == "" {
		return nil, fmt.Errorf("term %q has no field and no default field is set", text)
	}
	return &index.TermQuery{Field: field, Term: text}, nil
}

func (p *parser) wildcardQuery(field, pattern string) index.Query {
	if !p.keywordField(field) {
		pattern = strings.ToLower(pattern)
	}
	if strings.IndexByte(pattern, '?') < 0 && strings.IndexByte(pattern, '*') == len(pattern)-1 && len(pattern) > 1 {
		return &index.PrefixQuery{Field: field, Prefix: pattern[:len(pattern)-1]}
	}
	return &index.WildcardQuery{Field: field, Pattern: pattern}
}

// parseSearchTerms expands <<a b c>> into optional term clauses.
func (p *parser) parseSearchTerms(field string) (index.Query, error) {
	body, err := p.readUntil(">>")
	if err != nil {
		return nil, err
	}
	bq := &index.BooleanQuery{}
	for _, word := range strings.Fields(body) {
		switch word {
		case "OR", "AND", "||", "&&":
			continue
		}
		var q index.Query
		if strings.ContainsAny(word, "*?") {
			q = p.wildcardQuery(field, word)
		} else if q, err = p.textQuery(field, word); err != nil {
			return nil, err
		}
		if q != nil {
			bq.Add(q, index.OccurShould)
		}
	}
	if len(bq.Clauses) == 0 {
		return nil, nil
	}
	return bq, nil
}

func (p *parser) parseRange(field string) (index.Query, error) {
	inclLower := p.peek() == '['
	p.pos++
	p.skipSpace()
	lower, err := p.rangeBound()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if !p.keyword("TO") {
		return nil, fmt.Errorf("expected TO in range on %s", field)
	}
	p.skipSpace()
	upper, err := p.rangeBound()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	var inclUpper bool
	switch p.peek() {
	case ']':
		inclUpper = true
	case '}':
	default:
		return nil, fmt.Errorf("unterminated range on %s", field)
	}
	p.pos++
	if field == "" {
		return nil, fmt.Errorf("range has no field and no default field is set")
	}

	if isRangeField(field) {
		q := &index.NumericRangeQuery{Field: field, IncludeMin: inclLower, IncludeMax: inclUpper}
		if q.Min, err = parseNumeric(lower); err != nil {
			return nil, err
		}
		if q.Max, err = parseNumeric(upper); err != nil {
			return nil, err
		}
		return q, nil
	}
	q := &index.TermRangeQuery{Field: field, IncludeLower: inclLower, IncludeUpper: inclUpper}
	if !openBound(lower) {
		s := p.rangeTerm(field, lower)
		q.Lower = &s
	}
	if !openBound(upper) {
		s := p.rangeTerm(field, upper)
		q.Upper = &s
	}
	return q, nil
}

func (p *parser) rangeBound() (string, error) {
	if p.peek() == '"' {
		return p.readQuoted()
	}
	start := p.pos
	for !p.eof() && !unicode.IsSpace(rune(p.peek())) && p.peek() != ']' && p.peek() != '}' {
		p.pos++
	}
	if start == p.pos {
		return "", fmt.Errorf("missing range bound at %d", p.pos)
	}
	return unescape(p.src[start:p.pos]), nil
}

func (p *parser) rangeTerm(field, text string) string {
	if p.keywordField(field) || dateTerm.MatchString(text) || isSentinel(text) {
		return text
	}
	if tokens := p.analyzerFor(field).Tokenize(text); len(tokens) == 1 {
		return tokens[0].Term
	}
	return text
}

// parseMethod handles @in<Field>:(a, b) and @emptyIn<Field>:().
func (p *parser) parseMethod(name string) (index.Query, error) {
	open := strings.IndexByte(name, '<')
	end := strings.LastIndexByte(name, '>')
	if open < 0 || end < open {
		return nil, fmt.Errorf("invalid method field %q", name)
	}
	method, field := name[1:open], name[open+1:end]
	if !strings.EqualFold(method, "in") && !strings.EqualFold(method, "emptyIn") {
		return nil, fmt.Errorf("method call %s is invalid", name)
	}
	if field == "" {
		return nil, fmt.Errorf("method %s names no field", method)
	}

	var values []string
	if p.peek() == '(' {
		body, err := p.readBalanced()
		if err != nil {
			return nil, err
		}
		values = splitMethodArgs(body)
	} else {
		q, err := p.parseTerm(field)
		if err != nil {
			return nil, err
		}
		if tq, ok := q.(*index.TermQuery); ok {
			values = []string{"[[" + tq.Term + "]]"}
		}
	}
	terms := make([]string, 0, len(values))
	for _, v := range values {
		switch {
		case strings.HasPrefix(v, "[[") && strings.HasSuffix(v, "]]") && len(v) >= 4:
			terms = append(terms, unescape(v[2:len(v)-2]))
		case len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"':
			terms = append(terms, p.rangeTerm(field, unescape(v[1:len(v)-1])))
		default:
			terms = append(terms, p.rangeTerm(field, unescape(v)))
		}
	}
	return p.parseBoost(&index.TermsQuery{Field: field, Terms: terms})
}

// splitMethodArgs splits on commas that are not escaped as `,` and not
// inside quotes or [[ ]].
func splitMethodArgs(body string) []string {
	var out []string
	var cur strings.Builder
	inQuote, inRaw := false, false
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case !inQuote && strings.HasPrefix(body[i:], "[["):
			inRaw = true
		case inRaw && strings.HasPrefix(body[i:], "]]"):
			inRaw = false
			cur.WriteString("]]")
			i++
			continue
		case c == '"' && !inRaw && (i == 0 || body[i-1] != '\\'):
			inQuote = !inQuote
		case strings.HasPrefix(body[i:], "`,`"):
			cur.WriteByte(',')
			i += 2
			continue
		case c == ',' && !inQuote && !inRaw:
			flush()
			continue
		}
		cur.WriteByte(c)
	}
	flush()
	return out
}

func (p *parser) parseBoost(q index.Query) (index.Query, error) {
	if p.peek() != '^' {
		return q, nil
	}
	p.pos++
	start := p.pos
	for !p.eof() && (unicode.IsDigit(rune(p.peek())) || p.peek() == '.') {
		p.pos++
	}
	boost, err := strconv.ParseFloat(p.src[start:p.pos], 32)
	if err != nil {
		return nil, fmt.Errorf("invalid boost at %d", start)
	}
	return withBoost(q, float32(boost)), nil
}

// skipSlop ignores a ~N proximity or fuzziness suffix.
func (p *parser) skipSlop() {
	if p.peek() != '~' {
		return
	}
	p.pos++
	for !p.eof() && (unicode.IsDigit(rune(p.peek())) || p.peek() == '.') {
		p.pos++
	}
}

func (p *parser) readQuoted() (string, error) {
	start := p.pos
	p.pos++
	var sb strings.Builder
	for !p.eof() {
		c := p.peek()
		switch {
		case c == '\\' && p.pos+1 < len(p.src):
			sb.WriteByte(p.src[p.pos+1])
			p.pos += 2
			continue
		case c == '"':
			p.pos++
			return sb.String(), nil
		}
		sb.WriteByte(c)
		p.pos++
	}
	return "", fmt.Errorf("unterminated phrase at %d", start)
}

// readUntil consumes an opening delimiter and returns the text before
// closing.
func (p *parser) readUntil(closing string) (string, error) {
	start := p.pos
	p.pos += len(closing)
	end := strings.Index(p.src[p.pos:], closing)
	if end < 0 {
		return "", fmt.Errorf("unterminated %s at %d", p.src[start:start+len(closing)], start)
	}
	body := p.src[p.pos : p.pos+end]
	p.pos += end + len(closing)
	return body, nil
}

func (p *parser) readBalanced() (string, error) {
	start := p.pos
	depth := 0
	inQuote := false
	for i := p.pos; i < len(p.src); i++ {
		c := p.src[i]
		switch {
		case c == '\\':
			i++
		case c == '"':
			inQuote = !inQuote
		case inQuote:
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				p.pos = i + 1
				return p.src[start+1 : i], nil
			}
		}
	}
	return "", fmt.Errorf("missing closing parenthesis for group at %d", start)
}

// analyzerFor returns the analyzer applied to query text of field. Not
// analyzed fields and derived marker fields match verbatim.
func (p *parser) analyzerFor(field string) tokenizer.Analyzer {
	if p.keywordField(field) {
		return tokenizer.Keyword{}
	}
	return p.analyzers.For(field)
}

func (p *parser) keywordField(field string) bool {
	if strings.HasSuffix(field, encoder.IsArraySuffix) || strings.HasSuffix(field, encoder.ConvertToJSONSuffix) {
		return true
	}
	if field == definition.DocumentIDField || field == definition.ReduceKeyField {
		return false
	}
	return p.def != nil && p.def.IndexingFor(field) == definition.IndexingNotAnalyzed
}

func isRangeField(field string) bool {
	return strings.HasSuffix(field, encoder.RangeSuffix)
}

func isSentinel(text string) bool {
	return text == encoder.NullValue || text == encoder.EmptyString
}

func openBound(s string) bool {
	return s == "*" || s == "NULL" || s == "null"
}

// parseNumeric reads a range bound: Ix, Lx, Fx and Dx prefixes pick the
// numeric kind, bare numbers are Int64 or Float64, * and NULL are open.
func parseNumeric(s string) (*index.Numeric, error) {
	if openBound(s) {
		return nil, nil
	}
	var kind index.NumericKind
	var hinted bool
	if len(s) > 2 && s[1] == 'x' {
		hinted = true
		switch s[0] {
		case 'I':
			kind = index.NumericInt32
		case 'L':
			kind = index.NumericInt64
		case 'F':
			kind = index.NumericFloat32
		case 'D':
			kind = index.NumericFloat64
		default:
			hinted = false
		}
		if hinted {
			s = s[2:]
		}
	}
	if !hinted {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			v := index.IntNumeric(index.NumericInt64, n)
			return &v, nil
		}
		kind = index.NumericFloat64
	}
	switch kind {
	case index.NumericInt32, index.NumericInt64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer bound %q", s)
		}
		v := index.IntNumeric(kind, n)
		return &v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid numeric bound %q", s)
	}
	v := index.FloatNumeric(kind, f)
	return &v, nil
}

func unescape(s string) string {
	if strings.IndexByte(s, '\\') < 0 {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && strings.IndexByte(`*?+-&|!(){}[]^"~:\`, s[i+1]) >= 0 {
			i++
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}
