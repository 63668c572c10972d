package sqlguard

import (
	"errors"
	"regexp"
	"sort"
	"strings"
	"sync"
)

var (
	errUnbalancedParens  = errors.New("unbalanced parentheses")
	errUnterminatedQuote = errors.New("unterminated quoted string or identifier")
)

// layout is a depth- and quote-aware view of one SQL statement. Every
// higher-level check reasons about "top level" through it.
type layout struct {
	src string

	// depth is the paren depth of each byte. Parens carry the depth of the
	// text around them, so the interior of "( ... )" is one deeper.
	depth []int

	// quoted marks bytes of '...', "..." and `...` tokens, delimiters included.
	quoted []bool

	// pair maps each paren to its partner, -1 for other bytes.
	pair []int
}

// scan builds the layout in one pass. Doubled quote characters inside a
// quoted token are escapes.
func scan(src string) (*layout, error) {
	n := len(src)
	l := &layout{
		src:    src,
		depth:  make([]int, n),
		quoted: make([]bool, n),
		pair:   make([]int, n),
	}
	for i := range l.pair {
		l.pair[i] = -1
	}

	var stack []int
	for i := 0; i < n; i++ {
		d := len(stack)
		switch c := src[i]; c {
		case '\'', '"', '`':
			j := i + 1
			for {
				if j >= n {
					return nil, errUnterminatedQuote
				}
				if src[j] == c {
					if j+1 < n && src[j+1] == c {
						j += 2
						continue
					}
					break
				}
				j++
			}
			for k := i; k <= j; k++ {
				l.depth[k] = d
				l.quoted[k] = true
			}
			i = j
		case '(':
			l.depth[i] = d
			stack = append(stack, i)
		case ')':
			if d == 0 {
				return nil, errUnbalancedParens
			}
			open := stack[d-1]
			stack = stack[:d-1]
			l.depth[i] = d - 1
			l.pair[i] = open
			l.pair[open] = i
		default:
			l.depth[i] = d
		}
	}
	if len(stack) > 0 {
		return nil, errUnbalancedParens
	}
	return l, nil
}

// level returns src[start:end] with quoted text and everything deeper than
// d blanked. Offsets in the result line up with src minus start.
func (l *layout) level(start, end, d int) string {
	b := []byte(l.src[start:end])
	for i := start; i < end; i++ {
		if l.quoted[i] || l.depth[i] != d {
			b[i-start] = ' '
		}
	}
	return string(b)
}

// trim narrows [start,end) to exclude surrounding whitespace.
func (l *layout) trim(start, end int) (int, int) {
	for start < end && isSpace(l.src[start]) {
		start++
	}
	for end > start && isSpace(l.src[end-1]) {
		end--
	}
	return start, end
}

// wraps reports whether [start,end) is a single parenthesized group.
func (l *layout) wraps(start, end int) bool {
	return end-start >= 2 && l.src[start] == '(' && !l.quoted[start] && l.pair[start] == end-1
}

// opensQuery reports whether the paren at i starts a SELECT or WITH query,
// possibly behind further opening parens.
func (l *layout) opensQuery(i int) bool {
	j := i + 1
	for j < len(l.src) && isSpace(l.src[j]) {
		j++
	}
	if j >= len(l.src) {
		return false
	}
	if l.src[j] == '(' && !l.quoted[j] {
		return l.opensQuery(j)
	}
	return queryStartRe.MatchString(l.src[j:])
}

// enclosingOpen returns the paren that directly encloses pos, or -1.
func (l *layout) enclosingOpen(pos int) int {
	want := l.depth[pos] - 1
	for i := pos - 1; i >= 0; i-- {
		if l.src[i] == '(' && !l.quoted[i] && l.depth[i] == want {
			return i
		}
	}
	return -1
}

// findAll returns the spans of keyword phrases found at depth d in [start,end).
func (l *layout) findAll(start, end, d int, phrases ...string) [][2]int {
	view := l.level(start, end, d)
	var spans [][2]int
	for _, m := range keywordRegexp(phrases...).FindAllStringIndex(view, -1) {
		spans = append(spans, [2]int{start + m[0], start + m[1]})
	}
	return spans
}

// find returns the first span of any phrase at depth d in [start,end),
// or (-1, -1).
func (l *layout) find(start, end, d int, phrases ...string) (int, int) {
	view := l.level(start, end, d)
	m := keywordRegexp(phrases...).FindStringIndex(view)
	if m == nil {
		return -1, -1
	}
	return start + m[0], start + m[1]
}

// firstOf returns the start of the earliest phrase at depth d in
// [start,end), or end when none occurs.
func (l *layout) firstOf(start, end, d int, phrases ...string) int {
	if s, _ := l.find(start, end, d, phrases...); s >= 0 {
		return s
	}
	return end
}

var keywordCache sync.Map

// keywordRegexp compiles an alternation of keyword phrases. Words inside a
// phrase may be separated by any whitespace, longer phrases win, and word
// phrases only match on word boundaries.
func keywordRegexp(phrases ...string) *regexp.Regexp {
	key := strings.Join(phrases, "\x00")
	if re, ok := keywordCache.Load(key); ok {
		return re.(*regexp.Regexp)
	}

	sorted := append([]string(nil), phrases...)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })

	alts := make([]string, 0, len(sorted))
	for _, p := range sorted {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		words := strings.Fields(p)
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		expr := strings.Join(words, `\s+`)
		if isWordByte(p[0]) {
			expr = `\b` + expr
		}
		if isWordByte(p[len(p)-1]) {
			expr += `\b`
		}
		alts = append(alts, expr)
	}

	re := regexp.MustCompile(`(?i)(?:` + strings.Join(alts, "|") + `)`)
	keywordCache.Store(key, re)
	return re
}

// FindTopLevel returns the byte offset of the first occurrence of needle
// outside any parentheses and quoted text, or -1. Keyword needles match
// case-insensitively on word boundaries with flexible whitespace.
// Statements with unbalanced parens or quotes never match.
func FindTopLevel(sql, needle string) int {
	l, err := scan(sql)
	if err != nil {
		return -1
	}
	s, _ := l.find(0, len(sql), 0, needle)
	return s
}

// SplitTopLevelOn splits sql on delimiters found outside parentheses and
// quoted text. It returns the trimmed segments and the matched delimiters
// (upper-cased, single-spaced) in order; len(segments) == len(matched)+1.
// Statements with unbalanced parens or quotes come back as one segment.
func SplitTopLevelOn(sql string, delimiters ...string) (segments []string, matched []string) {
	l, err := scan(sql)
	if err != nil {
		return []string{strings.TrimSpace(sql)}, nil
	}
	prev := 0
	for _, sp := range l.findAll(0, len(sql), 0, delimiters...) {
		segments = append(segments, strings.TrimSpace(sql[prev:sp[0]]))
		matched = append(matched, normalizeKeyword(sql[sp[0]:sp[1]]))
		prev = sp[1]
	}
	segments = append(segments, strings.TrimSpace(sql[prev:]))
	return segments, matched
}

func normalizeKeyword(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

var queryStartRe = regexp.MustCompile(`(?i)^(?:SELECT|WITH)\b`)

// Clause keywords shared by the scope, HAVING, LIMIT and UNION checks.
var (
	setOperators = []string{"UNION ALL", "UNION DISTINCT", "UNION", "INTERSECT", "EXCEPT"}

	joinPhrases = []string{
		"NATURAL LEFT OUTER JOIN", "NATURAL RIGHT OUTER JOIN", "NATURAL FULL OUTER JOIN",
		"NATURAL LEFT JOIN", "NATURAL RIGHT JOIN", "NATURAL FULL JOIN", "NATURAL INNER JOIN", "NATURAL JOIN",
		"LEFT OUTER JOIN", "RIGHT OUTER JOIN", "FULL OUTER JOIN",
		"LEFT JOIN", "RIGHT JOIN", "FULL JOIN", "INNER JOIN", "CROSS JOIN", "JOIN",
	}

	// afterFrom ends the FROM clause.
	afterFrom = []string{"WHERE", "GROUP BY", "HAVING", "ORDER BY", "LIMIT", "OFFSET", "WINDOW"}

	// afterWhere ends the WHERE clause.
	afterWhere = []string{"GROUP BY", "HAVING", "ORDER BY", "LIMIT", "OFFSET", "WINDOW"}

	// afterHaving ends the HAVING clause.
	afterHaving = []string{"ORDER BY", "LIMIT", "OFFSET", "WINDOW"}
)
