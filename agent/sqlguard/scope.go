package sqlguard

import (
	"fmt"
	"regexp"
	"strings"
)

type joinKind int

const (
	joinNone  joinKind = iota // first FROM item or comma join
	joinInner                 // [INNER|CROSS] JOIN
	joinLeft                  // LEFT [OUTER] JOIN
	joinOuter                 // RIGHT or FULL [OUTER] JOIN
)

func joinKindOf(phrase string) joinKind {
	p := normalizeKeyword(phrase)
	switch {
	case p == ",":
		return joinNone
	case strings.Contains(p, "LEFT"):
		return joinLeft
	case strings.Contains(p, "RIGHT"), strings.Contains(p, "FULL"):
		return joinOuter
	default:
		return joinInner
	}
}

// clause is the body of a WHERE or ON clause.
type clause struct {
	keyword    string
	start, end int
	depth      int
	join       joinKind
	owner      *binding // table joined by this ON clause
	scope      *scope
}

// binding is one table reference in a FROM clause.
type binding struct {
	table   string // lower-case, schema kept; empty for derived tables
	alias   string // lower-case reference name
	ref     string // reference as written into repairs
	virtual bool   // derived table or CTE
	join    joinKind
	on      *clause
	scope   *scope
	node    int
}

func (b *binding) label() string {
	if b.table == "" {
		return b.ref
	}
	return b.table
}

// scope is one SELECT block. Nested query parens open child scopes and
// set operators split a block into siblings.
type scope struct {
	start, end int
	depth      int
	parent     *scope
	selectAt   int
	ctes       map[string]struct{}
	nested     [][2]int // interiors of child query parens
	bindings   []*binding
	clauses    []*clause
	where      *clause
	whereAt    int // insertion point for a new WHERE clause
}

func (s *scope) isCTE(name string) bool {
	for sc := s; sc != nil; sc = sc.parent {
		if _, ok := sc.ctes[name]; ok {
			return true
		}
	}
	return false
}

// analysis holds every scope and binding of one statement or UNION branch.
type analysis struct {
	l          *layout
	start, end int
	scopes     []*scope
	bindings   []*binding
	errs       []Violation
}

func analyze(l *layout, start, end, depth int) *analysis {
	a := &analysis{l: l, start: start, end: end}
	a.collect(start, end, depth, nil)
	return a
}

func (a *analysis) fail(format string, args ...interface{}) {
	a.errs = append(a.errs, structuralError(fmt.Sprintf(format, args...)))
}

// collect splits [start,end) on set operators at depth d and analyses each
// query block.
func (a *analysis) collect(start, end, d int, parent *scope) {
	prev := start
	for _, sp := range a.l.findAll(start, end, d, setOperators...) {
		a.collectBlock(prev, sp[0], d, parent)
		prev = sp[1]
	}
	a.collectBlock(prev, end, d, parent)
}

func (a *analysis) collectBlock(start, end, d int, parent *scope) {
	l := a.l
	start, end = l.trim(start, end)
	if start >= end {
		a.fail("Empty query block")
		return
	}
	if l.wraps(start, end) {
		a.collect(start+1, end-1, d+1, parent)
		return
	}
	if l.src[start] == '(' && !l.quoted[start] && l.opensQuery(start) {
		// (query) ORDER BY ... LIMIT ...
		closing := l.pair[start]
		ts, te := l.trim(closing+1, end)
		if !tailStartRe.MatchString(l.src[ts:te]) {
			a.fail("Unsupported query block: %s", snippet(l.src[start:end], 40))
			return
		}
		for i := ts; i < te; i++ {
			if l.src[i] == '(' && !l.quoted[i] && l.opensQuery(i) {
				a.fail("Unsupported query block: %s", snippet(l.src[start:end], 40))
				return
			}
		}
		a.collect(start+1, closing, d+1, parent)
		return
	}
	if !queryStartRe.MatchString(l.src[start:end]) {
		a.fail("Unsupported query block: %s", snippet(l.src[start:end], 40))
		return
	}

	s := &scope{
		start:  start,
		end:    end,
		depth:  d,
		parent: parent,
		ctes:   make(map[string]struct{}),
	}
	a.scopes = append(a.scopes, s)
	a.parseCTEs(s)

	for i := start; i < end; i++ {
		if l.src[i] != '(' || l.quoted[i] || !l.opensQuery(i) {
			continue
		}
		closing := l.pair[i]
		s.nested = append(s.nested, [2]int{i + 1, closing})
		a.collect(i+1, closing, l.depth[i]+1, s)
		i = closing
	}

	a.bind(s)
}

var cteNameRe = regexp.MustCompile(`(?i)(?:^|,)\s*(?:RECURSIVE\s+)?([a-z_][a-z0-9_]*)\s*(?:\(\s*\)\s*)?AS\s*(?:NOT\s+)?(?:MATERIALIZED\s*)?\(`)

// parseCTEs records CTE names and the position of the main SELECT.
func (a *analysis) parseCTEs(s *scope) {
	l := a.l
	s.selectAt = s.start
	ws, we := l.find(s.start, s.end, s.depth, "WITH")
	if ws != s.start {
		return
	}
	sel, _ := l.find(we, s.end, s.depth, "SELECT")
	if sel < 0 {
		a.fail("WITH clause has no main SELECT")
		s.selectAt = s.end
		return
	}
	s.selectAt = sel
	for _, m := range cteNameRe.FindAllStringSubmatch(l.level(we, sel, s.depth), -1) {
		s.ctes[strings.ToLower(m[1])] = struct{}{}
	}
}

var distinctBeforeRe = regexp.MustCompile(`(?i)\bDISTINCT\s*$`)

// findFrom returns the span of the scope's FROM keyword, skipping
// "IS DISTINCT FROM".
func (a *analysis) findFrom(s *scope) (int, int) {
	for _, sp := range a.l.findAll(s.selectAt, s.end, s.depth, "FROM") {
		if distinctBeforeRe.MatchString(a.l.src[s.selectAt:sp[0]]) {
			continue
		}
		return sp[0], sp[1]
	}
	return -1, -1
}

// bind extracts table bindings, ON clauses and the WHERE clause of s.
func (a *analysis) bind(s *scope) {
	l := a.l
	d := s.depth

	regionStart := s.selectAt
	regionEnd := s.selectAt
	if fs, fe := a.findFrom(s); fs >= 0 {
		regionStart = fe
		regionEnd = l.firstOf(fe, s.end, d, afterFrom...)
		a.bindItems(s, fe, regionEnd)
	}

	ws, we := l.find(regionEnd, s.end, d, "WHERE")
	if ws < 0 {
		_, s.whereAt = l.trim(s.selectAt, l.firstOf(regionEnd, s.end, d, afterWhere...))
		if s.whereAt < regionStart {
			s.whereAt = regionStart
		}
		return
	}
	bs, be := l.trim(we, l.firstOf(we, s.end, d, afterWhere...))
	if bs >= be {
		a.fail("Empty WHERE clause")
		return
	}
	s.where = &clause{keyword: "WHERE", start: bs, end: be, depth: d, scope: s}
	s.clauses = append(s.clauses, s.where)
}

func (a *analysis) bindItems(s *scope, start, end int) {
	seps := a.l.findAll(start, end, s.depth, append(append([]string(nil), joinPhrases...), ",")...)
	prev, kind := start, joinNone
	for _, sp := range seps {
		a.bindItem(s, prev, sp[0], kind)
		kind = joinKindOf(a.l.src[sp[0]:sp[1]])
		prev = sp[1]
	}
	a.bindItem(s, prev, end, kind)
}

const identExpr = `[a-z_][a-z0-9_$]*|"(?:[^"]|"")+"|` + "`[^`]+`"

var (
	tableRefRe  = regexp.MustCompile(`(?i)^((?:` + identExpr + `)(?:\s*\.\s*(?:` + identExpr + `))?)(?:\s+(?:AS\s+)?([a-z_][a-z0-9_]*))?$`)
	identPartRe = regexp.MustCompile(`(?i)` + identExpr)
	aliasOnlyRe = regexp.MustCompile(`(?i)^(?:(?:AS\s+)?([a-z_][a-z0-9_]*))?$`)
	plainIdent  = regexp.MustCompile(`(?i)^[a-z_][a-z0-9_]*$`)
)

var reservedAliases = map[string]struct{}{
	"on": {}, "using": {}, "where": {}, "join": {}, "left": {}, "right": {}, "full": {},
	"inner": {}, "outer": {}, "cross": {}, "natural": {}, "group": {}, "order": {},
	"having": {}, "limit": {}, "offset": {}, "window": {}, "union": {}, "select": {},
	"from": {}, "as": {}, "indexed": {}, "not": {},
}

func (a *analysis) bindItem(s *scope, start, end int, kind joinKind) {
	l := a.l
	d := s.depth
	start, end = l.trim(start, end)
	if start >= end {
		a.fail("Empty table reference in FROM clause")
		return
	}

	nameEnd := end
	onStart, onEnd := l.find(start, end, d, "ON")
	if onStart >= 0 {
		nameEnd = onStart
	}
	if us, _ := l.find(start, nameEnd, d, "USING"); us >= 0 {
		nameEnd = us
	}
	ns, ne := l.trim(start, nameEnd)
	if ns >= ne {
		a.fail("Empty table reference in FROM clause")
		return
	}

	b := &binding{join: kind, scope: s}
	if l.src[ns] == '(' && !l.quoted[ns] {
		closing := l.pair[ns]
		if !l.opensQuery(ns) {
			a.fail("Unsupported parenthesized join in FROM clause")
			return
		}
		m := aliasOnlyRe.FindStringSubmatch(strings.TrimSpace(l.src[closing+1 : ne]))
		if m == nil {
			a.fail("Unsupported derived table alias: %s", snippet(l.src[closing+1:ne], 40))
			return
		}
		b.virtual = true
		b.alias = strings.ToLower(m[1])
		b.ref = m[1]
	} else {
		m := tableRefRe.FindStringSubmatch(l.src[ns:ne])
		if m == nil {
			a.fail("Unsupported table reference: %s", snippet(l.src[ns:ne], 40))
			return
		}
		parts := identPartRe.FindAllString(m[1], -1)
		for i, p := range parts {
			parts[i] = strings.ToLower(unquoteIdent(p))
		}
		b.table = strings.Join(parts, ".")
		last := parts[len(parts)-1]

		if alias := m[2]; alias != "" {
			if _, reserved := reservedAliases[strings.ToLower(alias)]; reserved {
				a.fail("Unsupported table reference: %s", snippet(l.src[ns:ne], 40))
				return
			}
			b.alias = strings.ToLower(alias)
			b.ref = alias
		} else {
			b.alias = last
			b.ref = last
			if !plainIdent.MatchString(last) {
				b.ref = `"` + strings.ReplaceAll(last, `"`, `""`) + `"`
			}
		}
		b.virtual = len(parts) == 1 && s.isCTE(last)
	}

	for _, other := range s.bindings {
		if other.alias != "" && other.alias == b.alias {
			a.fail("Duplicate table alias %q", b.alias)
			return
		}
	}

	if onStart >= 0 {
		if kind == joinNone {
			a.fail("ON clause without JOIN near %s", snippet(l.src[ns:end], 40))
			return
		}
		bs, be := l.trim(onEnd, end)
		if bs >= be {
			a.fail("Empty ON clause for %s", b.label())
			return
		}
		b.on = &clause{keyword: "ON", start: bs, end: be, depth: d, join: kind, owner: b, scope: s}
		s.clauses = append(s.clauses, b.on)
	}

	b.node = len(a.bindings)
	a.bindings = append(a.bindings, b)
	s.bindings = append(s.bindings, b)
}

func unquoteIdent(s string) string {
	if len(s) >= 2 {
		switch {
		case s[0] == '"' && s[len(s)-1] == '"':
			return strings.ReplaceAll(s[1:len(s)-1], `""`, `"`)
		case s[0] == '`' && s[len(s)-1] == '`':
			return s[1 : len(s)-1]
		}
	}
	return s
}

// resolve finds the binding a column qualifier refers to, searching outward
// through enclosing scopes. An empty qualifier resolves to the only binding
// of the nearest scope that has any; ambiguous reports several candidates.
func (a *analysis) resolve(s *scope, qualifier string) (b *binding, ambiguous bool) {
	q := strings.ToLower(qualifier)
	for sc := s; sc != nil; sc = sc.parent {
		if q == "" {
			switch len(sc.bindings) {
			case 0:
				continue
			case 1:
				return sc.bindings[0], false
			default:
				return nil, true
			}
		}
		for _, b := range sc.bindings {
			if b.alias == q {
				return b, false
			}
		}
	}
	return nil, false
}

// ownView returns the scope's text with quoted tokens and child scopes
// blanked. Offsets line up with src minus s.start.
func (a *analysis) ownView(s *scope) string {
	l := a.l
	b := []byte(l.src[s.start:s.end])
	for i := s.start; i < s.end; i++ {
		if l.quoted[i] {
			b[i-s.start] = ' '
		}
	}
	for _, n := range s.nested {
		for i := n[0]; i < n[1]; i++ {
			b[i-s.start] = ' '
		}
	}
	return string(b)
}

// snippet shortens text for error messages.
func snippet(s string, n int) string {
	return truncate(strings.Join(strings.Fields(s), " "), n)
}
