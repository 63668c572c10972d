package sqlguard

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// scopeGraph decides which bindings are provably tenant-scoped. Symmetric
// equalities merge union-find groups; one-way equalities (outer joins,
// correlated subqueries) are directed edges between groups.
type scopeGraph struct {
	uf     *unionFind
	seeded []bool
	edges  [][2]int
}

func newScopeGraph(n int) *scopeGraph {
	return &scopeGraph{uf: newUnionFind(n), seeded: make([]bool, n)}
}

func (g *scopeGraph) seed(node int)     { g.seeded[node] = true }
func (g *scopeGraph) union(a, b int)    { g.uf.union(a, b) }
func (g *scopeGraph) edge(from, to int) { g.edges = append(g.edges, [2]int{from, to}) }

// scoped returns, per node, whether its group holds a seed or is reached
// from a scoped group through directed edges.
func (g *scopeGraph) scoped() []bool {
	n := len(g.seeded)
	group := make([]bool, n)
	for i := 0; i < n; i++ {
		if g.seeded[i] {
			group[g.uf.find(i)] = true
		}
	}
	for changed := true; changed; {
		changed = false
		for _, e := range g.edges {
			from, to := g.uf.find(e[0]), g.uf.find(e[1])
			if group[from] && !group[to] {
				group[to] = true
				changed = true
			}
		}
	}
	out := make([]bool, n)
	for i := range out {
		out[i] = group[g.uf.find(i)]
	}
	return out
}

const qualifierExpr = `(?:\b([a-z_][a-z0-9_]*)\s*\.\s*)?`

var (
	orgMentionRe = regexp.MustCompile(`(?i)` + qualifierExpr + `\borganization_id\b`)
	orgSeedRe    = regexp.MustCompile(`(?i)` + qualifierExpr + `\borganization_id\s*=\s*(-?\d+)\b`)
	orgSeedRevRe = regexp.MustCompile(`(?i)(-?\b\d+)\s*=\s*` + qualifierExpr + `\borganization_id\b`)
	orgPairRe    = regexp.MustCompile(`(?i)` + qualifierExpr + `\borganization_id\s*=\s*` + qualifierExpr + `\borganization_id\b`)

	caseEndRe     = regexp.MustCompile(`(?i)\b(?:CASE|END)\b`)
	disjunctionRe = regexp.MustCompile(`(?i)\b(?:OR|XOR)\b|\|\|`)
	conjunctionRe = regexp.MustCompile(`(?i)\b(?:AND|BETWEEN)\b`)
)

// orgPredicate is an organization_id equality found in a WHERE/ON clause.
type orgPredicate struct {
	start, end int
	left       string // qualifier of the first column
	right      string // qualifier of the second column for pairs
	literal    string // integer literal for seeds
	pair       bool
}

func findOrgPredicates(text string, base int) []orgPredicate {
	var preds []orgPredicate
	for _, m := range orgPairRe.FindAllStringSubmatchIndex(text, -1) {
		preds = append(preds, orgPredicate{
			start: base + m[0],
			end:   base + m[1],
			left:  submatch(text, m, 1),
			right: submatch(text, m, 2),
			pair:  true,
		})
	}
	overlaps := func(s, e int) bool {
		for _, p := range preds {
			if s < p.end && e > p.start {
				return true
			}
		}
		return false
	}
	var seeds []orgPredicate
	for _, m := range orgSeedRe.FindAllStringSubmatchIndex(text, -1) {
		seeds = append(seeds, orgPredicate{start: base + m[0], end: base + m[1], left: submatch(text, m, 1), literal: submatch(text, m, 2)})
	}
	for _, m := range orgSeedRevRe.FindAllStringSubmatchIndex(text, -1) {
		seeds = append(seeds, orgPredicate{start: base + m[0], end: base + m[1], left: submatch(text, m, 2), literal: submatch(text, m, 1)})
	}
	for _, s := range seeds {
		if !overlaps(s.start, s.end) {
			preds = append(preds, s)
		}
	}
	sort.Slice(preds, func(i, j int) bool { return preds[i].start < preds[j].start })
	return preds
}

func submatch(text string, m []int, n int) string {
	if m[2*n] < 0 {
		return ""
	}
	return text[m[2*n]:m[2*n+1]]
}

// literalMatches compares an integer literal with the trusted organization.
func literalMatches(literal string, orgID int64) bool {
	n, err := strconv.ParseInt(literal, 10, 64)
	return err == nil && n == orgID
}

// foreignOrgLiterals reports every organization_id equality against a
// literal other than the trusted organization, anywhere in [start,end).
func (a *analysis) foreignOrgLiterals(orgID int64) []Violation {
	l := a.l
	b := []byte(l.src[a.start:a.end])
	for i := a.start; i < a.end; i++ {
		if l.quoted[i] {
			b[i-a.start] = ' '
		}
	}
	text := string(b)

	var out []Violation
	seen := make(map[string]bool)
	report := func(lit string) {
		if literalMatches(lit, orgID) || seen[lit] {
			return
		}
		seen[lit] = true
		out = append(out, securityViolation(fmt.Sprintf("Organization filter references organization %s instead of the trusted organization", lit)))
	}
	for _, m := range orgSeedRe.FindAllStringSubmatch(text, -1) {
		report(m[2])
	}
	for _, m := range orgSeedRevRe.FindAllStringSubmatch(text, -1) {
		report(m[1])
	}
	return out
}

// scopeCheck is the outcome of scope enforcement for one analysis.
type scopeCheck struct {
	graph      *scopeGraph
	tainted    []bool
	violations []Violation
	missing    []*binding
}

// enforceScope proves tenant scoping for every binding that requires it.
// Bindings that stay unscoped are incorrect when an organization_id
// reference to them failed to prove scope, and missing otherwise.
func (a *analysis) enforceScope(schema *SchemaConfig, orgID int64) *scopeCheck {
	sc := &scopeCheck{
		graph:   newScopeGraph(len(a.bindings)),
		tainted: make([]bool, len(a.bindings)),
	}
	sc.violations = append(sc.violations, a.foreignOrgLiterals(orgID)...)

	unknown := make(map[string]bool)
	resolve := func(s *scope, q string) (*binding, bool) {
		b, ambiguous := a.resolve(s, q)
		if b == nil && !ambiguous && q != "" && !unknown[strings.ToLower(q)] {
			unknown[strings.ToLower(q)] = true
			sc.violations = append(sc.violations, securityViolation(fmt.Sprintf("Unknown table alias %q in organization filter", q)))
		}
		return b, ambiguous
	}
	taint := func(s *scope, b *binding, ambiguous bool) {
		if ambiguous {
			for _, local := range s.bindings {
				sc.tainted[local.node] = true
			}
			return
		}
		if b != nil && b.scope == s {
			sc.tainted[b.node] = true
		}
	}

	for _, s := range a.scopes {
		view := a.ownView(s)
		for _, c := range s.clauses {
			text := view[c.start-s.start : c.end-s.start]
			preds := findOrgPredicates(text, c.start)

			for _, p := range preds {
				proving := a.isTopConjunct(c, p.start, p.end)
				left, leftAmb := resolve(s, p.left)
				if !p.pair {
					if !literalMatches(p.literal, orgID) {
						continue
					}
					if proving && c.filters(left) {
						sc.graph.seed(left.node)
					} else {
						taint(s, left, leftAmb)
					}
					continue
				}

				right, rightAmb := resolve(s, p.right)
				if !proving || left == nil || right == nil {
					taint(s, left, leftAmb)
					taint(s, right, rightAmb)
					continue
				}
				fl, fr := c.filters(left), c.filters(right)
				switch {
				case fl && fr:
					sc.graph.union(left.node, right.node)
				case fr:
					sc.graph.edge(left.node, right.node)
				case fl:
					sc.graph.edge(right.node, left.node)
				default:
					taint(s, left, false)
					taint(s, right, false)
				}
			}

			for _, m := range orgMentionRe.FindAllStringSubmatchIndex(text, -1) {
				ms, me := c.start+m[0], c.start+m[1]
				covered := false
				for _, p := range preds {
					if ms >= p.start && me <= p.end {
						covered = true
						break
					}
				}
				if covered {
					continue
				}
				b, ambiguous := resolve(s, submatch(text, m, 1))
				taint(s, b, ambiguous)
			}
		}
	}

	scoped := sc.graph.scoped()
	for _, b := range a.bindings {
		if b.virtual || !schema.RequiresScope(b.table) || scoped[b.node] {
			continue
		}
		if sc.tainted[b.node] {
			sc.violations = append(sc.violations, securityViolation(
				fmt.Sprintf("Incorrect organization filter for table %s (alias %s)", b.table, b.ref)))
			continue
		}
		sc.missing = append(sc.missing, b)
	}
	return sc
}

// filters reports whether a predicate in c restricts the rows of b.
// WHERE restricts every binding of its scope; an inner join's ON does too;
// a LEFT JOIN's ON only restricts the joined table; RIGHT/FULL restrict none.
func (c *clause) filters(b *binding) bool {
	if b == nil || b.scope != c.scope {
		return false
	}
	if c.keyword == "WHERE" {
		return true
	}
	switch c.join {
	case joinInner:
		return true
	case joinLeft:
		return b == c.owner
	default:
		return false
	}
}

// isTopConjunct reports whether [start,end) is a top-level conjunct of c:
// every enclosing level inside the clause is a pure AND chain and each
// enclosing paren group is itself a whole conjunct.
func (a *analysis) isTopConjunct(c *clause, start, end int) bool {
	l := a.l
	d := l.depth[start]
	if l.depth[end-1] != d || d < c.depth {
		return false
	}
	lo, hi := start, end
	for {
		rs, re := c.start, c.end
		if d > c.depth {
			open := l.enclosingOpen(lo)
			if open < c.start {
				return false
			}
			rs, re = open+1, l.pair[open]
		}
		if !soleConjunct(l.level(rs, re, d), lo-rs, hi-rs) {
			return false
		}
		if d == c.depth {
			return true
		}
		lo, hi = rs-1, re+1
		d--
	}
}

// soleConjunct reports whether view[lo:hi] is a whole AND-separated term of
// view and view has no OR-like operator. CASE ... END spans are opaque and
// the AND of BETWEEN ... AND is not a separator.
func soleConjunct(view string, lo, hi int) bool {
	cases := caseSpans(view)
	inCase := func(i int) bool {
		for _, sp := range cases {
			if i >= sp[0] && i < sp[1] {
				return true
			}
		}
		return false
	}
	if inCase(lo) {
		return false
	}
	for _, m := range disjunctionRe.FindAllStringIndex(view, -1) {
		if !inCase(m[0]) {
			return false
		}
	}

	left, right := 0, len(view)
	between := false
	for _, m := range conjunctionRe.FindAllStringIndex(view, -1) {
		if inCase(m[0]) {
			continue
		}
		if strings.EqualFold(view[m[0]:m[1]], "BETWEEN") {
			between = true
			continue
		}
		if between {
			between = false
			continue
		}
		switch {
		case m[1] <= lo:
			left = m[1]
		case m[0] >= hi:
			if right == len(view) {
				right = m[0]
			}
		default:
			return false
		}
	}
	return strings.TrimSpace(view[left:lo]) == "" && strings.TrimSpace(view[hi:right]) == ""
}

// caseSpans returns the [CASE, END) spans of view. An unterminated CASE
// extends to the end.
func caseSpans(view string) [][2]int {
	var spans [][2]int
	var stack []int
	for _, m := range caseEndRe.FindAllStringIndex(view, -1) {
		if strings.EqualFold(view[m[0]:m[1]], "CASE") {
			stack = append(stack, m[0])
			continue
		}
		if len(stack) == 0 {
			continue
		}
		open := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		spans = append(spans, [2]int{open, m[1]})
	}
	for _, open := range stack {
		spans = append(spans, [2]int{open, len(view)})
	}
	return spans
}

// hasTopLevelDisjunction reports an OR-like operator at the clause's own level.
func (a *analysis) hasTopLevelDisjunction(c *clause) bool {
	return disjunctionRe.MatchString(a.l.level(c.start, c.end, c.depth))
}

// repairTarget is where a missing organization filter is added: an
// existing WHERE/ON clause, or a new WHERE clause for a scope.
type repairTarget struct {
	clause *clause
	scope  *scope
	preds  []string
}

// planRepairs adds an organization filter for each missing binding that is
// not already scoped through an earlier repair. It returns the text edits
// and one warning per added filter.
func (a *analysis) planRepairs(sc *scopeCheck, literal string) ([]edit, []string) {
	var targets []*repairTarget
	byClause := make(map[*clause]*repairTarget)
	byScope := make(map[*scope]*repairTarget)
	var warnings []string

	for _, b := range sc.missing {
		if sc.graph.scoped()[b.node] {
			continue
		}
		sc.graph.seed(b.node)

		var t *repairTarget
		switch {
		case b.on != nil && (b.join == joinInner || b.join == joinLeft):
			if t = byClause[b.on]; t == nil {
				t = &repairTarget{clause: b.on}
				byClause[b.on] = t
				targets = append(targets, t)
			}
		case b.scope.where != nil:
			if t = byClause[b.scope.where]; t == nil {
				t = &repairTarget{clause: b.scope.where}
				byClause[b.scope.where] = t
				targets = append(targets, t)
			}
		default:
			if t = byScope[b.scope]; t == nil {
				t = &repairTarget{scope: b.scope}
				byScope[b.scope] = t
				targets = append(targets, t)
			}
		}
		t.preds = append(t.preds, fmt.Sprintf("%s.%s = %s", b.ref, OrganizationColumn, literal))
		warnings = append(warnings, fmt.Sprintf("Added missing organization filter for %s (alias %s)", b.table, b.ref))
	}

	var edits []edit
	for _, t := range targets {
		cond := strings.Join(t.preds, " AND ")
		if t.clause == nil {
			edits = append(edits, edit{start: t.scope.whereAt, end: t.scope.whereAt, text: " WHERE " + cond, order: orderNewWhere})
			continue
		}
		c := t.clause
		if a.hasTopLevelDisjunction(c) {
			edits = append(edits,
				edit{start: c.start, end: c.start, text: "(", order: orderWrap},
				edit{start: c.end, end: c.end, text: ") AND " + cond, order: orderAppend})
			continue
		}
		edits = append(edits, edit{start: c.end, end: c.end, text: " AND " + cond, order: orderAppend})
	}
	return edits, warnings
}
