package sqlguard

import (
	"fmt"
	"regexp"
	"strings"
)

// branch is one SELECT of a top-level compound statement.
type branch struct {
	index      int // 1-based
	start, end int // body without wrapping parens
	depth      int
	connector  string // operator joining the previous branch to this one
}

var (
	selectStartRe    = regexp.MustCompile(`(?i)^SELECT\b`)
	selectModifierRe = regexp.MustCompile(`(?i)^SELECT\s+(?:(?:DISTINCT|ALL)\b\s*)?`)
	tailStartRe      = regexp.MustCompile(`(?i)^(?:ORDER\s+BY|LIMIT|OFFSET)\b`)
)

// unionCheck collects the outcome of UNION validation.
type unionCheck struct {
	violations []Violation
	warnings   []string
	sql        string
}

// splitBranches splits the statement at its top-level set operators. A
// trailing ORDER BY/LIMIT/OFFSET after the last branch belongs to the whole
// compound and is returned as the tail span (start == end when absent).
func (l *layout) splitBranches(ops [][2]int) ([]branch, [2]int) {
	var branches []branch
	tail := [2]int{len(l.src), len(l.src)}

	prev := 0
	connector := ""
	for i := 0; i <= len(ops); i++ {
		segEnd := len(l.src)
		if i < len(ops) {
			segEnd = ops[i][0]
		}
		s, e := l.trim(prev, segEnd)
		br := branch{index: i + 1, connector: connector}
		last := i == len(ops)

		for l.wraps(s, e) {
			s, e = l.trim(s+1, e-1)
			br.depth++
		}
		if last && br.depth == 0 && s < e {
			if l.src[s] == '(' && !l.quoted[s] && l.opensQuery(s) {
				closing := l.pair[s]
				ts, te := l.trim(closing+1, e)
				tail = [2]int{ts, te}
				s, e = l.trim(s+1, closing)
				br.depth = 1
				for l.wraps(s, e) {
					s, e = l.trim(s+1, e-1)
					br.depth++
				}
			} else {
				ts := l.firstOf(s, e, 0, "ORDER BY", "LIMIT", "OFFSET")
				tail = [2]int{ts, e}
				_, e = l.trim(s, ts)
			}
		}
		br.start, br.end = s, e
		branches = append(branches, br)

		if i < len(ops) {
			connector = normalizeKeyword(l.src[ops[i][0]:ops[i][1]])
			prev = ops[i][1]
		}
	}
	return branches, tail
}

// projection returns the column list span of a branch body.
func (l *layout) projection(br branch) (int, int) {
	view := l.level(br.start, br.end, br.depth)
	m := selectModifierRe.FindStringIndex(view)
	if m == nil {
		return br.start, br.start
	}
	ps := br.start + m[1]
	pe := l.firstOf(ps, br.end, br.depth, append([]string{"FROM"}, afterFrom...)...)
	return ps, pe
}

// columns splits the projection at top-level commas.
func (l *layout) columns(br branch) []string {
	ps, pe := l.projection(br)
	ps, pe = l.trim(ps, pe)
	if ps >= pe {
		return nil
	}
	var cols []string
	prev := ps
	for _, sp := range l.findAll(ps, pe, br.depth, ",") {
		cols = append(cols, strings.TrimSpace(l.src[prev:sp[0]]))
		prev = sp[1]
	}
	return append(cols, strings.TrimSpace(l.src[prev:pe]))
}

func isStar(col string) bool {
	return col == "*" || strings.HasSuffix(col, ".*")
}

// validateUnion checks every branch of a compound statement in isolation,
// requires equal column counts, caps each branch and the whole compound,
// and reassembles the statement with parenthesized branches.
func (v *Validator) validateUnion(l *layout, ops [][2]int, orgID int64, literal string, maxRows int) *unionCheck {
	uc := &unionCheck{}
	branches, tail := l.splitBranches(ops)

	edits := make([][]edit, len(branches))
	counts := make([]int, len(branches))
	for i, br := range branches {
		prefix := fmt.Sprintf("UNION branch %d: ", br.index)
		suffix := fmt.Sprintf(" in UNION branch %d", br.index)
		counts[i] = -1

		if br.start >= br.end {
			uc.violations = append(uc.violations, structuralError(fmt.Sprintf("UNION branch %d is empty", br.index)))
			continue
		}
		if !selectStartRe.MatchString(l.src[br.start:br.end]) {
			uc.violations = append(uc.violations, securityViolation(fmt.Sprintf("UNION branch %d must start with SELECT", br.index)))
			continue
		}

		cols := l.columns(br)
		counts[i] = len(cols)
		for _, c := range cols {
			if isStar(c) {
				uc.violations = append(uc.violations, securityViolation(fmt.Sprintf("UNION branch %d must not use SELECT *", br.index)))
				break
			}
		}
		if ob, _ := l.find(br.start, br.end, br.depth, "ORDER BY"); ob >= 0 {
			uc.violations = append(uc.violations, securityViolation(fmt.Sprintf("ORDER BY is not allowed inside UNION branch %d", br.index)))
		}

		a := analyze(l, br.start, br.end, br.depth)
		if len(a.errs) > 0 {
			uc.violations = append(uc.violations, prefixed(prefix, a.errs)...)
			continue
		}
		uc.violations = append(uc.violations, prefixed(prefix, a.checkTables(v.schema))...)

		sc := a.enforceScope(v.schema, orgID)
		uc.violations = append(uc.violations, prefixed(prefix, sc.violations)...)
		for _, b := range sc.missing {
			uc.violations = append(uc.violations, securityViolation(
				fmt.Sprintf("%sMissing organization filter for table %s (alias %s)", prefix, b.table, b.ref)))
		}

		uc.violations = append(uc.violations, prefixed(prefix, a.checkHaving())...)

		le, lw, lv := l.capLimit(br.start, br.end, br.depth, maxRows, suffix)
		uc.violations = append(uc.violations, lv...)
		uc.warnings = append(uc.warnings, lw...)
		edits[i] = le
	}

	expected := -1
	for i, n := range counts {
		if n < 0 {
			continue
		}
		if expected < 0 {
			expected = n
			continue
		}
		if n != expected {
			uc.violations = append(uc.violations, structuralError(
				fmt.Sprintf("UNION branch %d projects %d columns, expected %d", branches[i].index, n, expected)))
		}
	}

	var tailEdits []edit
	hasTail := tail[0] < tail[1]
	if hasTail {
		if !tailStartRe.MatchString(l.src[tail[0]:tail[1]]) {
			uc.violations = append(uc.violations, structuralError(
				fmt.Sprintf("Unexpected text after the last UNION branch: %s", snippet(l.src[tail[0]:tail[1]], 40))))
		}
		for i := tail[0]; i < tail[1]; i++ {
			if l.src[i] == '(' && !l.quoted[i] && l.opensQuery(i) {
				uc.violations = append(uc.violations, securityViolation("Subqueries are not allowed after the last UNION branch"))
				break
			}
		}
		te, tw, tv := l.capLimit(tail[0], tail[1], 0, maxRows, "")
		tailEdits = te
		uc.warnings = append(uc.warnings, tw...)
		uc.violations = append(uc.violations, tv...)
	}

	if len(uc.violations) > 0 {
		return uc
	}

	var b strings.Builder
	for i, br := range branches {
		if i > 0 {
			b.WriteString(" " + br.connector + " ")
		}
		b.WriteString("(" + applyEdits(l.src, br.start, br.end, edits[i]) + ")")
	}
	if hasTail {
		b.WriteString(" " + applyEdits(l.src, tail[0], tail[1], tailEdits))
	} else {
		b.WriteString(fmt.Sprintf(" LIMIT %d", maxRows))
		uc.warnings = append(uc.warnings, fmt.Sprintf("Added LIMIT %d for performance", maxRows))
	}
	uc.sql = b.String()
	return uc
}

func prefixed(prefix string, vs []Violation) []Violation {
	out := make([]Violation, 0, len(vs))
	for _, v := range vs {
		v.Message = prefix + v.Message
		out = append(out, v)
	}
	return out
}
