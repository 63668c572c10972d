package sqlguard

import (
	"fmt"
	"regexp"
	"strconv"
)

// limitClauseRe accepts LIMIT n, LIMIT n OFFSET m and LIMIT m, n.
var limitClauseRe = regexp.MustCompile(`(?i)^LIMIT\s+(\d+)(?:\s*,\s*(\d+))?(?:\s+OFFSET\s+\d+)?$`)

// capLimit caps the LIMIT at depth d of [start,end) to maxRows, or appends
// one at the end. suffix is added to the warnings.
func (l *layout) capLimit(start, end, d, maxRows int, suffix string) ([]edit, []string, []Violation) {
	spans := l.findAll(start, end, d, "LIMIT")
	if len(spans) > 1 {
		return nil, nil, []Violation{structuralError("Multiple LIMIT clauses" + suffix)}
	}

	if len(spans) == 0 {
		_, at := l.trim(start, end)
		return []edit{{start: at, end: at, text: fmt.Sprintf(" LIMIT %d", maxRows), order: orderLimit}},
			[]string{fmt.Sprintf("Added LIMIT %d for performance%s", maxRows, suffix)},
			nil
	}

	ls, le := l.trim(spans[0][0], end)
	m := limitClauseRe.FindStringSubmatchIndex(l.src[ls:le])
	if m == nil {
		return nil, nil, []Violation{structuralError(fmt.Sprintf("LIMIT must be an integer literal%s: %s", suffix, snippet(l.src[ls:le], 40)))}
	}

	cs, ce := m[2], m[3]
	if m[4] >= 0 {
		cs, ce = m[4], m[5]
	}
	text := l.src[ls+cs : ls+ce]
	count, err := strconv.Atoi(text)
	if err != nil {
		return nil, nil, []Violation{structuralError(fmt.Sprintf("LIMIT must be an integer literal%s: %s", suffix, text))}
	}
	if count <= maxRows {
		return nil, nil, nil
	}
	return []edit{{start: ls + cs, end: ls + ce, text: strconv.Itoa(maxRows), order: orderLimit}},
		[]string{fmt.Sprintf("Reduced LIMIT %d to %d%s", count, maxRows, suffix)},
		nil
}
