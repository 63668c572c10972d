package sqlguard

// checkHaving requires GROUP BY before any HAVING and rejects subqueries
// inside a HAVING predicate, in every scope.
func (a *analysis) checkHaving() []Violation {
	l := a.l
	var out []Violation
	for _, s := range a.scopes {
		hs, he := l.find(s.selectAt, s.end, s.depth, "HAVING")
		if hs < 0 {
			continue
		}
		if gs, _ := l.find(s.selectAt, hs, s.depth, "GROUP BY"); gs < 0 {
			out = append(out, structuralError("HAVING clause requires GROUP BY"))
		}
		bodyEnd := l.firstOf(he, s.end, s.depth, afterHaving...)
		for _, n := range s.nested {
			if n[0] > he && n[0] <= bodyEnd {
				out = append(out, securityViolation("Subqueries are not allowed in HAVING clause"))
				break
			}
		}
	}
	return out
}

// ValidateHaving checks the HAVING clauses of sql in isolation.
func ValidateHaving(sql string) []Violation {
	l, err := scan(sql)
	if err != nil {
		return []Violation{structuralViolationFor(err)}
	}
	a := analyze(l, 0, len(sql), 0)
	return a.checkHaving()
}
