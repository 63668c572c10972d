// Package sqlguard validates generated SQL before it reaches a tenant database.
//
// A Validator receives a candidate SELECT statement (typically produced by an
// LLM or a rule-based report generator) together with the organization ID
// taken from the authenticated session, and decides without executing
// anything whether the statement:
//   - is a read-only SELECT (or WITH ... SELECT) with no blocklisted tokens
//   - touches only tables from the configured schema allowlist
//   - is provably restricted to the caller's organization for every table
//     alias that requires tenant scoping
//   - returns a bounded number of rows
//
// Missing organization filters and missing or oversized LIMIT clauses are
// repaired on single statements and reported as warnings. Incorrect filters
// (a different organization, or an organization_id predicate that does not
// restrict rows) are always rejected.
//
// # Usage
//
//	v, err := sqlguard.NewValidator(sqlguard.DefaultSchema())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result := v.Validate(candidateSQL, orgID, 100)
//	if !result.IsValid {
//	    // fall back or refuse; result.Errors are for internal logs only
//	}
//	rows, err := db.QueryContext(ctx, result.SanitizedSQL)
//
// # Scoping rules
//
// Scoping is proven per table alias. A predicate counts only when it is a
// top-level conjunct of a WHERE or ON clause:
//
//	j.organization_id = 7                       -- seeds alias j
//	a.organization_id = j.organization_id       -- a and j share scope
//
// ON predicates of a LEFT JOIN only restrict the joined table, and ON
// predicates of RIGHT and FULL joins restrict nothing. Predicates in a
// correlated subquery can scope the subquery's own aliases from outer ones,
// never the reverse.
//
// # Configuration
//
//	cfg := sqlguard.ConfigFromEnv().
//	    WithDefaultMaxRows(50).
//	    WithLogDecisions(false)
//	v, err := sqlguard.NewValidator(schema, sqlguard.WithConfig(cfg))
//
// The schema is immutable after construction and safe to share between
// goroutines; Validate holds no mutable state.
package sqlguard
