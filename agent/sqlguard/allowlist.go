package sqlguard

import "fmt"

// checkTables rejects every FROM/JOIN target that is not allowlisted.
// Derived tables and CTE references are virtual and skipped.
func (a *analysis) checkTables(schema *SchemaConfig) []Violation {
	var out []Violation
	seen := make(map[string]bool)
	for _, b := range a.bindings {
		if b.virtual || seen[b.table] {
			continue
		}
		seen[b.table] = true
		if !schema.IsAllowedTable(b.table) {
			out = append(out, securityViolation(fmt.Sprintf("Unauthorized table: %s", b.table)))
		}
	}
	return out
}
