package sqlguard

import (
	"fmt"
	"regexp"
)

// Category classifies a threat pattern.
type Category string

const (
	CategoryMutation       Category = "mutation"
	CategoryExecution      Category = "execution"
	CategoryStacking       Category = "stacked_statement"
	CategoryComment        Category = "comment"
	CategorySystemCatalog  Category = "system_catalog"
	CategorySystemVariable Category = "system_variable"
	CategoryFileAccess     Category = "file_access"
	CategoryTimeBased      Category = "time_based"
	CategoryTautology      Category = "tautology"
)

// Pattern is one blocklist entry.
type Pattern struct {
	// Name is a human-readable identifier for the pattern.
	Name string

	// Category classifies what the pattern blocks.
	Category Category

	// Regex is matched against the raw statement.
	Regex *regexp.Regexp

	// Description is reported in the validation error.
	Description string

	// Severity ranks patterns for logs (1-10). Every match is CRITICAL.
	Severity int
}

// PatternSet holds the threat blocklist.
type PatternSet struct {
	patterns []*Pattern
}

// NewPatternSet creates a pattern set with the default blocklist.
func NewPatternSet() *PatternSet {
	return &PatternSet{
		patterns: defaultPatterns(),
	}
}

// NewPatternSetFrom creates a pattern set from custom patterns.
func NewPatternSetFrom(patterns ...*Pattern) *PatternSet {
	return &PatternSet{patterns: patterns}
}

// Patterns returns all patterns in the set.
func (ps *PatternSet) Patterns() []*Pattern {
	return ps.patterns
}

// PatternsByCategory returns patterns filtered by category.
func (ps *PatternSet) PatternsByCategory(category Category) []*Pattern {
	var result []*Pattern
	for _, p := range ps.patterns {
		if p.Category == category {
			result = append(result, p)
		}
	}
	return result
}

// Detect returns one CRITICAL violation per matching pattern, in pattern
// order. The raw text is scanned, string literals included.
func (ps *PatternSet) Detect(sql string) []Violation {
	var found []Violation
	for _, p := range ps.patterns {
		if p.Regex.MatchString(sql) {
			found = append(found, Violation{
				Kind:    KindSecurity,
				Message: fmt.Sprintf("Forbidden SQL pattern detected: %s", p.Description),
				Risk:    RiskCritical,
				Pattern: p.Name,
			})
		}
	}
	return found
}

var defaultThreats = NewPatternSet()

// DetectThreats scans sql against the default blocklist.
func DetectThreats(sql string) []Violation {
	return defaultThreats.Detect(sql)
}

// defaultPatterns returns the built-in blocklist.
func defaultPatterns() []*Pattern {
	return []*Pattern{
		// Statement stacking and comments
		{
			Name:        "statement_separator",
			Category:    CategoryStacking,
			Regex:       regexp.MustCompile(`;`),
			Description: "statement separator ';'",
			Severity:    10,
		},
		{
			Name:        "line_comment",
			Category:    CategoryComment,
			Regex:       regexp.MustCompile(`--`),
			Description: "line comment '--'",
			Severity:    8,
		},
		{
			Name:        "block_comment_open",
			Category:    CategoryComment,
			Regex:       regexp.MustCompile(`/\*`),
			Description: "block comment '/*'",
			Severity:    8,
		},
		{
			Name:        "block_comment_close",
			Category:    CategoryComment,
			Regex:       regexp.MustCompile(`\*/`),
			Description: "block comment '*/'",
			Severity:    8,
		},

		// Mutating and administrative statements
		{
			Name:        "ddl_statement",
			Category:    CategoryMutation,
			Regex:       regexp.MustCompile(`(?i)\b(DROP|CREATE|ALTER|TRUNCATE|RENAME)\b`),
			Description: "schema modification keyword",
			Severity:    10,
		},
		{
			Name:        "dml_statement",
			Category:    CategoryMutation,
			Regex:       regexp.MustCompile(`(?i)\b(DELETE|INSERT|UPDATE|MERGE|UPSERT)\b|\bREPLACE\s+INTO\b`),
			Description: "data modification keyword",
			Severity:    10,
		},
		{
			Name:        "select_into",
			Category:    CategoryMutation,
			Regex:       regexp.MustCompile(`(?i)\bINTO\b`),
			Description: "SELECT INTO",
			Severity:    9,
		},
		{
			Name:        "privilege_statement",
			Category:    CategoryMutation,
			Regex:       regexp.MustCompile(`(?i)\b(GRANT|REVOKE)\b`),
			Description: "privilege modification keyword",
			Severity:    10,
		},
		{
			Name:        "database_admin",
			Category:    CategoryMutation,
			Regex:       regexp.MustCompile(`(?i)\b(ATTACH|DETACH|PRAGMA|VACUUM|REINDEX|SHUTDOWN)\b`),
			Description: "database administration keyword",
			Severity:    10,
		},

		// Execution
		{
			Name:        "exec_statement",
			Category:    CategoryExecution,
			Regex:       regexp.MustCompile(`(?i)\bEXEC(UTE)?\b`),
			Description: "EXEC/EXECUTE keyword",
			Severity:    10,
		},
		{
			Name:        "stored_procedure",
			Category:    CategoryExecution,
			Regex:       regexp.MustCompile(`(?i)\b(sp|xp)_\w+`),
			Description: "stored procedure reference",
			Severity:    10,
		},

		// System catalogs and variables
		{
			Name:        "system_catalog",
			Category:    CategorySystemCatalog,
			Regex:       regexp.MustCompile(`(?i)\b(information_schema|pg_catalog|sqlite_(master|schema|temp_master|temp_schema|sequence)|pg_(user|shadow|roles|authid|database|tables|class|namespace|proc|settings|stat_activity))\b|\bmysql\s*\.`),
			Description: "system catalog reference",
			Severity:    9,
		},
		{
			Name:        "system_variable",
			Category:    CategorySystemVariable,
			Regex:       regexp.MustCompile(`@@`),
			Description: "system variable marker '@@'",
			Severity:    8,
		},

		// File access
		{
			Name:        "file_access",
			Category:    CategoryFileAccess,
			Regex:       regexp.MustCompile(`(?i)\b(LOAD_FILE|LOAD_EXTENSION|PG_READ_FILE|LO_IMPORT|OUTFILE|DUMPFILE)\b`),
			Description: "file access function",
			Severity:    10,
		},

		// Time-based probing
		{
			Name:        "sleep_function",
			Category:    CategoryTimeBased,
			Regex:       regexp.MustCompile(`(?i)\b(SLEEP|PG_SLEEP|BENCHMARK)\s*\(`),
			Description: "delay function",
			Severity:    9,
		},
		{
			Name:        "waitfor_delay",
			Category:    CategoryTimeBased,
			Regex:       regexp.MustCompile(`(?i)\bWAITFOR\s+(DELAY|TIME)\b`),
			Description: "WAITFOR DELAY",
			Severity:    9,
		},

		// Always-true conditions
		{
			Name:        "or_true_condition",
			Category:    CategoryTautology,
			Regex:       regexp.MustCompile(`(?i)\bOR\s+['"]?\d+['"]?\s*=\s*['"]?\d+['"]?`),
			Description: "always-true OR condition",
			Severity:    8,
		},
		{
			Name:        "or_string_condition",
			Category:    CategoryTautology,
			Regex:       regexp.MustCompile(`(?i)\bOR\s+['"][^'"]*['"]\s*=\s*['"][^'"]*['"]`),
			Description: "always-true OR string comparison",
			Severity:    8,
		},
		{
			Name:        "or_true_literal",
			Category:    CategoryTautology,
			Regex:       regexp.MustCompile(`(?i)\bOR\s+(TRUE|1)\b\s*($|\)|OR\b|AND\b)`),
			Description: "always-true OR literal",
			Severity:    8,
		},
	}
}
