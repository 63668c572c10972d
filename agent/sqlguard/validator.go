package sqlguard

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Aigiriai/AIMHi-2-sub001/shared/logger"
	"github.com/Aigiriai/AIMHi-2-sub001/shared/types"
)

// statementStartRe admits SELECT and WITH statements, optionally behind
// opening parens.
var statementStartRe = regexp.MustCompile(`(?i)^[\s(]*(?:SELECT|WITH)\b`)

// Validator validates LLM-generated SQL against a schema allowlist and
// enforces tenant scoping. It is safe for concurrent use.
type Validator struct {
	schema  *SchemaConfig
	config  Config
	threats *PatternSet
	logger  *logger.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithConfig overrides the default configuration.
func WithConfig(cfg Config) Option {
	return func(v *Validator) { v.config = cfg }
}

// WithPatternSet replaces the threat blocklist.
func WithPatternSet(ps *PatternSet) Option {
	return func(v *Validator) {
		if ps != nil {
			v.threats = ps
		}
	}
}

// WithLogger sets the logger used for decision logs.
func WithLogger(l *logger.Logger) Option {
	return func(v *Validator) {
		if l != nil {
			v.logger = l
		}
	}
}

// NewValidator creates a validator for schema.
func NewValidator(schema *SchemaConfig, opts ...Option) (*Validator, error) {
	if schema == nil {
		return nil, errors.New("sqlguard: schema is required")
	}
	v := &Validator{
		schema:  schema,
		config:  DefaultConfig(),
		threats: defaultThreats,
		logger:  logger.New("sqlguard"),
	}
	for _, opt := range opts {
		opt(v)
	}
	if err := v.config.Validate(); err != nil {
		return nil, fmt.Errorf("sqlguard: %w", err)
	}
	return v, nil
}

// Schema returns the schema the validator enforces.
func (v *Validator) Schema() *SchemaConfig {
	return v.schema
}

// Config returns a copy of the validator configuration.
func (v *Validator) Config() Config {
	return v.config
}

// Validate checks sql for orgID and returns either a sanitized statement or
// the reasons it was rejected. maxRows <= 0 selects the configured default;
// larger values are clamped to the configured ceiling. Validate never panics:
// an internal failure rejects the statement.
func (v *Validator) Validate(sql string, orgID types.OrgID, maxRows int) (result ValidationResult) {
	start := time.Now()
	var violations []Violation

	defer func() {
		if r := recover(); r != nil {
			promInternalErrors.Inc()
			v.logger.Error(orgID.String(), "", "internal validation error", map[string]interface{}{
				"panic":       fmt.Sprint(r),
				"sql_snippet": logSnippet(sql, v.config.SnippetLength),
			})
			violations = []Violation{structuralError("internal validation error")}
			result = rejected(violations)
		}
		v.record(sql, orgID, result, violations, time.Since(start))
	}()

	result, violations = v.run(sql, orgID, maxRows)
	return result
}

// run performs the fail-fast pipeline. Violations are returned alongside the
// result for metrics and audit.
func (v *Validator) run(sql string, orgID types.OrgID, maxRows int) (ValidationResult, []Violation) {
	reject := func(vs ...Violation) (ValidationResult, []Violation) {
		return rejected(vs), vs
	}

	src := strings.TrimSpace(sql)
	if src == "" {
		return reject(inputError("Empty SQL statement"))
	}
	if len(src) > v.config.MaxSQLLength {
		return reject(inputError(fmt.Sprintf("SQL statement exceeds maximum length of %d bytes", v.config.MaxSQLLength)))
	}
	literal, err := orgID.SQLLiteral()
	if err != nil {
		return reject(inputError("Invalid organization ID"))
	}

	// Blocklist hits win over every later check. Only the first is reported.
	if threats := v.threats.Detect(src); len(threats) > 0 {
		return rejected(threats[:1]), threats
	}
	if !statementStartRe.MatchString(src) {
		return reject(inputError("Only SELECT statements are allowed"))
	}

	l, err := scan(src)
	if err != nil {
		return reject(structuralViolationFor(err))
	}

	limit := v.config.RowLimit(maxRows)
	if ops := l.findAll(0, len(src), 0, setOperators...); len(ops) > 0 {
		uc := v.validateUnion(l, ops, orgID.Int64(), literal, limit)
		if len(uc.violations) > 0 {
			return reject(uc.violations...)
		}
		return accepted(uc.sql, uc.warnings, false), nil
	}
	return v.validateSingle(l, orgID.Int64(), literal, limit)
}

// validateSingle validates and repairs a statement without top-level set
// operators.
func (v *Validator) validateSingle(l *layout, orgID int64, literal string, limit int) (ValidationResult, []Violation) {
	a := analyze(l, 0, len(l.src), 0)
	if len(a.errs) > 0 {
		return rejected(a.errs), a.errs
	}
	if vs := a.checkTables(v.schema); len(vs) > 0 {
		return rejected(vs), vs
	}

	sc := a.enforceScope(v.schema, orgID)
	if len(sc.violations) > 0 {
		return rejected(sc.violations), sc.violations
	}
	edits, warnings := a.planRepairs(sc, literal)
	scopeRepaired := len(warnings) > 0

	if vs := a.checkHaving(); len(vs) > 0 {
		return rejected(vs), vs
	}

	le, lw, lv := l.capLimit(0, len(l.src), 0, limit, "")
	if len(lv) > 0 {
		return rejected(lv), lv
	}
	edits = append(edits, le...)
	warnings = append(warnings, lw...)

	return accepted(applyEdits(l.src, 0, len(l.src), edits), warnings, scopeRepaired), nil
}

// structuralViolationFor maps a scan error to its violation.
func structuralViolationFor(err error) Violation {
	switch {
	case errors.Is(err, errUnbalancedParens):
		return structuralError("Unbalanced parentheses")
	case errors.Is(err, errUnterminatedQuote):
		return structuralError("Unterminated quoted string or identifier")
	default:
		return structuralError(err.Error())
	}
}

// record publishes metrics, the decision log and the audit event.
func (v *Validator) record(sql string, orgID types.OrgID, result ValidationResult, violations []Violation, elapsed time.Duration) {
	outcome := outcomeOf(result)
	promValidations.WithLabelValues(outcome, string(result.RiskLevel)).Inc()
	promDuration.Observe(float64(elapsed.Microseconds()) / 1000.0)
	for _, w := range result.Warnings {
		promRepairs.WithLabelValues(repairKind(w)).Inc()
	}
	for _, vi := range violations {
		if vi.Pattern != "" {
			promThreats.WithLabelValues(vi.Pattern).Inc()
		}
	}

	snippet := logSnippet(sql, v.config.SnippetLength)
	if v.config.LogDecisions {
		switch outcome {
		case OutcomeRejected:
			v.logger.Warn(orgID.String(), "", "SQL rejected", map[string]interface{}{
				"errors":      result.Errors,
				"risk_level":  string(result.RiskLevel),
				"sql_snippet": snippet,
			})
		case OutcomeRepaired:
			v.logger.Info(orgID.String(), "", "SQL repaired", map[string]interface{}{
				"warnings":   result.Warnings,
				"risk_level": string(result.RiskLevel),
			})
		default:
			v.logger.Debug(orgID.String(), "", "SQL accepted", nil)
		}
	}

	if v.config.AuditTrailEnabled {
		EmitAuditEvent(NewAuditEvent(result, violations, orgID.String(), snippet, elapsed))
	}
}

// ValidateTables reports every table in sql that is not on the allowlist.
func (v *Validator) ValidateTables(sql string) []Violation {
	l, err := scan(sql)
	if err != nil {
		return []Violation{structuralViolationFor(err)}
	}
	a := analyze(l, 0, len(sql), 0)
	if len(a.errs) > 0 {
		return a.errs
	}
	return a.checkTables(v.schema)
}

// EnforceScope reports every scope-required table in sql that is not proven
// to be filtered by orgID. It never repairs.
func (v *Validator) EnforceScope(sql string, orgID types.OrgID) []Violation {
	if !orgID.IsValid() {
		return []Violation{inputError("Invalid organization ID")}
	}
	l, err := scan(sql)
	if err != nil {
		return []Violation{structuralViolationFor(err)}
	}
	a := analyze(l, 0, len(sql), 0)
	if len(a.errs) > 0 {
		return a.errs
	}
	sc := a.enforceScope(v.schema, orgID.Int64())
	out := sc.violations
	for _, b := range sc.missing {
		out = append(out, securityViolation(fmt.Sprintf("Missing organization filter for table %s (alias %s)", b.table, b.ref)))
	}
	return out
}
