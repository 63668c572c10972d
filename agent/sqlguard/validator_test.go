package sqlguard

import (
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aigiriai/AIMHi-2-sub001/shared/types"
)

func newTestValidator(t *testing.T, opts ...Option) *Validator {
	t.Helper()
	cfg := DefaultConfig().WithLogDecisions(false).WithAuditTrail(false)
	v, err := NewValidator(DefaultSchema(), append([]Option{WithConfig(cfg)}, opts...)...)
	require.NoError(t, err)
	return v
}

func TestNewValidator(t *testing.T) {
	t.Run("nil schema", func(t *testing.T) {
		_, err := NewValidator(nil)
		assert.Error(t, err)
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := NewValidator(DefaultSchema(), WithConfig(DefaultConfig().WithMaxSQLLength(0)))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max_sql_length must be positive")
	})

	t.Run("defaults", func(t *testing.T) {
		v, err := NewValidator(DefaultSchema())
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), v.Config())
		assert.NotNil(t, v.Schema())
	})
}

func TestValidate_Scenarios(t *testing.T) {
	v := newTestValidator(t)

	t.Run("limit appended", func(t *testing.T) {
		sql := "SELECT title, status FROM jobs WHERE organization_id = 7"
		res := v.Validate(sql, 7, 100)

		assert.True(t, res.IsValid)
		assert.Equal(t, sql+" LIMIT 100", res.SanitizedSQL)
		assert.Equal(t, []string{"Added LIMIT 100 for performance"}, res.Warnings)
		assert.Empty(t, res.Errors)
		assert.Equal(t, RiskLow, res.RiskLevel)
	})

	t.Run("left join repaired", func(t *testing.T) {
		sql := "SELECT j.title, COUNT(a.id) FROM jobs j LEFT JOIN applications a ON a.job_id=j.id WHERE j.organization_id=3 GROUP BY j.title"
		res := v.Validate(sql, 3, 50)

		require.True(t, res.IsValid, "errors: %v", res.Errors)
		assert.True(t, strings.HasSuffix(res.SanitizedSQL, " LIMIT 50"))
		assert.Contains(t, res.SanitizedSQL, "a.organization_id = 3")
		assert.Equal(t, []string{
			"Added missing organization filter for applications (alias a)",
			"Added LIMIT 50 for performance",
		}, res.Warnings)
		assert.Equal(t, RiskMedium, res.RiskLevel)
	})
}

func TestValidate_Rejections(t *testing.T) {
	v := newTestValidator(t)

	tests := []struct {
		name  string
		sql   string
		orgID types.OrgID
		want  []string
		risk  RiskLevel
	}{
		{"empty", "   ", 1, []string{"Empty SQL statement"}, RiskHigh},
		{"invalid org", "SELECT title FROM jobs", 0, []string{"Invalid organization ID"}, RiskHigh},
		{"negative org", "SELECT title FROM jobs", -4, []string{"Invalid organization ID"}, RiskHigh},
		{"not a select", "SHOW TABLES", 1, []string{"Only SELECT statements are allowed"}, RiskHigh},
		{"explain", "EXPLAIN SELECT title FROM jobs", 1, []string{"Only SELECT statements are allowed"}, RiskHigh},
		{
			"stacked statement",
			"SELECT title FROM jobs; DROP TABLE jobs",
			1,
			[]string{"Forbidden SQL pattern detected: statement separator ';'"},
			RiskCritical,
		},
		{
			"trailing semicolon",
			"SELECT title FROM jobs WHERE organization_id = 1;",
			1,
			[]string{"Forbidden SQL pattern detected: statement separator ';'"},
			RiskCritical,
		},
		{
			"mutation beats non-select",
			"DELETE FROM jobs WHERE organization_id = 1",
			1,
			[]string{"Forbidden SQL pattern detected: data modification keyword"},
			RiskCritical,
		},
		{
			"comment",
			"SELECT title FROM jobs -- WHERE organization_id = 1",
			1,
			[]string{"Forbidden SQL pattern detected: line comment '--'"},
			RiskCritical,
		},
		{"unbalanced", "SELECT title FROM jobs WHERE (organization_id = 1", 1, []string{"Unbalanced parentheses"}, RiskHigh},
		{"unterminated quote", "SELECT title FROM jobs WHERE title = 'x", 1, []string{"Unterminated quoted string or identifier"}, RiskHigh},
		{"unauthorized table", "SELECT email FROM users WHERE organization_id = 1", 1, []string{"Unauthorized table: users"}, RiskHigh},
		{"schema qualified table", "SELECT title FROM main.jobs WHERE organization_id = 1", 1, []string{"Unauthorized table: main.jobs"}, RiskHigh},
		{
			"incorrect filter",
			"SELECT title FROM jobs WHERE organization_id = 1 OR status = 'open'",
			1,
			[]string{"Incorrect organization filter for table jobs (alias jobs)"},
			RiskHigh,
		},
		{
			"foreign organization",
			"SELECT title FROM jobs WHERE organization_id = 2",
			1,
			[]string{"Organization filter references organization 2 instead of the trusted organization"},
			RiskHigh,
		},
		{
			"having without group by",
			"SELECT COUNT(*) FROM jobs WHERE organization_id = 1 HAVING COUNT(*) > 1",
			1,
			[]string{"HAVING clause requires GROUP BY"},
			RiskHigh,
		},
		{"bad limit", "SELECT title FROM jobs WHERE organization_id = 1 LIMIT ALL", 1, []string{"LIMIT must be an integer literal: LIMIT ALL"}, RiskHigh},
		{"duplicate alias", "SELECT 1 FROM jobs j JOIN candidates j ON j.id = j.id", 1, []string{`Duplicate table alias "j"`}, RiskHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Validate(tt.sql, tt.orgID, 100)
			assert.False(t, res.IsValid)
			assert.Empty(t, res.SanitizedSQL)
			assert.Equal(t, tt.want, res.Errors)
			assert.Equal(t, tt.risk, res.RiskLevel)
			assert.NotNil(t, res.Warnings)
		})
	}
}

func TestValidate_TooLong(t *testing.T) {
	v := newTestValidator(t, WithConfig(DefaultConfig().WithMaxSQLLength(30).WithLogDecisions(false).WithAuditTrail(false)))

	res := v.Validate("SELECT title, status FROM jobs WHERE organization_id = 1", 1, 100)
	assert.False(t, res.IsValid)
	assert.Equal(t, []string{"SQL statement exceeds maximum length of 30 bytes"}, res.Errors)
}

func TestValidate_RowLimit(t *testing.T) {
	v := newTestValidator(t)
	sql := "SELECT title FROM jobs WHERE organization_id = 1"

	tests := []struct {
		name    string
		maxRows int
		suffix  string
	}{
		{"default", 0, " LIMIT 100"},
		{"negative", -1, " LIMIT 100"},
		{"explicit", 25, " LIMIT 25"},
		{"clamped to ceiling", 50000, " LIMIT 1000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Validate(sql, 1, tt.maxRows)
			require.True(t, res.IsValid)
			assert.Equal(t, sql+tt.suffix, res.SanitizedSQL)
		})
	}
}

func TestValidate_Repairs(t *testing.T) {
	v := newTestValidator(t)

	tests := []struct {
		name string
		sql  string
		want string
		risk RiskLevel
	}{
		{
			"unscoped table",
			"SELECT title FROM jobs",
			"SELECT title FROM jobs WHERE jobs.organization_id = 9 LIMIT 100",
			RiskMedium,
		},
		{
			"self join",
			"SELECT a.name FROM candidates a JOIN candidates b ON a.email = b.email WHERE a.organization_id = 9 AND a.id <> b.id",
			"SELECT a.name FROM candidates a JOIN candidates b ON a.email = b.email AND b.organization_id = 9 WHERE a.organization_id = 9 AND a.id <> b.id LIMIT 100",
			RiskMedium,
		},
		{
			"correlated subquery",
			"SELECT c.name FROM candidates c WHERE c.organization_id = 9 AND EXISTS (SELECT 1 FROM applications a WHERE a.candidate_id = c.id)",
			"SELECT c.name FROM candidates c WHERE c.organization_id = 9 AND EXISTS (SELECT 1 FROM applications a WHERE a.candidate_id = c.id AND a.organization_id = 9) LIMIT 100",
			RiskMedium,
		},
		{
			"reduced limit only",
			"SELECT title FROM jobs WHERE organization_id = 9 ORDER BY title LIMIT 5000",
			"SELECT title FROM jobs WHERE organization_id = 9 ORDER BY title LIMIT 100",
			RiskLow,
		},
		{
			"already safe",
			"SELECT j.title FROM jobs j WHERE j.organization_id = 9 LIMIT 10",
			"SELECT j.title FROM jobs j WHERE j.organization_id = 9 LIMIT 10",
			RiskLow,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Validate(tt.sql, 9, 100)
			require.True(t, res.IsValid, "errors: %v", res.Errors)
			assert.Equal(t, tt.want, res.SanitizedSQL)
			assert.Equal(t, tt.risk, res.RiskLevel)
		})
	}
}

// propertyInputs mixes accepted, repaired and rejected statements.
var propertyInputs = []string{
	"SELECT title, status FROM jobs WHERE organization_id = 7",
	"SELECT title FROM jobs",
	"SELECT title FROM jobs WHERE status = 'open' OR status = 'draft'",
	"SELECT status, COUNT(*) FROM jobs GROUP BY status HAVING COUNT(*) > 2 ORDER BY status",
	"SELECT j.title, c.name FROM jobs j JOIN applications a ON a.job_id = j.id JOIN candidates c ON c.id = a.candidate_id",
	"SELECT j.title FROM jobs j LEFT JOIN job_matches m ON m.job_id = j.id WHERE j.organization_id = 7 LIMIT 4000",
	"SELECT c.name FROM candidates c WHERE c.id IN (SELECT a.candidate_id FROM applications a WHERE a.status = 'hired')",
	"SELECT x.title FROM (SELECT title FROM jobs) x",
	"WITH recent AS (SELECT id, title FROM jobs WHERE created_at > '2024-01-01') SELECT r.title FROM recent r",
	"SELECT title FROM jobs WHERE organization_id = 7 UNION SELECT name FROM candidates",
	"SELECT title FROM jobs UNION ALL SELECT name FROM candidates ORDER BY 1",
	"(SELECT title FROM jobs WHERE organization_id = 7) UNION (SELECT name FROM candidates WHERE organization_id = 7) LIMIT 9000",
	"SELECT i.scheduled_at FROM interviews i, candidates c WHERE i.candidate_id = c.id",
	"SELECT title FROM jobs WHERE organization_id = 8",
	"SELECT * FROM users",
	"SELECT 1; DROP TABLE jobs",
}

func TestValidate_Properties(t *testing.T) {
	v := newTestValidator(t)
	const orgID = types.OrgID(7)
	const maxRows = 100

	for _, sql := range propertyInputs {
		t.Run(sql, func(t *testing.T) {
			res := v.Validate(sql, orgID, maxRows)

			if !res.IsValid {
				assert.Empty(t, res.SanitizedSQL)
				assert.NotEmpty(t, res.Errors)
				assert.Contains(t, []RiskLevel{RiskHigh, RiskCritical}, res.RiskLevel)
				return
			}

			// No false trust: every scoped table in the output is filtered.
			assert.Empty(t, v.EnforceScope(res.SanitizedSQL, orgID))
			assert.Empty(t, v.ValidateTables(res.SanitizedSQL))

			// Row cap.
			values := limitValues(res.SanitizedSQL)
			require.NotEmpty(t, values)
			for _, n := range values {
				assert.LessOrEqual(t, n, maxRows)
			}

			// Idempotence.
			again := v.Validate(res.SanitizedSQL, orgID, maxRows)
			require.True(t, again.IsValid, "errors: %v", again.Errors)
			assert.Equal(t, res.SanitizedSQL, again.SanitizedSQL)
			assert.Empty(t, again.Warnings)
			assert.Equal(t, RiskLow, again.RiskLevel)
		})
	}
}

func TestValidate_TrustedOrgOnly(t *testing.T) {
	v := newTestValidator(t)
	orgLiteral := regexp.MustCompile(`organization_id = (\d+)`)

	for _, sql := range propertyInputs {
		res := v.Validate(sql, 42, 100)
		if !res.IsValid {
			continue
		}
		for _, m := range orgLiteral.FindAllStringSubmatch(res.SanitizedSQL, -1) {
			assert.Equal(t, "42", m[1], sql)
		}
	}
}

func TestValidate_RecoversFromPanic(t *testing.T) {
	broken := NewPatternSetFrom(&Pattern{Name: "broken", Description: "broken"})
	v := newTestValidator(t, WithPatternSet(broken))

	var res ValidationResult
	require.NotPanics(t, func() {
		res = v.Validate("SELECT title FROM jobs WHERE organization_id = 1", 1, 100)
	})
	assert.False(t, res.IsValid)
	assert.Empty(t, res.SanitizedSQL)
	assert.Equal(t, []string{"internal validation error"}, res.Errors)
	assert.Equal(t, RiskHigh, res.RiskLevel)
}

func TestValidate_Concurrent(t *testing.T) {
	v := newTestValidator(t)
	sql := "SELECT j.title FROM jobs j JOIN applications a ON a.job_id = j.id WHERE j.organization_id = 5"
	want := v.Validate(sql, 5, 100)
	require.True(t, want.IsValid)

	var wg sync.WaitGroup
	results := make([]ValidationResult, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = v.Validate(sql, 5, 100)
		}(i)
	}
	wg.Wait()

	for _, res := range results {
		assert.Equal(t, want, res)
	}
}

func TestValidator_ValidateTables(t *testing.T) {
	v := newTestValidator(t)

	assert.Empty(t, v.ValidateTables("SELECT 1 FROM jobs j JOIN candidates c ON c.id = j.id"))
	assert.Equal(t,
		[]string{"Unauthorized table: users", "Unauthorized table: sessions"},
		errorMessages(v.ValidateTables("SELECT 1 FROM users u JOIN sessions s ON s.user_id = u.id JOIN users u2 ON u2.id = u.id")))
	assert.Equal(t, []string{"Unbalanced parentheses"}, errorMessages(v.ValidateTables("SELECT (1 FROM jobs")))
}

func TestValidator_EnforceScope(t *testing.T) {
	v := newTestValidator(t)

	assert.Empty(t, v.EnforceScope("SELECT 1 FROM jobs WHERE organization_id = 3", 3))
	assert.Equal(t,
		[]string{"Missing organization filter for table jobs (alias jobs)"},
		errorMessages(v.EnforceScope("SELECT 1 FROM jobs", 3)))
	assert.Equal(t,
		[]string{"Invalid organization ID"},
		errorMessages(v.EnforceScope("SELECT 1 FROM jobs", 0)))
}

func TestValidate_AuditAndMetrics(t *testing.T) {
	cfg := DefaultConfig().WithLogDecisions(false)
	v, err := NewValidator(DefaultSchema(), WithConfig(cfg))
	require.NoError(t, err)

	var events []*AuditEvent
	SetAuditCallback(func(e *AuditEvent) { events = append(events, e) })
	t.Cleanup(func() { SetAuditCallback(nil) })

	rejectedBefore := testutil.ToFloat64(promValidations.WithLabelValues(OutcomeRejected, string(RiskCritical)))
	threatsBefore := testutil.ToFloat64(promThreats.WithLabelValues("statement_separator"))
	repairsBefore := testutil.ToFloat64(promRepairs.WithLabelValues(RepairOrgFilter))

	v.Validate("SELECT title FROM jobs WHERE organization_id = 1; SELECT 2", 1, 100)
	v.Validate("SELECT title FROM jobs", 1, 100)
	v.Validate("SELECT title FROM jobs WHERE organization_id = 1 LIMIT 5", 1, 100)

	assert.Equal(t, rejectedBefore+1, testutil.ToFloat64(promValidations.WithLabelValues(OutcomeRejected, string(RiskCritical))))
	assert.Equal(t, threatsBefore+1, testutil.ToFloat64(promThreats.WithLabelValues("statement_separator")))
	assert.Equal(t, repairsBefore+1, testutil.ToFloat64(promRepairs.WithLabelValues(RepairOrgFilter)))

	require.Len(t, events, 2)

	assert.Equal(t, OutcomeRejected, events[0].Outcome)
	assert.Equal(t, RiskCritical, events[0].RiskLevel)
	assert.Equal(t, []string{"statement_separator"}, events[0].Patterns)
	assert.Equal(t, "1", events[0].OrgID)
	assert.NotEmpty(t, events[0].ID)

	assert.Equal(t, OutcomeRepaired, events[1].Outcome)
	assert.Equal(t, RiskMedium, events[1].RiskLevel)
	assert.Equal(t, AuditEventType, events[1].Type)
}
