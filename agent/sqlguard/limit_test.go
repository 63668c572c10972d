package sqlguard

import (
	"regexp"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapLimit(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		want     string
		warnings []string
	}{
		{
			"append",
			"SELECT title FROM jobs",
			"SELECT title FROM jobs LIMIT 100",
			[]string{"Added LIMIT 100 for performance"},
		},
		{
			"reduce",
			"SELECT title FROM jobs LIMIT 500",
			"SELECT title FROM jobs LIMIT 100",
			[]string{"Reduced LIMIT 500 to 100"},
		},
		{
			"within cap",
			"SELECT title FROM jobs LIMIT 50",
			"SELECT title FROM jobs LIMIT 50",
			nil,
		},
		{
			"equal to cap",
			"SELECT title FROM jobs limit 100",
			"SELECT title FROM jobs limit 100",
			nil,
		},
		{
			"offset",
			"SELECT title FROM jobs LIMIT 500 OFFSET 20",
			"SELECT title FROM jobs LIMIT 100 OFFSET 20",
			[]string{"Reduced LIMIT 500 to 100"},
		},
		{
			"mysql offset form",
			"SELECT title FROM jobs LIMIT 10, 500",
			"SELECT title FROM jobs LIMIT 10, 100",
			[]string{"Reduced LIMIT 500 to 100"},
		},
		{
			"subquery limit untouched",
			"SELECT title FROM jobs WHERE id IN (SELECT job_id FROM applications LIMIT 5)",
			"SELECT title FROM jobs WHERE id IN (SELECT job_id FROM applications LIMIT 5) LIMIT 100",
			[]string{"Added LIMIT 100 for performance"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := scan(tt.sql)
			require.NoError(t, err)

			edits, warnings, violations := l.capLimit(0, len(tt.sql), 0, 100, "")
			assert.Empty(t, violations)
			assert.Equal(t, tt.warnings, warnings)
			assert.Equal(t, tt.want, applyEdits(tt.sql, 0, len(tt.sql), edits))
		})
	}
}

func TestCapLimit_Violations(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want string
	}{
		{"non-integer", "SELECT title FROM jobs LIMIT ALL", "LIMIT must be an integer literal: LIMIT ALL"},
		{"parameter", "SELECT title FROM jobs LIMIT ?", "LIMIT must be an integer literal: LIMIT ?"},
		{"multiple", "SELECT title FROM jobs LIMIT 5 LIMIT 6", "Multiple LIMIT clauses"},
		{"trailing text", "SELECT title FROM jobs LIMIT 5 FOR UPDATE", "LIMIT must be an integer literal: LIMIT 5 FOR UPDATE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := scan(tt.sql)
			require.NoError(t, err)

			edits, warnings, violations := l.capLimit(0, len(tt.sql), 0, 100, "")
			assert.Empty(t, edits)
			assert.Empty(t, warnings)
			require.Len(t, violations, 1)
			assert.Equal(t, KindStructural, violations[0].Kind)
			assert.Equal(t, tt.want, violations[0].Message)
		})
	}
}

func TestCapLimit_Suffix(t *testing.T) {
	sql := "SELECT title FROM jobs LIMIT 900"
	l, err := scan(sql)
	require.NoError(t, err)

	_, warnings, _ := l.capLimit(0, len(sql), 0, 25, " in UNION branch 2")
	assert.Equal(t, []string{"Reduced LIMIT 900 to 25 in UNION branch 2"}, warnings)
}

func TestLimitValues(t *testing.T) {
	assert.Equal(t, []int{10, 20, 7}, limitValues("(SELECT 1 LIMIT 10) UNION (SELECT 2 limit 5, 20) LIMIT 7"))
	assert.Empty(t, limitValues("SELECT 1"))
}

func TestApplyEdits_Ordering(t *testing.T) {
	src := "abc"
	edits := []edit{
		{start: 3, end: 3, text: " L", order: orderLimit},
		{start: 3, end: 3, text: " W", order: orderNewWhere},
		{start: 0, end: 0, text: "(", order: orderWrap},
		{start: 3, end: 3, text: ")", order: orderAppend},
		{start: 1, end: 2, text: "B", order: orderAppend},
	}
	assert.Equal(t, "(aBc) W L", applyEdits(src, 0, len(src), edits))
	assert.Equal(t, "B", applyEdits(src, 1, 2, edits))
}

var limitValueRe = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)(?:\s*,\s*(\d+))?`)

// limitValues extracts every row count from LIMIT clauses in sql.
func limitValues(sql string) []int {
	var out []int
	for _, m := range limitValueRe.FindAllStringSubmatch(sql, -1) {
		v := m[1]
		if m[2] != "" {
			v = m[2]
		}
		if n, err := strconv.Atoi(v); err == nil {
			out = append(out, n)
		}
	}
	return out
}
