// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reports

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aigiriai/AIMHi-2-sub001/agent/sqlguard"
	"github.com/Aigiriai/AIMHi-2-sub001/shared/types"
)

func newTestValidator(t *testing.T) *sqlguard.Validator {
	t.Helper()
	cfg := sqlguard.DefaultConfig().WithLogDecisions(false).WithAuditTrail(false)
	v, err := sqlguard.NewValidator(sqlguard.DefaultSchema(), sqlguard.WithConfig(cfg))
	require.NoError(t, err)
	return v
}

func newTestService(t *testing.T, opts ...ServiceOption) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	svc, err := NewService(newTestValidator(t), NewSQLExecutor(db, time.Second), opts...)
	require.NoError(t, err)
	return svc, mock
}

// staticGenerator always proposes the same SQL.
func staticGenerator(sql string) Generator {
	return GeneratorFunc(func(ctx context.Context, prompt string, orgID types.OrgID) (*Candidate, error) {
		return &Candidate{SQL: sql, ChartType: ChartBar, Source: SourceAI}, nil
	})
}

func TestNewService(t *testing.T) {
	_, err := NewService(nil, NewSQLExecutor(nil, 0))
	assert.Error(t, err)

	_, err = NewService(newTestValidator(t), nil)
	assert.Error(t, err)

	svc, err := NewService(newTestValidator(t), NewSQLExecutor(nil, 0))
	require.NoError(t, err)
	assert.Nil(t, svc.primary)
	assert.IsType(t, &TemplateGenerator{}, svc.fallback)
}

func TestService_Run_PrimaryGenerator(t *testing.T) {
	svc, mock := newTestService(t,
		WithPrimaryGenerator(staticGenerator("SELECT title FROM jobs WHERE organization_id = 7")))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT title FROM jobs WHERE organization_id = 7 LIMIT 100")).
		WillReturnRows(sqlmock.NewRows([]string{"title"}).AddRow("Engineer"))

	report, err := svc.Run(context.Background(), Request{OrgID: 7, Prompt: "job titles"})
	require.NoError(t, err)
	assert.NotEmpty(t, report.RequestID)
	assert.Equal(t, SourceAI, report.Source)
	assert.Equal(t, ChartBar, report.ChartType)
	assert.Equal(t, "SELECT title FROM jobs WHERE organization_id = 7 LIMIT 100", report.SQL)
	assert.Equal(t, []string{"Added LIMIT 100 for performance"}, report.Warnings)
	assert.Equal(t, []map[string]interface{}{{"title": "Engineer"}}, report.Rows)
	assert.False(t, report.Cached)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Run_FallsBackOnUnsafeCandidate(t *testing.T) {
	svc, mock := newTestService(t,
		WithPrimaryGenerator(staticGenerator("SELECT title FROM jobs WHERE organization_id = 8")))

	tmpl := NewTemplateGenerator().Match("interview status")
	expected := newTestValidator(t).Validate(tmpl.SQL, 7, 0)
	require.True(t, expected.IsValid)

	mock.ExpectQuery(regexp.QuoteMeta(expected.SanitizedSQL)).
		WillReturnRows(sqlmock.NewRows([]string{"status", "total"}).AddRow("scheduled", int64(4)))

	report, err := svc.Run(context.Background(), Request{OrgID: 7, Prompt: "interview status"})
	require.NoError(t, err)
	assert.Equal(t, SourceTemplate, report.Source)
	assert.Equal(t, ChartPie, report.ChartType)
	assert.Equal(t, expected.SanitizedSQL, report.SQL)
	assert.Equal(t, expected.Warnings, report.Warnings)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Run_FallsBackOnGeneratorError(t *testing.T) {
	failing := GeneratorFunc(func(ctx context.Context, prompt string, orgID types.OrgID) (*Candidate, error) {
		return nil, errors.New("model unavailable")
	})
	svc, mock := newTestService(t, WithPrimaryGenerator(failing))

	mock.ExpectQuery(".+").WillReturnRows(sqlmock.NewRows([]string{"id"}))

	report, err := svc.Run(context.Background(), Request{OrgID: 7, Prompt: "anything"})
	require.NoError(t, err)
	assert.Equal(t, SourceTemplate, report.Source)
	assert.Empty(t, report.Rows)
}

func TestService_Run_SanitizesPrompt(t *testing.T) {
	var seen string
	capture := GeneratorFunc(func(ctx context.Context, prompt string, orgID types.OrgID) (*Candidate, error) {
		seen = prompt
		return &Candidate{SQL: "SELECT id FROM jobs", Source: SourceAI}, nil
	})
	svc, mock := newTestService(t, WithPrimaryGenerator(capture))
	mock.ExpectQuery(".+").WillReturnRows(sqlmock.NewRows([]string{"id"}))

	report, err := svc.Run(context.Background(), Request{OrgID: 7, Prompt: "jobs; DROP TABLE jobs"})
	require.NoError(t, err)
	assert.Equal(t, "jobs TABLE jobs", seen)
	assert.Contains(t, report.Warnings, `Removed SQL token ";" from prompt`)
	assert.Contains(t, report.Warnings, `Removed SQL keyword "DROP" from prompt`)
	assert.Contains(t, report.Warnings, "Added missing organization filter for jobs (alias jobs)")
}

func TestService_Run_UnsafeQuery(t *testing.T) {
	svc, mock := newTestService(t,
		WithPrimaryGenerator(staticGenerator("SELECT * FROM users")),
		WithFallbackGenerator(nil))

	report, err := svc.Run(context.Background(), Request{OrgID: 7, Prompt: "all users"})
	assert.Nil(t, report)
	assert.ErrorIs(t, err, ErrUnsafeQuery)
	assert.NotContains(t, err.Error(), "users")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Run_NoGenerator(t *testing.T) {
	svc, _ := newTestService(t, WithFallbackGenerator(nil))

	_, err := svc.Run(context.Background(), Request{OrgID: 7, Prompt: "jobs"})
	assert.ErrorIs(t, err, ErrNoGenerator)
}

func TestService_Run_InvalidOrg(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Run(context.Background(), Request{OrgID: 0, Prompt: "jobs"})
	assert.ErrorIs(t, err, types.ErrInvalidOrgID)
}

func TestService_Run_ManualSQL(t *testing.T) {
	primaryCalled := false
	primary := GeneratorFunc(func(ctx context.Context, prompt string, orgID types.OrgID) (*Candidate, error) {
		primaryCalled = true
		return nil, errors.New("unexpected")
	})

	t.Run("valid", func(t *testing.T) {
		svc, mock := newTestService(t, WithPrimaryGenerator(primary))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM jobs WHERE organization_id = 7 LIMIT 5")).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

		report, err := svc.Run(context.Background(), Request{
			OrgID:   7,
			SQL:     "SELECT id FROM jobs WHERE organization_id = 7",
			MaxRows: 5,
		})
		require.NoError(t, err)
		assert.Equal(t, SourceManual, report.Source)
		assert.Len(t, report.Rows, 1)
		assert.False(t, primaryCalled)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejected without fallback", func(t *testing.T) {
		svc, mock := newTestService(t, WithPrimaryGenerator(primary))

		_, err := svc.Run(context.Background(), Request{OrgID: 7, SQL: "DELETE FROM jobs"})
		assert.ErrorIs(t, err, ErrUnsafeQuery)
		assert.False(t, primaryCalled)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestService_Run_ExecutionError(t *testing.T) {
	svc, mock := newTestService(t)
	mock.ExpectQuery(".+").WillReturnError(errors.New("database is locked"))

	_, err := svc.Run(context.Background(), Request{OrgID: 7, Prompt: "jobs"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute report query")
}

func TestService_Run_Cache(t *testing.T) {
	cache, _ := newTestCache(t)
	svc, mock := newTestService(t, WithCache(cache))

	mock.ExpectQuery(".+").WillReturnRows(
		sqlmock.NewRows([]string{"status", "total"}).AddRow("open", int64(2)))

	first, err := svc.Run(context.Background(), Request{OrgID: 7, Prompt: "job status"})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	// Only one query is expected; the second run must be served from Redis.
	second, err := svc.Run(context.Background(), Request{OrgID: 7, Prompt: "job status"})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.SQL, second.SQL)
	assert.NotEqual(t, first.RequestID, second.RequestID)
	require.Len(t, second.Rows, 1)
	assert.Equal(t, "open", second.Rows[0]["status"])
	assert.NoError(t, mock.ExpectationsWereMet())

	// A different tenant gets its own query.
	mock.ExpectQuery(regexp.QuoteMeta("organization_id = 9")).
		WillReturnRows(sqlmock.NewRows([]string{"status", "total"}))
	third, err := svc.Run(context.Background(), Request{OrgID: 9, Prompt: "job status"})
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// recordingExecutor captures the row cap passed to Query.
type recordingExecutor struct {
	statement string
	maxRows   int
}

func (e *recordingExecutor) Query(ctx context.Context, statement string, maxRows int) (*Result, error) {
	e.statement = statement
	e.maxRows = maxRows
	return &Result{Columns: []string{"id"}, Rows: []map[string]interface{}{}}, nil
}

func TestService_Run_RowCap(t *testing.T) {
	tests := []struct {
		name    string
		maxRows int
		want    int
	}{
		{"default", 0, 100},
		{"requested", 25, 25},
		{"clamped to ceiling", 5000, 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &recordingExecutor{}
			svc, err := NewService(newTestValidator(t), exec)
			require.NoError(t, err)

			report, err := svc.Run(context.Background(), Request{
				OrgID:   7,
				SQL:     "SELECT id FROM jobs WHERE organization_id = 7",
				MaxRows: tt.maxRows,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, exec.maxRows)
			assert.Equal(t, fmt.Sprintf("SELECT id FROM jobs WHERE organization_id = 7 LIMIT %d", tt.want), exec.statement)
			assert.Equal(t, exec.statement, report.SQL)
		})
	}
}
