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
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DefaultQueryTimeout bounds report queries when no timeout is configured.
const DefaultQueryTimeout = 30 * time.Second

// Result holds the rows of one report query.
type Result struct {
	Columns  []string                 `json:"columns"`
	Rows     []map[string]interface{} `json:"rows"`
	RowCount int                      `json:"row_count"`
	Duration time.Duration            `json:"-"`
}

// Executor runs validated, read-only SQL.
type Executor interface {
	Query(ctx context.Context, statement string, maxRows int) (*Result, error)
}

// SQLExecutor executes statements over a database/sql pool. It only accepts
// statements that already passed sqlguard validation; it performs no checks
// of its own beyond the row cap.
type SQLExecutor struct {
	db      *sql.DB
	timeout time.Duration
}

// NewSQLExecutor wraps db. A non-positive timeout uses DefaultQueryTimeout.
func NewSQLExecutor(db *sql.DB, timeout time.Duration) *SQLExecutor {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return &SQLExecutor{db: db, timeout: timeout}
}

// Query runs statement and returns at most maxRows rows (all rows when
// maxRows <= 0).
func (e *SQLExecutor) Query(ctx context.Context, statement string, maxRows int) (*Result, error) {
	if e.db == nil {
		return nil, errors.New("reports: database not connected")
	}

	queryCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	rows, err := e.db.QueryContext(queryCtx, statement)
	if err != nil {
		return nil, fmt.Errorf("query execution failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	results := make([]map[string]interface{}, 0)
	for rows.Next() {
		if maxRows > 0 && len(results) >= maxRows {
			break
		}

		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			// Text columns arrive as []byte from most drivers
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return &Result{
		Columns:  columns,
		Rows:     results,
		RowCount: len(results),
		Duration: time.Since(start),
	}, nil
}
