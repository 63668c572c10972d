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
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Aigiriai/AIMHi-2-sub001/agent/sqlguard"
	"github.com/Aigiriai/AIMHi-2-sub001/shared/logger"
	"github.com/Aigiriai/AIMHi-2-sub001/shared/types"
)

var (
	// ErrUnsafeQuery means no candidate passed validation. It deliberately
	// carries no violation detail; the violations are logged instead.
	ErrUnsafeQuery = errors.New("could not safely answer the report request")

	// ErrNoGenerator means the service has neither a primary nor a fallback
	// generator.
	ErrNoGenerator = errors.New("no report generator configured")
)

// Request is one report request. Exactly one of Prompt and SQL is used:
// SQL, when set, is validated and run as-is with no fallback.
type Request struct {
	OrgID   types.OrgID
	Prompt  string
	SQL     string
	MaxRows int
}

// Report is the answer to a Request.
type Report struct {
	RequestID string                   `json:"request_id"`
	SQL       string                   `json:"sql"`
	ChartType string                   `json:"chart_type"`
	Source    string                   `json:"source"`
	Columns   []string                 `json:"columns"`
	Rows      []map[string]interface{} `json:"rows"`
	Warnings  []string                 `json:"warnings"`
	Cached    bool                     `json:"cached"`
}

// Service runs the report pipeline.
type Service struct {
	validator *sqlguard.Validator
	executor  Executor
	primary   Generator
	fallback  Generator
	cache     Cache
	logger    *logger.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithPrimaryGenerator sets the generator tried first, typically LLM-backed.
func WithPrimaryGenerator(g Generator) ServiceOption {
	return func(s *Service) { s.primary = g }
}

// WithFallbackGenerator replaces the TemplateGenerator fallback. nil disables
// the fallback.
func WithFallbackGenerator(g Generator) ServiceOption {
	return func(s *Service) { s.fallback = g }
}

// WithCache enables result caching.
func WithCache(c Cache) ServiceOption {
	return func(s *Service) { s.cache = c }
}

// WithServiceLogger overrides the component logger.
func WithServiceLogger(l *logger.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a report service.
func NewService(v *sqlguard.Validator, exec Executor, opts ...ServiceOption) (*Service, error) {
	if v == nil {
		return nil, errors.New("reports: validator is required")
	}
	if exec == nil {
		return nil, errors.New("reports: executor is required")
	}
	s := &Service{
		validator: v,
		executor:  exec,
		fallback:  NewTemplateGenerator(),
		logger:    logger.New("reports"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run answers a report request with validated, org-scoped rows.
func (s *Service) Run(ctx context.Context, req Request) (*Report, error) {
	if !req.OrgID.IsValid() {
		return nil, fmt.Errorf("reports: %w", types.ErrInvalidOrgID)
	}

	report := &Report{
		RequestID: uuid.New().String(),
		Warnings:  []string{},
	}
	org := req.OrgID.String()
	start := time.Now()

	var (
		cand   *Candidate
		result sqlguard.ValidationResult
		err    error
	)
	if strings.TrimSpace(req.SQL) != "" {
		cand = &Candidate{SQL: req.SQL, ChartType: ChartTable, Source: SourceManual}
		result = s.validator.Validate(cand.SQL, req.OrgID, req.MaxRows)
		if !result.IsValid {
			s.logRejection(org, report.RequestID, cand, result)
			return nil, ErrUnsafeQuery
		}
	} else {
		prompt, warnings := s.validator.SanitizeFreeText(req.Prompt)
		report.Warnings = append(report.Warnings, warnings...)
		cand, result, err = s.generate(ctx, report.RequestID, prompt, req)
		if err != nil {
			return nil, err
		}
	}

	report.SQL = result.SanitizedSQL
	report.ChartType = cand.ChartType
	report.Source = cand.Source
	report.Warnings = append(report.Warnings, result.Warnings...)

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, req.OrgID, report.SQL)
		switch {
		case err == nil:
			report.Columns = cached.Columns
			report.Rows = cached.Rows
			report.Cached = true
			s.logger.Debug(org, report.RequestID, "Report served from cache", map[string]interface{}{
				"rows": len(cached.Rows),
			})
			return report, nil
		case !errors.Is(err, ErrCacheMiss):
			s.logger.ErrorWithErr(org, report.RequestID, "Report cache read failed", err, nil)
		}
	}

	rows, err := s.executor.Query(ctx, report.SQL, s.validator.Config().RowLimit(req.MaxRows))
	if err != nil {
		return nil, fmt.Errorf("failed to execute report query: %w", err)
	}
	report.Columns = rows.Columns
	report.Rows = rows.Rows

	if s.cache != nil {
		if err := s.cache.Set(ctx, req.OrgID, report.SQL, rows); err != nil {
			s.logger.ErrorWithErr(org, report.RequestID, "Report cache write failed", err, nil)
		}
	}

	s.logger.InfoWithDuration(org, report.RequestID, "Report generated",
		float64(time.Since(start).Microseconds())/1000, map[string]interface{}{
			"source": report.Source,
			"rows":   len(report.Rows),
		})
	return report, nil
}

// generate tries the primary generator, then the fallback, and returns the
// first candidate that validates.
func (s *Service) generate(ctx context.Context, requestID, prompt string, req Request) (*Candidate, sqlguard.ValidationResult, error) {
	org := req.OrgID.String()
	tried := false
	for _, g := range []Generator{s.primary, s.fallback} {
		if g == nil {
			continue
		}
		tried = true

		cand, err := g.Generate(ctx, prompt, req.OrgID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, sqlguard.ValidationResult{}, ctxErr
			}
			s.logger.ErrorWithErr(org, requestID, "Report generator failed", err, nil)
			continue
		}
		if cand == nil {
			continue
		}

		result := s.validator.Validate(cand.SQL, req.OrgID, req.MaxRows)
		if result.IsValid {
			return cand, result, nil
		}
		s.logRejection(org, requestID, cand, result)
	}

	if !tried {
		return nil, sqlguard.ValidationResult{}, ErrNoGenerator
	}
	return nil, sqlguard.ValidationResult{}, ErrUnsafeQuery
}

func (s *Service) logRejection(org, requestID string, cand *Candidate, result sqlguard.ValidationResult) {
	s.logger.Warn(org, requestID, "Report candidate rejected", map[string]interface{}{
		"source":     cand.Source,
		"risk_level": string(result.RiskLevel),
		"errors":     result.Errors,
	})
}
