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
	"strings"

	"github.com/Aigiriai/AIMHi-2-sub001/shared/types"
)

// ReportTemplate maps prompt keywords to a canned query.
type ReportTemplate struct {
	// Name identifies the template in logs.
	Name string

	// Keywords are matched case-insensitively as substrings of the prompt.
	// Any one keyword selects the template.
	Keywords []string

	// SQL is written without organization filters; the validator adds them.
	SQL string

	ChartType string
}

// TemplateGenerator is the rule-based fallback generator. It never calls an
// external service, so it always produces a candidate.
type TemplateGenerator struct {
	templates []ReportTemplate
	fallback  ReportTemplate
}

// NewTemplateGenerator creates a generator with the built-in recruiting
// report templates.
func NewTemplateGenerator() *TemplateGenerator {
	return NewTemplateGeneratorFrom(defaultTemplates(), defaultTemplate())
}

// NewTemplateGeneratorFrom creates a generator from custom templates. The
// first matching template wins; fallback is used when none match.
func NewTemplateGeneratorFrom(templates []ReportTemplate, fallback ReportTemplate) *TemplateGenerator {
	return &TemplateGenerator{templates: templates, fallback: fallback}
}

// Match returns the template selected for a prompt.
func (g *TemplateGenerator) Match(prompt string) ReportTemplate {
	p := strings.ToLower(prompt)
	for _, t := range g.templates {
		for _, kw := range t.Keywords {
			if strings.Contains(p, strings.ToLower(kw)) {
				return t
			}
		}
	}
	return g.fallback
}

// Generate implements Generator.
func (g *TemplateGenerator) Generate(ctx context.Context, prompt string, orgID types.OrgID) (*Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t := g.Match(prompt)
	return &Candidate{
		SQL:       t.SQL,
		ChartType: t.ChartType,
		Source:    SourceTemplate,
	}, nil
}

// defaultTemplates are ordered from most to least specific.
func defaultTemplates() []ReportTemplate {
	return []ReportTemplate{
		{
			Name:      "interview_status",
			Keywords:  []string{"interview"},
			SQL:       "SELECT status, COUNT(*) AS total FROM interviews GROUP BY status",
			ChartType: ChartPie,
		},
		{
			Name:      "match_quality",
			Keywords:  []string{"match", "fit", "score"},
			SQL:       "SELECT j.title, AVG(m.match_percentage) AS avg_match FROM job_matches m JOIN jobs j ON j.id = m.job_id GROUP BY j.title ORDER BY avg_match DESC",
			ChartType: ChartBar,
		},
		{
			Name:      "application_pipeline",
			Keywords:  []string{"application", "pipeline", "applied"},
			SQL:       "SELECT status, COUNT(*) AS total FROM applications GROUP BY status",
			ChartType: ChartBar,
		},
		{
			Name:      "candidate_trend",
			Keywords:  []string{"trend", "over time", "per day", "daily"},
			SQL:       "SELECT DATE(created_at) AS day, COUNT(*) AS total FROM candidates GROUP BY DATE(created_at) ORDER BY day",
			ChartType: ChartLine,
		},
		{
			Name:      "candidate_list",
			Keywords:  []string{"candidate", "applicant", "resume"},
			SQL:       "SELECT name, email, experience, created_at FROM candidates ORDER BY created_at DESC",
			ChartType: ChartTable,
		},
		{
			Name:      "job_status",
			Keywords:  []string{"status", "open", "closed"},
			SQL:       "SELECT status, COUNT(*) AS total FROM jobs GROUP BY status",
			ChartType: ChartPie,
		},
	}
}

func defaultTemplate() ReportTemplate {
	return ReportTemplate{
		Name:      "job_list",
		SQL:       "SELECT id, title, status, created_at FROM jobs ORDER BY created_at DESC",
		ChartType: ChartTable,
	}
}
