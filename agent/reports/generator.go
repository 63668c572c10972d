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

	"github.com/Aigiriai/AIMHi-2-sub001/shared/types"
)

// Candidate sources.
const (
	SourceAI       = "ai"
	SourceTemplate = "template"
	SourceManual   = "manual"
)

// Chart hints attached to a candidate.
const (
	ChartTable = "table"
	ChartBar   = "bar"
	ChartLine  = "line"
	ChartPie   = "pie"
)

// Candidate is proposed SQL for a report. It is untrusted until validated.
type Candidate struct {
	SQL       string `json:"sql"`
	ChartType string `json:"chart_type"`
	Source    string `json:"source"`
}

// Generator proposes SQL for a sanitized prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, orgID types.OrgID) (*Candidate, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, prompt string, orgID types.OrgID) (*Candidate, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string, orgID types.OrgID) (*Candidate, error) {
	return f(ctx, prompt, orgID)
}
