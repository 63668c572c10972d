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

// Package reports turns natural-language report requests into tenant-scoped
// query results.
//
// A request flows through four stages:
//
//  1. The prompt is cleaned with sqlguard.SanitizeFreeText.
//  2. A Generator proposes candidate SQL. The primary generator is usually
//     LLM-backed; the rule-based TemplateGenerator is the fallback.
//  3. Every candidate goes through sqlguard.Validator. Only the sanitized,
//     org-scoped SQL it returns is ever executed.
//  4. The Executor runs the statement, optionally through a Cache keyed by
//     organization and statement.
//
// Candidates that fail validation are never executed and never echoed to the
// caller; Service.Run returns ErrUnsafeQuery instead.
package reports
