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

/*
Package logger provides structured JSON logging with tenant correlation.

# Overview

Every entry is a single JSON line written through the standard library
logger, so it can be captured by the container runtime and shipped to any
log aggregation system.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (sqlguard, reports, ...)
  - Instance ID and container name
  - Organization ID of the tenant the work is performed for
  - Request ID (for request correlation)
  - Custom fields

# Usage

	log := logger.New("sqlguard")

	log.Warn("42", "req-456", "Rejected generated SQL", map[string]interface{}{
	    "errors": []string{"Unauthorized table: users"},
	})

	start := time.Now()
	// ... do work ...
	log.InfoWithDuration("42", "req-456", "Report executed",
	    float64(time.Since(start).Milliseconds()), nil)

# Environment Variables

  - INSTANCE_ID: Deployment instance identifier
  - LOG_LEVEL: Minimum level written (DEBUG, INFO, WARN, ERROR; default INFO)

# Thread Safety

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger
