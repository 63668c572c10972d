package sqlguard

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/Aigiriai/AIMHi-2-sub001/shared/logger"
)

// AuditEvent records a rejected or repaired statement for the audit trail.
type AuditEvent struct {
	// ID uniquely identifies the event
	ID string `json:"id"`

	// Type identifies this as a SQL validation event
	Type string `json:"type"`

	// Timestamp when the decision was made (UTC)
	Timestamp time.Time `json:"timestamp"`

	// OrgID is the trusted organization the statement was validated for
	OrgID string `json:"org_id"`

	// RequestID for tracing (if available)
	RequestID string `json:"request_id,omitempty"`

	// Outcome is one of OutcomeRejected or OutcomeRepaired
	Outcome string `json:"outcome"`

	RiskLevel RiskLevel `json:"risk_level"`
	Errors    []string  `json:"errors,omitempty"`
	Warnings  []string  `json:"warnings,omitempty"`

	// Patterns lists the blocklist entries that matched
	Patterns []string `json:"patterns,omitempty"`

	// Duration of the validation in nanoseconds
	Duration time.Duration `json:"duration_ns"`

	// SQLSnippet is a masked, truncated copy of the candidate statement
	SQLSnippet string `json:"sql_snippet,omitempty"`
}

// AuditEventType is the type string for SQL validation audit events.
const AuditEventType = "sql_validation"

// Validation outcomes
const (
	OutcomeValid    = "valid"
	OutcomeRepaired = "repaired"
	OutcomeRejected = "rejected"
)

// outcomeOf classifies a result. Any warning on a valid result is a repair.
func outcomeOf(result ValidationResult) string {
	switch {
	case !result.IsValid:
		return OutcomeRejected
	case len(result.Warnings) > 0:
		return OutcomeRepaired
	default:
		return OutcomeValid
	}
}

// NewAuditEvent creates an audit event from a validation result. Plain
// valid results produce no event.
func NewAuditEvent(result ValidationResult, violations []Violation, orgID, sqlSnippet string, duration time.Duration) *AuditEvent {
	outcome := outcomeOf(result)
	if outcome == OutcomeValid {
		return nil
	}

	var patterns []string
	for _, v := range violations {
		if v.Pattern != "" {
			patterns = append(patterns, v.Pattern)
		}
	}

	return &AuditEvent{
		ID:         uuid.New().String(),
		Type:       AuditEventType,
		Timestamp:  time.Now().UTC(),
		OrgID:      orgID,
		Outcome:    outcome,
		RiskLevel:  result.RiskLevel,
		Errors:     result.Errors,
		Warnings:   result.Warnings,
		Patterns:   patterns,
		Duration:   duration,
		SQLSnippet: sqlSnippet,
	}
}

// WithRequestID adds a request ID for tracing.
func (e *AuditEvent) WithRequestID(requestID string) *AuditEvent {
	e.RequestID = requestID
	return e
}

// ToAuditDetails converts the event to a map suitable for an audit queue.
func (e *AuditEvent) ToAuditDetails() map[string]interface{} {
	return map[string]interface{}{
		"event_id":    e.ID,
		"org_id":      e.OrgID,
		"outcome":     e.Outcome,
		"risk_level":  string(e.RiskLevel),
		"errors":      e.Errors,
		"warnings":    e.Warnings,
		"patterns":    e.Patterns,
		"duration":    e.Duration.String(),
		"request_id":  e.RequestID,
		"sql_snippet": e.SQLSnippet,
	}
}

// AuditCallback receives audit events. It lets callers route events to
// their own audit queue without this package depending on it.
type AuditCallback func(event *AuditEvent)

// DefaultAuditCallback is a no-op callback used when no audit system is configured.
var DefaultAuditCallback AuditCallback = func(event *AuditEvent) {}

var (
	globalAuditCallback AuditCallback = DefaultAuditCallback
	auditCallbackMu     sync.RWMutex

	auditLogger = logger.New("sqlguard")
)

// SetAuditCallback configures the global audit callback. A nil callback
// restores the no-op default. Safe for concurrent use.
func SetAuditCallback(callback AuditCallback) {
	auditCallbackMu.Lock()
	defer auditCallbackMu.Unlock()
	if callback == nil {
		globalAuditCallback = DefaultAuditCallback
		return
	}
	globalAuditCallback = callback
}

// EmitAuditEvent sends an event to the configured audit callback. A panic in
// the callback is logged and dropped.
func EmitAuditEvent(event *AuditEvent) {
	if event == nil {
		return
	}
	auditCallbackMu.RLock()
	cb := globalAuditCallback
	auditCallbackMu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			auditLogger.Error(event.OrgID, event.RequestID, "audit callback failed", map[string]interface{}{
				"panic":    fmt.Sprint(r),
				"event_id": event.ID,
			})
		}
	}()
	cb(event)
}

var (
	stringLiteralMaskRegex = regexp.MustCompile(`'(?:[^']|'')*'`)
	emailMaskRegex         = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
)

// sanitizeForLog masks string literals and e-mail addresses, which is where
// candidate and applicant data ends up in generated SQL.
func sanitizeForLog(input string) string {
	input = strings.ReplaceAll(input, "\n", " ")
	input = stringLiteralMaskRegex.ReplaceAllString(input, "'?'")
	input = emailMaskRegex.ReplaceAllString(input, "[REDACTED_EMAIL]")
	return input
}

// logSnippet returns a masked prefix of sql of at most n characters.
func logSnippet(sql string, n int) string {
	masked := sanitizeForLog(sql)
	if n <= 0 {
		return masked
	}
	return truncate(masked, n)
}

// truncate cuts s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
