package sqlguard

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
)

// Config holds the validator limits and logging switches.
type Config struct {
	// DefaultMaxRows is used when the caller passes maxRows <= 0.
	// Default: 100
	DefaultMaxRows int `json:"default_max_rows" yaml:"default_max_rows"`

	// MaxRowsCeiling caps any caller-supplied maxRows.
	// Default: 1000
	MaxRowsCeiling int `json:"max_rows_ceiling" yaml:"max_rows_ceiling"`

	// MaxSQLLength is the longest candidate statement accepted (bytes).
	// Default: 10000
	MaxSQLLength int `json:"max_sql_length" yaml:"max_sql_length"`

	// MaxPromptLength is the length SanitizeFreeText truncates prompts to.
	// Default: 1000
	MaxPromptLength int `json:"max_prompt_length" yaml:"max_prompt_length"`

	// SnippetLength is how much of a statement is kept in logs and audit events.
	// Default: 100
	SnippetLength int `json:"snippet_length" yaml:"snippet_length"`

	// LogDecisions logs rejections and repairs.
	// Default: true
	LogDecisions bool `json:"log_decisions" yaml:"log_decisions"`

	// AuditTrailEnabled emits audit events for rejections and repairs.
	// Default: true
	AuditTrailEnabled bool `json:"audit_trail_enabled" yaml:"audit_trail_enabled"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		DefaultMaxRows:    100,
		MaxRowsCeiling:    1000,
		MaxSQLLength:      10000,
		MaxPromptLength:   1000,
		SnippetLength:     100,
		LogDecisions:      true,
		AuditTrailEnabled: true,
	}
}

// Environment variable names for validator configuration.
const (
	EnvDefaultMaxRows  = "SQLGUARD_DEFAULT_MAX_ROWS"
	EnvMaxRowsCeiling  = "SQLGUARD_MAX_ROWS_CEILING"
	EnvMaxSQLLength    = "SQLGUARD_MAX_SQL_LENGTH"
	EnvMaxPromptLength = "SQLGUARD_MAX_PROMPT_LENGTH"
	EnvLogDecisions    = "SQLGUARD_LOG_DECISIONS"

	// EnvAuditMode enables or disables audit events.
	// Valid values: "on", "off"
	EnvAuditMode = "SQLGUARD_AUDIT_MODE"

	// EnvSchemaFile points at an optional YAML schema file.
	EnvSchemaFile = "SQLGUARD_SCHEMA_FILE"
)

// ConfigFromEnv creates a configuration from environment variables.
//
// Environment variables:
//   - SQLGUARD_DEFAULT_MAX_ROWS: positive integer (default: 100)
//   - SQLGUARD_MAX_ROWS_CEILING: positive integer (default: 1000)
//   - SQLGUARD_MAX_SQL_LENGTH: positive integer (default: 10000)
//   - SQLGUARD_MAX_PROMPT_LENGTH: positive integer (default: 1000)
//   - SQLGUARD_LOG_DECISIONS: true, false (default: true)
//   - SQLGUARD_AUDIT_MODE: on, off (default: on)
//
// Invalid values are logged and fall back to defaults.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	cfg.DefaultMaxRows = envPositiveInt(EnvDefaultMaxRows, cfg.DefaultMaxRows)
	cfg.MaxRowsCeiling = envPositiveInt(EnvMaxRowsCeiling, cfg.MaxRowsCeiling)
	cfg.MaxSQLLength = envPositiveInt(EnvMaxSQLLength, cfg.MaxSQLLength)
	cfg.MaxPromptLength = envPositiveInt(EnvMaxPromptLength, cfg.MaxPromptLength)

	if v := os.Getenv(EnvLogDecisions); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			log.Printf("[SQLGuard] WARNING: Invalid %s=%q, using default %t", EnvLogDecisions, v, cfg.LogDecisions)
		} else {
			cfg.LogDecisions = b
		}
	}

	if v := os.Getenv(EnvAuditMode); v != "" {
		switch strings.ToLower(v) {
		case "on":
			cfg.AuditTrailEnabled = true
		case "off":
			cfg.AuditTrailEnabled = false
			log.Printf("[SQLGuard] Audit trail DISABLED from environment")
		default:
			log.Printf("[SQLGuard] WARNING: Invalid %s=%q, using default 'on'. Valid values: on, off", EnvAuditMode, v)
		}
	}

	if cfg.DefaultMaxRows > cfg.MaxRowsCeiling {
		log.Printf("[SQLGuard] WARNING: %s=%d exceeds ceiling %d, clamping", EnvDefaultMaxRows, cfg.DefaultMaxRows, cfg.MaxRowsCeiling)
		cfg.DefaultMaxRows = cfg.MaxRowsCeiling
	}

	return cfg
}

func envPositiveInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		log.Printf("[SQLGuard] WARNING: Invalid %s=%q, using default %d", name, v, def)
		return def
	}
	return n
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs []string

	if c.DefaultMaxRows <= 0 {
		errs = append(errs, "default_max_rows must be positive")
	}
	if c.MaxRowsCeiling <= 0 {
		errs = append(errs, "max_rows_ceiling must be positive")
	}
	if c.DefaultMaxRows > c.MaxRowsCeiling && c.MaxRowsCeiling > 0 {
		errs = append(errs, fmt.Sprintf("default_max_rows (%d) exceeds max_rows_ceiling (%d)", c.DefaultMaxRows, c.MaxRowsCeiling))
	}
	if c.MaxSQLLength <= 0 {
		errs = append(errs, "max_sql_length must be positive")
	}
	if c.MaxPromptLength <= 0 {
		errs = append(errs, "max_prompt_length must be positive")
	}
	if c.SnippetLength < 0 {
		errs = append(errs, "snippet_length must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// RowLimit resolves the effective row cap for a caller-supplied maxRows.
func (c Config) RowLimit(maxRows int) int {
	if maxRows <= 0 {
		maxRows = c.DefaultMaxRows
	}
	if maxRows > c.MaxRowsCeiling {
		maxRows = c.MaxRowsCeiling
	}
	return maxRows
}

// WithDefaultMaxRows returns a copy of the config with the default row cap set.
func (c Config) WithDefaultMaxRows(n int) Config {
	c.DefaultMaxRows = n
	return c
}

// WithMaxRowsCeiling returns a copy of the config with the row ceiling set.
func (c Config) WithMaxRowsCeiling(n int) Config {
	c.MaxRowsCeiling = n
	return c
}

// WithMaxSQLLength returns a copy of the config with the statement length limit set.
func (c Config) WithMaxSQLLength(n int) Config {
	c.MaxSQLLength = n
	return c
}

// WithMaxPromptLength returns a copy of the config with the prompt length limit set.
func (c Config) WithMaxPromptLength(n int) Config {
	c.MaxPromptLength = n
	return c
}

// WithLogDecisions returns a copy of the config with decision logging set.
func (c Config) WithLogDecisions(enabled bool) Config {
	c.LogDecisions = enabled
	return c
}

// WithAuditTrail returns a copy of the config with audit events enabled or disabled.
func (c Config) WithAuditTrail(enabled bool) Config {
	c.AuditTrailEnabled = enabled
	return c
}
