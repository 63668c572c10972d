package sqlguard

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// OrganizationColumn is the only supported tenant-scoping column.
const OrganizationColumn = "organization_id"

// TableSpec declares one allowlisted table.
type TableSpec struct {
	// Columns is declared for future column-level enforcement; only
	// table-level checks are performed today.
	Columns []string `json:"columns,omitempty" yaml:"columns,omitempty"`

	// RequiredFilters lists the columns every alias of the table must be
	// scoped by. Empty means the table needs no scoping predicate.
	RequiredFilters []string `json:"required_filters,omitempty" yaml:"required_filters,omitempty"`
}

// SchemaFile is the YAML document accepted by ParseSchema.
type SchemaFile struct {
	Tables map[string]TableSpec `yaml:"tables"`
}

// SchemaConfig is the immutable table allowlist shared by all validations.
type SchemaConfig struct {
	allowedTables   map[string]struct{}
	allowedColumns  map[string]map[string]struct{}
	requiredFilters map[string]map[string]struct{}
}

// NewSchemaConfig builds a schema from table specs. Table and column names
// are matched case-insensitively.
func NewSchemaConfig(tables map[string]TableSpec) (*SchemaConfig, error) {
	if len(tables) == 0 {
		return nil, fmt.Errorf("schema must allow at least one table")
	}

	s := &SchemaConfig{
		allowedTables:   make(map[string]struct{}, len(tables)),
		allowedColumns:  make(map[string]map[string]struct{}, len(tables)),
		requiredFilters: make(map[string]map[string]struct{}),
	}

	var errs []string
	for name, spec := range tables {
		table := strings.ToLower(strings.TrimSpace(name))
		if table == "" {
			errs = append(errs, "empty table name")
			continue
		}
		s.allowedTables[table] = struct{}{}

		cols := make(map[string]struct{}, len(spec.Columns))
		for _, c := range spec.Columns {
			cols[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
		}
		s.allowedColumns[table] = cols

		for _, f := range spec.RequiredFilters {
			col := strings.ToLower(strings.TrimSpace(f))
			if col != OrganizationColumn {
				errs = append(errs, fmt.Sprintf("table %q: unsupported required filter %q", table, f))
				continue
			}
			if s.requiredFilters[table] == nil {
				s.requiredFilters[table] = make(map[string]struct{})
			}
			s.requiredFilters[table][col] = struct{}{}
		}
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return nil, fmt.Errorf("invalid schema: %s", strings.Join(errs, "; "))
	}
	return s, nil
}

// DefaultSchema returns the recruiting tenant schema. Every table is scoped
// by organization_id.
func DefaultSchema() *SchemaConfig {
	scoped := []string{OrganizationColumn}
	s, err := NewSchemaConfig(map[string]TableSpec{
		"jobs": {
			Columns:         []string{"id", "title", "description", "experience_level", "job_type", "keywords", "status", "organization_id", "created_at"},
			RequiredFilters: scoped,
		},
		"candidates": {
			Columns:         []string{"id", "name", "email", "phone", "experience", "resume_content", "resume_file_name", "organization_id", "created_at"},
			RequiredFilters: scoped,
		},
		"applications": {
			Columns:         []string{"id", "job_id", "candidate_id", "status", "applied_at", "organization_id"},
			RequiredFilters: scoped,
		},
		"interviews": {
			Columns:         []string{"id", "application_id", "job_id", "candidate_id", "scheduled_at", "status", "organization_id"},
			RequiredFilters: scoped,
		},
		"job_matches": {
			Columns:         []string{"id", "job_id", "candidate_id", "match_percentage", "ai_reasoning", "organization_id", "created_at"},
			RequiredFilters: scoped,
		},
	})
	if err != nil {
		panic(fmt.Sprintf("sqlguard: invalid default schema: %v", err))
	}
	return s
}

// LoadSchemaFile reads a YAML schema file from disk.
func LoadSchemaFile(path string) (*SchemaConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file %s: %w", path, err)
	}
	return ParseSchema(data)
}

// ParseSchema parses a YAML schema document.
func ParseSchema(data []byte) (*SchemaConfig, error) {
	var file SchemaFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse schema YAML: %w", err)
	}
	return NewSchemaConfig(file.Tables)
}

// IsAllowedTable reports whether the table may be referenced at all.
func (s *SchemaConfig) IsAllowedTable(table string) bool {
	_, ok := s.allowedTables[strings.ToLower(table)]
	return ok
}

// RequiresScope reports whether every alias of the table needs an
// organization filter.
func (s *SchemaConfig) RequiresScope(table string) bool {
	return len(s.requiredFilters[strings.ToLower(table)]) > 0
}

// RequiredFilters returns the sorted filter columns for a table.
func (s *SchemaConfig) RequiredFilters(table string) []string {
	return sortedKeys(s.requiredFilters[strings.ToLower(table)])
}

// AllowedColumns returns the sorted declared columns for a table.
func (s *SchemaConfig) AllowedColumns(table string) []string {
	return sortedKeys(s.allowedColumns[strings.ToLower(table)])
}

// Tables returns the sorted allowlisted table names.
func (s *SchemaConfig) Tables() []string {
	return sortedKeys(s.allowedTables)
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
