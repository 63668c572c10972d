package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aigiriai/AIMHi-2-sub001/agent/sqlguard"
	"github.com/Aigiriai/AIMHi-2-sub001/shared/types"
)

// validateCmd returns the command that validates one statement.
func validateCmd() *cobra.Command {
	var org string
	var maxRows int
	var schemaPath string

	cmd := &cobra.Command{
		Use:   "validate [sql|-]",
		Short: "Validate and repair a SELECT statement",
		Long: `Validate a SELECT statement for one organization and print the result
as JSON. Missing organization filters and LIMIT clauses are repaired; the
command exits 1 when the statement is rejected.

Examples:
  sqlguard validate --org 7 "SELECT title FROM jobs"
  echo "SELECT name FROM candidates" | sqlguard validate --org 7 -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orgID, err := types.ParseOrgID(org)
			if err != nil {
				return fmt.Errorf("--org: %w", err)
			}

			stmt, err := readStatement(cmd, args[0])
			if err != nil {
				return err
			}

			v, err := newValidator(schemaPath)
			if err != nil {
				return err
			}

			result := v.Validate(stmt, orgID, maxRows)
			if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if !result.IsValid {
				return errRejected
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&org, "org", "o", "", "Trusted organization ID (required)")
	cmd.Flags().IntVarP(&maxRows, "max-rows", "m", 0, "Row cap (0 uses SQLGUARD_DEFAULT_MAX_ROWS)")
	cmd.Flags().StringVarP(&schemaPath, "schema", "s", "", "YAML schema file (defaults to SQLGUARD_SCHEMA_FILE)")
	_ = cmd.MarkFlagRequired("org")

	return cmd
}

// sanitizeCmd returns the command that cleans a free-text prompt.
func sanitizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sanitize <prompt>",
		Short: "Strip SQL tokens and keywords from a report prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cleaned, warnings := sqlguard.SanitizeFreeText(strings.Join(args, " "), sqlguard.ConfigFromEnv().MaxPromptLength)
			return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
				"prompt":   cleaned,
				"warnings": warnings,
			})
		},
	}
	return cmd
}

// readStatement returns arg, or stdin when arg is "-".
func readStatement(cmd *cobra.Command, arg string) (string, error) {
	if arg != "-" {
		return arg, nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("failed to read statement from stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
