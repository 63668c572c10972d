// Package main implements the sqlguard CLI for validating and running
// tenant-scoped report SQL.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Aigiriai/AIMHi-2-sub001/agent/sqlguard"
)

var version = "1.0.0"

// errRejected signals a validation failure that was already reported on
// stdout; main exits 1 without printing it again.
var errRejected = errors.New("statement rejected")

func main() {
	// A missing .env file is normal outside development
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errRejected) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sqlguard",
		Short: "Multi-tenant SQL safety validator",
		Long: `sqlguard validates AI-generated SELECT statements against a table
allowlist, enforces organization scoping and row limits, and can run the
validated statement against a database.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(sanitizeCmd())
	rootCmd.AddCommand(queryCmd())
	return rootCmd
}

// newValidator builds a validator from the environment and an optional
// schema file. An empty path falls back to SQLGUARD_SCHEMA_FILE, then to the
// built-in schema.
func newValidator(schemaPath string) (*sqlguard.Validator, error) {
	if schemaPath == "" {
		schemaPath = os.Getenv(sqlguard.EnvSchemaFile)
	}

	schema := sqlguard.DefaultSchema()
	if schemaPath != "" {
		s, err := sqlguard.LoadSchemaFile(schemaPath)
		if err != nil {
			return nil, err
		}
		schema = s
	}
	return sqlguard.NewValidator(schema, sqlguard.WithConfig(sqlguard.ConfigFromEnv()))
}
