package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/Aigiriai/AIMHi-2-sub001/agent/reports"
	"github.com/Aigiriai/AIMHi-2-sub001/shared/types"
)

var supportedDrivers = map[string]bool{
	"sqlite3":  true,
	"postgres": true,
	"mysql":    true,
}

// queryCmd returns the command that validates and runs a report.
func queryCmd() *cobra.Command {
	var org string
	var driver string
	var dsn string
	var prompt string
	var maxRows int
	var schemaPath string
	var redisURL string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "query [sql]",
		Short: "Validate and run a report query",
		Long: `Run a report for one organization. Either pass SQL directly or a
natural-language --prompt, which is answered by the built-in report
templates. The statement is validated and scoped before it reaches the
database.

Examples:
  sqlguard query --org 7 --dsn ./aimhi.db "SELECT title FROM jobs"
  sqlguard query --org 7 --driver postgres --dsn "$DATABASE_URL" --prompt "interview status"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orgID, err := types.ParseOrgID(org)
			if err != nil {
				return fmt.Errorf("--org: %w", err)
			}
			if !supportedDrivers[driver] {
				return fmt.Errorf("unsupported driver %q (use sqlite3, postgres or mysql)", driver)
			}
			if dsn == "" {
				return fmt.Errorf("--dsn is required")
			}
			req := reports.Request{OrgID: orgID, Prompt: prompt, MaxRows: maxRows}
			if len(args) == 1 {
				req.SQL = args[0]
			}
			if strings.TrimSpace(req.SQL) == "" && strings.TrimSpace(req.Prompt) == "" {
				return fmt.Errorf("either an SQL argument or --prompt is required")
			}

			v, err := newValidator(schemaPath)
			if err != nil {
				return err
			}

			db, err := sql.Open(driver, dsn)
			if err != nil {
				return fmt.Errorf("failed to open %s database: %w", driver, err)
			}
			defer func() { _ = db.Close() }()

			opts := []reports.ServiceOption{}
			if redisURL == "" {
				redisURL = os.Getenv("REDIS_URL")
			}
			if redisURL != "" {
				cache, err := reports.NewRedisCache(redisURL, reports.DefaultCacheTTL)
				if err != nil {
					return err
				}
				defer func() { _ = cache.Close() }()
				opts = append(opts, reports.WithCache(cache))
			}

			svc, err := reports.NewService(v, reports.NewSQLExecutor(db, timeout), opts...)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			report, err := svc.Run(ctx, req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().StringVarP(&org, "org", "o", "", "Trusted organization ID (required)")
	cmd.Flags().StringVarP(&driver, "driver", "d", "sqlite3", "Database driver: sqlite3, postgres or mysql")
	cmd.Flags().StringVar(&dsn, "dsn", "", "Data source name (required)")
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "Natural-language report request")
	cmd.Flags().IntVarP(&maxRows, "max-rows", "m", 0, "Row cap (0 uses SQLGUARD_DEFAULT_MAX_ROWS)")
	cmd.Flags().StringVarP(&schemaPath, "schema", "s", "", "YAML schema file (defaults to SQLGUARD_SCHEMA_FILE)")
	cmd.Flags().StringVar(&redisURL, "redis", "", "Redis URL for the report cache (defaults to REDIS_URL)")
	cmd.Flags().DurationVar(&timeout, "timeout", reports.DefaultQueryTimeout, "Query timeout")
	_ = cmd.MarkFlagRequired("org")

	return cmd
}
