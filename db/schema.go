package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"connmonitor/core/log"
)

// tableName qualifies table with schema on postgres. sqlite has no schemas.
func tableName(db *sqlx.DB, schema, table string) string {
	if IsPostgres(db) && schema != "" {
		return schema + "." + table
	}
	return table
}

// EnsureSchema creates the tables used by the server if they do not exist.
func EnsureSchema(ctx context.Context, db *sqlx.DB, schema string) error {
	log.Info("📋 Starting to ensure database schema")

	timestampType := "TIMESTAMP"
	var statements []string
	if IsPostgres(db) {
		timestampType = "TIMESTAMPTZ"
		if schema != "" {
			statements = append(statements, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema))
		}
	}

	table := tableName(db, schema, "connection_records")
	statements = append(statements,
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			status TEXT NOT NULL,
			project_name TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}',
			reason TEXT,
			created_at %s NOT NULL
		)`, table, timestampType),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_connection_records_agent_created
			ON %s (agent_id, created_at)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_connection_records_created
			ON %s (created_at)`, table),
	)

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}

	log.Info("📋 Completed successfully - database schema is ready")
	return nil
}
