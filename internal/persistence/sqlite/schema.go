// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// requiredTable lists the columns the gateway reads from one table.
type requiredTable struct {
	Name    string
	Columns []string
}

var requiredSchema = []requiredTable{
	{Name: "credentials", Columns: []string{"secret_hash", "secret_prefix", "rate_limit", "daily_usage", "last_used", "active"}},
	{Name: "usage_logs", Columns: []string{"credential_id", "endpoint", "cost", "created_at"}},
}

// SchemaReady fails when a required table or column is missing. It never
// alters the schema; RunMigrations does that.
func SchemaReady(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("nil database handle")
	}

	var missingTables, missingColumns []string
	for _, table := range requiredSchema {
		var count int
		if err := db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`,
			table.Name,
		).Scan(&count); err != nil {
			return fmt.Errorf("check table %s: %w", table.Name, err)
		}
		if count == 0 {
			missingTables = append(missingTables, table.Name)
			continue
		}

		present, err := tableColumns(ctx, db, table.Name)
		if err != nil {
			return err
		}
		for _, column := range table.Columns {
			if _, ok := present[column]; !ok {
				missingColumns = append(missingColumns, table.Name+"."+column)
			}
		}
	}
	if len(missingTables) > 0 {
		return fmt.Errorf("required tables missing: %s", strings.Join(missingTables, ", "))
	}
	if len(missingColumns) > 0 {
		return fmt.Errorf("required columns missing: %s", strings.Join(missingColumns, ", "))
	}

	return nil
}

func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]struct{}, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("list columns of %s: %w", table, err)
	}
	defer rows.Close()

	present := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan column of %s: %w", table, err)
		}
		present[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list columns of %s: %w", table, err)
	}
	return present, nil
}
