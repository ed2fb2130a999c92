/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// ListTables returns the names of all tables and views in the current
// schema, ordered by name, with the casing the database reports.
func ListTables(ctx context.Context, db bun.IDB) ([]string, error) {
	var query string
	switch db.Dialect().Name() {
	case dialect.PG:
		query = `SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() ORDER BY table_name`
	case dialect.MySQL:
		query = `SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = DATABASE() ORDER BY TABLE_NAME`
	case dialect.SQLite:
		query = `SELECT name FROM sqlite_master WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%' ORDER BY name`
	default:
		return nil, fmt.Errorf("table listing is not supported for dialect %s", db.Dialect().Name())
	}
	return queryStrings(ctx, db, query)
}

// PrimaryKeys returns the primary key columns of table in key order. A table
// without a declared primary key yields an empty slice.
func PrimaryKeys(ctx context.Context, db bun.IDB, table string) ([]string, error) {
	var query string
	switch db.Dialect().Name() {
	case dialect.PG:
		query = `SELECT kcu.column_name FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = current_schema() AND tc.table_name = ?
ORDER BY kcu.ordinal_position`
	case dialect.MySQL:
		query = `SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND CONSTRAINT_NAME = 'PRIMARY'
ORDER BY ORDINAL_POSITION`
	case dialect.SQLite:
		query = `SELECT name FROM pragma_table_info(?) WHERE pk > 0 ORDER BY pk`
	default:
		return nil, fmt.Errorf("primary key lookup is not supported for dialect %s", db.Dialect().Name())
	}
	return queryStrings(ctx, db, query, table)
}

func queryStrings(ctx context.Context, db bun.IDB, query string, args ...interface{}) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	out := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, strings.TrimSpace(name))
	}
	return out, rows.Err()
}
