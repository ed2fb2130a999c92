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
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqlDB, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	db := bun.NewDB(sqlDB, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func mustExec(t *testing.T, db *bun.DB, query string) {
	t.Helper()
	_, err := db.ExecContext(context.Background(), query)
	require.NoError(t, err)
}

func TestListTables(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	tables, err := ListTables(ctx, db)
	require.NoError(t, err)
	assert.Empty(t, tables)

	mustExec(t, db, `CREATE TABLE "Book" (id INTEGER PRIMARY KEY AUTOINCREMENT, title TEXT)`)
	mustExec(t, db, `CREATE TABLE author (id INTEGER PRIMARY KEY, name TEXT)`)
	mustExec(t, db, `CREATE VIEW book_titles AS SELECT title FROM "Book"`)

	tables, err = ListTables(ctx, db)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Book", "author", "book_titles"}, tables)
	assert.NotContains(t, tables, "sqlite_sequence")
}

func TestPrimaryKeys(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	mustExec(t, db, `CREATE TABLE book (id INTEGER PRIMARY KEY, title TEXT)`)
	mustExec(t, db, `CREATE TABLE book_author (book_id INTEGER, author_id INTEGER, PRIMARY KEY (book_id, author_id))`)
	mustExec(t, db, `CREATE TABLE audit (message TEXT)`)

	pk, err := PrimaryKeys(ctx, db, "book")
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, pk)

	pk, err = PrimaryKeys(ctx, db, "book_author")
	require.NoError(t, err)
	assert.Equal(t, []string{"book_id", "author_id"}, pk)

	pk, err = PrimaryKeys(ctx, db, "audit")
	require.NoError(t, err)
	assert.Empty(t, pk)
}

func TestIsSqlError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		is   bool
		want SQLError
	}{
		{"nil", nil, false, UnknownErr},
		{"mysql duplicate", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, true, DuplicateKeyErr},
		{"mysql missing table", fmt.Errorf("wrapped: %w", &mysql.MySQLError{Number: 1146}), true, NoTableErr},
		{"mysql other", &mysql.MySQLError{Number: 9999}, true, UnknownErr},
		{"sqlite unique", errors.New("constraint failed: UNIQUE constraint failed: book.isbn (2067)"), true, DuplicateKeyErr},
		{"sqlite no table", errors.New("SQL logic error: no such table: missing (1)"), true, NoTableErr},
		{"postgres not null", errors.New(`pq: null value in column "title" violates not-null constraint`), true, NotNullViolationErr},
		{"postgres fk", errors.New("ERROR: insert violates foreign key (SQLSTATE 23503)"), true, ForeignKeyViolationErr},
		{"no rows", sql.ErrNoRows, true, NoRowsErr},
		{"unrelated", errors.New("connection refused"), false, UnknownErr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is, got := IsSqlError(tt.err)
			assert.Equal(t, tt.is, is)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "duplicate_key", DuplicateKeyErr.String())
}

func TestQueryHook(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	t.Run("verbose prints every query", func(t *testing.T) {
		var buf bytes.Buffer
		hook := NewQueryHook(WithQueryHookVerbose(true), WithQueryHookWriter(&buf), WithQueryHookEnv(""))
		hook.AfterQuery(ctx, &bun.QueryEvent{DB: db, Query: "SELECT 1", StartTime: time.Now()})
		assert.Contains(t, buf.String(), "SELECT 1")
		assert.Contains(t, buf.String(), "[SQL]")
	})

	t.Run("quiet mode only prints failures", func(t *testing.T) {
		var buf bytes.Buffer
		hook := NewQueryHook(WithQueryHookWriter(&buf), WithQueryHookEnv(""))
		hook.AfterQuery(ctx, &bun.QueryEvent{DB: db, Query: "SELECT 1", StartTime: time.Now()})
		assert.Empty(t, buf.String())

		hook.AfterQuery(ctx, &bun.QueryEvent{DB: db, Query: "SELECT * FROM missing", StartTime: time.Now(), Err: errors.New("no such table: missing")})
		assert.Contains(t, buf.String(), "no such table: missing")
	})

	t.Run("environment disables the hook", func(t *testing.T) {
		t.Setenv("CRUDMAN_SQL_TEST", "0")
		var buf bytes.Buffer
		hook := NewQueryHook(WithQueryHookVerbose(true), WithQueryHookWriter(&buf), WithQueryHookEnv("CRUDMAN_SQL_TEST"))
		hook.AfterQuery(ctx, &bun.QueryEvent{DB: db, Query: "SELECT 1", StartTime: time.Now()})
		assert.Empty(t, buf.String())
	})
}
