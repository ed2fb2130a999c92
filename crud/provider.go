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

package crud

import (
	"context"

	"github.com/tomoncle/crudman/types"
)

// TableLister introspects the database schema.
type TableLister interface {
	// ListTables returns every table name in the database.
	ListTables(ctx context.Context) ([]string, error)
}

// Provider is the database access layer a Manager forwards to. It is shared
// by all managers and never owned by them.
type Provider interface {
	TableLister

	// Table returns an unfiltered selection over the named table.
	Table(name string) Selection
}

// Selection is a lazily evaluated row set over one table. Filtering methods
// return a new Selection and leave the receiver untouched; nothing touches
// the database until Get, Fetch, Count, Insert, Update or Delete is called.
type Selection interface {
	TableName() string

	Where(query string, args ...interface{}) Selection
	// WherePrimary filters on the primary key. Composite keys take a
	// types.Record of key column to value.
	WherePrimary(id interface{}) Selection
	Order(orders ...string) Selection
	// Limit caps the number of rows; n <= 0 means no limit.
	Limit(n int) Selection
	Offset(n int) Selection

	// Get returns the row with primary key id, or a nil record when there
	// is none.
	Get(ctx context.Context, id interface{}) (types.Record, error)
	Fetch(ctx context.Context) ([]types.Record, error)
	Count(ctx context.Context) (int, error)

	Insert(ctx context.Context, records ...types.Record) (InsertResult, error)
	Update(ctx context.Context, values types.Record) (int64, error)
	Delete(ctx context.Context) (int64, error)
}

// InsertResult describes an insert. Row is set when a single record went
// into a table with a single primary key column; otherwise only
// RowsAffected is meaningful.
type InsertResult struct {
	Row          types.Record `json:"row,omitempty"`
	RowsAffected int64        `json:"rows_affected"`
}
