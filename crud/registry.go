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
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tomoncle/crudman/database"
)

// TableRegistry caches the table names of one database. The list is loaded
// through the lister on first use and then reused by every manager sharing
// the registry; schema changes are not picked up until Reset. Lookups ignore
// case but the name as the database reports it is kept for queries.
type TableRegistry struct {
	lister  TableLister
	logger  database.Logger
	metrics *Metrics

	mu     sync.Mutex
	tables atomic.Pointer[map[string]string]
}

// NewTableRegistry returns an empty registry loading from lister. Only the
// WithLogger and WithMetrics options apply.
func NewTableRegistry(lister TableLister, opts ...Option) *TableRegistry {
	o := newOptions(opts)
	return &TableRegistry{lister: lister, logger: o.logger, metrics: o.metrics}
}

// Exists reports whether the database has a table called name, ignoring case.
func (r *TableRegistry) Exists(ctx context.Context, name string) (bool, error) {
	_, ok, err := r.Lookup(ctx, name)
	return ok, err
}

// Lookup matches name against the table list ignoring case and returns the
// table name as the database spells it, e.g. "Book" for "book".
func (r *TableRegistry) Lookup(ctx context.Context, name string) (string, bool, error) {
	tables, err := r.load(ctx)
	if err != nil {
		return "", false, err
	}
	actual, ok := tables[strings.ToLower(name)]
	return actual, ok, nil
}

// spelling is Lookup without loading: an unknown or not yet loaded name is
// returned unchanged.
func (r *TableRegistry) spelling(name string) string {
	if tables := r.tables.Load(); tables != nil {
		if actual, ok := (*tables)[strings.ToLower(name)]; ok {
			return actual
		}
	}
	return name
}

// Tables returns the known table names, lower-cased and sorted.
func (r *TableRegistry) Tables(ctx context.Context) ([]string, error) {
	tables, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Loaded reports whether the table list has been fetched.
func (r *TableRegistry) Loaded() bool {
	return r.tables.Load() != nil
}

// Reset drops the cached list; the next lookup introspects again.
func (r *TableRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables.Store(nil)
}

func (r *TableRegistry) load(ctx context.Context) (map[string]string, error) {
	if tables := r.tables.Load(); tables != nil {
		return *tables, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if tables := r.tables.Load(); tables != nil {
		return *tables, nil
	}

	names, err := r.lister.ListTables(ctx)
	r.metrics.introspection()
	if err != nil {
		return nil, fmt.Errorf("failed to list database tables: %w", err)
	}
	tables := make(map[string]string, len(names))
	for _, name := range names {
		lower := strings.ToLower(name)
		if prev, dup := tables[lower]; dup {
			r.logger.Warn("Tables differ only by case, keeping the first", "table", prev, "ignored", name)
			continue
		}
		tables[lower] = name
	}
	r.tables.Store(&tables)
	r.logger.Debug("Table registry loaded", "tables", len(tables))
	return tables, nil
}
