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
	"strings"
	"sync"

	"github.com/tomoncle/crudman/database"
	"github.com/tomoncle/crudman/types"
)

// Manager gives CRUD access to a single table. Build one per table through
// New or NewWithTable; a failed construction returns no Manager.
type Manager struct {
	db       Provider
	registry *TableRegistry
	logger   database.Logger
	metrics  *Metrics

	tableName string
	physical  string
	typeName  string

	aliases []alias

	opsMu sync.RWMutex
	ops   map[string]Operation
}

// New resolves the table name from typeName and checks it against the
// registry. A nil registry gets a private one loading from db; pass a shared
// registry to introspect the schema once for many managers.
func New(ctx context.Context, db Provider, registry *TableRegistry, typeName string, opts ...Option) (*Manager, error) {
	o := newOptions(opts)
	tableName, err := ResolveTableName(typeName, o.pattern)
	if err != nil {
		o.logger.Error("Failed to resolve table name", "type", typeName, "error", err)
		return nil, err
	}
	return newManager(ctx, db, registry, tableName, typeName, o)
}

// NewWithTable builds a manager for an explicit table name. The type name
// used in error messages defaults to Capitalize(table)+"Manager" and can be
// set with WithTypeName.
func NewWithTable(ctx context.Context, db Provider, registry *TableRegistry, table string, opts ...Option) (*Manager, error) {
	o := newOptions(opts)
	typeName := o.typeName
	if typeName == "" {
		typeName = Capitalize(table) + "Manager"
	}
	return newManager(ctx, db, registry, table, typeName, o)
}

func newManager(ctx context.Context, db Provider, registry *TableRegistry, table, typeName string, o *options) (*Manager, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: nil provider", ErrInvalidArgument)
	}
	if registry == nil {
		registry = NewTableRegistry(db, WithLogger(o.logger), WithMetrics(o.metrics))
	}

	table = strings.ToLower(table)
	actual, exists, err := registry.Lookup(ctx, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		o.logger.Error("Table not found", "table", table, "type", typeName)
		return nil, &UnknownTableError{Table: table}
	}

	m := &Manager{
		db:        db,
		registry:  registry,
		logger:    o.logger,
		metrics:   o.metrics,
		tableName: table,
		physical:  actual,
		typeName:  typeName,
		ops:       make(map[string]Operation),
	}
	m.aliases = m.buildAliases()
	return m, nil
}

// TableName returns the lower-case table this manager works on.
func (m *Manager) TableName() string { return m.tableName }

// TypeName returns the manager type name used for naming and errors.
func (m *Manager) TypeName() string { return m.typeName }

// Registry returns the table registry the manager was validated against.
func (m *Manager) Registry() *TableRegistry { return m.registry }

// PhysicalName returns the table name as the database spells it.
func (m *Manager) PhysicalName() string { return m.physical }

// Table returns an unfiltered selection over the manager's table.
func (m *Manager) Table() Selection { return m.db.Table(m.physical) }

// GetByID returns the row with primary key id, or a nil record when absent.
func (m *Manager) GetByID(ctx context.Context, id interface{}) (types.Record, error) {
	row, err := m.Table().Get(ctx, id)
	m.metrics.observe(m.tableName, OpGetByID, err)
	return row, err
}

// GetAll returns a selection over every row. Nothing is queried until the
// caller fetches from it.
func (m *Manager) GetAll() Selection {
	m.metrics.observe(m.tableName, OpGetAll, nil)
	return m.Table()
}

// Add inserts records. For a single record into a table with one primary
// key column the result carries the inserted row.
func (m *Manager) Add(ctx context.Context, records ...types.Record) (InsertResult, error) {
	if len(records) == 0 {
		return InsertResult{}, fmt.Errorf("%w: no records to add to '%s'", ErrInvalidArgument, m.tableName)
	}
	result, err := m.Table().Insert(ctx, records...)
	m.metrics.observe(m.tableName, OpAdd, err)
	return result, err
}

// Update applies values to the row with primary key id and returns the
// number of affected rows. Empty values touch nothing.
func (m *Manager) Update(ctx context.Context, id interface{}, values types.Record) (int64, error) {
	if len(values) == 0 {
		return 0, nil
	}
	n, err := m.Table().WherePrimary(id).Update(ctx, values)
	m.metrics.observe(m.tableName, OpUpdate, err)
	return n, err
}

// Remove deletes the row with primary key id and returns the number of
// affected rows.
func (m *Manager) Remove(ctx context.Context, id interface{}) (int64, error) {
	n, err := m.Table().WherePrimary(id).Delete(ctx)
	m.metrics.observe(m.tableName, OpRemove, err)
	return n, err
}

// Page returns one page of rows matching the request filter and order.
// A nil request reads the first page of ten.
func (m *Manager) Page(ctx context.Context, req *types.PageRequest) (*types.Pagination[types.Record], error) {
	if req == nil {
		req = types.NewDefaultPageRequest(1, 10)
	}
	query := m.Table()
	if filter := req.GetFilter(); filter != nil {
		query = query.Where(filter.Schema, filter.Args...)
	}
	pagination := types.NewDefaultPagination[types.Record](req.GetPage(), req.GetPageSize())
	total, err := query.Count(ctx)
	if err != nil || total == 0 {
		return pagination, err
	}
	rows, err := query.
		Order(req.GetOrders()...).
		Offset(req.GetOffset()).
		Limit(req.GetPageSize()).
		Fetch(ctx)
	if err != nil {
		return nil, err
	}
	pagination.Total = total
	pagination.Items = rows
	return pagination, nil
}

type relationOptions struct {
	relatedFirst bool
	delimiter    string
}

// RelationOption configures TableRelation and RelationName.
type RelationOption func(*relationOptions)

// RelatedFirst puts the related table name before this manager's.
func RelatedFirst() RelationOption {
	return func(o *relationOptions) { o.relatedFirst = true }
}

// WithDelimiter replaces the default "_" between the two table names.
func WithDelimiter(delimiter string) RelationOption {
	return func(o *relationOptions) { o.delimiter = delimiter }
}

// RelationName returns the conventional many-to-many join table name for
// this manager and related, e.g. "book_author".
func (m *Manager) RelationName(related *Manager, opts ...RelationOption) string {
	o := relationOptions{delimiter: "_"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.relatedFirst {
		return related.tableName + o.delimiter + m.tableName
	}
	return m.tableName + o.delimiter + related.tableName
}

// TableRelation returns a selection over the join table between this
// manager and related. The join table is not checked for existence, but a
// table the registry already knows is queried under its own spelling.
func (m *Manager) TableRelation(related *Manager, opts ...RelationOption) Selection {
	return m.db.Table(m.registry.spelling(m.RelationName(related, opts...)))
}
