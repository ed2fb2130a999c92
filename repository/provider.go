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

package repository

import (
	"context"
	"strings"
	"sync"

	"github.com/uptrace/bun"

	"github.com/tomoncle/crudman/crud"
	"github.com/tomoncle/crudman/database"
)

// DefaultPrimaryKey is assumed for tables that declare no primary key.
const DefaultPrimaryKey = "id"

// Provider implements crud.Provider on top of a Bun DB. Rows are read and
// written as types.Record maps, so no model structs are required.
type Provider struct {
	source func() *bun.DB
	logger database.Logger

	mu   sync.RWMutex
	keys map[string][]string
}

var _ crud.Provider = (*Provider)(nil)

// NewProvider returns a Provider bound to db for its whole life.
func NewProvider(db *bun.DB) *Provider {
	return NewProviderFunc(func() *bun.DB { return db })
}

// NewProviderFunc returns a Provider that asks source for the handle on
// every query, so it follows reconnects. database.GetDB is the usual source.
// Queries fail with database.ErrNotConnected while source returns nil.
func NewProviderFunc(source func() *bun.DB) *Provider {
	return &Provider{
		source: source,
		logger: database.GetLogger(),
		keys:   make(map[string][]string),
	}
}

// DB returns the current Bun DB, or nil when disconnected.
func (p *Provider) DB() *bun.DB { return p.source() }

func (p *Provider) conn() (*bun.DB, error) {
	db := p.source()
	if db == nil {
		return nil, database.ErrNotConnected
	}
	return db, nil
}

// ListTables returns every table in the current schema.
func (p *Provider) ListTables(ctx context.Context) ([]string, error) {
	db, err := p.conn()
	if err != nil {
		return nil, err
	}
	return database.ListTables(ctx, db)
}

// Table returns an unfiltered selection over the named table.
func (p *Provider) Table(name string) crud.Selection {
	return &selection{p: p, table: name}
}

// PrimaryKeys returns the primary key columns of table, falling back to
// DefaultPrimaryKey when none are declared. Results are cached per table.
func (p *Provider) PrimaryKeys(ctx context.Context, table string) ([]string, error) {
	name := strings.ToLower(table)
	p.mu.RLock()
	keys, ok := p.keys[name]
	p.mu.RUnlock()
	if ok {
		return keys, nil
	}

	db, err := p.conn()
	if err != nil {
		return nil, err
	}
	keys, err = database.PrimaryKeys(ctx, db, table)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		p.logger.Warn("No primary key declared, using default", "table", table, "column", DefaultPrimaryKey)
		keys = []string{DefaultPrimaryKey}
	}

	p.mu.Lock()
	p.keys[name] = keys
	p.mu.Unlock()
	return keys, nil
}

// ResetPrimaryKeys forgets cached primary key columns.
func (p *Provider) ResetPrimaryKeys() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = make(map[string][]string)
}
