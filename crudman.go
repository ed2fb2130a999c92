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

// Package crudman wires table managers to a database: one provider and one
// table registry per Runtime, shared by every manager the runtime builds.
package crudman

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/uptrace/bun"

	"github.com/tomoncle/crudman/crud"
	"github.com/tomoncle/crudman/database"
	"github.com/tomoncle/crudman/repository"
)

// Runtime is the composition root for managers over one database.
type Runtime struct {
	provider *repository.Provider
	registry *crud.TableRegistry
	opts     []crud.Option
}

// NewRuntime creates a runtime over db. opts are applied to the registry and
// to every manager built by the runtime.
func NewRuntime(db *bun.DB, opts ...crud.Option) *Runtime {
	return newRuntime(repository.NewProvider(db), opts)
}

// NewRuntimeFunc creates a runtime that resolves the handle through source
// on every query. Pair it with database.OnConnect calling Reset so cached
// tables and keys are dropped when the handle changes.
func NewRuntimeFunc(source func() *bun.DB, opts ...crud.Option) *Runtime {
	return newRuntime(repository.NewProviderFunc(source), opts)
}

func newRuntime(provider *repository.Provider, opts []crud.Option) *Runtime {
	return &Runtime{
		provider: provider,
		registry: crud.NewTableRegistry(provider, opts...),
		opts:     opts,
	}
}

func (rt *Runtime) Provider() *repository.Provider { return rt.provider }

func (rt *Runtime) Registry() *crud.TableRegistry { return rt.registry }

// Tables lists the tables managers can be built for.
func (rt *Runtime) Tables(ctx context.Context) ([]string, error) {
	return rt.registry.Tables(ctx)
}

// Reset forgets the cached table list and primary keys, e.g. after a
// migration. Managers built earlier keep working on their tables.
func (rt *Runtime) Reset() {
	rt.registry.Reset()
	rt.provider.ResetPrimaryKeys()
}

// Manager builds the manager for typeName, e.g. "BookManager" for table
// "book". Besides the CRUD aliases the manager has an upsert<Table>
// operation registered.
func (rt *Runtime) Manager(ctx context.Context, typeName string, opts ...crud.Option) (*crud.Manager, error) {
	m, err := crud.New(ctx, rt.provider, rt.registry, typeName, rt.options(opts)...)
	if err != nil {
		return nil, err
	}
	rt.registerUpsert(m)
	return m, nil
}

// Table builds a manager for an explicit table name.
func (rt *Runtime) Table(ctx context.Context, table string, opts ...crud.Option) (*crud.Manager, error) {
	m, err := crud.NewWithTable(ctx, rt.provider, rt.registry, table, rt.options(opts)...)
	if err != nil {
		return nil, err
	}
	rt.registerUpsert(m)
	return m, nil
}

func (rt *Runtime) options(opts []crud.Option) []crud.Option {
	all := make([]crud.Option, 0, len(rt.opts)+len(opts))
	all = append(all, rt.opts...)
	return append(all, opts...)
}

// registerUpsert adds upsert<Table>(records, fields[, conflictKeys]).
func (rt *Runtime) registerUpsert(m *crud.Manager) {
	table := m.PhysicalName()
	m.RegisterOperation("upsert"+crud.Capitalize(m.TableName()), func(ctx context.Context, args ...interface{}) (interface{}, error) {
		if len(args) < 2 {
			return nil, fmt.Errorf("%w: upsert expects records and fields", crud.ErrInvalidArgument)
		}
		records, err := crud.ToRecords(args[0])
		if err != nil {
			return nil, err
		}
		fields, err := toStrings(args[1])
		if err != nil {
			return nil, err
		}
		var keys []string
		if len(args) > 2 {
			if keys, err = toStrings(args[2]); err != nil {
				return nil, err
			}
		}
		return rt.provider.Upsert(ctx, table, fields, keys, records...)
	})
}

func toStrings(v interface{}) ([]string, error) {
	switch s := v.(type) {
	case []string:
		return s, nil
	case string:
		return []string{s}, nil
	case []interface{}:
		out := make([]string, len(s))
		for i, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: expected a column name, got %T", crud.ErrInvalidArgument, item)
			}
			out[i] = str
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: expected a list of column names, got %T", crud.ErrInvalidArgument, v)
	}
}

// NewManager builds the manager named after T, so
//
//	books, err := crudman.NewManager[BookManager](ctx, rt)
//
// manages table "book".
func NewManager[T any](ctx context.Context, rt *Runtime, opts ...crud.Option) (*crud.Manager, error) {
	return rt.Manager(ctx, crud.NameOf[T](), opts...)
}

// ErrNotInitialized is returned by Default before database.InitDB.
var ErrNotInitialized = errors.New("database is not initialized")

var (
	defaultMu      sync.Mutex
	defaultRuntime *Runtime
	defaultHook    sync.Once
)

// Default returns the runtime over the global connection. It is built on
// first successful call and reused after. Its managers always query the
// handle database.GetDB currently returns, and its caches are reset each
// time the global database connects again.
func Default() (*Runtime, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRuntime != nil {
		return defaultRuntime, nil
	}
	if database.GetDB() == nil {
		return nil, ErrNotInitialized
	}
	defaultHook.Do(func() { database.OnConnect(resetDefaultCaches) })
	defaultRuntime = NewRuntimeFunc(database.GetDB)
	return defaultRuntime, nil
}

func resetDefaultCaches(context.Context, *bun.DB) {
	defaultMu.Lock()
	rt := defaultRuntime
	defaultMu.Unlock()
	if rt != nil {
		rt.Reset()
	}
}

// ResetDefault drops the runtime returned by Default, e.g. after
// database.CloseDB.
func ResetDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultRuntime = nil
}
