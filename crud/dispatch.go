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

	"github.com/tomoncle/crudman/types"
)

// Operation is a named behaviour callable through Manager.Call.
type Operation func(ctx context.Context, args ...interface{}) (interface{}, error)

// OperationKind identifies what a dispatched name resolved to.
type OperationKind int

const (
	OpGetByID OperationKind = iota + 1
	OpGetAll
	OpAdd
	OpUpdate
	OpRemove
	OpCustom
)

var _ types.BaseEnum = OpGetByID

var operationKindNames = map[OperationKind][2]string{
	OpGetByID: {"get_by_id", "fetch one row by primary key"},
	OpGetAll:  {"get_all", "select every row"},
	OpAdd:     {"add", "insert records"},
	OpUpdate:  {"update", "update a row by primary key"},
	OpRemove:  {"remove", "delete a row by primary key"},
	OpCustom:  {"custom", "registered operation"},
}

func (k OperationKind) IsValid() bool {
	_, ok := operationKindNames[k]
	return ok
}

func (k OperationKind) Number() int {
	if !k.IsValid() {
		return types.IllegalValue
	}
	return int(k)
}

func (k OperationKind) Name() string {
	if v, ok := operationKindNames[k]; ok {
		return v[0]
	}
	return types.IllegalName
}

func (k OperationKind) Desc() string {
	if v, ok := operationKindNames[k]; ok {
		return v[1]
	}
	return types.IllegalDesc
}

func (k OperationKind) String() string { return k.Name() }

type alias struct {
	name string
	kind OperationKind
	call Operation
}

// buildAliases returns the table-named aliases in resolution order, e.g.
// getBookById, getAllBooks, addBook, updateBook and removeBook for "book".
func (m *Manager) buildAliases() []alias {
	title := Capitalize(m.tableName)
	return []alias{
		{"get" + title + "ById", OpGetByID, m.callGetByID},
		{"getAll" + Pluralize(title), OpGetAll, m.callGetAll},
		{"add" + title, OpAdd, m.callAdd},
		{"update" + title, OpUpdate, m.callUpdate},
		{"remove" + title, OpRemove, m.callRemove},
	}
}

// Call invokes the alias or registered operation called name. Aliases are
// matched first, in the order returned by Aliases; an unknown name fails
// with *MethodNotFoundError and leaves the manager usable.
func (m *Manager) Call(ctx context.Context, name string, args ...interface{}) (interface{}, error) {
	if a, ok := m.lookupAlias(name); ok {
		return a.call(ctx, args...)
	}

	m.opsMu.RLock()
	op, ok := m.ops[name]
	m.opsMu.RUnlock()
	if ok {
		out, err := op(ctx, args...)
		m.metrics.observe(m.tableName, OpCustom, err)
		return out, err
	}

	m.metrics.dispatchMiss(m.tableName)
	m.logger.Debug("Undefined manager method", "type", m.typeName, "method", name)
	return nil, &MethodNotFoundError{Method: name, Type: m.typeName}
}

// Resolve reports what name would dispatch to without calling it.
func (m *Manager) Resolve(name string) (OperationKind, bool) {
	if a, ok := m.lookupAlias(name); ok {
		return a.kind, true
	}
	m.opsMu.RLock()
	defer m.opsMu.RUnlock()
	if _, ok := m.ops[name]; ok {
		return OpCustom, true
	}
	return 0, false
}

// RegisterOperation makes op callable as name. Registering a name again
// replaces the previous operation. A name equal to an alias is stored but
// never reached, since aliases resolve first.
func (m *Manager) RegisterOperation(name string, op Operation) {
	if op == nil {
		m.logger.Warn("Ignoring nil operation", "type", m.typeName, "operation", name)
		return
	}
	if _, ok := m.lookupAlias(name); ok {
		m.logger.Warn("Operation shadowed by alias", "type", m.typeName, "operation", name)
	}
	m.opsMu.Lock()
	defer m.opsMu.Unlock()
	m.ops[name] = op
}

// Operations returns the registered operation names, sorted.
func (m *Manager) Operations() []string {
	m.opsMu.RLock()
	defer m.opsMu.RUnlock()
	names := make([]string, 0, len(m.ops))
	for name := range m.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Aliases returns the alias names in resolution order.
func (m *Manager) Aliases() []string {
	names := make([]string, len(m.aliases))
	for i, a := range m.aliases {
		names[i] = a.name
	}
	return names
}

func (m *Manager) lookupAlias(name string) (alias, bool) {
	for _, a := range m.aliases {
		if a.name == name {
			return a, true
		}
	}
	return alias{}, false
}

func (m *Manager) callGetByID(ctx context.Context, args ...interface{}) (interface{}, error) {
	if len(args) < 1 {
		return nil, m.missingArgs("id")
	}
	row, err := m.GetByID(ctx, args[0])
	if err != nil || row == nil {
		return nil, err
	}
	return row, nil
}

func (m *Manager) callGetAll(_ context.Context, _ ...interface{}) (interface{}, error) {
	return m.GetAll(), nil
}

func (m *Manager) callAdd(ctx context.Context, args ...interface{}) (interface{}, error) {
	if len(args) < 1 {
		return nil, m.missingArgs("record")
	}
	records, err := ToRecords(args[0])
	if err != nil {
		return nil, err
	}
	return m.Add(ctx, records...)
}

func (m *Manager) callUpdate(ctx context.Context, args ...interface{}) (interface{}, error) {
	if len(args) < 2 {
		return nil, m.missingArgs("id", "values")
	}
	values, err := ToRecord(args[1])
	if err != nil {
		return nil, err
	}
	return m.Update(ctx, args[0], values)
}

func (m *Manager) callRemove(ctx context.Context, args ...interface{}) (interface{}, error) {
	if len(args) < 1 {
		return nil, m.missingArgs("id")
	}
	return m.Remove(ctx, args[0])
}

func (m *Manager) missingArgs(names ...string) error {
	return fmt.Errorf("%w: %s expects arguments %v", ErrInvalidArgument, m.typeName, names)
}

// ToRecord converts a dispatch argument to a single record.
func ToRecord(v interface{}) (types.Record, error) {
	switch r := v.(type) {
	case types.Record:
		return r, nil
	case map[string]interface{}:
		return types.Record(r), nil
	default:
		return nil, fmt.Errorf("%w: expected a record, got %T", ErrInvalidArgument, v)
	}
}

// ToRecords converts a dispatch argument holding one record or a list of
// records to a batch.
func ToRecords(v interface{}) ([]types.Record, error) {
	switch r := v.(type) {
	case types.Record:
		return []types.Record{r}, nil
	case map[string]interface{}:
		return []types.Record{r}, nil
	case []types.Record:
		return r, nil
	case types.Records:
		return r, nil
	case []map[string]interface{}:
		out := make([]types.Record, len(r))
		for i, rec := range r {
			out[i] = rec
		}
		return out, nil
	case []interface{}:
		out := make([]types.Record, 0, len(r))
		for _, item := range r {
			rec, err := ToRecord(item)
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: expected a record or a list of records, got %T", ErrInvalidArgument, v)
	}
}
