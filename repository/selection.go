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
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/feature"

	"github.com/tomoncle/crudman/crud"
	"github.com/tomoncle/crudman/types"
)

// whereQuery is satisfied by bun select, update and delete queries.
type whereQuery[Q any] interface {
	Where(query string, args ...interface{}) Q
}

type selection struct {
	p       *Provider
	table   string
	filters []types.QueryFilter
	primary []interface{}
	orders  []string
	limit   int
	offset  int
}

func (s *selection) clone() *selection {
	c := *s
	c.filters = append([]types.QueryFilter(nil), s.filters...)
	c.primary = append([]interface{}(nil), s.primary...)
	c.orders = append([]string(nil), s.orders...)
	return &c
}

func (s *selection) TableName() string { return s.table }

func (s *selection) Where(query string, args ...interface{}) crud.Selection {
	c := s.clone()
	c.filters = append(c.filters, *types.NewQueryFilter(query, args...))
	return c
}

func (s *selection) WherePrimary(id interface{}) crud.Selection {
	c := s.clone()
	c.primary = append(c.primary, id)
	return c
}

func (s *selection) Order(orders ...string) crud.Selection {
	c := s.clone()
	c.orders = append(c.orders, orders...)
	return c
}

func (s *selection) Limit(n int) crud.Selection {
	c := s.clone()
	c.limit = n
	return c
}

func (s *selection) Offset(n int) crud.Selection {
	c := s.clone()
	c.offset = n
	return c
}

func (s *selection) Get(ctx context.Context, id interface{}) (types.Record, error) {
	rows, err := s.WherePrimary(id).Limit(1).Fetch(ctx)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

func (s *selection) Fetch(ctx context.Context) ([]types.Record, error) {
	query, err := s.selectQuery(ctx)
	if err != nil {
		return nil, err
	}
	if len(s.orders) > 0 {
		query = query.Order(s.orders...)
	}
	if s.limit > 0 {
		query = query.Limit(s.limit)
	}
	if s.offset > 0 {
		query = query.Offset(s.offset)
	}

	var rows []map[string]interface{}
	if err := query.Scan(ctx, &rows); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []types.Record{}, nil
		}
		return nil, err
	}
	out := make([]types.Record, len(rows))
	for i, row := range rows {
		out[i] = row
	}
	return out, nil
}

func (s *selection) Count(ctx context.Context) (int, error) {
	query, err := s.selectQuery(ctx)
	if err != nil {
		return 0, err
	}
	return query.Count(ctx)
}

// Insert writes records in one transaction. A single record going into a
// table with one primary key column is read back and returned as Row.
func (s *selection) Insert(ctx context.Context, records ...types.Record) (crud.InsertResult, error) {
	if len(records) == 0 {
		return crud.InsertResult{}, nil
	}
	keys, err := s.p.PrimaryKeys(ctx, s.table)
	if err != nil {
		return crud.InsertResult{}, err
	}
	if len(records) == 1 && len(keys) == 1 {
		return s.insertOne(ctx, keys[0], records[0])
	}

	db, err := s.p.conn()
	if err != nil {
		return crud.InsertResult{}, err
	}
	var affected int64
	err = db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, record := range records {
			values := map[string]interface{}(record.Clone())
			res, err := tx.NewInsert().Model(&values).TableExpr("?", bun.Ident(s.table)).Exec(ctx)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			affected += n
		}
		return nil
	})
	if err != nil {
		return crud.InsertResult{}, err
	}
	return crud.InsertResult{RowsAffected: affected}, nil
}

func (s *selection) insertOne(ctx context.Context, pk string, record types.Record) (crud.InsertResult, error) {
	db, err := s.p.conn()
	if err != nil {
		return crud.InsertResult{}, err
	}
	values := map[string]interface{}(record.Clone())
	query := db.NewInsert().Model(&values).TableExpr("?", bun.Ident(s.table))

	id, supplied := record[pk]
	switch {
	case supplied:
		if _, err := query.Exec(ctx); err != nil {
			return crud.InsertResult{}, err
		}
	case db.HasFeature(feature.InsertReturning):
		if _, err := query.Returning("?", bun.Ident(pk)).Exec(ctx, &id); err != nil {
			return crud.InsertResult{}, err
		}
	default:
		res, err := query.Exec(ctx)
		if err != nil {
			return crud.InsertResult{}, err
		}
		if id, err = res.LastInsertId(); err != nil {
			return crud.InsertResult{}, fmt.Errorf("failed to read id of row inserted into '%s': %w", s.table, err)
		}
	}

	row, err := s.p.Table(s.table).Get(ctx, id)
	if err != nil {
		return crud.InsertResult{}, err
	}
	return crud.InsertResult{Row: row, RowsAffected: 1}, nil
}

func (s *selection) Update(ctx context.Context, values types.Record) (int64, error) {
	if len(values) == 0 {
		return 0, nil
	}
	db, err := s.p.conn()
	if err != nil {
		return 0, err
	}
	set := map[string]interface{}(values.Clone())
	query, err := applyWhere(ctx, s, db.NewUpdate().Model(&set).TableExpr("?", bun.Ident(s.table)))
	if err != nil {
		return 0, err
	}
	res, err := query.Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *selection) Delete(ctx context.Context) (int64, error) {
	db, err := s.p.conn()
	if err != nil {
		return 0, err
	}
	query, err := applyWhere(ctx, s, db.NewDelete().TableExpr("?", bun.Ident(s.table)))
	if err != nil {
		return 0, err
	}
	res, err := query.Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *selection) selectQuery(ctx context.Context) (*bun.SelectQuery, error) {
	db, err := s.p.conn()
	if err != nil {
		return nil, err
	}
	return applyWhere(ctx, s, db.NewSelect().TableExpr("?", bun.Ident(s.table)))
}

// applyWhere adds the selection filters to query. Bun refuses UPDATE and
// DELETE without a WHERE clause, so an unfiltered selection gets "1 = 1".
func applyWhere[Q whereQuery[Q]](ctx context.Context, s *selection, query Q) (Q, error) {
	filters := append([]types.QueryFilter(nil), s.filters...)
	for _, id := range s.primary {
		pf, err := s.primaryFilters(ctx, id)
		if err != nil {
			return query, err
		}
		filters = append(filters, pf...)
	}
	if len(filters) == 0 {
		return query.Where("1 = 1"), nil
	}
	for _, f := range filters {
		query = query.Where(f.Schema, f.Args...)
	}
	return query, nil
}

func (s *selection) primaryFilters(ctx context.Context, id interface{}) ([]types.QueryFilter, error) {
	keys, err := s.p.PrimaryKeys(ctx, s.table)
	if err != nil {
		return nil, err
	}

	var composite map[string]interface{}
	switch v := id.(type) {
	case types.Record:
		composite = v
	case map[string]interface{}:
		composite = v
	}

	if composite == nil {
		if len(keys) != 1 {
			return nil, fmt.Errorf("%w: table '%s' has a composite primary key %v, pass a record of key values", crud.ErrInvalidArgument, s.table, keys)
		}
		return []types.QueryFilter{*types.NewQueryFilter("? = ?", bun.Ident(keys[0]), id)}, nil
	}

	filters := make([]types.QueryFilter, 0, len(keys))
	for _, key := range keys {
		value, ok := composite[key]
		if !ok {
			return nil, fmt.Errorf("%w: missing primary key column '%s' for table '%s'", crud.ErrInvalidArgument, key, s.table)
		}
		filters = append(filters, *types.NewQueryFilter("? = ?", bun.Ident(key), value))
	}
	return filters, nil
}
