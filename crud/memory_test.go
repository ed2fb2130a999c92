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
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomoncle/crudman/types"
)

var errFakeDuplicate = errors.New("UNIQUE constraint failed")

// memoryDB is an in-memory Provider with integer auto-increment "id" keys.
type memoryDB struct {
	mu     sync.Mutex
	names  []string
	rows   map[string][]types.Record
	nextID map[string]int64

	listCalls atomic.Int32
	listDelay time.Duration
	listErr   error
}

func newMemoryDB(tables ...string) *memoryDB {
	db := &memoryDB{
		names:  tables,
		rows:   make(map[string][]types.Record),
		nextID: make(map[string]int64),
	}
	return db
}

func (db *memoryDB) ListTables(context.Context) ([]string, error) {
	db.listCalls.Add(1)
	if db.listDelay > 0 {
		time.Sleep(db.listDelay)
	}
	if db.listErr != nil {
		return nil, db.listErr
	}
	return append([]string(nil), db.names...), nil
}

func (db *memoryDB) Table(name string) Selection {
	return &memorySelection{db: db, table: name}
}

type memoryCond struct {
	column string
	value  interface{}
}

type memorySelection struct {
	db     *memoryDB
	table  string
	conds  []memoryCond
	orders []string
	limit  int
	offset int
}

func (s *memorySelection) clone() *memorySelection {
	c := *s
	c.conds = append([]memoryCond(nil), s.conds...)
	c.orders = append([]string(nil), s.orders...)
	return &c
}

func (s *memorySelection) TableName() string { return s.table }

// Where understands "column = ?" only.
func (s *memorySelection) Where(query string, args ...interface{}) Selection {
	c := s.clone()
	column := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(query), "= ?"))
	var value interface{}
	if len(args) > 0 {
		value = args[0]
	}
	c.conds = append(c.conds, memoryCond{column: column, value: value})
	return c
}

func (s *memorySelection) WherePrimary(id interface{}) Selection {
	return s.Where("id = ?", id)
}

func (s *memorySelection) Order(orders ...string) Selection {
	c := s.clone()
	c.orders = append(c.orders, orders...)
	return c
}

func (s *memorySelection) Limit(n int) Selection {
	c := s.clone()
	c.limit = n
	return c
}

func (s *memorySelection) Offset(n int) Selection {
	c := s.clone()
	c.offset = n
	return c
}

func (s *memorySelection) Get(ctx context.Context, id interface{}) (types.Record, error) {
	rows, err := s.WherePrimary(id).Fetch(ctx)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

func (s *memorySelection) match(r types.Record) bool {
	for _, c := range s.conds {
		if fmt.Sprint(r[c.column]) != fmt.Sprint(c.value) {
			return false
		}
	}
	return true
}

func (s *memorySelection) Fetch(context.Context) ([]types.Record, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.checkTable(s.table); err != nil {
		return nil, err
	}
	var out []types.Record
	for _, r := range s.db.rows[s.table] {
		if s.match(r) {
			out = append(out, r.Clone())
		}
	}
	for _, order := range s.orders {
		column, desc := order, false
		if fields := strings.Fields(order); len(fields) == 2 {
			column, desc = fields[0], strings.EqualFold(fields[1], "DESC")
		}
		sort.SliceStable(out, func(i, j int) bool {
			less := fmt.Sprint(out[i][column]) < fmt.Sprint(out[j][column])
			if desc {
				return !less
			}
			return less
		})
	}
	if s.offset > 0 {
		if s.offset >= len(out) {
			return nil, nil
		}
		out = out[s.offset:]
	}
	if s.limit > 0 && s.limit < len(out) {
		out = out[:s.limit]
	}
	return out, nil
}

func (s *memorySelection) Count(ctx context.Context) (int, error) {
	rows, err := s.Offset(0).Limit(-1).Fetch(ctx)
	return len(rows), err
}

func (s *memorySelection) Insert(_ context.Context, records ...types.Record) (InsertResult, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.checkTable(s.table); err != nil {
		return InsertResult{}, err
	}
	var last types.Record
	for _, rec := range records {
		row := rec.Clone()
		if id, ok := row["id"]; ok {
			for _, existing := range s.db.rows[s.table] {
				if fmt.Sprint(existing["id"]) == fmt.Sprint(id) {
					return InsertResult{}, errFakeDuplicate
				}
			}
		} else {
			s.db.nextID[s.table]++
			row["id"] = s.db.nextID[s.table]
		}
		s.db.rows[s.table] = append(s.db.rows[s.table], row)
		last = row
	}
	result := InsertResult{RowsAffected: int64(len(records))}
	if len(records) == 1 {
		result.Row = last.Clone()
	}
	return result, nil
}

func (s *memorySelection) Update(_ context.Context, values types.Record) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.checkTable(s.table); err != nil {
		return 0, err
	}
	var n int64
	for _, r := range s.db.rows[s.table] {
		if s.match(r) {
			for k, v := range values {
				r[k] = v
			}
			n++
		}
	}
	return n, nil
}

func (s *memorySelection) Delete(context.Context) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.checkTable(s.table); err != nil {
		return 0, err
	}
	var kept []types.Record
	var n int64
	for _, r := range s.db.rows[s.table] {
		if s.match(r) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.db.rows[s.table] = kept
	return n, nil
}

// checkTable matches case-sensitively, like quoted PostgreSQL identifiers.
func (db *memoryDB) checkTable(name string) error {
	for _, t := range db.names {
		if t == name {
			return nil
		}
	}
	return fmt.Errorf("no such table: %s", name)
}
