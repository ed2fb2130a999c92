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
	"fmt"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/feature"

	"github.com/tomoncle/crudman/crud"
	"github.com/tomoncle/crudman/types"
)

// Upsert inserts records into table, updating fields on rows that collide on
// conflictKeys. Empty conflictKeys means the table's primary key. The
// statement follows the dialect: ON CONFLICT for PostgreSQL and SQLite, ON
// DUPLICATE KEY for MySQL, insert-then-update otherwise.
func (p *Provider) Upsert(ctx context.Context, table string, fields, conflictKeys []string, records ...types.Record) (int64, error) {
	if len(fields) == 0 {
		return 0, fmt.Errorf("%w: upsert fields cannot be empty", crud.ErrInvalidArgument)
	}
	if len(records) == 0 {
		return 0, nil
	}
	if len(conflictKeys) == 0 {
		keys, err := p.PrimaryKeys(ctx, table)
		if err != nil {
			return 0, err
		}
		conflictKeys = keys
	}

	db, err := p.conn()
	if err != nil {
		return 0, err
	}
	var affected int64
	err = db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, record := range records {
			values := map[string]interface{}(record.Clone())
			query := tx.NewInsert().Model(&values).TableExpr("?", bun.Ident(table))

			var n int64
			var err error
			switch {
			case db.HasFeature(feature.InsertOnConflict):
				n, err = upsertOnConflict(ctx, query, fields, conflictKeys)
			case db.HasFeature(feature.InsertOnDuplicateKey):
				n, err = upsertOnDuplicateKey(ctx, query, fields)
			default:
				n, err = upsertFallback(ctx, tx, table, conflictKeys, fields, values)
			}
			if err != nil {
				return err
			}
			affected += n
		}
		return nil
	})
	return affected, err
}

func upsertOnDuplicateKey(ctx context.Context, query *bun.InsertQuery, fields []string) (int64, error) {
	sets := make([]string, len(fields))
	args := make([]interface{}, 0, 2*len(fields))
	for i, field := range fields {
		sets[i] = "? = VALUES(?)"
		args = append(args, bun.Ident(field), bun.Ident(field))
	}
	res, err := query.On("DUPLICATE KEY UPDATE "+strings.Join(sets, ", "), args...).Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func upsertOnConflict(ctx context.Context, query *bun.InsertQuery, fields, conflictKeys []string) (int64, error) {
	keys := make([]string, len(conflictKeys))
	keyArgs := make([]interface{}, len(conflictKeys))
	for i, key := range conflictKeys {
		keys[i] = "?"
		keyArgs[i] = bun.Ident(key)
	}
	for _, field := range fields {
		query = query.Set("? = EXCLUDED.?", bun.Ident(field), bun.Ident(field))
	}
	res, err := query.
		On("CONFLICT ("+strings.Join(keys, ", ")+") DO UPDATE", keyArgs...).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func upsertFallback(ctx context.Context, tx bun.Tx, table string, conflictKeys, fields []string, values map[string]interface{}) (int64, error) {
	res, insertErr := tx.NewInsert().Model(&values).TableExpr("?", bun.Ident(table)).Exec(ctx)
	if insertErr == nil {
		return res.RowsAffected()
	}

	set := make(map[string]interface{}, len(fields))
	for _, field := range fields {
		if v, ok := values[field]; ok {
			set[field] = v
		}
	}
	update := tx.NewUpdate().Model(&set).TableExpr("?", bun.Ident(table))
	for _, key := range conflictKeys {
		update = update.Where("? = ?", bun.Ident(key), values[key])
	}
	res, updateErr := update.Exec(ctx)
	if updateErr != nil {
		return 0, fmt.Errorf("upsert failed for table '%s': insert error: %v, update error: %v", table, insertErr, updateErr)
	}
	return res.RowsAffected()
}
