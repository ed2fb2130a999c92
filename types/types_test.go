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

package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_KeysAndClone(t *testing.T) {
	rec := Record{"title": "Dune", "id": 1, "author": nil}

	assert.Equal(t, []string{"author", "id", "title"}, rec.Keys())
	assert.True(t, rec.Has("author"))
	assert.False(t, rec.Has("isbn"))

	clone := rec.Clone()
	clone["title"] = "Emma"
	assert.Equal(t, "Dune", rec["title"])
	assert.Nil(t, Record(nil).Clone())
}

func TestRecord_ValueScan(t *testing.T) {
	t.Run("round trips through JSON column", func(t *testing.T) {
		v, err := Record{"name": "tolkien"}.Value()
		require.NoError(t, err)

		var out Record
		require.NoError(t, out.Scan(v))
		assert.Equal(t, "tolkien", out["name"])
	})

	t.Run("scans text columns", func(t *testing.T) {
		var out Record
		require.NoError(t, out.Scan(`{"a":1}`))
		assert.EqualValues(t, 1, out["a"])
	})

	t.Run("nil yields empty record", func(t *testing.T) {
		var out Record
		require.NoError(t, out.Scan(nil))
		assert.NotNil(t, out)
		assert.Empty(t, out)
	})

	t.Run("rejects other types", func(t *testing.T) {
		var out Record
		assert.Error(t, out.Scan(42))
	})
}

func TestPageRequest_Defaults(t *testing.T) {
	req := NewDefaultPageRequest(0, 0)
	assert.Equal(t, 1, req.GetPage())
	assert.Equal(t, 10, req.GetPageSize())
	assert.Equal(t, 0, req.GetOffset())

	req = NewPageRequest(3, 5, NewQueryFilter("year > ?", 1990), []string{"id ASC"})
	assert.Equal(t, 10, req.GetOffset())
	assert.Equal(t, "year > ?", req.GetFilter().Schema)
	assert.Equal(t, []string{"id ASC"}, req.GetOrders())
}

func TestPagination_Pages(t *testing.T) {
	p := NewDefaultPagination[Record](1, 10)
	assert.Equal(t, 0, p.Pages())
	p.Total = 21
	assert.Equal(t, 3, p.Pages())
}
