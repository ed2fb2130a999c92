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
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomoncle/crudman/types"
)

type BookManager struct{}

func TestResolveTableName(t *testing.T) {
	tests := []struct {
		typeName string
		want     string
	}{
		{"BookManager", "book"},
		{"AuthorManager", "author"},
		{"CategoryManager", "category"},
		{"UserProfileManager", "userprofile"},
		{"X1Manager", "x1"},
	}
	for _, tt := range tests {
		t.Run(tt.typeName, func(t *testing.T) {
			got, err := ResolveTableName(tt.typeName, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveTableNameMismatch(t *testing.T) {
	for _, name := range []string{"Book", "BookService", "Manager", "", "ManagerBook"} {
		t.Run(name, func(t *testing.T) {
			_, err := ResolveTableName(name, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrNamingMismatch))

			var mismatch *NamingMismatchError
			require.ErrorAs(t, err, &mismatch)
			assert.Equal(t, name, mismatch.TypeName)
			assert.Equal(t, DefaultNamePattern.String(), mismatch.Pattern)
		})
	}
}

func TestResolveTableNameCustomPattern(t *testing.T) {
	pattern := regexp.MustCompile(`(\w+)Repo$`)
	got, err := ResolveTableName("OrderRepo", pattern)
	require.NoError(t, err)
	assert.Equal(t, "order", got)

	_, err = ResolveTableName("OrderManager", pattern)
	assert.ErrorIs(t, err, ErrNamingMismatch)
}

func TestNameOf(t *testing.T) {
	assert.Equal(t, "BookManager", NameOf[BookManager]())
	assert.Equal(t, "BookManager", NameOf[*BookManager]())
}

func TestPluralize(t *testing.T) {
	assert.Equal(t, "Books", Pluralize("Book"))
	assert.Equal(t, "Categories", Pluralize("Category"))
	assert.Equal(t, "People", Pluralize("Person"))
	assert.Equal(t, "Book", Capitalize("book"))
	assert.Equal(t, "", Capitalize(""))
}

func TestNewManager(t *testing.T) {
	ctx := context.Background()

	t.Run("resolves table", func(t *testing.T) {
		m, err := New(ctx, newMemoryDB("book"), nil, "BookManager")
		require.NoError(t, err)
		assert.Equal(t, "book", m.TableName())
		assert.Equal(t, "BookManager", m.TypeName())
	})

	t.Run("mixed case table list", func(t *testing.T) {
		m, err := New(ctx, newMemoryDB("Book", "AUTHOR"), nil, "AuthorManager")
		require.NoError(t, err)
		assert.Equal(t, "author", m.TableName())
		assert.Equal(t, "AUTHOR", m.PhysicalName())
	})

	t.Run("queries use the database spelling", func(t *testing.T) {
		db := newMemoryDB("Book", "Book_Author", "Author")
		m, err := New(ctx, db, nil, "BookManager")
		require.NoError(t, err)
		assert.Equal(t, "book", m.TableName())
		assert.Equal(t, "Book", m.Table().TableName())

		res, err := m.Add(ctx, types.Record{"title": "Dune"})
		require.NoError(t, err)
		row, err := m.GetByID(ctx, res.Row["id"])
		require.NoError(t, err)
		assert.Equal(t, "Dune", row["title"])
		n, err := m.Remove(ctx, res.Row["id"])
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		author, err := New(ctx, db, m.Registry(), "AuthorManager")
		require.NoError(t, err)
		assert.Equal(t, "book_author", m.RelationName(author))
		assert.Equal(t, "Book_Author", m.TableRelation(author).TableName())
		_, err = m.TableRelation(author).Fetch(ctx)
		assert.NoError(t, err)
	})

	t.Run("naming mismatch", func(t *testing.T) {
		db := newMemoryDB("book")
		m, err := New(ctx, db, nil, "BookService")
		assert.Nil(t, m)
		assert.ErrorIs(t, err, ErrNamingMismatch)
		assert.Equal(t, int32(0), db.listCalls.Load())
	})

	t.Run("unknown table", func(t *testing.T) {
		m, err := New(ctx, newMemoryDB("book"), nil, "AuthorManager")
		assert.Nil(t, m)
		assert.ErrorIs(t, err, ErrUnknownTable)
		var unknown *UnknownTableError
		require.ErrorAs(t, err, &unknown)
		assert.Equal(t, "author", unknown.Table)
	})

	t.Run("introspection failure", func(t *testing.T) {
		db := newMemoryDB("book")
		db.listErr = errors.New("connection refused")
		_, err := New(ctx, db, nil, "BookManager")
		require.Error(t, err)
		assert.ErrorIs(t, err, db.listErr)
		assert.NotErrorIs(t, err, ErrUnknownTable)
	})

	t.Run("nil provider", func(t *testing.T) {
		_, err := New(ctx, nil, nil, "BookManager")
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("explicit table", func(t *testing.T) {
		m, err := NewWithTable(ctx, newMemoryDB("book_author"), nil, "Book_Author")
		require.NoError(t, err)
		assert.Equal(t, "book_author", m.TableName())
		assert.Equal(t, "Book_AuthorManager", m.TypeName())

		m, err = NewWithTable(ctx, newMemoryDB("book"), nil, "book", WithTypeName("Books"))
		require.NoError(t, err)
		assert.Equal(t, "Books", m.TypeName())
	})
}

func TestTableRegistry(t *testing.T) {
	ctx := context.Background()

	t.Run("loads once", func(t *testing.T) {
		db := newMemoryDB("Book", "author")
		reg := NewTableRegistry(db)
		assert.False(t, reg.Loaded())

		for _, name := range []string{"book", "BOOK", "Author"} {
			ok, err := reg.Exists(ctx, name)
			require.NoError(t, err)
			assert.True(t, ok, name)
		}
		ok, err := reg.Exists(ctx, "publisher")
		require.NoError(t, err)
		assert.False(t, ok)

		tables, err := reg.Tables(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"author", "book"}, tables)
		assert.True(t, reg.Loaded())
		assert.Equal(t, int32(1), db.listCalls.Load())
	})

	t.Run("lookup keeps database spelling", func(t *testing.T) {
		reg := NewTableRegistry(newMemoryDB("Book", "author"))
		actual, ok, err := reg.Lookup(ctx, "BOOK")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "Book", actual)

		actual, ok, err = reg.Lookup(ctx, "publisher")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, actual)
	})

	t.Run("reset reloads", func(t *testing.T) {
		db := newMemoryDB("book")
		reg := NewTableRegistry(db)
		_, err := reg.Exists(ctx, "book")
		require.NoError(t, err)

		db.names = append(db.names, "author")
		ok, _ := reg.Exists(ctx, "author")
		assert.False(t, ok)

		reg.Reset()
		ok, err = reg.Exists(ctx, "author")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int32(2), db.listCalls.Load())
	})

	t.Run("failure is retried", func(t *testing.T) {
		db := newMemoryDB("book")
		db.listErr = errors.New("timeout")
		reg := NewTableRegistry(db)
		_, err := reg.Exists(ctx, "book")
		require.Error(t, err)
		assert.False(t, reg.Loaded())

		db.listErr = nil
		ok, err := reg.Exists(ctx, "book")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int32(2), db.listCalls.Load())
	})
}

func TestSharedRegistryIntrospectsOnce(t *testing.T) {
	ctx := context.Background()
	db := newMemoryDB("book", "author", "category")
	db.listDelay = 20 * time.Millisecond
	reg := NewTableRegistry(db)

	names := []string{"BookManager", "AuthorManager", "CategoryManager"}
	const n = 30
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := New(ctx, db, reg, names[i%len(names)])
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), db.listCalls.Load())
}

func newBookManager(t *testing.T, opts ...Option) (*Manager, *memoryDB) {
	t.Helper()
	db := newMemoryDB("book", "author", "book_author", "category")
	m, err := New(context.Background(), db, nil, "BookManager", opts...)
	require.NoError(t, err)
	return m, db
}

func TestManagerCRUD(t *testing.T) {
	ctx := context.Background()
	m, _ := newBookManager(t)

	res, err := m.Add(ctx, types.Record{"title": "Dune"})
	require.NoError(t, err)
	require.NotNil(t, res.Row)
	assert.Equal(t, int64(1), res.RowsAffected)
	id := res.Row["id"]

	got, err := m.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Dune", got["title"])

	missing, err := m.GetByID(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	n, err := m.Update(ctx, id, types.Record{"title": "Dune Messiah"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	got, err = m.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Dune Messiah", got["title"])

	n, err = m.Update(ctx, 999, types.Record{"title": "nothing"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = m.Update(ctx, id, types.Record{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = m.Remove(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	got, err = m.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)

	n, err = m.Remove(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestManagerAddBatch(t *testing.T) {
	ctx := context.Background()
	m, _ := newBookManager(t)

	res, err := m.Add(ctx, types.Record{"title": "A"}, types.Record{"title": "B"})
	require.NoError(t, err)
	assert.Nil(t, res.Row)
	assert.Equal(t, int64(2), res.RowsAffected)

	_, err = m.Add(ctx)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestManagerProviderErrorsPassThrough(t *testing.T) {
	ctx := context.Background()
	m, _ := newBookManager(t)

	_, err := m.Add(ctx, types.Record{"id": 7, "title": "A"})
	require.NoError(t, err)
	_, err = m.Add(ctx, types.Record{"id": 7, "title": "B"})
	assert.Same(t, errFakeDuplicate, err)
}

func TestManagerGetAllIsLazy(t *testing.T) {
	ctx := context.Background()
	m, _ := newBookManager(t)
	for _, title := range []string{"C", "A", "B"} {
		_, err := m.Add(ctx, types.Record{"title": title, "genre": "sf"})
		require.NoError(t, err)
	}
	_, err := m.Add(ctx, types.Record{"title": "D", "genre": "poetry"})
	require.NoError(t, err)

	all := m.GetAll()
	assert.Equal(t, "book", all.TableName())

	rows, err := all.Where("genre = ?", "sf").Order("title ASC").Fetch(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "A", rows[0]["title"])

	count, err := all.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestManagerPage(t *testing.T) {
	ctx := context.Background()
	m, _ := newBookManager(t)
	for _, title := range []string{"a", "b", "c", "d", "e"} {
		_, err := m.Add(ctx, types.Record{"title": title})
		require.NoError(t, err)
	}

	page, err := m.Page(ctx, types.NewPageRequest(2, 2, nil, []string{"title DESC"}))
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 3, page.Pages())
	require.Len(t, page.Items, 2)
	assert.Equal(t, "c", page.Items[0]["title"])
	assert.Equal(t, "b", page.Items[1]["title"])

	page, err = m.Page(ctx, types.NewPageRequest(1, 10, types.NewQueryFilter("title = ?", "zzz"), nil))
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)
	assert.Empty(t, page.Items)

	t.Run("nil request reads the first page", func(t *testing.T) {
		var page *types.Pagination[types.Record]
		require.NotPanics(t, func() { page, err = m.Page(ctx, nil) })
		require.NoError(t, err)
		assert.Equal(t, 5, page.Total)
		assert.Equal(t, 1, page.Page)
		assert.Len(t, page.Items, 5)
	})
}

func TestTableRelation(t *testing.T) {
	ctx := context.Background()
	book, db := newBookManager(t)
	author, err := New(ctx, db, book.Registry(), "AuthorManager")
	require.NoError(t, err)

	assert.Equal(t, "book_author", book.RelationName(author))
	assert.Equal(t, "author_book", book.RelationName(author, RelatedFirst()))
	assert.Equal(t, "book-author", book.RelationName(author, WithDelimiter("-")))
	assert.Equal(t, "author__book", book.RelationName(author, RelatedFirst(), WithDelimiter("__")))

	assert.Equal(t, "book_author", book.TableRelation(author).TableName())
	assert.Equal(t, "author_book", book.TableRelation(author, RelatedFirst()).TableName())

	_, err = book.TableRelation(author).Insert(ctx, types.Record{"book_id": 1, "author_id": 2})
	require.NoError(t, err)
	rows, err := book.TableRelation(author).Where("author_id = ?", 2).Fetch(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	_, err = book.TableRelation(author, RelatedFirst()).Fetch(ctx)
	assert.Error(t, err)
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")
	m, _ := newBookManager(t, WithMetrics(metrics))

	_, err := m.Add(ctx, types.Record{"title": "A"})
	require.NoError(t, err)
	_, err = m.GetByID(ctx, 1)
	require.NoError(t, err)
	_, _ = m.Call(ctx, "undefined")

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.operations.WithLabelValues("book", "add", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.operations.WithLabelValues("book", "get_by_id", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.dispatchMisses.WithLabelValues("book")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.introspections))

	var nilMetrics *Metrics
	assert.NotPanics(t, func() {
		nilMetrics.observe("book", OpAdd, nil)
		nilMetrics.dispatchMiss("book")
		nilMetrics.introspection()
	})
}
