package sqlstore

import (
	"context"
	"errors"
	"testing"

	"github.com/mykhaliev/agent-oracle/entity"
	"github.com/mykhaliev/agent-oracle/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_InsertAndFind(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	inserted, err := store.Insert(ctx, "task", model.EntityRow{"title": "Buy milk", "priority": 2})
	require.NoError(t, err)
	require.NotEmpty(t, inserted.ID())

	byID, err := store.FindByID(ctx, "task", inserted.ID())
	require.NoError(t, err)
	assert.Equal(t, "Buy milk", byID["title"])
	assert.EqualValues(t, 2, byID["priority"])

	byTitle, err := store.FindByTitle(ctx, "task", "Buy milk")
	require.NoError(t, err)
	assert.Equal(t, inserted.ID(), byTitle.ID())

	_, err = store.FindByID(ctx, "task", "missing")
	assert.True(t, errors.Is(err, entity.ErrNotFound))

	_, err = store.FindByTitle(ctx, "list", "Buy milk")
	assert.True(t, errors.Is(err, entity.ErrNotFound))
}

func TestStore_InsertKeepsGivenID(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	row, err := store.Insert(ctx, "list", model.EntityRow{"id": "l-1", "title": "Inbox"})
	require.NoError(t, err)
	assert.Equal(t, "l-1", row.ID())

	_, err = store.Insert(ctx, "list", model.EntityRow{"id": "l-1", "title": "Duplicate"})
	assert.Error(t, err)
}

func TestStore_ListFilters(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Seed(ctx, map[string][]model.EntityRow{
		"task": {
			{"id": "t-1", "title": "A", "listId": "l-1", "done": false, "priority": 1},
			{"id": "t-2", "title": "B", "listId": "l-1", "done": true, "priority": 3},
			{"id": "t-3", "title": "C", "listId": "l-2", "done": true, "priority": 3},
		},
		"list": {{"id": "l-1", "title": "Inbox"}},
	}))

	all, err := store.List(ctx, "task", nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "t-1", all[0].ID())

	inList, err := store.List(ctx, "task", entity.Filters{"listId": "l-1"})
	require.NoError(t, err)
	assert.Len(t, inList, 2)

	done, err := store.List(ctx, "task", entity.Filters{"done": true, "priority": 3})
	require.NoError(t, err)
	assert.Len(t, done, 2)

	none, err := store.List(ctx, "task", entity.Filters{"title": "Z"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_ListNullFilter(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Seed(ctx, map[string][]model.EntityRow{
		"task": {
			{"id": "t-1", "title": "A", "dueDate": nil},
			{"id": "t-2", "title": "B", "dueDate": "2025-01-01"},
		},
	}))

	undated, err := store.List(ctx, "task", entity.Filters{"dueDate": nil})
	require.NoError(t, err)
	require.Len(t, undated, 1)
	assert.Equal(t, "t-1", undated[0].ID())

	r, err := entity.AssertEntityCount(ctx, store, "task", model.Exactly(1), entity.Filters{"dueDate": nil})
	require.NoError(t, err)
	assert.True(t, r.Passed, r.Message)

	dated, err := store.List(ctx, "task", entity.Filters{"dueDate": "2025-01-01", "title": "B"})
	require.NoError(t, err)
	assert.Len(t, dated, 1)
}

func TestStore_UpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Insert(ctx, "task", model.EntityRow{"id": "t-1", "title": "A"})
	require.NoError(t, err)

	updated, err := store.Update(ctx, "task", "t-1", map[string]interface{}{"title": "B", "id": "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "B", updated["title"])
	assert.Equal(t, "t-1", updated.ID())

	_, err = store.Update(ctx, "task", "nope", map[string]interface{}{"title": "C"})
	assert.True(t, errors.Is(err, entity.ErrNotFound))

	require.NoError(t, store.Delete(ctx, "task", "t-1"))
	assert.True(t, errors.Is(store.Delete(ctx, "task", "t-1"), entity.ErrNotFound))
}

func TestStore_Reset(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Insert(ctx, "task", model.EntityRow{"title": "A"})
	require.NoError(t, err)
	require.NoError(t, store.Reset(ctx))

	rows, err := store.List(ctx, "task", nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestStore_WorksWithEntityEvaluators(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Insert(ctx, "task", model.EntityRow{"id": "t-1", "title": "Buy milk"})
	require.NoError(t, err)

	r, err := entity.AssertEntityCount(ctx, store, "task", model.Exactly(1), nil)
	require.NoError(t, err)
	assert.True(t, r.Passed, r.Message)

	res, _, err := entity.VerifyEntity(ctx, store, "task", entity.Identifier{Title: "Buy milk"}, nil, nil)
	require.NoError(t, err)
	assert.True(t, res.Passed, res.Message)
}
