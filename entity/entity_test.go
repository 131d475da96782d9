package entity

import (
	"context"
	"errors"
	"testing"

	"github.com/mykhaliev/agent-oracle/assertion"
	"github.com/mykhaliev/agent-oracle/matcher"
	"github.com/mykhaliev/agent-oracle/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockAdapter mocks the entity adapter
type MockAdapter struct {
	mock.Mock
}

func (m *MockAdapter) FindByID(ctx context.Context, entityType, id string) (model.EntityRow, error) {
	args := m.Called(ctx, entityType, id)
	row, _ := args.Get(0).(model.EntityRow)
	return row, args.Error(1)
}

func (m *MockAdapter) FindByTitle(ctx context.Context, entityType, title string) (model.EntityRow, error) {
	args := m.Called(ctx, entityType, title)
	row, _ := args.Get(0).(model.EntityRow)
	return row, args.Error(1)
}

func (m *MockAdapter) List(ctx context.Context, entityType string, filters Filters) ([]model.EntityRow, error) {
	args := m.Called(ctx, entityType, filters)
	rows, _ := args.Get(0).([]model.EntityRow)
	return rows, args.Error(1)
}

func (m *MockAdapter) Insert(ctx context.Context, entityType string, row model.EntityRow) (model.EntityRow, error) {
	args := m.Called(ctx, entityType, row)
	out, _ := args.Get(0).(model.EntityRow)
	return out, args.Error(1)
}

func (m *MockAdapter) Update(ctx context.Context, entityType, id string, fields map[string]interface{}) (model.EntityRow, error) {
	args := m.Called(ctx, entityType, id, fields)
	out, _ := args.Get(0).(model.EntityRow)
	return out, args.Error(1)
}

func (m *MockAdapter) Delete(ctx context.Context, entityType, id string) error {
	return m.Called(ctx, entityType, id).Error(0)
}

var ctx = context.Background()

func TestVerifyEntity(t *testing.T) {
	t.Run("Found by id with matching fields", func(t *testing.T) {
		a := new(MockAdapter)
		a.On("FindByID", ctx, "task", "t-1").Return(model.EntityRow{"id": "t-1", "title": "Buy milk", "done": false}, nil)

		r, row, err := VerifyEntity(ctx, a, "task", Identifier{ID: "t-1"}, matcher.Fields{
			"done": matcher.Literal{Value: false},
		}, nil)
		require.NoError(t, err)
		assert.True(t, r.Passed, r.Message)
		assert.Equal(t, "t-1", row.ID())
		a.AssertExpectations(t)
	})

	t.Run("Not found by title", func(t *testing.T) {
		a := new(MockAdapter)
		a.On("FindByTitle", ctx, "task", "Walk dog").Return(nil, ErrNotFound)

		r, _, err := VerifyEntity(ctx, a, "task", Identifier{Title: "Walk dog"}, nil, nil)
		require.NoError(t, err)
		assert.False(t, r.Passed)
		assert.Equal(t, "task not found: Walk dog", r.Message)
		assert.Equal(t, assertion.ReasonEntityNotFound, r.Reason)
	})

	t.Run("Field mismatch", func(t *testing.T) {
		a := new(MockAdapter)
		a.On("FindByID", ctx, "task", "t-1").Return(model.EntityRow{"id": "t-1", "priority": "low"}, nil)

		r, _, err := VerifyEntity(ctx, a, "task", Identifier{ID: "t-1"}, matcher.Fields{
			"priority": matcher.Literal{Value: "high"},
		}, nil)
		require.NoError(t, err)
		assert.False(t, r.Passed)
		assert.Contains(t, r.Message, "priority: expected high, got low")
	})

	t.Run("Exactly one identifier", func(t *testing.T) {
		a := new(MockAdapter)
		r, _, err := VerifyEntity(ctx, a, "task", Identifier{ID: "t-1", Title: "x"}, nil, nil)
		require.NoError(t, err)
		assert.False(t, r.Passed)
		assert.Equal(t, assertion.ReasonInvalidAssertion, r.Reason)

		r, _, err = VerifyEntity(ctx, a, "task", Identifier{}, nil, nil)
		require.NoError(t, err)
		assert.False(t, r.Passed)
		a.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Adapter failure is an execution error", func(t *testing.T) {
		a := new(MockAdapter)
		a.On("FindByID", ctx, "task", "t-1").Return(nil, errors.New("connection reset"))

		_, _, err := VerifyEntity(ctx, a, "task", Identifier{ID: "t-1"}, nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection reset")
	})
}

func TestAssertCreatedEntities(t *testing.T) {
	t.Run("String literals become filters and first full match is captured", func(t *testing.T) {
		a := new(MockAdapter)
		a.On("List", ctx, "task", Filters{"title": "Buy milk"}).Return([]model.EntityRow{
			{"id": "t-1", "title": "Buy milk", "priority": 1},
			{"id": "t-2", "title": "Buy milk", "priority": 5},
			{"id": "t-3", "title": "Buy milk", "priority": 9},
		}, nil)

		mctx := matcher.NewContext()
		r, err := AssertCreatedEntities(ctx, a, []CreatedAssertion{{
			Type: "task",
			As:   "milk",
			Fields: matcher.Fields{
				"title":    matcher.Literal{Value: "Buy milk"},
				"priority": matcher.Comparison{Op: matcher.OpGTE, Value: 5},
			},
		}}, mctx)
		require.NoError(t, err)
		assert.True(t, r.Passed, r.Message)
		assert.Equal(t, "t-2", mctx.Captured["milk"].ID())
		a.AssertExpectations(t)
	})

	t.Run("Refs and non-string fields are not filters", func(t *testing.T) {
		a := new(MockAdapter)
		a.On("List", ctx, "task", Filters{}).Return([]model.EntityRow{
			{"id": "t-1", "listId": "l-1", "priority": 2},
		}, nil)

		mctx := matcher.NewContext()
		mctx.Capture("list", model.EntityRow{"id": "l-1"})
		r, err := AssertCreatedEntities(ctx, a, []CreatedAssertion{{
			Type: "task",
			Fields: matcher.Fields{
				"listId":   matcher.Ref{Alias: "list"},
				"priority": matcher.Literal{Value: 2},
			},
		}}, mctx)
		require.NoError(t, err)
		assert.True(t, r.Passed, r.Message)
	})

	t.Run("No match reports candidates examined", func(t *testing.T) {
		a := new(MockAdapter)
		rows := []model.EntityRow{
			{"id": "1", "title": "Buy milk", "done": true},
			{"id": "2", "title": "Buy milk", "done": true},
			{"id": "3", "title": "Buy milk", "done": true},
			{"id": "4", "title": "Buy milk", "done": true},
		}
		a.On("List", ctx, "task", Filters{"title": "Buy milk"}).Return(rows, nil)

		r, err := AssertCreatedEntities(ctx, a, []CreatedAssertion{{
			Type: "task",
			Fields: matcher.Fields{
				"title": matcher.Literal{Value: "Buy milk"},
				"done":  matcher.Literal{Value: false},
			},
		}}, matcher.NewContext())
		require.NoError(t, err)
		require.False(t, r.Passed)
		assert.Contains(t, r.Message, "examined 4 candidate(s)")
		shown, ok := r.Actual.([]model.EntityRow)
		require.True(t, ok)
		assert.Len(t, shown, 3)
	})

	t.Run("Filters are rendered from templates", func(t *testing.T) {
		a := new(MockAdapter)
		a.On("List", ctx, "list", Filters{"title": "Groceries"}).Return([]model.EntityRow{{"id": "l-1", "title": "Groceries"}}, nil)

		mctx := matcher.NewContext()
		mctx.Vars["name"] = "Groceries"
		r, err := AssertCreatedEntities(ctx, a, []CreatedAssertion{{
			Type:   "list",
			Fields: matcher.Fields{"title": matcher.Literal{Value: "{{name}}"}},
		}}, mctx)
		require.NoError(t, err)
		assert.True(t, r.Passed, r.Message)
	})

	t.Run("List failure propagates", func(t *testing.T) {
		a := new(MockAdapter)
		a.On("List", ctx, "task", mock.Anything).Return(nil, errors.New("db down"))

		_, err := AssertCreatedEntities(ctx, a, []CreatedAssertion{{Type: "task"}}, nil)
		assert.Error(t, err)
	})
}

func TestVerifyEntities(t *testing.T) {
	mctx := matcher.NewContext()
	mctx.Capture("task", model.EntityRow{"id": "t-1", "listId": "l-1"})

	t.Run("Identifiers from refs", func(t *testing.T) {
		a := new(MockAdapter)
		a.On("FindByID", ctx, "task", "t-1").Return(model.EntityRow{"id": "t-1", "done": true}, nil)
		a.On("FindByID", ctx, "list", "l-1").Return(model.EntityRow{"id": "l-1", "title": "Inbox"}, nil)

		r, err := VerifyEntities(ctx, a, []Verification{
			{Type: "task", ID: "$task", Fields: matcher.Fields{"done": matcher.Literal{Value: true}}},
			{Type: "list", ID: map[string]interface{}{"from": "task", "field": "listId"}, As: "inbox"},
		}, mctx)
		require.NoError(t, err)
		assert.True(t, r.Passed, r.Message)
		assert.Equal(t, "Inbox", mctx.Captured["inbox"]["title"])
	})

	t.Run("Unresolved identifier fails explicitly", func(t *testing.T) {
		a := new(MockAdapter)
		r, err := VerifyEntities(ctx, a, []Verification{{Type: "task", ID: "$ghost.id"}}, mctx)
		require.NoError(t, err)
		assert.False(t, r.Passed)
		assert.Equal(t, assertion.ReasonUnresolvedRef, r.Reason)
	})

	t.Run("notExists", func(t *testing.T) {
		a := new(MockAdapter)
		a.On("FindByTitle", ctx, "task", "Deleted").Return(nil, ErrNotFound)
		a.On("FindByTitle", ctx, "task", "Still here").Return(model.EntityRow{"id": "t-9", "title": "Still here"}, nil)

		ok, err := VerifyEntities(ctx, a, []Verification{{Type: "task", Title: "Deleted", NotExists: true}}, mctx)
		require.NoError(t, err)
		assert.True(t, ok.Passed)

		bad, err := VerifyEntities(ctx, a, []Verification{{Type: "task", Title: "Still here", NotExists: true}}, mctx)
		require.NoError(t, err)
		assert.False(t, bad.Passed)
		assert.Equal(t, assertion.ReasonEntityUnexpected, bad.Reason)
	})
}

func TestAssertEntityCount(t *testing.T) {
	three := []model.EntityRow{{"id": "1"}, {"id": "2"}, {"id": "3"}}

	a := new(MockAdapter)
	a.On("List", ctx, "task", Filters(nil)).Return(three, nil)

	r, err := AssertEntityCount(ctx, a, "task", model.Between(2, 5), nil)
	require.NoError(t, err)
	assert.True(t, r.Passed)

	r, err = AssertEntityCount(ctx, a, "task", model.AtMost(2), nil)
	require.NoError(t, err)
	assert.False(t, r.Passed)
	assert.Equal(t, 3, r.Actual)
	assert.Equal(t, "task: expected at most 2 row(s), got 3", r.Message)

	r, err = AssertEntityCount(ctx, a, "task", model.Exactly(3), nil)
	require.NoError(t, err)
	assert.True(t, r.Passed)

	r, err = AssertEntityCount(ctx, a, "task", model.AtLeast(4), nil)
	require.NoError(t, err)
	assert.Contains(t, r.Message, "at least 4")
}
