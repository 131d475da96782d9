package wait

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mykhaliev/agent-oracle/assertion"
	"github.com/mykhaliev/agent-oracle/entity"
	"github.com/mykhaliev/agent-oracle/matcher"
	"github.com/mykhaliev/agent-oracle/model"
	"github.com/mykhaliev/agent-oracle/sqlstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	s, err := sqlstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func fast(timeout time.Duration) Options {
	return Options{Timeout: timeout, Interval: 20 * time.Millisecond}
}

func TestExecute(t *testing.T) {
	ctx := context.Background()

	t.Run("Already satisfied passes on the first attempt", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Insert(ctx, "task", model.EntityRow{"id": "t-1", "title": "Buy milk", "done": true})
		require.NoError(t, err)

		var polls int32
		opts := fast(time.Second)
		opts.OnPoll = func(int) { atomic.AddInt32(&polls, 1) }

		r := Execute(ctx, Condition{Entity: &entity.Verification{
			Type:   "task",
			Title:  "Buy milk",
			Fields: matcher.Fields{"done": matcher.Literal{Value: true}},
		}}, s, matcher.NewContext(), opts)

		assert.True(t, r.Passed, r.Message)
		assert.Equal(t, int32(1), atomic.LoadInt32(&polls))
	})

	t.Run("Row appearing later is picked up", func(t *testing.T) {
		s := newStore(t)
		go func() {
			time.Sleep(60 * time.Millisecond)
			_, _ = s.Insert(context.Background(), "task", model.EntityRow{"id": "t-2", "title": "Later"})
		}()

		var polls int32
		opts := fast(2 * time.Second)
		opts.OnPoll = func(int) { atomic.AddInt32(&polls, 1) }

		mctx := matcher.NewContext()
		r := Execute(ctx, Condition{Entity: &entity.Verification{Type: "task", Title: "Later", As: "later"}}, s, mctx, opts)

		require.True(t, r.Passed, r.Message)
		assert.Greater(t, atomic.LoadInt32(&polls), int32(1))
		assert.Equal(t, "t-2", mctx.Captured["later"].ID())
	})

	t.Run("Timeout fails with the unmet condition", func(t *testing.T) {
		s := newStore(t)
		r := Execute(ctx, Condition{Count: &CountCondition{Type: "task", Expected: model.Exactly(1)}},
			s, matcher.NewContext(), fast(100*time.Millisecond))

		assert.False(t, r.Passed)
		assert.Equal(t, assertion.ReasonTimeout, r.Reason)
		assert.Contains(t, r.Message, "Timed out")
		assert.Contains(t, r.Message, "task count 1")
		assert.Contains(t, r.Message, "expected 1 row(s), got 0")
	})

	t.Run("Entity and count together", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Seed(ctx, map[string][]model.EntityRow{
			"task": {{"id": "a", "listId": "l-1"}, {"id": "b", "listId": "l-1"}},
		}))
		r := Execute(ctx, Condition{
			Entity: &entity.Verification{Type: "task", ID: "a"},
			Count:  &CountCondition{Type: "task", Filters: entity.Filters{"listId": "l-1"}, Expected: model.AtLeast(2)},
		}, s, matcher.NewContext(), fast(time.Second))
		assert.True(t, r.Passed, r.Message)
	})

	t.Run("Waiting for deletion", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Insert(ctx, "task", model.EntityRow{"id": "gone"})
		require.NoError(t, err)
		go func() {
			time.Sleep(50 * time.Millisecond)
			_ = s.Delete(context.Background(), "task", "gone")
		}()

		r := Execute(ctx, Condition{Entity: &entity.Verification{Type: "task", ID: "gone", NotExists: true}},
			s, matcher.NewContext(), fast(2*time.Second))
		assert.True(t, r.Passed, r.Message)
	})

	t.Run("Empty condition is invalid", func(t *testing.T) {
		r := Execute(ctx, Condition{}, newStore(t), nil, Options{})
		assert.False(t, r.Passed)
		assert.Equal(t, assertion.ReasonInvalidAssertion, r.Reason)
	})

	t.Run("Cancelled context stops polling", func(t *testing.T) {
		s := newStore(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		r := Execute(cctx, Condition{Count: &CountCondition{Type: "task", Expected: model.Exactly(1)}},
			s, matcher.NewContext(), fast(time.Second))
		assert.False(t, r.Passed)
		assert.Equal(t, assertion.ReasonTimeout, r.Reason)
		assert.Contains(t, r.Message, "cancelled")
	})
}

func TestConditionString(t *testing.T) {
	assert.Equal(t, "task t-1 to not exist", Condition{Entity: &entity.Verification{Type: "task", ID: "t-1", NotExists: true}}.String())
	assert.Equal(t, "task count 2..5", Condition{Count: &CountCondition{Type: "task", Expected: model.Between(2, 5)}}.String())
	assert.Equal(t, "empty condition", Condition{}.String())
}
