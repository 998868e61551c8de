package session_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sdragent/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeClock struct {
	nanos atomic.Int64
}

func newFakeClock() *fakeClock {
	c := &fakeClock{}
	c.nanos.Store(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano())
	return c
}

func (c *fakeClock) Now() time.Time {
	return time.Unix(0, c.nanos.Load()).UTC()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.nanos.Add(int64(d))
}

func TestMemory(t *testing.T) {
	runStoreSuite(t, session.NewMemory())
}

func TestMemory_Evict(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	st := session.NewMemory(session.WithClock(clock.Now))

	idle, err := st.Create(ctx)
	require.NoError(t, err)
	active, err := st.Create(ctx)
	require.NoError(t, err)

	clock.Advance(30 * time.Minute)
	require.NoError(t, st.Append(ctx, active, session.Turn{Role: session.RoleUser, Content: "hi"}))
	clock.Advance(40 * time.Minute)

	n, err := st.Evict(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = st.Get(ctx, idle)
	assert.True(t, errors.Is(err, session.ErrNotFound))
	s, err := st.Get(ctx, active)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(-40*time.Minute), s.LastActivity)
}

func TestMemory_Concurrent(t *testing.T) {
	ctx := context.Background()
	st := session.NewMemory()
	id, err := st.Create(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = st.Append(ctx, id, session.Turn{Role: session.RoleUser, Content: "x"})
			_, _ = st.Get(ctx, id)
			_, _ = st.Fork(ctx, id)
		}()
	}
	wg.Wait()

	s, err := st.Get(ctx, id)
	require.NoError(t, err)
	assert.Len(t, s.History, 20)
}

func TestJanitor(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx := context.Background()
	clock := newFakeClock()
	st := session.NewMemory(session.WithClock(clock.Now))
	_, err := st.Create(ctx)
	require.NoError(t, err)

	j := session.NewJanitor(st, time.Minute, 5*time.Millisecond)
	j.Start()
	j.Start()
	clock.Advance(2 * time.Minute)

	assert.Eventually(t, func() bool {
		list, _ := st.List(ctx)
		return len(list) == 0
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, j.Close())
	require.NoError(t, j.Close())
}

func TestJanitor_CloseWithoutStart(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	j := session.NewJanitor(session.NewMemory(), 0, 0)
	require.NoError(t, j.Close())
}

func runStoreSuite(t *testing.T, st session.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("not_found", func(t *testing.T) {
		_, err := st.Get(ctx, "missing")
		assert.True(t, errors.Is(err, session.ErrNotFound))
		_, err = st.Fork(ctx, "missing")
		assert.True(t, errors.Is(err, session.ErrNotFound))
		err = st.Append(ctx, "missing", session.Turn{Role: session.RoleUser, Content: "x"})
		assert.True(t, errors.Is(err, session.ErrNotFound))
		err = st.Delete(ctx, "missing")
		assert.True(t, errors.Is(err, session.ErrNotFound))
	})

	t.Run("create_append", func(t *testing.T) {
		id, err := st.Create(ctx)
		require.NoError(t, err)
		assert.NotEmpty(t, id)

		s, err := st.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, s.ID)
		assert.Empty(t, s.History)
		assert.False(t, s.CreatedAt.IsZero())

		require.NoError(t, st.Append(ctx, id,
			session.Turn{Role: session.RoleUser, Content: "hello"},
			session.Turn{Role: session.RoleAgent, Content: "hi there"},
		))
		require.NoError(t, st.Append(ctx, id, session.Turn{Role: session.RoleUser, Content: "analyze @NandaMac"}))

		s, err = st.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []session.Turn{
			{Role: session.RoleUser, Content: "hello"},
			{Role: session.RoleAgent, Content: "hi there"},
			{Role: session.RoleUser, Content: "analyze @NandaMac"},
		}, s.History)
		assert.False(t, s.LastActivity.Before(s.CreatedAt))

		// returned copy is detached
		s.History[0].Content = "changed"
		s2, err := st.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "hello", s2.History[0].Content)
	})

	t.Run("seeded", func(t *testing.T) {
		seed := []session.Turn{
			{Role: session.RoleUser, Content: "earlier"},
			{Role: session.RoleAgent, Content: "reply"},
		}
		id, err := st.Create(ctx, seed...)
		require.NoError(t, err)
		s, err := st.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, seed, s.History)
	})

	t.Run("fork_isolation", func(t *testing.T) {
		id, err := st.Create(ctx, session.Turn{Role: session.RoleUser, Content: "A"})
		require.NoError(t, err)

		forkID, err := st.Fork(ctx, id)
		require.NoError(t, err)
		assert.NotEqual(t, id, forkID)

		require.NoError(t, st.Append(ctx, forkID, session.Turn{Role: session.RoleAgent, Content: "B"}))

		src, err := st.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []session.Turn{{Role: session.RoleUser, Content: "A"}}, src.History)

		fork, err := st.Get(ctx, forkID)
		require.NoError(t, err)
		assert.Equal(t, []session.Turn{
			{Role: session.RoleUser, Content: "A"},
			{Role: session.RoleAgent, Content: "B"},
		}, fork.History)

		require.NoError(t, st.Append(ctx, id, session.Turn{Role: session.RoleAgent, Content: "C"}))
		fork, err = st.Get(ctx, forkID)
		require.NoError(t, err)
		assert.Len(t, fork.History, 2)
	})

	t.Run("list_delete", func(t *testing.T) {
		id, err := st.Create(ctx, session.Turn{Role: session.RoleUser, Content: "x"})
		require.NoError(t, err)

		list, err := st.List(ctx)
		require.NoError(t, err)
		var found *session.Info
		for _, info := range list {
			if info.ID == id {
				found = info
			}
		}
		require.NotNil(t, found)
		assert.Equal(t, 1, found.Turns)

		require.NoError(t, st.Delete(ctx, id))
		_, err = st.Get(ctx, id)
		assert.True(t, errors.Is(err, session.ErrNotFound))
	})

	t.Run("evict_all", func(t *testing.T) {
		_, err := st.Create(ctx)
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)

		n, err := st.Evict(ctx, time.Millisecond)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 1)

		list, err := st.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}
