package sessions

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/microsoft/secure-azureai-agent/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func userMessage(text string) models.Message {
	return models.NewTextMessage(models.RoleUser, text, "")
}

func TestGetOrCreateEmptyID(t *testing.T) {
	s := NewMemoryStore(Options{})

	id1, th1 := s.GetOrCreate("")
	id2, _ := s.GetOrCreate("")

	assert.NotEmpty(t, id1)
	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 0, th1.Len())
	assert.Equal(t, 2, s.Len())
}

func TestGetOrCreateUnknownID(t *testing.T) {
	s := NewMemoryStore(Options{})

	id, th := s.GetOrCreate("session-abc")
	assert.Equal(t, "session-abc", id)
	assert.Equal(t, 0, th.Len())

	_, ok := s.Get("session-abc")
	assert.True(t, ok)
}

func TestGetOrCreateIdempotent(t *testing.T) {
	s := NewMemoryStore(Options{})
	id, th := s.GetOrCreate("")
	th.Append(userMessage("hello"))
	s.Put(id, th)

	_, a := s.GetOrCreate(id)
	_, b := s.GetOrCreate(id)
	assert.Equal(t, a.Messages, b.Messages)

	// Mutating a returned copy does not leak into the store.
	a.Append(userMessage("not stored"))
	_, c := s.GetOrCreate(id)
	assert.Equal(t, 1, c.Len())
}

func TestPutContinuity(t *testing.T) {
	s := NewMemoryStore(Options{})
	id, th := s.GetOrCreate("")
	th.Append(userMessage("first"), models.NewTextMessage(models.RoleAssistant, "reply", "AzureAssistant"))
	s.Put(id, th)

	_, next := s.GetOrCreate(id)
	require.Equal(t, 2, next.Len())
	assert.Equal(t, "first", next.Messages[0].Text())
	assert.Equal(t, "reply", next.Messages[1].Text())

	// The caller's thread stays independent of the stored copy.
	th.Append(userMessage("after put"))
	stored, _ := s.Get(id)
	assert.Equal(t, 2, stored.Len())
}

func TestLockSerializesSameSession(t *testing.T) {
	s := NewMemoryStore(Options{})
	ctx := context.Background()

	unlock, err := s.Lock(ctx, "s1")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		u, err := s.Lock(ctx, "s1")
		if err == nil {
			close(acquired)
			u()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first is held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	unlock() // releasing twice is a no-op

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired")
	}
}

func TestLockDistinctSessionsDoNotContend(t *testing.T) {
	s := NewMemoryStore(Options{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	u1, err := s.Lock(ctx, "a")
	require.NoError(t, err)
	defer u1()

	u2, err := s.Lock(ctx, "b")
	require.NoError(t, err)
	u2()
}

func TestLockHonorsContext(t *testing.T) {
	s := NewMemoryStore(Options{})
	unlock, err := s.Lock(context.Background(), "s1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Lock(ctx, "s1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConcurrentTurnsKeepEveryMessage(t *testing.T) {
	s := NewMemoryStore(Options{})
	ctx := context.Background()
	const turns = 50

	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			unlock, err := s.Lock(ctx, "shared")
			if err != nil {
				return
			}
			defer unlock()
			_, th := s.GetOrCreate("shared")
			th.Append(userMessage(fmt.Sprintf("turn %d", i)))
			s.Put("shared", th)
		}(i)
	}
	wg.Wait()

	th, ok := s.Get("shared")
	require.True(t, ok)
	assert.Equal(t, turns, th.Len())
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	s := NewMemoryStore(Options{MaxEntries: 2})

	s.GetOrCreate("a")
	s.GetOrCreate("b")
	s.GetOrCreate("a") // a is now most recent
	s.GetOrCreate("c")

	assert.Equal(t, 2, s.Len())
	_, okA := s.Get("a")
	_, okB := s.Get("b")
	_, okC := s.Get("c")
	assert.True(t, okA)
	assert.False(t, okB)
	assert.True(t, okC)
}

func TestEvictionSkipsLockedSessions(t *testing.T) {
	s := NewMemoryStore(Options{MaxEntries: 1})

	unlock, err := s.Lock(context.Background(), "busy")
	require.NoError(t, err)

	s.GetOrCreate("other")
	_, ok := s.Get("busy")
	assert.True(t, ok, "locked session must survive capacity eviction")

	unlock()
	assert.Equal(t, 1, s.Len())
}

func TestSweepDropsIdleSessions(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewMemoryStore(Options{IdleTTL: time.Hour, Now: clock.Now})

	s.GetOrCreate("old")
	clock.Advance(30 * time.Minute)
	s.GetOrCreate("fresh")
	unlock, err := s.Lock(context.Background(), "held")
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	assert.Equal(t, 2, s.Sweep())

	_, ok := s.Get("held")
	assert.True(t, ok)
	unlock()
	assert.Equal(t, 1, s.Len())
}

func TestSweepDisabledWithoutTTL(t *testing.T) {
	s := NewMemoryStore(Options{})
	s.GetOrCreate("a")
	assert.Equal(t, 0, s.Sweep())
}

func TestRunStopsOnCancel(t *testing.T) {
	var resized atomic.Int32
	s := NewMemoryStore(Options{
		IdleTTL:       time.Nanosecond,
		SweepInterval: 5 * time.Millisecond,
		OnResize:      func(int) { resized.Add(1) },
	})
	s.GetOrCreate("a")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.GreaterOrEqual(t, resized.Load(), int32(2))
}
