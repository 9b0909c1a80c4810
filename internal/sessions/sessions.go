// Package sessions provides in-memory conversation state for multi-turn
// chat sessions, keyed by session id.
//
// Each session owns an advisory lock that serializes generations for that
// id; distinct sessions never contend. The store is bounded by an LRU
// capacity and an idle TTL, and entries whose lock is held or awaited are
// never evicted.
package sessions

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/microsoft/secure-azureai-agent/pkg/models"
	"github.com/rs/zerolog/log"
)

// Defaults applied by NewMemoryStore when the corresponding option is unset.
const (
	DefaultSweepInterval = time.Minute
)

// Options configures a MemoryStore. Zero MaxEntries or IdleTTL disables that
// bound.
type Options struct {
	MaxEntries    int
	IdleTTL       time.Duration
	SweepInterval time.Duration

	// OnResize is called with the new session count after every change.
	OnResize func(size int)
	// Now overrides the clock, for tests.
	Now func() time.Time
}

type entry struct {
	id         string
	thread     *models.Thread
	lastAccess time.Time
	sem        chan struct{} // capacity 1: held while a generation runs
	refs       int           // lock holders plus waiters
	elem       *list.Element
}

// MemoryStore is a thread-safe in-memory session store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
	lru     *list.List // front is most recently used

	maxEntries    int
	idleTTL       time.Duration
	sweepInterval time.Duration
	onResize      func(int)
	now           func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts Options) *MemoryStore {
	s := &MemoryStore{
		entries:       make(map[string]*entry),
		lru:           list.New(),
		maxEntries:    opts.MaxEntries,
		idleTTL:       opts.IdleTTL,
		sweepInterval: opts.SweepInterval,
		onResize:      opts.OnResize,
		now:           opts.Now,
	}
	if s.sweepInterval <= 0 {
		s.sweepInterval = DefaultSweepInterval
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// GetOrCreate returns the thread stored under id. An empty id yields a new
// random id, and an unknown id yields an empty thread registered under that
// id. The returned thread is a copy: appending to it does not change the
// store until Put.
func (s *MemoryStore) GetOrCreate(id string) (string, *models.Thread) {
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	e, created := s.touch(id)
	th := e.thread.Clone()
	var size int
	if created {
		s.evictOverflow()
		size = len(s.entries)
	}
	s.mu.Unlock()

	if created {
		s.resized(size)
	}
	return id, th
}

// Get returns a copy of the thread stored under id without creating it.
func (s *MemoryStore) Get(id string) (*models.Thread, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	return e.thread.Clone(), true
}

// Put replaces the thread stored under id with a copy of th.
func (s *MemoryStore) Put(id string, th *models.Thread) {
	s.mu.Lock()
	e, created := s.touch(id)
	e.thread = th.Clone()
	var size int
	if created {
		s.evictOverflow()
		size = len(s.entries)
	}
	s.mu.Unlock()

	if created {
		s.resized(size)
	}
}

// Lock acquires the advisory lock of session id, waiting until it is free or
// ctx is done. The returned function releases the lock and is safe to call
// more than once.
func (s *MemoryStore) Lock(ctx context.Context, id string) (func(), error) {
	s.mu.Lock()
	e, created := s.touch(id)
	e.refs++
	var size int
	if created {
		s.evictOverflow()
		size = len(s.entries)
	}
	s.mu.Unlock()
	if created {
		s.resized(size)
	}

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		s.release(e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			s.release(e)
		})
	}, nil
}

// Len returns the number of stored sessions.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep drops sessions idle for longer than the TTL and returns how many
// were removed.
func (s *MemoryStore) Sweep() int {
	if s.idleTTL <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	removed := 0
	for el := s.lru.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*entry)
		if e.refs == 0 && e.lastAccess.Before(cutoff) {
			s.remove(e)
			removed++
		}
		el = prev
	}
	size := len(s.entries)
	s.mu.Unlock()

	if removed > 0 {
		s.resized(size)
	}
	return removed
}

// Run sweeps idle sessions on every interval tick. It blocks until ctx is
// canceled.
func (s *MemoryStore) Run(ctx context.Context) {
	log.Info().
		Dur("interval", s.sweepInterval).
		Dur("idle_ttl", s.idleTTL).
		Int("max_entries", s.maxEntries).
		Msg("Session sweeper started")

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Session sweeper stopped")
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				log.Debug().Int("evicted", n).Int("remaining", s.Len()).Msg("Idle sessions evicted")
			}
		}
	}
}

// touch returns the entry for id, creating it when absent, and marks it
// most recently used. Callers hold s.mu.
func (s *MemoryStore) touch(id string) (*entry, bool) {
	now := s.now()
	if e, ok := s.entries[id]; ok {
		e.lastAccess = now
		s.lru.MoveToFront(e.elem)
		return e, false
	}
	e := &entry{
		id:         id,
		thread:     models.NewThread(),
		lastAccess: now,
		sem:        make(chan struct{}, 1),
	}
	e.elem = s.lru.PushFront(e)
	s.entries[id] = e
	return e, true
}

func (s *MemoryStore) release(e *entry) {
	s.mu.Lock()
	e.refs--
	e.lastAccess = s.now()
	if _, ok := s.entries[e.id]; ok {
		s.lru.MoveToFront(e.elem)
	}
	removed := s.evictOverflow()
	size := len(s.entries)
	s.mu.Unlock()

	if removed > 0 {
		s.resized(size)
	}
}

// evictOverflow drops least recently used unlocked entries until the store
// fits its capacity. The most recently used entry is always kept. Callers
// hold s.mu.
func (s *MemoryStore) evictOverflow() int {
	if s.maxEntries <= 0 {
		return 0
	}
	removed := 0
	front := s.lru.Front()
	for el := s.lru.Back(); el != nil && el != front && len(s.entries) > s.maxEntries; {
		prev := el.Prev()
		if e := el.Value.(*entry); e.refs == 0 {
			s.remove(e)
			removed++
		}
		el = prev
	}
	return removed
}

func (s *MemoryStore) remove(e *entry) {
	s.lru.Remove(e.elem)
	delete(s.entries, e.id)
}

func (s *MemoryStore) resized(size int) {
	if s.onResize != nil {
		s.onResize(size)
	}
}
