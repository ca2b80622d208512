package license

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/christian-schlichtherle/truelicense-sub000/internal/store"
)

// NoExpiry is a cache period that never elapses
const NoExpiry = time.Duration(math.MaxInt64)

// cacheEntry associates one value with one source for a period of time.
// Entries are immutable. The empty entry has a zero period and is always
// obsolete.
type cacheEntry[V any] struct {
	key     store.Source
	value   V
	created time.Time
	period  time.Duration
}

func (e *cacheEntry[V]) hasKey(key store.Source) bool {
	return store.Same(e.key, key)
}

func (e *cacheEntry[V]) obsolete(now time.Time) bool {
	if e.period == NoExpiry {
		return false
	}
	return now.Sub(e.created) >= e.period
}

// mapKey returns the value if key matches and the entry is not obsolete
func (e *cacheEntry[V]) mapKey(key store.Source, now time.Time) (V, bool) {
	if e.hasKey(key) && !e.obsolete(now) {
		return e.value, true
	}
	var zero V
	return zero, false
}

// withKey returns e if it has key, or a copy associated with key whose
// period starts now
func (e *cacheEntry[V]) withKey(key store.Source, now time.Time) *cacheEntry[V] {
	if e.hasKey(key) {
		return e
	}
	return &cacheEntry[V]{key: key, value: e.value, created: now, period: e.period}
}

// cacheSlot holds the most recent entry. A stale read only causes a
// redundant computation, so the slot needs no lock.
type cacheSlot[V any] struct {
	entry  atomic.Pointer[cacheEntry[V]]
	period time.Duration
	now    func() time.Time
}

func newCacheSlot[V any](period time.Duration, now func() time.Time) *cacheSlot[V] {
	s := &cacheSlot[V]{period: period, now: now}
	s.reset()
	return s
}

func (s *cacheSlot[V]) get(key store.Source) (V, bool) {
	return s.entry.Load().mapKey(key, s.now())
}

func (s *cacheSlot[V]) put(key store.Source, value V) {
	s.entry.Store(&cacheEntry[V]{key: key, value: value, created: s.now(), period: s.period})
}

func (s *cacheSlot[V]) rekey(key store.Source) {
	s.entry.Store(s.entry.Load().withKey(key, s.now()))
}

func (s *cacheSlot[V]) reset() {
	s.entry.Store(&cacheEntry[V]{})
}
