package gateway

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// semaphoreMap lazily owns one counting semaphore per model key. The mutex
// guards only the lookup-and-insert of a single map entry; it is never held
// across an Acquire (spec.md §5, §9).
type semaphoreMap struct {
	mu sync.Mutex
	m  map[ModelKey]*semaphore.Weighted
}

func newSemaphoreMap() *semaphoreMap {
	return &semaphoreMap{m: make(map[ModelKey]*semaphore.Weighted)}
}

func (s *semaphoreMap) get(key ModelKey) *semaphore.Weighted {
	s.mu.Lock()
	sem, ok := s.m[key]
	if !ok {
		sem = semaphore.NewWeighted(permitLimit(key))
		s.m[key] = sem
	}
	s.mu.Unlock()
	return sem
}

// acquire blocks up to timeout trying to acquire one permit for key.
func (s *semaphoreMap) acquire(ctx context.Context, key ModelKey, timeout time.Duration) (release func(), err error) {
	sem := s.get(key)
	acquireCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := sem.Acquire(acquireCtx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}
