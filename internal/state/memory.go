package state

import (
	"context"
	"sort"
	"sync"
	"time"

	"marketplace-dispatch/internal/domain"
)

// MemoryStore keeps notification states in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*domain.NotificationState
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*domain.NotificationState)}
}

// Get returns a copy of the state, or (nil, nil) when there is none.
func (s *MemoryStore) Get(_ context.Context, orderID string) (*domain.NotificationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[orderID].Clone(), nil
}

// Save stores a copy of st.
func (s *MemoryStore) Save(_ context.Context, st *domain.NotificationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.OrderID] = st.Clone()
	return nil
}

// Delete removes the state of an order.
func (s *MemoryStore) Delete(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, orderID)
	return nil
}

// Expired returns the orders whose round was offered before the given time, oldest first.
func (s *MemoryStore) Expired(_ context.Context, before time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type entry struct {
		id string
		at time.Time
	}
	found := make([]entry, 0)
	for id, st := range s.states {
		if st.OfferedAt.Before(before) {
			found = append(found, entry{id: id, at: st.OfferedAt})
		}
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].at.Equal(found[j].at) {
			return found[i].id < found[j].id
		}
		return found[i].at.Before(found[j].at)
	})

	out := make([]string, 0, len(found))
	for _, e := range found {
		out = append(out, e.id)
	}
	return out, nil
}

// MemoryLocker is a keyed mutex for single-instance deployments.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

// NewMemoryLocker creates a MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*keyLock)}
}

// Lock blocks until the key is free or ctx is done. The returned func releases the lock.
func (l *MemoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{sem: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.sem
			l.release(key, kl)
		})
	}, nil
}

func (l *MemoryLocker) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}
