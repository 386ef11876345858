package repositories

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MarkerStore holds "already handled" markers per session and payment reference.
type MarkerStore interface {
	// Claim sets the marker and reports whether it was not set before.
	Claim(ctx context.Context, sessionID, reference string) (bool, error)
	Release(ctx context.Context, sessionID, reference string) error
}

func markerKey(sessionID, reference string) string {
	return fmt.Sprintf("bb_handled:%s:%s", sessionID, reference)
}

type RedisMarkerStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisMarkerStore(rdb redis.Cmdable, ttl time.Duration) *RedisMarkerStore {
	return &RedisMarkerStore{rdb: rdb, ttl: ttl}
}

func (s *RedisMarkerStore) Claim(ctx context.Context, sessionID, reference string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, markerKey(sessionID, reference), 1, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim marker: %w", err)
	}
	return ok, nil
}

func (s *RedisMarkerStore) Release(ctx context.Context, sessionID, reference string) error {
	return s.rdb.Del(ctx, markerKey(sessionID, reference)).Err()
}

type MemoryMarkerStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	markers map[string]time.Time
}

func NewMemoryMarkerStore(ttl time.Duration) *MemoryMarkerStore {
	return &MemoryMarkerStore{ttl: ttl, now: time.Now, markers: make(map[string]time.Time)}
}

func (s *MemoryMarkerStore) Claim(_ context.Context, sessionID, reference string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := markerKey(sessionID, reference)
	now := s.now()
	if exp, ok := s.markers[key]; ok && (s.ttl <= 0 || now.Before(exp)) {
		return false, nil
	}
	s.markers[key] = now.Add(s.ttl)
	return true, nil
}

func (s *MemoryMarkerStore) Release(_ context.Context, sessionID, reference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.markers, markerKey(sessionID, reference))
	return nil
}

// Sweep drops expired markers and returns how many were removed.
func (s *MemoryMarkerStore) Sweep(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, exp := range s.markers {
		if !now.Before(exp) {
			delete(s.markers, key)
			removed++
		}
	}
	return removed
}
