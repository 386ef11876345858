package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"bountyWeb/internal/models"
)

// PendingIntentKey is the well-known storage slot name, suffixed by session id.
const PendingIntentKey = "bb_pending_intent"

// IntentStore keeps at most one pending intent per session.
type IntentStore interface {
	Save(ctx context.Context, sessionID string, intent models.PendingIntent) error
	Load(ctx context.Context, sessionID string) (*models.PendingIntent, error)
	Clear(ctx context.Context, sessionID string) error
}

func intentKey(sessionID string) string {
	return fmt.Sprintf("%s:%s", PendingIntentKey, sessionID)
}

// EncodeIntent serialises a valid intent.
func EncodeIntent(intent models.PendingIntent) ([]byte, error) {
	intent.CreatedAt = intent.CreatedAt.UTC()
	if err := intent.Validate(); err != nil {
		return nil, fmt.Errorf("encode intent: %w", err)
	}
	return json.Marshal(intent)
}

// DecodeIntent parses stored bytes. Malformed JSON, wrong-typed or missing
// fields all yield ok=false instead of an error.
func DecodeIntent(data []byte) (*models.PendingIntent, bool) {
	if len(data) == 0 {
		return nil, false
	}
	var intent models.PendingIntent
	if err := json.Unmarshal(data, &intent); err != nil {
		return nil, false
	}
	if err := intent.Validate(); err != nil {
		return nil, false
	}
	return &intent, true
}

// ------- redis -------

type RedisIntentStore struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisIntentStore(rdb redis.Cmdable, ttl time.Duration, logger *slog.Logger) *RedisIntentStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisIntentStore{rdb: rdb, ttl: ttl, logger: logger}
}

func (s *RedisIntentStore) Save(ctx context.Context, sessionID string, intent models.PendingIntent) error {
	data, err := EncodeIntent(intent)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, intentKey(sessionID), string(data), s.ttl).Err()
}

func (s *RedisIntentStore) Load(ctx context.Context, sessionID string) (*models.PendingIntent, error) {
	key := intentKey(sessionID)
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load intent: %w", err)
	}
	intent, ok := DecodeIntent(raw)
	if !ok {
		s.logger.Warn("dropping malformed pending intent", "key", key)
		if err := s.rdb.Del(ctx, key).Err(); err != nil {
			s.logger.Error("drop malformed intent", "key", key, "err", err)
		}
		return nil, nil
	}
	return intent, nil
}

func (s *RedisIntentStore) Clear(ctx context.Context, sessionID string) error {
	return s.rdb.Del(ctx, intentKey(sessionID)).Err()
}

// ------- memory -------

// MemoryIntentStore keeps encoded intents in process memory. It is used for
// single-instance deployments without Redis and in tests.
type MemoryIntentStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemoryIntentStore() *MemoryIntentStore {
	return &MemoryIntentStore{data: make(map[string][]byte)}
}

func (s *MemoryIntentStore) Save(_ context.Context, sessionID string, intent models.PendingIntent) error {
	data, err := EncodeIntent(intent)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[intentKey(sessionID)] = data
	return nil
}

func (s *MemoryIntentStore) Load(_ context.Context, sessionID string) (*models.PendingIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := intentKey(sessionID)
	raw, ok := s.data[key]
	if !ok {
		return nil, nil
	}
	intent, ok := DecodeIntent(raw)
	if !ok {
		delete(s.data, key)
		return nil, nil
	}
	return intent, nil
}

func (s *MemoryIntentStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, intentKey(sessionID))
	return nil
}
