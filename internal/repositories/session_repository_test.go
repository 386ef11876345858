package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"

	"bountyWeb/internal/models"
)

func TestRedisSessionStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	db, mock := redismock.NewClientMock()
	store := NewRedisSessionStore(db)
	store.now = func() time.Time { return now }

	session := models.Session{ID: "abc", AccessToken: "tok", ExpiresAt: now.Add(time.Hour)}
	data, _ := json.Marshal(session)

	mock.ExpectSet("bb_session:abc", string(data), time.Hour).SetVal("OK")
	mock.ExpectGet("bb_session:abc").SetVal(string(data))
	mock.ExpectDel("bb_session:abc").SetVal(1)
	mock.ExpectGet("bb_session:abc").RedisNil()

	if err := store.Create(ctx, session); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := store.Get(ctx, "abc")
	if err != nil || got.AccessToken != "tok" {
		t.Fatalf("get: %+v err=%v", got, err)
	}
	if err := store.Delete(ctx, "abc"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, "abc"); !errors.Is(err, models.ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSessionStoreRejectsExpired(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemorySessionStore()
	store.now = func() time.Time { return now }

	err := store.Create(context.Background(), models.Session{ID: "old", ExpiresAt: now.Add(-time.Second)})
	if !errors.Is(err, models.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}

	if err := store.Create(context.Background(), models.Session{ID: "new", ExpiresAt: now.Add(time.Minute)}); err != nil {
		t.Fatalf("create: %v", err)
	}
	store.now = func() time.Time { return now.Add(2 * time.Minute) }
	if _, err := store.Get(context.Background(), "new"); !errors.Is(err, models.ErrNoSession) {
		t.Fatalf("expected expired session to be gone, got %v", err)
	}
}
