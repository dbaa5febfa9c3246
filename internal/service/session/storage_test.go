package session

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func exerciseStorage(t *testing.T, store Storage) {
	t.Helper()
	ctx := context.Background()

	if _, err := store.Load(ctx, "state"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Save(ctx, "state", []byte(`{"isActive":true}`)); err != nil {
		t.Fatalf("Save err: %v", err)
	}
	got, err := store.Load(ctx, "state")
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if string(got) != `{"isActive":true}` {
		t.Fatalf("unexpected value %s", got)
	}
	if err := store.Delete(ctx, "state"); err != nil {
		t.Fatalf("Delete err: %v", err)
	}
	if _, err := store.Load(ctx, "state"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStorage(t *testing.T) {
	exerciseStorage(t, NewMemoryStorage())
}

func TestMemoryStorageCopiesValues(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()
	value := []byte("abc")
	_ = store.Save(ctx, "k", value)
	value[0] = 'x'

	got, _ := store.Load(ctx, "k")
	if string(got) != "abc" {
		t.Fatalf("storage kept caller slice: %s", got)
	}
}

func TestRedisStorage(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set, skipping redis storage test")
	}

	store, err := NewRedisStorage(context.Background(), url, "collab-test:", time.Minute)
	if err != nil {
		t.Fatalf("NewRedisStorage err: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	exerciseStorage(t, store)
}

func TestNewRedisStorageRejectsEmptyURL(t *testing.T) {
	if _, err := NewRedisStorage(context.Background(), "", "", time.Minute); err == nil {
		t.Fatal("expected error for empty url")
	}
}
