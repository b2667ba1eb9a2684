package factory

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestFromEnv_SQLite(t *testing.T) {
	t.Setenv("STATE_BACKEND", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "nested", "state.db"))

	s, err := FromEnv(context.Background())
	if err != nil {
		t.Fatalf("FromEnv sqlite failed: %v", err)
	}
	if s == nil {
		t.Fatal("expected sqlite store")
	}
	defer s.Close()
}

func TestNew_None(t *testing.T) {
	s, err := New(context.Background(), Config{Backend: "NONE"})
	if err != nil || s != nil {
		t.Fatalf("expected nil store without error, got %v %v", s, err)
	}
}

func TestNew_RedisUnavailable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := New(ctx, Config{Backend: "redis", RedisAddr: "127.0.0.1:1"}); err == nil {
		t.Fatal("expected ping failure")
	}
}

func TestFromEnv_InvalidBackend(t *testing.T) {
	t.Setenv("STATE_BACKEND", "hybrid")
	if _, err := FromEnv(context.Background()); err == nil {
		t.Fatal("expected error for invalid backend")
	}
}
