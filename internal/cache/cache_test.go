package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Fatalf("empty cache error = %v", err)
	}
	if err := m.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := m.Set(ctx, "forever", "v", 0); err != nil {
		t.Fatal(err)
	}
	if v, err := m.Get(ctx, "k"); err != nil || v != "v" {
		t.Fatalf("Get = %q, %v", v, err)
	}

	now = now.Add(time.Minute)
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expired entry error = %v", err)
	}
	if _, err := m.Get(ctx, "forever"); err != nil {
		t.Fatalf("entry without ttl expired: %v", err)
	}

	n, err := m.Del(ctx, "forever", "missing")
	if err != nil || n != 1 {
		t.Fatalf("Del = %d, %v", n, err)
	}
}

func TestNoop(t *testing.T) {
	var c Cache = Noop{}
	ctx := context.Background()
	if err := c.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Fatalf("Noop Get error = %v", err)
	}
}

func TestNewRedisRejectsBadURL(t *testing.T) {
	for _, url := range []string{"", "http://localhost:6379"} {
		if _, err := NewRedis(context.Background(), url); err == nil {
			t.Fatalf("NewRedis(%q) should fail", url)
		}
	}
}
