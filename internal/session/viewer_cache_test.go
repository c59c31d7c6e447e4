package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"coursetalk/api/internal/comments"
)

func setupTestCache(t *testing.T, ttl time.Duration) (*ViewerCache, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	cache, err := NewViewerCache("redis://"+s.Addr(), ttl)
	if err != nil {
		t.Fatalf("failed to create viewer cache: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })
	return cache, s
}

func TestNewViewerCache(t *testing.T) {
	cache, _ := setupTestCache(t, time.Minute)
	if err := cache.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewViewerCacheRejectsBadURL(t *testing.T) {
	if _, err := NewViewerCache("not a url", time.Minute); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSetAndGetViewer(t *testing.T) {
	cache, _ := setupTestCache(t, time.Minute)
	ctx := context.Background()

	viewer := comments.Viewer{UserID: "user-1", Name: "Ada", IsAdmin: true, IsSuspended: true, SuspensionReason: "spam"}
	if err := cache.Set(ctx, viewer); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, ok, err := cache.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got != viewer {
		t.Fatalf("expected %+v, got %+v", viewer, got)
	}
}

func TestGetMiss(t *testing.T) {
	cache, _ := setupTestCache(t, time.Minute)

	_, ok, err := cache.Get(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Fatal("expected cache miss")
	}
}

func TestViewerExpires(t *testing.T) {
	cache, s := setupTestCache(t, 10*time.Second)
	ctx := context.Background()

	if err := cache.Set(ctx, comments.Viewer{UserID: "user-2"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	s.FastForward(11 * time.Second)

	if _, ok, _ := cache.Get(ctx, "user-2"); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestInvalidate(t *testing.T) {
	cache, _ := setupTestCache(t, time.Minute)
	ctx := context.Background()

	if err := cache.Set(ctx, comments.Viewer{UserID: "user-3"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := cache.Invalidate(ctx, "user-3"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if _, ok, _ := cache.Get(ctx, "user-3"); ok {
		t.Fatal("expected entry to be gone")
	}
}

func TestAnonymousViewerIsNotCached(t *testing.T) {
	cache, s := setupTestCache(t, time.Minute)

	if err := cache.Set(context.Background(), comments.Viewer{}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if keys := s.Keys(); len(keys) != 0 {
		t.Fatalf("expected no keys, got %v", keys)
	}
}

func TestGetCorruptEntry(t *testing.T) {
	cache, s := setupTestCache(t, time.Minute)
	if err := s.Set("viewer:user-4", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, _, err := cache.Get(context.Background(), "user-4"); err == nil {
		t.Fatal("expected unmarshal error")
	}
}
