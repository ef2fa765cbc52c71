package authz

import (
	"context"
	"testing"
	"time"
)

func TestPermissionCacheRoundTrip(t *testing.T) {
	store := &stubStore{closure: map[string][]string{"p1": {"a:b", "c:d"}}}
	backend := newMapCache()
	pc := NewPermissionCache(backend, store, time.Minute)
	ctx := context.Background()

	first, err := pc.Permissions(ctx, "p1")
	if err != nil {
		t.Fatalf("first lookup: %v", err)
	}
	if _, ok := first["a:b"]; !ok {
		t.Fatalf("expected a:b in closure, got %v", first)
	}
	if backend.setCalls != 1 {
		t.Fatalf("expected one cache write, got %d", backend.setCalls)
	}

	second, err := pc.Permissions(ctx, "p1")
	if err != nil {
		t.Fatalf("second lookup: %v", err)
	}
	if len(second) != 2 || store.closureCalls != 1 {
		t.Fatalf("expected cached result, closure computed %d times", store.closureCalls)
	}
}

func TestPermissionCacheCorruptEntryRecomputes(t *testing.T) {
	store := &stubStore{closure: map[string][]string{"p1": {"a:b"}}}
	backend := newMapCache()
	backend.data[permKeyPrefix+"p1"] = []byte("{not json")
	pc := NewPermissionCache(backend, store, time.Minute)

	perms, err := pc.Permissions(context.Background(), "p1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if _, ok := perms["a:b"]; !ok {
		t.Fatalf("corrupt cache entry must fall through to the store, got %v", perms)
	}
}

func TestPermissionCacheNilBackend(t *testing.T) {
	store := &stubStore{closure: map[string][]string{"p1": {"a:b"}}}
	pc := NewPermissionCache(nil, store, time.Minute)
	ctx := context.Background()

	perms, err := pc.Permissions(ctx, "p1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if _, ok := perms["a:b"]; !ok {
		t.Fatalf("expected store result, got %v", perms)
	}
	if err := pc.Invalidate(ctx, "p1"); err != nil {
		t.Fatalf("invalidate without backend: %v", err)
	}
	if err := pc.InvalidateAll(ctx); err != nil {
		t.Fatalf("invalidate all without backend: %v", err)
	}
}

func TestInvalidateAllDropsOnlyPermissionKeys(t *testing.T) {
	store := &stubStore{closure: map[string][]string{"p1": {"a:b"}}}
	backend := newMapCache()
	backend.data["unrelated"] = []byte("keep")
	pc := NewPermissionCache(backend, store, time.Minute)
	ctx := context.Background()

	if _, err := pc.Permissions(ctx, "p1"); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	if err := pc.InvalidateAll(ctx); err != nil {
		t.Fatalf("invalidate all: %v", err)
	}
	if _, ok := backend.data[permKeyPrefix+"p1"]; ok {
		t.Fatal("expected permission key to be dropped")
	}
	if _, ok := backend.data["unrelated"]; !ok {
		t.Fatal("unrelated keys must survive prefix invalidation")
	}
}
