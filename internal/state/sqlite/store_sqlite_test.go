package sqlite

import (
	"context"
	"path/filepath"
	"testing"
)

func TestStoreRoundTrip(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Set(ctx, "cycle:last_snapshot", "{}"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := store.Set(ctx, "cycle:last_snapshot", `{"opportunity":true}`); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	val, ok, err := store.Get(ctx, "cycle:last_snapshot")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !ok || val != `{"opportunity":true}` {
		t.Fatalf("unexpected value: %v (ok=%v)", val, ok)
	}
	if err := store.Delete(ctx, "cycle:last_snapshot"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	_, ok, err = store.Get(ctx, "cycle:last_snapshot")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if ok {
		t.Fatalf("expected key to be deleted")
	}
}

func TestStoreKeysByPrefix(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	for _, key := range []string{"order:1", "order:2", "cycle:last_snapshot"} {
		if err := store.Set(ctx, key, "x"); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}
	keys, err := store.Keys(ctx, "order:")
	if err != nil {
		t.Fatalf("keys failed: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 order keys, got %v", keys)
	}
	if keys[0] != "order:2" {
		t.Fatalf("expected newest key first, got %v", keys)
	}
}

func TestStoreCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "bot.db")
	store, err := New(path)
	if err != nil {
		t.Fatalf("failed to open store in nested dir: %v", err)
	}
	defer store.Close()
	if err := store.Set(context.Background(), "k", "v"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
}
