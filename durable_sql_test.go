package bucketcache

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openSQLDurable(t *testing.T, path string) *SQLDurableStore {
	t.Helper()
	store, err := NewSQLDurableStore(SQLDurableConfig{DSN: path})
	if err != nil {
		t.Fatalf("open durable store failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLDurablePutGetDelete(t *testing.T) {
	ctx := context.Background()
	store := openSQLDurable(t, filepath.Join(t.TempDir(), "cache.db"))
	expiry := time.Now().Add(time.Hour).Truncate(time.Millisecond)

	if err := store.Put(ctx, "metadata", "id1", []byte(`{"a":1}`), expiry); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	rec, ok, err := store.Get(ctx, "metadata", "id1")
	if err != nil || !ok {
		t.Fatalf("get failed: ok=%v err=%v", ok, err)
	}
	if string(rec.Payload) != `{"a":1}` {
		t.Fatalf("payload mismatch: %q", rec.Payload)
	}
	if !rec.ExpiresAt.Equal(expiry) {
		t.Fatalf("expiry mismatch: want %v got %v", expiry, rec.ExpiresAt)
	}

	if err := store.Delete(ctx, "metadata", "id1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, ok, err := store.Get(ctx, "metadata", "id1"); err != nil || ok {
		t.Fatalf("expected row gone: ok=%v err=%v", ok, err)
	}
}

func TestSQLDurableUpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	store := openSQLDurable(t, filepath.Join(t.TempDir(), "cache.db"))

	_ = store.Put(ctx, "metadata", "id1", []byte("v1"), time.Now().Add(time.Hour))
	if err := store.Put(ctx, "metadata", "id1", []byte("v2"), time.Now().Add(2*time.Hour)); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	rec, ok, err := store.Get(ctx, "metadata", "id1")
	if err != nil || !ok {
		t.Fatalf("get failed: ok=%v err=%v", ok, err)
	}
	if string(rec.Payload) != "v2" {
		t.Fatalf("expected overwrite, got %q", rec.Payload)
	}
}

func TestSQLDurableClearIsScopedToBucket(t *testing.T) {
	ctx := context.Background()
	store := openSQLDurable(t, filepath.Join(t.TempDir(), "cache.db"))

	_ = store.Put(ctx, "metadata", "a", []byte("1"), time.Now().Add(time.Hour))
	_ = store.Put(ctx, "infolabels", "b", []byte("2"), time.Now().Add(time.Hour))

	if err := store.Clear(ctx, "metadata"); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "metadata", "a"); ok {
		t.Fatal("expected cleared bucket empty")
	}
	if _, ok, _ := store.Get(ctx, "infolabels", "b"); !ok {
		t.Fatal("expected other bucket untouched")
	}
}

func TestSQLDurableListAll(t *testing.T) {
	ctx := context.Background()
	store := openSQLDurable(t, filepath.Join(t.TempDir(), "cache.db"))

	for _, id := range []string{"x", "y", "z"} {
		_ = store.Put(ctx, "metadata", id, []byte(id), time.Now().Add(time.Hour))
	}
	_ = store.Put(ctx, "infolabels", "other", []byte("o"), time.Now().Add(time.Hour))

	records, err := store.ListAll(ctx, "metadata")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(records))
	}
}

func TestSQLDurableSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	first := openSQLDurable(t, path)
	if err := first.Put(ctx, "metadata", "kept", []byte("v"), time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	second := openSQLDurable(t, path)
	rec, ok, err := second.Get(ctx, "metadata", "kept")
	if err != nil || !ok {
		t.Fatalf("expected row after reopen: ok=%v err=%v", ok, err)
	}
	if string(rec.Payload) != "v" {
		t.Fatalf("payload mismatch: %q", rec.Payload)
	}
}

func TestSQLDurableBackedStoreEndToEnd(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	durable := openSQLDurable(t, path)
	store, err := NewStore(ctx, testRegistry(t), WithDurableStore(durable))
	if err != nil {
		t.Fatalf("store failed: %v", err)
	}
	if err := store.Add(ctx, "metadata", "show", []byte("payload"), time.Hour, time.Time{}); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	reborn, err := NewStore(ctx, testRegistry(t), WithDurableStore(durable))
	if err != nil {
		t.Fatalf("restart store failed: %v", err)
	}
	got, err := reborn.Get(ctx, "metadata", "show")
	if err != nil {
		t.Fatalf("expected hydrated entry, got %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("payload mismatch: %q", got)
	}
}

func TestSQLDurableRejectsBadTableName(t *testing.T) {
	_, err := NewSQLDurableStore(SQLDurableConfig{
		DSN:   filepath.Join(t.TempDir(), "cache.db"),
		Table: "cache; drop table users",
	})
	if err == nil {
		t.Fatal("expected invalid table name rejected")
	}
	if errors.Is(err, ErrDurable) {
		// Construction errors are plain; ErrDurable is reserved for runtime
		// mirror failures.
		t.Fatalf("unexpected error class: %v", err)
	}
}
