package cache

import (
	"testing"
	"time"

	"github.com/depthslice/server/internal/store"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{PNGCacheSizeMB: 8, PNGTTL: time.Minute, InfoCacheSize: 8})
	if err != nil {
		t.Fatalf("failed to create cache manager: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestSliceKey(t *testing.T) {
	base := SliceKey("img_10_150", 1, 2, "viridis", "index", 1)

	t.Run("stable", func(t *testing.T) {
		if got := SliceKey("img_10_150", 1, 2, "viridis", "index", 1); got != base {
			t.Fatalf("expected stable key, got %q vs %q", got, base)
		}
	})

	t.Run("optionsChangeKey", func(t *testing.T) {
		variants := []string{
			SliceKey("img_10_150", 1, 2, "gray", "index", 1),
			SliceKey("img_10_150", 1, 2, "viridis", "minmax", 1),
			SliceKey("img_10_150", 1, 2, "viridis", "index", 2),
			SliceKey("img_10_150", 1, 2.5, "viridis", "index", 1),
			SliceKey("img_10_151", 1, 2, "viridis", "index", 1),
		}
		for _, v := range variants {
			if v == base {
				t.Fatalf("expected key %q to differ from base", v)
			}
		}
	})
}

func TestPNGCacheRoundTrip(t *testing.T) {
	m := newTestManager(t)
	key := SliceKey("img", 0, 1, "viridis", "index", 1)

	if _, ok := m.GetPNG(key); ok {
		t.Fatalf("expected miss on empty cache")
	}
	if err := m.SetPNG(key, []byte("png")); err != nil {
		t.Fatalf("SetPNG failed: %v", err)
	}
	data, ok := m.GetPNG(key)
	if !ok || string(data) != "png" {
		t.Fatalf("expected hit with stored bytes, got %q ok=%v", data, ok)
	}
}

func TestInvalidate(t *testing.T) {
	m := newTestManager(t)
	key := SliceKey("img", 0, 1, "viridis", "index", 1)

	if err := m.SetPNG(key, []byte("png")); err != nil {
		t.Fatalf("SetPNG failed: %v", err)
	}
	m.SetInfo(store.Info{Name: "img", Rows: 3, Cols: 150})

	if _, ok := m.GetInfo("img"); !ok {
		t.Fatalf("expected info hit before invalidate")
	}
	if err := m.Invalidate(); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if _, ok := m.GetPNG(key); ok {
		t.Fatalf("expected png miss after invalidate")
	}
	if _, ok := m.GetInfo("img"); ok {
		t.Fatalf("expected info miss after invalidate")
	}
}
