package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/docutag/brandscan/models"
)

func setupCache(t *testing.T, ttl time.Duration) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(Config{Addr: mr.Addr(), TTL: ttl})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestSetAndGet(t *testing.T) {
	c, mr := setupCache(t, time.Hour)
	ctx := context.Background()

	e := &models.Extraction{
		ID:       "abc",
		URL:      "https://glowstudio.com",
		Record:   models.BrandRecord{Name: "Glow Studio", Handle: "glow-studio"},
		Warnings: []string{"scraping provider unavailable, fetched page directly"},
	}
	if err := c.Set(ctx, e); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if !mr.Exists(KeyPrefix + "https://glowstudio.com") {
		t.Fatal("expected key under the extraction prefix")
	}
	if ttl := mr.TTL(KeyPrefix + "https://glowstudio.com"); ttl != time.Hour {
		t.Errorf("ttl = %v, want 1h", ttl)
	}

	got, ok, err := c.Get(ctx, "https://glowstudio.com")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if got.ID != "abc" || got.Record.Name != "Glow Studio" || len(got.Warnings) != 1 {
		t.Errorf("unexpected extraction %+v", got)
	}
}

func TestGetMiss(t *testing.T) {
	c, _ := setupCache(t, 0)

	got, ok, err := c.Get(context.Background(), "https://nothing.example")
	if err != nil || ok || got != nil {
		t.Errorf("Get() = %v, %v, %v; want miss", got, ok, err)
	}
}

func TestExpiry(t *testing.T) {
	c, mr := setupCache(t, time.Minute)
	ctx := context.Background()

	c.Set(ctx, &models.Extraction{ID: "1", URL: "https://a.example"})
	mr.FastForward(2 * time.Minute)

	if _, ok, _ := c.Get(ctx, "https://a.example"); ok {
		t.Error("expected entry to expire")
	}
}

func TestDefaultTTL(t *testing.T) {
	c, mr := setupCache(t, 0)
	c.Set(context.Background(), &models.Extraction{ID: "1", URL: "https://a.example"})

	if ttl := mr.TTL(KeyPrefix + "https://a.example"); ttl != DefaultTTL {
		t.Errorf("ttl = %v, want %v", ttl, DefaultTTL)
	}
}

func TestCorruptEntryIsAMiss(t *testing.T) {
	c, mr := setupCache(t, time.Hour)
	mr.Set(KeyPrefix+"https://a.example", "{not json")

	if _, ok, err := c.Get(context.Background(), "https://a.example"); ok || err != nil {
		t.Errorf("Get() = %v, %v; want silent miss", ok, err)
	}
	if mr.Exists(KeyPrefix + "https://a.example") {
		t.Error("corrupt entry should be removed")
	}
}

func TestDelete(t *testing.T) {
	c, mr := setupCache(t, time.Hour)
	ctx := context.Background()

	c.Set(ctx, &models.Extraction{ID: "1", URL: "https://a.example"})
	if err := c.Delete(ctx, "https://a.example"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if mr.Exists(KeyPrefix + "https://a.example") {
		t.Error("entry still present after delete")
	}
}

func TestNewErrors(t *testing.T) {
	if _, err := New(Config{}); err != ErrEmptyAddress {
		t.Errorf("expected ErrEmptyAddress, got %v", err)
	}

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	if _, err := New(Config{Addr: addr}); err == nil {
		t.Error("expected ping failure against a closed server")
	}
}
