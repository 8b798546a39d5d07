package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/paygrid/internal/domain"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("SetAndGet", func(t *testing.T) {
		err := cache.Set(ctx, tenantID, "key1", []byte("value1"), time.Minute)
		if err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, tenantID, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, tenantID, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "key2", []byte("value2"), time.Minute)

		err := cache.Delete(ctx, tenantID, "key2")
		if err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, tenantID, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "expiring", []byte("temp"), 10*time.Millisecond)

		// Should be available immediately
		val, _ := cache.Get(ctx, tenantID, "expiring")
		if val == nil {
			t.Error("expected value before expiration")
		}

		// Wait for expiration
		time.Sleep(20 * time.Millisecond)

		val, _ = cache.Get(ctx, tenantID, "expiring")
		if val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		smallCache := NewLRUCache(3)

		_ = smallCache.Set(ctx, tenantID, "a", []byte("1"), time.Minute)
		_ = smallCache.Set(ctx, tenantID, "b", []byte("2"), time.Minute)
		_ = smallCache.Set(ctx, tenantID, "c", []byte("3"), time.Minute)

		// Access 'a' to make it recently used
		_, _ = smallCache.Get(ctx, tenantID, "a")

		// Add 'd' - should evict 'b' (oldest accessed)
		_ = smallCache.Set(ctx, tenantID, "d", []byte("4"), time.Minute)

		// 'b' should be evicted
		val, _ := smallCache.Get(ctx, tenantID, "b")
		if val != nil {
			t.Error("expected 'b' to be evicted")
		}

		// 'a' should still be there
		val, _ = smallCache.Get(ctx, tenantID, "a")
		if val == nil {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		tenant1 := "tenant-001"
		tenant2 := "tenant-002"

		_ = cache.Set(ctx, tenant1, "shared-key", []byte("tenant1-value"), time.Minute)
		_ = cache.Set(ctx, tenant2, "shared-key", []byte("tenant2-value"), time.Minute)

		val1, _ := cache.Get(ctx, tenant1, "shared-key")
		val2, _ := cache.Get(ctx, tenant2, "shared-key")

		if string(val1) != "tenant1-value" {
			t.Errorf("expected 'tenant1-value', got '%s'", string(val1))
		}
		if string(val2) != "tenant2-value" {
			t.Errorf("expected 'tenant2-value', got '%s'", string(val2))
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		err := cache.Set(ctx, "", "key", []byte("value"), time.Minute)
		if err == nil {
			t.Error("expected error for empty tenantID")
		}

		_, err = cache.Get(ctx, "", "key")
		if err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("ExpiryUsesClock", func(t *testing.T) {
		clocked := NewLRUCache(10)
		now := time.Date(2025, 1, 31, 12, 0, 0, 0, time.UTC)
		clocked.now = func() time.Time { return now }

		_ = clocked.Set(ctx, tenantID, "k", []byte("v"), time.Hour)
		now = now.Add(59 * time.Minute)
		if val, _ := clocked.Get(ctx, tenantID, "k"); val == nil {
			t.Error("expected value inside TTL")
		}

		now = now.Add(2 * time.Minute)
		if val, _ := clocked.Get(ctx, tenantID, "k"); val != nil {
			t.Error("expected nil after TTL")
		}
		if size, _ := clocked.Stats(); size != 0 {
			t.Errorf("expected expired entry to be dropped, size %d", size)
		}
	})

	t.Run("ConfigurationCache", func(t *testing.T) {
		cfg := &domain.PayrollConfiguration{
			ID:       "cfg-001",
			Country:  "Kenya",
			Currency: "KES",
			Tax:      &domain.TaxConfiguration{TaxSystemType: domain.TaxFlat, Rate: domain.Float(16)},
		}

		if err := cache.SetConfiguration(ctx, tenantID, cfg, time.Minute); err != nil {
			t.Fatalf("SetConfiguration failed: %v", err)
		}

		retrieved, err := cache.GetConfiguration(ctx, tenantID, "cfg-001")
		if err != nil {
			t.Fatalf("GetConfiguration failed: %v", err)
		}
		if retrieved == nil || retrieved.Country != "Kenya" {
			t.Fatalf("unexpected configuration: %+v", retrieved)
		}
		if *retrieved.Tax.Rate != 16 {
			t.Errorf("expected rate 16, got %v", *retrieved.Tax.Rate)
		}

		miss, err := cache.GetConfiguration(ctx, "tenant-002", "cfg-001")
		if err != nil || miss != nil {
			t.Errorf("expected miss for other tenant, got %+v, %v", miss, err)
		}

		if err := cache.SetConfiguration(ctx, tenantID, &domain.PayrollConfiguration{}, time.Minute); err == nil {
			t.Error("expected error for configuration without id")
		}
	})

	t.Run("CorruptConfiguration", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, domain.ConfigurationCacheKey("bad"), []byte("{not json"), time.Minute)
		if _, err := cache.GetConfiguration(ctx, tenantID, "bad"); err == nil {
			t.Error("expected decode error")
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(50)
		_ = statsCache.Set(ctx, tenantID, "k1", []byte("v1"), time.Minute)
		_ = statsCache.Set(ctx, tenantID, "k2", []byte("v2"), time.Minute)

		size, capacity := statsCache.Stats()
		if size != 2 {
			t.Errorf("expected size 2, got %d", size)
		}
		if capacity != 50 {
			t.Errorf("expected capacity 50, got %d", capacity)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("Close", func(t *testing.T) {
		testCache := NewLRUCache(10)
		_ = testCache.Set(ctx, tenantID, "k", []byte("v"), time.Minute)

		err := testCache.Close()
		if err != nil {
			t.Errorf("Close failed: %v", err)
		}

		// Cache should be empty after close
		val, _ := testCache.Get(ctx, tenantID, "k")
		if val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type:         "memory",
			LocalMaxSize: 100,
		}

		cache, err := New(cfg)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		_, ok := cache.(*LRUCache)
		if !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type: "memcached",
		}

		_, err := New(cfg)
		if err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

type fakeSource struct {
	calls int
	cfg   *domain.PayrollConfiguration
	err   error
}

func (f *fakeSource) GetConfiguration(ctx context.Context, tenantID, configID string) (*domain.PayrollConfiguration, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.cfg, nil
}

func TestLoader(t *testing.T) {
	ctx := context.Background()

	t.Run("ReadThrough", func(t *testing.T) {
		src := &fakeSource{cfg: &domain.PayrollConfiguration{ID: "cfg-001", Country: "Kenya"}}
		var hits, misses int
		loader := NewLoader(NewLRUCache(10), src, time.Minute)
		loader.OnLookup = func(hit bool) {
			if hit {
				hits++
			} else {
				misses++
			}
		}

		for i := 0; i < 3; i++ {
			cfg, err := loader.Load(ctx, "tenant-001", "cfg-001")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if cfg.Country != "Kenya" {
				t.Errorf("unexpected country %q", cfg.Country)
			}
		}

		if src.calls != 1 {
			t.Errorf("expected 1 repository read, got %d", src.calls)
		}
		if hits != 2 || misses != 1 {
			t.Errorf("expected 2 hits and 1 miss, got %d and %d", hits, misses)
		}
	})

	t.Run("Invalidate", func(t *testing.T) {
		src := &fakeSource{cfg: &domain.PayrollConfiguration{ID: "cfg-001"}}
		loader := NewLoader(NewLRUCache(10), src, time.Minute)

		_, _ = loader.Load(ctx, "tenant-001", "cfg-001")
		if err := loader.Invalidate(ctx, "tenant-001", "cfg-001"); err != nil {
			t.Fatalf("Invalidate failed: %v", err)
		}
		_, _ = loader.Load(ctx, "tenant-001", "cfg-001")

		if src.calls != 2 {
			t.Errorf("expected 2 repository reads, got %d", src.calls)
		}
	})

	t.Run("Store", func(t *testing.T) {
		src := &fakeSource{err: errors.New("should not be called")}
		loader := NewLoader(NewLRUCache(10), src, time.Minute)

		if err := loader.Store(ctx, "tenant-001", &domain.PayrollConfiguration{ID: "cfg-009", Country: "Ghana"}); err != nil {
			t.Fatalf("Store failed: %v", err)
		}
		cfg, err := loader.Load(ctx, "tenant-001", "cfg-009")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Country != "Ghana" || src.calls != 0 {
			t.Errorf("expected cached Ghana without repository read, got %q after %d reads", cfg.Country, src.calls)
		}
	})

	t.Run("SourceError", func(t *testing.T) {
		notFound := errors.New("record not found")
		loader := NewLoader(nil, &fakeSource{err: notFound}, 0)

		if _, err := loader.Load(ctx, "tenant-001", "missing"); !errors.Is(err, notFound) {
			t.Errorf("expected source error, got %v", err)
		}
	})
}
