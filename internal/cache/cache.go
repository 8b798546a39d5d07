package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/opensource-finance/paygrid/internal/domain"
)

// New creates a new cache based on configuration.
// For Community tier: returns LRU cache.
// For Pro tier with two-phase: returns TwoPhaseCache wrapping LRU + Redis.
// For Pro tier without two-phase: returns Redis cache.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// byteCache is the raw key/value surface the typed helpers build on.
type byteCache interface {
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error
}

func makeKey(tenantID, key string) string {
	return tenantID + ":" + key
}

func getConfiguration(ctx context.Context, c byteCache, tenantID, configID string) (*domain.PayrollConfiguration, error) {
	data, err := c.Get(ctx, tenantID, domain.ConfigurationCacheKey(configID))
	if err != nil || data == nil {
		return nil, err
	}

	var cfg domain.PayrollConfiguration
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cached configuration %s: %w", configID, err)
	}
	return &cfg, nil
}

func setConfiguration(ctx context.Context, c byteCache, tenantID string, cfg *domain.PayrollConfiguration, ttl time.Duration) error {
	if cfg == nil || cfg.ID == "" {
		return fmt.Errorf("configuration id is required")
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return c.Set(ctx, tenantID, domain.ConfigurationCacheKey(cfg.ID), data, ttl)
}

// TwoPhaseCache implements the two-phase caching strategy.
// L1: Local LRU cache for fast reads
// L2: Redis for distributed caching and persistence
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache creates a two-phase cache with LRU + Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}
	return newTwoPhase(NewLRUCache(cfg.LocalMaxSize), remote, cfg.LocalTTL), nil
}

func newTwoPhase(local *LRUCache, remote *RedisCache, l1TTL time.Duration) *TwoPhaseCache {
	if l1TTL == 0 {
		l1TTL = 5 * time.Minute
	}
	return &TwoPhaseCache{
		local:  local,
		remote: remote,
		l1TTL:  l1TTL,
	}
}

// Get retrieves from L1 first, then L2. Populates L1 on L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		return val, nil
	}

	val, err = c.remote.Get(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = c.local.Set(ctx, tenantID, key, val, c.l1TTL)
	}
	return val, nil
}

// Set writes to both L1 and L2. L1 keeps the shorter of the two TTLs.
func (c *TwoPhaseCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	l1TTL := c.l1TTL
	if ttl < l1TTL {
		l1TTL = ttl
	}
	if err := c.local.Set(ctx, tenantID, key, value, l1TTL); err != nil {
		return err
	}
	return c.remote.Set(ctx, tenantID, key, value, ttl)
}

// Delete removes from both L1 and L2.
func (c *TwoPhaseCache) Delete(ctx context.Context, tenantID string, key string) error {
	if err := c.local.Delete(ctx, tenantID, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, tenantID, key)
}

// GetConfiguration retrieves a cached payroll configuration.
func (c *TwoPhaseCache) GetConfiguration(ctx context.Context, tenantID string, configID string) (*domain.PayrollConfiguration, error) {
	return getConfiguration(ctx, c, tenantID, configID)
}

// SetConfiguration caches a payroll configuration in both layers.
func (c *TwoPhaseCache) SetConfiguration(ctx context.Context, tenantID string, cfg *domain.PayrollConfiguration, ttl time.Duration) error {
	return setConfiguration(ctx, c, tenantID, cfg, ttl)
}

// Ping checks both L1 and L2 health.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both L1 and L2.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns L1 cache statistics.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}

// ConfigurationSource loads configurations from the repository.
type ConfigurationSource interface {
	GetConfiguration(ctx context.Context, tenantID string, configID string) (*domain.PayrollConfiguration, error)
}

// Loader reads configurations through the cache, falling back to the
// repository on a miss. Cache failures degrade to repository reads.
type Loader struct {
	cache  domain.Cache
	source ConfigurationSource
	ttl    time.Duration

	// OnLookup, when set, observes every lookup with its cache outcome.
	OnLookup func(hit bool)
}

// NewLoader creates a read-through loader.
func NewLoader(c domain.Cache, source ConfigurationSource, ttl time.Duration) *Loader {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Loader{cache: c, source: source, ttl: ttl}
}

// Load returns the configuration, from cache when possible.
func (l *Loader) Load(ctx context.Context, tenantID, configID string) (*domain.PayrollConfiguration, error) {
	if l.cache != nil {
		cfg, err := l.cache.GetConfiguration(ctx, tenantID, configID)
		if err == nil && cfg != nil {
			l.observe(true)
			return cfg, nil
		}
	}
	l.observe(false)

	if l.source == nil {
		return nil, errors.New("no configuration source")
	}
	cfg, err := l.source.GetConfiguration(ctx, tenantID, configID)
	if err != nil {
		return nil, err
	}
	if l.cache != nil {
		_ = l.cache.SetConfiguration(ctx, tenantID, cfg, l.ttl)
	}
	return cfg, nil
}

// Store caches a freshly saved configuration.
func (l *Loader) Store(ctx context.Context, tenantID string, cfg *domain.PayrollConfiguration) error {
	if l.cache == nil {
		return nil
	}
	return l.cache.SetConfiguration(ctx, tenantID, cfg, l.ttl)
}

// Invalidate drops a configuration from the cache.
func (l *Loader) Invalidate(ctx context.Context, tenantID, configID string) error {
	if l.cache == nil {
		return nil
	}
	return l.cache.Delete(ctx, tenantID, domain.ConfigurationCacheKey(configID))
}

func (l *Loader) observe(hit bool) {
	if l.OnLookup != nil {
		l.OnLookup(hit)
	}
}
