package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"messaging-gateway-service/internal/config"
	"messaging-gateway-service/internal/models"
)

// Key prefixes
const (
	TenantByPhoneNumberPrefix = "tenant:pnid:"
)

// tenantCacheTTL bounds staleness of cached tenant records. Attachment and
// disable invalidate explicitly; the TTL covers writes from other replicas.
const tenantCacheTTL = 5 * time.Minute

// ErrCacheMiss is returned when the key is absent from the cache
var ErrCacheMiss = errors.New("cache miss")

// Client wraps the Redis client with application-specific methods
type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection to Redis
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// GetTenantByPhoneNumberID returns the cached tenant for a phone-number
// identifier, or ErrCacheMiss.
func (c *Client) GetTenantByPhoneNumberID(ctx context.Context, phoneNumberID string) (*models.Tenant, error) {
	data, err := c.rdb.Get(ctx, TenantByPhoneNumberPrefix+phoneNumberID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to read tenant cache: %w", err)
	}

	var tenant models.Tenant
	if err := json.Unmarshal(data, &tenant); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached tenant: %w", err)
	}
	return &tenant, nil
}

// SetTenant caches a tenant under its phone-number identifier
func (c *Client) SetTenant(ctx context.Context, tenant *models.Tenant) error {
	if tenant.PhoneNumberID == nil {
		return nil
	}

	data, err := json.Marshal(tenant)
	if err != nil {
		return fmt.Errorf("failed to marshal tenant for cache: %w", err)
	}
	return c.rdb.Set(ctx, TenantByPhoneNumberPrefix+*tenant.PhoneNumberID, data, tenantCacheTTL).Err()
}

// InvalidateTenant drops the cached entry for a phone-number identifier
func (c *Client) InvalidateTenant(ctx context.Context, phoneNumberID string) error {
	return c.rdb.Del(ctx, TenantByPhoneNumberPrefix+phoneNumberID).Err()
}
