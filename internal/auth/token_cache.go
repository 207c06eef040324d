package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"ms-conference-ticketing/internal/logger"

	"github.com/go-redis/redis/v8"
)

const (
	tokenCachePrefix = "auth_token:"
	// TokenExpiryBuffer drops cached principals this long before the token expires.
	TokenExpiryBuffer = 60 * time.Second
)

// CachingVerifier remembers verified principals in Redis, keyed by a hash of
// the token, until shortly before the token expires. Redis errors fall
// through to the wrapped verifier.
type CachingVerifier struct {
	Next   Verifier
	Client *redis.Client
	MaxTTL time.Duration
	Logger *logger.Logger
}

func NewCachingVerifier(next Verifier, client *redis.Client, maxTTL time.Duration, log *logger.Logger) *CachingVerifier {
	return &CachingVerifier{Next: next, Client: client, MaxTTL: maxTTL, Logger: log}
}

func (c *CachingVerifier) Verify(ctx context.Context, rawToken string) (*Principal, error) {
	key := tokenCachePrefix + tokenHash(rawToken)

	if p, err := c.get(ctx, key); err != nil {
		c.Logger.Warn("AUTH", fmt.Sprintf("Token cache read failed: %v", err))
	} else if p != nil {
		return p, nil
	}

	p, err := c.Next.Verify(ctx, rawToken)
	if err != nil {
		return nil, err
	}

	ttl := time.Until(p.ExpiresAt) - TokenExpiryBuffer
	if ttl > c.MaxTTL {
		ttl = c.MaxTTL
	}
	if ttl > 0 {
		if err := c.set(ctx, key, p, ttl); err != nil {
			c.Logger.Warn("AUTH", fmt.Sprintf("Token cache write failed: %v", err))
		}
	}
	return p, nil
}

func (c *CachingVerifier) get(ctx context.Context, key string) (*Principal, error) {
	raw, err := c.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	var p Principal
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached principal: %w", err)
	}
	if time.Now().Add(TokenExpiryBuffer).After(p.ExpiresAt) {
		return nil, nil
	}
	return &p, nil
}

func (c *CachingVerifier) set(ctx context.Context, key string, p *Principal, ttl time.Duration) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.Client.Set(ctx, key, raw, ttl).Err()
}

func tokenHash(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return hex.EncodeToString(sum[:])
}
