// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reports

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Aigiriai/AIMHi-2-sub001/shared/types"
)

// ErrCacheMiss is returned by Cache.Get when no entry exists.
var ErrCacheMiss = errors.New("report cache miss")

// DefaultCacheTTL is how long cached report rows stay valid.
const DefaultCacheTTL = 5 * time.Minute

// Cache stores report results per organization and statement.
type Cache interface {
	Get(ctx context.Context, orgID types.OrgID, statement string) (*Result, error)
	Set(ctx context.Context, orgID types.OrgID, statement string, result *Result) error
}

// CacheKey returns the cache key for a statement. The organization is part of
// the key so tenants never share entries, even for identical SQL.
func CacheKey(orgID types.OrgID, statement string) string {
	sum := sha256.Sum256([]byte(statement))
	return fmt.Sprintf("report:%s:%s", orgID.String(), hex.EncodeToString(sum[:]))
}

// RedisCache is a Cache backed by Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to redisURL (redis://host:port or
// redis://host:port/db) and verifies the connection.
func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisCacheFromClient(client, ttl), nil
}

// NewRedisCacheFromClient wraps an existing client. A non-positive ttl uses
// DefaultCacheTTL.
func NewRedisCacheFromClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

// Get implements Cache. Numbers come back as float64 after the JSON round trip.
func (c *RedisCache) Get(ctx context.Context, orgID types.OrgID, statement string) (*Result, error) {
	data, err := c.client.Get(ctx, CacheKey(orgID, statement)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read report cache: %w", err)
	}

	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode cached report: %w", err)
	}
	return &result, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, orgID types.OrgID, statement string, result *Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := c.client.Set(ctx, CacheKey(orgID, statement), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write report cache: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
