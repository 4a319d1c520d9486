// Copyright 2021-2026
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog/log"
)

// CacheConfig configures the report cache
type CacheConfig struct {
	LocalSize int
	Redis     bool
	RedisURL  string
	TTL       time.Duration
}

type cacheEntry struct {
	expires time.Time
	val     []byte
}

// Cache is a two level (in-process LRU, optional redis) cache of tagged, optionally lz4 compressed values
type Cache struct {
	local *lru.Cache
	rdb   *redis.Client
	ttl   time.Duration
	now   Clock
}

// NewCache creates a cache from cfg
func NewCache(cfg CacheConfig) (*Cache, error) {
	size := cfg.LocalSize
	if size <= 0 {
		size = 128
	}

	local, err := lru.New(size)
	if err != nil {
		log.Error().Err(err).Int("Size", size).Msg("could not create LRU cache")
		return nil, err
	}

	c := &Cache{
		local: local,
		ttl:   cfg.TTL,
		now:   time.Now,
	}

	if c.ttl <= 0 {
		c.ttl = 5 * time.Minute
	}

	if cfg.Redis {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Error().Err(err).Msg("could not parse redis URL")
			return nil, err
		}
		c.rdb = redis.NewClient(opt)
	}

	return c, nil
}

// Set stores val under key
func (c *Cache) Set(ctx context.Context, key string, val []byte) error {
	enc, err := EncodeCacheValue(val)
	if err != nil {
		return err
	}

	c.local.Add(key, cacheEntry{
		expires: c.now().Add(c.ttl),
		val:     enc,
	})

	if c.rdb != nil {
		return c.rdb.Set(ctx, key, enc, c.ttl).Err()
	}
	return nil
}

// Get returns the value stored under key; ok is false on a miss
func (c *Cache) Get(ctx context.Context, key string) (val []byte, ok bool, err error) {
	if v, found := c.local.Get(key); found {
		entry := v.(cacheEntry)
		if c.now().Before(entry.expires) {
			val, err = DecodeCacheValue(entry.val)
			return val, err == nil, err
		}
		c.local.Remove(key)
	}

	if c.rdb == nil {
		return nil, false, nil
	}

	enc, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	val, err = DecodeCacheValue(enc)
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Invalidate drops keys from both levels
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		c.local.Remove(key)
	}
	if c.rdb != nil && len(keys) > 0 {
		return c.rdb.Del(ctx, keys...).Err()
	}
	return nil
}
