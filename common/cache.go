// Copyright 2021-2022
// SPDX-License-Identifier: Apache-2.0
//
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

package common

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Two-level cache for provider responses: a local LRU always, redis as an
// optional shared level so repeated backfills across processes don't re-spend
// provider quota.

var (
	ErrCacheMiss = errors.New("key not found in cache")

	cacheCtx = context.Background()
	rdb      *redis.Client
	cache    *lru.Cache
)

func SetupCache() {
	var err error

	if viper.GetBool("cache.redis") {
		opt, err := redis.ParseURL(viper.GetString("cache.redis_url"))
		if err != nil {
			log.Fatal().Err(err).Msg("could not parse redis URL")
		}
		rdb = redis.NewClient(opt)
	}

	size := viper.GetInt("cache.local_size")
	if size == 0 {
		size = 1024
	}

	cache, err = lru.New(size)
	if err != nil {
		log.Fatal().Err(err).Msg("could not create LRU cache")
	}
}

func CacheSet(key string, data []byte) error {
	compressed, err := Compress(data)
	if err != nil {
		return err
	}
	cache.Add(key, compressed)

	if rdb != nil {
		expires := time.Duration(viper.GetInt("cache.ttl")) * time.Second
		return rdb.Set(cacheCtx, key, compressed, expires).Err()
	}
	return nil
}

func CacheGet(key string) ([]byte, error) {
	if v, ok := cache.Get(key); ok {
		return Decompress(v.([]byte))
	}

	if rdb != nil {
		expires := time.Duration(viper.GetInt("cache.ttl")) * time.Second
		val, err := rdb.GetEx(cacheCtx, key, expires).Bytes()
		if err != nil {
			return nil, ErrCacheMiss
		}
		cache.Add(key, val)
		return Decompress(val)
	}

	return nil, ErrCacheMiss
}
