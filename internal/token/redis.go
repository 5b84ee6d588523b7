// Copyright 2025 Tetrate
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

package token

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tetratelabs/telemetry"

	"github.com/istio-ecosystem/gateway-helper/internal"
	"github.com/istio-ecosystem/gateway-helper/internal/admission"
)

var _ PrincipalStore = (*redisStore)(nil)

type redisStore struct {
	log    telemetry.Logger
	client redis.Cmdable
}

// NewRedisClient creates a Redis client for the given server URI.
func NewRedisClient(serverURI string) (*redis.Client, error) {
	opts, err := redis.ParseURL(serverURI)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}

// NewRedisStore creates a principal store backed by the given Redis client.
// Expiration is delegated to Redis.
func NewRedisStore(client redis.Cmdable) (PrincipalStore, error) {
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &redisStore{
		log:    internal.Logger(internal.Store).With("type", "redis"),
		client: client,
	}, nil
}

func (r *redisStore) Get(ctx context.Context, key string) (*admission.Principal, error) {
	log := r.log.Context(ctx)
	log.Debug("getting principal", "key", key)

	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var p admission.Principal
	if err = json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *redisStore) Set(ctx context.Context, key string, principal *admission.Principal, ttl time.Duration) error {
	log := r.log.Context(ctx)
	log.Debug("setting principal", "key", key, "ttl", ttl)

	data, err := json.Marshal(principal)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, data, ttl).Err()
}

func (r *redisStore) RemoveAllExpired(context.Context) error { return nil }
