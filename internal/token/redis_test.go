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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/istio-ecosystem/gateway-helper/internal/admission"
)

func TestRedisAuth(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	mr.RequireUserAuth("redis-user", "redis-pass")
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	t.Run("missing-credentials", func(t *testing.T) {
		client, err := NewRedisClient("redis://" + mr.Addr())
		require.NoError(t, err)

		_, err = NewRedisStore(client)
		require.ErrorContains(t, err, "NOAUTH")
	})

	t.Run("invalid-credentials", func(t *testing.T) {
		client, err := NewRedisClient("redis://redis-user:wrong-pass@" + mr.Addr())
		require.NoError(t, err)

		_, err = NewRedisStore(client)
		require.ErrorContains(t, err, "WRONGPASS")
	})

	t.Run("valid-credentials", func(t *testing.T) {
		client, err := NewRedisClient("redis://redis-user:redis-pass@" + mr.Addr())
		require.NoError(t, err)

		_, err = NewRedisStore(client)
		require.NoError(t, err)
	})
}

func TestNewRedisClientInvalidURL(t *testing.T) {
	_, err := NewRedisClient("http://localhost:6379")
	require.Error(t, err)
}

func TestRedisStore(t *testing.T) {
	var (
		ctx = context.Background()
		mr  = miniredis.RunT(t)
	)

	client, err := NewRedisClient("redis://" + mr.Addr())
	require.NoError(t, err)
	store, err := NewRedisStore(client)
	require.NoError(t, err)

	p, err := store.Get(ctx, Key("token"))
	require.NoError(t, err)
	require.Nil(t, p)

	principal := &admission.Principal{
		Subject:  "alice",
		Username: "alice",
		Email:    "alice@example.com",
		Tenant:   "acme",
		Roles:    []string{"admin", "dev"},
		Claims:   map[string]any{"scope": "openid"},
	}
	require.NoError(t, store.Set(ctx, Key("token"), principal, time.Minute))

	require.True(t, mr.Exists(Key("token")))
	require.Equal(t, time.Minute, mr.TTL(Key("token")))

	p, err = store.Get(ctx, Key("token"))
	require.NoError(t, err)
	require.Equal(t, principal, p)

	mr.FastForward(time.Minute)
	p, err = store.Get(ctx, Key("token"))
	require.NoError(t, err)
	require.Nil(t, p)

	require.NoError(t, store.RemoveAllExpired(ctx))
}

func TestRedisStoreInvalidData(t *testing.T) {
	var (
		ctx = context.Background()
		mr  = miniredis.RunT(t)
	)

	client, err := NewRedisClient("redis://" + mr.Addr())
	require.NoError(t, err)
	store, err := NewRedisStore(client)
	require.NoError(t, err)

	require.NoError(t, mr.Set("bad", "{not json"))
	_, err = store.Get(ctx, "bad")
	require.Error(t, err)
}
