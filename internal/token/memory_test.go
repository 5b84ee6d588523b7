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

	"github.com/stretchr/testify/require"

	"github.com/istio-ecosystem/gateway-helper/internal/admission"
)

func TestMemoryStore(t *testing.T) {
	var (
		ctx   = context.Background()
		now   = time.Now()
		clock = &Clock{NowFn: func() time.Time { return now }}
		m     = NewMemoryStore(clock).(*memoryStore)
	)

	p, err := m.Get(ctx, "k1")
	require.NoError(t, err)
	require.Nil(t, p)

	principal := &admission.Principal{Subject: "alice", Roles: []string{"admin"}}
	require.NoError(t, m.Set(ctx, "k1", principal, time.Minute))
	require.NoError(t, m.Set(ctx, "k2", principal, 0))

	p, err = m.Get(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, principal, p)

	// Callers get their own copy
	p.Roles[0] = "changed"
	p, _ = m.Get(ctx, "k1")
	require.Equal(t, []string{"admin"}, p.Roles)

	t.Run("expiration", func(t *testing.T) {
		now = now.Add(time.Minute)

		p, err := m.Get(ctx, "k1")
		require.NoError(t, err)
		require.Nil(t, p)
		require.NotContains(t, m.entries, "k1")

		p, err = m.Get(ctx, "k2")
		require.NoError(t, err)
		require.NotNil(t, p)
	})
}

func TestMemoryStoreRemoveAllExpired(t *testing.T) {
	var (
		ctx   = context.Background()
		now   = time.Now()
		clock = &Clock{NowFn: func() time.Time { return now }}
		m     = NewMemoryStore(clock).(*memoryStore)
	)

	require.NoError(t, m.Set(ctx, "short", &admission.Principal{Subject: "a"}, time.Second))
	require.NoError(t, m.Set(ctx, "long", &admission.Principal{Subject: "b"}, time.Hour))
	require.NoError(t, m.Set(ctx, "forever", &admission.Principal{Subject: "c"}, 0))

	require.NoError(t, m.RemoveAllExpired(ctx))
	require.Len(t, m.entries, 3)

	now = now.Add(time.Minute)
	require.NoError(t, m.RemoveAllExpired(ctx))
	require.Len(t, m.entries, 2)
	require.NotContains(t, m.entries, "short")

	now = now.Add(24 * time.Hour)
	require.NoError(t, m.RemoveAllExpired(ctx))
	require.Len(t, m.entries, 1)
	require.Contains(t, m.entries, "forever")
}

func TestKey(t *testing.T) {
	k := Key("token")
	require.Equal(t, k, Key("token"))
	require.NotEqual(t, k, Key("other"))
	require.NotContains(t, k, "token")
	require.Len(t, k, len(KeyPrefix)+64)
}

func TestClock(t *testing.T) {
	require.WithinDuration(t, time.Now(), (&Clock{}).Now(), time.Second)

	fixed := time.Unix(1700000000, 0)
	require.Equal(t, fixed, (&Clock{NowFn: func() time.Time { return fixed }}).Now())
}
