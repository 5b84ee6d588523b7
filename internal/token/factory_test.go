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

	"github.com/istio-ecosystem/gateway-helper/internal"
	"github.com/istio-ecosystem/gateway-helper/internal/admission"
)

func TestStoreFactory(t *testing.T) {
	mr := miniredis.RunT(t)
	redisURI := "redis://" + mr.Addr()

	cfg := &internal.Config{
		Checks: []internal.CheckConfig{
			{Name: "mock", Type: internal.CheckTypeMock},
			{Name: "memory-1", Type: internal.CheckTypeUserInfo, UserInfo: &internal.UserInfoConfig{}},
			{Name: "memory-2", Type: internal.CheckTypeUserInfo, UserInfo: &internal.UserInfoConfig{}},
			{Name: "redis", Type: internal.CheckTypeUserInfo, UserInfo: &internal.UserInfoConfig{
				Redis: &internal.RedisConfig{ServerURI: redisURI},
			}},
		},
	}

	f := &StoreFactory{Config: cfg}
	require.NoError(t, f.PreRun())
	require.Len(t, f.redis, 1)
	require.NotNil(t, f.memory)

	s, err := f.Get(cfg.Checks[1].UserInfo)
	require.NoError(t, err)
	require.Same(t, f.memory, s)

	s, err = f.Get(cfg.Checks[2].UserInfo)
	require.NoError(t, err)
	require.Same(t, f.memory, s)

	s, err = f.Get(nil)
	require.NoError(t, err)
	require.Same(t, f.memory, s)

	s, err = f.Get(cfg.Checks[3].UserInfo)
	require.NoError(t, err)
	require.IsType(t, &redisStore{}, s)

	s2, err := f.Get(cfg.Checks[3].UserInfo)
	require.NoError(t, err)
	require.Same(t, s, s2)
}

func TestStoreFactoryRedisUnavailable(t *testing.T) {
	cfg := &internal.Config{
		Checks: []internal.CheckConfig{
			{Name: "redis", Type: internal.CheckTypeUserInfo, UserInfo: &internal.UserInfoConfig{
				Redis: &internal.RedisConfig{ServerURI: "redis://127.0.0.1:1"},
			}},
		},
	}

	f := &StoreFactory{Config: cfg}
	require.Error(t, f.PreRun())
}

func TestStoreFactorySweep(t *testing.T) {
	var (
		now   = time.Now()
		clock = &Clock{NowFn: func() time.Time { return now }}
		f     = &StoreFactory{Config: &internal.Config{}, Clock: clock, SweepInterval: 10 * time.Millisecond}
	)
	require.NoError(t, f.PreRun())

	s, err := f.Get(nil)
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), "k", &admission.Principal{Subject: "a"}, time.Second))
	now = now.Add(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- f.ServeContext(ctx) }()

	require.Eventually(t, func() bool {
		m := s.(*memoryStore)
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.entries) == 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
