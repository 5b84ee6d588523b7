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
	"sync"
	"time"

	"github.com/tetratelabs/run"
	"github.com/tetratelabs/telemetry"

	"github.com/istio-ecosystem/gateway-helper/internal"
)

var (
	_ run.PreRunner      = (*StoreFactory)(nil)
	_ run.ServiceContext = (*StoreFactory)(nil)
)

// DefaultSweepInterval is the interval at which expired principals are removed from the stores.
const DefaultSweepInterval = time.Minute

// StoreFactory holds the principal stores used by the configured checks. Redis stores
// are shared by server URI and a single in-memory store is shared by all the checks
// that do not configure Redis.
type StoreFactory struct {
	Config *internal.Config
	// SweepInterval overrides DefaultSweepInterval.
	SweepInterval time.Duration
	Clock         *Clock

	log    telemetry.Logger
	mu     sync.Mutex
	redis  map[string]PrincipalStore
	memory PrincipalStore
}

func (s *StoreFactory) Name() string { return "Principal store factory" }

func (s *StoreFactory) PreRun() error {
	s.log = internal.Logger(internal.Store)
	s.redis = make(map[string]PrincipalStore)
	if s.Clock == nil {
		s.Clock = &Clock{}
	}

	for _, c := range s.Config.Checks {
		if c.Type != internal.CheckTypeUserInfo {
			continue
		}
		if _, err := s.Get(c.UserInfo); err != nil {
			return err
		}
	}

	return nil
}

// Get returns the store for the given user-info configuration, creating it if needed.
func (s *StoreFactory) Get(cfg *internal.UserInfoConfig) (PrincipalStore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	uri := ""
	if cfg != nil {
		uri = cfg.Redis.GetServerURI()
	}

	if uri == "" {
		if s.memory == nil {
			s.log.Info("initializing in-memory principal store")
			s.memory = NewMemoryStore(s.Clock)
		}
		return s.memory, nil
	}

	if store, ok := s.redis[uri]; ok {
		return store, nil
	}

	s.log.Info("initializing redis principal store", "redis-url", uri)
	client, err := NewRedisClient(uri)
	if err != nil {
		return nil, err
	}
	store, err := NewRedisStore(client)
	if err != nil {
		return nil, err
	}
	s.redis[uri] = store
	return store, nil
}

func (s *StoreFactory) ServeContext(ctx context.Context) error {
	interval := s.SweepInterval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, store := range s.stores() {
				if err := store.RemoveAllExpired(ctx); err != nil {
					s.log.Error("error removing expired principals", err)
				}
			}
		}
	}
}

func (s *StoreFactory) stores() []PrincipalStore {
	s.mu.Lock()
	defer s.mu.Unlock()

	stores := make([]PrincipalStore, 0, len(s.redis)+1)
	if s.memory != nil {
		stores = append(stores, s.memory)
	}
	for _, store := range s.redis {
		stores = append(stores, store)
	}
	return stores
}
