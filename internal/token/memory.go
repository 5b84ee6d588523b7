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

	"github.com/tetratelabs/telemetry"

	"github.com/istio-ecosystem/gateway-helper/internal"
	"github.com/istio-ecosystem/gateway-helper/internal/admission"
)

var _ PrincipalStore = (*memoryStore)(nil)

type memoryStore struct {
	log   telemetry.Logger
	clock *Clock

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	principal *admission.Principal
	expires   time.Time
}

// NewMemoryStore creates an in-process principal store.
func NewMemoryStore(clock *Clock) PrincipalStore {
	return &memoryStore{
		log:     internal.Logger(internal.Store).With("type", "memory"),
		clock:   clock,
		entries: make(map[string]*entry),
	}
}

func (m *memoryStore) Get(ctx context.Context, key string) (*admission.Principal, error) {
	log := m.log.Context(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entries[key]
	if e == nil {
		return nil, nil
	}
	if m.expired(e, m.clock.Now()) {
		log.Debug("removing expired principal", "key", key)
		delete(m.entries, key)
		return nil, nil
	}

	return clonePrincipal(e.principal), nil
}

func (m *memoryStore) Set(ctx context.Context, key string, principal *admission.Principal, ttl time.Duration) error {
	log := m.log.Context(ctx)
	log.Debug("setting principal", "key", key, "ttl", ttl)

	e := &entry{principal: clonePrincipal(principal)}
	if ttl > 0 {
		e.expires = m.clock.Now().Add(ttl)
	}

	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()

	return nil
}

func (m *memoryStore) RemoveAllExpired(ctx context.Context) error {
	log := m.log.Context(ctx)
	log.Debug("removing expired principals")

	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for key, e := range m.entries {
		if m.expired(e, now) {
			log.Debug("removing expired principal", "key", key)
			delete(m.entries, key)
		}
	}

	return nil
}

func (m *memoryStore) expired(e *entry, now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}
