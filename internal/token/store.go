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
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"slices"
	"time"

	"github.com/istio-ecosystem/gateway-helper/internal/admission"
)

// KeyPrefix is prepended to all keys written to shared stores.
const KeyPrefix = "gateway-helper:principal:"

// PrincipalStore caches the principals resolved from access tokens.
type PrincipalStore interface {
	// Get the principal stored for the given key. It returns nil if the key is unknown or expired.
	Get(ctx context.Context, key string) (*admission.Principal, error)
	// Set the principal for the given key. A zero ttl stores the principal without expiration.
	Set(ctx context.Context, key string, principal *admission.Principal, ttl time.Duration) error
	// RemoveAllExpired removes the expired entries from the store.
	RemoveAllExpired(ctx context.Context) error
}

// Key returns the store key for the given access token. Tokens are hashed so they
// are never persisted in clear.
func Key(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	return KeyPrefix + hex.EncodeToString(sum[:])
}

func clonePrincipal(p *admission.Principal) *admission.Principal {
	if p == nil {
		return nil
	}
	c := *p
	c.Roles = slices.Clone(p.Roles)
	c.Claims = maps.Clone(p.Claims)
	return &c
}
