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

package authz

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/istio-ecosystem/gateway-helper/internal"
	"github.com/istio-ecosystem/gateway-helper/internal/admission"
)

var _ admission.CheckUnit = (*rateLimitUnit)(nil)

const (
	// RateLimitKeyCredential keys the buckets by request credential.
	RateLimitKeyCredential = "credential"
	// RateLimitKeyPath keys the buckets by request path.
	RateLimitKeyPath = "path"

	// MessageAPILimit is set when a request is rejected by the rate limiter.
	MessageAPILimit = "api call rate limit exceeded"

	// DefaultRateLimitMaxKeys is the number of buckets kept when max_keys is not set.
	DefaultRateLimitMaxKeys = 10000
)

// rateLimitUnit applies a token bucket per key.
type rateLimitUnit struct {
	unit
	byPath bool
	limit  rate.Limit
	burst  int

	// mu makes the lookup and creation of a bucket atomic.
	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
}

// NewRateLimitUnit creates a unit that rate limits requests by credential or path.
func NewRateLimitUnit(cfg internal.CheckConfig) (admission.CheckUnit, error) {
	burst := cfg.RateLimit.Burst
	if burst <= 0 {
		burst = max(1, int(cfg.RateLimit.RequestsPerSecond))
	}
	maxKeys := cfg.RateLimit.MaxKeys
	if maxKeys <= 0 {
		maxKeys = DefaultRateLimitMaxKeys
	}
	limiters, err := lru.New[string, *rate.Limiter](maxKeys)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", internal.ErrInvalidCheckConfig, err)
	}

	return &rateLimitUnit{
		unit:     newUnit(cfg),
		byPath:   cfg.RateLimit.Key == RateLimitKeyPath,
		limit:    rate.Limit(cfg.RateLimit.RequestsPerSecond),
		burst:    burst,
		limiters: limiters,
	}, nil
}

func (r *rateLimitUnit) ShouldFilter(context.Context, *admission.RequestContext) bool { return true }

func (r *rateLimitUnit) Run(ctx context.Context, rc *admission.RequestContext) (bool, error) {
	key := rc.Request.Credential
	if r.byPath {
		key = rc.Request.Path
	}

	if !r.limiter(key).Allow() {
		r.log.Context(ctx).Debug("rate limit exceeded", "path", rc.Request.Path)
		rc.Response.Set(admission.APILimit, MessageAPILimit)
		return false, nil
	}
	return true, nil
}

func (r *rateLimitUnit) limiter(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.limiters.Get(key)
	if !ok {
		l = rate.NewLimiter(r.limit, r.burst)
		r.limiters.Add(key, l)
	}
	return l
}
