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

	"github.com/istio-ecosystem/gateway-helper/internal"
	"github.com/istio-ecosystem/gateway-helper/internal/admission"
	"github.com/istio-ecosystem/gateway-helper/internal/token"
)

// StoreProvider returns the principal store for a user-info check.
type StoreProvider interface {
	Get(*internal.UserInfoConfig) (token.PrincipalStore, error)
}

// Builder creates the admission chain out of the configured checks.
type Builder struct {
	Stores StoreProvider
	JWKS   token.JWKSProvider
	Clock  *token.Clock
}

// Build creates the units for all the configured checks and returns the resulting chain.
// No chain is returned if any of the checks cannot be created.
func (b *Builder) Build(ctx context.Context, cfg *internal.Config) (*admission.Chain, error) {
	units := make([]admission.CheckUnit, 0, len(cfg.Checks))
	for _, c := range cfg.Checks {
		u, err := b.build(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("check %q: %w", c.Name, err)
		}
		units = append(units, u)
	}
	return admission.NewChain(units...), nil
}

func (b *Builder) build(ctx context.Context, c internal.CheckConfig) (admission.CheckUnit, error) {
	switch c.Type {
	case internal.CheckTypeMock:
		return NewMockUnit(c)
	case internal.CheckTypeCredential:
		return NewCredentialUnit(c)
	case internal.CheckTypeRateLimit:
		if c.RateLimit == nil {
			return nil, internal.ErrMissingCheckConfig
		}
		return NewRateLimitUnit(c)
	case internal.CheckTypeUserInfo:
		if c.UserInfo == nil {
			return nil, internal.ErrMissingCheckConfig
		}
		var store token.PrincipalStore
		if b.Stores != nil {
			s, err := b.Stores.Get(c.UserInfo)
			if err != nil {
				return nil, err
			}
			store = s
		}
		return NewUserInfoUnit(c, store)
	case internal.CheckTypeJWTVerify:
		if c.JWTVerify == nil {
			return nil, internal.ErrMissingCheckConfig
		}
		if b.JWKS == nil {
			return nil, fmt.Errorf("%w: no JWKS provider", internal.ErrInvalidCheckConfig)
		}
		return NewJWTVerifyUnit(c, b.JWKS, b.Clock)
	case internal.CheckTypeJWTIssuer:
		if c.JWTIssuer == nil {
			return nil, internal.ErrMissingCheckConfig
		}
		return NewJWTIssuerUnit(c, b.Clock)
	case internal.CheckTypePolicy:
		if c.Policy == nil {
			return nil, internal.ErrMissingCheckConfig
		}
		return NewPolicyUnit(ctx, c)
	default:
		return nil, fmt.Errorf("%w: %q", internal.ErrUnknownCheckType, c.Type)
	}
}
