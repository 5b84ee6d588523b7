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
	"github.com/tetratelabs/telemetry"

	"github.com/istio-ecosystem/gateway-helper/internal"
	"github.com/istio-ecosystem/gateway-helper/internal/admission"
)

// unit holds the identity every configured check shares.
type unit struct {
	name  string
	order int
	log   telemetry.Logger
}

func newUnit(cfg internal.CheckConfig) unit {
	return unit{
		name:  cfg.Name,
		order: cfg.Order,
		log:   internal.Logger(internal.Checks).With("check", cfg.Name, "type", cfg.Type),
	}
}

func (u unit) Name() string { return u.name }
func (u unit) Order() int   { return u.order }

// principalFromClaims builds a principal out of a set of OIDC style claims.
func principalFromClaims(claims map[string]any) *admission.Principal {
	p := &admission.Principal{
		Subject:  stringClaim(claims, "sub"),
		Username: stringClaim(claims, "preferred_username", "username"),
		Email:    stringClaim(claims, "email"),
		Tenant:   stringClaim(claims, "tenant_id", "tenant"),
		Claims:   claims,
	}

	switch roles := claims["roles"].(type) {
	case []string:
		p.Roles = roles
	case []any:
		for _, r := range roles {
			if s, ok := r.(string); ok {
				p.Roles = append(p.Roles, s)
			}
		}
	case string:
		p.Roles = []string{roles}
	}

	return p
}

// stringClaim returns the first non-empty string claim among the given names.
func stringClaim(claims map[string]any, names ...string) string {
	for _, n := range names {
		if s, ok := claims[n].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
