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
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/istio-ecosystem/gateway-helper/internal"
	"github.com/istio-ecosystem/gateway-helper/internal/admission"
	inthttp "github.com/istio-ecosystem/gateway-helper/internal/http"
	"github.com/istio-ecosystem/gateway-helper/internal/token"
)

var _ admission.CheckUnit = (*jwtIssuerUnit)(nil)

const (
	// DefaultIssuedTokenTTL is the lifetime of the issued tokens when none is configured.
	DefaultIssuedTokenTTL = 5 * time.Minute
	// DefaultHMACAlgorithm is used when an HMAC secret is configured without algorithm.
	DefaultHMACAlgorithm = jwa.HS256
	// DefaultKeyAlgorithm is used when a private key is configured without algorithm.
	DefaultKeyAlgorithm = jwa.RS256
)

// jwtIssuerUnit signs a JWT for the resolved principal and sets it as the outgoing credential.
type jwtIssuerUnit struct {
	unit
	alg    jwa.SignatureAlgorithm
	key    jwk.Key
	issuer string
	ttl    time.Duration
	clock  *token.Clock
}

// NewJWTIssuerUnit creates a unit that issues JWTs for the resolved principals.
func NewJWTIssuerUnit(cfg internal.CheckConfig, clock *token.Clock) (admission.CheckUnit, error) {
	c := cfg.JWTIssuer

	var (
		raw any
		alg = DefaultKeyAlgorithm
	)
	if c.HMACSecret != "" {
		raw, alg = []byte(c.HMACSecret), DefaultHMACAlgorithm
	}
	if c.Algorithm != "" {
		if err := alg.Accept(c.Algorithm); err != nil {
			return nil, fmt.Errorf("%w: %w", internal.ErrInvalidCheckConfig, err)
		}
	}

	var (
		key jwk.Key
		err error
	)
	if raw != nil {
		key, err = jwk.FromRaw(raw)
	} else {
		key, err = jwk.ParseKey([]byte(c.PrivateKeyPEM), jwk.WithPEM(true))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: invalid signing key: %w", internal.ErrInvalidCheckConfig, err)
	}
	if c.KeyID != "" {
		if err = key.Set(jwk.KeyIDKey, c.KeyID); err != nil {
			return nil, err
		}
	}

	// Fail early on algorithms that do not match the key type
	if _, err = jwt.Sign(jwt.New(), jwt.WithKey(alg, key)); err != nil {
		return nil, fmt.Errorf("%w: %w", internal.ErrInvalidCheckConfig, err)
	}

	if clock == nil {
		clock = &token.Clock{}
	}
	ttl := c.TTL
	if ttl <= 0 {
		ttl = DefaultIssuedTokenTTL
	}

	return &jwtIssuerUnit{
		unit:   newUnit(cfg),
		alg:    alg,
		key:    key,
		issuer: c.Issuer,
		ttl:    ttl,
		clock:  clock,
	}, nil
}

// ShouldFilter returns true once a principal has been resolved.
func (j *jwtIssuerUnit) ShouldFilter(_ context.Context, rc *admission.RequestContext) bool {
	return rc.Principal != nil
}

func (j *jwtIssuerUnit) Run(ctx context.Context, rc *admission.RequestContext) (bool, error) {
	var (
		p   = rc.Principal
		now = j.clock.Now()
		b   = jwt.NewBuilder().
			Subject(p.Subject).
			IssuedAt(now).
			NotBefore(now).
			Expiration(now.Add(j.ttl))
	)

	if j.issuer != "" {
		b = b.Issuer(j.issuer)
	}
	if p.Username != "" {
		b = b.Claim("username", p.Username)
	}
	if p.Email != "" {
		b = b.Claim("email", p.Email)
	}
	if p.Tenant != "" {
		b = b.Claim("tenant_id", p.Tenant)
	}
	if len(p.Roles) > 0 {
		b = b.Claim("roles", p.Roles)
	}

	t, err := b.Build()
	if err != nil {
		return false, fmt.Errorf("building token: %w", err)
	}

	signed, err := jwt.Sign(t, jwt.WithKey(j.alg, j.key))
	if err != nil {
		return false, fmt.Errorf("signing token: %w", err)
	}

	j.log.Context(ctx).Debug("issued token", "sub", p.Subject, "ttl", j.ttl)
	rc.Response.JWT = inthttp.BearerAuthHeader(string(signed))
	return true, nil
}
