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
	"errors"
	"fmt"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/istio-ecosystem/gateway-helper/internal"
	"github.com/istio-ecosystem/gateway-helper/internal/admission"
	"github.com/istio-ecosystem/gateway-helper/internal/token"
)

var _ admission.CheckUnit = (*jwtVerifyUnit)(nil)

// jwtVerifyUnit validates JWT credentials against a JWKS and resolves the principal from its claims.
type jwtVerifyUnit struct {
	unit
	config *internal.JWTVerifyConfig
	jwks   token.JWKSProvider
	clock  *token.Clock
}

// NewJWTVerifyUnit creates a unit that verifies JWT credentials. Static key sets are
// validated when the unit is created.
func NewJWTVerifyUnit(cfg internal.CheckConfig, jwks token.JWKSProvider, clock *token.Clock) (admission.CheckUnit, error) {
	if cfg.JWTVerify.JWKS != "" {
		if _, err := token.ParseJWKS(cfg.JWTVerify.JWKS); err != nil {
			return nil, err
		}
	}
	if clock == nil {
		clock = &token.Clock{}
	}
	return &jwtVerifyUnit{
		unit:   newUnit(cfg),
		config: cfg.JWTVerify,
		jwks:   jwks,
		clock:  clock,
	}, nil
}

// ShouldFilter returns true for credentials shaped like a compact JWS.
func (j *jwtVerifyUnit) ShouldFilter(_ context.Context, rc *admission.RequestContext) bool {
	return rc.Request.HasCredential() && isCompactJWS(rc.Request.AccessToken())
}

func (j *jwtVerifyUnit) Run(ctx context.Context, rc *admission.RequestContext) (bool, error) {
	log := j.log.Context(ctx)

	jwks, err := j.jwks.Get(ctx, j.config)
	if err != nil {
		return false, fmt.Errorf("loading JWKS: %w", err)
	}

	opts := []jwt.ParseOption{
		jwt.WithKeySet(jwks, jws.WithInferAlgorithmFromKey(true)),
		jwt.WithValidate(true),
		jwt.WithClock(jwt.ClockFunc(j.clock.Now)),
	}
	if j.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		opts = append(opts, jwt.WithAudience(j.config.Audience))
	}

	parsed, err := jwt.ParseString(rc.Request.AccessToken(), opts...)
	if errors.Is(err, jwt.ErrTokenExpired()) {
		log.Debug("token expired")
		rc.Response.Set(admission.PermissionAccessTokenExpired, "access token is expired")
		return false, nil
	}
	if err != nil {
		log.Debug("invalid token", "error", err)
		rc.Response.Set(admission.PermissionAccessTokenInvalid, "access token is invalid")
		return false, nil
	}

	claims, err := parsed.AsMap(ctx)
	if err != nil {
		return false, fmt.Errorf("reading token claims: %w", err)
	}

	rc.Principal = principalFromClaims(claims)
	rc.Response.Status = admission.SuccessLoginAccess
	log.Debug("token verified", "sub", rc.Principal.Subject)
	return true, nil
}

func isCompactJWS(s string) bool {
	return strings.Count(s, ".") == 2 && !strings.ContainsAny(s, " \t")
}
