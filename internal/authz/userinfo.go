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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/istio-ecosystem/gateway-helper/internal"
	"github.com/istio-ecosystem/gateway-helper/internal/admission"
	inthttp "github.com/istio-ecosystem/gateway-helper/internal/http"
	"github.com/istio-ecosystem/gateway-helper/internal/token"
)

var _ admission.CheckUnit = (*userInfoUnit)(nil)

const (
	// DefaultUserInfoTimeout bounds the calls to the user-info endpoint.
	DefaultUserInfoTimeout = 5 * time.Second

	// maxUserInfoSize limits the size of the user-info documents.
	maxUserInfoSize = 1 << 20
)

// userInfoUnit resolves the access token into a principal by calling an OIDC user-info endpoint.
type userInfoUnit struct {
	unit
	endpoint string
	timeout  time.Duration
	ttl      time.Duration
	client   *http.Client
	store    token.PrincipalStore
}

// NewUserInfoUnit creates a unit that resolves principals from the configured user-info endpoint.
func NewUserInfoUnit(cfg internal.CheckConfig, store token.PrincipalStore) (admission.CheckUnit, error) {
	u := &userInfoUnit{
		unit:     newUnit(cfg),
		endpoint: cfg.UserInfo.Endpoint,
		timeout:  cfg.UserInfo.Timeout,
		ttl:      cfg.UserInfo.CacheTTL,
		store:    store,
	}
	if u.timeout <= 0 {
		u.timeout = DefaultUserInfoTimeout
	}
	u.client = inthttp.NewHTTPClient(u.timeout, u.log)
	return u, nil
}

// ShouldFilter returns true for requests with credential whose principal has not been resolved yet.
func (u *userInfoUnit) ShouldFilter(_ context.Context, rc *admission.RequestContext) bool {
	return rc.Request.HasCredential() && rc.Principal == nil
}

func (u *userInfoUnit) Run(ctx context.Context, rc *admission.RequestContext) (bool, error) {
	log := u.log.Context(ctx)
	accessToken := rc.Request.AccessToken()
	key := token.Key(accessToken)

	if u.ttl > 0 && u.store != nil {
		p, err := u.store.Get(ctx, key)
		if err != nil {
			log.Error("error reading cached principal", err)
		}
		if p != nil {
			log.Debug("principal found in cache", "sub", p.Subject)
			rc.Principal = p
			rc.Response.Status = admission.SuccessLoginAccess
			return true, nil
		}
	}

	status, claims, err := u.fetch(ctx, accessToken)
	switch {
	case err != nil:
		log.Info("error calling user-info endpoint", "endpoint", u.endpoint, "error", err)
		rc.Response.Set(admission.ExceptionOAuthServer, "error calling the user-info endpoint")
		return false, nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		log.Debug("access token rejected", "status", status)
		rc.Response.Set(admission.PermissionAccessTokenInvalid, "access token is invalid")
		return false, nil
	case status < 200 || status >= 300:
		log.Info("unexpected user-info response", "endpoint", u.endpoint, "status", status)
		rc.Response.Set(admission.ExceptionOAuthServer, fmt.Sprintf("user-info endpoint returned %d", status))
		return false, nil
	}

	p := principalFromClaims(claims)
	if p.Subject == "" {
		log.Info("user-info response without subject", "endpoint", u.endpoint)
		rc.Response.Set(admission.PermissionGetUserDetailFailed, "user details do not have a subject")
		return false, nil
	}

	if u.ttl > 0 && u.store != nil {
		if err = u.store.Set(ctx, key, p, u.ttl); err != nil {
			log.Error("error caching principal", err)
		}
	}

	log.Debug("principal resolved", "sub", p.Subject)
	rc.Principal = p
	rc.Response.Status = admission.SuccessLoginAccess
	return true, nil
}

// fetch calls the user-info endpoint with the given access token. It returns the response status
// and, for successful responses, the decoded claims.
func (u *userInfoUnit) fetch(ctx context.Context, accessToken string) (int, map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, u.client)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.endpoint, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", inthttp.HeaderContentTypeJSON)

	res, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return res.StatusCode, nil, nil
	}

	var claims map[string]any
	if err = json.NewDecoder(io.LimitReader(res.Body, maxUserInfoSize)).Decode(&claims); err != nil {
		return res.StatusCode, nil, fmt.Errorf("decoding user-info response: %w", err)
	}
	return res.StatusCode, claims, nil
}
