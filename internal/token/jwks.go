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
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/httprc"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/tetratelabs/run"
	"github.com/tetratelabs/telemetry"

	"github.com/istio-ecosystem/gateway-helper/internal"
	inthttp "github.com/istio-ecosystem/gateway-helper/internal/http"
)

var (
	// ErrJWKSParse is returned when the JWKS document cannot be parsed.
	ErrJWKSParse = errors.New("error parsing JWKS document")
	// ErrJWKSFetch is returned when the JWKS document cannot be fetched.
	ErrJWKSFetch = errors.New("error fetching JWKS document")

	_ run.ServiceContext = (*DefaultJWKSProvider)(nil)
)

const (
	// DefaultFetchInterval is the default interval to use when none is set.
	DefaultFetchInterval = 1200 * time.Second
	// DefaultFetchTimeout bounds every JWKS download.
	DefaultFetchTimeout = 10 * time.Second
)

// JWKSProvider provides a JWKS set for a given verification configuration.
type JWKSProvider interface {
	// Get the JWKS for the given verification configuration
	Get(context.Context, *internal.JWTVerifyConfig) (jwk.Set, error)
}

// DefaultJWKSProvider provides a JWKS set
type DefaultJWKSProvider struct {
	log     telemetry.Logger
	cache   *jwk.Cache
	config  *internal.Config
	started chan struct{}
	// window is the refresh window of the cache. Intervals configured after the cache
	// has been created are never shorter than the window.
	window time.Duration
}

// NewJWKSProvider returns a new JWKSProvider.
func NewJWKSProvider(cfg *internal.Config) *DefaultJWKSProvider {
	return &DefaultJWKSProvider{
		log:     internal.Logger(internal.JWKS),
		config:  cfg,
		started: make(chan struct{}),
	}
}

// Name of the JWKSProvider run.Unit
func (j *DefaultJWKSProvider) Name() string { return "JWKS" }

func (j *DefaultJWKSProvider) ServeContext(ctx context.Context) error {
	errSink := httprc.ErrSinkFunc(func(err error) {
		j.log.Debug("jwks auto refresh error", "error", err)
	})
	j.window = getRefreshWindow(j.config)
	j.cache = jwk.NewCache(ctx,
		jwk.WithErrSink(errSink),
		jwk.WithRefreshWindow(j.window),
	)

	close(j.started) // signal channel start
	<-ctx.Done()
	return nil
}

// Get the JWKS for the given verification configuration
func (j *DefaultJWKSProvider) Get(ctx context.Context, config *internal.JWTVerifyConfig) (jwk.Set, error) {
	if config.JWKSURI != "" {
		select {
		case <-j.started: // wait until the service is fully started
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrJWKSFetch, ctx.Err())
		}
		return j.fetchDynamic(ctx, config)
	}
	return ParseJWKS(config.JWKS)
}

// fetchDynamic fetches the JWKS from the given URI. If the JWKS URI is already know, the JWKS will be returned from
// the cache. Otherwise, the JWKS will be fetched from the URI and the cache will be configured to periodically
// refresh the JWKS.
func (j *DefaultJWKSProvider) fetchDynamic(ctx context.Context, config *internal.JWTVerifyConfig) (jwk.Set, error) {
	log := j.log.Context(ctx)

	if !j.cache.IsRegistered(config.JWKSURI) {
		refreshInterval := config.FetchInterval
		if refreshInterval == 0 {
			refreshInterval = DefaultFetchInterval
		}
		if refreshInterval < j.window {
			log.Info("JWKS fetch interval is shorter than the cache refresh window, using the window",
				"jwks", config.JWKSURI, "interval", refreshInterval, "window", j.window)
			refreshInterval = j.window
		}

		log.Info("configuring JWKS auto refresh", "jwks", config.JWKSURI, "interval", refreshInterval)

		if err := j.cache.Register(config.JWKSURI,
			jwk.WithHTTPClient(inthttp.NewHTTPClient(DefaultFetchTimeout, j.log)),
			jwk.WithRefreshInterval(refreshInterval),
		); err != nil {
			return nil, fmt.Errorf("error registering JWKS: %w", err)
		}
	}

	log.Debug("fetching JWKS", "jwks", config.JWKSURI)

	jwks, err := j.cache.Get(ctx, config.JWKSURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJWKSFetch, err)
	}
	return jwks, nil
}

// ParseJWKS parses the given raw JWKS document. A single JWK is accepted as a set of one key.
func ParseJWKS(raw string) (jwk.Set, error) {
	jwks, err := jwk.Parse([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJWKSParse, err)
	}
	return jwks, nil
}

// getRefreshWindow returns the smallest refresh window for all the verification checks.
// This is needed because the cache needs to be initialized with a default window small enough to
// accommodate all the configured intervals.
func getRefreshWindow(cfg *internal.Config) time.Duration {
	refreshWindow := DefaultFetchInterval

	for _, c := range cfg.Checks {
		if c.JWTVerify == nil {
			continue
		}
		if interval := c.JWTVerify.FetchInterval; interval > 0 && interval < refreshWindow {
			refreshWindow = interval
		}
	}

	return refreshWindow
}
