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
	"strings"

	"github.com/istio-ecosystem/gateway-helper/internal"
	"github.com/istio-ecosystem/gateway-helper/internal/admission"
)

var _ admission.CheckUnit = (*credentialUnit)(nil)

// MessageAccessTokenNull is set when a protected path is requested without credential.
const MessageAccessTokenNull = "access token is required"

// credentialUnit lets public paths through and requires a credential everywhere else.
type credentialUnit struct {
	unit
	publicPaths []string
}

// NewCredentialUnit creates a unit that enforces the presence of a credential.
func NewCredentialUnit(cfg internal.CheckConfig) (admission.CheckUnit, error) {
	c := &credentialUnit{unit: newUnit(cfg)}
	if cfg.Credential != nil {
		c.publicPaths = cfg.Credential.PublicPaths
	}
	return c, nil
}

func (c *credentialUnit) ShouldFilter(context.Context, *admission.RequestContext) bool { return true }

func (c *credentialUnit) Run(ctx context.Context, rc *admission.RequestContext) (bool, error) {
	log := c.log.Context(ctx)

	for _, prefix := range c.publicPaths {
		if strings.HasPrefix(rc.Request.Path, prefix) {
			log.Debug("public path", "path", rc.Request.Path, "prefix", prefix)
			rc.Response.Status = admission.SuccessPublicAccess
			return false, nil
		}
	}

	if !rc.Request.HasCredential() {
		log.Debug("missing credential", "path", rc.Request.Path)
		rc.Response.Set(admission.PermissionAccessTokenNull, MessageAccessTokenNull)
		return false, nil
	}

	return true, nil
}
