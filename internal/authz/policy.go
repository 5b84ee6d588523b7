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
	"os"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/istio-ecosystem/gateway-helper/internal"
	"github.com/istio-ecosystem/gateway-helper/internal/admission"
)

var _ admission.CheckUnit = (*policyUnit)(nil)

const (
	// DefaultPolicyQuery is evaluated when no query is configured.
	DefaultPolicyQuery = "data.gateway.admission"
	// MessagePolicyDenied is set when the policy denies a request without message.
	MessagePolicyDenied = "request denied by policy"
)

// policyUnit evaluates a Rego policy against the request and the resolved principal.
//
// The query must evaluate to a boolean or to an object with an "allow" boolean and optional
// "message" and "state" fields. An undefined decision denies the request.
type policyUnit struct {
	unit
	query rego.PreparedEvalQuery
}

// NewPolicyUnit compiles the configured Rego module.
func NewPolicyUnit(ctx context.Context, cfg internal.CheckConfig) (admission.CheckUnit, error) {
	c := cfg.Policy

	source, name := c.Rego, cfg.Name+".rego"
	if c.RegoFile != "" {
		data, err := os.ReadFile(c.RegoFile)
		if err != nil {
			return nil, fmt.Errorf("reading policy file: %w", err)
		}
		source, name = string(data), c.RegoFile
	}

	query := c.Query
	if query == "" {
		query = DefaultPolicyQuery
	}

	pq, err := rego.New(
		rego.Query(query),
		rego.Module(name, source),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: preparing policy: %w", internal.ErrInvalidCheckConfig, err)
	}

	return &policyUnit{unit: newUnit(cfg), query: pq}, nil
}

func (p *policyUnit) ShouldFilter(context.Context, *admission.RequestContext) bool { return true }

func (p *policyUnit) Run(ctx context.Context, rc *admission.RequestContext) (bool, error) {
	log := p.log.Context(ctx)

	rs, err := p.query.Eval(ctx, rego.EvalInput(policyInput(rc)))
	if err != nil {
		return false, fmt.Errorf("evaluating policy: %w", err)
	}

	allow, message, state := false, "", admission.PermissionNotPass
	if len(rs) > 0 && len(rs[0].Expressions) > 0 {
		switch v := rs[0].Expressions[0].Value.(type) {
		case bool:
			allow = v
		case map[string]any:
			allow, _ = v["allow"].(bool)
			message, _ = v["message"].(string)
			if s, ok := v["state"].(string); ok {
				if state, err = admission.ParseState(s); err != nil {
					return false, fmt.Errorf("policy decision: %w", err)
				}
			}
		default:
			return false, fmt.Errorf("unexpected policy decision type %T", v)
		}
	}

	if allow {
		log.Debug("policy allowed request", "path", rc.Request.Path)
		return true, nil
	}

	if message == "" {
		message = MessagePolicyDenied
	}
	log.Debug("policy denied request", "path", rc.Request.Path, "state", state)
	rc.Response.Set(state, message)
	return false, nil
}

// policyInput always carries a principal object so that rules can reason about anonymous
// callers the same way they do about resolved ones.
func policyInput(rc *admission.RequestContext) map[string]any {
	principal := map[string]any{
		"authenticated": false,
		"sub":           "",
		"username":      "",
		"email":         "",
		"tenant_id":     "",
		"roles":         []any{},
		"claims":        map[string]any{},
	}

	if p := rc.Principal; p != nil {
		roles := make([]any, 0, len(p.Roles))
		for _, r := range p.Roles {
			roles = append(roles, r)
		}
		principal["authenticated"] = true
		principal["sub"] = p.Subject
		principal["username"] = p.Username
		principal["email"] = p.Email
		principal["tenant_id"] = p.Tenant
		principal["roles"] = roles
		if p.Claims != nil {
			principal["claims"] = p.Claims
		}
	}

	return map[string]any{
		"path":           rc.Request.Path,
		"method":         rc.Request.Method,
		"has_credential": rc.Request.HasCredential(),
		"status":         rc.Response.Status.String(),
		"principal":      principal,
	}
}
