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

package admission

import (
	"fmt"
	"strings"
)

type (
	// CheckRequest describes the inbound call being admitted. It is not modified once
	// the RequestContext is created.
	CheckRequest struct {
		// Credential is the normalized bearer credential, or empty if none was found.
		Credential string
		// Path is the request path.
		Path string
		// Method is the lowercased HTTP method.
		Method string
	}

	// CheckResponse accumulates the outcome of the chain.
	CheckResponse struct {
		// Status is the state that will be mapped to the HTTP disposition.
		Status CheckState
		// JWT is the credential echoed back to the gateway, if any.
		JWT string
		// Message is an optional diagnostic message.
		Message string
	}

	// Principal is the identity a unit resolved from the request credential.
	Principal struct {
		Subject  string         `json:"sub"`
		Username string         `json:"username,omitempty"`
		Email    string         `json:"email,omitempty"`
		Tenant   string         `json:"tenant_id,omitempty"`
		Roles    []string       `json:"roles,omitempty"`
		Claims   map[string]any `json:"claims,omitempty"`
	}

	// RequestContext is the per-request state threaded through every CheckUnit.
	//
	// A RequestContext is owned by a single chain execution at a time. Units mutate
	// Response and Principal in place and must not retain the context after Run returns.
	RequestContext struct {
		Request   CheckRequest
		Response  *CheckResponse
		Principal *Principal
	}
)

// NewRequestContext creates a context for the given request with the default allowed status.
func NewRequestContext(req CheckRequest) *RequestContext {
	return &RequestContext{
		Request:  req,
		Response: &CheckResponse{Status: Success},
	}
}

// HasCredential returns true if a credential has been extracted from the request.
func (r CheckRequest) HasCredential() bool { return r.Credential != "" }

// AccessToken returns the credential without the scheme tag.
func (r CheckRequest) AccessToken() string {
	scheme, token, found := strings.Cut(r.Credential, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return r.Credential
	}
	return token
}

// Set the response status and message in one go.
func (r *CheckResponse) Set(status CheckState, message string) {
	r.Status = status
	r.Message = message
}

// String renders the context for logging. Credentials are never printed.
func (c *RequestContext) String() string {
	var b strings.Builder
	_, _ = fmt.Fprintf(&b, "{method=%s path=%s credential=%s", c.Request.Method, c.Request.Path, mask(c.Request.Credential))
	if c.Principal != nil {
		_, _ = fmt.Fprintf(&b, " principal=%s", c.Principal.Subject)
	}
	if c.Response != nil {
		_, _ = fmt.Fprintf(&b, " status=%s code=%s jwt=%s message=%q",
			c.Response.Status, c.Response.Status.Code(), mask(c.Response.JWT), c.Response.Message)
	}
	b.WriteString("}")
	return b.String()
}

func mask(s string) string {
	if s == "" {
		return "<none>"
	}
	return fmt.Sprintf("<redacted:%d>", len(s))
}
