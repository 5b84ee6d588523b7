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

package server

import (
	"context"
	"strings"

	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	envoy "github.com/envoyproxy/go-control-plane/envoy/service/auth/v3"
	typev3 "github.com/envoyproxy/go-control-plane/envoy/type/v3"
	"github.com/tetratelabs/telemetry"
	"google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"

	"github.com/istio-ecosystem/gateway-helper/internal"
	"github.com/istio-ecosystem/gateway-helper/internal/admission"
	inthttp "github.com/istio-ecosystem/gateway-helper/internal/http"
)

// allow a request
var allow = &envoy.CheckResponse{
	Status: &status.Status{
		Code:    int32(codes.OK),
		Message: "",
	},
}

// ExtAuthZFilter is the Envoy ext_authz server. It runs the same admission chain as the
// HTTP gate over the Envoy attribute context.
type ExtAuthZFilter struct {
	log      telemetry.Logger
	cfg      *internal.Config
	admitter *Admitter
}

// NewExtAuthZFilter creates a new ExtAuthZFilter.
func NewExtAuthZFilter(cfg *internal.Config, admitter *Admitter) *ExtAuthZFilter {
	return &ExtAuthZFilter{
		log:      internal.Logger(internal.Server),
		cfg:      cfg,
		admitter: admitter,
	}
}

func (e *ExtAuthZFilter) Register(server *grpc.Server) {
	envoy.RegisterAuthorizationServer(server, e)
}

func (e *ExtAuthZFilter) Check(ctx context.Context, req *envoy.CheckRequest) (*envoy.CheckResponse, error) {
	httpReq := req.GetAttributes().GetRequest().GetHttp()
	path, query, _ := inthttp.GetPathQueryFragment(httpReq.GetPath())

	log := e.log.Context(ctx).With("path", path)
	if path == ConfigPath {
		log.Debug("config request")
		return allow, nil
	}

	// Envoy sends the header names lowercased
	credentialHeader := strings.ToLower(e.cfg.GetCredentialHeader())
	credential, _ := inthttp.ExtractCredential(httpReq.GetHeaders()[credentialHeader], query)
	d := e.admitter.Admit(ctx, TransportGRPC, admission.CheckRequest{
		Credential: credential,
		Path:       path,
		Method:     strings.ToLower(httpReq.GetMethod()),
	})

	headers := headerOptions(d)
	if d.Allowed() {
		return &envoy.CheckResponse{
			Status: &status.Status{Code: int32(codes.OK)},
			HttpResponse: &envoy.CheckResponse_OkResponse{
				OkResponse: &envoy.OkHttpResponse{Headers: headers},
			},
		}, nil
	}

	log.Debug("request denied", "status", d.StatusCode, "state", d.State)
	return &envoy.CheckResponse{
		Status: &status.Status{
			Code:    int32(inthttp.StatusToGrpcCode(d.StatusCode)),
			Message: d.State.String(),
		},
		HttpResponse: &envoy.CheckResponse_DeniedResponse{
			DeniedResponse: &envoy.DeniedHttpResponse{
				Status:  &typev3.HttpStatus{Code: typev3.StatusCode(d.StatusCode)},
				Headers: headers,
			},
		},
	}, nil
}

func headerOptions(d inthttp.Disposition) []*corev3.HeaderValueOption {
	opts := make([]*corev3.HeaderValueOption, 0, len(d.Headers))
	for _, h := range d.Headers {
		opts = append(opts, &corev3.HeaderValueOption{
			Header:       &corev3.HeaderValue{Key: h.Key, Value: h.Value},
			AppendAction: corev3.HeaderValueOption_OVERWRITE_IF_EXISTS_OR_ADD,
		})
	}
	return opts
}
