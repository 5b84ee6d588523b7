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
	"net/http"

	envoy "github.com/envoyproxy/go-control-plane/envoy/service/auth/v3"
	"github.com/google/uuid"
	"github.com/tetratelabs/telemetry"
	"google.golang.org/grpc"

	inthttp "github.com/istio-ecosystem/gateway-helper/internal/http"
)

// EnvoyXRequestID is the header Envoy sets with the request id.
const EnvoyXRequestID = inthttp.HeaderRequestID

// PropagateRequestID is a gRPC interceptor that adds the Envoy request id of ext_authz
// check requests to the logging context.
func PropagateRequestID(
	ctx context.Context,
	req interface{},
	_ *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (interface{}, error) {
	check, ok := req.(*envoy.CheckRequest)
	if !ok {
		return handler(ctx, req)
	}

	headers := check.GetAttributes().GetRequest().GetHttp().GetHeaders()
	if headers == nil || headers[EnvoyXRequestID] == "" {
		return handler(ctx, req)
	}

	ctx = telemetry.KeyValuesToContext(ctx, EnvoyXRequestID, headers[EnvoyXRequestID])
	return handler(ctx, req)
}

// RequestID is an HTTP middleware that adds the request id to the logging context.
// Requests without one get a new random id, echoed in the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(EnvoyXRequestID)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(EnvoyXRequestID, id)
		}
		w.Header().Set(EnvoyXRequestID, id)

		ctx := telemetry.KeyValuesToContext(r.Context(), EnvoyXRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
