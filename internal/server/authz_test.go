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
	"net"
	"testing"

	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	envoy "github.com/envoyproxy/go-control-plane/envoy/service/auth/v3"
	typev3 "github.com/envoyproxy/go-control-plane/envoy/type/v3"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/run"
	"github.com/tetratelabs/run/pkg/test"
	"github.com/tetratelabs/telemetry"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/istio-ecosystem/gateway-helper/internal"
	"github.com/istio-ecosystem/gateway-helper/internal/admission"
	inthttp "github.com/istio-ecosystem/gateway-helper/internal/http"
)

func checkRequest(method, path string, headers map[string]string) *envoy.CheckRequest {
	return &envoy.CheckRequest{
		Attributes: &envoy.AttributeContext{
			Request: &envoy.AttributeContext_Request{
				Http: &envoy.AttributeContext_HttpRequest{
					Method:  method,
					Path:    path,
					Headers: headers,
				},
			},
		},
	}
}

func headerValue(headers []*corev3.HeaderValueOption, key string) string {
	for _, h := range headers {
		if h.GetHeader().GetKey() == key {
			return h.GetHeader().GetValue()
		}
	}
	return ""
}

func TestExtAuthZCheck(t *testing.T) {
	tests := []struct {
		name         string
		state        admission.CheckState
		wantCode     codes.Code
		wantHTTPCode typev3.StatusCode
	}{
		{"allowed", admission.SuccessLoginAccess, codes.OK, 0},
		{"forbidden", admission.PermissionAccessTokenNull, codes.PermissionDenied, typev3.StatusCode_Forbidden},
		{"error", admission.ExceptionOAuthServer, codes.Internal, typev3.StatusCode_InternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewExtAuthZFilter(nil, newAdmitter(nil, stateUnit("unit", 0, tt.state, false)))

			got, err := e.Check(context.Background(), checkRequest("GET", "/api", nil))
			require.NoError(t, err)
			require.Equal(t, int32(tt.wantCode), got.GetStatus().GetCode())

			if tt.wantCode == codes.OK {
				require.NotNil(t, got.GetOkResponse())
				headers := got.GetOkResponse().GetHeaders()
				require.Equal(t, tt.state.String(), headerValue(headers, inthttp.HeaderRequestStatus))
				require.Equal(t, tt.state.Code(), headerValue(headers, inthttp.HeaderRequestCode))
				return
			}

			require.Equal(t, tt.state.String(), got.GetStatus().GetMessage())
			denied := got.GetDeniedResponse()
			require.NotNil(t, denied)
			require.Equal(t, tt.wantHTTPCode, denied.GetStatus().GetCode())
			require.Equal(t, tt.state.String(), headerValue(denied.GetHeaders(), inthttp.HeaderRequestStatus))
			require.Equal(t, tt.state.Code(), headerValue(denied.GetHeaders(), inthttp.HeaderRequestCode))
		})
	}
}

func TestExtAuthZRequest(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		path           string
		headers        map[string]string
		wantCredential string
		wantPath       string
		wantMethod     string
	}{
		{"header", "GET", "/api", map[string]string{"x-access-token": "abc"}, "bearer abc", "/api", "get"},
		{"query", "POST", "/api?page=1&access_token=xyz", nil, "bearer xyz", "/api", "post"},
		{"fragment", "GET", "/api?access_token=xyz#section", nil, "bearer xyz", "/api", "get"},
		{"no-credential", "PATCH", "/api", map[string]string{"authorization": "Bearer abc"}, "", "/api", "patch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &requestRecorder{}
			e := NewExtAuthZFilter(nil, newAdmitter(nil, rec.unit()))

			got, err := e.Check(context.Background(), checkRequest(tt.method, tt.path, tt.headers))
			require.NoError(t, err)
			require.Equal(t, int32(codes.OK), got.GetStatus().GetCode())

			require.NotNil(t, rec.got)
			require.Equal(t, tt.wantCredential, rec.got.Credential)
			require.Equal(t, tt.wantPath, rec.got.Path)
			require.Equal(t, tt.wantMethod, rec.got.Method)
		})
	}
}

func TestExtAuthZJWTHeader(t *testing.T) {
	unit := admission.Func{
		UnitName: "issuer",
		Do: func(_ context.Context, rc *admission.RequestContext) (bool, error) {
			rc.Response.JWT = "Bearer signed"
			return true, nil
		},
	}
	e := NewExtAuthZFilter(nil, newAdmitter(nil, unit))

	got, err := e.Check(context.Background(), checkRequest("GET", "/api", nil))
	require.NoError(t, err)
	require.Equal(t, "Bearer signed", headerValue(got.GetOkResponse().GetHeaders(), "Jwt_Token"))
}

func TestExtAuthZConfigPath(t *testing.T) {
	rec := &requestRecorder{}
	e := NewExtAuthZFilter(nil, newAdmitter(nil, rec.unit(), faultUnit("broken")))

	got, err := e.Check(context.Background(), checkRequest("GET", ConfigPath+"?access_token=xyz", nil))
	require.NoError(t, err)
	require.Equal(t, int32(codes.OK), got.GetStatus().GetCode())
	require.Nil(t, rec.got)
}

func TestExtAuthZEmptyRequest(t *testing.T) {
	e := NewExtAuthZFilter(nil, newAdmitter(nil))

	got, err := e.Check(context.Background(), &envoy.CheckRequest{})
	require.NoError(t, err)
	require.Equal(t, int32(codes.OK), got.GetStatus().GetCode())
}

func TestGrpcExtAuthZ(t *testing.T) {
	var (
		g   = run.Group{Logger: telemetry.NoopLogger()}
		irq = test.NewIRQService(func() {})
		l   = bufconn.Listen(1024)
		m   = NewMetrics()
		e   = NewExtAuthZFilter(nil, newAdmitter(m, stateUnit("credential", 0, admission.PermissionAccessTokenNull, false)))
		s   = New(nil, e.Register)
	)
	s.log = telemetry.NoopLogger()
	s.Listen = func() (net.Listener, error) { return l, nil }
	g.Register(s, irq)

	done := make(chan error, 1)
	go func() { done <- g.Run("") }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return l.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client := envoy.NewAuthorizationClient(conn)
	got, err := client.Check(context.Background(), checkRequest("GET", "/api", map[string]string{EnvoyXRequestID: "test-request-id"}))
	require.NoError(t, err)
	require.Equal(t, int32(codes.PermissionDenied), got.GetStatus().GetCode())
	require.Equal(t, typev3.StatusCode_Forbidden, got.GetDeniedResponse().GetStatus().GetCode())

	require.NoError(t, irq.Close())
	require.NoError(t, <-done)
}

func TestExtAuthZCustomHeaders(t *testing.T) {
	rec := &requestRecorder{state: admission.SuccessLoginAccess}
	cfg := &internal.Config{Headers: internal.HeadersConfig{Credential: "X-Token", JWT: "X-Jwt"}}
	issuer := admission.Func{
		UnitName:  "issuer",
		UnitOrder: 1,
		Do: func(_ context.Context, rc *admission.RequestContext) (bool, error) {
			rc.Response.JWT = "Bearer signed"
			return true, nil
		},
	}
	e := NewExtAuthZFilter(cfg, NewAdmitter(cfg, admission.NewHolder(admission.NewChain(rec.unit(), issuer)), nil))

	got, err := e.Check(context.Background(), checkRequest("GET", "/api", map[string]string{"x-token": "abc"}))
	require.NoError(t, err)
	require.Equal(t, "bearer abc", rec.got.Credential)
	require.Equal(t, "Bearer signed", headerValue(got.GetOkResponse().GetHeaders(), "X-Jwt"))
}
