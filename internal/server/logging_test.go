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
	"net/http"
	"net/http/httptest"
	"testing"

	envoy "github.com/envoyproxy/go-control-plane/envoy/service/auth/v3"
	"github.com/stretchr/testify/require"

	"github.com/istio-ecosystem/gateway-helper/internal/admission"
	inthttp "github.com/istio-ecosystem/gateway-helper/internal/http"
)

func TestLogMiddlewareHandler(t *testing.T) {
	h := NewLogMiddleware().Handler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		inthttp.WriteDisposition(w, inthttp.Disposition{StatusCode: http.StatusForbidden, State: admission.PermissionNotPass})
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api", nil))

	require.Equal(t, http.StatusForbidden, w.Code)
	require.True(t, w.Flushed)
}

func TestToJSON(t *testing.T) {
	tests := []struct {
		name string
		obj  interface{}
		want string
	}{
		{"nil", nil, "null"},
		{"map", map[string]string{"a": "b"}, `{"a":"b"}`},
		{"proto", &envoy.CheckRequest{}, "{}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, toJSON(tt.obj))
		})
	}
}
