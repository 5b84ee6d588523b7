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
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tetratelabs/run"
	"github.com/tetratelabs/telemetry"

	"github.com/istio-ecosystem/gateway-helper/internal"
	"github.com/istio-ecosystem/gateway-helper/internal/admission"
	inthttp "github.com/istio-ecosystem/gateway-helper/internal/http"
)

const shutdownTimeout = 5 * time.Second

var (
	_ http.Handler  = (*Gate)(nil)
	_ run.PreRunner = (*HTTPServer)(nil)
	_ run.Service   = (*HTTPServer)(nil)
)

// Gate is the HTTP admission endpoint. Allowed requests get an empty 200 response with
// the admission headers, that the gateway forwards upstream.
type Gate struct {
	admitter         *Admitter
	credentialHeader string
}

// NewGate creates a Gate reading the credential from the given header.
func NewGate(admitter *Admitter, credentialHeader string) *Gate {
	return &Gate{admitter: admitter, credentialHeader: credentialHeader}
}

func (g *Gate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == ConfigPath {
		g.admitter.ServeConfig(w, r)
		return
	}

	credential, _ := inthttp.ExtractCredential(r.Header.Get(g.credentialHeader), r.URL.RawQuery)
	d := g.admitter.Admit(r.Context(), TransportHTTP, admission.CheckRequest{
		Credential: credential,
		Path:       r.URL.Path,
		Method:     strings.ToLower(r.Method),
	})
	inthttp.WriteDisposition(w, d)
}

// HTTPServer serves the Gate.
type HTTPServer struct {
	log      telemetry.Logger
	cfg      *internal.Config
	admitter *Admitter
	server   *http.Server

	// Listen allows overriding the default listener. It is meant to
	// be used in tests.
	Listen func() (net.Listener, error)
}

// NewHTTPServer creates the HTTP gate server. The configuration is read at PreRun.
func NewHTTPServer(cfg *internal.Config, admitter *Admitter) *HTTPServer {
	return &HTTPServer{
		log:      internal.Logger(internal.Server),
		cfg:      cfg,
		admitter: admitter,
	}
}

func (s *HTTPServer) Name() string { return "HTTP gate" }

func (s *HTTPServer) PreRun() error {
	addr := s.cfg.GetListenAddress()
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}
	if s.Listen == nil {
		s.Listen = func() (net.Listener, error) { return net.Listen("tcp", addr) }
	}

	gate := NewGate(s.admitter, s.cfg.GetCredentialHeader())
	s.server = &http.Server{
		Handler:           RequestID(NewLogMiddleware().Handler(gate)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

func (s *HTTPServer) Serve() error {
	l, err := s.Listen()
	if err != nil {
		return err
	}
	s.log.Info("starting HTTP gate", "addr", l.Addr().String())
	if err = s.server.Serve(l); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) GracefulStop() {
	s.log.Info("stopping HTTP gate")
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.log.Error("error shutting down HTTP gate", err)
	}
}
