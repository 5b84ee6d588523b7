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
	"fmt"
	"net"
	"net/http"

	"github.com/tetratelabs/run"
	"github.com/tetratelabs/telemetry"

	"github.com/istio-ecosystem/gateway-helper/internal"
)

var (
	_ http.Handler  = (*healthServer)(nil)
	_ run.PreRunner = (*healthServer)(nil)
	_ run.Service   = (*healthServer)(nil)
)

// healthServer answers liveness checks and exposes the metrics.
type healthServer struct {
	log     telemetry.Logger
	config  *internal.Config
	metrics *Metrics
	server  *http.Server

	// Listen allows overriding the default listener. It is meant to
	// be used in tests.
	l net.Listener
}

// NewHealthServer creates the health server. Metrics may be nil, in which case the
// metrics path is not served.
func NewHealthServer(config *internal.Config, metrics *Metrics) run.Unit {
	hs := &healthServer{
		log:     internal.Logger(internal.Health),
		config:  config,
		metrics: metrics,
	}
	hs.server = &http.Server{Handler: hs}
	return hs
}

func (hs *healthServer) Name() string {
	return "Health Server"
}

func (hs *healthServer) PreRun() error {
	if hs.metrics == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(hs.config.GetMetricsPath(), hs.metrics.Handler())
	mux.Handle("/", http.HandlerFunc(hs.ServeHTTP))
	hs.server.Handler = mux
	return nil
}

func (hs *healthServer) Serve() error {
	// use test listener if set
	if hs.l == nil {
		var err error
		hs.l, err = net.Listen("tcp", hs.getAddressAndPort())
		if err != nil {
			return err
		}
	}

	hs.log.Info("starting health server", "addr", hs.l.Addr(),
		"path", hs.config.GetHealthListenPath(), "metrics", hs.config.GetMetricsPath())
	return hs.server.Serve(hs.l)
}

func (hs *healthServer) GracefulStop() {
	hs.log.Info("stopping health server")
	_ = hs.server.Close()
}

func (hs *healthServer) getAddressAndPort() string {
	return fmt.Sprintf("%s:%d", hs.config.GetHealthListenAddress(), hs.config.GetHealthListenPort())
}

func (hs *healthServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := hs.log.With("method", r.Method, "path", r.URL.Path)
	listenPath := hs.config.GetHealthListenPath()

	if r.Method != http.MethodGet || r.URL.Path != listenPath {
		log.Debug("invalid request")
		http.Error(w, fmt.Sprintf("only GET %s is allowed", listenPath), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
}
