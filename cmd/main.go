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

package main

import (
	"fmt"
	"os"

	"github.com/tetratelabs/log"
	"github.com/tetratelabs/run"
	"github.com/tetratelabs/run/pkg/signal"
	"github.com/tetratelabs/telemetry"

	"github.com/istio-ecosystem/gateway-helper/internal"
	"github.com/istio-ecosystem/gateway-helper/internal/authz"
	"github.com/istio-ecosystem/gateway-helper/internal/server"
	"github.com/istio-ecosystem/gateway-helper/internal/token"
	"github.com/istio-ecosystem/gateway-helper/internal/watch"
)

func main() {
	var (
		configFile = &internal.LocalConfigFile{}
		logging    = internal.NewLogSystem(log.New(), &configFile.Config)
		watcher    = &watch.FileWatcherService{}
		stores     = &token.StoreFactory{Config: &configFile.Config}
		jwks       = token.NewJWKSProvider(&configFile.Config)
		chains     = authz.NewChainService(configFile, &authz.Builder{Stores: stores, JWKS: jwks}, watcher)
		metrics    = server.NewMetrics()
		admitter   = server.NewAdmitter(&configFile.Config, chains.Holder(), metrics)
		gate       = server.NewHTTPServer(&configFile.Config, admitter)
		envoyAuthz = server.NewExtAuthZFilter(&configFile.Config, admitter)
		grpcServer = server.New(&configFile.Config, envoyAuthz.Register)
		healthz    = server.NewHealthServer(&configFile.Config, metrics)
	)

	configLog := run.NewPreRunner("config-log", func() error {
		cfgLog := internal.Logger(internal.ConfigScope)
		if cfgLog.Level() == telemetry.LevelDebug {
			cfgLog.Debug("configuration loaded", "config", internal.ConfigToYAMLString(&configFile.Config))
		}
		return nil
	})

	g := run.Group{Logger: internal.Logger(internal.Default)}

	g.Register(
		configFile,        // load the configuration
		logging,           // Set up the logging system
		configLog,         // log the configuration
		watcher,           // watch the configuration file
		stores,            // principal stores
		jwks,              // start the JWKS provider
		chains,            // build the admission chain
		gate,              // start the HTTP gate
		grpcServer,        // start the ext_authz server
		healthz,           // start the health server
		&signal.Handler{}, // handle graceful termination
	)

	if err := g.Run(); err != nil {
		fmt.Printf("Unexpected exit: %v\n", err)
		os.Exit(-1)
	}
}
