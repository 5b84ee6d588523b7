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
	"bytes"
	"context"

	"github.com/tetratelabs/run"
	"github.com/tetratelabs/telemetry"

	"github.com/istio-ecosystem/gateway-helper/internal"
	"github.com/istio-ecosystem/gateway-helper/internal/admission"
	"github.com/istio-ecosystem/gateway-helper/internal/watch"
)

var _ run.PreRunner = (*ChainService)(nil)

// ChainService builds the admission chain at startup and rebuilds it when the configuration
// file changes. The active chain is published through the Holder.
type ChainService struct {
	log     telemetry.Logger
	config  *internal.LocalConfigFile
	builder *Builder
	watcher watch.Callbacker
	holder  *admission.Holder
}

// NewChainService creates a ChainService for the given configuration file. The watcher may be nil,
// in which case configuration changes are ignored.
func NewChainService(cfg *internal.LocalConfigFile, builder *Builder, watcher watch.Callbacker) *ChainService {
	return &ChainService{
		log:     internal.Logger(internal.ConfigScope),
		config:  cfg,
		builder: builder,
		watcher: watcher,
		holder:  admission.NewHolder(nil),
	}
}

// Name implements run.Unit.
func (c *ChainService) Name() string { return "Admission chain" }

// Holder returns the holder of the active chain.
func (c *ChainService) Holder() *admission.Holder { return c.holder }

// PreRun builds the initial chain and starts watching the configuration file if configured.
func (c *ChainService) PreRun() error {
	chain, err := c.builder.Build(context.Background(), &c.config.Config)
	if err != nil {
		return err
	}
	c.holder.Store(chain)
	c.log.Info("admission chain built", "checks", unitNames(chain))

	if !c.config.Config.WatchConfig || c.watcher == nil {
		return nil
	}

	c.log.Info("watching configuration file for changes", "file", c.config.Path())
	return c.watcher.Watch(c.config.Path(), c.reload)
}

// reload replaces the active chain with one built from the new configuration.
// Invalid configurations are logged and the current chain is kept.
func (c *ChainService) reload(d watch.Data) {
	log := c.log.With("file", d.Value.Name)

	if d.Err != nil {
		log.Error("error reading configuration file", d.Err)
		return
	}

	// Files are observed while being truncated and rewritten
	if len(bytes.TrimSpace(d.Value.Data)) == 0 {
		log.Info("empty configuration file, keeping the current admission chain")
		return
	}

	cfg, err := internal.ParseConfig(d.Value.Data)
	if err != nil {
		log.Error("invalid configuration, keeping the current admission chain", err)
		return
	}

	chain, err := c.builder.Build(context.Background(), cfg)
	if err != nil {
		log.Error("error building admission chain, keeping the current one", err)
		return
	}

	c.holder.Store(chain)
	log.Info("admission chain reloaded", "checks", unitNames(chain))
}

func unitNames(chain *admission.Chain) []string {
	units := chain.Units()
	names := make([]string, 0, len(units))
	for _, u := range units {
		names = append(names, u.Name())
	}
	return names
}
