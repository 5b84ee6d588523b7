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
	"encoding/json"
	"net/http"
	"time"

	"github.com/tetratelabs/telemetry"

	"github.com/istio-ecosystem/gateway-helper/internal"
	"github.com/istio-ecosystem/gateway-helper/internal/admission"
	inthttp "github.com/istio-ecosystem/gateway-helper/internal/http"
)

// ConfigPath is never subject to admission checks.
const ConfigPath = "/gateway-helper/config"

// Admitter runs the active admission chain and maps its outcome to a Disposition.
// It is shared by every transport.
type Admitter struct {
	log     telemetry.Logger
	cfg     *internal.Config
	chains  *admission.Holder
	metrics *Metrics
}

// NewAdmitter creates an Admitter over the chains published by the given holder.
// Metrics may be nil.
func NewAdmitter(cfg *internal.Config, chains *admission.Holder, metrics *Metrics) *Admitter {
	return &Admitter{
		log:     internal.Logger(internal.Admission),
		cfg:     cfg,
		chains:  chains,
		metrics: metrics,
	}
}

// Admit runs the chain for the given request.
func (a *Admitter) Admit(ctx context.Context, transport string, req admission.CheckRequest) inthttp.Disposition {
	start := time.Now()

	rc := admission.NewRequestContext(req)
	res := a.chains.Load().Execute(ctx, rc)
	d := inthttp.NewDisposition(rc.Response, a.cfg.GetJWTHeader())

	log := a.log.Context(ctx)
	switch d.StatusCode {
	case http.StatusOK:
		log.Debug("request 200", "transport", transport, "context", rc.String())
	case http.StatusForbidden:
		log.Info("request 403", "transport", transport, "context", rc.String())
	default:
		log.Info("request 500", "transport", transport, "context", rc.String(), "unit", res.Unit)
	}

	a.metrics.Observe(transport, d, res, time.Since(start))
	return d
}

type (
	configUnit struct {
		Name  string `json:"name"`
		Order int    `json:"order"`
	}

	configResponse struct {
		Units []configUnit `json:"units"`
	}
)

// ServeConfig reports the units of the active chain in execution order.
func (a *Admitter) ServeConfig(w http.ResponseWriter, _ *http.Request) {
	units := a.chains.Load().Units()
	resp := configResponse{Units: make([]configUnit, 0, len(units))}
	for _, u := range units {
		resp.Units = append(resp.Units, configUnit{Name: u.Name(), Order: u.Order()})
	}

	w.Header().Set(inthttp.HeaderContentType, inthttp.HeaderContentTypeJSON)
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		a.log.Error("failed to write config config response", err)
	}
}
