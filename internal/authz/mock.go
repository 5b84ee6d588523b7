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
	"context"

	"github.com/istio-ecosystem/gateway-helper/internal"
	"github.com/istio-ecosystem/gateway-helper/internal/admission"
)

var _ admission.CheckUnit = (*mockUnit)(nil)

// mockUnit sets a fixed state on every request.
type mockUnit struct {
	unit
	state admission.CheckState
	cont  bool
}

// NewMockUnit creates a unit that always sets the configured state. Without configuration
// it lets every request through.
func NewMockUnit(cfg internal.CheckConfig) (admission.CheckUnit, error) {
	m := &mockUnit{unit: newUnit(cfg), state: admission.Success, cont: true}
	if cfg.Mock == nil {
		return m, nil
	}

	m.cont = cfg.Mock.Continue
	if cfg.Mock.State != "" {
		state, err := admission.ParseState(cfg.Mock.State)
		if err != nil {
			return nil, err
		}
		m.state = state
	}
	return m, nil
}

func (m *mockUnit) ShouldFilter(context.Context, *admission.RequestContext) bool { return true }

func (m *mockUnit) Run(ctx context.Context, rc *admission.RequestContext) (bool, error) {
	m.log.Context(ctx).Debug("process", "state", m.state, "continue", m.cont)
	rc.Response.Status = m.state
	return m.cont, nil
}
