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

package admission

import (
	"context"
	"fmt"
)

// CheckUnit is a single, independently pluggable step of the admission chain.
//
// Implementations are shared by all concurrent requests and must not store
// request-scoped state in their own fields. Any blocking work done in Run must be
// bounded by the unit itself.
type CheckUnit interface {
	// Name identifies the unit in logs, metrics and the config config.
	Name() string
	// Order is the position of the unit in the chain. Lower values run first.
	Order() int
	// ShouldFilter returns true if the unit applies to the given request.
	ShouldFilter(ctx context.Context, rc *RequestContext) bool
	// Run the unit over the context. Returning false stops the chain with the
	// current response status.
	Run(ctx context.Context, rc *RequestContext) (bool, error)
}

// PanicError wraps a value recovered from a panicking unit.
type PanicError struct {
	Value any
	Stack []byte
}

func (p *PanicError) Error() string { return fmt.Sprintf("panic: %v", p.Value) }

// Func adapts a pair of functions into a CheckUnit.
type Func struct {
	UnitName  string
	UnitOrder int
	Applies   func(ctx context.Context, rc *RequestContext) bool
	Do        func(ctx context.Context, rc *RequestContext) (bool, error)
}

var _ CheckUnit = Func{}

func (f Func) Name() string { return f.UnitName }
func (f Func) Order() int   { return f.UnitOrder }

func (f Func) ShouldFilter(ctx context.Context, rc *RequestContext) bool {
	if f.Applies == nil {
		return true
	}
	return f.Applies(ctx, rc)
}

func (f Func) Run(ctx context.Context, rc *RequestContext) (bool, error) {
	if f.Do == nil {
		return true, nil
	}
	return f.Do(ctx, rc)
}
