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
	"cmp"
	"context"
	"errors"
	"runtime/debug"
	"slices"
	"sync/atomic"

	"github.com/tetratelabs/telemetry"

	"github.com/istio-ecosystem/gateway-helper/internal"
)

// FaultMessagePrefix is prepended to the message of a response whose chain faulted.
const FaultMessagePrefix = "gateway helper error happened: "

// ErrNilResponse is the fault recorded when a unit clears the response of the context.
var ErrNilResponse = errors.New("check unit cleared the response")

// Outcome describes how a chain execution terminated.
type Outcome int

const (
	// Completed means every applicable unit ran and asked to continue.
	Completed Outcome = iota
	// ShortCircuited means a unit returned false from Run.
	ShortCircuited
	// Faulted means a unit returned an error or panicked.
	Faulted
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case ShortCircuited:
		return "short-circuited"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Result of a chain execution. The response itself is carried by the RequestContext.
type Result struct {
	Outcome Outcome
	// Unit is the name of the unit that stopped the chain, if any.
	Unit string
	// Err is the fault, if any.
	Err error
}

// Chain runs an ordered, immutable list of CheckUnits over a RequestContext.
// A Chain is safe for concurrent use.
type Chain struct {
	log   telemetry.Logger
	units []CheckUnit
}

// NewChain creates a chain with the given units sorted by Order. Units with the same
// order keep the order in which they were given.
func NewChain(units ...CheckUnit) *Chain {
	sorted := slices.Clone(units)
	slices.SortStableFunc(sorted, func(a, b CheckUnit) int { return cmp.Compare(a.Order(), b.Order()) })
	return &Chain{
		log:   internal.Logger(internal.Admission),
		units: sorted,
	}
}

// Units returns a copy of the units in execution order.
func (c *Chain) Units() []CheckUnit { return slices.Clone(c.units) }

// Len returns the number of units in the chain.
func (c *Chain) Len() int { return len(c.units) }

// Execute the chain over the given context. It never panics and never returns an
// error: any failure raised by a unit is recorded on the response as
// ExceptionGatewayHelper and no further units are executed.
func (c *Chain) Execute(ctx context.Context, rc *RequestContext) (result Result) {
	var current string

	defer func() {
		if r := recover(); r != nil {
			result = c.fault(ctx, rc, current, &PanicError{Value: r, Stack: debug.Stack()})
		}
	}()

	for _, u := range c.units {
		current = u.Name()
		if !u.ShouldFilter(ctx, rc) {
			continue
		}
		next, err := u.Run(ctx, rc)
		if err == nil && rc.Response == nil {
			err = ErrNilResponse
		}
		if err != nil {
			return c.fault(ctx, rc, current, err)
		}
		if !next {
			return Result{Outcome: ShortCircuited, Unit: current}
		}
	}

	return Result{Outcome: Completed}
}

func (c *Chain) fault(ctx context.Context, rc *RequestContext, unit string, err error) Result {
	if rc.Response == nil {
		rc.Response = &CheckResponse{}
	}
	rc.Response.Set(ExceptionGatewayHelper, FaultMessagePrefix+err.Error())

	var (
		pe    *PanicError
		stack []byte
	)
	if errors.As(err, &pe) {
		stack = pe.Stack
	} else {
		stack = debug.Stack()
	}
	c.log.Context(ctx).Info("check permission error", "unit", unit, "error", err, "stack", string(stack))

	return Result{Outcome: Faulted, Unit: unit, Err: err}
}

// Holder publishes the active chain. Replacing the chain does not affect executions
// that already loaded the previous one.
type Holder struct {
	chain atomic.Pointer[Chain]
}

// NewHolder creates a Holder publishing the given chain.
func NewHolder(c *Chain) *Holder {
	h := &Holder{}
	h.Store(c)
	return h
}

// Load returns the active chain. An empty chain is returned if none has been stored.
func (h *Holder) Load() *Chain {
	if c := h.chain.Load(); c != nil {
		return c
	}
	return NewChain()
}

// Store replaces the active chain.
func (h *Holder) Store(c *Chain) {
	if c == nil {
		c = NewChain()
	}
	h.chain.Store(c)
}
