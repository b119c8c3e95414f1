// Copyright 2022 The Armored Witness OS authors. All Rights Reserved.
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

// Package credential implements the Credentials Checking Policy state
// machine of spec §4.3 against the Cryptographic Verifier contract of
// spec §4.2.
package credential

import (
	"context"

	"github.com/trustflash/kernel/internal/container"
)

// Outcome is the verifier's decision for one (payload, credential) pair.
type Outcome int

const (
	Accept Outcome = iota
	Pass
	Reject
	Error
)

func (o Outcome) String() string {
	switch o {
	case Accept:
		return "Accept"
	case Pass:
		return "Pass"
	case Reject:
		return "Reject"
	case Error:
		return "Error"
	default:
		return "Outcome(unknown)"
	}
}

// Future is the handle to an in-flight verification, mirroring the
// suspend-at-verifier-boundary contract of spec §5: the caller blocks on
// Wait until the engine produces a result, or the context is cancelled.
type Future struct {
	done chan struct{}
	out  Outcome
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(out Outcome, err error) {
	f.out = out
	f.err = err
	close(f.done)
}

// Wait blocks until the verification resolves or ctx is cancelled. A
// cancelled context surfaces as Reject per spec §5 ("cancellation surfaces
// as Reject to the policy").
func (f *Future) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-f.done:
		return f.out, f.err
	case <-ctx.Done():
		return Reject, ctx.Err()
	}
}

// Resolved returns an already-resolved Future, for Verifier
// implementations (real or test doubles) that can decide synchronously.
func Resolved(out Outcome) *Future {
	f := newFuture()
	f.resolve(out, nil)
	return f
}

// Verifier is the external collaborator of spec §4.2. Implementations must
// honor the one-outstanding-verification rule: Engine enforces this at the
// call site so individual Verifiers need not.
type Verifier interface {
	Verify(payload []byte, rec container.Record) *Future
}

// Engine serializes calls to a Verifier, enforcing "exactly one outstanding
// verification per checker instance" (spec §4.2).
type Engine struct {
	v    Verifier
	slot chan struct{} // capacity 1; held for the duration of a call
}

// NewEngine wraps v with the one-outstanding-verification discipline.
func NewEngine(v Verifier) *Engine {
	e := &Engine{v: v, slot: make(chan struct{}, 1)}
	e.slot <- struct{}{}
	return e
}

// Verify blocks until any prior verification has resolved, then issues a
// new one and waits for it.
func (e *Engine) Verify(ctx context.Context, payload []byte, rec container.Record) (Outcome, error) {
	select {
	case <-e.slot:
	case <-ctx.Done():
		return Reject, ctx.Err()
	}
	defer func() { e.slot <- struct{}{} }()

	f := e.v.Verify(payload, rec)
	return f.Wait(ctx)
}
