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

package credential

import (
	"context"

	"k8s.io/klog/v2"

	"github.com/trustflash/kernel/internal/container"
)

// Decision is the terminal outcome of running the Credentials Checking
// Policy over one container (spec §4.3).
type Decision int

const (
	DecidedAccept Decision = iota
	DecidedReject
)

func (d Decision) String() string {
	if d == DecidedAccept {
		return "Accept"
	}
	return "Reject"
}

// Policy implements the per-container state machine of spec §4.3:
// Idle -> Scanning(i) -> Decided(Accept|Reject) | Exhausted.
type Policy struct {
	// RequireCredentials gates the Exhausted outcome: true fails the
	// container when no footer decided, false passes it.
	RequireCredentials bool

	// PreferProgramHeader resolves spec §4.1's Program-Header-vs-Main-
	// Header precedence; the parser consults this via the caller, not
	// directly, since spec assigns the choice to this policy.
	PreferProgramHeader bool

	// MaxRetries bounds retries on a transient verifier Error before the
	// policy treats the footer as Reject (spec §5 recommends 3).
	MaxRetries int

	// The footer record that decided Accept is not stored here: Check
	// returns it, for the Identifier Policy (§4.4) to consume.
}

// DefaultPolicy returns the reference policy of spec §4.2: Error maps to
// Reject ("fail safe"), bounded retry per spec §5.
func DefaultPolicy() *Policy {
	return &Policy{
		RequireCredentials:  true,
		PreferProgramHeader: true,
		MaxRetries:          3,
	}
}

// FooterSource is the lazy footer iterator container.Parsed.Footers()
// returns. Declared as an interface here so this package need not name
// container's unexported iterator type.
type FooterSource interface {
	Next() (container.Record, bool)
	Err() error
}

// Check runs the state machine of spec §4.3 for one container: iterate
// footers in order, invoking engine on each, until Accept, Reject, or
// Exhausted. payload is the integrity range (container.Parsed.IntegrityRange)
// the verifier checks signatures over.
//
// A parser error surfaced mid-scan (footers.Err() after Next returns false)
// causes immediate Decided(Reject), per spec §4.3's failure semantics.
func (p *Policy) Check(ctx context.Context, engine *Engine, payload []byte, footers FooterSource) (Decision, container.Record, error) {
	for {
		rec, ok := footers.Next()
		if !ok {
			if err := footers.Err(); err != nil {
				return DecidedReject, container.Record{}, err
			}
			if p.RequireCredentials {
				return DecidedReject, container.Record{}, nil
			}
			return DecidedAccept, container.Record{}, nil
		}

		outcome, err := p.verifyWithRetry(ctx, engine, payload, rec)
		if err != nil {
			return DecidedReject, container.Record{}, err
		}
		switch outcome {
		case Accept:
			return DecidedAccept, rec, nil
		case Reject:
			return DecidedReject, container.Record{}, nil
		case Pass:
			continue
		default:
			// Error survives verifyWithRetry's bounded retries: fail safe.
			return DecidedReject, container.Record{}, nil
		}
	}
}

// verifyWithRetry retries a transient Error up to p.MaxRetries times
// before handing the caller a final Error outcome (spec §5 backpressure).
func (p *Policy) verifyWithRetry(ctx context.Context, engine *Engine, payload []byte, rec container.Record) (Outcome, error) {
	var last Outcome
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		out, err := engine.Verify(ctx, payload, rec)
		if err != nil {
			return Reject, err
		}
		if out != Error {
			return out, nil
		}
		last = out
		klog.V(2).Infof("credential: verifier Error, retry %d/%d", attempt+1, p.MaxRetries)
	}
	return last, nil
}
