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

// Package slot owns the fixed-capacity Process Slot Table the Process-Load
// Driver allocates into (spec §4.6): per-slot state, notification on state
// change, and terminal reason codes.
package slot

// State is the per-slot state machine of spec §4.6:
//
//	Unloaded -> CredentialsUnchecked -> {CredentialsFailed | CredentialsPassed}
//	         -> {Running | CredentialsPassed(retained)}
type State int

const (
	Unloaded State = iota
	CredentialsUnchecked
	CredentialsFailed
	CredentialsPassed
	Running
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "Unloaded"
	case CredentialsUnchecked:
		return "CredentialsUnchecked"
	case CredentialsFailed:
		return "CredentialsFailed"
	case CredentialsPassed:
		return "CredentialsPassed"
	case Running:
		return "Running"
	default:
		return "State(unknown)"
	}
}

// Reason records why a slot landed in a terminal state, for diagnostics.
// The boot-manifest attestation log does not record it.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonParseError
	ReasonCredentialsRejected
	ReasonCredentialsExhausted
	ReasonCollisionBlocked
	ReasonCapacityExhausted
	ReasonPromoted
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "None"
	case ReasonParseError:
		return "ParseError"
	case ReasonCredentialsRejected:
		return "CredentialsRejected"
	case ReasonCredentialsExhausted:
		return "CredentialsExhausted"
	case ReasonCollisionBlocked:
		return "CollisionBlocked"
	case ReasonCapacityExhausted:
		return "CapacityExhausted"
	case ReasonPromoted:
		return "Promoted"
	default:
		return "Reason(unknown)"
	}
}

// Sink is notified on every slot state transition. Implementations must
// not block the Load Driver for long: spec §5 designates the Driver as
// the sole mutator of slot state during loading, and a slow Sink would
// stall every subsequent phase.
type Sink interface {
	OnTransition(index int, from, to State, reason Reason)
}

// NopSink discards all transitions.
type NopSink struct{}

func (NopSink) OnTransition(int, State, State, Reason) {}
