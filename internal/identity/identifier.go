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

// Package identity implements the Identifier Policy of spec §4.4: the
// pure function identify(container, accepted_credential) ->
// ApplicationIdentifier, and the identifier sum type it produces.
package identity

import "crypto/subtle"

// Kind discriminates the ApplicationIdentifier sum type.
type Kind int

const (
	// Absent means the policy declined to assign a concrete identity.
	Absent Kind = iota
	// Concrete carries an opaque identity byte string, comparable across
	// containers.
	Concrete
	// LocallyUnique sentinel never conflicts with any other identifier,
	// including another LocallyUnique one (spec §4.7).
	LocallyUnique
)

// ApplicationIdentifier is the sum type of spec §4.4.
type ApplicationIdentifier struct {
	kind  Kind
	bytes []byte
}

// NewConcrete wraps an opaque identity byte string.
func NewConcrete(b []byte) ApplicationIdentifier {
	return ApplicationIdentifier{kind: Concrete, bytes: append([]byte(nil), b...)}
}

// NewLocallyUnique returns the never-conflicting sentinel.
func NewLocallyUnique() ApplicationIdentifier {
	return ApplicationIdentifier{kind: LocallyUnique}
}

// NewAbsent returns the absence-of-identity value.
func NewAbsent() ApplicationIdentifier {
	return ApplicationIdentifier{kind: Absent}
}

// Kind reports which variant this identifier is.
func (a ApplicationIdentifier) Kind() Kind { return a.kind }

// Bytes returns the Concrete variant's bytes, or nil otherwise.
func (a ApplicationIdentifier) Bytes() []byte { return a.bytes }

// ConflictsWith reports whether a and b must be treated as the same
// identity for promotion purposes (spec §4.7's invariant I1 input).
// LocallyUnique never conflicts with anything, including another
// LocallyUnique value. Absent never conflicts either: a policy that
// declines to assign an identity cannot be used to block a sibling.
//
// Concrete-vs-Concrete comparison is constant-time (spec §9): these bytes
// may be derived from secret material (e.g. the "global" HKDF strategy)
// and a timing side channel on equality would leak it.
func (a ApplicationIdentifier) ConflictsWith(b ApplicationIdentifier) bool {
	if a.kind != Concrete || b.kind != Concrete {
		return false
	}
	if len(a.bytes) != len(b.bytes) {
		return false
	}
	return subtle.ConstantTimeCompare(a.bytes, b.bytes) == 1
}
