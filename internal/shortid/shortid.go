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

// Package shortid implements the Short-Identifier Compressor of spec
// §4.5: the pure function compress(application_identifier) ->
// ShortIdentifier.
package shortid

import (
	"github.com/zeebo/blake3"

	"github.com/trustflash/kernel/internal/identity"
)

// ShortID is a 32-bit compressed identifier. The zero value, Fixed(0), is
// forbidden by spec §4.5 ("0 is reserved to encode LocallyUnique"); use
// LocallyUniqueShortID instead.
type ShortID struct {
	locallyUnique bool
	value         uint32
}

// LocallyUniqueShortID is the never-conflicting sentinel short identifier.
var LocallyUniqueShortID = ShortID{locallyUnique: true}

// Fixed builds a concrete ShortID. It panics on v == 0: callers must remap
// the rare hash collision with zero before calling this, per spec §4.5 —
// panicking here catches a policy bug rather than silently creating a
// sentinel-colliding value.
func Fixed(v uint32) ShortID {
	if v == 0 {
		panic("shortid: Fixed(0) is forbidden; 0 encodes LocallyUnique")
	}
	return ShortID{value: v}
}

// IsLocallyUnique reports whether s is the never-conflicting sentinel.
func (s ShortID) IsLocallyUnique() bool { return s.locallyUnique }

// Value returns the concrete 32-bit value. Calling it on a LocallyUnique
// ShortID returns 0, which callers must not mistake for Fixed(0); check
// IsLocallyUnique first.
func (s ShortID) Value() uint32 { return s.value }

// ConflictsWith mirrors identity.ApplicationIdentifier.ConflictsWith:
// LocallyUnique never conflicts with anything, concrete values conflict
// iff numerically equal.
func (s ShortID) ConflictsWith(o ShortID) bool {
	if s.locallyUnique || o.locallyUnique {
		return false
	}
	return s.value == o.value
}

// Compress implements spec §4.5: LocallyUnique application identifiers
// compress to the LocallyUnique short identifier; concrete identifiers
// compress to the low 32 bits of a BLAKE3 digest of their bytes, remapped
// away from zero (the sentinel value) by flipping the top bit, which
// keeps the mapping a pure function of the input while never landing on
// the forbidden Fixed(0).
func Compress(id identity.ApplicationIdentifier) ShortID {
	switch id.Kind() {
	case identity.LocallyUnique, identity.Absent:
		return LocallyUniqueShortID
	default:
		sum := blake3.Sum256(id.Bytes())
		v := uint32(sum[0]) | uint32(sum[1])<<8 | uint32(sum[2])<<16 | uint32(sum[3])<<24
		if v == 0 {
			v = 1 << 31
		}
		return Fixed(v)
	}
}
