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

package shortid

import (
	"testing"

	"github.com/trustflash/kernel/internal/identity"
)

func TestCompressLocallyUniqueInputProducesLocallyUniqueOutput(t *testing.T) {
	got := Compress(identity.NewLocallyUnique())
	if !got.IsLocallyUnique() {
		t.Errorf("Compress(LocallyUnique) = %+v, want LocallyUnique", got)
	}
}

func TestCompressDeterministic(t *testing.T) {
	id := identity.NewConcrete([]byte("same-application"))
	a := Compress(id)
	b := Compress(id)
	if a != b {
		t.Errorf("Compress is not deterministic: %+v != %+v", a, b)
	}
}

func TestCompressNeverProducesFixedZero(t *testing.T) {
	for _, input := range [][]byte{
		[]byte(""),
		[]byte("x"),
		[]byte("a longer application identifier byte string"),
	} {
		got := Compress(identity.NewConcrete(input))
		if !got.IsLocallyUnique() && got.Value() == 0 {
			t.Errorf("Compress(%q) produced Fixed(0), forbidden by spec", input)
		}
	}
}

func TestFixedZeroPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("Fixed(0) did not panic")
		}
	}()
	Fixed(0)
}

func TestShortIDConflicts(t *testing.T) {
	a := Fixed(42)
	b := Fixed(42)
	c := Fixed(43)
	if !a.ConflictsWith(b) {
		t.Errorf("equal Fixed values must conflict")
	}
	if a.ConflictsWith(c) {
		t.Errorf("distinct Fixed values must not conflict")
	}
	if a.ConflictsWith(LocallyUniqueShortID) {
		t.Errorf("Fixed vs LocallyUnique must never conflict")
	}
	if LocallyUniqueShortID.ConflictsWith(LocallyUniqueShortID) {
		t.Errorf("two LocallyUnique short identifiers must never conflict")
	}
}
