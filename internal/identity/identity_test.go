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

package identity

import (
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/coreos/go-semver/semver"

	"github.com/trustflash/kernel/internal/container"
)

// buildMinimalContainer assembles the smallest valid container (a Program
// Header with no payload) for tests that need a real *container.Parsed.
func buildMinimalContainer(t *testing.T) *container.Parsed {
	t.Helper()
	const headerEnd = 16 + 6 + 20
	headerTLV := make([]byte, 6+20)
	binary.LittleEndian.PutUint32(headerTLV[0:4], 9) // Program Header type
	binary.LittleEndian.PutUint16(headerTLV[4:6], 20)
	binary.LittleEndian.PutUint32(headerTLV[6+12:6+16], uint32(headerEnd)) // binary_end_offset

	buf := make([]byte, 16)
	copy(buf[0:4], container.Magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], uint32(headerEnd))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(headerTLV)))
	sum := crc32.ChecksumIEEE(buf[0:12])
	binary.LittleEndian.PutUint32(buf[12:16], sum)
	buf = append(buf, headerTLV...)

	p, err := container.Parse(buf, 0, true)
	if err != nil {
		t.Fatalf("buildMinimalContainer: %v", err)
	}
	return p
}

func TestLocallyUniqueNeverConflicts(t *testing.T) {
	a := NewLocallyUnique()
	b := NewLocallyUnique()
	if a.ConflictsWith(b) {
		t.Errorf("two LocallyUnique identifiers must never conflict")
	}
}

func TestAbsentNeverConflicts(t *testing.T) {
	a := NewAbsent()
	b := NewAbsent()
	if a.ConflictsWith(b) {
		t.Errorf("two Absent identifiers must never conflict")
	}
}

func TestConcreteEqualBytesConflict(t *testing.T) {
	a := NewConcrete([]byte("same-identity"))
	b := NewConcrete([]byte("same-identity"))
	if !a.ConflictsWith(b) {
		t.Errorf("identical Concrete identifiers must conflict")
	}
}

func TestConcreteDifferentBytesNoConflict(t *testing.T) {
	a := NewConcrete([]byte("identity-one"))
	b := NewConcrete([]byte("identity-two"))
	if a.ConflictsWith(b) {
		t.Errorf("distinct Concrete identifiers must not conflict")
	}
}

func TestConcreteVsLocallyUniqueNoConflict(t *testing.T) {
	a := NewConcrete([]byte("identity"))
	b := NewLocallyUnique()
	if a.ConflictsWith(b) || b.ConflictsWith(a) {
		t.Errorf("Concrete and LocallyUnique must never conflict")
	}
}

func TestCounterIsSequentialAndDistinct(t *testing.T) {
	c := &Counter{}
	first := c.Identify(nil, container.Record{})
	second := c.Identify(nil, container.Record{})
	if first.ConflictsWith(second) {
		t.Errorf("sequential Counter identifiers must be distinct")
	}
	if c.Global() {
		t.Errorf("Counter must not advertise Global")
	}
}

func TestSelectGlobalCutover(t *testing.T) {
	div := []byte("app-identity")

	pre := SelectGlobal(*semver.New("1.9.0"), div)
	if _, ok := pre.(ConcreteFromKey); !ok {
		t.Errorf("pre-cutover policy = %T, want ConcreteFromKey", pre)
	}

	post := SelectGlobal(*semver.New("2.0.0"), div)
	if _, ok := post.(*GlobalHKDF); !ok {
		t.Errorf("post-cutover policy = %T, want *GlobalHKDF", post)
	}
	if !post.Global() {
		t.Errorf("GlobalHKDF.Global() = false, want true")
	}
}

func TestGlobalHKDFDeterministic(t *testing.T) {
	div := []byte("app-identity")
	g1 := &GlobalHKDF{diversifier: div}
	g2 := &GlobalHKDF{diversifier: div}

	c := buildMinimalContainer(t)
	a := g1.Identify(c, container.Record{})
	b := g2.Identify(c, container.Record{})
	if !a.ConflictsWith(b) {
		t.Errorf("GlobalHKDF must be deterministic for identical diversifier+payload")
	}
}

// TestGlobalHKDFCrossDeviceStable simulates two devices that each build
// their own GlobalHKDF independently (as SelectGlobal does on every boot):
// a Global()==true policy must agree across devices, per spec §4.4, so
// nothing device-unique may enter the derivation.
func TestGlobalHKDFCrossDeviceStable(t *testing.T) {
	div := []byte("app-identity")
	deviceA := SelectGlobal(*semver.New("2.0.0"), div).(*GlobalHKDF)
	deviceB := SelectGlobal(*semver.New("2.0.0"), div).(*GlobalHKDF)

	c := buildMinimalContainer(t)
	a := deviceA.Identify(c, container.Record{})
	b := deviceB.Identify(c, container.Record{})
	if !a.ConflictsWith(b) {
		t.Errorf("GlobalHKDF identifiers diverged across independently-constructed devices for the same diversifier and container")
	}
}
