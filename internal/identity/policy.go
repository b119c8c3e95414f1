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
	"crypto/sha256"
	"encoding/binary"
	"io"

	"github.com/coreos/go-semver/semver"
	"golang.org/x/crypto/hkdf"

	"github.com/trustflash/kernel/internal/container"
)

// Policy computes an ApplicationIdentifier for an accepted container.
// Implementations must be deterministic given the same inputs within a
// boot (spec §4.4); a Policy advertising Global must additionally be
// deterministic across boots and devices.
type Policy interface {
	Identify(c *container.Parsed, accepted container.Record) ApplicationIdentifier
	// Global reports whether this policy's mapping is stable across
	// boots and devices, not just within one boot.
	Global() bool
}

// ConcreteFromKey derives the identifier from the concrete bytes of the
// accepted credential's key, when one is present (RsaNNNNKey formats).
type ConcreteFromKey struct{}

func (ConcreteFromKey) Identify(_ *container.Parsed, accepted container.Record) ApplicationIdentifier {
	if key, _, _, ok := accepted.RSAKeyAndSignature(); ok {
		return NewConcrete(key)
	}
	return NewAbsent()
}

func (ConcreteFromKey) Global() bool { return true }

// EmbeddedID derives the identifier from the embedded id carried by a
// *WithID credential format, falling back to Absent otherwise.
type EmbeddedID struct{}

func (EmbeddedID) Identify(_ *container.Parsed, accepted container.Record) ApplicationIdentifier {
	if _, _, embedded, ok := accepted.RSAKeyAndSignature(); ok && embedded != nil {
		return NewConcrete(embedded)
	}
	if id, ok := accepted.CleartextID(); ok {
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, id)
		return NewConcrete(b)
	}
	return NewAbsent()
}

func (EmbeddedID) Global() bool { return true }

// PayloadHash derives the identifier from a hash of the container's
// payload: any two containers carrying byte-identical payloads collide by
// construction, which is acceptable per spec §4.4 ("two different
// containers MAY map to the same concrete identifier").
type PayloadHash struct{}

func (PayloadHash) Identify(c *container.Parsed, _ container.Record) ApplicationIdentifier {
	sum := sha256.Sum256(c.Payload())
	return NewConcrete(sum[:])
}

func (PayloadHash) Global() bool { return true }

// PackageName derives the identifier from the Main Header's package name
// field, when present.
type PackageName struct{}

func (PackageName) Identify(c *container.Parsed, _ container.Record) ApplicationIdentifier {
	if main, ok := c.Main(); ok && main.PackageName != "" {
		return NewConcrete([]byte(main.PackageName))
	}
	return NewAbsent()
}

func (PackageName) Global() bool { return true }

// Counter assigns sequential identifiers local to this boot. It is not
// Global: the same container gets a different identifier across boots
// depending on scan order.
type Counter struct {
	next uint64
}

func (c *Counter) Identify(_ *container.Parsed, _ container.Record) ApplicationIdentifier {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, c.next)
	c.next++
	return NewConcrete(b)
}

func (*Counter) Global() bool { return false }

// LocallyUniquePolicy always returns the never-conflicting sentinel.
type LocallyUniquePolicy struct{}

func (LocallyUniquePolicy) Identify(_ *container.Parsed, _ container.Record) ApplicationIdentifier {
	return NewLocallyUnique()
}

func (LocallyUniquePolicy) Global() bool { return false }

// globalCutover is the identifier-policy semantic version at which the
// HKDF-derived Global strategy below becomes available, mirroring the
// teacher's configureWakeHandler semver-gated rollout idiom: older
// configured policy versions keep using ConcreteFromKey so a live upgrade
// cannot silently reassign identities out from under already-Running
// slots.
var globalCutover = *semver.New("2.0.0")

// SelectGlobal picks GlobalHKDF if policyVersion is at or past the
// cutover, otherwise falls back to ConcreteFromKey.
func SelectGlobal(policyVersion semver.Version, diversifier []byte) Policy {
	if policyVersion.LessThan(globalCutover) {
		return ConcreteFromKey{}
	}
	return &GlobalHKDF{diversifier: diversifier}
}

// GlobalHKDF derives a deterministic, cross-boot, cross-device-stable
// identifier from a configured diversifier and the container's payload
// hash, following the teacher's deriveHKDF pattern (hash a diversifier
// down to a salt, then stretch through HKDF-SHA256), generalized here
// from "derive a per-device signing key" to "derive a stable identity
// byte string every device running the same Identifier Policy version
// agrees on". Unlike key.go's deriveHKDF, no device-unique secret enters
// this derivation: spec §4.4 requires a Global()==true policy's mapping
// to be deterministic across devices, and mixing in per-device material
// would make two devices disagree on the identifier for the same
// container.
type GlobalHKDF struct {
	diversifier []byte
}

func (g *GlobalHKDF) Identify(c *container.Parsed, _ container.Record) ApplicationIdentifier {
	payloadSum := sha256.Sum256(c.Payload())
	r := g.deriveHKDF(payloadSum[:])
	out := make([]byte, 32)
	if _, err := io.ReadFull(r, out); err != nil {
		return NewAbsent()
	}
	return NewConcrete(out)
}

func (*GlobalHKDF) Global() bool { return true }

// deriveHKDF mirrors key.go's deriveHKDF shape (hash a diversifier down to
// a fixed salt, then stretch through HKDF-SHA256), with the diversifier
// itself standing in for key.go's device secret as HKDF's IKM.
func (g *GlobalHKDF) deriveHKDF(info []byte) io.Reader {
	salt := sha256.Sum256(g.diversifier)
	return hkdf.New(sha256.New, g.diversifier, salt[:], info)
}
