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

// Package loader implements the Process-Load Driver of spec §4.6: the
// strictly-ordered Scan -> Check -> Identify -> Promote phase sequence
// over the Process Slot Table.
package loader

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/goombaio/namegenerator"
	"k8s.io/klog/v2"

	"github.com/trustflash/kernel/internal/arbiter"
	"github.com/trustflash/kernel/internal/container"
	"github.com/trustflash/kernel/internal/credential"
	"github.com/trustflash/kernel/internal/flashregion"
	"github.com/trustflash/kernel/internal/identity"
	"github.com/trustflash/kernel/internal/shortid"
	"github.com/trustflash/kernel/internal/slot"
)

// Driver owns the Process Slot Table and runs the four phases of spec
// §4.6 over a flash region.
type Driver struct {
	Region flashregion.Region
	Table  *slot.Table

	Policy         *credential.Policy
	Engine         *credential.Engine
	IdentityPolicy identity.Policy

	// NameSeed seeds the debug-name generator used for every slot's
	// DebugName; a fixed seed makes a Run's names reproducible in tests.
	NameSeed int64
}

// baseHeaderPeekSize is large enough to hold the base header's
// totalLength field (spec §6: magic(4) + totalLength(4) + ...) without
// requiring a second round trip for well-formed containers.
const baseHeaderPeekSize = 16

// Run executes Scan, Check, Identify, and Promote in order, returning the
// final Running set. Each phase fully completes before the next starts
// (spec §4.6).
func (d *Driver) Run(ctx context.Context) ([]*slot.Slot, error) {
	if err := d.scan(ctx); err != nil {
		return nil, err
	}
	if err := d.check(ctx); err != nil {
		return nil, err
	}
	d.identify()
	return d.promote(), nil
}

// scan walks d.Region from its lowest address upward, allocating a slot
// for each valid container it parses. It stops at the first invalid
// entry, at the region's end, or once the table is full (spec §4.6 point
// 1: "Invalid containers between valid ones terminate the scan").
//
// Grounded on the original source's
// find_dynamic_start_address_of_writable_flash_advanced: the cursor
// advances by each entry's own declared length rather than a fixed
// stride, and any entry that fails to parse ends the scannable region.
func (d *Driver) scan(ctx context.Context) error {
	rng := namegenerator.NewNameGenerator(d.NameSeed)
	var offset uint64

	for offset < d.Region.Len() {
		if err := ctx.Err(); err != nil {
			return err
		}

		peek := make([]byte, baseHeaderPeekSize)
		n, _ := d.Region.ReadAt(peek, offset)
		if n < baseHeaderPeekSize {
			klog.V(1).Infof("loader: scan stopped at offset %d: short of base header", offset)
			break
		}
		totalLength := binary.LittleEndian.Uint32(peek[4:8])

		buf := make([]byte, totalLength)
		n, _ = d.Region.ReadAt(buf, offset)
		buf = buf[:n]

		addr := d.Region.Base() + offset
		c, err := container.Parse(buf, addr, d.Policy.PreferProgramHeader)
		if err != nil {
			klog.V(1).Infof("loader: scan stopped at offset %d: %v", offset, err)
			break
		}

		s, idx, err := d.Table.Allocate(c)
		if errors.Is(err, slot.ErrCapacityExhausted) {
			klog.V(1).Infof("loader: scan stopped at offset %d: table capacity exhausted", offset)
			break
		}
		if err != nil {
			return err
		}
		s.DebugName = rng.Generate()
		klog.Infof("loader: slot %d allocated at %#x len %d (%s)", idx, addr, c.Len(), s.DebugName)

		offset += uint64(c.Len())
	}
	return nil
}

// check runs the Credentials Checking Policy over every slot in scan
// (address-ascending) order, per spec §4.3 and §5.
func (d *Driver) check(ctx context.Context) error {
	for idx, s := range d.Table.All() {
		c := s.Container()
		decision, _, err := d.Policy.Check(ctx, d.Engine, c.IntegrityRange(), c.Footers())
		passed := decision == credential.DecidedAccept

		reason := slot.ReasonNone
		if !passed {
			reason = slot.ReasonCredentialsRejected
			if err != nil {
				klog.Warningf("loader: check error on slot %d at %#x: %v", idx, c.StartAddress, err)
			}
		}
		d.Table.SetCredentialsResult(idx, passed, reason)
	}
	return nil
}

// identify computes Application and Short identifiers for every
// CredentialsPassed slot (spec §4.6 point 3), re-deciding which footer
// record accepted the container so the Identifier Policy can consume it.
func (d *Driver) identify() {
	for idx, s := range d.Table.All() {
		if s.State() != slot.CredentialsPassed {
			continue
		}
		c := s.Container()
		_, accepted, _ := d.Policy.Check(context.Background(), d.Engine, c.IntegrityRange(), c.Footers())

		appID := d.IdentityPolicy.Identify(c, accepted)
		short := shortid.Compress(appID)
		d.Table.SetIdentity(idx, appID, short)
	}
}

// promote delegates to the Uniqueness Arbiter and returns the resulting
// Running set (spec §4.6 point 4, §4.7).
func (d *Driver) promote() []*slot.Slot {
	return arbiter.Promote(d.Table)
}
