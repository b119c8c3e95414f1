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

// Package audit attests the Running set a Process-Load Driver run
// produces: a Merkle-leaf commitment of the set, signed and appended to a
// compressed on-disk log. This is not named in spec.md and gates no
// Check/Identify/Promote decision; it is an observability output produced
// strictly after spec §4.6 phase 4 has already decided the Running set.
package audit

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/transparency-dev/merkle/rfc6962"
	"golang.org/x/mod/sumdb/note"

	"github.com/trustflash/kernel/internal/slot"
)

// Entry is one boot-manifest record: which slots were Running, their
// identifiers, and when the Promote phase produced this set.
type Entry struct {
	BootedAt    int64 // Unix seconds; supplied by the caller, not time.Now
	RunningSlot []RunningSlot
}

// RunningSlot is the attested view of one promoted slot.
type RunningSlot struct {
	DebugName       string
	StartAddress    uint64
	Version         uint32
	ApplicationID   []byte
	ShortIdentifier uint32
	LocallyUnique   bool
}

// BuildEntry captures the given Running set into an Entry, at bootedAt
// (left to the caller so this package never calls time.Now itself).
func BuildEntry(running []*slot.Slot, bootedAt time.Time) Entry {
	e := Entry{BootedAt: bootedAt.Unix()}
	for _, s := range running {
		app, short := s.Identity()
		rs := RunningSlot{
			DebugName:     s.DebugName,
			StartAddress:  s.Container().StartAddress,
			Version:       s.Container().Version(),
			ApplicationID: app.Bytes(),
			LocallyUnique: short.IsLocallyUnique(),
		}
		if !short.IsLocallyUnique() {
			rs.ShortIdentifier = short.Value()
		}
		e.RunningSlot = append(e.RunningSlot, rs)
	}
	return e
}

// leafHash commits an Entry to a single RFC 6962 Merkle leaf hash, the
// same hasher cmd/proofbundle uses for its firmware-transparency-log
// leaves, echoing the teacher's attestation idiom rather than its exact
// log structure (this module keeps one entry per boot, not a full log
// tree).
func leafHash(e Entry) ([]byte, error) {
	b, err := encodeGob(e)
	if err != nil {
		return nil, err
	}
	return rfc6962.DefaultHasher.HashLeaf(b), nil
}

// Sign produces a signed note binding an Entry's leaf hash to this
// device, following key.go's attestID/attestNote shape: a fixed-format
// text body, signed with note.Sign.
//
// The note text is:
//
//	"Process Checker boot manifest v1"
//	<bootedAt Unix seconds in decimal>
//	<RunningSlot count in decimal>
//	<hex leaf hash>
func Sign(e Entry, signer note.Signer) (string, error) {
	hash, err := leafHash(e)
	if err != nil {
		return "", fmt.Errorf("leafHash: %w", err)
	}
	n := &note.Note{
		Text: fmt.Sprintf("Process Checker boot manifest v1\n%d\n%d\n%x\n", e.BootedAt, len(e.RunningSlot), hash),
	}
	signed, err := note.Sign(n, signer)
	if err != nil {
		return "", fmt.Errorf("note.Sign: %w", err)
	}
	return string(signed), nil
}

func encodeGob(e Entry) ([]byte, error) {
	var b bytes.Buffer
	if err := gob.NewEncoder(&b).Encode(e); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}
	return b.Bytes(), nil
}

// decodeGob is the encodeGob inverse. The log persists signed notes, not
// gob bytes, so Log.ReadAll does not call it.
func decodeGob(b []byte) (Entry, error) {
	var e Entry
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&e); err != nil {
		return Entry{}, fmt.Errorf("gob decode: %w", err)
	}
	return e, nil
}
