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

package slot

import (
	"fmt"
	"sync"

	"k8s.io/klog/v2"

	"github.com/trustflash/kernel/internal/container"
	"github.com/trustflash/kernel/internal/identity"
	"github.com/trustflash/kernel/internal/shortid"
)

// Slot is one entry of the Process Slot Table: the parsed container it was
// allocated for, plus whatever the Check/Identify phases have attached.
type Slot struct {
	mu sync.RWMutex

	state  State
	reason Reason

	container *container.Parsed

	appID identity.ApplicationIdentifier
	short shortid.ShortID

	// DebugName is a human-friendly name the Process-Load Driver assigns
	// to every slot at Scan, purely for logs and the boot manifest.
	DebugName string
}

// State returns the slot's current state.
func (s *Slot) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Reason returns the slot's terminal reason code, if any.
func (s *Slot) Reason() Reason {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reason
}

// Container returns the parsed container this slot was allocated for.
func (s *Slot) Container() *container.Parsed {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.container
}

// Identity returns the slot's Application and Short identifiers, valid
// once the slot has passed the Identify phase.
func (s *Slot) Identity() (identity.ApplicationIdentifier, shortid.ShortID) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.appID, s.short
}

// Table is the fixed-capacity Process Slot Table owned by the
// Process-Load Driver (spec §4.6). Slots are allocated in address order
// during Scan and never reordered afterward.
type Table struct {
	mu    sync.RWMutex
	slots []*Slot
	cap   int
	sink  Sink
}

// NewTable allocates an empty table with room for capacity slots.
func NewTable(capacity int, sink Sink) *Table {
	if sink == nil {
		sink = NopSink{}
	}
	return &Table{cap: capacity, sink: sink}
}

// Capacity returns the table's fixed slot capacity.
func (t *Table) Capacity() int {
	return t.cap
}

// Len returns the number of slots currently allocated.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.slots)
}

// Allocate reserves the next slot for c, in Unloaded state, and
// transitions it immediately to CredentialsUnchecked (spec §4.6 Scan:
// "allocate a slot and set state CredentialsUnchecked"). It returns
// ErrCapacityExhausted if the table is full.
func (t *Table) Allocate(c *container.Parsed) (*Slot, int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.slots) >= t.cap {
		return nil, -1, ErrCapacityExhausted
	}
	s := &Slot{state: Unloaded, container: c}
	idx := len(t.slots)
	t.slots = append(t.slots, s)
	if c != nil {
		klog.V(2).Infof("slot: allocated index %d at address %#x", idx, c.StartAddress)
	}

	t.transition(idx, s, CredentialsUnchecked, ReasonNone)
	return s, idx, nil
}

// Get returns the slot at index, or nil if out of range.
func (t *Table) Get(index int) *Slot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if index < 0 || index >= len(t.slots) {
		return nil
	}
	return t.slots[index]
}

// All returns a snapshot slice of every allocated slot, in allocation
// (address-ascending) order.
func (t *Table) All() []*Slot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Slot, len(t.slots))
	copy(out, t.slots)
	return out
}

// SetCredentialsResult transitions slot index to CredentialsPassed or
// CredentialsFailed, recording why.
func (t *Table) SetCredentialsResult(index int, passed bool, reason Reason) {
	t.mu.RLock()
	s := t.slots[index]
	t.mu.RUnlock()

	to := CredentialsFailed
	if passed {
		to = CredentialsPassed
	}
	t.transition(index, s, to, reason)
}

// SetIdentity attaches the Identify phase's output to slot index.
func (t *Table) SetIdentity(index int, appID identity.ApplicationIdentifier, short shortid.ShortID) {
	t.mu.RLock()
	s := t.slots[index]
	t.mu.RUnlock()

	s.mu.Lock()
	s.appID = appID
	s.short = short
	s.mu.Unlock()
}

// Promote transitions slot index to Running. Callers (the Uniqueness
// Arbiter) are responsible for having already checked invariant I1.
func (t *Table) Promote(index int) {
	t.mu.RLock()
	s := t.slots[index]
	t.mu.RUnlock()
	t.transition(index, s, Running, ReasonPromoted)
}

// Demote sets slot index to CredentialsPassed with the given reason,
// whether it was Running or already CredentialsPassed. The Uniqueness
// Arbiter calls it to record ReasonCollisionBlocked on a candidate it
// leaves unpromoted.
func (t *Table) Demote(index int, reason Reason) {
	t.mu.RLock()
	s := t.slots[index]
	t.mu.RUnlock()
	t.transition(index, s, CredentialsPassed, reason)
}

func (t *Table) transition(index int, s *Slot, to State, reason Reason) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.reason = reason
	s.mu.Unlock()

	klog.V(1).Infof("slot %d: %s -> %s (%s)", index, from, to, reason)
	t.sink.OnTransition(index, from, to, reason)
}

// ErrCapacityExhausted is returned by Allocate once the table is full
// (spec §4.6 Scan: "Stop ... when slots are exhausted").
var ErrCapacityExhausted = fmt.Errorf("slot: capacity exhausted")
