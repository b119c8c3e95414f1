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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/trustflash/kernel/internal/identity"
	"github.com/trustflash/kernel/internal/shortid"
)

type recordingSink struct {
	transitions []transition
}

type transition struct {
	index    int
	from, to State
	reason   Reason
}

func (r *recordingSink) OnTransition(index int, from, to State, reason Reason) {
	r.transitions = append(r.transitions, transition{index, from, to, reason})
}

func TestAllocateSetsCredentialsUnchecked(t *testing.T) {
	sink := &recordingSink{}
	tbl := NewTable(2, sink)

	s, idx, err := tbl.Allocate(nil)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if idx != 0 {
		t.Errorf("idx = %d, want 0", idx)
	}
	if got := s.State(); got != CredentialsUnchecked {
		t.Errorf("State() = %v, want CredentialsUnchecked", got)
	}

	want := []transition{
		{0, Unloaded, CredentialsUnchecked, ReasonNone},
	}
	if diff := cmp.Diff(want, sink.transitions); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
}

func TestAllocateCapacityExhausted(t *testing.T) {
	tbl := NewTable(1, nil)
	if _, _, err := tbl.Allocate(nil); err != nil {
		t.Fatalf("first Allocate: %v", err)
	}
	_, _, err := tbl.Allocate(nil)
	if !errors.Is(err, ErrCapacityExhausted) {
		t.Errorf("second Allocate err = %v, want ErrCapacityExhausted", err)
	}
}

func TestCredentialsResultTransitions(t *testing.T) {
	tbl := NewTable(2, nil)
	_, idx, _ := tbl.Allocate(nil)

	tbl.SetCredentialsResult(idx, true, ReasonNone)
	if got := tbl.Get(idx).State(); got != CredentialsPassed {
		t.Errorf("State() = %v, want CredentialsPassed", got)
	}

	_, idx2, _ := tbl.Allocate(nil)
	tbl.SetCredentialsResult(idx2, false, ReasonCredentialsRejected)
	s2 := tbl.Get(idx2)
	if got := s2.State(); got != CredentialsFailed {
		t.Errorf("State() = %v, want CredentialsFailed", got)
	}
	if got := s2.Reason(); got != ReasonCredentialsRejected {
		t.Errorf("Reason() = %v, want ReasonCredentialsRejected", got)
	}
}

func TestPromoteAndDemote(t *testing.T) {
	tbl := NewTable(1, nil)
	_, idx, _ := tbl.Allocate(nil)
	tbl.SetCredentialsResult(idx, true, ReasonNone)

	tbl.Promote(idx)
	if got := tbl.Get(idx).State(); got != Running {
		t.Errorf("State() = %v, want Running", got)
	}

	tbl.Demote(idx, ReasonCollisionBlocked)
	s := tbl.Get(idx)
	if got := s.State(); got != CredentialsPassed {
		t.Errorf("State() = %v, want CredentialsPassed", got)
	}
	if got := s.Reason(); got != ReasonCollisionBlocked {
		t.Errorf("Reason() = %v, want ReasonCollisionBlocked", got)
	}
}

func TestSetIdentity(t *testing.T) {
	tbl := NewTable(1, nil)
	_, idx, _ := tbl.Allocate(nil)

	appID := identity.NewConcrete([]byte("app"))
	short := shortid.Compress(appID)
	tbl.SetIdentity(idx, appID, short)

	gotApp, gotShort := tbl.Get(idx).Identity()
	if !gotApp.ConflictsWith(appID) {
		t.Errorf("identity mismatch after SetIdentity")
	}
	if gotShort != short {
		t.Errorf("short identity mismatch after SetIdentity")
	}
}

func TestAllOrderIsAllocationOrder(t *testing.T) {
	tbl := NewTable(3, nil)
	tbl.Allocate(nil)
	tbl.Allocate(nil)
	tbl.Allocate(nil)

	all := tbl.All()
	if len(all) != 3 {
		t.Fatalf("len(All()) = %d, want 3", len(all))
	}
}
