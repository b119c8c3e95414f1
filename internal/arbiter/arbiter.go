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

// Package arbiter implements the Uniqueness Arbiter of spec §4.7: given
// the CredentialsPassed slots, promote the deterministic,
// downgrade-attack-resistant subset to Running.
package arbiter

import (
	"sort"

	"k8s.io/klog/v2"

	"github.com/trustflash/kernel/internal/slot"
)

// Promote runs the Arbiter over every CredentialsPassed slot in t,
// promoting to Running the subset satisfying invariant I1, and returns
// that Running subset.
//
// Ordering (spec §4.7): version number descending, then container start
// address ascending. Descending-version-first defeats downgrade attacks
// where an older signed binary is re-flashed to shadow a newer one;
// address tie-break makes the result reproducible and testable.
//
// Per spec §9's resolved Open Question (see DESIGN.md), invariant I1 is
// enforced on BOTH the Application Identifier and the Short Identifier:
// a candidate promotes only if neither conflicts with any already-Running
// slot's corresponding identifier. LocallyUnique identifiers (and short
// identifiers) never conflict.
//
// Grounded on trusted_os/rpmb.go's checkVersion: the same
// "newer version wins, older is rejected" shape, applied here across
// candidates rather than across boots.
func Promote(t *slot.Table) []*slot.Slot {
	candidates := candidatesOf(t)
	sortCandidates(candidates)

	var running []*slot.Slot
	for _, c := range candidates {
		if conflicts(c, running) {
			klog.V(1).Infof("arbiter: slot %q blocked by identifier collision with an already-Running slot", c.DebugName)
			t.Demote(indexOf(t, c), slot.ReasonCollisionBlocked)
			continue
		}
		t.Promote(indexOf(t, c))
		running = append(running, c)
	}
	return running
}

func candidatesOf(t *slot.Table) []*slot.Slot {
	var out []*slot.Slot
	for _, s := range t.All() {
		if s.State() == slot.CredentialsPassed {
			out = append(out, s)
		}
	}
	return out
}

func sortCandidates(candidates []*slot.Slot) {
	sort.SliceStable(candidates, func(i, j int) bool {
		vi, vj := candidates[i].Container().Version(), candidates[j].Container().Version()
		if vi != vj {
			return vi > vj // descending
		}
		return candidates[i].Container().StartAddress < candidates[j].Container().StartAddress // ascending
	})
}

func conflicts(candidate *slot.Slot, running []*slot.Slot) bool {
	candApp, candShort := candidate.Identity()
	for _, r := range running {
		runApp, runShort := r.Identity()
		if candApp.ConflictsWith(runApp) || candShort.ConflictsWith(runShort) {
			return true
		}
	}
	return false
}

func indexOf(t *slot.Table, target *slot.Slot) int {
	for i, s := range t.All() {
		if s == target {
			return i
		}
	}
	return -1
}
