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

// Package flashregion is the Process-Load Driver's view of the flash
// region it scans (spec §4.6): a byte-addressable, read-only span the
// Driver walks from its lowest address upward.
package flashregion

// Region is a contiguous, byte-addressable span of flash. Implementations
// need not keep the whole span resident: ReadAt is the only primitive the
// Scan phase requires.
type Region interface {
	// Base is the address of the first byte of the region.
	Base() uint64
	// Len is the total number of bytes in the region.
	Len() uint64
	// ReadAt returns up to len(p) bytes starting at the given offset
	// from Base, short only at the end of the region.
	ReadAt(p []byte, offset uint64) (int, error)
}
