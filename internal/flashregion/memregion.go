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

package flashregion

import "io"

// MemRegion is an in-memory Region fixture, the flashregion analogue of
// the teacher's MemDev: tests build a flash image in a []byte and scan it
// without touching real storage.
type MemRegion struct {
	base uint64
	buf  []byte

	// OnRead, if set, is called after every ReadAt, mirroring MemDev's
	// OnBlockWritten observation hook.
	OnRead func(offset uint64, n int)
}

// NewMemRegion wraps buf as a Region starting at base.
func NewMemRegion(base uint64, buf []byte) *MemRegion {
	return &MemRegion{base: base, buf: buf}
}

func (m *MemRegion) Base() uint64 { return m.base }
func (m *MemRegion) Len() uint64  { return uint64(len(m.buf)) }

func (m *MemRegion) ReadAt(p []byte, offset uint64) (int, error) {
	if offset >= uint64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[offset:])
	if m.OnRead != nil {
		m.OnRead(offset, n)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
