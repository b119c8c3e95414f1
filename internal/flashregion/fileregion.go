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

import (
	"io"
	"os"
)

// MaxTransferBytes bounds a single underlying os.File.ReadAt call, mirroring
// the teacher's storage.Device chunking discipline for large flash images.
const MaxTransferBytes = 32 * 1024

// FileRegion is a Region backed by a flash image file on disk, used by
// flashctl/loadctl outside of tests.
type FileRegion struct {
	f    *os.File
	base uint64
	size uint64
}

// OpenFileRegion opens path as a Region starting at base.
func OpenFileRegion(path string, base uint64) (*FileRegion, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileRegion{f: f, base: base, size: uint64(info.Size())}, nil
}

func (r *FileRegion) Base() uint64 { return r.base }
func (r *FileRegion) Len() uint64  { return r.size }

func (r *FileRegion) Close() error { return r.f.Close() }

// ReadAt chunks large reads at MaxTransferBytes, the same discipline the
// teacher's storage.Device applies to its RPC-backed transport.
func (r *FileRegion) ReadAt(p []byte, offset uint64) (int, error) {
	total := 0
	for total < len(p) {
		chunk := len(p) - total
		if chunk > MaxTransferBytes {
			chunk = MaxTransferBytes
		}
		n, err := r.f.ReadAt(p[total:total+chunk], int64(offset)+int64(total))
		total += n
		if err != nil {
			if err == io.EOF {
				return total, io.EOF
			}
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}
