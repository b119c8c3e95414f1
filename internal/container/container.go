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

package container

import "hash/crc32"

// Parsed is a read-only view over one container: header fields, the
// payload slice, and the footer region. None of its slices copy the
// backing buffer.
type Parsed struct {
	// StartAddress is the flash address Buf begins at, used by the
	// Uniqueness Arbiter's address tie-break (spec §4.7).
	StartAddress uint64

	buf []byte

	headerEnd       int
	binaryEndOffset int
	containerEnd    int

	program *ProgramHeader
	main    *MainHeader
}

// Program returns the Program Header, if the container carried one.
func (p *Parsed) Program() (*ProgramHeader, bool) {
	return p.program, p.program != nil
}

// Main returns the Main Header, if the container carried one.
func (p *Parsed) Main() (*MainHeader, bool) {
	return p.main, p.main != nil
}

// Version returns the container's declared version, defaulting to 0 per
// spec §4.7 ("Containers without a version header are assigned version 0").
func (p *Parsed) Version() uint32 {
	if p.program != nil {
		return p.program.Version
	}
	return 0
}

// Payload returns the executable payload slice, [header_end,
// binary_end_offset).
func (p *Parsed) Payload() []byte {
	return p.buf[p.headerEnd:p.binaryEndOffset]
}

// IntegrityRange returns the bytes any integrity value in a credential
// record is computed over: [0, binary_end_offset) of the container,
// per spec §3.
func (p *Parsed) IntegrityRange() []byte {
	return p.buf[0:p.binaryEndOffset]
}

// QuickCRC32 is a cheap, non-cryptographic sanity check over the integrity
// range, grounded on the original source's cal_crc32_posix (see
// SPEC_FULL.md §C). It is never a substitute for credential verification.
func (p *Parsed) QuickCRC32() uint32 {
	return crc32.ChecksumIEEE(p.IntegrityRange())
}

// Footers returns a lazy, non-copying iterator over the footer region.
func (p *Parsed) Footers() *footerIterator {
	return &footerIterator{buf: p.buf[p.binaryEndOffset:p.containerEnd]}
}

// Len returns the total declared length of the container.
func (p *Parsed) Len() int {
	return p.containerEnd
}

// PreferProgramHeader controls which header's binary_end_offset wins when
// both a Program Header and a Main Header are present; spec §4.1 assigns
// this choice to the Credentials Checking Policy, defaulting to true
// ("prefer Program Header when the kernel understands credentials").
func Parse(buf []byte, startAddress uint64, preferProgramHeader bool) (*Parsed, error) {
	totalLength, headerTLVLength, err := parseBaseHeader(buf)
	if err != nil {
		return nil, err
	}
	if uint64(totalLength) > uint64(len(buf)) {
		return nil, newParseError(KindTruncated, "declared total length %d exceeds available %d bytes", totalLength, len(buf))
	}

	headerTLVStart := baseHeaderLength
	headerTLVEnd := headerTLVStart + int(headerTLVLength)
	if headerTLVEnd > int(totalLength) {
		return nil, newParseError(KindInconsistentOffsets, "header TLV region [%d,%d) exceeds container length %d", headerTLVStart, headerTLVEnd, totalLength)
	}

	h, err := parseHeaderTLVs(buf[headerTLVStart:headerTLVEnd])
	if err != nil {
		return nil, err
	}
	if h.program == nil && h.main == nil {
		return nil, newParseError(KindInconsistentOffsets, "no known header present")
	}

	containerEnd := int(totalLength)
	headerEnd := headerTLVEnd

	binaryEndOffset := containerEnd
	switch {
	case h.program != nil && h.main != nil:
		if preferProgramHeader {
			binaryEndOffset = int(h.program.BinaryEndOffset)
		} else if h.main.HasEndOffset {
			binaryEndOffset = int(h.main.BinaryEndOffset)
		} else {
			binaryEndOffset = int(h.program.BinaryEndOffset)
		}
	case h.program != nil:
		binaryEndOffset = int(h.program.BinaryEndOffset)
	case h.main != nil && h.main.HasEndOffset:
		binaryEndOffset = int(h.main.BinaryEndOffset)
	default:
		// Neither header indicates an end offset: binary_end_offset =
		// container_end and the footer iterator is empty (spec §4.1).
		binaryEndOffset = containerEnd
	}

	// Invariant C1: header_end <= binary_end_offset <= container_end.
	if !(headerEnd <= binaryEndOffset && binaryEndOffset <= containerEnd) {
		return nil, newParseError(KindInconsistentOffsets, "invariant C1 violated: header_end=%d binary_end_offset=%d container_end=%d", headerEnd, binaryEndOffset, containerEnd)
	}

	return &Parsed{
		StartAddress:    startAddress,
		buf:             buf[:containerEnd],
		headerEnd:       headerEnd,
		binaryEndOffset: binaryEndOffset,
		containerEnd:    containerEnd,
		program:         h.program,
		main:            h.main,
	}, nil
}
