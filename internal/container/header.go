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

// Package container parses a flash-resident binary container into a header
// set, a delimited executable payload, and a footer list of typed
// credential records, per spec §4.1 and §6.
package container

import (
	"encoding/binary"
	"hash/crc32"
)

// Magic identifies the start of a container's base header.
var Magic = [4]byte{'P', 'C', 'K', '1'}

const (
	baseHeaderLength = 16 // magic(4) + totalLength(4) + headerTLVLength(4) + checksum(4)

	// Header TLV types.
	headerTypeMainHeader    = 1
	headerTypeProgramHeader = 9

	// Spec §6 labels the Program Header TLV "length 16" but then lists five
	// little-endian u32 fields (init_fn_offset, protected_size,
	// minimum_ram_size, binary_end_offset, version), which is 20 bytes.
	// Five u32s cannot fit in 16 bytes; we follow the field list, not the
	// stated length, and record this as a resolved Open Question in
	// DESIGN.md.
	programHeaderLength = 20
)

// ProgramHeader is the type-9 header TLV of spec §6: init_fn_offset,
// protected_size, minimum_ram_size, binary_end_offset, version, all
// little-endian u32.
type ProgramHeader struct {
	InitFnOffset    uint32
	ProtectedSize   uint32
	MinimumRAMSize  uint32
	BinaryEndOffset uint32
	Version         uint32
}

// MainHeader is the fallback header carrying the package name and, absent a
// Program Header, the binary end offset.
type MainHeader struct {
	PackageName     string
	BinaryEndOffset uint32
	HasEndOffset    bool
}

// header is the parsed base header plus whichever of Program/Main headers
// were present.
type header struct {
	totalLength uint32

	program    *ProgramHeader
	main       *MainHeader
}

// parseBaseHeader validates the magic and checksum of the first
// baseHeaderLength bytes and returns the declared total container length
// and the length, in bytes, of the header TLV region that follows.
//
// The checksum covers bytes [0, 12) (magic, totalLength, headerTLVLength);
// the checksum field itself is excluded.
func parseBaseHeader(buf []byte) (totalLength, headerTLVLength uint32, err error) {
	if len(buf) < baseHeaderLength {
		return 0, 0, newParseError(KindTruncated, "need %d bytes for base header, have %d", baseHeaderLength, len(buf))
	}
	if [4]byte(buf[0:4]) != Magic {
		return 0, 0, newParseError(KindBadMagic, "got %x", buf[0:4])
	}
	totalLength = binary.LittleEndian.Uint32(buf[4:8])
	headerTLVLength = binary.LittleEndian.Uint32(buf[8:12])
	wantSum := binary.LittleEndian.Uint32(buf[12:16])
	if gotSum := crc32.ChecksumIEEE(buf[0:12]); gotSum != wantSum {
		return 0, 0, newParseError(KindBadChecksum, "want %#x got %#x", wantSum, gotSum)
	}
	return totalLength, headerTLVLength, nil
}

// parseHeaderTLVs walks the header TLV region, populating the Program
// and/or Main header if present. Duplicate Program Headers are rejected.
func parseHeaderTLVs(buf []byte) (*header, error) {
	h := &header{}
	off := 0
	for off < len(buf) {
		if off+6 > len(buf) {
			return nil, newParseError(KindTruncated, "header TLV prefix truncated at offset %d", off)
		}
		typ := binary.LittleEndian.Uint32(buf[off : off+4])
		length := binary.LittleEndian.Uint16(buf[off+4 : off+6])
		dataStart := off + 6
		dataEnd := dataStart + int(length)
		if dataEnd > len(buf) {
			return nil, newParseError(KindTruncated, "header TLV type %d declares length %d past header end", typ, length)
		}
		data := buf[dataStart:dataEnd]

		switch typ {
		case headerTypeProgramHeader:
			if h.program != nil {
				return nil, newParseError(KindDuplicateProgramHeader, "")
			}
			if len(data) != programHeaderLength {
				return nil, newParseError(KindInconsistentOffsets, "program header length %d, want %d", len(data), programHeaderLength)
			}
			h.program = &ProgramHeader{
				InitFnOffset:    binary.LittleEndian.Uint32(data[0:4]),
				ProtectedSize:   binary.LittleEndian.Uint32(data[4:8]),
				MinimumRAMSize:  binary.LittleEndian.Uint32(data[8:12]),
				BinaryEndOffset: binary.LittleEndian.Uint32(data[12:16]),
				Version:         binary.LittleEndian.Uint32(data[16:20]),
			}
		case headerTypeMainHeader:
			if len(data) < 4 {
				return nil, newParseError(KindInconsistentOffsets, "main header too short")
			}
			nameLen := binary.LittleEndian.Uint16(data[0:2])
			if int(4+nameLen) > len(data) {
				return nil, newParseError(KindInconsistentOffsets, "main header name length %d exceeds record", nameLen)
			}
			name := string(data[4 : 4+nameLen])
			h.main = &MainHeader{PackageName: name}
			if rest := data[4+nameLen:]; len(rest) >= 4 {
				h.main.BinaryEndOffset = binary.LittleEndian.Uint32(rest[0:4])
				h.main.HasEndOffset = true
			}
		default:
			// Unknown header TLV: skip, per the same "unknown types are
			// skippable by length" contract spec §4.1 applies to footers.
		}

		off = dataEnd
	}
	return h, nil
}
