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

import "encoding/binary"

// CredentialFormat is the `format` field of a Credentials Footer TLV
// (spec §6).
type CredentialFormat uint32

const (
	FormatReserved          CredentialFormat = 0
	FormatCleartextID       CredentialFormat = 1
	FormatRsa3072Key        CredentialFormat = 2
	FormatRsa4096Key        CredentialFormat = 3
	FormatRsa3072KeyWithID  CredentialFormat = 4
	FormatRsa4096KeyWithID  CredentialFormat = 5
	FormatSHA256            CredentialFormat = 6
	FormatSHA384            CredentialFormat = 7
	FormatSHA512            CredentialFormat = 8
)

// footerTLVType is the outer container-footer TLV type (spec §6: type 128).
const footerTLVType = 128

// fixedFormatLengths gives the required data length for formats whose
// length is fixed. Reserved (and any format not present here) has a
// caller-declared variable length instead.
var fixedFormatLengths = map[CredentialFormat]int{
	FormatCleartextID:      8,
	FormatRsa3072Key:       768,
	FormatRsa4096Key:       1024,
	FormatRsa3072KeyWithID: 776,
	FormatRsa4096KeyWithID: 1032,
	FormatSHA256:           32,
	FormatSHA384:           48,
	FormatSHA512:           64,
}

// Record is one parsed credential footer: the declared format and a
// non-copying slice into the container's footer region.
type Record struct {
	Format CredentialFormat
	Data   []byte
}

// CleartextID returns the embedded application id for a FormatCleartextID
// record.
func (r Record) CleartextID() (uint64, bool) {
	if r.Format != FormatCleartextID || len(r.Data) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(r.Data), true
}

// RSAKeyAndSignature splits an RsaNNNNKey(WithID) record into its key and
// signature halves, and, for the WithID variants, the trailing embedded id.
func (r Record) RSAKeyAndSignature() (key, sig, embeddedID []byte, ok bool) {
	switch r.Format {
	case FormatRsa3072Key:
		return r.Data[0:384], r.Data[384:768], nil, true
	case FormatRsa4096Key:
		return r.Data[0:512], r.Data[512:1024], nil, true
	case FormatRsa3072KeyWithID:
		return r.Data[0:384], r.Data[384:768], r.Data[768:776], true
	case FormatRsa4096KeyWithID:
		return r.Data[0:512], r.Data[512:1024], r.Data[1024:1032], true
	default:
		return nil, nil, nil, false
	}
}

// footerIterator yields (type, length, data) footer records without
// copying, per spec §4.1. It halts (surfacing a TruncatedFooter error) on
// any TLV whose declared length would run past the container bound;
// records already yielded remain valid.
type footerIterator struct {
	buf  []byte // the full footer region [binary_end_offset, container_end)
	off  int
	err  error
	done bool
}

// Next advances the iterator. It returns false when iteration is complete
// (either exhausted or after an error); call Err to distinguish the two.
func (it *footerIterator) Next() (Record, bool) {
	if it.done || it.err != nil {
		return Record{}, false
	}
	if it.off >= len(it.buf) {
		it.done = true
		return Record{}, false
	}
	if it.off+6 > len(it.buf) {
		it.err = newParseError(KindTruncatedFooter, "footer TLV prefix truncated at offset %d", it.off)
		return Record{}, false
	}
	outerType := binary.LittleEndian.Uint32(it.buf[it.off : it.off+4])
	outerLen := binary.LittleEndian.Uint16(it.buf[it.off+4 : it.off+6])
	dataStart := it.off + 6
	dataEnd := dataStart + int(outerLen)
	if dataEnd > len(it.buf) {
		it.err = newParseError(KindTruncatedFooter, "footer TLV at offset %d declares length %d past footer end", it.off, outerLen)
		return Record{}, false
	}
	it.off = dataEnd

	if outerType != footerTLVType || outerLen < 4 {
		// Not a recognized credentials-footer TLV; treat as an unknown,
		// Pass-equivalent record per spec §4.1.
		return Record{Format: FormatReserved, Data: it.buf[dataStart:dataEnd]}, true
	}

	format := CredentialFormat(binary.LittleEndian.Uint32(it.buf[dataStart : dataStart+4]))
	data := it.buf[dataStart+4 : dataEnd]

	if wantLen, fixed := fixedFormatLengths[format]; fixed && len(data) != wantLen {
		// A known fixed-length format with the wrong length is still
		// skippable: unknown-typed record semantics apply (spec §4.1 says
		// unknown types must be safely skippable by length; a malformed
		// known type degrades the same way rather than aborting the scan).
		return Record{Format: FormatReserved, Data: data}, true
	}

	return Record{Format: format, Data: data}, true
}

// Err returns the error, if any, that halted iteration.
func (it *footerIterator) Err() error {
	return it.err
}
