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

// flashctl wraps one payload file in a single container (a Program Header,
// the payload, and no credential footers) and writes it as a flash image
// file, for use by loadctl and for manual testing.
package main

import (
	"encoding/binary"
	"flag"
	"hash/crc32"
	"io"
	"os"

	"github.com/cheggaaa/pb/v3"
	"k8s.io/klog/v2"
)

// batchSize bounds a single write, mirroring trusted_os/flash.go's
// DMA-sized batching, generalized here to plain file writes.
const batchSize = 64 * 1024

type config struct {
	out     string
	payload string
	version uint
}

func main() {
	var c config
	flag.StringVar(&c.out, "o", "", "output flash image path")
	flag.StringVar(&c.payload, "payload", "", "payload file to wrap in a container")
	flag.UintVar(&c.version, "version", 0, "container version header value")
	flag.Parse()

	if c.out == "" || c.payload == "" {
		flag.PrintDefaults()
		klog.Exit("flashctl: -o and -payload are required")
	}

	payload, err := os.ReadFile(c.payload)
	if err != nil {
		klog.Exitf("read payload: %v", err)
	}

	img := packContainer(payload, uint32(c.version))

	f, err := os.Create(c.out)
	if err != nil {
		klog.Exitf("create %q: %v", c.out, err)
	}
	defer f.Close()

	if err := writeBatched(f, img); err != nil {
		klog.Exitf("write %q: %v", c.out, err)
	}
	klog.Infof("flashctl: wrote %d bytes to %q", len(img), c.out)
}

// packContainer builds a minimal valid container: a Program Header
// declaring version, the payload, and no credential footers.
func packContainer(payload []byte, version uint32) []byte {
	ph := make([]byte, 20)
	headerTLV := tlv(9, ph)
	headerEnd := 16 + len(headerTLV)
	binaryEnd := headerEnd + len(payload)
	binary.LittleEndian.PutUint32(headerTLV[6+12:6+16], uint32(binaryEnd))
	binary.LittleEndian.PutUint32(headerTLV[6+16:6+20], version)

	buf := make([]byte, 16)
	copy(buf[0:4], []byte("PCK1"))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(binaryEnd))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(headerTLV)))
	sum := crc32.ChecksumIEEE(buf[0:12])
	binary.LittleEndian.PutUint32(buf[12:16], sum)

	buf = append(buf, headerTLV...)
	buf = append(buf, payload...)
	return buf
}

func tlv(typ uint32, data []byte) []byte {
	out := make([]byte, 6+len(data))
	binary.LittleEndian.PutUint32(out[0:4], typ)
	binary.LittleEndian.PutUint16(out[4:6], uint16(len(data)))
	copy(out[6:], data)
	return out
}

// writeBatched writes buf to w in batchSize chunks behind a progress
// bar, the same "write in batch, report progress" shape as
// trusted_os/flash.go's flash(), generalized from DMA block counts to a
// cheggaaa/pb byte progress bar.
func writeBatched(w io.Writer, buf []byte) error {
	bar := pb.Full.Start64(int64(len(buf)))
	defer bar.Finish()

	for off := 0; off < len(buf); off += batchSize {
		end := off + batchSize
		if end > len(buf) {
			end = len(buf)
		}
		n, err := w.Write(buf[off:end])
		if err != nil {
			return err
		}
		bar.Add(n)
	}
	return nil
}
