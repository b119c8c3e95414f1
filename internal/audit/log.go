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

package audit

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/mod/sumdb/note"
	"k8s.io/klog/v2"
)

// Log appends signed boot-manifest records to a zstd-compressed file, one
// length-prefixed signed note per boot.
type Log struct {
	path string
}

// OpenLog returns a Log writing to (and reading from) path, created if it
// does not already exist.
func OpenLog(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log %q: %w", path, err)
	}
	f.Close()
	return &Log{path: path}, nil
}

// Append signs entry with signer and appends it, compressed, to the log.
func (l *Log) Append(entry Entry, signer note.Signer) error {
	signed, err := Sign(entry, signer)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open for append: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("zstd.NewWriter: %w", err)
	}
	defer zw.Close()

	lenPrefix := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenPrefix, uint32(len(signed)))
	if _, err := zw.Write(lenPrefix); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := io.WriteString(zw, signed); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	klog.V(1).Infof("audit: appended boot manifest (%d Running slots) to %q", len(entry.RunningSlot), l.path)
	return nil
}

// ReadAll decodes every signed note frame in the log, verifying each
// against verifier and returning the opened note texts in append order.
//
// Each call opens and decompresses the whole file from the start: this
// log is meant to be read rarely (audit, incident response), not on a
// hot path, so a streaming cursor is not worth the complexity.
func (l *Log) ReadAll(verifier note.Verifier) ([]string, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", l.path, err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("zstd.NewReader: %w", err)
	}
	defer zr.Close()

	br := bufio.NewReader(zr)
	var texts []string
	for {
		lenPrefix := make([]byte, 4)
		if _, err := io.ReadFull(br, lenPrefix); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("read length prefix: %w", err)
		}
		n := binary.LittleEndian.Uint32(lenPrefix)
		record := make([]byte, n)
		if _, err := io.ReadFull(br, record); err != nil {
			return nil, fmt.Errorf("read record: %w", err)
		}
		opened, err := note.Open(record, note.VerifierList(verifier))
		if err != nil {
			return nil, fmt.Errorf("note.Open: %w", err)
		}
		texts = append(texts, opened.Text)
	}
	return texts, nil
}
