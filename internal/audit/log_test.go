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
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLogAppendAndReadAll(t *testing.T) {
	signer, verifier := testSigner(t)
	path := filepath.Join(t.TempDir(), "boot.log")

	l, err := OpenLog(path)
	if err != nil {
		t.Fatalf("OpenLog: %v", err)
	}

	e1 := BuildEntry(nil, time.Unix(1, 0))
	e2 := BuildEntry(nil, time.Unix(2, 0))
	if err := l.Append(e1, signer); err != nil {
		t.Fatalf("Append(e1): %v", err)
	}
	if err := l.Append(e2, signer); err != nil {
		t.Fatalf("Append(e2): %v", err)
	}

	texts, err := l.ReadAll(verifier)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(texts) != 2 {
		t.Fatalf("ReadAll returned %d records, want 2", len(texts))
	}
	if !strings.Contains(texts[0], "\n1\n") {
		t.Errorf("texts[0] = %q, want bootedAt 1", texts[0])
	}
	if !strings.Contains(texts[1], "\n2\n") {
		t.Errorf("texts[1] = %q, want bootedAt 2", texts[1])
	}
}

func TestLogReadAllRejectsWrongVerifier(t *testing.T) {
	signer, _ := testSigner(t)
	_, otherVerifier := testSigner(t)
	path := filepath.Join(t.TempDir(), "boot.log")

	l, err := OpenLog(path)
	if err != nil {
		t.Fatalf("OpenLog: %v", err)
	}
	if err := l.Append(BuildEntry(nil, time.Unix(1, 0)), signer); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if _, err := l.ReadAll(otherVerifier); err == nil {
		t.Fatalf("ReadAll: want error verifying against the wrong key")
	}
}
