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

import "fmt"

// Kind enumerates the ways a container can fail to parse.
type Kind int

const (
	KindTruncated Kind = iota
	KindBadMagic
	KindBadChecksum
	KindInconsistentOffsets
	KindDuplicateProgramHeader
	KindTruncatedFooter
)

func (k Kind) String() string {
	switch k {
	case KindTruncated:
		return "truncated"
	case KindBadMagic:
		return "bad magic"
	case KindBadChecksum:
		return "bad checksum"
	case KindInconsistentOffsets:
		return "inconsistent offsets"
	case KindDuplicateProgramHeader:
		return "duplicate program header"
	case KindTruncatedFooter:
		return "truncated footer"
	default:
		return "unknown"
	}
}

// ParseError describes why a container, or a single footer record within
// one, failed to parse.
type ParseError struct {
	Kind   Kind
	Detail string
}

func (e *ParseError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("container: %s", e.Kind)
	}
	return fmt.Sprintf("container: %s: %s", e.Kind, e.Detail)
}

func newParseError(k Kind, format string, args ...any) *ParseError {
	return &ParseError{Kind: k, Detail: fmt.Sprintf(format, args...)}
}
