// This file is part of ShadowCascade project, available at https://github.com/qrdl/shadowcascade
// Copyright (c) 2026 Ilya Caramishev. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at https://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shadowcascade

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	jmpInstrLength = 5
	jmpInstrCode   = 0xE9

	opJZ8  = 0x74
	opJNZ8 = 0x75
	opJS8  = 0x78
)

// Rel32 returns the displacement of a 5-byte relative jump at from landing at to.
func Rel32(from, to uintptr) (int32, bool) {
	d := int64(to) - int64(from+jmpInstrLength)
	if d < math.MinInt32 || d > math.MaxInt32 {
		return 0, false
	}
	return int32(d), true
}

// EncodeJump returns "jmp rel32" from -> to, padded with NOPs to span bytes.
func EncodeJump(from, to uintptr, span int) ([]byte, error) {
	if span < jmpInstrLength {
		return nil, fmt.Errorf("%d bytes cannot hold a jump", span)
	}
	d, ok := Rel32(from, to)
	if !ok {
		return nil, fmt.Errorf("%w: jump %#x -> %#x", ErrOutOfRange, from, to)
	}
	buf := make([]byte, span)
	buf[0] = jmpInstrCode
	binary.LittleEndian.PutUint32(buf[1:], uint32(d))
	for i := jmpInstrLength; i < span; i++ {
		buf[i] = opNop
	}
	return buf, nil
}

type fixup struct {
	at    int // offset of the rel8 byte
	label string
}

// asm emits position-dependent code for a cave at origin. Short branches
// refer to labels and are resolved by bytes().
type asm struct {
	origin uintptr
	buf    []byte
	labels map[string]int
	fixups []fixup
	err    error
}

func newAsm(origin uintptr) *asm {
	return &asm{origin: origin, labels: map[string]int{}}
}

func (a *asm) emit(b ...byte) {
	a.buf = append(a.buf, b...)
}

func (a *asm) label(name string) {
	a.labels[name] = len(a.buf)
}

// jcc emits a short conditional jump to a label.
func (a *asm) jcc(op byte, label string) {
	a.emit(op, 0)
	a.fixups = append(a.fixups, fixup{at: len(a.buf) - 1, label: label})
}

// jmp emits "jmp rel32" to an absolute address.
func (a *asm) jmp(target uintptr) {
	from := a.origin + uintptr(len(a.buf))
	d, ok := Rel32(from, target)
	if !ok && a.err == nil {
		a.err = fmt.Errorf("%w: jump %#x -> %#x", ErrOutOfRange, from, target)
	}
	a.emit(jmpInstrCode)
	a.buf = binary.LittleEndian.AppendUint32(a.buf, uint32(d))
}

func (a *asm) bytes() ([]byte, error) {
	if a.err != nil {
		return nil, a.err
	}
	for _, f := range a.fixups {
		target, ok := a.labels[f.label]
		if !ok {
			return nil, fmt.Errorf("undefined label %q", f.label)
		}
		d := target - (f.at + 1)
		if d < math.MinInt8 || d > math.MaxInt8 {
			return nil, fmt.Errorf("%w: short branch to %q spans %d bytes", ErrOutOfRange, f.label, d)
		}
		a.buf[f.at] = byte(int8(d))
	}
	return a.buf, nil
}
