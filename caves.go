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

// Cave bodies are emitted as raw x86-64. Each one re-executes the
// instruction bytes it displaced and jumps back into the host.

// AssembleNullGuard builds the cave for the cascade slot load
// "mov rbp, [r10+0x180]". A null r10 or a negative result yields rbp = 0.
func AssembleNullGuard(cave, ret uintptr, original []byte) ([]byte, error) {
	a := newAsm(cave)
	a.emit(0x4D, 0x85, 0xD2) // test r10, r10
	a.jcc(opJZ8, "null")
	a.emit(original...)
	a.emit(0x48, 0x85, 0xED) // test rbp, rbp
	a.jcc(opJZ8, "done")
	a.jcc(opJS8, "null")
	a.label("done")
	a.jmp(ret)
	a.label("null")
	a.emit(0x31, 0xED) // xor ebp, ebp
	a.jmp(ret)
	return a.bytes()
}

// AssemblePoolClear builds the cave for the node allocator prologue: the
// next-link at [rdx+0x40] of a non-null node is cleared first.
func AssemblePoolClear(cave, ret uintptr, original []byte) ([]byte, error) {
	a := newAsm(cave)
	a.emit(0x48, 0x85, 0xD2) // test rdx, rdx
	a.jcc(opJZ8, "skip")
	a.emit(0x48, 0xC7, 0x42, 0x40, 0, 0, 0, 0) // mov qword [rdx+0x40], 0
	a.label("skip")
	a.emit(original...)
	a.jmp(ret)
	return a.bytes()
}

// AssembleZeroInit builds the cave for the entry initialiser: before the
// store to [rax+r10+0x90] the node pool fields at +0x98..+0xA8 and
// +0x130..+0x148 of the entry are zeroed.
func AssembleZeroInit(cave, ret uintptr, original []byte) ([]byte, error) {
	a := newAsm(cave)
	a.emit(0x51)                                           // push rcx
	a.emit(0x4A, 0x8D, 0x8C, 0x10, 0x90, 0x00, 0x00, 0x00) // lea rcx, [rax+r10+0x90]
	for _, off := range []byte{0x08, 0x10, 0x18} {
		a.emit(0x48, 0xC7, 0x41, off, 0, 0, 0, 0) // mov qword [rcx+off], 0
	}
	a.emit(0x4A, 0x8D, 0x8C, 0x10, 0x30, 0x01, 0x00, 0x00) // lea rcx, [rax+r10+0x130]
	a.emit(0x48, 0xC7, 0x01, 0, 0, 0, 0)                   // mov qword [rcx], 0
	for _, off := range []byte{0x08, 0x10, 0x18} {
		a.emit(0x48, 0xC7, 0x41, off, 0, 0, 0, 0)
	}
	a.emit(0x59) // pop rcx
	a.emit(original...)
	a.jmp(ret)
	return a.bytes()
}

// AssemblePointerValidator builds the cave replacing "test r14, r14; jz skip"
// in the per-frame render loop. A null r14 goes to skip. A pointer failing
// PlausiblePointer also goes to skip after the slot it was loaded from
// ([r12]) is zeroed and r14 cleared. Anything else continues at next.
func AssemblePointerValidator(cave, next, skip uintptr) ([]byte, error) {
	a := newAsm(cave)
	a.emit(0x4D, 0x85, 0xF6) // test r14, r14
	a.jcc(opJZ8, "skip")
	a.emit(0x50)                   // push rax
	a.emit(0x4C, 0x89, 0xF0)       // mov rax, r14
	a.emit(0x48, 0xC1, 0xE8, 0x2F) // shr rax, 47
	a.emit(0x85, 0xC0)             // test eax, eax
	a.jcc(opJNZ8, "heal")
	a.emit(0x44, 0x89, 0xF0) // mov eax, r14d
	a.emit(0x85, 0xC0)       // test eax, eax
	a.jcc(opJZ8, "heal")
	a.emit(0x58) // pop rax
	a.jmp(next)
	a.label("heal")
	a.emit(0x58)                               // pop rax
	a.emit(0x49, 0xC7, 0x04, 0x24, 0, 0, 0, 0) // mov qword [r12], 0
	a.emit(0x45, 0x31, 0xF6)                   // xor r14d, r14d
	a.label("skip")
	a.jmp(skip)
	return a.bytes()
}

// PointerClass is the verdict of the pointer validator.
type PointerClass int

const (
	PointerNull PointerClass = iota
	PointerGarbage
	PointerValid
)

func (c PointerClass) String() string {
	switch c {
	case PointerNull:
		return "null"
	case PointerGarbage:
		return "garbage"
	}
	return "valid"
}

// PlausiblePointer reports whether v can be a user-mode heap pointer: no bits
// above bit 46 and a non-zero low half.
func PlausiblePointer(v uint64) bool {
	return v>>47 == 0 && uint32(v) != 0
}

// ClassifyPointer mirrors the decision of the validator cave.
func ClassifyPointer(v uint64) PointerClass {
	switch {
	case v == 0:
		return PointerNull
	case !PlausiblePointer(v):
		return PointerGarbage
	}
	return PointerValid
}
