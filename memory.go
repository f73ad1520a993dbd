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
	"errors"
	"fmt"
	"math"
	"runtime/debug"
)

var (
	// ErrLayoutMismatch is returned when the bytes at a site are neither the expected original nor the replacement.
	ErrLayoutMismatch = errors.New("unexpected bytes at patch site")
	// ErrProtect is returned when page protection cannot be changed.
	ErrProtect = errors.New("cannot change memory protection")
	// ErrFault is returned when a memory access hits an unmapped or protected page.
	ErrFault = errors.New("memory access fault")
	// ErrNoCave is returned when no executable memory is available within jump range of a site.
	ErrNoCave = errors.New("no code cave within jump range")
	// ErrOutOfRange is returned when a relative branch cannot reach its target.
	ErrOutOfRange = errors.New("branch target out of range")
	// ErrNotReady is returned when host structures are not populated yet.
	ErrNotReady = errors.New("host structures not ready")
	// ErrUnsupported is returned by the live backend on platforms it does not cover.
	ErrUnsupported = errors.New("platform not supported")
)

// Protection is a page protection mode.
type Protection uint32

const (
	ProtNone Protection = iota
	ProtRead
	ProtReadWrite
	ProtExecRead
	ProtExecReadWrite
)

func (p Protection) String() string {
	switch p {
	case ProtNone:
		return "---"
	case ProtRead:
		return "r--"
	case ProtReadWrite:
		return "rw-"
	case ProtExecRead:
		return "r-x"
	case ProtExecReadWrite:
		return "rwx"
	}
	return fmt.Sprintf("prot(%d)", uint32(p))
}

func (p Protection) writable() bool {
	return p == ProtReadWrite || p == ProtExecReadWrite
}

// Memory is an address space the engine reads and patches.
// Every method must tolerate bad addresses and report them as ErrFault.
type Memory interface {
	Read(addr uintptr, buf []byte) error
	Write(addr uintptr, data []byte) error
	// Protect changes protection of the pages spanning [addr, addr+size) and returns the previous one.
	Protect(addr uintptr, size int, prot Protection) (Protection, error)
	FlushCode(addr uintptr, size int) error
	// Alloc commits size bytes at exactly addr, or anywhere if addr is 0.
	Alloc(addr uintptr, size int, prot Protection) (uintptr, error)
	Free(addr uintptr) error
	// Granularity is the alignment of addresses accepted by Alloc.
	Granularity() uintptr
}

// guard runs fn with fault-to-panic conversion enabled and turns a fault into ErrFault.
func guard(addr uintptr, fn func()) (err error) {
	defer debug.SetPanicOnFault(debug.SetPanicOnFault(true))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w at %#x: %v", ErrFault, addr, r)
		}
	}()
	fn()
	return nil
}

// ReadUint8 reads a byte at addr.
func ReadUint8(m Memory, addr uintptr) (uint8, error) {
	var b [1]byte
	if err := m.Read(addr, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadUint16 reads a little-endian uint16 at addr.
func ReadUint16(m Memory, addr uintptr) (uint16, error) {
	var b [2]byte
	if err := m.Read(addr, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

// ReadUint32 reads a little-endian uint32 at addr.
func ReadUint32(m Memory, addr uintptr) (uint32, error) {
	var b [4]byte
	if err := m.Read(addr, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// ReadUint64 reads a little-endian uint64 at addr.
func ReadUint64(m Memory, addr uintptr) (uint64, error) {
	var b [8]byte
	if err := m.Read(addr, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// ReadPointer reads a 64-bit pointer stored at addr.
func ReadPointer(m Memory, addr uintptr) (uintptr, error) {
	v, err := ReadUint64(m, addr)
	return uintptr(v), err
}

// ReadFloat32 reads an IEEE 754 float32 at addr.
func ReadFloat32(m Memory, addr uintptr) (float32, error) {
	v, err := ReadUint32(m, addr)
	return math.Float32frombits(v), err
}

// WriteUint8 writes a byte at addr.
func WriteUint8(m Memory, addr uintptr, v uint8) error {
	return m.Write(addr, []byte{v})
}

// WriteUint16 writes v little-endian at addr.
func WriteUint16(m Memory, addr uintptr, v uint16) error {
	return m.Write(addr, binary.LittleEndian.AppendUint16(nil, v))
}

// WriteUint32 writes v little-endian at addr.
func WriteUint32(m Memory, addr uintptr, v uint32) error {
	return m.Write(addr, binary.LittleEndian.AppendUint32(nil, v))
}

// WriteUint64 writes v little-endian at addr.
func WriteUint64(m Memory, addr uintptr, v uint64) error {
	return m.Write(addr, binary.LittleEndian.AppendUint64(nil, v))
}

// WritePointer stores a 64-bit pointer at addr.
func WritePointer(m Memory, addr uintptr, v uintptr) error {
	return WriteUint64(m, addr, uint64(v))
}

// WriteFloat32 writes v as an IEEE 754 float32 at addr.
func WriteFloat32(m Memory, addr uintptr, v float32) error {
	return WriteUint32(m, addr, math.Float32bits(v))
}

// chain chains reads and keeps the first error, so a view can be walked
// without checking every step.
type chain struct {
	mem Memory
	err error
}

func (p *chain) u8(addr uintptr) uint8 {
	if p.err != nil {
		return 0
	}
	v, err := ReadUint8(p.mem, addr)
	p.err = err
	return v
}

func (p *chain) u16(addr uintptr) uint16 {
	if p.err != nil {
		return 0
	}
	v, err := ReadUint16(p.mem, addr)
	p.err = err
	return v
}

func (p *chain) u32(addr uintptr) uint32 {
	if p.err != nil {
		return 0
	}
	v, err := ReadUint32(p.mem, addr)
	p.err = err
	return v
}

func (p *chain) ptr(addr uintptr) uintptr {
	if p.err != nil {
		return 0
	}
	v, err := ReadPointer(p.mem, addr)
	p.err = err
	return v
}

func (p *chain) f32(addr uintptr) float32 {
	if p.err != nil {
		return 0
	}
	v, err := ReadFloat32(p.mem, addr)
	p.err = err
	return v
}

func (p *chain) bytes(addr uintptr, n int) []byte {
	if p.err != nil {
		return nil
	}
	buf := make([]byte, n)
	p.err = p.mem.Read(addr, buf)
	return buf
}
