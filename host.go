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
)

// Cascade entry array: a growable array header in .bss pointing at
// cascadeEntrySize-byte entries, one per cascade.
const (
	arrayBufferOff   = 0x00
	arrayCapacityOff = 0x08
	arrayCountOff    = 0x10

	cascadeEntrySize = 0x180
	// per-entry spinlock: owning thread id and recursion count
	entryLockOwnerOff = 0x00
	entryLockCountOff = 0x04
)

// Each entry embeds four intrusive node pools. An empty pool has a null head
// and a tail pointing at the pool field itself.
var entryPoolOffsets = [...]uintptr{0x70, 0xA8, 0xE8, 0x128}

const poolTailOff = 0x08

// Scene node and cascade group.
const (
	nodeCascadeGroupOff = 0x248

	groupFlatCountOff    = 0x190
	groupFlatBufferOff   = 0x198
	groupFlatCapacityOff = 0x1A0
	groupVRFlagOff       = 0x173
	groupShaderOff       = 0x2B8

	flatEntrySize      = 0x110
	flatMapLeftOff     = 0x50
	flatMapRightOff    = 0x58
	flatLastCascadeOff = 0x102

	shaderCascadesOff  = 0x158
	shaderArrayCapOff  = 0x168
	shaderArrayLenOff  = 0x16A
	shaderStoredLenOff = 0x1D8
)

// Descriptor array header: buffer, capacity, count.
const (
	descBufferOff = 0x00
	descCapOff    = 0x08
	descCountOff  = 0x10
)

// cascadeArray is a view of the cascade entry array header.
type cascadeArray struct {
	mem  Memory
	addr uintptr
}

type arrayHeader struct {
	buffer   uintptr
	capacity uint32
	count    uint32
}

func (a cascadeArray) header() (arrayHeader, error) {
	p := chain{mem: a.mem}
	h := arrayHeader{
		buffer:   p.ptr(a.addr + arrayBufferOff),
		capacity: p.u32(a.addr + arrayCapacityOff),
		count:    p.u32(a.addr + arrayCountOff),
	}
	return h, p.err
}

func (a cascadeArray) entry(buffer uintptr, i int) uintptr {
	return buffer + uintptr(i)*cascadeEntrySize
}

func (a cascadeArray) readEntry(buffer uintptr, i int) ([]byte, error) {
	buf := make([]byte, cascadeEntrySize)
	return buf, a.mem.Read(a.entry(buffer, i), buf)
}

// cloneEntry copies src into dst, an entry living at dstAddr, with empty
// node pools and a released spinlock.
func cloneEntry(dst, src []byte, dstAddr uintptr) {
	copy(dst[:cascadeEntrySize], src[:cascadeEntrySize])
	resetPools(dst, dstAddr)
	binary.LittleEndian.PutUint32(dst[entryLockOwnerOff:], 0)
	binary.LittleEndian.PutUint32(dst[entryLockCountOff:], 0)
}

func resetPools(entry []byte, addr uintptr) {
	for _, off := range entryPoolOffsets {
		binary.LittleEndian.PutUint64(entry[off:], 0)
		binary.LittleEndian.PutUint64(entry[off+poolTailOff:], uint64(addr+off))
	}
}

// rebasePools re-points pool tails that referred to the entry's own fields
// at oldAddr to the same fields at newAddr. Pools with nodes are left alone.
func rebasePools(entry []byte, oldAddr, newAddr uintptr) {
	for _, off := range entryPoolOffsets {
		tail := binary.LittleEndian.Uint64(entry[off+poolTailOff:])
		if tail == uint64(oldAddr+off) || tail == 0 {
			binary.LittleEndian.PutUint64(entry[off+poolTailOff:], uint64(newAddr+off))
		}
	}
}

// fixEmptyTails points null pool tails of a live entry at their own field.
func (a cascadeArray) fixEmptyTails(entry uintptr) (int, error) {
	fixed := 0
	for _, off := range entryPoolOffsets {
		tail, err := ReadPointer(a.mem, entry+off+poolTailOff)
		if err != nil {
			return fixed, err
		}
		if tail != 0 {
			continue
		}
		if err := WritePointer(a.mem, entry+off+poolTailOff, entry+off); err != nil {
			return fixed, err
		}
		fixed++
	}
	return fixed, nil
}

func nonZero(b []byte) int {
	n := 0
	for _, v := range b {
		if v != 0 {
			n++
		}
	}
	return n
}

// cascadeGroup is a view of the cascade group hanging off a scene node.
type cascadeGroup struct {
	mem  Memory
	addr uintptr
}

// groupOf returns the cascade group of the scene node whose pointer is stored at slot.
func groupOf(mem Memory, slot uintptr) (cascadeGroup, error) {
	p := chain{mem: mem}
	node := p.ptr(slot)
	if p.err != nil {
		return cascadeGroup{}, p.err
	}
	if node == 0 {
		return cascadeGroup{}, ErrNotReady
	}
	g := p.ptr(node + nodeCascadeGroupOff)
	if p.err != nil {
		return cascadeGroup{}, p.err
	}
	if g == 0 {
		return cascadeGroup{}, ErrNotReady
	}
	return cascadeGroup{mem: mem, addr: g}, nil
}

type flatState struct {
	count    uint32
	buffer   uintptr
	capacity uint32
	maps     [CascadeCount][2]uintptr
}

func (g cascadeGroup) flat() (flatState, error) {
	p := chain{mem: g.mem}
	f := flatState{
		count:    p.u32(g.addr + groupFlatCountOff),
		buffer:   p.ptr(g.addr + groupFlatBufferOff),
		capacity: p.u32(g.addr + groupFlatCapacityOff),
	}
	if p.err != nil || f.buffer == 0 {
		return f, p.err
	}
	for i := 0; i < CascadeCount && i < int(f.count); i++ {
		e := f.buffer + uintptr(i)*flatEntrySize
		f.maps[i][0] = p.ptr(e + flatMapLeftOff)
		f.maps[i][1] = p.ptr(e + flatMapRightOff)
	}
	return f, p.err
}

// ready reports whether all cascades have a plausible shadow map.
func (f flatState) ready() bool {
	if f.buffer == 0 || f.count < CascadeCount {
		return false
	}
	for _, m := range f.maps {
		if ClassifyPointer(uint64(m[0])) != PointerValid {
			return false
		}
	}
	return true
}

func (g cascadeGroup) flatEntry(i int) uintptr {
	p := chain{mem: g.mem}
	buf := p.ptr(g.addr + groupFlatBufferOff)
	if p.err != nil || buf == 0 {
		return 0
	}
	return buf + uintptr(i)*flatEntrySize
}

func (g cascadeGroup) shader() (uintptr, error) {
	return ReadPointer(g.mem, g.addr+groupShaderOff)
}

// atLeast32 raises the u32 at addr to floor.
func atLeast32(mem Memory, addr uintptr, floor uint32) (bool, error) {
	v, err := ReadUint32(mem, addr)
	if err != nil || v >= floor {
		return false, err
	}
	return true, WriteUint32(mem, addr, floor)
}

func atLeast16(mem Memory, addr uintptr, floor uint16) (bool, error) {
	v, err := ReadUint16(mem, addr)
	if err != nil || v >= floor {
		return false, err
	}
	return true, WriteUint16(mem, addr, floor)
}
