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
	"math"
)

// SimHost lays out the parts of the host image the engine touches inside a
// SimMemory: code sites hold the stock instruction bytes, globals hold
// stock values. Host structures are added on demand, mimicking the host
// allocating them over time.
type SimHost struct {
	Mem   *SimMemory
	Image *Image

	node  uintptr
	group uintptr
}

const (
	simTextStart = 0x2700000
	simTextSize  = 0x300000
	simRDataPage = 0x2c7f000
	simDataStart = 0x3880000
	simDataSize  = 0x100000
	simBSSStart  = 0x6870000
	simBSSSize   = 0x20000

	simNodeSize   = 0x300
	simGroupSize  = 0x400
	simShaderSize = 0x200

	// StockShadowDistance is the 2-cascade distance a fresh SimHost starts with.
	StockShadowDistance = 3000
)

// NewSimHost maps a stock host image at base.
func NewSimHost(base uintptr) *SimHost {
	mem := NewSimMemory()
	mem.Map(base+simTextStart, simTextSize, ProtExecRead)
	mem.Map(base+simRDataPage, 0x1000, ProtRead)
	mem.Map(base+simDataStart, simDataSize, ProtReadWrite)
	mem.Map(base+simBSSStart, simBSSSize, ProtReadWrite)

	h := &SimHost{Mem: mem, Image: NewImage(base)}
	count := h.Image.At(rvaCascadeCount)

	h.poke(rvaTextSentinel, 0x00)
	for _, s := range countLoadSites {
		h.Mem.Poke(h.Image.At(s.rva), ripInstr(s.op, h.Image.At(s.rva), count, nil))
	}
	h.Mem.Poke(h.Image.At(rvaSetupCompare), ripInstr([]byte{0x83, 0x3D}, h.Image.At(rvaSetupCompare), count, []byte{stockCascadeCount}))

	h.Mem.Poke(h.Image.At(rvaShaderCtorCount-1), []byte{0xBA, 0x02, 0x00, 0x00, 0x00})
	h.Mem.Poke(h.Image.At(rvaShaderCtorStored-6), []byte{0xC7, 0x83, 0xD8, 0x01, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00})
	for _, p := range maskLiterals {
		h.poke(p.rva, p.old)
	}
	h.poke(stereoPatch.rva, stereoPatch.old)

	h.Mem.Poke(h.Image.At(rvaNullGuardSite), nullGuardOriginal)
	h.Mem.Poke(h.Image.At(rvaPoolClearSite), poolClearOriginal)
	h.Mem.Poke(h.Image.At(rvaZeroInitSite), zeroInitOriginal)
	h.Mem.Poke(h.Image.At(rvaValidatorSite), validatorOriginal)

	h.put32(rvaCascadeCount, stockCascadeCount)
	h.put32(rvaCascadeMask, maskFull)
	h.put32(rvaShadowDist2, math.Float32bits(StockShadowDistance))
	h.put32(rvaShadowDist4, math.Float32bits(2*StockShadowDistance))
	h.put32(rvaShadowRenderer, math.Float32bits(StockShadowDistance))
	return h
}

// ripInstr encodes opcode bytes followed by a disp32 reaching target and a trailing immediate.
func ripInstr(op []byte, at, target uintptr, imm []byte) []byte {
	length := len(op) + 4 + len(imm)
	code := append([]byte(nil), op...)
	code = binary.LittleEndian.AppendUint32(code, uint32(int32(int64(target)-int64(at+uintptr(length)))))
	return append(code, imm...)
}

func (h *SimHost) poke(rva uintptr, b byte) {
	h.Mem.Poke(h.Image.At(rva), []byte{b})
}

func (h *SimHost) put32(rva uintptr, v uint32) {
	h.Mem.Poke(h.Image.At(rva), binary.LittleEndian.AppendUint32(nil, v))
}

func (h *SimHost) alloc(size int) uintptr {
	addr, err := h.Mem.Alloc(0, size, ProtReadWrite)
	if err != nil {
		panic(err)
	}
	return addr
}

// Decrypt makes the code sentinel read as decrypted.
func (h *SimHost) Decrypt() {
	h.poke(rvaTextSentinel, textSentinel)
}

// AddCascadeArray allocates the cascade entry array with count entries
// populated and returns the buffer address.
func (h *SimHost) AddCascadeArray(capacity, count int) uintptr {
	buf := h.alloc(capacity * cascadeEntrySize)
	for i := 0; i < count; i++ {
		at := buf + uintptr(i)*cascadeEntrySize
		ent := make([]byte, cascadeEntrySize)
		for j := 0x10; j < 0x60; j++ {
			ent[j] = byte(j + i)
		}
		binary.LittleEndian.PutUint32(ent[0x160:], 0x3F800000)
		resetPools(ent, at)
		h.Mem.Poke(at, ent)
	}
	hdr := h.Image.At(rvaCascadeArray)
	h.Mem.Poke(hdr+arrayBufferOff, binary.LittleEndian.AppendUint64(nil, uint64(buf)))
	h.Mem.Poke(hdr+arrayCapacityOff, binary.LittleEndian.AppendUint32(nil, uint32(capacity)))
	h.Mem.Poke(hdr+arrayCountOff, binary.LittleEndian.AppendUint32(nil, uint32(count)))
	return buf
}

// CascadeArray returns the buffer, capacity and count of the cascade entry array.
func (h *SimHost) CascadeArray() (uintptr, uint32, uint32) {
	hdr, err := cascadeArray{mem: h.Mem, addr: h.Image.At(rvaCascadeArray)}.header()
	if err != nil {
		return 0, 0, 0
	}
	return hdr.buffer, hdr.capacity, hdr.count
}

// AddSceneNode creates the render scene node with its cascade group,
// shader object and a flat array of flatCount entries. The setup node
// slot stays null.
func (h *SimHost) AddSceneNode(flatCount int) uintptr {
	h.node = h.alloc(simNodeSize)
	h.group = h.alloc(simGroupSize)
	shader := h.alloc(simShaderSize)
	flat := h.alloc(CascadeCount * flatEntrySize)

	h.Mem.Poke(h.node+nodeCascadeGroupOff, binary.LittleEndian.AppendUint64(nil, uint64(h.group)))
	h.Mem.Poke(h.group+groupFlatCountOff, binary.LittleEndian.AppendUint32(nil, uint32(flatCount)))
	h.Mem.Poke(h.group+groupFlatBufferOff, binary.LittleEndian.AppendUint64(nil, uint64(flat)))
	h.Mem.Poke(h.group+groupFlatCapacityOff, binary.LittleEndian.AppendUint32(nil, CascadeCount))
	h.Mem.Poke(h.group+groupShaderOff, binary.LittleEndian.AppendUint64(nil, uint64(shader)))
	h.Mem.Poke(shader+shaderCascadesOff, binary.LittleEndian.AppendUint32(nil, stockCascadeCount))
	h.Mem.Poke(shader+shaderArrayCapOff, binary.LittleEndian.AppendUint16(nil, stockCascadeCount))
	h.Mem.Poke(shader+shaderArrayLenOff, binary.LittleEndian.AppendUint16(nil, stockCascadeCount))
	h.Mem.Poke(shader+shaderStoredLenOff, binary.LittleEndian.AppendUint32(nil, stockCascadeCount))
	for i := 0; i < CascadeCount; i++ {
		h.Mem.Poke(flat+uintptr(i)*flatEntrySize+flatLastCascadeOff, []byte{1})
	}
	h.Mem.Poke(h.Image.At(rvaRenderNode), binary.LittleEndian.AppendUint64(nil, uint64(h.node)))
	return h.node
}

// SetFlatCount changes the number of flat entries the host reports.
func (h *SimHost) SetFlatCount(n int) {
	h.Mem.Poke(h.group+groupFlatCountOff, binary.LittleEndian.AppendUint32(nil, uint32(n)))
}

// PopulateShadowMaps gives the first n flat entries a shadow map pointer.
func (h *SimHost) PopulateShadowMaps(n int) {
	flat, _ := ReadPointer(h.Mem, h.group+groupFlatBufferOff)
	for i := 0; i < n; i++ {
		m := h.alloc(0x100)
		e := flat + uintptr(i)*flatEntrySize
		h.Mem.Poke(e+flatMapLeftOff, binary.LittleEndian.AppendUint64(nil, uint64(m)))
		h.Mem.Poke(e+flatMapRightOff, binary.LittleEndian.AppendUint64(nil, uint64(m+0x80)))
	}
}

// Group returns the cascade group of the render scene node.
func (h *SimHost) Group() uintptr {
	return h.group
}
