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
	"fmt"
	"sync"
)

const simArena = 0x200000010000

type simRegion struct {
	base      uintptr
	data      []byte
	prot      Protection
	allocated bool
}

func (r *simRegion) end() uintptr {
	return r.base + uintptr(len(r.data))
}

type span struct {
	start, end uintptr
}

// SimMemory is a sparse simulated address space. Reads and writes outside
// mapped regions and writes to non-writable regions fail with ErrFault, so
// patching code that forgets to unprotect a page fails the same way it
// would in the host. Protection is tracked per region.
type SimMemory struct {
	mu       sync.Mutex
	regions  []*simRegion
	reserved []span
	gran     uintptr
	next     uintptr

	// DenyProtect makes every Protect call fail.
	DenyProtect bool

	writes  int
	flushes int
}

// NewSimMemory returns an empty address space with 64K granularity.
func NewSimMemory() *SimMemory {
	return &SimMemory{gran: 0x10000, next: simArena}
}

// Map creates a zero-filled region. It panics on overlap, as it is a setup helper.
func (m *SimMemory) Map(addr uintptr, size int, prot Protection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.overlaps(addr, uintptr(size)) {
		panic(fmt.Sprintf("region %#x+%#x overlaps existing mapping", addr, size))
	}
	m.regions = append(m.regions, &simRegion{base: addr, data: make([]byte, size), prot: prot})
}

// Reserve makes [addr, addr+size) unavailable to Alloc without mapping it.
func (m *SimMemory) Reserve(addr, size uintptr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reserved = append(m.reserved, span{addr, addr + size})
}

// Poke writes data ignoring protection.
func (m *SimMemory) Poke(addr uintptr, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.find(addr, len(data))
	if r == nil {
		panic(fmt.Sprintf("poke at unmapped %#x", addr))
	}
	copy(r.data[addr-r.base:], data)
}

// Peek returns a copy of n bytes ignoring protection, or nil if unmapped.
func (m *SimMemory) Peek(addr uintptr, n int) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.find(addr, n)
	if r == nil {
		return nil
	}
	return append([]byte(nil), r.data[addr-r.base:addr-r.base+uintptr(n)]...)
}

// ProtectionAt reports the protection of the region holding addr.
func (m *SimMemory) ProtectionAt(addr uintptr) Protection {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r := m.find(addr, 1); r != nil {
		return r.prot
	}
	return ProtNone
}

// Writes returns the number of successful Write calls.
func (m *SimMemory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Allocations returns base addresses of regions created by Alloc.
func (m *SimMemory) Allocations() []uintptr {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []uintptr
	for _, r := range m.regions {
		if r.allocated {
			res = append(res, r.base)
		}
	}
	return res
}

func (m *SimMemory) Read(addr uintptr, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.find(addr, len(buf))
	if r == nil || r.prot == ProtNone {
		return fmt.Errorf("%w at %#x: read of %d bytes", ErrFault, addr, len(buf))
	}
	copy(buf, r.data[addr-r.base:])
	return nil
}

func (m *SimMemory) Write(addr uintptr, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.find(addr, len(data))
	if r == nil || !r.prot.writable() {
		return fmt.Errorf("%w at %#x: write of %d bytes", ErrFault, addr, len(data))
	}
	copy(r.data[addr-r.base:], data)
	m.writes++
	return nil
}

func (m *SimMemory) Protect(addr uintptr, size int, prot Protection) (Protection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DenyProtect {
		return ProtNone, fmt.Errorf("%w at %#x: denied", ErrProtect, addr)
	}
	r := m.find(addr, size)
	if r == nil {
		return ProtNone, fmt.Errorf("%w at %#x: not mapped", ErrProtect, addr)
	}
	old := r.prot
	r.prot = prot
	return old, nil
}

func (m *SimMemory) FlushCode(addr uintptr, size int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
	return nil
}

func (m *SimMemory) Alloc(addr uintptr, size int, prot Protection) (uintptr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sz := (uintptr(size) + m.gran - 1) &^ (m.gran - 1)
	if addr == 0 {
		addr = m.next
		m.next += sz
	}
	if addr&(m.gran-1) != 0 {
		return 0, fmt.Errorf("address %#x is not aligned to %#x", addr, m.gran)
	}
	if m.overlaps(addr, sz) {
		return 0, fmt.Errorf("address %#x is in use", addr)
	}
	m.regions = append(m.regions, &simRegion{base: addr, data: make([]byte, size), prot: prot, allocated: true})
	return addr, nil
}

func (m *SimMemory) Free(addr uintptr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.regions {
		if r.base == addr && r.allocated {
			m.regions = append(m.regions[:i], m.regions[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%#x was not allocated", addr)
}

func (m *SimMemory) Granularity() uintptr {
	return m.gran
}

func (m *SimMemory) find(addr uintptr, n int) *simRegion {
	for _, r := range m.regions {
		if addr >= r.base && addr+uintptr(n) <= r.end() {
			return r
		}
	}
	return nil
}

func (m *SimMemory) overlaps(addr, size uintptr) bool {
	end := addr + size
	for _, r := range m.regions {
		if addr < r.end() && r.base < end {
			return true
		}
	}
	for _, s := range m.reserved {
		if addr < s.end && s.start < end {
			return true
		}
	}
	return false
}
