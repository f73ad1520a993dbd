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

//go:build linux || dragonfly || freebsd || netbsd || openbsd

package shadowcascade

import (
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// osMemory remembers protections and mapping sizes it has set,
// since mprotect cannot report the previous protection.
type osMemory struct {
	mu      *sync.Mutex
	prots   map[uintptr]Protection
	mapping map[uintptr]int
}

func newOSMemory() osMemory {
	return osMemory{
		mu:      &sync.Mutex{},
		prots:   map[uintptr]Protection{},
		mapping: map[uintptr]int{},
	}
}

func (o osMemory) protect(addr uintptr, size int, prot Protection) (Protection, error) {
	start, sz := calcBoundaries(unsafe.Pointer(addr), size)

	page := unsafe.Slice((*uint8)(start), sz)
	if err := unix.Mprotect(page, protFlags(prot)); err != nil {
		return ProtNone, fmt.Errorf("%w at %#x: %v", ErrProtect, addr, err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	old, ok := o.prots[uintptr(start)]
	if !ok {
		// pages nobody protected yet are assumed to be image code
		old = ProtExecRead
	}
	o.prots[uintptr(start)] = prot
	return old, nil
}

// x86 keeps instruction caches coherent with data writes
func (o osMemory) flush(addr uintptr, size int) error {
	return nil
}

func (o osMemory) alloc(addr uintptr, size int, prot Protection) (uintptr, error) {
	p, _, errno := unix.Syscall6(unix.SYS_MMAP, addr, uintptr(size), uintptr(protFlags(prot)),
		uintptr(unix.MAP_PRIVATE|unix.MAP_ANON), ^uintptr(0), 0)
	if errno != 0 {
		return 0, errno
	}
	if addr != 0 && p != addr {
		unix.Syscall(unix.SYS_MUNMAP, p, uintptr(size), 0)
		return 0, fmt.Errorf("mmap placed %#x instead of %#x", p, addr)
	}

	o.mu.Lock()
	o.mapping[p] = size
	o.prots[p] = prot
	o.mu.Unlock()
	return p, nil
}

func (o osMemory) free(addr uintptr) error {
	o.mu.Lock()
	size, ok := o.mapping[addr]
	delete(o.mapping, addr)
	delete(o.prots, addr)
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("%#x was not allocated here", addr)
	}
	if _, _, errno := unix.Syscall(unix.SYS_MUNMAP, addr, uintptr(size), 0); errno != 0 {
		return errno
	}
	return nil
}

func (o osMemory) granularity() uintptr {
	return uintptr(os.Getpagesize())
}

func protFlags(prot Protection) int {
	switch prot {
	case ProtRead:
		return unix.PROT_READ
	case ProtReadWrite:
		return unix.PROT_READ | unix.PROT_WRITE
	case ProtExecRead:
		return unix.PROT_READ | unix.PROT_EXEC
	case ProtExecReadWrite:
		return unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC
	}
	return unix.PROT_NONE
}

func calcBoundaries(ptr unsafe.Pointer, size int) (unsafe.Pointer, uintptr) {
	pageSize := uintptr(os.Getpagesize())
	areaStart := unsafe.Pointer(uintptr(ptr) &^ (pageSize - 1))
	areaSize := (uintptr(ptr) + uintptr(size)) - uintptr(areaStart)

	return areaStart, areaSize
}
