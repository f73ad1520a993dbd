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
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	kernel32                  = windows.NewLazySystemDLL("kernel32.dll")
	procFlushInstructionCache = kernel32.NewProc("FlushInstructionCache")
	procGetSystemInfo         = kernel32.NewProc("GetSystemInfo")
	procOutputDebugStringW    = kernel32.NewProc("OutputDebugStringW")
)

type systemInfo struct {
	ProcessorArchitecture     uint16
	Reserved                  uint16
	PageSize                  uint32
	MinimumApplicationAddress uintptr
	MaximumApplicationAddress uintptr
	ActiveProcessorMask       uintptr
	NumberOfProcessors        uint32
	ProcessorType             uint32
	AllocationGranularity     uint32
	ProcessorLevel            uint16
	ProcessorRevision         uint16
}

type osMemory struct {
	gran uintptr
}

func newOSMemory() osMemory {
	var si systemInfo
	gran := uintptr(0x10000)
	if procGetSystemInfo.Find() == nil {
		procGetSystemInfo.Call(uintptr(unsafe.Pointer(&si)))
		if si.AllocationGranularity != 0 {
			gran = uintptr(si.AllocationGranularity)
		}
	}
	return osMemory{gran: gran}
}

func (o osMemory) protect(addr uintptr, size int, prot Protection) (Protection, error) {
	var oldPerms uint32
	err := windows.VirtualProtect(addr, uintptr(size), pageFlags(prot), &oldPerms)
	if err != nil {
		return ProtNone, fmt.Errorf("%w at %#x: %v", ErrProtect, addr, err)
	}
	return fromPageFlags(oldPerms), nil
}

func (o osMemory) flush(addr uintptr, size int) error {
	if err := procFlushInstructionCache.Find(); err != nil {
		return err
	}
	r, _, err := procFlushInstructionCache.Call(uintptr(windows.CurrentProcess()), addr, uintptr(size))
	if r == 0 {
		return fmt.Errorf("FlushInstructionCache: %w", err)
	}
	return nil
}

func (o osMemory) alloc(addr uintptr, size int, prot Protection) (uintptr, error) {
	p, err := windows.VirtualAlloc(addr, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, pageFlags(prot))
	if err != nil {
		return 0, err
	}
	if addr != 0 && p != addr {
		windows.VirtualFree(p, 0, windows.MEM_RELEASE)
		return 0, fmt.Errorf("VirtualAlloc placed %#x instead of %#x", p, addr)
	}
	return p, nil
}

func (o osMemory) free(addr uintptr) error {
	return windows.VirtualFree(addr, 0, windows.MEM_RELEASE)
}

func (o osMemory) granularity() uintptr {
	return o.gran
}

func pageFlags(prot Protection) uint32 {
	switch prot {
	case ProtRead:
		return windows.PAGE_READONLY
	case ProtReadWrite:
		return windows.PAGE_READWRITE
	case ProtExecRead:
		return windows.PAGE_EXECUTE_READ
	case ProtExecReadWrite:
		return windows.PAGE_EXECUTE_READWRITE
	}
	return windows.PAGE_NOACCESS
}

func fromPageFlags(flags uint32) Protection {
	switch flags &^ (windows.PAGE_GUARD | windows.PAGE_NOCACHE | windows.PAGE_WRITECOMBINE) {
	case windows.PAGE_READONLY:
		return ProtRead
	case windows.PAGE_READWRITE, windows.PAGE_WRITECOPY:
		return ProtReadWrite
	case windows.PAGE_EXECUTE, windows.PAGE_EXECUTE_READ:
		return ProtExecRead
	case windows.PAGE_EXECUTE_READWRITE, windows.PAGE_EXECUTE_WRITECOPY:
		return ProtExecReadWrite
	}
	return ProtNone
}
