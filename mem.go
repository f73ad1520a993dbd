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
	"unsafe"
)

// liveMemory is the address space of the current process.
type liveMemory struct {
	os osMemory
}

// LiveMemory returns the Memory of the running process.
func LiveMemory() Memory {
	return &liveMemory{os: newOSMemory()}
}

func (m *liveMemory) Read(addr uintptr, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	return guard(addr, func() {
		copy(buf, unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(buf)))
	})
}

func (m *liveMemory) Write(addr uintptr, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return guard(addr, func() {
		copy(unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(data)), data)
	})
}

func (m *liveMemory) Protect(addr uintptr, size int, prot Protection) (Protection, error) {
	return m.os.protect(addr, size, prot)
}

func (m *liveMemory) FlushCode(addr uintptr, size int) error {
	return m.os.flush(addr, size)
}

func (m *liveMemory) Alloc(addr uintptr, size int, prot Protection) (uintptr, error) {
	return m.os.alloc(addr, size, prot)
}

func (m *liveMemory) Free(addr uintptr) error {
	return m.os.free(addr)
}

func (m *liveMemory) Granularity() uintptr {
	return m.os.granularity()
}
