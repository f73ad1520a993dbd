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

//go:build !windows && !linux && !dragonfly && !freebsd && !netbsd && !openbsd

package shadowcascade

type osMemory struct{}

func newOSMemory() osMemory {
	return osMemory{}
}

func (osMemory) protect(uintptr, int, Protection) (Protection, error) {
	return ProtNone, ErrUnsupported
}

func (osMemory) flush(uintptr, int) error {
	return nil
}

func (osMemory) alloc(uintptr, int, Protection) (uintptr, error) {
	return 0, ErrUnsupported
}

func (osMemory) free(uintptr) error {
	return ErrUnsupported
}

func (osMemory) granularity() uintptr {
	return 0x10000
}
