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

import "sync"

// Image resolves addresses inside the host executable.
// The base is looked up once, on first use.
type Image struct {
	once    sync.Once
	base    uintptr
	resolve func() uintptr
}

// NewImage returns an Image loaded at a known base.
func NewImage(base uintptr) *Image {
	return &Image{resolve: func() uintptr { return base }}
}

// ProcessImage returns the Image of the executable of the current process.
func ProcessImage() *Image {
	return &Image{resolve: processBase}
}

// Base returns the load address, 0 if it could not be determined.
func (i *Image) Base() uintptr {
	i.once.Do(func() {
		i.base = i.resolve()
	})
	return i.base
}

// At converts an offset relative to the image base into an absolute address.
func (i *Image) At(off uintptr) uintptr {
	return i.Base() + off
}
