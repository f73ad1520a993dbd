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

package quality

import (
	"sync"

	"github.com/qrdl/shadowcascade"
)

// Setting is a float game setting the controller adjusts.
type Setting interface {
	Float() (float32, error)
	SetFloat(v float32) error
}

// IntSetting is an integer game setting.
type IntSetting interface {
	SetInt(v int32) error
}

// MemoryFloat is a float32 at a fixed address in host memory.
type MemoryFloat struct {
	Mem  shadowcascade.Memory
	Addr uintptr
}

// RendererShadowDistance returns the live renderer shadow distance of img.
func RendererShadowDistance(mem shadowcascade.Memory, img *shadowcascade.Image) MemoryFloat {
	return MemoryFloat{Mem: mem, Addr: shadowcascade.RendererShadowDistance(img)}
}

// Float reads the current value.
func (m MemoryFloat) Float() (float32, error) {
	return shadowcascade.ReadFloat32(m.Mem, m.Addr)
}

// SetFloat stores v in host memory.
func (m MemoryFloat) SetFloat(v float32) error {
	return shadowcascade.WriteFloat32(m.Mem, m.Addr, v)
}

// Value is an in-process Setting, safe for concurrent use.
type Value struct {
	mu sync.Mutex
	f  float32
	i  int32
}

// NewValue returns a Value holding v.
func NewValue(v float32) *Value {
	return &Value{f: v}
}

// Float returns the float value. It never fails.
func (v *Value) Float() (float32, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.f, nil
}

// SetFloat replaces the float value.
func (v *Value) SetFloat(f float32) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.f = f
	return nil
}

// Int returns the integer value.
func (v *Value) Int() int32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.i
}

// SetInt replaces the integer value.
func (v *Value) SetInt(i int32) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.i = i
	return nil
}
