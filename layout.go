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

// DefaultImageBase is the preferred load address of the host executable.
// All offsets below are relative to the image base.
const DefaultImageBase = 0x140000000

// .text
const (
	// first byte of the shadow constructor, reads 0x48 once the image is decrypted
	rvaTextSentinel = 0x27c33d0
	textSentinel    = 0x48

	rvaShaderCtorCount  = 0x27c340c // mov edx, 2
	rvaShaderCtorStored = 0x27c34d8 // mov dword [rbx+0x1D8], 2

	rvaSetupCompare = 0x290dc03 // cmp dword [rip+count], 2
	rvaStereoBranch = 0x281be1c // jz around the instanced stereo path

	rvaNullGuardSite = 0x281377f
	rvaPoolClearSite = 0x278e610
	rvaZeroInitSite  = 0x27a52a0
	rvaValidatorSite = 0x27a49da
	rvaValidatorNext = 0x27a49e3
	rvaValidatorSkip = 0x27a4a6d
)

// .rdata / .data / .bss
const (
	rvaCascadeCount   = 0x3924818 // u32, 2 on stock builds
	rvaShadowDist2    = 0x3924808 // f32, distance used by the 2-cascade path
	rvaShadowDist4    = 0x2c7f648 // f32, .rdata
	rvaVRStereoFlag   = 0x391d848
	rvaVRDrawFlag     = 0x388a808
	rvaCascadeArray   = 0x6878b18 // cascade entry array header
	rvaShadowRenderer = 0x68788f0 // f32, live shadow distance
	rvaRenderNode     = 0x6879520
	rvaSetupNode      = 0x6885d40
	rvaCascadeMask    = 0x6885cc4
)

var rvaDescriptorArrays = [...]uintptr{0x6886450, 0x6886468, 0x6886480}

const (
	// CascadeCount is the cascade count the engine configures the host for.
	CascadeCount = 4

	stockCascadeCount = 2
	maskSafe          = 0x03
	maskFull          = 0x0F
)

type bytePatch struct {
	name string
	rva  uintptr
	old  byte
	new  byte
}

type loadSite struct {
	name string
	rva  uintptr
	op   []byte // stock instruction up to the displacement
}

// sites reading the cascade count global with mov r32, [rip+disp32]
var countLoadSites = []loadSite{
	{"count-load-render", 0x27e929a, []byte{0x8B, 0x05}},        // mov eax, [count]
	{"count-load-setup-a", 0x28a57a0, []byte{0x44, 0x8B, 0x05}}, // mov r8d, [count]
	{"count-load-setup-b", 0x28a5c3c, []byte{0x8B, 0x0D}},       // mov ecx, [count]
}

var shaderCtorPatches = []bytePatch{
	{"shader-ctor-count", rvaShaderCtorCount, stockCascadeCount, CascadeCount},
	{"shader-ctor-stored", rvaShaderCtorStored, stockCascadeCount, CascadeCount},
}

// mask literals used by the per-frame mask writer, clamped to the first two cascades
var maskLiterals = []bytePatch{
	{"mask-literal-a", 0x284e9fb, 0x0F, maskSafe},
	{"mask-literal-b", 0x284ea38, 0x0F, maskSafe},
	{"mask-literal-c", 0x284ea4c, 0x05, maskSafe},
	{"mask-literal-d", 0x284ea5f, 0x09, maskSafe},
}

var maskRestore = func() []bytePatch {
	res := make([]bytePatch, len(maskLiterals))
	for i, p := range maskLiterals {
		res[i] = bytePatch{p.name + "-restore", p.rva, maskSafe, maskFull}
	}
	return res
}()

var stereoPatch = bytePatch{"stereo-dispatch", rvaStereoBranch, 0x74, 0xEB}

// instruction bytes displaced by the safety caves
var (
	// mov rbp, [r10+0x180]
	nullGuardOriginal = []byte{0x49, 0x8B, 0xAA, 0x80, 0x01, 0x00, 0x00}
	// sub rsp, 0x68; mov r10, r9
	poolClearOriginal = []byte{0x48, 0x83, 0xEC, 0x68, 0x4D, 0x8B, 0xD1}
	// mov [rax+r10+0x90], rdx
	zeroInitOriginal = []byte{0x4A, 0x89, 0x94, 0x10, 0x90, 0x00, 0x00, 0x00}
	// test r14, r14; jz +0x8A
	validatorOriginal = []byte{0x4D, 0x85, 0xF6, 0x0F, 0x84, 0x8A, 0x00, 0x00, 0x00}
)

const (
	nullGuardCaveSize = 64
	poolClearCaveSize = 64
	zeroInitCaveSize  = 128
	validatorCaveSize = 64
)

// Site describes one location the engine modifies.
type Site struct {
	Name        string
	RVA         uintptr
	Kind        string
	Expected    []byte
	Replacement []byte
}

// Sites lists every location the engine touches, in activation order.
func Sites() []Site {
	var s []Site
	for _, l := range countLoadSites {
		s = append(s, Site{Name: l.name, RVA: l.rva, Kind: "load-immediate", Expected: l.op})
	}
	s = append(s, Site{Name: "count-compare-setup", RVA: rvaSetupCompare + 6, Kind: "byte",
		Expected: []byte{stockCascadeCount}, Replacement: []byte{CascadeCount}})
	for _, p := range maskLiterals {
		s = append(s, p.site("byte"))
	}
	for _, p := range shaderCtorPatches {
		s = append(s, p.site("byte"))
	}
	s = append(s, stereoPatch.site("byte"))
	for _, c := range []struct {
		name string
		rva  uintptr
		org  []byte
	}{
		{"null-guard", rvaNullGuardSite, nullGuardOriginal},
		{"pool-clear", rvaPoolClearSite, poolClearOriginal},
		{"zero-init", rvaZeroInitSite, zeroInitOriginal},
		{"pointer-validator", rvaValidatorSite, validatorOriginal},
	} {
		s = append(s, Site{Name: c.name, RVA: c.rva, Kind: "cave", Expected: c.org})
	}
	for _, p := range maskRestore {
		s = append(s, p.site("byte"))
	}
	return s
}

func (p bytePatch) site(kind string) Site {
	return Site{Name: p.name, RVA: p.rva, Kind: kind, Expected: []byte{p.old}, Replacement: []byte{p.new}}
}

// RendererShadowDistance returns the address of the shadow distance the
// renderer reads every frame.
func RendererShadowDistance(img *Image) uintptr {
	return img.At(rvaShadowRenderer)
}
