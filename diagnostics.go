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

	"github.com/apex/log"
)

const (
	diagEntryBytes    = 64
	diagDescriptorMax = 32
)

// logDiagnostics dumps the host structures the engine depends on, once.
// Every read may fault; a section that cannot be read is logged as such.
func (e *Engine) logDiagnostics() {
	if !e.diagnosed.CompareAndSwap(false, true) {
		return
	}
	e.log.Info("diagnostics begin")

	var maps []uintptr
	for _, n := range []struct {
		name string
		rva  uintptr
	}{{"render", rvaRenderNode}, {"setup", rvaSetupNode}} {
		maps = append(maps, e.logSceneNode(n.name, e.image.At(n.rva))...)
	}

	p := chain{mem: e.mem}
	fields := log.Fields{
		"dist2":    p.f32(e.image.At(rvaShadowDist2)),
		"dist4":    p.f32(e.image.At(rvaShadowDist4)),
		"renderer": p.f32(e.image.At(rvaShadowRenderer)),
		"count":    p.u32(e.image.At(rvaCascadeCount)),
		"mask":     p.u32(e.image.At(rvaCascadeMask)),
	}
	e.section("globals", fields, p.err)

	p = chain{mem: e.mem}
	fields = log.Fields{
		"stereo": p.u8(e.image.At(rvaVRStereoFlag)),
		"draw":   p.u8(e.image.At(rvaVRDrawFlag)),
	}
	e.section("vr flags", fields, p.err)

	e.logCascadeArray()
	e.logDescriptors(maps)
	e.log.Info("diagnostics end")
}

func (e *Engine) section(name string, fields log.Fields, err error) {
	ctx := e.log.WithField("section", name)
	if err != nil {
		ctx.WithError(err).Warn("unreadable")
		return
	}
	ctx.WithFields(fields).Info("diagnostics")
}

func (e *Engine) logSceneNode(name string, slot uintptr) []uintptr {
	g, err := groupOf(e.mem, slot)
	if err != nil {
		e.section(name+" node", nil, err)
		return nil
	}
	f, err := g.flat()
	p := chain{mem: e.mem, err: err}
	fields := log.Fields{
		"group":    fmt.Sprintf("%#x", g.addr),
		"flat":     fmt.Sprintf("%#x", f.buffer),
		"count":    f.count,
		"capacity": f.capacity,
		"vr":       p.u8(g.addr + groupVRFlagOff),
	}
	var maps []uintptr
	for i := 0; i < CascadeCount; i++ {
		fields[fmt.Sprintf("map%d", i)] = fmt.Sprintf("%#x/%#x %s", f.maps[i][0], f.maps[i][1], ClassifyPointer(uint64(f.maps[i][0])))
		if f.maps[i][0] != 0 {
			maps = append(maps, f.maps[i][0])
		}
	}
	if sh := p.ptr(g.addr + groupShaderOff); sh != 0 {
		fields["shader"] = fmt.Sprintf("%#x", sh)
		fields["shader.cascades"] = p.u32(sh + shaderCascadesOff)
		fields["shader.cap"] = p.u16(sh + shaderArrayCapOff)
		fields["shader.len"] = p.u16(sh + shaderArrayLenOff)
		fields["shader.stored"] = p.u32(sh + shaderStoredLenOff)
	}
	e.section(name+" node", fields, p.err)
	return maps
}

func (e *Engine) logCascadeArray() {
	arr := cascadeArray{mem: e.mem, addr: e.image.At(rvaCascadeArray)}
	h, err := arr.header()
	if err != nil || h.buffer == 0 {
		e.section("cascade array", log.Fields{"buffer": "0x0"}, err)
		return
	}
	e.section("cascade array", log.Fields{
		"buffer":   fmt.Sprintf("%#x", h.buffer),
		"capacity": h.capacity,
		"count":    h.count,
	}, nil)
	for i := 0; i < int(min(h.count, CascadeCount)); i++ {
		ent, err := arr.readEntry(h.buffer, i)
		e.section(fmt.Sprintf("cascade entry %d", i), log.Fields{
			"nonzero": nonZero(ent),
			"head":    fmt.Sprintf("% X", ent[:diagEntryBytes]),
		}, err)
	}
}

// logDescriptors reports which descriptor array slots hold the flat shadow maps.
func (e *Engine) logDescriptors(maps []uintptr) {
	for i, rva := range rvaDescriptorArrays {
		p := chain{mem: e.mem}
		at := e.image.At(rva)
		buf := p.ptr(at + descBufferOff)
		capacity := p.u32(at + descCapOff)
		count := p.u32(at + descCountOff)
		fields := log.Fields{
			"buffer":   fmt.Sprintf("%#x", buf),
			"capacity": capacity,
			"count":    count,
		}
		matched := 0
		for j := 0; buf != 0 && j < int(min(count, diagDescriptorMax)); j++ {
			v := p.ptr(buf + uintptr(j)*8)
			for k, m := range maps {
				if v == m {
					fields[fmt.Sprintf("slot%d", j)] = fmt.Sprintf("map %d", k)
					matched++
				}
			}
		}
		fields["matched"] = matched
		e.section(fmt.Sprintf("descriptors %d", i), fields, p.err)
	}
}
