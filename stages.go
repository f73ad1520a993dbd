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
	"errors"
	"fmt"

	"github.com/apex/log"
)

func (e *Engine) patchAll(patches []bytePatch) error {
	var errs error
	for _, p := range patches {
		errs = errors.Join(errs, e.patcher.PatchByte(e.image.At(p.rva), p.old, p.new, p.name))
	}
	return errs
}

// forceCount keeps the cascade count global at 4. The host initialises it
// statically, so it is checked on every pass.
func (e *Engine) forceCount() {
	if !e.Done(TextDecrypted) {
		return
	}
	addr := e.image.At(rvaCascadeCount)
	v, err := ReadUint32(e.mem, addr)
	if err != nil {
		return
	}
	if v != CascadeCount {
		if err := WriteUint32(e.mem, addr, CascadeCount); err != nil {
			e.log.WithError(err).Warn("cannot force cascade count")
			return
		}
		e.log.WithFields(log.Fields{"old": v, "new": CascadeCount}).Info("cascade count forced")
	}
	e.countForced.Store(true)
}

func (e *Engine) checkDecrypted() {
	if e.Done(TextDecrypted) {
		return
	}
	v, err := ReadUint8(e.mem, e.image.At(rvaTextSentinel))
	if err != nil || v != textSentinel {
		return
	}
	e.complete(TextDecrypted)
}

func (e *Engine) patchCountReads() {
	if !e.ready(CountPatched) {
		return
	}
	data := e.image.At(rvaCascadeCount)
	var errs error
	for _, s := range countLoadSites {
		errs = errors.Join(errs, e.patcher.RewriteLoadToImmediate(e.image.At(s.rva), data, s.op, CascadeCount, s.name))
	}
	errs = errors.Join(errs, e.patcher.PatchCompareImmediate(e.image.At(rvaSetupCompare), data,
		stockCascadeCount, CascadeCount, "count-compare-setup"))
	if errs != nil {
		return
	}
	e.complete(CountPatched)
}

func (e *Engine) applySafeMode() {
	if !e.ready(SafeModePatched) {
		return
	}
	if err := e.patchAll(maskLiterals); err != nil {
		return
	}
	e.complete(SafeModePatched)
}

func (e *Engine) patchShaderCtor() {
	if !e.ready(ShaderCtorPatched) {
		return
	}
	if err := e.patchAll(shaderCtorPatches); err != nil {
		return
	}
	e.complete(ShaderCtorPatched)
}

func (e *Engine) patchStereoDispatch() {
	if e.opts.SkipStereoFix || e.stereoFixed.Load() || !e.Done(TextDecrypted) {
		return
	}
	if err := e.patchAll([]bytePatch{stereoPatch}); err != nil {
		return
	}
	e.stereoFixed.Store(true)
}

// scaleShadowDistance stretches the 2-cascade shadow distance so the four
// cascades cover a wider range. Applied once.
func (e *Engine) scaleShadowDistance() {
	if e.distanceScaled.Load() || !e.Done(TextDecrypted) {
		return
	}
	addr := e.image.At(rvaShadowDist2)
	v, err := ReadFloat32(e.mem, addr)
	if err != nil || !(v > 0 && v < 1e10) {
		return
	}
	if err := WriteFloat32(e.mem, addr, v*5); err != nil {
		e.log.WithError(err).Warn("cannot scale shadow distance")
		return
	}
	e.distanceScaled.Store(true)
	e.log.WithFields(log.Fields{"old": v, "new": v * 5}).Info("shadow distance scaled")
}

func (e *Engine) expandArray() {
	if !e.ready(ArrayExpanded) {
		return
	}
	arr := cascadeArray{mem: e.mem, addr: e.image.At(rvaCascadeArray)}
	h, err := arr.header()
	if err != nil || h.buffer == 0 {
		return
	}
	ctx := e.log.WithFields(log.Fields{
		"buffer":   fmt.Sprintf("%#x", h.buffer),
		"capacity": h.capacity,
		"count":    h.count,
	})
	if e.arrayLogged.CompareAndSwap(false, true) {
		ctx.Info("cascade array found")
	}

	if h.capacity >= CascadeCount {
		err = e.fillInPlace(arr, h)
	} else {
		err = e.reallocate(arr, h)
	}
	if err != nil {
		ctx.WithError(err).Warn("cascade array not expanded")
		return
	}
	e.complete(ArrayExpanded)
}

// fillInPlace clones entry 0 into the unused slots of a buffer that already
// holds four entries and raises the count.
func (e *Engine) fillInPlace(arr cascadeArray, h arrayHeader) error {
	tmpl, err := arr.readEntry(h.buffer, 0)
	if err != nil {
		return err
	}
	used := max(int(h.count), 1)
	for i := 0; i < used && i < CascadeCount; i++ {
		if _, err := arr.fixEmptyTails(arr.entry(h.buffer, i)); err != nil {
			return err
		}
	}
	for i := used; i < CascadeCount; i++ {
		dst := make([]byte, cascadeEntrySize)
		cloneEntry(dst, tmpl, arr.entry(h.buffer, i))
		if err := e.mem.Write(arr.entry(h.buffer, i), dst); err != nil {
			return err
		}
	}
	if h.count < CascadeCount {
		if err := WriteUint32(e.mem, arr.addr+arrayCountOff, CascadeCount); err != nil {
			return err
		}
	}
	e.log.WithFields(log.Fields{"cloned": max(CascadeCount-used, 0), "count": CascadeCount}).Info("cascade array filled in place")
	return nil
}

// reallocate moves the entries into a new four-entry buffer. The old buffer
// belongs to the host allocator and is left as is.
func (e *Engine) reallocate(arr cascadeArray, h arrayHeader) error {
	used := min(max(int(h.count), 1), int(h.capacity))
	if used == 0 {
		return fmt.Errorf("array has no entries: %w", ErrNotReady)
	}
	buf, err := e.mem.Alloc(0, CascadeCount*cascadeEntrySize, ProtReadWrite)
	if err != nil {
		return err
	}

	img := make([]byte, CascadeCount*cascadeEntrySize)
	if err := e.mem.Read(h.buffer, img[:used*cascadeEntrySize]); err != nil {
		e.mem.Free(buf)
		return err
	}
	for i := 0; i < used; i++ {
		rebasePools(img[i*cascadeEntrySize:], arr.entry(h.buffer, i), arr.entry(buf, i))
	}
	for i := used; i < CascadeCount; i++ {
		cloneEntry(img[i*cascadeEntrySize:], img[:cascadeEntrySize], arr.entry(buf, i))
	}
	if err := e.mem.Write(buf, img); err != nil {
		e.mem.Free(buf)
		return err
	}

	// The buffer goes first: until count is raised the host sees at most
	// the entries it had, and all of them are present in buf.
	if err := WritePointer(e.mem, arr.addr+arrayBufferOff, buf); err != nil {
		e.mem.Free(buf)
		return err
	}
	err = errors.Join(
		WriteUint32(e.mem, arr.addr+arrayCapacityOff, CascadeCount),
		WriteUint32(e.mem, arr.addr+arrayCountOff, CascadeCount),
	)
	if err != nil {
		return errors.Join(err, e.restoreHeader(arr, h, buf))
	}
	e.log.WithFields(log.Fields{
		"old":    fmt.Sprintf("%#x", h.buffer),
		"new":    fmt.Sprintf("%#x", buf),
		"copied": used,
	}).Info("cascade array reallocated")
	return nil
}

// restoreHeader puts back the header a failed reallocate started to
// replace. buf is freed only once the host no longer points at it.
func (e *Engine) restoreHeader(arr cascadeArray, h arrayHeader, buf uintptr) error {
	err := errors.Join(
		WriteUint32(e.mem, arr.addr+arrayCountOff, h.count),
		WriteUint32(e.mem, arr.addr+arrayCapacityOff, h.capacity),
	)
	if perr := WritePointer(e.mem, arr.addr+arrayBufferOff, h.buffer); perr != nil {
		e.log.WithError(perr).WithField("buffer", fmt.Sprintf("%#x", buf)).Error("cascade array left on new buffer")
		return errors.Join(err, perr)
	}
	return errors.Join(err, e.mem.Free(buf))
}

// refreshEntries re-copies entries 0 and 1 over 2 and 3 once the host has
// filled the first two beyond what the template carried.
func (e *Engine) refreshEntries() {
	if !e.opts.RefreshEntries || !e.Done(ArrayExpanded) || e.entriesRefreshed.Load() {
		return
	}
	arr := cascadeArray{mem: e.mem, addr: e.image.At(rvaCascadeArray)}
	h, err := arr.header()
	if err != nil || h.buffer == 0 || h.count < CascadeCount {
		return
	}
	first, err := arr.readEntry(h.buffer, 0)
	if err != nil {
		return
	}
	third, err := arr.readEntry(h.buffer, 2)
	if err != nil {
		return
	}
	nz0, nz2 := nonZero(first), nonZero(third)
	if nz0 <= nz2+2 {
		return
	}
	second, err := arr.readEntry(h.buffer, 1)
	if err != nil {
		return
	}
	for i, src := range [][]byte{first, second} {
		dst := make([]byte, cascadeEntrySize)
		at := arr.entry(h.buffer, i+2)
		cloneEntry(dst, src, at)
		if err := e.mem.Write(at, dst); err != nil {
			e.log.WithError(err).Warn("entry refresh failed")
			return
		}
	}
	e.entriesRefreshed.Store(true)
	e.log.WithFields(log.Fields{"nonzero0": nz0, "nonzero2": nz2}).Info("entries 2-3 refreshed")
}

// SafetyCaves returns the redirects installed before all four cascades are
// enabled, for an image loaded at img.
func SafetyCaves(img *Image) []CaveSpec {
	nullSite := img.At(rvaNullGuardSite)
	nullRet := nullSite + uintptr(len(nullGuardOriginal))
	poolSite := img.At(rvaPoolClearSite)
	poolRet := poolSite + uintptr(len(poolClearOriginal))
	zeroSite := img.At(rvaZeroInitSite)
	zeroRet := zeroSite + uintptr(len(zeroInitOriginal))
	next, skip := img.At(rvaValidatorNext), img.At(rvaValidatorSkip)

	return []CaveSpec{
		{
			Name:     "null-guard",
			Site:     nullSite,
			Original: nullGuardOriginal,
			Size:     nullGuardCaveSize,
			Targets:  []uintptr{nullRet},
			Assemble: func(cave uintptr) ([]byte, error) {
				return AssembleNullGuard(cave, nullRet, nullGuardOriginal)
			},
		},
		{
			Name:     "pool-clear",
			Site:     poolSite,
			Original: poolClearOriginal,
			Size:     poolClearCaveSize,
			Targets:  []uintptr{poolRet},
			Assemble: func(cave uintptr) ([]byte, error) {
				return AssemblePoolClear(cave, poolRet, poolClearOriginal)
			},
		},
		{
			Name:     "zero-init",
			Site:     zeroSite,
			Original: zeroInitOriginal,
			Size:     zeroInitCaveSize,
			Targets:  []uintptr{zeroRet},
			Assemble: func(cave uintptr) ([]byte, error) {
				return AssembleZeroInit(cave, zeroRet, zeroInitOriginal)
			},
		},
		{
			Name:     "pointer-validator",
			Site:     img.At(rvaValidatorSite),
			Original: validatorOriginal,
			Size:     validatorCaveSize,
			Targets:  []uintptr{next, skip},
			Assemble: func(cave uintptr) ([]byte, error) {
				return AssemblePointerValidator(cave, next, skip)
			},
		},
	}
}

func (e *Engine) caveSpecs() []CaveSpec {
	return SafetyCaves(e.image)
}

func (e *Engine) applySafetyPatches() {
	if !e.ready(SafetyPatchesApplied) {
		return
	}
	var errs error
	for _, spec := range e.caveSpecs() {
		if _, err := e.builder.Redirect(spec); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	if errs != nil {
		return
	}
	e.complete(SafetyPatchesApplied)
}

func (e *Engine) restoreMask() {
	if !e.ready(MaskRestored) {
		return
	}
	g, err := groupOf(e.mem, e.image.At(rvaRenderNode))
	if err != nil {
		return
	}
	f, err := g.flat()
	if err != nil {
		return
	}
	if !f.ready() {
		if e.flatLogged.CompareAndSwap(false, true) {
			e.log.WithFields(log.Fields{
				"count":    f.count,
				"capacity": f.capacity,
				"buffer":   fmt.Sprintf("%#x", f.buffer),
			}).Info("waiting for shadow maps")
		}
		return
	}

	e.nudgeHost()
	if entry := g.flatEntry(CascadeCount - 1); entry != 0 {
		if err := WriteUint8(e.mem, entry+flatLastCascadeOff, 0); err != nil {
			e.log.WithError(err).Warn("cannot clear last cascade flag")
		}
	}
	if err := e.patchAll(maskRestore); err != nil {
		return
	}
	e.complete(MaskRestored)
}

// clampMask keeps the live cascade mask within the first two cascades until
// the mask literals are clamped.
func (e *Engine) clampMask() {
	if e.Done(SafeModePatched) || !e.Done(TextDecrypted) {
		return
	}
	addr := e.image.At(rvaCascadeMask)
	m, err := ReadUint32(e.mem, addr)
	if err != nil || m <= maskSafe {
		return
	}
	if err := WriteUint32(e.mem, addr, m&maskSafe); err == nil {
		e.log.WithFields(log.Fields{"old": m, "new": m & maskSafe}).Debug("mask clamped")
	}
}

// maintain runs on every poller tick.
func (e *Engine) maintain() {
	if !e.Done(TextDecrypted) {
		return
	}
	e.fixSetupNode()
	if e.Done(ArrayExpanded) {
		e.nudgeHost()
	}
}

// fixSetupNode copies the render scene node pointer into the setup slot if
// the host left it null.
func (e *Engine) fixSetupNode() {
	if e.setupNodeFixed.Load() {
		return
	}
	p := chain{mem: e.mem}
	render := p.ptr(e.image.At(rvaRenderNode))
	setup := p.ptr(e.image.At(rvaSetupNode))
	if p.err != nil || render == 0 {
		return
	}
	if setup == 0 {
		if err := WritePointer(e.mem, e.image.At(rvaSetupNode), render); err != nil {
			return
		}
		e.log.WithField("node", fmt.Sprintf("%#x", render)).Info("setup scene node filled in")
	}
	e.setupNodeFixed.Store(true)
}

// nudgeHost sets the VR flag of both cascade groups and raises the cascade
// fields of their shader objects to 4.
func (e *Engine) nudgeHost() {
	for _, slot := range []uintptr{e.image.At(rvaRenderNode), e.image.At(rvaSetupNode)} {
		g, err := groupOf(e.mem, slot)
		if err != nil {
			continue
		}
		if e.forceGroup(g) && e.groupsForced.CompareAndSwap(false, true) {
			e.log.WithField("group", fmt.Sprintf("%#x", g.addr)).Info("cascade group forced to four")
		}
	}
}

func (e *Engine) forceGroup(g cascadeGroup) bool {
	changed := false
	if v, err := ReadUint8(e.mem, g.addr+groupVRFlagOff); err == nil && v != 1 {
		changed = WriteUint8(e.mem, g.addr+groupVRFlagOff, 1) == nil
	}
	sh, err := g.shader()
	if err != nil || sh == 0 {
		return changed
	}
	if ok, _ := atLeast32(e.mem, sh+shaderStoredLenOff, CascadeCount); ok {
		changed = true
	}
	if ok, _ := atLeast16(e.mem, sh+shaderArrayCapOff, CascadeCount); ok {
		changed = true
	}
	if ok, _ := atLeast16(e.mem, sh+shaderArrayLenOff, CascadeCount); ok {
		changed = true
	}
	return changed
}
