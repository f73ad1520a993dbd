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
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/apex/log"
)

// maxReach bounds the distance between a site and its cave, leaving slack
// below the 2GB limit of rel32 for the cave body itself.
const maxReach = 0x7F000000

// Trampoline is an installed redirect from a host site into a code cave.
type Trampoline struct {
	Name     string
	Site     uintptr
	Addr     uintptr
	Size     int
	Code     []byte
	Original []byte

	adopted bool // installed by another Builder, which owns the cave
}

// CaveSpec describes a redirect to install.
type CaveSpec struct {
	Name     string
	Site     uintptr
	Original []byte
	Size     int
	// Targets lists every host address the cave jumps to.
	Targets []uintptr
	// Assemble emits the cave body for a cave placed at the given address.
	Assemble func(cave uintptr) ([]byte, error)
}

// Builder installs trampolines, at most one per name.
type Builder struct {
	mem Memory
	log log.Interface

	mu    sync.Mutex
	built map[string]*Trampoline
	order []string
}

// NewBuilder returns a Builder that allocates caves from mem.
func NewBuilder(mem Memory, logger log.Interface) *Builder {
	return &Builder{mem: mem, log: logger, built: map[string]*Trampoline{}}
}

// Redirect allocates a cave near spec.Site, writes the body and overwrites
// the site with a jump into it. A redirect installed earlier under the same
// name is returned as is, and so is a site already jumping into a cave that
// holds exactly the body spec assembles for it. On failure the site is left
// untouched and the cave is released.
func (b *Builder) Redirect(spec CaveSpec) (*Trampoline, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.built[spec.Name]; ok {
		return t, nil
	}
	ctx := b.log.WithFields(log.Fields{"site": spec.Name, "addr": fmt.Sprintf("%#x", spec.Site)})

	cur := make([]byte, len(spec.Original))
	if err := b.mem.Read(spec.Site, cur); err != nil {
		return nil, fmt.Errorf("%s: %w", spec.Name, err)
	}
	if t, ok := b.adopt(spec, cur); ok {
		b.built[spec.Name] = t
		b.order = append(b.order, spec.Name)
		ctx.WithField("cave", fmt.Sprintf("%#x", t.Addr)).Info("cave already installed")
		return t, nil
	}
	if !bytes.Equal(cur, spec.Original) {
		ctx.WithFields(log.Fields{"found": fmt.Sprintf("% X", cur), "expected": fmt.Sprintf("% X", spec.Original)}).
			Warn("unexpected bytes, cave not installed")
		return nil, fmt.Errorf("%s at %#x: found % X: %w", spec.Name, spec.Site, cur, ErrLayoutMismatch)
	}

	cave, err := AllocateNear(b.mem, spec.Site, spec.Size, spec.Targets)
	if err != nil {
		ctx.WithError(err).Warn("no cave")
		return nil, fmt.Errorf("%s: %w", spec.Name, err)
	}
	t, err := b.install(spec, cave)
	if err != nil {
		if ferr := b.mem.Free(cave); ferr != nil {
			err = errors.Join(err, ferr)
		}
		ctx.WithError(err).Error("cave rolled back")
		return nil, fmt.Errorf("%s: %w", spec.Name, err)
	}
	b.built[spec.Name] = t
	b.order = append(b.order, spec.Name)
	ctx.WithFields(log.Fields{"cave": fmt.Sprintf("%#x", cave), "len": len(t.Code)}).Info("cave installed")
	return t, nil
}

// adopt recognises a site redirected earlier: "jmp rel32" padded with NOPs
// to the length of the original bytes, landing on the body of spec.
func (b *Builder) adopt(spec CaveSpec, cur []byte) (*Trampoline, bool) {
	if len(cur) < jmpInstrLength || cur[0] != jmpInstrCode {
		return nil, false
	}
	for _, c := range cur[jmpInstrLength:] {
		if c != opNop {
			return nil, false
		}
	}
	rel := int32(binary.LittleEndian.Uint32(cur[1:]))
	cave := uintptr(int64(spec.Site) + jmpInstrLength + int64(rel))

	want, err := spec.Assemble(cave)
	if err != nil {
		return nil, false
	}
	code := make([]byte, len(want))
	if err := b.mem.Read(cave, code); err != nil || !bytes.Equal(code, want) {
		return nil, false
	}
	return &Trampoline{
		Name:     spec.Name,
		Site:     spec.Site,
		Addr:     cave,
		Size:     spec.Size,
		Code:     code,
		Original: append([]byte(nil), spec.Original...),
		adopted:  true,
	}, true
}

func (b *Builder) install(spec CaveSpec, cave uintptr) (*Trampoline, error) {
	code, err := spec.Assemble(cave)
	if err != nil {
		return nil, err
	}
	if len(code) > spec.Size {
		return nil, fmt.Errorf("cave body is %d bytes, %d allocated", len(code), spec.Size)
	}
	if err := b.mem.Write(cave, code); err != nil {
		return nil, err
	}
	if err := b.mem.FlushCode(cave, len(code)); err != nil {
		return nil, err
	}
	jump, err := EncodeJump(spec.Site, cave, len(spec.Original))
	if err != nil {
		return nil, err
	}
	if err := writeCode(b.mem, spec.Site, jump); err != nil {
		return nil, err
	}
	return &Trampoline{
		Name:     spec.Name,
		Site:     spec.Site,
		Addr:     cave,
		Size:     spec.Size,
		Code:     code,
		Original: append([]byte(nil), spec.Original...),
	}, nil
}

// Trampoline returns the redirect installed under name, if any.
func (b *Builder) Trampoline(name string) (*Trampoline, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.built[name]
	return t, ok
}

// Release restores original bytes at every site and frees the caves this
// Builder allocated, newest first.
func (b *Builder) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs error
	for i := len(b.order) - 1; i >= 0; i-- {
		t := b.built[b.order[i]]
		if err := writeCode(b.mem, t.Site, t.Original); err != nil {
			// host code still jumps into the cave, keep it
			errs = errors.Join(errs, fmt.Errorf("%s: %w", t.Name, err))
			continue
		}
		if t.adopted {
			delete(b.built, t.Name)
			continue
		}
		if err := b.mem.Free(t.Addr); err != nil {
			errs = errors.Join(errs, fmt.Errorf("%s: %w", t.Name, err))
		}
		delete(b.built, t.Name)
	}
	b.order = b.order[:0]
	for name := range b.built {
		b.order = append(b.order, name)
	}
	return errs
}

// AllocateNear commits size executable bytes from which every target is
// reachable with rel32 and which a jump at site can reach. Candidates are
// tried at growing distance from site, above first, then below.
func AllocateNear(mem Memory, site uintptr, size int, targets []uintptr) (uintptr, error) {
	gran := mem.Granularity()
	base := site &^ (gran - 1)
	for off := gran; off < maxReach; off += gran {
		candidates := []uintptr{base + off}
		if base > off {
			candidates = append(candidates, base-off)
		}
		for _, c := range candidates {
			if !caveReachable(c, size, site, targets) {
				continue
			}
			addr, err := mem.Alloc(c, size, ProtExecReadWrite)
			if err != nil {
				continue
			}
			return addr, nil
		}
	}
	return 0, fmt.Errorf("%w: site %#x", ErrNoCave, site)
}

func caveReachable(cave uintptr, size int, site uintptr, targets []uintptr) bool {
	if _, ok := Rel32(site, cave); !ok {
		return false
	}
	end := cave + uintptr(size) - jmpInstrLength
	for _, t := range targets {
		if _, ok := Rel32(cave, t); !ok {
			return false
		}
		if _, ok := Rel32(end, t); !ok {
			return false
		}
	}
	return true
}
