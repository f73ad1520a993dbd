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
	"fmt"
	"sync"

	"github.com/apex/log"
)

// Patcher modifies code bytes after checking they hold what the caller expects.
type Patcher struct {
	mem Memory
	log log.Interface

	mu       sync.Mutex
	reported map[uintptr]string
}

// NewPatcher returns a Patcher writing through mem and logging to logger.
func NewPatcher(mem Memory, logger log.Interface) *Patcher {
	return &Patcher{mem: mem, log: logger, reported: map[uintptr]string{}}
}

// PatchByte replaces a single byte, see PatchBytes.
func (p *Patcher) PatchByte(addr uintptr, old, new byte, desc string) error {
	return p.PatchBytes(addr, []byte{old}, []byte{new}, desc)
}

// PatchBytes replaces old with new at addr. Bytes already equal to new
// count as success without writing. Anything else is ErrLayoutMismatch and
// memory is left untouched.
func (p *Patcher) PatchBytes(addr uintptr, old, new []byte, desc string) error {
	if len(old) != len(new) {
		return fmt.Errorf("%s: replacement is %d bytes, original is %d", desc, len(new), len(old))
	}
	ctx := p.log.WithFields(log.Fields{"site": desc, "addr": fmt.Sprintf("%#x", addr)})

	cur := make([]byte, len(old))
	if err := p.mem.Read(addr, cur); err != nil {
		ctx.WithError(err).Warn("cannot read patch site")
		return fmt.Errorf("%s: %w", desc, err)
	}
	if bytes.Equal(cur, new) {
		return nil
	}
	if !bytes.Equal(cur, old) {
		err := fmt.Errorf("%s at %#x: found % X, expected % X: %w", desc, addr, cur, old, ErrLayoutMismatch)
		if p.firstMismatch(addr, cur) {
			ctx.WithFields(log.Fields{"found": fmt.Sprintf("% X", cur), "expected": fmt.Sprintf("% X", old)}).
				Warn("unexpected bytes, site left unmodified")
		}
		return err
	}
	if err := writeCode(p.mem, addr, new); err != nil {
		ctx.WithError(err).Error("patch failed")
		return fmt.Errorf("%s: %w", desc, err)
	}
	ctx.WithFields(log.Fields{"old": fmt.Sprintf("% X", old), "new": fmt.Sprintf("% X", new)}).Info("patched")
	return nil
}

// firstMismatch reports whether this content at addr has not been logged yet.
func (p *Patcher) firstMismatch(addr uintptr, found []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reported[addr] == string(found) {
		return false
	}
	p.reported[addr] = string(found)
	return true
}

// writeCode writes into a code page: unprotect, write, restore, flush.
func writeCode(mem Memory, addr uintptr, data []byte) error {
	old, err := mem.Protect(addr, len(data), ProtExecReadWrite)
	if err != nil {
		return err
	}
	werr := mem.Write(addr, data)
	if _, err := mem.Protect(addr, len(data), old); err != nil && werr == nil {
		werr = err
	}
	if werr != nil {
		return werr
	}
	return mem.FlushCode(addr, len(data))
}
