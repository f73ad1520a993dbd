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
	"fmt"
	"strings"

	"github.com/apex/log"
	"golang.org/x/arch/x86/x86asm"
)

const (
	rexMask     = 0xF0
	rexBase     = 0x40
	rexR        = 0x04
	rexB        = 0x41
	opMovLoad   = 0x8B // mov r32, r/m32
	opMovImm    = 0xB8 // mov r32, imm32, register in the low 3 bits
	opGroup1    = 0x83 // op r/m32, imm8
	modrmRIP    = 0x05 // mod=00 r/m=101
	modrmRIPMsk = 0xC7
	modrmCmpRIP = 0x3D // /7 = cmp, rip-relative
	opNop       = 0x90

	maxLoadLength = 7
)

type ripLoad struct {
	length int
	reg    byte
	ext    bool
	disp   int32
}

// decodeRIPLoad decodes "[REX] 8B modrm disp32" where modrm selects rip+disp32.
func decodeRIPLoad(code []byte) (ripLoad, error) {
	var l ripLoad
	i := 0
	if len(code) > 0 && code[0]&rexMask == rexBase {
		l.ext = code[0]&rexR != 0
		i = 1
	}
	if len(code) < i+6 {
		return l, fmt.Errorf("%w: %d bytes is too short for a load", ErrLayoutMismatch, len(code))
	}
	if code[i] != opMovLoad {
		return l, fmt.Errorf("%w: opcode %#02x is not a load", ErrLayoutMismatch, code[i])
	}
	modrm := code[i+1]
	if modrm&modrmRIPMsk != modrmRIP {
		return l, fmt.Errorf("%w: modrm %#02x is not rip-relative", ErrLayoutMismatch, modrm)
	}
	l.reg = (modrm >> 3) & 7
	l.disp = int32(binary.LittleEndian.Uint32(code[i+2:]))
	l.length = i + 6
	return l, nil
}

// EncodeLoadImmediate turns "mov r32, [rip+disp32]" reading dataAddr into
// "mov r32, imm" of the same length, padded with NOPs. code holds the
// instruction at instrAddr and may carry trailing bytes.
func EncodeLoadImmediate(code []byte, instrAddr, dataAddr uintptr, imm uint32) ([]byte, error) {
	l, err := decodeRIPLoad(code)
	if err != nil {
		return nil, err
	}
	want := int64(dataAddr) - int64(instrAddr+uintptr(l.length))
	if int64(l.disp) != want {
		return nil, fmt.Errorf("%w: load at %#x reads %#x, not %#x", ErrLayoutMismatch,
			instrAddr, int64(instrAddr)+int64(l.length)+int64(l.disp), dataAddr)
	}

	out := make([]byte, 0, l.length)
	if l.ext {
		out = append(out, rexB)
	}
	out = append(out, opMovImm+l.reg)
	out = binary.LittleEndian.AppendUint32(out, imm)
	for len(out) < l.length {
		out = append(out, opNop)
	}
	return out, nil
}

// expectedLoad decodes the stock load whose bytes up to the displacement are op.
func expectedLoad(op []byte) (ripLoad, error) {
	code := append(append([]byte(nil), op...), 0, 0, 0, 0)
	return decodeRIPLoad(code)
}

// loadsImmediate reports whether code already holds the rewrite of load l:
// "mov r32, imm" into the same register, NOP padded to the same length.
func loadsImmediate(code []byte, l ripLoad, imm uint32) bool {
	if len(code) < l.length {
		return false
	}
	i := 0
	if l.ext {
		if code[0] != rexB {
			return false
		}
		i = 1
	}
	if code[i] != opMovImm+l.reg || binary.LittleEndian.Uint32(code[i+1:]) != imm {
		return false
	}
	for _, b := range code[i+5 : l.length] {
		if b != opNop {
			return false
		}
	}
	return true
}

// RewriteLoadToImmediate replaces the rip-relative load at instrAddr, whose
// bytes up to the displacement are op, with an immediate load of imm into the
// same register. An already rewritten site counts as success.
func (p *Patcher) RewriteLoadToImmediate(instrAddr, dataAddr uintptr, op []byte, imm uint32, desc string) error {
	ctx := p.log.WithFields(log.Fields{"site": desc, "addr": fmt.Sprintf("%#x", instrAddr)})
	want, err := expectedLoad(op)
	if err != nil {
		return fmt.Errorf("%s: %w", desc, err)
	}

	code := make([]byte, maxLoadLength)
	if err := p.mem.Read(instrAddr, code); err != nil {
		ctx.WithError(err).Warn("cannot read load site")
		return fmt.Errorf("%s: %w", desc, err)
	}
	if loadsImmediate(code, want, imm) {
		return nil
	}
	repl, err := EncodeLoadImmediate(code, instrAddr, dataAddr, imm)
	if err == nil && !bytes.HasPrefix(code, op) {
		err = fmt.Errorf("%w: found % X, want % X", ErrLayoutMismatch, code[:len(op)], op)
	}
	if err != nil {
		if p.firstMismatch(instrAddr, code) {
			ctx.WithError(err).WithField("found", fmt.Sprintf("% X", code)).Warn("load site left unmodified")
		}
		return fmt.Errorf("%s: %w", desc, err)
	}
	if err := writeCode(p.mem, instrAddr, repl); err != nil {
		ctx.WithError(err).Error("rewrite failed")
		return fmt.Errorf("%s: %w", desc, err)
	}
	ctx.WithFields(log.Fields{
		"old": strings.Join(Disassemble(code[:len(repl)], instrAddr), "; "),
		"new": strings.Join(Disassemble(repl, instrAddr), "; "),
	}).Info("rewritten")
	return nil
}

// PatchCompareImmediate changes the imm8 of "cmp dword [rip+disp32], imm8"
// reading dataAddr from old to new.
func (p *Patcher) PatchCompareImmediate(instrAddr, dataAddr uintptr, old, new byte, desc string) error {
	code := make([]byte, 7)
	if err := p.mem.Read(instrAddr, code); err != nil {
		return fmt.Errorf("%s: %w", desc, err)
	}
	disp := int64(int32(binary.LittleEndian.Uint32(code[2:])))
	if code[0] != opGroup1 || code[1] != modrmCmpRIP || int64(instrAddr)+7+disp != int64(dataAddr) {
		if p.firstMismatch(instrAddr, code) {
			p.log.WithFields(log.Fields{"site": desc, "found": fmt.Sprintf("% X", code)}).
				Warn("compare site left unmodified")
		}
		return fmt.Errorf("%s at %#x: found % X: %w", desc, instrAddr, code, ErrLayoutMismatch)
	}
	return p.PatchByte(instrAddr+6, old, new, desc)
}

// Disassemble renders code at pc in Intel syntax, one string per instruction.
// Undecodable bytes are rendered as "db".
func Disassemble(code []byte, pc uintptr) []string {
	var res []string
	for len(code) > 0 {
		inst, err := x86asm.Decode(code, 64)
		if err != nil || inst.Len == 0 || inst.Op == 0 {
			res = append(res, fmt.Sprintf("db %#02x", code[0]))
			code = code[1:]
			pc++
			continue
		}
		res = append(res, x86asm.IntelSyntax(inst, uint64(pc), nil))
		code = code[inst.Len:]
		pc += uintptr(inst.Len)
	}
	return res
}
