//go:build unicorn

package shadowcascade

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
)

const (
	emuCave  = 0x100000
	emuExits = 0x200000
	emuData  = 0x300000
	emuStack = 0x400000
	emuPage  = 0x1000

	emuNext = emuExits + 0x10
	emuSkip = emuExits + 0x80
)

// emulator runs a cave until execution reaches the exit page.
type emulator struct {
	t    *testing.T
	mu   uc.Unicorn
	exit uint64
}

func newEmulator(t *testing.T, code []byte) *emulator {
	t.Helper()
	mu, err := uc.NewUnicorn(uc.ARCH_X86, uc.MODE_64)
	require.NoError(t, err)
	t.Cleanup(func() { mu.Close() })

	for _, base := range []uint64{emuCave, emuExits, emuData, emuStack} {
		require.NoError(t, mu.MemMap(base, emuPage))
	}
	require.NoError(t, mu.MemWrite(emuCave, code))
	require.NoError(t, mu.RegWrite(uc.X86_REG_RSP, emuStack+emuPage-0x100))

	e := &emulator{t: t, mu: mu}
	_, err = mu.HookAdd(uc.HOOK_CODE, func(mu uc.Unicorn, addr uint64, size uint32) {
		e.exit = addr
		mu.Stop()
	}, emuExits, emuExits+emuPage-1)
	require.NoError(t, err)
	return e
}

func (e *emulator) set(reg int, v uint64) {
	require.NoError(e.t, e.mu.RegWrite(reg, v))
}

func (e *emulator) get(reg int) uint64 {
	v, err := e.mu.RegRead(reg)
	require.NoError(e.t, err)
	return v
}

func (e *emulator) poke64(addr, v uint64) {
	require.NoError(e.t, e.mu.MemWrite(addr, binary.LittleEndian.AppendUint64(nil, v)))
}

func (e *emulator) peek64(addr uint64) uint64 {
	b, err := e.mu.MemRead(addr, 8)
	require.NoError(e.t, err)
	return binary.LittleEndian.Uint64(b)
}

func (e *emulator) run() uint64 {
	require.NoError(e.t, e.mu.Start(emuCave, 0))
	return e.exit
}

func TestEmulatedPointerValidator(t *testing.T) {
	code, err := AssemblePointerValidator(emuCave, emuNext, emuSkip)
	require.NoError(t, err)

	tests := []struct {
		name      string
		r14       uint64
		exit      uint64
		slotAfter uint64
	}{
		{"null", 0, emuSkip, 0xAAAA},
		{"valid", 0x1F2E3D4C5B60, emuNext, 0xAAAA},
		{"high bits", 0xDEADBEEF00001234, emuSkip, 0},
		{"low half zero", 0x7FF700000000, emuSkip, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := newEmulator(t, code)
			e.poke64(emuData, 0xAAAA)
			e.set(uc.X86_REG_R12, emuData)
			e.set(uc.X86_REG_R14, tc.r14)
			e.set(uc.X86_REG_RAX, 0x1234)
			rsp := e.get(uc.X86_REG_RSP)

			assert.Equal(t, tc.exit, e.run())
			assert.Equal(t, tc.slotAfter, e.peek64(emuData))
			assert.Equal(t, uint64(0x1234), e.get(uc.X86_REG_RAX), "rax preserved")
			assert.Equal(t, rsp, e.get(uc.X86_REG_RSP), "stack balanced")
			if tc.exit == emuNext {
				assert.Equal(t, tc.r14, e.get(uc.X86_REG_R14))
			} else {
				assert.Zero(t, e.get(uc.X86_REG_R14))
			}
			assert.Equal(t, tc.exit == emuNext, ClassifyPointer(tc.r14) == PointerValid)
		})
	}
}

func TestEmulatedNullGuard(t *testing.T) {
	code, err := AssembleNullGuard(emuCave, emuNext, nullGuardOriginal)
	require.NoError(t, err)

	tests := []struct {
		name string
		r10  uint64
		slot uint64
		rbp  uint64
	}{
		{"null base", 0, 0x5555, 0},
		{"valid slot", emuData, 0x12345678, 0x12345678},
		{"empty slot", emuData, 0, 0},
		{"negative slot", emuData, 0xFFFFFFFF00000000, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := newEmulator(t, code)
			e.poke64(emuData+0x180, tc.slot)
			e.set(uc.X86_REG_R10, tc.r10)
			e.set(uc.X86_REG_RBP, 0x9999)

			assert.Equal(t, uint64(emuNext), e.run())
			assert.Equal(t, tc.rbp, e.get(uc.X86_REG_RBP))
		})
	}
}

func TestEmulatedPoolClear(t *testing.T) {
	code, err := AssemblePoolClear(emuCave, emuNext, poolClearOriginal)
	require.NoError(t, err)

	e := newEmulator(t, code)
	e.poke64(emuData+0x40, 0xFEEDFACE)
	e.set(uc.X86_REG_RDX, emuData)
	e.set(uc.X86_REG_R9, 0x77)
	rsp := e.get(uc.X86_REG_RSP)

	assert.Equal(t, uint64(emuNext), e.run())
	assert.Zero(t, e.peek64(emuData+0x40))
	assert.Equal(t, rsp-0x68, e.get(uc.X86_REG_RSP), "original prologue executed")
	assert.Equal(t, uint64(0x77), e.get(uc.X86_REG_R10))

	e = newEmulator(t, code)
	e.set(uc.X86_REG_RDX, 0)
	assert.Equal(t, uint64(emuNext), e.run(), "null node skips the clear")
}

func TestEmulatedZeroInit(t *testing.T) {
	code, err := AssembleZeroInit(emuCave, emuNext, zeroInitOriginal)
	require.NoError(t, err)

	e := newEmulator(t, code)
	for off := uint64(0x90); off < 0x150; off += 8 {
		e.poke64(emuData+off, 0xCCCCCCCCCCCCCCCC)
	}
	e.set(uc.X86_REG_RAX, emuData)
	e.set(uc.X86_REG_R10, 0)
	e.set(uc.X86_REG_RDX, 0x4242)
	e.set(uc.X86_REG_RCX, 0x31)

	assert.Equal(t, uint64(emuNext), e.run())
	assert.Equal(t, uint64(0x4242), e.peek64(emuData+0x90), "original store executed")
	for _, off := range []uint64{0x98, 0xA0, 0xA8, 0x130, 0x138, 0x140, 0x148} {
		assert.Zero(t, e.peek64(emuData+off), "offset %#x", off)
	}
	assert.Equal(t, uint64(0xCCCCCCCCCCCCCCCC), e.peek64(emuData+0xB0))
	assert.Equal(t, uint64(0x31), e.get(uc.X86_REG_RCX), "rcx preserved")
}
