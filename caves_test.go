package shadowcascade

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"
)

const (
	testCave = 0x142000000
	testRet  = 0x14281377f + 7
)

type decoded struct {
	pc   uintptr
	inst x86asm.Inst
}

// branch returns the target of a relative branch.
func (d decoded) branch() uintptr {
	rel, ok := d.inst.Args[0].(x86asm.Rel)
	if !ok {
		return 0
	}
	return uintptr(int64(d.pc) + int64(d.inst.Len) + int64(rel))
}

func decodeAll(t *testing.T, code []byte, pc uintptr) []decoded {
	t.Helper()
	var res []decoded
	for len(code) > 0 {
		inst, err := x86asm.Decode(code, 64)
		require.NoError(t, err, "at %#x", pc)
		res = append(res, decoded{pc: pc, inst: inst})
		code = code[inst.Len:]
		pc += uintptr(inst.Len)
	}
	return res
}

func ops(d []decoded) []x86asm.Op {
	res := make([]x86asm.Op, len(d))
	for i := range d {
		res[i] = d[i].inst.Op
	}
	return res
}

func TestNullGuardCave(t *testing.T) {
	code, err := AssembleNullGuard(testCave, testRet, nullGuardOriginal)
	require.NoError(t, err)
	require.LessOrEqual(t, len(code), nullGuardCaveSize)

	d := decodeAll(t, code, testCave)
	assert.Equal(t, []x86asm.Op{
		x86asm.TEST, x86asm.JE, x86asm.MOV, x86asm.TEST, x86asm.JE, x86asm.JS, x86asm.JMP, x86asm.XOR, x86asm.JMP,
	}, ops(d))

	null := d[7].pc
	assert.Equal(t, null, d[1].branch(), "null r10 skips the load")
	assert.Equal(t, d[6].pc, d[4].branch(), "zero rbp returns as is")
	assert.Equal(t, null, d[5].branch(), "negative rbp is cleared")
	assert.Equal(t, uintptr(testRet), d[6].branch())
	assert.Equal(t, uintptr(testRet), d[8].branch())
	assert.Equal(t, nullGuardOriginal, code[5:12])
}

func TestPoolClearCave(t *testing.T) {
	code, err := AssemblePoolClear(testCave, testRet, poolClearOriginal)
	require.NoError(t, err)

	d := decodeAll(t, code, testCave)
	assert.Equal(t, []x86asm.Op{
		x86asm.TEST, x86asm.JE, x86asm.MOV, x86asm.SUB, x86asm.MOV, x86asm.JMP,
	}, ops(d))
	assert.Equal(t, d[3].pc, d[1].branch())
	m, ok := d[2].inst.Args[0].(x86asm.Mem)
	require.True(t, ok)
	assert.Equal(t, x86asm.RDX, m.Base)
	assert.Equal(t, int64(0x40), m.Disp)
	assert.Equal(t, uintptr(testRet), d[5].branch())
}

func TestZeroInitCave(t *testing.T) {
	code, err := AssembleZeroInit(testCave, testRet, zeroInitOriginal)
	require.NoError(t, err)
	assert.Len(t, code, 86)
	require.LessOrEqual(t, len(code), zeroInitCaveSize)

	d := decodeAll(t, code, testCave)
	assert.Equal(t, []x86asm.Op{
		x86asm.PUSH, x86asm.LEA, x86asm.MOV, x86asm.MOV, x86asm.MOV,
		x86asm.LEA, x86asm.MOV, x86asm.MOV, x86asm.MOV, x86asm.MOV,
		x86asm.POP, x86asm.MOV, x86asm.JMP,
	}, ops(d))

	var zeroed []int64
	for _, x := range d {
		if m, ok := x.inst.Args[0].(x86asm.Mem); ok && x.inst.Op == x86asm.MOV && m.Base == x86asm.RCX {
			zeroed = append(zeroed, m.Disp)
			assert.Equal(t, x86asm.Imm(0), x.inst.Args[1])
		}
	}
	assert.Equal(t, []int64{8, 0x10, 0x18, 0, 8, 0x10, 0x18}, zeroed)
	assert.Equal(t, uintptr(testRet), d[12].branch())
}

func TestPointerValidatorCave(t *testing.T) {
	const next, skip = 0x1427a49e3, 0x1427a4a6d
	code, err := AssemblePointerValidator(testCave, next, skip)
	require.NoError(t, err)
	require.LessOrEqual(t, len(code), validatorCaveSize)

	d := decodeAll(t, code, testCave)
	assert.Equal(t, []x86asm.Op{
		x86asm.TEST, x86asm.JE, x86asm.PUSH, x86asm.MOV, x86asm.SHR, x86asm.TEST, x86asm.JNE,
		x86asm.MOV, x86asm.TEST, x86asm.JE, x86asm.POP, x86asm.JMP,
		x86asm.POP, x86asm.MOV, x86asm.XOR, x86asm.JMP,
	}, ops(d))

	heal, last := d[12].pc, d[15].pc
	assert.Equal(t, last, d[1].branch(), "null pointer skips without healing")
	assert.Equal(t, heal, d[6].branch())
	assert.Equal(t, heal, d[9].branch())
	assert.Equal(t, uintptr(next), d[11].branch())
	assert.Equal(t, uintptr(skip), d[15].branch())
	m, ok := d[13].inst.Args[0].(x86asm.Mem)
	require.True(t, ok)
	assert.Equal(t, x86asm.R12, m.Base)
	assert.Zero(t, m.Disp)
	assert.Equal(t, x86asm.Imm(47), d[4].inst.Args[1])
}

func TestCaveOutOfRange(t *testing.T) {
	_, err := AssembleNullGuard(0x7FF000000000, testRet, nullGuardOriginal)
	testError(t, ErrOutOfRange, err)

	_, err = AssemblePointerValidator(testCave, 0x10000, 0x10000)
	testError(t, ErrOutOfRange, err)
}

func TestPlausiblePointer(t *testing.T) {
	testCases := []struct {
		v     uint64
		class PointerClass
	}{
		{0, PointerNull},
		{0x000001D4C0A31230, PointerValid},
		{0x00007FFFFFFFFFF0, PointerValid},
		{0x0000800000001000, PointerGarbage},
		{0xFFFF8A0000001000, PointerGarbage},
		{0x0000001200000000, PointerGarbage},
		{0x3F8000003F800000, PointerGarbage},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.class, ClassifyPointer(tc.v), "%#x", tc.v)
		assert.Equal(t, tc.class == PointerValid, PlausiblePointer(tc.v), "%#x", tc.v)
	}
}

func TestEncodeJump(t *testing.T) {
	buf, err := EncodeJump(0x1000, 0x2000, 7)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xE9, 0xFB, 0x0F, 0x00, 0x00, 0x90, 0x90}, buf)

	buf, err = EncodeJump(0x2000, 0x1000, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xE9, 0xFB, 0xEF, 0xFF, 0xFF}, buf)

	_, err = EncodeJump(0x1000, 0x1005+0x80000000, 5)
	testError(t, ErrOutOfRange, err)

	_, err = EncodeJump(0x1000, 0x2000, 4)
	assert.Error(t, err)
}

func TestAsmShortBranchRange(t *testing.T) {
	a := newAsm(0x1000)
	a.jcc(opJZ8, "far")
	a.emit(make([]byte, 200)...)
	a.label("far")
	_, err := a.bytes()
	testError(t, ErrOutOfRange, err)

	a = newAsm(0x1000)
	a.jcc(opJZ8, "nowhere")
	_, err = a.bytes()
	assert.Error(t, err)
}
