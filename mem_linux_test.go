package shadowcascade

import (
	"os"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSinglePage(t *testing.T) {
	ptr, size := calcBoundaries(unsafe.Pointer(uintptr(0x10)), 0x10)
	if ptr != unsafe.Pointer(uintptr(0x00)) {
		t.Error("incorrect page start")
	}
	if size != 32 {
		t.Errorf("expected %x, got %x as area size", 32, size)
	}
}

func TestTwoPages(t *testing.T) {
	pageSize := uintptr(os.Getpagesize())

	ptr, size := calcBoundaries(unsafe.Pointer(pageSize-0x4), 0x10)
	if ptr != unsafe.Pointer(uintptr(0x00)) {
		t.Error("incorrect page start")
	}
	if size != pageSize+0xC {
		t.Errorf("expected %x, got %x as area size", pageSize+0xC, size)
	}
}

func TestLiveFault(t *testing.T) {
	mem := LiveMemory()

	_, err := ReadUint64(mem, 0x8)
	testError(t, ErrFault, err)

	err = WriteUint8(mem, 0x8, 1)
	testError(t, ErrFault, err)
}

func TestLiveAllocReadWrite(t *testing.T) {
	mem := LiveMemory()

	addr, err := mem.Alloc(0, 0x1000, ProtReadWrite)
	require.NoError(t, err)
	defer mem.Free(addr)

	require.NoError(t, WriteUint32(mem, addr+0x10, 0xDEADBEEF))
	v, err := ReadUint32(mem, addr+0x10)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), v)

	old, err := mem.Protect(addr, 0x10, ProtRead)
	require.NoError(t, err)
	assert.Equal(t, ProtReadWrite, old)

	err = WriteUint8(mem, addr, 1)
	testError(t, ErrFault, err)

	_, err = mem.Protect(addr, 0x10, old)
	require.NoError(t, err)
	assert.NoError(t, WriteUint8(mem, addr, 1))
}

func TestLiveFreeUnknown(t *testing.T) {
	assert.Error(t, LiveMemory().Free(0x1000))
}
