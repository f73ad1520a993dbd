package shadowcascade

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func poolTail(entry []byte, off uintptr) uint64 {
	return binary.LittleEndian.Uint64(entry[off+poolTailOff:])
}

func TestCloneEntry(t *testing.T) {
	src := make([]byte, cascadeEntrySize)
	for i := range src {
		src[i] = byte(i)
	}
	const dstAddr = 0x20000180
	dst := make([]byte, cascadeEntrySize)
	cloneEntry(dst, src, dstAddr)

	for _, off := range entryPoolOffsets {
		assert.Zero(t, binary.LittleEndian.Uint64(dst[off:]), "head %#x", off)
		assert.Equal(t, uint64(dstAddr+off), poolTail(dst, off), "tail %#x", off)
	}
	assert.Zero(t, binary.LittleEndian.Uint64(dst[entryLockOwnerOff:]))

	mask := poolMask()
	for i := range dst {
		if !mask[i] {
			assert.Equal(t, src[i], dst[i], "byte %#x", i)
		}
	}
}

// poolMask marks the bytes cloneEntry is allowed to change.
func poolMask() []bool {
	mask := make([]bool, cascadeEntrySize)
	for i := 0; i < 8; i++ {
		mask[entryLockOwnerOff+i] = true
	}
	for _, off := range entryPoolOffsets {
		for i := uintptr(0); i < 16; i++ {
			mask[off+i] = true
		}
	}
	return mask
}

func TestRebasePools(t *testing.T) {
	const oldAddr, newAddr = 0x1000, 0x9000
	entry := make([]byte, cascadeEntrySize)
	resetPools(entry, oldAddr)
	// second pool holds a node
	binary.LittleEndian.PutUint64(entry[entryPoolOffsets[1]:], 0x5550)
	binary.LittleEndian.PutUint64(entry[entryPoolOffsets[1]+poolTailOff:], 0x5550)
	binary.LittleEndian.PutUint64(entry[entryPoolOffsets[2]+poolTailOff:], 0)

	rebasePools(entry, oldAddr, newAddr)
	assert.Equal(t, uint64(newAddr+entryPoolOffsets[0]), poolTail(entry, entryPoolOffsets[0]))
	assert.Equal(t, uint64(0x5550), poolTail(entry, entryPoolOffsets[1]))
	assert.Equal(t, uint64(newAddr+entryPoolOffsets[2]), poolTail(entry, entryPoolOffsets[2]))
	assert.Equal(t, uint64(newAddr+entryPoolOffsets[3]), poolTail(entry, entryPoolOffsets[3]))
}

func TestFixEmptyTails(t *testing.T) {
	mem := NewSimMemory()
	mem.Map(0x10000, 0x1000, ProtReadWrite)
	arr := cascadeArray{mem: mem}
	entry := uintptr(0x10100)
	mem.Poke(entry+entryPoolOffsets[3]+poolTailOff, binary.LittleEndian.AppendUint64(nil, 0x7777))

	n, err := arr.fixEmptyTails(entry)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	for _, off := range entryPoolOffsets[:3] {
		v, _ := ReadPointer(mem, entry+off+poolTailOff)
		assert.Equal(t, entry+off, v)
	}
	v, _ := ReadPointer(mem, entry+entryPoolOffsets[3]+poolTailOff)
	assert.Equal(t, uintptr(0x7777), v)

	n, err = arr.fixEmptyTails(entry)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNonZero(t *testing.T) {
	assert.Equal(t, 0, nonZero(make([]byte, 16)))
	assert.Equal(t, 2, nonZero([]byte{0, 1, 0, 0xFF}))
}

func TestFlatReady(t *testing.T) {
	host := NewSimHost(testBase)

	_, err := groupOf(host.Mem, host.Image.At(rvaRenderNode))
	testError(t, ErrNotReady, err)

	host.AddSceneNode(2)
	g, err := groupOf(host.Mem, host.Image.At(rvaRenderNode))
	require.NoError(t, err)

	f, err := g.flat()
	require.NoError(t, err)
	assert.False(t, f.ready(), "two entries")

	host.SetFlatCount(4)
	host.PopulateShadowMaps(3)
	f, err = g.flat()
	require.NoError(t, err)
	assert.False(t, f.ready(), "map 3 missing")

	host.PopulateShadowMaps(4)
	f, err = g.flat()
	require.NoError(t, err)
	assert.True(t, f.ready())

	// a corrupt map pointer is not a populated map
	host.Mem.Poke(g.flatEntry(2)+flatMapLeftOff, binary.LittleEndian.AppendUint64(nil, 0xFFFF800000001000))
	f, err = g.flat()
	require.NoError(t, err)
	assert.False(t, f.ready())
}

func TestChainStopsAtFirstFault(t *testing.T) {
	mem := NewSimMemory()
	mem.Map(0x1000, 0x100, ProtReadWrite)
	require.NoError(t, WriteUint32(mem, 0x1000, 7))

	p := chain{mem: mem}
	assert.Equal(t, uint32(7), p.u32(0x1000))
	assert.Zero(t, p.u32(0x5000))
	assert.Zero(t, p.u32(0x1000), "reads after a fault return zero")
	testError(t, ErrFault, p.err)
}
