package shadowcascade

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertReachable(t *testing.T, cave uintptr, size int, site uintptr, targets []uintptr) {
	t.Helper()
	_, ok := Rel32(site, cave)
	assert.True(t, ok, "site %#x cannot reach cave %#x", site, cave)
	for _, tg := range targets {
		_, ok := Rel32(cave, tg)
		assert.True(t, ok, "cave %#x cannot reach %#x", cave, tg)
		_, ok = Rel32(cave+uintptr(size)-jmpInstrLength, tg)
		assert.True(t, ok, "cave end %#x cannot reach %#x", cave+uintptr(size), tg)
	}
}

func TestAllocateNearAdjacent(t *testing.T) {
	mem := NewSimMemory()
	site := uintptr(0x140001234)

	cave, err := AllocateNear(mem, site, 64, []uintptr{site + 7})
	require.NoError(t, err)
	assert.Equal(t, uintptr(0x140010000), cave)
	assert.Equal(t, ProtExecReadWrite, mem.ProtectionAt(cave))
}

func TestAllocateNearPrefersAbove(t *testing.T) {
	mem := NewSimMemory()
	site := uintptr(0x140081234)
	mem.Reserve(0x140090000, 0x10000)

	cave, err := AllocateNear(mem, site, 64, []uintptr{site + 7})
	require.NoError(t, err)
	assert.Equal(t, uintptr(0x140070000), cave)
}

func TestAllocateNearEdgeOfRange(t *testing.T) {
	mem := NewSimMemory()
	site := uintptr(0x180000000)
	hole := site + 0x7E000000
	mem.Reserve(site-0x80000000, 0x80000000+0x7E000000)
	mem.Reserve(hole+0x10000, 0x10000000)

	targets := []uintptr{site + 9}
	cave, err := AllocateNear(mem, site, 64, targets)
	require.NoError(t, err)
	assert.Equal(t, hole, cave)
	assertReachable(t, cave, 64, site, targets)
}

func TestAllocateNearExhausted(t *testing.T) {
	mem := NewSimMemory()
	site := uintptr(0x180000000)
	mem.Reserve(site-0x80000000, 0x100000000)

	_, err := AllocateNear(mem, site, 64, []uintptr{site + 7})
	testError(t, ErrNoCave, err)
	assert.Empty(t, mem.Allocations())
}

// A target far below the site rules out free blocks above it.
func TestAllocateNearFarTarget(t *testing.T) {
	mem := NewSimMemory()
	site := uintptr(0x180000000)
	far := site - 0x7FFF0000
	mem.Reserve(site-0x01000000, 0x01000000)

	targets := []uintptr{site + 7, far}
	cave, err := AllocateNear(mem, site, 128, targets)
	require.NoError(t, err)
	assert.Less(t, cave, site)
	assertReachable(t, cave, 128, site, targets)
}

func TestAllocateNearProperty(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	for i := 0; i < 30; i++ {
		mem := NewSimMemory()
		site := uintptr(0x100000000 + rnd.Int63n(0x100000000))
		for j := 0; j < 4; j++ {
			start := site - 0x80000000 + uintptr(rnd.Int63n(0x100000000))
			mem.Reserve(start&^0xFFFF, uintptr(rnd.Int63n(0x40000000)))
		}
		targets := []uintptr{site + 7, site - 0x40000000 + uintptr(rnd.Int63n(0x80000000))}

		cave, err := AllocateNear(mem, site, 64, targets)
		if err != nil {
			testError(t, ErrNoCave, err)
			continue
		}
		assertReachable(t, cave, 64, site, targets)
	}
}

func nullGuardSpec(host *SimHost) CaveSpec {
	return SafetyCaves(host.Image)[0]
}

func TestRedirect(t *testing.T) {
	host := NewSimHost(testBase)
	b := NewBuilder(host.Mem, discardLogger())
	spec := nullGuardSpec(host)

	tr, err := b.Redirect(spec)
	require.NoError(t, err)
	assert.Equal(t, tr.Code, host.Mem.Peek(tr.Addr, len(tr.Code)))

	want, err := EncodeJump(spec.Site, tr.Addr, len(spec.Original))
	require.NoError(t, err)
	assert.Equal(t, want, host.Mem.Peek(spec.Site, len(spec.Original)))
	assert.Equal(t, ProtExecRead, host.Mem.ProtectionAt(spec.Site))
	assertReachable(t, tr.Addr, spec.Size, spec.Site, spec.Targets)

	writes := host.Mem.Writes()
	again, err := b.Redirect(spec)
	require.NoError(t, err)
	assert.Same(t, tr, again)
	assert.Equal(t, writes, host.Mem.Writes())
	assert.Len(t, host.Mem.Allocations(), 1)
}

func TestRedirectInstalledByOtherBuilder(t *testing.T) {
	host := NewSimHost(testBase)
	spec := nullGuardSpec(host)
	first, err := NewBuilder(host.Mem, discardLogger()).Redirect(spec)
	require.NoError(t, err)
	writes := host.Mem.Writes()

	b := NewBuilder(host.Mem, discardLogger())
	tr, err := b.Redirect(spec)
	require.NoError(t, err)
	assert.Equal(t, first.Addr, tr.Addr)
	assert.Equal(t, first.Code, tr.Code)
	assert.Equal(t, writes, host.Mem.Writes())
	assert.Len(t, host.Mem.Allocations(), 1)

	require.NoError(t, b.Release())
	assert.Equal(t, spec.Original, host.Mem.Peek(spec.Site, len(spec.Original)))
	assert.Len(t, host.Mem.Allocations(), 1, "cave belongs to the first builder")
}

func TestRedirectJumpElsewhere(t *testing.T) {
	host := NewSimHost(testBase)
	spec := nullGuardSpec(host)
	tr, err := NewBuilder(host.Mem, discardLogger()).Redirect(spec)
	require.NoError(t, err)
	host.Mem.Poke(tr.Addr, []byte{0xCC})

	_, err = NewBuilder(host.Mem, discardLogger()).Redirect(spec)
	testError(t, ErrLayoutMismatch, err)

	jump, err := EncodeJump(spec.Site, spec.Site+0x100000, len(spec.Original))
	require.NoError(t, err)
	host.Mem.Poke(spec.Site, jump)
	_, err = NewBuilder(host.Mem, discardLogger()).Redirect(spec)
	testError(t, ErrLayoutMismatch, err)
}

func TestRedirectForeign(t *testing.T) {
	host := NewSimHost(testBase)
	b := NewBuilder(host.Mem, discardLogger())
	spec := nullGuardSpec(host)
	foreign := []byte{0x49, 0x8B, 0xAA, 0x88, 0x01, 0x00, 0x00}
	host.Mem.Poke(spec.Site, foreign)

	_, err := b.Redirect(spec)
	testError(t, ErrLayoutMismatch, err)
	assert.Equal(t, foreign, host.Mem.Peek(spec.Site, len(foreign)))
	assert.Empty(t, host.Mem.Allocations())
	_, ok := b.Trampoline(spec.Name)
	assert.False(t, ok)
}

func TestRedirectRollback(t *testing.T) {
	host := NewSimHost(testBase)
	b := NewBuilder(host.Mem, discardLogger())
	spec := nullGuardSpec(host)
	host.Mem.DenyProtect = true

	_, err := b.Redirect(spec)
	testError(t, ErrProtect, err)
	assert.Equal(t, nullGuardOriginal, host.Mem.Peek(spec.Site, len(nullGuardOriginal)))
	assert.Empty(t, host.Mem.Allocations(), "cave must be released")

	host.Mem.DenyProtect = false
	_, err = b.Redirect(spec)
	assert.NoError(t, err)
}

func TestRedirectBodyTooLarge(t *testing.T) {
	host := NewSimHost(testBase)
	b := NewBuilder(host.Mem, discardLogger())
	spec := nullGuardSpec(host)
	spec.Size = 16

	_, err := b.Redirect(spec)
	assert.Error(t, err)
	assert.Empty(t, host.Mem.Allocations())
	assert.Equal(t, nullGuardOriginal, host.Mem.Peek(spec.Site, len(nullGuardOriginal)))
}

func TestBuilderRelease(t *testing.T) {
	host := NewSimHost(testBase)
	b := NewBuilder(host.Mem, discardLogger())
	for _, spec := range SafetyCaves(host.Image) {
		_, err := b.Redirect(spec)
		require.NoError(t, err)
	}
	require.Len(t, host.Mem.Allocations(), 4)

	require.NoError(t, b.Release())
	assert.Empty(t, host.Mem.Allocations())
	for _, spec := range SafetyCaves(host.Image) {
		assert.Equal(t, spec.Original, host.Mem.Peek(spec.Site, len(spec.Original)), spec.Name)
		_, ok := b.Trampoline(spec.Name)
		assert.False(t, ok)
	}
}
