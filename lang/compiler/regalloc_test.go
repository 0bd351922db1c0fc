package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mna/vetiver/lang/machine"
)

func TestAllocWindows(t *testing.T) {
	ra := NewAllocator()

	g, err := ra.Alloc(PurposeGlobal, machine.KindI32)
	require.NoError(t, err)
	assert.Equal(t, GlobalBase, g)

	f, err := ra.Alloc(PurposeFrame, machine.KindI32)
	require.NoError(t, err)
	assert.Equal(t, FrameBase, f)

	tm, err := ra.Alloc(PurposeTemp, machine.KindI32)
	require.NoError(t, err)
	assert.Equal(t, TempBase, tm)

	m, err := ra.Alloc(PurposeModule, machine.KindI32)
	require.NoError(t, err)
	assert.Equal(t, ModuleBase, m)
}

func TestFreeAndReuse(t *testing.T) {
	ra := NewAllocator()

	r1, err := ra.Alloc(PurposeTemp, machine.KindI32)
	require.NoError(t, err)
	r2, err := ra.Alloc(PurposeTemp, machine.KindF64)
	require.NoError(t, err)

	ra.Free(r1)
	// temporaries are type-flexible: the freed register is reused even for
	// a different type tag
	r3, err := ra.Alloc(PurposeTemp, machine.KindBool)
	require.NoError(t, err)
	assert.Equal(t, r1, r3)
	_ = r2
}

func TestTypedReusePrefersMatchingTag(t *testing.T) {
	ra := NewAllocator()

	ri, err := ra.Alloc(PurposeFrame, machine.KindI32)
	require.NoError(t, err)
	rf, err := ra.Alloc(PurposeFrame, machine.KindF64)
	require.NoError(t, err)
	ra.Free(ri)
	ra.Free(rf)

	// both freed registers were retracted into the bump window, so
	// allocate three and free the first two to populate the pool; the f64
	// request then skips the lower i32 register and takes the f64 one.
	a, err := ra.Alloc(PurposeFrame, machine.KindI32)
	require.NoError(t, err)
	b, err := ra.Alloc(PurposeFrame, machine.KindF64)
	require.NoError(t, err)
	c, err := ra.Alloc(PurposeFrame, machine.KindI32)
	require.NoError(t, err)
	ra.Free(a)
	ra.Free(b) // pool now holds {a(i32), b(f64)}; c keeps the window open

	got, err := ra.Alloc(PurposeFrame, machine.KindF64)
	require.NoError(t, err)
	assert.Equal(t, b, got)
	_ = c
}

func TestPinnedExcludedFromReuse(t *testing.T) {
	ra := NewAllocator()

	r1, err := ra.Alloc(PurposeTemp, machine.KindI32)
	require.NoError(t, err)
	r2, err := ra.Alloc(PurposeTemp, machine.KindI32)
	require.NoError(t, err)
	_ = r2

	ra.Pin(r1)
	ra.Free(r1)
	r3, err := ra.Alloc(PurposeTemp, machine.KindI32)
	require.NoError(t, err)
	assert.NotEqual(t, r1, r3)

	ra.Unpin(r1)
	r4, err := ra.Alloc(PurposeTemp, machine.KindI32)
	require.NoError(t, err)
	assert.Equal(t, r1, r4)
}

func TestAllocContiguous(t *testing.T) {
	ra := NewAllocator()

	base, err := ra.AllocContiguous(PurposeTemp, 4, machine.KindNil)
	require.NoError(t, err)
	assert.Equal(t, TempBase, base)

	// the block is live: a following alloc lands after it
	next, err := ra.Alloc(PurposeTemp, machine.KindI32)
	require.NoError(t, err)
	assert.Equal(t, base+4, next)
}

func TestFrameOverflowsToExtendedTier(t *testing.T) {
	ra := NewAllocator()

	var last Reg
	for i := FrameBase; i < TempBase; i++ {
		r, err := ra.Alloc(PurposeFrame, machine.KindI32)
		require.NoError(t, err)
		last = r
	}
	assert.Equal(t, TempBase-1, last)

	ext, err := ra.Alloc(PurposeFrame, machine.KindI32)
	require.NoError(t, err)
	assert.Equal(t, FrameExtBase, ext)
}

func TestSpillAfterAllTiers(t *testing.T) {
	ra := NewAllocator()

	n := int(TempBase-FrameBase) + int(FrameExtEnd-FrameExtBase) + 1
	var last Reg
	for i := 0; i < n; i++ {
		r, err := ra.Alloc(PurposeFrame, machine.KindI32)
		require.NoError(t, err)
		last = r
	}
	assert.Equal(t, FrameExtEnd, last)

	s1, err := ra.Alloc(PurposeFrame, machine.KindI32)
	require.NoError(t, err)
	s2, err := ra.Alloc(PurposeFrame, machine.KindI32)
	require.NoError(t, err)
	assert.Equal(t, SpillBase, s1)
	assert.Equal(t, SpillBase+1, s2)
	assert.Equal(t, 2, ra.SpillSlots())
}

func TestLifetimes(t *testing.T) {
	ra := NewAllocator()

	ra.Advance(10)
	r, err := ra.AllocNamed(PurposeFrame, machine.KindI32, "x")
	require.NoError(t, err)
	ra.Advance(20)
	ra.Touch(r)
	ra.Advance(30)
	ra.Free(r)

	lts := ra.Lifetimes()
	require.Len(t, lts, 1)
	assert.Equal(t, 10, lts[0].Birth)
	assert.Equal(t, 30, lts[0].LastUse)
	assert.Equal(t, "x", lts[0].VarName)
	assert.False(t, lts[0].Active)
	assert.True(t, lts[0].Reusable)
}

func TestSnapshotRestore(t *testing.T) {
	ra := NewAllocator()

	r1, err := ra.Alloc(PurposeFrame, machine.KindI32)
	require.NoError(t, err)
	snap := ra.Snapshot()

	r2, err := ra.Alloc(PurposeFrame, machine.KindI32)
	require.NoError(t, err)
	ra.Pin(r2)
	_, err = ra.Alloc(PurposeTemp, machine.KindI32)
	require.NoError(t, err)

	ra.Restore(snap)

	// the post-snapshot allocations are undone: the same registers come
	// back out
	got, err := ra.Alloc(PurposeFrame, machine.KindI32)
	require.NoError(t, err)
	assert.Equal(t, r2, got)
	gt, err := ra.Alloc(PurposeTemp, machine.KindI32)
	require.NoError(t, err)
	assert.Equal(t, TempBase, gt)
	_ = r1
}

func TestReserveParams(t *testing.T) {
	ra := NewAllocator()
	ra.ReserveParams(3)

	g, err := ra.Alloc(PurposeGlobal, machine.KindI32)
	require.NoError(t, err)
	assert.Equal(t, Reg(3), g)
	assert.Equal(t, 4, ra.FrameSize())
}

func TestFrameSizeHighWater(t *testing.T) {
	ra := NewAllocator()
	r1, _ := ra.Alloc(PurposeTemp, machine.KindI32)
	r2, _ := ra.Alloc(PurposeTemp, machine.KindI32)
	ra.Free(r1)
	ra.Free(r2)
	assert.Equal(t, int(TempBase)+2, ra.FrameSize())
}
