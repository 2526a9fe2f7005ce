package etch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectCyclesFindsMutualTableReference(t *testing.T) {
	h := NewHeap(64, noopRunner{})

	a, err := h.AllocTable(noDestructor)
	require.NoError(t, err)
	b, err := h.AllocTable(noDestructor)
	require.NoError(t, err)

	require.NoError(t, h.SetField(a, "next", TableHandle(b)))
	require.NoError(t, h.SetField(b, "next", TableHandle(a)))

	sccs := h.DetectCycles()
	require.Len(t, sccs, 1)
	assert.ElementsMatch(t, []int{a, b}, sccs[0])
}

func TestDetectCyclesIgnoresAcyclicGraph(t *testing.T) {
	h := NewHeap(64, noopRunner{})

	a, err := h.AllocTable(noDestructor)
	require.NoError(t, err)
	b, err := h.AllocTable(noDestructor)
	require.NoError(t, err)

	require.NoError(t, h.SetField(a, "next", TableHandle(b)))

	assert.Empty(t, h.DetectCycles())
}

func TestCollectCyclesFreesUnreachableCycleNotInRoots(t *testing.T) {
	h := NewHeap(64, noopRunner{})

	a, err := h.AllocTable(noDestructor)
	require.NoError(t, err)
	b, err := h.AllocTable(noDestructor)
	require.NoError(t, err)
	require.NoError(t, h.SetField(a, "next", TableHandle(b)))
	require.NoError(t, h.SetField(b, "next", TableHandle(a)))

	// Both tables still carry their original Alloc-time strong ref (no
	// root holds either), so a pure Release wouldn't free them; only
	// the unreachable-from-roots mark-and-sweep pass can.
	freed, err := h.CollectCycles(nil)
	require.NoError(t, err)
	assert.Equal(t, 2, freed)
	assert.True(t, h.IsFreed(a))
	assert.True(t, h.IsFreed(b))
}

func TestCollectCyclesKeepsCycleReachableFromRoot(t *testing.T) {
	h := NewHeap(64, noopRunner{})

	a, err := h.AllocTable(noDestructor)
	require.NoError(t, err)
	b, err := h.AllocTable(noDestructor)
	require.NoError(t, err)
	require.NoError(t, h.SetField(a, "next", TableHandle(b)))
	require.NoError(t, h.SetField(b, "next", TableHandle(a)))

	freed, err := h.CollectCycles([]Value{TableHandle(a)})
	require.NoError(t, err)
	assert.Equal(t, 0, freed)
	assert.False(t, h.IsFreed(a))
	assert.False(t, h.IsFreed(b))
}

func TestShouldCollectRespectsDirtyThreshold(t *testing.T) {
	h := NewHeap(64, noopRunner{})
	assert.False(t, h.ShouldCollect(1))

	_, err := h.AllocTable(noDestructor)
	require.NoError(t, err)
	assert.True(t, h.ShouldCollect(1))
	assert.False(t, h.ShouldCollect(10))
}
