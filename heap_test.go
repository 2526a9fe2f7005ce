package etch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopRunner struct{}

func (noopRunner) RunDestructor(funcIdx int, self Value) error { return nil }
func (noopRunner) ReleaseCoroutine(slotID int) error           { return nil }

func TestArrayAllocAndElemAccess(t *testing.T) {
	h := NewHeap(64, noopRunner{})
	id, err := h.AllocArray(0)
	require.NoError(t, err)

	require.NoError(t, h.ArrayPush(id, Int(10)))
	require.NoError(t, h.ArrayPush(id, Int(20)))

	n, err := h.ArrayLen(id)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	v, err := h.GetArrayElem(id, 1)
	require.NoError(t, err)
	assert.Equal(t, Int(20), v)
}

func TestTableSetGetField(t *testing.T) {
	h := NewHeap(64, noopRunner{})
	id, err := h.AllocTable(noDestructor)
	require.NoError(t, err)

	require.NoError(t, h.SetField(id, "x", Int(1)))
	v, ok, err := h.GetField(id, "x")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Int(1), v)

	_, ok, err = h.GetField(id, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRetainReleaseFreesOnZero(t *testing.T) {
	h := NewHeap(64, noopRunner{})
	id, err := h.AllocTable(noDestructor)
	require.NoError(t, err)
	handle := TableHandle(id)

	h.Retain(handle) // slot starts at strongRefs=1 from Alloc; now 2
	assert.False(t, h.IsFreed(id))

	require.NoError(t, h.Release(handle))
	assert.False(t, h.IsFreed(id))

	require.NoError(t, h.Release(handle))
	assert.True(t, h.IsFreed(id))
}

func TestWeakHandleInvalidatesAfterFree(t *testing.T) {
	h := NewHeap(64, noopRunner{})
	id, err := h.AllocTable(noDestructor)
	require.NoError(t, err)

	weakID, err := h.AllocWeak(id)
	require.NoError(t, err)
	assert.True(t, h.WeakValid(weakID))

	require.NoError(t, h.Release(TableHandle(id)))
	assert.False(t, h.WeakValid(weakID))
}

func TestHeapExhaustion(t *testing.T) {
	h := NewHeap(2, noopRunner{})
	_, err := h.AllocTable(noDestructor)
	require.NoError(t, err)
	_, err = h.AllocTable(noDestructor)
	require.NoError(t, err)
	_, err = h.AllocTable(noDestructor)
	assert.ErrorIs(t, err, ErrHeapExhausted)
}
