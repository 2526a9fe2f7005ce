package etch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVM(heapCap int) *VM {
	p := NewProgram()
	p.Functions = []FuncDesc{{Name: "main", Kind: FuncNative, MaxReg: 8}}
	p.FuncIndex = map[string]int{"main": 0}
	return NewVM(p, heapCap)
}

func TestChannelSendRecvWithinCapacity(t *testing.T) {
	vm := newTestVM(16)
	f := newFrame(nil, vm.prog.Functions[0])

	f.setReg(0, Int(2)) // capacity
	ok, err := vm.execChannelNew(f, Instr{Op: OpChannelNew, Format: FormatABC, A: 1, B: 0})
	require.NoError(t, err)
	assert.True(t, ok)
	ch := f.reg(1)
	require.Equal(t, KindChannel, ch.Kind)

	f.setReg(2, Int(42))
	ok, err = vm.execChannelSend(f, Instr{Op: OpChannelSend, Format: FormatABC, A: 1, B: 2})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = vm.execChannelRecv(f, Instr{Op: OpChannelRecv, Format: FormatABC, A: 3, B: 1})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Some(Int(42)), f.reg(3))
}

func TestChannelRecvOnClosedEmptyReturnsNone(t *testing.T) {
	vm := newTestVM(16)
	f := newFrame(nil, vm.prog.Functions[0])

	f.setReg(0, Int(1))
	_, err := vm.execChannelNew(f, Instr{Op: OpChannelNew, Format: FormatABC, A: 1, B: 0})
	require.NoError(t, err)

	ch := vm.channels[f.reg(1).SlotID()]
	ch.closed = true

	ok, err := vm.execChannelRecv(f, Instr{Op: OpChannelRecv, Format: FormatABC, A: 2, B: 1})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, None(), f.reg(2))
}

func TestChannelSendOutsideCoroutineOnFullChannelPanics(t *testing.T) {
	vm := newTestVM(16)
	f := newFrame(nil, vm.prog.Functions[0])

	f.setReg(0, Int(1))
	_, err := vm.execChannelNew(f, Instr{Op: OpChannelNew, Format: FormatABC, A: 1, B: 0})
	require.NoError(t, err)

	f.setReg(2, Int(1))
	ok, err := vm.execChannelSend(f, Instr{Op: OpChannelSend, Format: FormatABC, A: 1, B: 2})
	require.NoError(t, err)
	assert.True(t, ok)

	// Channel is now full and f has no CoroSelf: a second send from the
	// top-level frame cannot be parked, so it panics instead of
	// blocking forever with nothing able to wake it.
	f.setReg(3, Int(2))
	_, err = vm.execChannelSend(f, Instr{Op: OpChannelSend, Format: FormatABC, A: 1, B: 3})
	require.Error(t, err)
}

func TestChannelSendParksCoroutineAndWakesOnRecv(t *testing.T) {
	vm := newTestVM(16)
	f := newFrame(nil, vm.prog.Functions[0])

	f.setReg(0, Int(1)) // capacity 1
	_, err := vm.execChannelNew(f, Instr{Op: OpChannelNew, Format: FormatABC, A: 1, B: 0})
	require.NoError(t, err)
	chHandle := f.reg(1)

	coro := &Coroutine{id: 1, State: CoroRunning}
	f.CoroSelf = coro

	f.setReg(2, Int(10))
	ok, err := vm.execChannelSend(f, Instr{Op: OpChannelSend, Format: FormatABC, A: 1, B: 2})
	require.NoError(t, err)
	assert.True(t, ok) // room for first send

	f.setReg(3, Int(20))
	ok, err = vm.execChannelSend(f, Instr{Op: OpChannelSend, Format: FormatABC, A: 1, B: 3})
	require.NoError(t, err)
	assert.False(t, ok) // parked: PC must not advance
	assert.Equal(t, CoroBlocked, coro.State)

	ch := vm.channels[chHandle.SlotID()]
	assert.Len(t, ch.waitingSenders, 1)

	// Draining one value wakes the parked sender back to Suspended; the
	// buffer itself is untouched until the sender's own retry runs.
	ok, err = vm.execChannelRecv(f, Instr{Op: OpChannelRecv, Format: FormatABC, A: 4, B: 1})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Some(Int(10)), f.reg(4))
	assert.Equal(t, CoroSuspended, coro.State)
}
