package etch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildCounterCoroutine wires together three tiny native functions by
// hand (no compiler pass): "counter" yields 10 then returns 20;
// "spawnIt" spawns a counter coroutine into the "coro" global;
// "resumeIt" resumes it once and returns the wrapped result, so each
// Go-level vm.Call drives exactly one scheduling step.
func buildCounterCoroutine() *Program {
	p := NewProgram()
	p.Constants = []Value{Int(10), Int(20), StringVal("coro")}

	counter := FuncDesc{
		Name: "counter", Kind: FuncNative, Return: intType,
		EntryPC: 0, MaxReg: 1,
	}

	counterCode := []Instr{
		{Op: OpLoadK, Format: FormatABx, A: 0, Bx: 0},  // r0 = 10
		{Op: OpYield, Format: FormatABC, A: 1, B: 0},   // yield r0
		{Op: OpLoadK, Format: FormatABx, A: 0, Bx: 1},  // r0 = 20
		{Op: OpReturn, Format: FormatABC, A: 0},        // return r0
	}
	counter.EntryPC = len(p.Code)
	p.Code = append(p.Code, counterCode...)
	counter.EndPC = len(p.Code)
	counterIdx := len(p.Functions)
	p.Functions = append(p.Functions, counter)

	spawnItCode := []Instr{
		{Op: OpSpawn, Format: FormatCall, A: 0, FuncIdx: uint16(counterIdx), NumArgs: 0},
		{Op: OpSetGlobal, Format: FormatABx, A: 0, Bx: 2},
		{Op: OpReturn, Format: FormatABC, A: 0},
	}
	spawnIt := FuncDesc{Name: "spawnIt", Kind: FuncNative, Return: intType, MaxReg: 1}
	spawnIt.EntryPC = len(p.Code)
	p.Code = append(p.Code, spawnItCode...)
	spawnIt.EndPC = len(p.Code)
	spawnItIdx := len(p.Functions)
	p.Functions = append(p.Functions, spawnIt)

	resumeItCode := []Instr{
		{Op: OpGetGlobal, Format: FormatABx, A: 0, Bx: 2},
		{Op: OpMove, Format: FormatABC, A: 1, B: 0},
		{Op: OpResume, Format: FormatCall, A: 1, NumArgs: 0, NumResults: 1},
		{Op: OpReturn, Format: FormatABC, A: 1},
	}
	resumeIt := FuncDesc{Name: "resumeIt", Kind: FuncNative, Return: intType, MaxReg: 2}
	resumeIt.EntryPC = len(p.Code)
	p.Code = append(p.Code, resumeItCode...)
	resumeIt.EndPC = len(p.Code)
	resumeItIdx := len(p.Functions)
	p.Functions = append(p.Functions, resumeIt)

	p.FuncIndex = map[string]int{
		"counter":  counterIdx,
		"spawnIt":  spawnItIdx,
		"resumeIt": resumeItIdx,
	}
	p.Entry = spawnItIdx
	return p
}

func TestSpawnYieldResumeLifecycle(t *testing.T) {
	p := buildCounterCoroutine()
	vm := NewVM(p, 64)

	_, err := vm.Call(p.Functions[p.FuncIndex["spawnIt"]], nil)
	require.NoError(t, err)

	first, err := vm.Call(p.Functions[p.FuncIndex["resumeIt"]], nil)
	require.NoError(t, err)
	assert.Equal(t, Some(Int(10)), first)

	second, err := vm.Call(p.Functions[p.FuncIndex["resumeIt"]], nil)
	require.NoError(t, err)
	assert.Equal(t, Some(Int(20)), second)

	// The coroutine is dead now; resume is a no-op returning the last
	// return value (spec §5 "Cancellation").
	third, err := vm.Call(p.Functions[p.FuncIndex["resumeIt"]], nil)
	require.NoError(t, err)
	assert.Equal(t, Some(Int(20)), third)
}

func TestReleaseCoroutineDrainsDefersAndMarksDead(t *testing.T) {
	p := buildCounterCoroutine()
	vm := NewVM(p, 64)

	_, err := vm.Call(p.Functions[p.FuncIndex["spawnIt"]], nil)
	require.NoError(t, err)

	coroVal, ok := vm.Global("coro")
	require.True(t, ok)
	coro := vm.coros[coroVal.SlotID()]
	require.NotNil(t, coro)
	assert.Equal(t, CoroSuspended, coro.State)

	require.NoError(t, vm.ReleaseCoroutine(coroVal.SlotID()))
	assert.Equal(t, CoroDead, coro.State)

	// Releasing an already-dead coroutine is a no-op, not an error.
	require.NoError(t, vm.ReleaseCoroutine(coroVal.SlotID()))
}

func TestResumeUnknownCoroutinePanics(t *testing.T) {
	p := buildCounterCoroutine()
	vm := NewVM(p, 64)

	f := newFrame(nil, p.Functions[p.FuncIndex["resumeIt"]])
	f.setReg(0, CoroHandle(999))
	_, err := vm.execResume(f, Instr{Op: OpResume, Format: FormatCall, A: 0, NumArgs: 0})
	require.Error(t, err)
	assert.ErrorAs(t, err, new(*Panic))
}
