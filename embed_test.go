package etch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextCompileCallAndGlobals(t *testing.T) {
	ctx := NewContext(Options{})
	require.NoError(t, ctx.Compile(buildAddModule(), 64))

	result, err := ctx.Call(MangleName("add", []TypeRef{intType, intType}), []Value{Int(3), Int(4)})
	require.NoError(t, err)
	assert.Equal(t, Int(7), result)

	_, ok := ctx.Global("missing")
	assert.False(t, ok)

	ctx.SetGlobal("answer", Int(42))
	assert.True(t, ctx.GlobalExists("answer"))
	v, ok := ctx.Global("answer")
	require.True(t, ok)
	assert.Equal(t, Int(42), v)
}

func TestContextExecuteRunsEntryFunction(t *testing.T) {
	ctx := NewContext(Options{})
	mod := buildAddModule()
	require.NoError(t, ctx.Compile(mod, 64))

	code, err := ctx.Execute()
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestContextLoadRoundTripsEncodedProgram(t *testing.T) {
	prog, err := Compile(buildAddModule())
	require.NoError(t, err)
	data, err := EncodeProgram(prog)
	require.NoError(t, err)

	ctx := NewContext(Options{})
	require.NoError(t, ctx.Load(data, 64))

	result, err := ctx.Call(MangleName("add", []TypeRef{intType, intType}), []Value{Int(5), Int(6)})
	require.NoError(t, err)
	assert.Equal(t, Int(11), result)
}

func TestContextLoadRejectsCorruptData(t *testing.T) {
	ctx := NewContext(Options{})
	err := ctx.Load([]byte("garbage"), 64)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestRegisterHostRecoversPanicAsError(t *testing.T) {
	ctx := NewContext(Options{})
	require.NoError(t, ctx.Compile(buildAddModule(), 64))

	ctx.RegisterHost("boom", func(vm *VM, args []Value) (Value, error) {
		panic("kaboom")
	})

	result, callErr := ctx.vm.hosts["boom"](ctx.vm, nil)
	require.Error(t, callErr)
	assert.Contains(t, callErr.Error(), "kaboom")
	assert.Equal(t, Value{}, result)
}

// TestHostCallErrorYieldsNilResultAndDiagnostic builds a single native
// function that calls a registered host, by hand (no compiler pass),
// the same way coroutine_test.go wires OpSpawn/OpResume directly. Per
// spec §7.5 a failing host call must not abort execution: the call
// site's destination register becomes Nil() and the failure is only
// observable through the installed diagnostic sink.
func TestHostCallErrorYieldsNilResultAndDiagnostic(t *testing.T) {
	p := NewProgram()

	failing := FuncDesc{Name: "boom", Kind: FuncHost}
	boomIdx := len(p.Functions)
	p.Functions = append(p.Functions, failing)

	callerCode := []Instr{
		{Op: OpCallHost, Format: FormatCall, A: 0, FuncIdx: uint16(boomIdx), NumArgs: 0, NumResults: 1},
		{Op: OpReturn, Format: FormatABC, A: 0},
	}
	caller := FuncDesc{Name: "caller", Kind: FuncNative, MaxReg: 1}
	caller.EntryPC = len(p.Code)
	p.Code = append(p.Code, callerCode...)
	caller.EndPC = len(p.Code)
	callerIdx := len(p.Functions)
	p.Functions = append(p.Functions, caller)

	p.FuncIndex = map[string]int{"boom": boomIdx, "caller": callerIdx}
	p.Entry = callerIdx

	vm := NewVM(p, 64)
	vm.RegisterHost("boom", func(vm *VM, args []Value) (Value, error) {
		return Value{}, errors.New("boom failed")
	})

	var reported *HostError
	vm.SetHostErrorSink(func(e *HostError) { reported = e })

	result, err := vm.Call(p.Functions[callerIdx], nil)
	require.NoError(t, err)
	assert.Equal(t, Nil(), result)

	require.NotNil(t, reported)
	assert.Equal(t, "boom", reported.Func)
	assert.Contains(t, reported.Error(), "boom failed")
}

func TestContextCallUnknownFunctionErrors(t *testing.T) {
	ctx := NewContext(Options{})
	require.NoError(t, ctx.Compile(buildAddModule(), 64))

	_, err := ctx.Call("nonexistent", nil)
	require.Error(t, err)
}

func TestGCFrameBudgetTracksRemaining(t *testing.T) {
	ctx := NewContext(Options{})
	require.NoError(t, ctx.Compile(buildAddModule(), 64))

	assert.Equal(t, int64(0), ctx.GCBudgetRemaining())
	ctx.SetGCFrameBudget(1000)
	assert.Equal(t, int64(1000), ctx.GCBudgetRemaining())
}
