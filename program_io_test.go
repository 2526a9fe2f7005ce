package etch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePogram() *Program {
	p := NewProgram()
	p.Code = []Instr{
		{Op: OpLoadK, Format: FormatABx, A: 0, Bx: 0},
		{Op: OpReturn, Format: FormatABC, A: 0},
	}
	p.Constants = []Value{Int(42), Float(1.5), StringVal("hi")}
	p.Functions = []FuncDesc{{
		Name: "main", Kind: FuncNative,
		Params: []TypeRef{{Name: "int", ID: TypeID("int")}},
		Return: TypeRef{Name: "int", ID: TypeID("int")},
		EntryPC: 0, EndPC: 2, MaxReg: 1,
	}}
	p.FuncIndex = map[string]int{"main": 0}
	p.Types = []TypeDecl{{
		Name: "Color", ID: TypeID("Color"), Kind: TypeEnum,
		EnumValues: []string{"Red", "Green", "Blue"},
	}}
	p.DebugMap = []DebugEntry{{PC: 0, File: "t.etch", Line: 1, Column: 1}}
	p.Lifetimes = map[string][]LifetimeRecord{
		"main": {{Variable: "x", Register: 0, StartPC: 0, EndPC: 1, DefPC: 0}},
	}
	p.Entry = 0
	return p
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := samplePogram()
	data, err := EncodeProgram(p)
	require.NoError(t, err)

	got, err := DecodeProgram(data)
	require.NoError(t, err)

	assert.Equal(t, p.Code, got.Code)
	assert.Equal(t, p.Constants, got.Constants)
	assert.Equal(t, p.Functions, got.Functions)
	assert.Equal(t, p.FuncIndex, got.FuncIndex)
	assert.Equal(t, p.Types, got.Types)
	assert.Equal(t, p.DebugMap, got.DebugMap)
	assert.Equal(t, p.Lifetimes, got.Lifetimes)
	assert.Equal(t, p.Entry, got.Entry)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	_, err := DecodeProgram([]byte("not an etch program at all"))
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestDecodeRejectsVersionMismatch(t *testing.T) {
	p := samplePogram()
	p.BytecodeVersion = CurrentBytecodeVersion + 1
	data, err := EncodeProgram(p)
	require.NoError(t, err)

	_, err = DecodeProgram(data)
	assert.ErrorIs(t, err, ErrVersionMismatch)
}
