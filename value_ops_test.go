package etch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddIntFloat(t *testing.T) {
	sum, err := Add(Int(2), Int(3))
	require.NoError(t, err)
	assert.Equal(t, Int(5), sum)

	fsum, err := Add(Float(1.5), Float(2.5))
	require.NoError(t, err)
	assert.Equal(t, Float(4.0), fsum)
}

func TestAddTypeMismatch(t *testing.T) {
	_, err := Add(Int(1), StringVal("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestDivByZero(t *testing.T) {
	_, err := Div(Int(1), Int(0))
	require.Error(t, err)
}

func TestCompareOrdering(t *testing.T) {
	cmp, err := Compare(Int(1), Int(2))
	require.NoError(t, err)
	assert.Negative(t, cmp)

	cmp, err = Compare(Float(3), Float(3))
	require.NoError(t, err)
	assert.Zero(t, cmp)
}

func TestEqualAcrossWrappedValues(t *testing.T) {
	assert.True(t, Equal(Some(Int(1)), Some(Int(1))))
	assert.False(t, Equal(Some(Int(1)), Some(Int(2))))
	assert.True(t, Equal(None(), None()))
	assert.False(t, Equal(Some(Int(1)), None()))
}

func TestTruthy(t *testing.T) {
	assert.False(t, Nil().Truthy())
	assert.False(t, None().Truthy())
	assert.False(t, Bool(false).Truthy())
	assert.True(t, Bool(true).Truthy())
	assert.True(t, Int(0).Truthy())
}
