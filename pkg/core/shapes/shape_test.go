package shapes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	s := Make(1, 3, 224, 224)
	assert.Equal(t, 4, s.Rank())
	assert.Equal(t, 3*224*224, s.Size())
	assert.Equal(t, 224, s.Dim(-1))
	assert.Equal(t, []int{3 * 224 * 224, 224 * 224, 224, 1}, s.Strides())
	assert.Equal(t, "(Float64)[1 3 224 224]", s.String())
	assert.True(t, s.Equal(s.Clone()))
	assert.False(t, s.Equal(Make(1, 3, 224)))

	scalar := Scalar()
	assert.True(t, scalar.IsScalar())
	assert.Equal(t, 1, scalar.Size())
	assert.Equal(t, "(Float64)", scalar.String())
}

func TestShapePanics(t *testing.T) {
	require.Panics(t, func() { _ = Make(2, 0) })
	require.Panics(t, func() { _ = Make(2, 3).Dim(2) })
	require.Panics(t, func() { _ = Make(2, 3).Dim(-3) })
}

func TestCheck(t *testing.T) {
	s := Make(2, 16, 8, 8)
	require.NoError(t, s.Check(2, 16, -1, -1))
	require.Error(t, s.Check(2, 16, 8))
	require.Error(t, s.Check(2, 32, 8, 8))
	require.NotPanics(t, func() { AssertDims(s, -1, 16, 8, 8) })
	require.Panics(t, func() { AssertDims(s, 1, 16, 8, 8) })
}

func TestDType(t *testing.T) {
	s := Make(2, 3)
	assert.Equal(t, dtypes.Float64, s.DType)
	assert.True(t, s.Ok())
	require.NoError(t, s.CheckFloat64())
	assert.Equal(t, uintptr(2*3*8), s.Memory())
	assert.Equal(t, dtypes.Float64, s.Clone().DType)

	f32 := MakeWithDType(dtypes.Float32, 2, 3)
	assert.Equal(t, "(Float32)[2 3]", f32.String())
	assert.Equal(t, uintptr(2*3*4), f32.Memory())
	assert.False(t, s.Equal(f32))
	assert.True(t, s.EqualDimensions(f32))
	require.Error(t, f32.CheckFloat64())

	assert.False(t, Shape{}.Ok())
	require.Error(t, Shape{Dimensions: []int{2}}.CheckFloat64())
}
