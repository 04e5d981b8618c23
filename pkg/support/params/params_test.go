package params

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParams(t *testing.T) {
	p := New("iterations", 30, "learning_rate", 0.1, "model", "SmallCNN")
	assert.Equal(t, []string{"iterations", "learning_rate", "model"}, p.Keys())
	assert.Equal(t, 30, GetParamOr(p, "iterations", 0))
	assert.Equal(t, 30.0, GetParamOr(p, "iterations", 0.0), "ints are converted to floats")
	assert.Equal(t, "SmallCNN", MustGetParam[string](p, "model"))
	assert.Equal(t, 7, GetParamOr(p, "missing", 7))
	assert.Equal(t, 7, GetParamOr[int](nil, "iterations", 7))

	p.Set("seed", nil)
	assert.Equal(t, uint64(3), GetParamOr(p, "seed", uint64(3)))

	clone := p.Clone()
	clone.Set("iterations", 5)
	assert.Equal(t, 30, MustGetParam[int](p, "iterations"))

	var keys []string
	p.Enumerate(func(key string, _ any) { keys = append(keys, key) })
	assert.Equal(t, p.Keys(), keys)

	require.Panics(t, func() { MustGetParam[int](p, "missing") })
	require.Panics(t, func() { MustGetParam[int](p, "model") })
	require.Panics(t, func() { New("odd") })
	require.Panics(t, func() { New(1, 2) })
}
