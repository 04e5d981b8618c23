package numpy

import (
	"bytes"
	"encoding/binary"
	"math"
	"path/filepath"
	"testing"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// npyBytes builds a .npy v1.0 file with the given header dictionary and raw data.
func npyBytes(headerDict string, data []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x93NUMPY")
	buf.Write([]byte{1, 0})
	header := headerDict + "\n"
	_ = binary.Write(&buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	buf.Write(data)
	return buf.Bytes()
}

func TestNpyRoundTrip(t *testing.T) {
	for _, tensor := range []*tensors.Tensor{
		tensors.FromScalar(3.5),
		tensors.FromValue([]float64{1, -2, math.Pi}),
		tensors.FromValue([][][]float64{{{1, 2}, {3, 4}}, {{5, 6}, {7, 8}}}),
	} {
		var buf bytes.Buffer
		require.NoError(t, ToNpyWriter(tensor, &buf))
		// Preamble plus header is a multiple of 16.
		headerLen := int(binary.LittleEndian.Uint16(buf.Bytes()[8:10]))
		assert.Zero(t, (10+headerLen)%16)

		got, err := FromNpyReader(&buf)
		require.NoError(t, err)
		assert.True(t, tensor.Equal(got), "want %s, got %s", tensor, got)
	}
}

func TestNpyDTypes(t *testing.T) {
	data := make([]byte, 4*4)
	for ii, v := range []float32{1, 2, 3, 4} {
		binary.LittleEndian.PutUint32(data[ii*4:], math.Float32bits(v))
	}
	got, err := FromNpyReader(bytes.NewReader(npyBytes("{'descr': '<f4', 'fortran_order': False, 'shape': (2, 2), }", data)))
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 2}, {3, 4}}, got.Value())

	// Fortran order: column-major.
	got, err = FromNpyReader(bytes.NewReader(npyBytes("{'descr': '<f4', 'fortran_order': True, 'shape': (2, 2), }", data)))
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 3}, {2, 4}}, got.Value())

	got, err = FromNpyReader(bytes.NewReader(npyBytes("{'descr': '|u1', 'fortran_order': False, 'shape': (3,), }", []byte{0, 7, 255})))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 7, 255}, got.Value())

	i2 := make([]byte, 2*2)
	binary.LittleEndian.PutUint16(i2, uint16(0xFFFE))
	binary.LittleEndian.PutUint16(i2[2:], 300)
	got, err = FromNpyReader(bytes.NewReader(npyBytes("{'descr': '<i2', 'fortran_order': False, 'shape': (2,), }", i2)))
	require.NoError(t, err)
	assert.Equal(t, []float64{-2, 300}, got.Value())
	assert.Equal(t, dtypes.Float64, got.Shape().DType, "values are converted to float64")

	_, err = FromNpyReader(bytes.NewReader(npyBytes("{'descr': '<c16', 'fortran_order': False, 'shape': (1,), }", make([]byte, 16))))
	require.ErrorContains(t, err, "unsupported .npy dtype")

	_, err = FromNpyReader(bytes.NewReader(npyBytes("{'descr': '>f8', 'fortran_order': False, 'shape': (1,), }", make([]byte, 8))))
	require.Error(t, err)
	_, err = FromNpyReader(bytes.NewReader(npyBytes("{'descr': '<f8', 'fortran_order': False, 'shape': (2,), }", make([]byte, 8))))
	require.Error(t, err, "truncated data")
	_, err = FromNpyReader(bytes.NewReader([]byte("not numpy")))
	require.Error(t, err)
}

func TestNpzFile(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "weights.npz")
	want := map[string]*tensors.Tensor{
		"conv1.weight": tensors.FromValue([][]float64{{1, 2}, {3, 4}}),
		"conv1.bias":   tensors.FromValue([]float64{0.5, -0.5}),
	}
	require.NoError(t, ToNpzFile(want, filePath))
	got, err := FromNpzFile(filePath)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for name, tensor := range want {
		assert.True(t, tensor.Equal(got[name]), "tensor %q", name)
	}

	// Writing is deterministic.
	var buf1, buf2 bytes.Buffer
	require.NoError(t, ToNpzWriter(want, &buf1))
	require.NoError(t, ToNpzWriter(want, &buf2))
	assert.Equal(t, buf1.Bytes(), buf2.Bytes())

	_, err = FromNpzFile(filepath.Join(t.TempDir(), "missing.npz"))
	require.Error(t, err)
}
