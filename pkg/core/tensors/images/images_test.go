package images

import (
	"image"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetChannelsAxis(t *testing.T) {
	s := shapes.Make(2, 3, 4, 5)
	assert.Equal(t, 1, GetChannelsAxis(s, ChannelsFirst))
	assert.Equal(t, 3, GetChannelsAxis(s, ChannelsLast))
}

func TestTensorToFromImage(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	require.Len(t, img.Pix, 6*4)
	copy(img.Pix, []uint8{
		1, 1, 1, 255,
		3, 3, 3, 255,
		5, 5, 5, 255,
		10, 10, 10, 255,
		30, 30, 30, 255,
		50, 50, 50, 255})

	for _, channelsAxis := range []ChannelsAxisConfig{ChannelsFirst, ChannelsLast} {
		t.Run(channelsAxis.String(), func(t *testing.T) {
			tensor := ToTensor().ChannelsAxis(channelsAxis).Normalize(Mean, Std).Single(img)
			if channelsAxis == ChannelsFirst {
				require.NoError(t, tensor.Shape().Check(3, 2, 3))
			} else {
				require.NoError(t, tensor.Shape().Check(2, 3, 3))
			}
			convertedImg := ToImage().ChannelsAxis(channelsAxis).Denormalize(Mean, Std).Single(tensor)
			require.Equal(t, img.Bounds(), convertedImg.Bounds())
			assert.Equal(t, img.Pix, convertedImg.Pix)
		})
	}
}

func TestPreprocessRecreate(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 42))
	img := RandomImage(rng, 16, 8)
	for ii, v := range img.Pix {
		if ii%4 == 3 {
			require.Equal(t, uint8(255), v)
			continue
		}
		require.GreaterOrEqual(t, v, uint8(RandomPixelMin))
		require.Less(t, v, uint8(RandomPixelMax))
	}

	x := Preprocess(rng, img, false)
	require.NoError(t, x.Shape().Check(1, 3, 16, 8))
	assert.True(t, x.IsLeaf())
	assert.True(t, x.RequiresGrad())
	// Pixel (0,0) red channel normalized.
	assert.InDelta(t, (float64(img.Pix[0])/255-Mean[0])/Std[0], x.Value().At(0, 0, 0, 0), 1e-9)

	// Round trip is exact up to rounding.
	recreated := Recreate(x)
	require.Equal(t, img.Bounds(), recreated.Bounds())
	for ii, v := range img.Pix {
		assert.InDelta(t, int(v), int(recreated.Pix[ii]), 1)
	}

	// Values out of range are clipped.
	x.Value().Fill(100)
	recreated = Recreate(x)
	assert.Equal(t, uint8(255), recreated.Pix[0])
	x.Value().Fill(-100)
	recreated = Recreate(x)
	assert.Equal(t, uint8(0), recreated.Pix[0])

	// Nil image generates a random default sized image.
	x = Preprocess(rng, nil, false)
	require.NoError(t, x.Shape().Check(1, 3, DefaultSize, DefaultSize))

	// Resizing.
	x = Preprocess(rng, img, true)
	require.NoError(t, x.Shape().Check(1, 3, DefaultSize, DefaultSize))
}

func TestSaveOpen(t *testing.T) {
	dir := t.TempDir()
	img := RandomImage(rand.New(rand.NewPCG(1, 1)), 4, 5)
	path := filepath.Join(dir, "layer_0_filter_1.png")
	require.NoError(t, Save(img, path))
	loaded, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), loaded.Bounds())

	// Overwrites.
	require.NoError(t, Save(img, path))

	// Parent directory is not created.
	err = Save(img, filepath.Join(dir, "missing", "img.jpg"))
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(dir, "missing"))
	assert.True(t, os.IsNotExist(statErr))

	// Unknown extension.
	require.Error(t, Save(img, filepath.Join(dir, "img.unknown")))
}
