package pixel

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidPNG(t *testing.T, c color.RGBA, size int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestCompareIdenticalImagesScoreZero(t *testing.T) {
	a := solidPNG(t, color.RGBA{R: 120, G: 80, B: 200, A: 255}, 64)
	b := solidPNG(t, color.RGBA{R: 120, G: 80, B: 200, A: 255}, 64)

	result, err := Compare(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 0, result.Score, 1e-6)
	assert.NotEmpty(t, result.HeatmapPNG)
	assert.NotEmpty(t, result.OverlayPNG)
}

func TestCompareDistinctColorsScorePositive(t *testing.T) {
	black := solidPNG(t, color.RGBA{A: 255}, 64)
	white := solidPNG(t, color.RGBA{R: 255, G: 255, B: 255, A: 255}, 64)

	result, err := Compare(black, white)
	require.NoError(t, err)
	assert.Greater(t, result.Score, 0.5)
}

func TestCompareIsDeterministic(t *testing.T) {
	a := solidPNG(t, color.RGBA{R: 10, G: 20, B: 30, A: 255}, 64)
	b := solidPNG(t, color.RGBA{R: 200, G: 40, B: 5, A: 255}, 64)

	first, err := Compare(a, b)
	require.NoError(t, err)
	second, err := Compare(a, b)
	require.NoError(t, err)

	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, first.HeatmapPNG, second.HeatmapPNG)
	assert.Equal(t, first.OverlayPNG, second.OverlayPNG)
}

func TestCompareRejectsMalformedBytes(t *testing.T) {
	_, err := Compare([]byte("not an image"), []byte("also not an image"))
	assert.Error(t, err)
}

func TestCompareHandlesDifferentSizedImages(t *testing.T) {
	small := solidPNG(t, color.RGBA{R: 50, G: 50, B: 50, A: 255}, 32)
	large := solidPNG(t, color.RGBA{R: 50, G: 50, B: 50, A: 255}, 256)

	result, err := Compare(small, large)
	require.NoError(t, err)
	assert.InDelta(t, 0, result.Score, 1e-6)
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, clamp01(-1))
	assert.Equal(t, 1.0, clamp01(2))
	assert.Equal(t, 0.5, clamp01(0.5))
}

func TestRound4(t *testing.T) {
	assert.Equal(t, 0.1235, round4(0.12346))
}
