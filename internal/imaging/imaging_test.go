package imaging

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 7), G: uint8(y * 13), B: uint8(x ^ y), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestResizeImageNeverUpscales(t *testing.T) {
	enc, err := ResizeImage(testPNG(t, 40, 30), 1920, 1080, 80)
	require.NoError(t, err)
	assert.Equal(t, 40, enc.Width)
	assert.Equal(t, 30, enc.Height)
	assert.Equal(t, MimeType, enc.MimeType)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(enc.Bytes))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 40, cfg.Width)
	assert.Equal(t, 30, cfg.Height)
}

func TestResizeImageLongEdgeConstrained(t *testing.T) {
	enc, err := ResizeImage(testPNG(t, 400, 100), 200, 200, 80)
	require.NoError(t, err)
	assert.Equal(t, 200, enc.Width)
	assert.Equal(t, 50, enc.Height)

	enc, err = ResizeImage(testPNG(t, 100, 400), 200, 200, 80)
	require.NoError(t, err)
	assert.Equal(t, 50, enc.Width)
	assert.Equal(t, 200, enc.Height)
}

func TestResizeImageDataURL(t *testing.T) {
	enc, err := ResizeImage(testPNG(t, 10, 10), 100, 100, 90)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(enc.DataURL, "data:image/jpeg;base64,"))

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(enc.DataURL, "data:image/jpeg;base64,"))
	require.NoError(t, err)
	assert.Equal(t, enc.Bytes, raw)
	_, err = jpeg.Decode(bytes.NewReader(raw))
	assert.NoError(t, err)
}

func TestResizeImageRejectsGarbage(t *testing.T) {
	_, err := ResizeImage([]byte("not an image"), 10, 10, 80)
	assert.Error(t, err)
}

func TestFitUnderBudgetLowersQuality(t *testing.T) {
	var tried []int
	encode := func(q int) (*Encoded, error) {
		tried = append(tried, q)
		size := 100
		if q >= 40 {
			size = 10000
		}
		return &Encoded{Base64: strings.Repeat("A", size), Quality: q}, nil
	}

	enc, err := FitUnderBudget(encode, Policy{QualitySteps: []int{80, 60, 40, 20, 10}, SizeThresholdBytes: 500})
	require.NoError(t, err)
	assert.Equal(t, 20, enc.Quality)
	assert.Equal(t, []int{80, 60, 40, 20}, tried)
}

func TestFitUnderBudgetReturnsFloorResult(t *testing.T) {
	encode := func(q int) (*Encoded, error) {
		return &Encoded{Base64: strings.Repeat("A", 1000), Quality: q}, nil
	}
	enc, err := FitUnderBudget(encode, Policy{QualitySteps: []int{70, 30}, SizeThresholdBytes: 10})
	require.NoError(t, err)
	assert.Equal(t, 30, enc.Quality)

	_, err = FitUnderBudget(encode, Policy{})
	assert.Error(t, err)
}

func TestEncodeFilesToBase64KeepsOrderAndCount(t *testing.T) {
	files := []File{
		{Name: "a.png", Data: testPNG(t, 20, 10)},
		{Name: "b.png", Data: testPNG(t, 10, 20)},
	}
	out, err := EncodeFilesToBase64(files, 100, 100, DefaultPolicy)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 20, out[0].Width)
	assert.Equal(t, 20, out[1].Height)
	assert.Equal(t, DefaultPolicy.QualitySteps[0], out[0].Quality)
}
