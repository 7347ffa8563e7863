// Package imaging scales photos for inline hosting and keeps the encoded
// payload under a size budget.
package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// MimeType is the output format of every encoded image.
const MimeType = "image/jpeg"

// Encoded is a re-encoded image.
type Encoded struct {
	DataURL  string
	Base64   string
	Bytes    []byte
	Width    int
	Height   int
	MimeType string
	Quality  int
}

// Size is the length of the base64 payload, which is what travels inline.
func (e *Encoded) Size() int { return len(e.Base64) }

// ResizeImage scales data so neither side exceeds maxWidth/maxHeight,
// preserving aspect ratio, and re-encodes it as JPEG at quality (1-100).
// Images already within bounds keep their dimensions but are still
// re-encoded. A non-positive bound leaves that side unconstrained.
func ResizeImage(data []byte, maxWidth, maxHeight, quality int) (*Encoded, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	b := src.Bounds()
	w, h := fit(b.Dx(), b.Dy(), maxWidth, maxHeight)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// JPEG has no alpha; flatten onto white.
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	} else {
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, xdraw.Over, nil)
	}

	quality = clampQuality(quality)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	b64 := base64.StdEncoding.EncodeToString(buf.Bytes())
	return &Encoded{
		DataURL:  "data:" + MimeType + ";base64," + b64,
		Base64:   b64,
		Bytes:    buf.Bytes(),
		Width:    w,
		Height:   h,
		MimeType: MimeType,
		Quality:  quality,
	}, nil
}

// fit returns the largest size within the bounds that keeps the aspect
// ratio. It never upscales.
func fit(w, h, maxW, maxH int) (int, int) {
	scale := 1.0
	if maxW > 0 && w > maxW {
		scale = min(scale, float64(maxW)/float64(w))
	}
	if maxH > 0 && h > maxH {
		scale = min(scale, float64(maxH)/float64(h))
	}
	if scale == 1.0 {
		return w, h
	}
	return max(1, int(float64(w)*scale+0.5)), max(1, int(float64(h)*scale+0.5))
}

func clampQuality(q int) int {
	return min(max(q, 1), 100)
}

// Policy is the quality-reduction schedule used to fit an image under a
// byte budget.
type Policy struct {
	QualitySteps       []int
	SizeThresholdBytes int
}

// DefaultPolicy keeps inline payloads under 3 MiB of base64.
var DefaultPolicy = Policy{
	QualitySteps:       []int{85, 70, 55, 40},
	SizeThresholdBytes: 3 * 1024 * 1024,
}

// Encoder produces an encoded image at a given quality. ResizeImage bound
// to fixed dimensions is the production encoder.
type Encoder func(quality int) (*Encoded, error)

// FitUnderBudget tries each quality step in order and returns the first
// result whose Size is within the threshold. When no step fits, the result
// of the last step is returned.
func FitUnderBudget(encode Encoder, policy Policy) (*Encoded, error) {
	if len(policy.QualitySteps) == 0 {
		return nil, errors.New("policy has no quality steps")
	}
	var last *Encoded
	for _, q := range policy.QualitySteps {
		enc, err := encode(q)
		if err != nil {
			return nil, err
		}
		last = enc
		if policy.SizeThresholdBytes <= 0 || enc.Size() <= policy.SizeThresholdBytes {
			return enc, nil
		}
	}
	return last, nil
}

// File is an input image.
type File struct {
	Name string
	Data []byte
}

// EncodeFilesToBase64 scales every file within the bounds and fits each one
// under the policy budget. The result has one entry per file, in order.
func EncodeFilesToBase64(files []File, maxWidth, maxHeight int, policy Policy) ([]*Encoded, error) {
	out := make([]*Encoded, 0, len(files))
	for _, f := range files {
		data := f.Data
		enc, err := FitUnderBudget(func(q int) (*Encoded, error) {
			return ResizeImage(data, maxWidth, maxHeight, q)
		}, policy)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
		out = append(out, enc)
	}
	return out, nil
}
