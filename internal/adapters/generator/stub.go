package generator

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"

	"github.com/choiwab/promptsmith/internal/apperr"
)

// Stub is a deterministic Generator used when no AWS region is configured
// (spec §6: "absence forces all ... calls to their deterministic
// fallbacks"). It renders a solid-color PNG whose color is derived from
// the prompt so that identical prompts always produce byte-identical
// images, which both keeps eval runs reproducible offline and satisfies
// the pixel engine's determinism property for identical inputs.
type Stub struct{}

// NewStub returns a Stub Generator.
func NewStub() *Stub { return &Stub{} }

func (Stub) TextToImage(ctx context.Context, prompt string) (*Result, error) {
	return render(prompt)
}

func (Stub) ImageEdit(ctx context.Context, base []byte, prompt string) (*Result, error) {
	return render(prompt)
}

func render(seed string) (*Result, error) {
	c := colorFromString(seed)
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, apperr.New(apperr.CodeUpstreamError, "generator.stub", err)
	}
	return &Result{ImageBytes: buf.Bytes(), Ext: "png"}, nil
}

func colorFromString(s string) color.RGBA {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return color.RGBA{
		R: uint8(h),
		G: uint8(h >> 8),
		B: uint8(h >> 16),
		A: 255,
	}
}
