// Package pixel implements the Pixel Metric Engine (spec §2 item 8, §4.2):
// a pure function over two image byte streams producing a normalized
// drift score plus a heatmap/overlay artifact pair. It is deterministic —
// the same two byte sequences always yield the same score and
// byte-identical artifacts (spec §8) — which is why it is built on the
// standard library's image/image/draw/image/png packages rather than a
// third-party imaging library: no example repo in the corpus imports one,
// and the algorithm here (grayscale SSIM window + histogram distance) is
// small enough that stdlib decode/encode plus plain slices suffice.
package pixel

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"

	_ "image/jpeg" // allow jpeg-encoded commit images to decode too

	"github.com/choiwab/promptsmith/internal/apperr"
)

// windowSize is the side length of the local SSIM window.
const windowSize = 8

// Result is the output of Compare: the blended drift score plus the two
// persisted artifacts.
type Result struct {
	Score      float64
	HeatmapPNG []byte
	OverlayPNG []byte
}

// Compare decodes both images, resizes them to a common size, and
// computes a [0,1] difference score (higher = more different) blended
// from an SSIM-based difference map and a histogram distance, along with
// a heatmap and an overlay image.
func Compare(baseline, candidate []byte) (*Result, error) {
	baseImg, _, err := image.Decode(bytes.NewReader(baseline))
	if err != nil {
		return nil, apperr.New(apperr.CodeComparePipeline, "pixel.compare", fmt.Errorf("decode baseline: %w", err))
	}
	candImg, _, err := image.Decode(bytes.NewReader(candidate))
	if err != nil {
		return nil, apperr.New(apperr.CodeComparePipeline, "pixel.compare", fmt.Errorf("decode candidate: %w", err))
	}

	const dim = 256
	baseGray := toGrayResized(baseImg, dim)
	candGray := toGrayResized(candImg, dim)

	diffMap, ssimDiff := ssimDifferenceMap(baseGray, candGray, dim)
	histDist := histogramDistance(baseGray, candGray)

	score := clamp01(0.7*ssimDiff + 0.3*histDist)

	heatmap, err := encodeHeatmap(diffMap, dim)
	if err != nil {
		return nil, apperr.New(apperr.CodeComparePipeline, "pixel.compare", fmt.Errorf("encode heatmap: %w", err))
	}
	overlay, err := encodeOverlay(candGray, diffMap, dim)
	if err != nil {
		return nil, apperr.New(apperr.CodeComparePipeline, "pixel.compare", fmt.Errorf("encode overlay: %w", err))
	}

	return &Result{Score: round4(score), HeatmapPNG: heatmap, OverlayPNG: overlay}, nil
}

// toGrayResized decodes img to a dim x dim grayscale grid using simple
// nearest-neighbor sampling, which is deterministic and side-effect free.
func toGrayResized(img image.Image, dim int) []float64 {
	bounds := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(gray, gray.Bounds(), img, bounds.Min, draw.Src)

	out := make([]float64, dim*dim)
	sw, sh := bounds.Dx(), bounds.Dy()
	for y := 0; y < dim; y++ {
		sy := y * sh / dim
		for x := 0; x < dim; x++ {
			sx := x * sw / dim
			out[y*dim+x] = float64(gray.GrayAt(sx, sy).Y)
		}
	}
	return out
}

// ssimDifferenceMap computes a per-window structural-similarity
// difference (1 - SSIM) / 2, clamped to [0, 1], over non-overlapping
// windowSize blocks, returning
// a per-pixel diff map (each pixel's window's diff value) and the mean
// diff across all windows.
func ssimDifferenceMap(base, cand []float64, dim int) ([]float64, float64) {
	const c1 = 6.5025
	const c2 = 58.5225

	diffMap := make([]float64, dim*dim)
	var total float64
	var windows int

	for wy := 0; wy < dim; wy += windowSize {
		for wx := 0; wx < dim; wx += windowSize {
			var sumA, sumB, sumAA, sumBB, sumAB float64
			var n int
			for y := wy; y < wy+windowSize && y < dim; y++ {
				for x := wx; x < wx+windowSize && x < dim; x++ {
					a := base[y*dim+x]
					b := cand[y*dim+x]
					sumA += a
					sumB += b
					sumAA += a * a
					sumBB += b * b
					sumAB += a * b
					n++
				}
			}
			if n == 0 {
				continue
			}
			fn := float64(n)
			meanA := sumA / fn
			meanB := sumB / fn
			varA := sumAA/fn - meanA*meanA
			varB := sumBB/fn - meanB*meanB
			covAB := sumAB/fn - meanA*meanB

			ssim := ((2*meanA*meanB + c1) * (2*covAB + c2)) /
				((meanA*meanA + meanB*meanB + c1) * (varA + varB + c2))
			windowDiff := clamp01((1 - ssim) / 2)

			for y := wy; y < wy+windowSize && y < dim; y++ {
				for x := wx; x < wx+windowSize && x < dim; x++ {
					diffMap[y*dim+x] = windowDiff
				}
			}
			total += windowDiff
			windows++
		}
	}
	if windows == 0 {
		return diffMap, 0
	}
	return diffMap, total / float64(windows)
}

// histogramDistance buckets both grayscale grids into 32 bins and
// computes a normalized L1 distance between the two histograms.
func histogramDistance(base, cand []float64) float64 {
	const bins = 32
	var histA, histB [bins]float64
	for _, v := range base {
		histA[bucketOf(v, bins)]++
	}
	for _, v := range cand {
		histB[bucketOf(v, bins)]++
	}
	total := float64(len(base))
	var dist float64
	for i := 0; i < bins; i++ {
		dist += math.Abs(histA[i]/total - histB[i]/total)
	}
	return clamp01(dist / 2)
}

func bucketOf(v float64, bins int) int {
	b := int(v / (256.0 / float64(bins)))
	if b >= bins {
		b = bins - 1
	}
	if b < 0 {
		b = 0
	}
	return b
}

// encodeHeatmap renders diffMap as a red-intensity heatmap PNG.
func encodeHeatmap(diffMap []float64, dim int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, dim, dim))
	for y := 0; y < dim; y++ {
		for x := 0; x < dim; x++ {
			v := diffMap[y*dim+x]
			intensity := uint8(clamp01(v) * 255)
			img.Set(x, y, color.RGBA{R: intensity, G: 0, B: 255 - intensity, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// encodeOverlay renders the candidate grayscale image with the diff map
// blended in as a translucent red tint over high-difference regions.
func encodeOverlay(candGray []float64, diffMap []float64, dim int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, dim, dim))
	for y := 0; y < dim; y++ {
		for x := 0; x < dim; x++ {
			base := uint8(clamp01(candGray[y*dim+x]/255) * 255)
			v := diffMap[y*dim+x]
			r := blend(base, 255, v)
			g := blend(base, 0, v)
			b := blend(base, 0, v)
			img.Set(x, y, color.RGBA{R: r, G: g, B: b, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func blend(base, tint uint8, alpha float64) uint8 {
	alpha = clamp01(alpha)
	return uint8(float64(base)*(1-alpha) + float64(tint)*alpha)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
