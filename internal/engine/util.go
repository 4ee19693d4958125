package engine

import (
	"fmt"
	"image"
	"image/png"
	"os"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// AccumulateResult summarizes a headless accumulation run.
type AccumulateResult struct {
	Image  *image.RGBA
	Frames int
	// Delta is the mean absolute per-channel change of the last frame.
	Delta float32
	// Converged is true when Delta dropped below the requested threshold.
	Converged bool
}

// Accumulate renders up to frames frames through p. When threshold is
// positive it stops early once the mean change per frame falls below it.
// progress, if not nil, is called after each frame.
func Accumulate(p *Pipeline, frames int, threshold float32, progress func(frame int, delta float32)) (AccumulateResult, error) {
	var res AccumulateResult
	var prev []mgl32.Vec3
	for i := 0; i < frames; i++ {
		img, err := p.Render()
		if err != nil {
			return res, fmt.Errorf("frame %d: %w", i, err)
		}
		res.Image = img
		res.Frames = i + 1

		cur := p.Tracer.Accumulation()
		if prev != nil && len(prev) == len(cur) {
			res.Delta = MeanDelta(prev, cur)
		}
		if progress != nil {
			progress(i, res.Delta)
		}
		if threshold > 0 && prev != nil && res.Delta < threshold {
			res.Converged = true
			break
		}
		prev = append(prev[:0], cur...)
	}
	return res, nil
}

// MeanDelta is the mean absolute per-channel difference of two buffers of
// equal length.
func MeanDelta(a, b []mgl32.Vec3) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		d := a[i].Sub(b[i])
		sum += float64(math32.Abs(d[0]) + math32.Abs(d[1]) + math32.Abs(d[2]))
	}
	return float32(sum / float64(3*len(a)))
}

// SavePNG writes an image to a PNG file.
func SavePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create png: %w", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}
