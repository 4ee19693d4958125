package engine

import (
	"image"

	"github.com/anthonynsimon/bild/blend"
	"github.com/anthonynsimon/bild/blur"
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// SmoothOptions configures the box-blur pass applied to noisy frames.
type SmoothOptions struct {
	Enabled bool
	// Radius in pixels, 1..5.
	Radius int
	// Strength mixes the blurred image over the sharp one, 0..1.
	Strength float64
}

// PostProcessOptions controls how accumulated radiance becomes display pixels.
type PostProcessOptions struct {
	Exposure float32
	Gamma    float32
	Smooth   SmoothOptions
}

// DefaultPostProcessOptions returns exposure 1 and gamma 2.2 with
// smoothing off.
func DefaultPostProcessOptions() PostProcessOptions {
	return PostProcessOptions{
		Exposure: 1,
		Gamma:    2.2,
		Smooth:   SmoothOptions{Radius: 2, Strength: 0.5},
	}
}

// PostProcessor tonemaps accumulation buffers and composites overlays.
type PostProcessor struct {
	Options PostProcessOptions
}

// NewPostProcessor returns a post processor with opts.
func NewPostProcessor(opts PostProcessOptions) *PostProcessor {
	return &PostProcessor{Options: opts}
}

// acesTonemap is the Narkowicz ACES filmic fit.
func acesTonemap(x float32) float32 {
	if !(x > 0) {
		return 0
	}
	const (
		a = 2.51
		b = 0.03
		c = 2.43
		d = 0.59
		e = 0.14
	)
	return clamp(x*(a*x+b)/(x*(c*x+d)+e), 0, 1)
}

// Tonemap maps one linear radiance value to 8-bit display values.
func (p *PostProcessor) Tonemap(c mgl32.Vec3) [3]uint8 {
	exposure := p.Options.Exposure
	if !(exposure > 0) {
		exposure = 1
	}
	invGamma := float32(1)
	if p.Options.Gamma > 0 {
		invGamma = 1 / p.Options.Gamma
	}
	var out [3]uint8
	for i := 0; i < 3; i++ {
		v := math32.Pow(acesTonemap(c[i]*exposure), invGamma)
		out[i] = uint8(clamp(v*255+0.5, 0, 255))
	}
	return out
}

// Run converts accum (row-major, width×height) into an RGBA image and draws
// overlay on top when it is non-nil.
func (p *PostProcessor) Run(accum []mgl32.Vec3, width, height int, overlay *image.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < width; x++ {
			c := p.Tonemap(accum[y*width+x])
			i := x * 4
			row[i], row[i+1], row[i+2], row[i+3] = c[0], c[1], c[2], 255
		}
	}

	if s := p.Options.Smooth; s.Enabled && s.Radius > 0 && s.Strength > 0 {
		radius := min(s.Radius, 5)
		blurred := blur.Box(img, float64(radius))
		img = blend.Opacity(img, blurred, clamp01(s.Strength))
	}
	if overlay != nil && overlay.Bounds().Eq(img.Bounds()) {
		img = blend.Normal(img, overlay)
	}
	return img
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
