package engine

import (
	"image"
	"image/color"

	"github.com/go-gl/mathgl/mgl32"
)

// boxEdges indexes AABB.Corners pairs that differ in exactly one axis.
var boxEdges = [12][2]int{
	{0, 1}, {2, 3}, {4, 5}, {6, 7}, // x
	{0, 2}, {1, 3}, {4, 6}, {5, 7}, // y
	{0, 4}, {1, 5}, {2, 6}, {3, 7}, // z
}

// Rasterizer draws auxiliary wireframe geometry into a transparent overlay
// that the post processor composites over the traced image.
type Rasterizer struct {
	target *image.RGBA
}

// NewRasterizer allocates an overlay of the given size.
func NewRasterizer(width, height int) *Rasterizer {
	r := &Rasterizer{}
	r.SetSize(width, height)
	return r
}

// SetSize reallocates the overlay. Zero sizes are ignored.
func (r *Rasterizer) SetSize(width, height int) bool {
	if width <= 0 || height <= 0 {
		return false
	}
	r.target = image.NewRGBA(image.Rect(0, 0, width, height))
	return true
}

// Target returns the overlay drawn by the last Run.
func (r *Rasterizer) Target() *image.RGBA { return r.target }

// Run clears the overlay and draws the edges of every box.
func (r *Rasterizer) Run(frame FrameData, boxes []AABB, col color.RGBA) *image.RGBA {
	if r.target == nil {
		return nil
	}
	clear(r.target.Pix)
	if len(boxes) == 0 {
		return r.target
	}
	size := r.target.Bounds().Size()
	for _, box := range boxes {
		corners := box.Corners()
		var clip [8]mgl32.Vec4
		for i, c := range corners {
			// отсекаем в clip space, до деления на w
			clip[i] = frame.ViewProjection.Mul4x1(c.Vec4(1))
		}
		for _, e := range boxEdges {
			a, b := clip[e[0]], clip[e[1]]
			a, b, ok := clipNear(a, b)
			if !ok {
				continue
			}
			x0, y0 := toScreen(a, size)
			x1, y1 := toScreen(b, size)
			r.line(x0, y0, x1, y1, col)
		}
	}
	return r.target
}

// clipNear trims the segment against w > near plane in clip space.
func clipNear(a, b mgl32.Vec4) (mgl32.Vec4, mgl32.Vec4, bool) {
	const wMin = 1e-4
	if a[3] < wMin && b[3] < wMin {
		return a, b, false
	}
	// двигаем точку за глазом на плоскость w = wMin
	if a[3] < wMin {
		t := (wMin - a[3]) / (b[3] - a[3])
		a = a.Add(b.Sub(a).Mul(t))
	} else if b[3] < wMin {
		t := (wMin - b[3]) / (a[3] - b[3])
		b = b.Add(a.Sub(b).Mul(t))
	}
	return a, b, true
}

func toScreen(c mgl32.Vec4, size image.Point) (float32, float32) {
	x := (c[0]/c[3]*0.5 + 0.5) * float32(size.X)
	y := (0.5 - c[1]/c[3]*0.5) * float32(size.Y)
	return x, y
}

// line clips to the target with Liang-Barsky and steps with Bresenham.
func (r *Rasterizer) line(x0, y0, x1, y1 float32, col color.RGBA) {
	size := r.target.Bounds().Size()
	xmax, ymax := float32(size.X-1), float32(size.Y-1)

	dx, dy := x1-x0, y1-y0
	t0, t1 := float32(0), float32(1)
	p := [4]float32{-dx, dx, -dy, dy}
	q := [4]float32{x0, xmax - x0, y0, ymax - y0}
	for i := 0; i < 4; i++ {
		if p[i] == 0 {
			if q[i] < 0 {
				return
			}
			continue
		}
		t := q[i] / p[i]
		if p[i] < 0 {
			if t > t1 {
				return
			}
			if t > t0 {
				t0 = t
			}
		} else {
			if t < t0 {
				return
			}
			if t < t1 {
				t1 = t
			}
		}
	}

	ax, ay := int(x0+t0*dx+0.5), int(y0+t0*dy+0.5)
	bx, by := int(x0+t1*dx+0.5), int(y0+t1*dy+0.5)

	stepX, stepY := 1, 1
	ddx, ddy := bx-ax, by-ay
	if ddx < 0 {
		ddx, stepX = -ddx, -1
	}
	if ddy < 0 {
		ddy, stepY = -ddy, -1
	}
	err := ddx - ddy
	for {
		r.target.SetRGBA(ax, ay, col)
		if ax == bx && ay == by {
			return
		}
		e2 := 2 * err
		if e2 > -ddy {
			err -= ddy
			ax += stepX
		}
		if e2 < ddx {
			err += ddx
			ay += stepY
		}
	}
}
