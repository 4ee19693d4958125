package engine

import (
	"errors"
	"log/slog"
	"runtime"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/sync/errgroup"
)

// ErrNoFrame is returned by Run before the tracer has a resolution.
var ErrNoFrame = errors.New("path tracer has no frame size")

// TracerOptions configures a PathTracer.
type TracerOptions struct {
	// RayDepth is the maximum number of bounces per path.
	RayDepth int
	// SamplesPerFrame are averaged into each frame's sample.
	SamplesPerFrame int
	// FocalLength and Aperture control thin-lens depth of field. Aperture 0
	// is a pinhole camera.
	FocalLength float32
	Aperture    float32
	// Workers bounds the row fan-out; 0 means GOMAXPROCS.
	Workers int
	Seed    uint64
}

// DefaultTracerOptions mirrors the interactive defaults.
func DefaultTracerOptions() TracerOptions {
	return TracerOptions{
		RayDepth:        13,
		SamplesPerFrame: 1,
		FocalLength:     20,
		Aperture:        0.14,
	}
}

// TracerState is the accumulation state.
type TracerState int

const (
	// StateIdle has no samples; buffer contents are undefined.
	StateIdle TracerState = iota
	// StateAccumulating holds the running mean of SampleCount samples.
	StateAccumulating
)

func (s TracerState) String() string {
	if s == StateAccumulating {
		return "accumulating"
	}
	return "idle"
}

// PathTracer progressively integrates one sample per pixel per Run into a
// running-average accumulation buffer.
type PathTracer struct {
	scene  *Scene
	env    Environment
	opts   TracerOptions
	logger *slog.Logger

	width, height int
	accum         []mgl32.Vec3
	sampleCount   int
	frameIndex    uint64

	sceneRevision uint64
	// отброшенные NaN/Inf сэмплы за последний Run
	nonFinite int
}

// NewPathTracer returns an idle tracer with no resolution. A nil env is
// black, a nil logger is slog.Default().
func NewPathTracer(scene *Scene, env Environment, opts TracerOptions, logger *slog.Logger) *PathTracer {
	if env == nil {
		env = SolidEnvironment{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RayDepth < 1 {
		opts.RayDepth = 1
	}
	if opts.SamplesPerFrame < 1 {
		opts.SamplesPerFrame = 1
	}
	pt := &PathTracer{
		scene:  scene,
		env:    env,
		opts:   opts,
		logger: logger,
	}
	if scene != nil {
		pt.sceneRevision = scene.Revision()
	}
	return pt
}

// SetSize reallocates the accumulation buffer and resets to Idle. Zero
// dimensions are ignored and leave the state untouched.
func (pt *PathTracer) SetSize(width, height int) bool {
	if width <= 0 || height <= 0 {
		pt.logger.Debug("ignoring resize", "width", width, "height", height)
		return false
	}
	pt.width, pt.height = width, height
	pt.accum = make([]mgl32.Vec3, width*height)
	pt.sampleCount = 0
	return true
}

// Size returns the accumulation buffer resolution.
func (pt *PathTracer) Size() (int, int) { return pt.width, pt.height }

// Invalidate discards accumulated samples. The buffer is overwritten by
// the next Run.
func (pt *PathTracer) Invalidate() { pt.sampleCount = 0 }

// SampleCount is the number of samples in the running average.
func (pt *PathTracer) SampleCount() int { return pt.sampleCount }

// FrameIndex counts every Run since construction, across invalidations.
func (pt *PathTracer) FrameIndex() uint64 { return pt.frameIndex }

func (pt *PathTracer) State() TracerState {
	if pt.sampleCount == 0 {
		return StateIdle
	}
	return StateAccumulating
}

// Accumulation is the row-major running average. Callers must not modify it.
func (pt *PathTracer) Accumulation() []mgl32.Vec3 { return pt.accum }

// Pixel returns the accumulated radiance at (x, y).
func (pt *PathTracer) Pixel(x, y int) mgl32.Vec3 { return pt.accum[y*pt.width+x] }

// Options returns the active options.
func (pt *PathTracer) Options() TracerOptions { return pt.opts }

// SetOptions replaces the options and invalidates.
func (pt *PathTracer) SetOptions(opts TracerOptions) {
	if opts.RayDepth < 1 {
		opts.RayDepth = 1
	}
	if opts.SamplesPerFrame < 1 {
		opts.SamplesPerFrame = 1
	}
	pt.opts = opts
	pt.Invalidate()
}

// SetScene swaps the scene and invalidates.
func (pt *PathTracer) SetScene(scene *Scene) {
	pt.scene = scene
	if scene != nil {
		pt.sceneRevision = scene.Revision()
	}
	pt.Invalidate()
}

// SetEnvironment swaps the background and invalidates.
func (pt *PathTracer) SetEnvironment(env Environment) {
	if env == nil {
		env = SolidEnvironment{}
	}
	pt.env = env
	pt.Invalidate()
}

// Run traces one sample per pixel for frame and blends it into the
// accumulation buffer with weight 1/(count+1).
func (pt *PathTracer) Run(frame FrameData) error {
	if pt.width == 0 || pt.height == 0 {
		return ErrNoFrame
	}
	// сцену правили с прошлого кадра, копить дальше нельзя
	if pt.scene != nil && pt.scene.Revision() != pt.sceneRevision {
		pt.sceneRevision = pt.scene.Revision()
		pt.sampleCount = 0
	}
	// кадр рассчитан под другое разрешение
	frame.Width, frame.Height = pt.width, pt.height

	workers := pt.opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	// скользящее среднее: новый сэмпл входит с весом 1/(n+1)
	weight := 1 / float32(pt.sampleCount+1)
	seed := rowSeed(pt.opts.Seed, pt.frameIndex)
	dropped := make([]int, pt.height)

	var g errgroup.Group
	g.SetLimit(workers)
	for y := 0; y < pt.height; y++ {
		g.Go(func() error {
			// у каждой строки свой генератор, порядок горутин не влияет на картинку
			rng := newRandSource(seed, uint64(y))
			row := pt.accum[y*pt.width : (y+1)*pt.width]
			for x := range row {
				sample := pt.pixelSample(frame, x, y, rng)
				if !finite(sample) {
					// NaN/Inf не портит накопленное среднее
					dropped[y]++
					if pt.sampleCount == 0 {
						row[x] = mgl32.Vec3{}
					}
					continue
				}
				if pt.sampleCount == 0 {
					row[x] = sample
				} else {
					row[x] = lerp(row[x], sample, weight)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	pt.nonFinite = 0
	for _, n := range dropped {
		pt.nonFinite += n
	}
	if pt.nonFinite > 0 {
		pt.logger.Debug("dropped non-finite samples", "count", pt.nonFinite, "frame", pt.frameIndex)
	}
	pt.sampleCount++
	pt.frameIndex++
	return nil
}

func (pt *PathTracer) pixelSample(frame FrameData, x, y int, rng *randSource) mgl32.Vec3 {
	var sum mgl32.Vec3
	for s := 0; s < pt.opts.SamplesPerFrame; s++ {
		sum = sum.Add(pt.radiance(pt.primaryCamera(frame, x, y, rng), rng))
	}
	return sum.Mul(1 / float32(pt.opts.SamplesPerFrame))
}

// primaryCamera builds a jittered primary ray, offset on the lens when the
// aperture is open.
func (pt *PathTracer) primaryCamera(frame FrameData, x, y int, rng *randSource) Ray {
	jx, jy := rng.Float32(), rng.Float32()
	dir := frame.Direction(float32(x)+jx, float32(y)+jy)
	if pt.opts.Aperture <= 0 || pt.opts.FocalLength <= 0 {
		return Ray{Origin: frame.Position, Direction: dir}
	}

	// все лучи пикселя сходятся в точке на фокальной плоскости
	focalPoint := frame.Position.Add(dir.Mul(pt.opts.FocalLength))
	right := frame.InvView.Col(0).Vec3()
	up := frame.InvView.Col(1).Vec3()
	dx, dy := unitDisk(rng)
	r := pt.opts.Aperture * 0.5
	origin := frame.Position.Add(right.Mul(dx * r)).Add(up.Mul(dy * r))
	return NewRay(origin, focalPoint.Sub(origin))
}

// radiance follows one path for at most RayDepth bounces.
func (pt *PathTracer) radiance(r Ray, rng *randSource) mgl32.Vec3 {
	var color mgl32.Vec3
	throughput := mgl32.Vec3{1, 1, 1}

	for depth := 0; depth < pt.opts.RayDepth; depth++ {
		if !r.Valid() {
			break
		}
		var hit bool
		var obj GameObject
		var t1, t2 float32
		if pt.scene != nil {
			hit, obj, t1, t2 = pt.scene.RayTrace(r)
		}
		if !hit {
			color = color.Add(mulElem(throughput, pt.env.Lookup(r.Direction)))
			break
		}

		// t1 < 0: луч стартовал внутри объекта
		fromInside := t1 < 0
		t := SmallestPositive(t1, t2)
		point := r.At(t)
		normal := obj.NormalAt(point)
		if fromInside {
			normal = normal.Mul(-1)
		}
		m := obj.Material()

		// поглощение по закону Бера-Ламберта на пройденном внутри отрезке
		if fromInside {
			throughput = mulElem(throughput, beerLambert(m.AbsorbanceColor, t))
		}
		color = color.Add(mulElem(m.Emission, throughput))

		ev := m.scatter(r.Direction, normal, fromInside, rng)
		// смещаем начало, чтобы не попасть в ту же поверхность
		origin := point.Add(normal.Mul(Epsilon))
		if ev.Branch == branchRefraction {
			origin = point.Sub(normal.Mul(Epsilon))
		} else {
			throughput = mulElem(throughput, m.Albedo)
		}
		throughput = throughput.Mul(1 / ev.Probability)

		r = Ray{Origin: origin, Direction: ev.Direction}
	}
	return color
}
