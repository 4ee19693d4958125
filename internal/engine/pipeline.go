package engine

import (
	"fmt"
	"image"
	"image/color"
	"log/slog"
)

// PipelineOptions groups the settings of every frame stage.
type PipelineOptions struct {
	FOV, Near, Far float32
	Tracer         TracerOptions
	Post           PostProcessOptions
}

// DefaultPipelineOptions returns the interactive defaults.
func DefaultPipelineOptions() PipelineOptions {
	return PipelineOptions{
		FOV:    DefaultFOV,
		Near:   DefaultNear,
		Far:    DefaultFar,
		Tracer: DefaultTracerOptions(),
		Post:   DefaultPostProcessOptions(),
	}
}

// Pipeline runs one frame: camera update and invalidation, backend upload,
// trace, overlay raster and post-processing.
type Pipeline struct {
	Scene   *Scene
	Camera  *Camera
	Frame   *FrameState
	Tracer  *PathTracer
	Raster  *Rasterizer
	Post    *PostProcessor
	Backend Backend

	// Overlay boxes are drawn as wireframes over the traced image.
	Overlay      []AABB
	OverlayColor color.RGBA

	device deviceState
	logger *slog.Logger
}

// DeviceFrame is everything a DeviceTracer needs besides the uploaded
// frame block and instance buffer.
type DeviceFrame struct {
	Frame FrameData
	// Spheres and Cuboids are the live slot counts; records past them are
	// zeroed and must not be read.
	Spheres, Cuboids int
	// Sample is how many frames the device accumulation already holds. 0
	// means the device overwrites its history.
	Sample int
	// Index counts every traced frame, for seeding.
	Index  uint64
	Tracer TracerOptions
}

// DeviceTracer traces and accumulates one frame on the GPU, reading the
// camera from the frame block and the objects from the instance buffer.
type DeviceTracer interface {
	TraceFrame(f DeviceFrame) error
}

type deviceState struct {
	active        bool
	samples       int
	index         uint64
	revision      uint64
	width, height int
}

// NewPipeline wires the stages together. A nil backend keeps uploads in memory.
func NewPipeline(scene *Scene, cam *Camera, env Environment, opts PipelineOptions, backend Backend, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if backend == nil {
		backend = &HostBackend{}
	}
	p := &Pipeline{
		Scene:        scene,
		Camera:       cam,
		Frame:        NewFrameState(opts.FOV, opts.Near, opts.Far),
		Tracer:       NewPathTracer(scene, env, opts.Tracer, logger),
		Raster:       &Rasterizer{},
		Post:         NewPostProcessor(opts.Post),
		Backend:      backend,
		OverlayColor: color.RGBA{R: 255, G: 200, B: 40, A: 255},
		logger:       logger,
	}
	if scene != nil {
		p.device.revision = scene.Revision()
	}
	return p
}

// Resize propagates a framebuffer size to every stage. Zero sizes are
// ignored.
func (p *Pipeline) Resize(width, height int) bool {
	if width <= 0 || height <= 0 {
		return false
	}
	p.Frame.Resize(width, height)
	p.Raster.SetSize(width, height)
	return p.Tracer.SetSize(width, height)
}

// Invalidate restarts accumulation on the host and on the device.
func (p *Pipeline) Invalidate() {
	p.Tracer.Invalidate()
	p.device.samples = 0
}

// SetScene replaces the scene. Records of the old scene past the new slot
// counts are cleared on the next upload.
func (p *Pipeline) SetScene(sc *Scene) {
	if sc == nil {
		sc = NewScene()
	}
	// слоты старой сцены сверх новых счётчиков затираются нулями
	sc.ClearStale(p.Scene)
	p.Scene = sc
	p.Tracer.SetScene(sc)
	p.device.revision = sc.Revision()
	p.device.samples = 0
}

// SampleCount is the number of frames in the running average of whichever
// tracer ran last.
func (p *Pipeline) SampleCount() int {
	if p.device.active {
		return p.device.samples
	}
	return p.Tracer.SampleCount()
}

// prepare applies the camera, publishes the frame and uploads every dirty
// range. Camera and scene changes made before the call are visible in the
// returned frame.
func (p *Pipeline) prepare() (FrameData, error) {
	// сдвиг камеры сбрасывает накопление до трассировки
	if p.Camera != nil && p.Frame.Update(p.Camera) {
		p.Invalidate()
	}
	p.Frame.Swap()

	if err := Sync(p.Backend, p.Frame, p.Scene); err != nil {
		return FrameData{}, fmt.Errorf("sync backend: %w", err)
	}
	return p.Frame.Snapshot(), nil
}

func (p *Pipeline) overlay(frame FrameData) *image.RGBA {
	if len(p.Overlay) == 0 {
		return nil
	}
	return p.Raster.Run(frame, p.Overlay, p.OverlayColor)
}

// Render traces the next frame on the host and returns the post-processed
// image.
func (p *Pipeline) Render() (*image.RGBA, error) {
	frame, err := p.prepare()
	if err != nil {
		return nil, err
	}
	p.device.active = false
	if err := p.Tracer.Run(frame); err != nil {
		return nil, err
	}
	w, h := p.Tracer.Size()
	return p.Post.Run(p.Tracer.Accumulation(), w, h, p.overlay(frame)), nil
}

// RenderDevice traces the next frame on dev from the buffers Sync just
// uploaded. Accumulation restarts on camera moves, resizes, scene edits and
// Invalidate exactly as on the host. It returns the overlay image, nil when
// there is nothing to draw; tone mapping is left to the device.
func (p *Pipeline) RenderDevice(dev DeviceTracer) (*image.RGBA, error) {
	frame, err := p.prepare()
	if err != nil {
		return nil, err
	}
	if !frame.Valid() {
		return nil, ErrNoFrame
	}
	d := &p.device
	// первый кадр на GPU или новый размер текстур
	if !d.active || d.width != frame.Width || d.height != frame.Height {
		d.width, d.height = frame.Width, frame.Height
		d.samples = 0
	}
	d.active = true
	var spheres, cuboids int
	if p.Scene != nil {
		// правка сцены обнуляет историю так же, как на CPU
		if rev := p.Scene.Revision(); rev != d.revision {
			d.revision = rev
			d.samples = 0
		}
		spheres, cuboids = p.Scene.Count(KindSphere), p.Scene.Count(KindCuboid)
	}

	err = dev.TraceFrame(DeviceFrame{
		Frame:   frame,
		Spheres: spheres,
		Cuboids: cuboids,
		Sample:  d.samples,
		Index:   d.index,
		Tracer:  p.Tracer.Options(),
	})
	if err != nil {
		return nil, fmt.Errorf("device trace: %w", err)
	}
	d.samples++
	d.index++
	return p.overlay(frame), nil
}
