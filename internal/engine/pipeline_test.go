package engine

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPipeline(t *testing.T, w, h int) (*Pipeline, *HostBackend) {
	t.Helper()
	s := NewScene()
	require.NoError(t, s.Add(NewSphere(mgl32.Vec3{0, 0, -4}, 1, DefaultMaterial())))

	opts := DefaultPipelineOptions()
	opts.Tracer = testTracerOptions()
	b := &HostBackend{}
	p := NewPipeline(s, NewCamera(mgl32.Vec3{}), SolidEnvironment{1, 1, 1}, opts, b, quietLogger)
	require.True(t, p.Resize(w, h))
	return p, b
}

func TestPipelineRender(t *testing.T) {
	p, b := newTestPipeline(t, 16, 9)

	img, err := p.Render()
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 16, 9), img.Bounds())
	assert.Equal(t, 1, p.Tracer.SampleCount())
	assert.Equal(t, p.Frame.Block(), b.FrameBlock[:])
	assert.Equal(t, p.Scene.InstanceBuffer(), b.Instances[:])

	_, err = p.Render()
	require.NoError(t, err)
	assert.Equal(t, 2, p.Tracer.SampleCount())

	// движение камеры сбрасывает накопление в том же кадре
	p.Camera.Move(MoveInput{Forward: 1}, 0.1)
	_, err = p.Render()
	require.NoError(t, err)
	assert.Equal(t, 1, p.Tracer.SampleCount())
	assert.Equal(t, p.Camera.Position, p.Frame.Snapshot().Position)

	p.Invalidate()
	assert.Equal(t, StateIdle, p.Tracer.State())
}

func TestPipelineResize(t *testing.T) {
	p, _ := newTestPipeline(t, 8, 8)
	_, err := p.Render()
	require.NoError(t, err)

	assert.False(t, p.Resize(0, 0), "minimized windows keep the old buffers")
	assert.Equal(t, 1, p.Tracer.SampleCount())

	require.True(t, p.Resize(4, 2))
	img, err := p.Render()
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 2), img.Bounds())
	assert.Equal(t, 4, p.Frame.Snapshot().Width)
}

func TestPipelineOverlay(t *testing.T) {
	p, _ := newTestPipeline(t, 32, 32)
	p.Overlay = []AABB{p.Scene.Objects()[0].Bounds()}
	p.Post.Options.Exposure = 1e-6 // трассированная картинка почти чёрная

	img, err := p.Render()
	require.NoError(t, err)
	painted := 0
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			c := img.RGBAAt(x, y)
			if c.R > 250 && c.G > 190 && c.B < 60 {
				painted++
			}
		}
	}
	assert.Greater(t, painted, 10)
}

func TestAccumulateStopsWhenConverged(t *testing.T) {
	p, _ := newTestPipeline(t, 4, 4)
	// пустая сцена под ровным небом сходится за один кадр
	p.Scene = NewScene()
	p.Tracer.SetScene(p.Scene)

	var seen []int
	res, err := Accumulate(p, 50, 1e-6, func(frame int, _ float32) { seen = append(seen, frame) })
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Equal(t, 2, res.Frames)
	assert.Equal(t, []int{0, 1}, seen)
	assert.Zero(t, res.Delta)

	res, err = Accumulate(p, 0, 0, nil)
	require.NoError(t, err)
	assert.Nil(t, res.Image)
}

func TestMeanDelta(t *testing.T) {
	a := []mgl32.Vec3{{0, 0, 0}, {1, 1, 1}}
	b := []mgl32.Vec3{{3, 0, 0}, {1, 1, 4}}
	assert.InDelta(t, 1, MeanDelta(a, b), 1e-6)
	assert.Zero(t, MeanDelta(a, a[:1]))
	assert.Zero(t, MeanDelta(nil, nil))
}

func TestSavePNG(t *testing.T) {
	p, _ := newTestPipeline(t, 5, 3)
	img, err := p.Render()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "frame.png")
	require.NoError(t, SavePNG(path, img))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	decoded, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), decoded.Bounds())

	assert.Error(t, SavePNG(filepath.Join(t.TempDir(), "missing", "x.png"), img))
}

// recordingDevice keeps what a GPU tracer would see at trace time: the
// arguments and the contents of both uploaded buffers.
type recordingDevice struct {
	backend   *HostBackend
	frames    []DeviceFrame
	blocks    [][]byte
	instances [][]byte
	err       error
}

func (d *recordingDevice) TraceFrame(f DeviceFrame) error {
	if d.err != nil {
		return d.err
	}
	d.frames = append(d.frames, f)
	d.blocks = append(d.blocks, bytes.Clone(d.backend.FrameBlock[:]))
	d.instances = append(d.instances, bytes.Clone(d.backend.Instances[:]))
	return nil
}

func (d *recordingDevice) last() DeviceFrame { return d.frames[len(d.frames)-1] }

func TestPipelineRenderDevice(t *testing.T) {
	p, b := newTestPipeline(t, 8, 6)
	dev := &recordingDevice{backend: b}

	overlay, err := p.RenderDevice(dev)
	require.NoError(t, err)
	assert.Nil(t, overlay)
	require.Len(t, dev.frames, 1)
	f := dev.last()
	assert.Equal(t, 0, f.Sample)
	assert.Equal(t, uint64(0), f.Index)
	assert.Equal(t, 1, f.Spheres)
	assert.Equal(t, 0, f.Cuboids)
	assert.Equal(t, 8, f.Frame.Width)
	assert.Equal(t, 6, f.Frame.Height)
	assert.Equal(t, p.Tracer.Options(), f.Tracer)
	// буферы загружены до трассировки
	assert.Equal(t, p.Frame.Block(), dev.blocks[0])
	assert.Equal(t, p.Scene.InstanceBuffer(), dev.instances[0])
	assert.Zero(t, p.Tracer.SampleCount(), "the host tracer stays idle")

	_, err = p.RenderDevice(dev)
	require.NoError(t, err)
	assert.Equal(t, 1, dev.last().Sample)
	assert.Equal(t, uint64(1), dev.last().Index)
	assert.Equal(t, 2, p.SampleCount())

	restarts := map[string]func(){
		"material edit": func() {
			red := Material{Albedo: mgl32.Vec3{1, 0, 0}, IOR: 1}
			require.NoError(t, p.Scene.SetMaterial(p.Scene.Objects()[0], red))
		},
		"new object": func() {
			require.NoError(t, p.Scene.Add(NewCuboid(mgl32.Vec3{0, -2, -4}, mgl32.Vec3{4, 0.1, 4}, DefaultMaterial())))
		},
		"camera move": func() { p.Camera.Move(MoveInput{Right: 1}, 0.1) },
		"invalidate":  func() { p.Invalidate() },
		"resize":      func() { require.True(t, p.Resize(4, 2)) },
	}
	for _, name := range []string{"material edit", "new object", "camera move", "invalidate", "resize"} {
		restarts[name]()
		_, err := p.RenderDevice(dev)
		require.NoError(t, err, name)
		assert.Equal(t, 0, dev.last().Sample, name)
		assert.Equal(t, p.Scene.InstanceBuffer(), dev.instances[len(dev.instances)-1], name)
		assert.Equal(t, p.Frame.Block(), dev.blocks[len(dev.blocks)-1], name)

		_, err = p.RenderDevice(dev)
		require.NoError(t, err, name)
		assert.Equal(t, 1, dev.last().Sample, name)
	}
	assert.Equal(t, 1, dev.last().Cuboids)
	assert.Equal(t, 4, dev.last().Frame.Width)

	p.Overlay = []AABB{p.Scene.Objects()[0].Bounds()}
	overlay, err = p.RenderDevice(dev)
	require.NoError(t, err)
	require.NotNil(t, overlay)
	assert.Equal(t, image.Rect(0, 0, 4, 2), overlay.Bounds())

	// переход на CPU считает заново
	_, err = p.Render()
	require.NoError(t, err)
	assert.Equal(t, 1, p.SampleCount())
	_, err = p.RenderDevice(dev)
	require.NoError(t, err)
	assert.Equal(t, 0, dev.last().Sample)
}

func TestPipelineRenderDeviceErrors(t *testing.T) {
	s := NewScene()
	b := &HostBackend{}
	p := NewPipeline(s, NewCamera(mgl32.Vec3{}), nil, DefaultPipelineOptions(), b, quietLogger)
	dev := &recordingDevice{backend: b}
	_, err := p.RenderDevice(dev)
	assert.ErrorIs(t, err, ErrNoFrame)
	assert.Empty(t, dev.frames)

	require.True(t, p.Resize(2, 2))
	lost := errors.New("context lost")
	dev.err = lost
	_, err = p.RenderDevice(dev)
	assert.ErrorIs(t, err, lost)
	assert.Zero(t, p.SampleCount())
}

func TestPipelineSetSceneClearsStaleRecords(t *testing.T) {
	p, b := newTestPipeline(t, 4, 4)
	require.NoError(t, p.Scene.Add(NewSphere(mgl32.Vec3{2, 0, -4}, 1, DefaultMaterial())))
	require.NoError(t, p.Scene.Add(NewCuboid(mgl32.Vec3{0, -2, -4}, mgl32.Vec3{4, 0.1, 4}, DefaultMaterial())))
	_, err := p.Render()
	require.NoError(t, err)
	require.Equal(t, p.Scene.InstanceBuffer(), b.Instances[:])
	require.NotEqual(t, make([]byte, SphereSize), b.Instances[SphereSize:2*SphereSize])

	next := NewScene()
	require.NoError(t, next.Add(NewSphere(mgl32.Vec3{0, 0, -3}, 0.5, DefaultMaterial())))
	p.SetScene(next)
	assert.Same(t, next, p.Scene)

	_, err = p.Render()
	require.NoError(t, err)
	assert.Equal(t, next.InstanceBuffer(), b.Instances[:])
	assert.Equal(t, make([]byte, SphereSize), b.Instances[SphereSize:2*SphereSize])
	assert.Equal(t, make([]byte, CuboidSize), b.Instances[CuboidsOffset:CuboidsOffset+CuboidSize])
	assert.Equal(t, 1, p.Tracer.SampleCount())
}
