package ui

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"runtime"
	"time"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/user/gltracer/internal/config"
	"github.com/user/gltracer/internal/engine"
	"github.com/user/gltracer/internal/engine/gpu"
	"github.com/user/gltracer/internal/scene"
)

// GLFW event processing must stay on the main thread.
func init() {
	runtime.LockOSThread()
}

// Options configures Run.
type Options struct {
	Config    config.Config
	ScenePath string
	// Watch reloads the scene when its file changes.
	Watch  bool
	Logger *slog.Logger
}

type app struct {
	opts   Options
	logger *slog.Logger

	window    *glfw.Window
	presenter *gpu.Presenter
	// nil, если кадр трассирует CPU
	tracer    *gpu.TracePass
	pipeline  *engine.Pipeline
	desc      *scene.Scene
	watcher   *scene.Watcher

	captured   bool
	vsync      bool
	fullscreen bool
	showBounds bool
	selected   engine.GameObject

	// геометрия окна для выхода из полноэкранного режима
	winX, winY, winW, winH int

	lastCursor mgl32.Vec2
	haveCursor bool

	frames     int
	statsStart time.Time
}

// Run opens the window and drives the update-then-render loop until the
// window is closed.
func Run(opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &app{opts: opts, logger: logger, vsync: opts.Config.Window.VSync}

	desc, err := scene.Load(opts.ScenePath)
	if err != nil {
		return err
	}
	a.desc = desc
	sc, err := engine.BuildScene(desc)
	if err != nil {
		return err
	}
	env, err := engine.EnvironmentFromSky(desc)
	if err != nil {
		return fmt.Errorf("environment: %w", err)
	}

	if err := glfw.Init(); err != nil {
		return fmt.Errorf("glfw init: %w", err)
	}
	defer glfw.Terminate()

	glfw.WindowHint(glfw.ContextVersionMajor, 3)
	glfw.WindowHint(glfw.ContextVersionMinor, 3)
	glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
	glfw.WindowHint(glfw.OpenGLForwardCompatible, glfw.True)

	wc := opts.Config.Window
	w, err := glfw.CreateWindow(wc.Width, wc.Height, wc.Title, nil, nil)
	if err != nil {
		return fmt.Errorf("glfw create window: %w", err)
	}
	defer w.Destroy()
	a.window = w
	w.MakeContextCurrent()
	a.applyVSync()

	ctx, err := gpu.NewContext(logger)
	if err != nil {
		return err
	}
	a.presenter, err = gpu.NewPresenter(ctx)
	if err != nil {
		return err
	}
	defer a.presenter.Delete()
	if opts.Config.Render.GPUTrace {
		a.tracer, err = gpu.NewTracePass(a.presenter, env)
		if err != nil {
			return err
		}
		defer a.tracer.Delete()
	}

	cam := engine.CameraFromScene(desc)
	cam.Speed = opts.Config.Camera.Speed
	cam.Sensitivity = opts.Config.Camera.Sensitivity

	popts := opts.Config.PipelineOptions()
	popts.Tracer = engine.TracerOptionsFor(desc, popts.Tracer)
	a.pipeline = engine.NewPipeline(sc, cam, env, popts, a.presenter, logger)

	fbw, fbh := w.GetFramebufferSize()
	a.resize(fbw, fbh)

	w.SetFramebufferSizeCallback(func(_ *glfw.Window, width, height int) { a.resize(width, height) })
	w.SetKeyCallback(a.onKey)
	w.SetMouseButtonCallback(a.onMouseButton)
	a.setCapture(true)

	if opts.Watch {
		a.watcher, err = scene.Watch(opts.ScenePath, logger)
		if err != nil {
			logger.Warn("scene watch disabled", "err", err)
		} else {
			defer a.watcher.Close()
		}
	}

	logger.Info("interactive loop started",
		"scene", opts.ScenePath,
		"spheres", sc.Count(engine.KindSphere),
		"cuboids", sc.Count(engine.KindCuboid),
		"gpu_trace", a.tracer != nil)
	return a.loop()
}

func (a *app) loop() error {
	last := time.Now()
	a.statsStart = last
	for !a.window.ShouldClose() {
		glfw.PollEvents()

		now := time.Now()
		dt := float32(now.Sub(last).Seconds())
		last = now

		a.applyReloads()
		a.updateCamera(dt)

		focused := a.window.GetAttrib(glfw.Focused) == glfw.True
		if !focused {
			// не тратим CPU, пока окно в фоне
			time.Sleep(10 * time.Millisecond)
			continue
		}

		a.pipeline.Overlay = a.overlay()
		if err := a.render(); err != nil {
			return err
		}
		a.window.SwapBuffers()
		a.frames++
		a.updateTitle(now)
	}
	return nil
}

// render traces one frame on the GPU or the CPU and draws it.
func (a *app) render() error {
	if a.tracer != nil {
		overlay, err := a.pipeline.RenderDevice(a.tracer)
		if err != nil {
			return fmt.Errorf("render: %w", err)
		}
		return a.presenter.PresentTrace(a.tracer, a.pipeline.Post.Options, overlay)
	}
	img, err := a.pipeline.Render()
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	return a.presenter.Present(img)
}

func (a *app) resize(width, height int) {
	if width <= 0 || height <= 0 {
		// свёрнутое окно
		return
	}
	a.presenter.Resize(width, height)
	a.pipeline.Resize(width, height)
	a.logger.Debug("resized", "width", width, "height", height)
}

func (a *app) onKey(w *glfw.Window, key glfw.Key, _ int, action glfw.Action, mods glfw.ModifierKey) {
	if action != glfw.Press {
		return
	}
	switch key {
	case glfw.KeyEscape:
		w.SetShouldClose(true)
	case glfw.KeyE:
		a.setCapture(!a.captured)
	case glfw.KeyV:
		a.vsync = !a.vsync
		a.applyVSync()
	case glfw.KeyF11:
		a.toggleFullscreen()
	case glfw.KeyR:
		n := a.pipeline.Scene.SetRandomMaterial(engine.KindSphere, randomCount(mods))
		a.logger.Info("randomized sphere materials", "count", n)
	case glfw.KeyT:
		n := a.pipeline.Scene.SetRandomMaterial(engine.KindCuboid, randomCount(mods))
		a.logger.Info("randomized cuboid materials", "count", n)
	case glfw.KeyB:
		a.showBounds = !a.showBounds
	}
}

// randomCount is one object, or all of them with shift held.
func randomCount(mods glfw.ModifierKey) int {
	if mods&glfw.ModShift != 0 {
		return engine.MaxSpheres + engine.MaxCuboids
	}
	return 1
}

func (a *app) onMouseButton(w *glfw.Window, button glfw.MouseButton, action glfw.Action, _ glfw.ModifierKey) {
	if a.captured || button != glfw.MouseButtonLeft || action != glfw.Press {
		return
	}
	x, y := w.GetCursorPos()
	// курсор в экранных координатах, кадр в пикселях буфера
	ww, wh := w.GetSize()
	fw, fh := w.GetFramebufferSize()
	if ww == 0 || wh == 0 {
		return
	}
	px := int(x * float64(fw) / float64(ww))
	py := int(y * float64(fh) / float64(wh))

	obj, ok := a.pipeline.Scene.Pick(a.pipeline.Frame.Snapshot(), px, py)
	if !ok {
		a.selected = nil
		return
	}
	a.selected = obj
	m := obj.Material()
	a.logger.Info("picked",
		"kind", obj.Kind(), "slot", obj.Slot(),
		"albedo", m.Albedo, "emission", m.Emission,
		"specular", m.SpecularChance, "refraction", m.RefractionChance, "ior", m.IOR)
}

func (a *app) setCapture(on bool) {
	a.captured = on
	a.haveCursor = false
	if on {
		a.window.SetInputMode(glfw.CursorMode, glfw.CursorDisabled)
	} else {
		a.window.SetInputMode(glfw.CursorMode, glfw.CursorNormal)
		a.pipeline.Camera.Stop()
	}
}

func (a *app) applyVSync() {
	if a.vsync {
		glfw.SwapInterval(1)
	} else {
		glfw.SwapInterval(0)
	}
}

func (a *app) toggleFullscreen() {
	if a.fullscreen {
		a.window.SetMonitor(nil, a.winX, a.winY, a.winW, a.winH, glfw.DontCare)
		a.fullscreen = false
		return
	}
	mon := glfw.GetPrimaryMonitor()
	if mon == nil {
		return
	}
	a.winX, a.winY = a.window.GetPos()
	a.winW, a.winH = a.window.GetSize()
	mode := mon.GetVideoMode()
	a.window.SetMonitor(mon, 0, 0, mode.Width, mode.Height, mode.RefreshRate)
	a.fullscreen = true
}

func (a *app) updateCamera(dt float32) {
	if !a.captured {
		return
	}
	cam := a.pipeline.Camera

	x, y := a.window.GetCursorPos()
	cur := mgl32.Vec2{float32(x), float32(y)}
	if a.haveCursor {
		d := cur.Sub(a.lastCursor)
		cam.Rotate(d[0], d[1])
	}
	a.lastCursor, a.haveCursor = cur, true

	var in engine.MoveInput
	pressed := func(k glfw.Key) bool { return a.window.GetKey(k) == glfw.Press }
	if pressed(glfw.KeyW) {
		in.Forward++
	}
	if pressed(glfw.KeyS) {
		in.Forward--
	}
	if pressed(glfw.KeyD) {
		in.Right++
	}
	if pressed(glfw.KeyA) {
		in.Right--
	}
	if pressed(glfw.KeySpace) {
		in.Up++
	}
	if pressed(glfw.KeyLeftShift) {
		in.Up--
	}
	cam.Move(in, dt)
}

// applyReloads picks up scene file edits. Material-only edits are applied
// in place; geometry edits rebuild the scene. A changed sky is rebaked.
func (a *app) applyReloads() {
	if a.watcher == nil {
		return
	}
	select {
	case desc := <-a.watcher.Changes():
		if !reflect.DeepEqual(a.desc.Sky, desc.Sky) {
			a.applySky(desc)
		}
		n, err := engine.ApplyMaterials(a.pipeline.Scene, desc)
		if err == nil {
			a.desc = desc
			a.logger.Info("materials reloaded", "changed", n)
			return
		}
		if !errors.Is(err, engine.ErrGeometryChanged) {
			a.logger.Warn("scene reload failed", "err", err)
			return
		}
		sc, err := engine.BuildScene(desc)
		if err != nil {
			a.logger.Warn("scene rebuild failed", "err", err)
			return
		}
		a.desc = desc
		a.selected = nil
		a.pipeline.SetScene(sc)
		a.logger.Info("scene rebuilt", "objects", sc.Len())
	case err := <-a.watcher.Errors():
		a.logger.Warn("scene watch", "err", err)
	default:
	}
}

func (a *app) applySky(desc *scene.Scene) {
	env, err := engine.EnvironmentFromSky(desc)
	if err != nil {
		a.logger.Warn("sky reload failed", "err", err)
		return
	}
	a.pipeline.Tracer.SetEnvironment(env)
	if a.tracer != nil {
		if err := a.tracer.SetEnvironment(env); err != nil {
			a.logger.Warn("sky upload failed", "err", err)
			return
		}
	}
	a.pipeline.Invalidate()
	a.logger.Info("sky reloaded")
}

func (a *app) overlay() []engine.AABB {
	var boxes []engine.AABB
	if a.showBounds {
		for _, o := range a.pipeline.Scene.Objects() {
			boxes = append(boxes, o.Bounds())
		}
	} else if a.selected != nil {
		boxes = append(boxes, a.selected.Bounds())
	}
	return boxes
}

func (a *app) updateTitle(now time.Time) {
	elapsed := now.Sub(a.statsStart)
	if elapsed < time.Second {
		return
	}
	fps := float64(a.frames) / elapsed.Seconds()
	a.window.SetTitle(formatTitle(a.opts.Config.Window.Title, fps, a.pipeline))
	a.frames = 0
	a.statsStart = now
}

func formatTitle(base string, fps float64, p *engine.Pipeline) string {
	pos := p.Camera.Position
	return fmt.Sprintf("%s | FPS: %.0f | RayDepth: %d | Samples: %d | Position (%.2f, %.2f, %.2f)",
		base, fps, p.Tracer.Options().RayDepth, p.SampleCount(), pos[0], pos[1], pos[2])
}
