// Package config loads renderer settings from TOML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"

	"github.com/user/gltracer/internal/engine"
)

// DefaultPath is read when no config file is given. Missing is fine.
const DefaultPath = "~/.config/gltracer/config.toml"

// Config is the full set of user settings.
type Config struct {
	Scene  string       `toml:"scene"`
	Window WindowConfig `toml:"window"`
	Render RenderConfig `toml:"render"`
	Post   PostConfig   `toml:"post"`
	Camera CameraConfig `toml:"camera"`
}

type WindowConfig struct {
	Width      int    `toml:"width"`
	Height     int    `toml:"height"`
	Title      string `toml:"title"`
	VSync      bool   `toml:"vsync"`
	Fullscreen bool   `toml:"fullscreen"`
}

type RenderConfig struct {
	// Backend is "gl" for the window or "host" for headless runs.
	Backend string `toml:"backend"`
	// GPUTrace traces the interactive view in a shader on the gl backend
	// instead of on the CPU. Smoothing is a CPU pass and is skipped then.
	GPUTrace        bool    `toml:"gpu_trace"`
	RayDepth        int     `toml:"ray_depth"`
	SamplesPerFrame int     `toml:"samples_per_frame"`
	FOV             float32 `toml:"fov"`
	Near            float32 `toml:"near"`
	Far             float32 `toml:"far"`
	FocalLength     float32 `toml:"focal_length"`
	Aperture        float32 `toml:"aperture"`
	// Workers bounds the row fan-out, 0 = all CPUs.
	Workers int    `toml:"workers"`
	Seed    uint64 `toml:"seed"`
}

type PostConfig struct {
	Exposure       float32 `toml:"exposure"`
	Gamma          float32 `toml:"gamma"`
	Smooth         bool    `toml:"smooth"`
	SmoothRadius   int     `toml:"smooth_radius"`
	SmoothStrength float64 `toml:"smooth_strength"`
}

type CameraConfig struct {
	Speed       float32 `toml:"speed"`
	Sensitivity float32 `toml:"sensitivity"`
}

// Default returns the built-in settings.
func Default() Config {
	tr := engine.DefaultTracerOptions()
	post := engine.DefaultPostProcessOptions()
	return Config{
		Scene: "scenes/room.json",
		Window: WindowConfig{
			Width:  1280,
			Height: 720,
			Title:  "gltracer",
			VSync:  true,
		},
		Render: RenderConfig{
			Backend:         engine.BackendGL.String(),
			GPUTrace:        true,
			RayDepth:        tr.RayDepth,
			SamplesPerFrame: tr.SamplesPerFrame,
			FOV:             engine.DefaultFOV,
			Near:            engine.DefaultNear,
			Far:             engine.DefaultFar,
			FocalLength:     tr.FocalLength,
			Aperture:        tr.Aperture,
		},
		Post: PostConfig{
			Exposure:       post.Exposure,
			Gamma:          post.Gamma,
			Smooth:         post.Smooth.Enabled,
			SmoothRadius:   post.Smooth.Radius,
			SmoothStrength: post.Smooth.Strength,
		},
		Camera: CameraConfig{
			Speed:       12,
			Sensitivity: 0.1,
		},
	}
}

// Load reads path over the defaults. An empty path means DefaultPath, and
// a missing default file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	full, err := homedir.Expand(path)
	if err != nil {
		return cfg, fmt.Errorf("expand config path: %w", err)
	}

	f, err := os.Open(full)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	if err := Decode(f, &cfg); err != nil {
		return cfg, fmt.Errorf("config %s: %w", full, err)
	}
	return cfg, nil
}

// Decode reads TOML from r into cfg. Unknown keys are errors.
func Decode(r io.Reader, cfg *Config) error {
	if err := toml.NewDecoder(r).DisallowUnknownFields().Decode(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// Write encodes cfg as TOML.
func (c Config) Write(w io.Writer) error {
	enc := toml.NewEncoder(w)
	enc.SetIndentTables(true)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

// Environment variables recognized by ApplyEnv.
const (
	EnvWorkers        = "PATHTRACER_WORKERS"
	EnvSmooth         = "PATHTRACER_SMOOTH"
	EnvSmoothRadius   = "PATHTRACER_SMOOTH_RADIUS"
	EnvSmoothStrength = "PATHTRACER_SMOOTH_STRENGTH"
	EnvGPUTrace       = "PATHTRACER_GPU_TRACE"
)

// maxWorkers caps PATHTRACER_WORKERS.
const maxWorkers = 128

// ApplyEnv overrides settings from the environment. lookup is usually
// os.LookupEnv. Malformed values are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvWorkers); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 && n <= maxWorkers {
			c.Render.Workers = n
		}
	}
	if v, ok := lookup(EnvSmooth); ok {
		if on, ok := parseSwitch(v); ok {
			c.Post.Smooth = on
		}
	}
	if v, ok := lookup(EnvGPUTrace); ok {
		if on, ok := parseSwitch(v); ok {
			c.Render.GPUTrace = on
		}
	}
	if v, ok := lookup(EnvSmoothRadius); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 1 && n <= 5 {
			c.Post.SmoothRadius = n
		}
	}
	if v, ok := lookup(EnvSmoothStrength); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && f >= 0 && f <= 1 {
			c.Post.SmoothStrength = f
		}
	}
}

func parseSwitch(v string) (on, ok bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "0", "false", "off":
		return false, true
	case "1", "true", "on":
		return true, true
	}
	return false, false
}

var ErrInvalid = errors.New("invalid config")

// Validate rejects settings the renderer cannot use.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format+": %w", append(args, ErrInvalid)...))
		}
	}
	check(c.Window.Width > 0 && c.Window.Height > 0, "window size %dx%d", c.Window.Width, c.Window.Height)
	check(c.Render.RayDepth >= 1, "ray_depth %d", c.Render.RayDepth)
	check(c.Render.SamplesPerFrame >= 1, "samples_per_frame %d", c.Render.SamplesPerFrame)
	check(c.Render.FOV > 0 && c.Render.FOV < 180, "fov %g", c.Render.FOV)
	check(c.Render.Near > 0 && c.Render.Far > c.Render.Near, "near/far %g/%g", c.Render.Near, c.Render.Far)
	check(c.Render.Aperture >= 0, "aperture %g", c.Render.Aperture)
	check(c.Render.Workers >= 0, "workers %d", c.Render.Workers)
	check(c.Post.Exposure > 0, "exposure %g", c.Post.Exposure)
	check(c.Post.Gamma > 0, "gamma %g", c.Post.Gamma)
	check(c.Post.SmoothStrength >= 0 && c.Post.SmoothStrength <= 1, "smooth_strength %g", c.Post.SmoothStrength)
	if _, err := engine.ParseBackend(c.Render.Backend); err != nil {
		errs = append(errs, fmt.Errorf("%v: %w", err, ErrInvalid))
	}
	return errors.Join(errs...)
}

// TracerOptions converts the render section.
func (c Config) TracerOptions() engine.TracerOptions {
	return engine.TracerOptions{
		RayDepth:        c.Render.RayDepth,
		SamplesPerFrame: c.Render.SamplesPerFrame,
		FocalLength:     c.Render.FocalLength,
		Aperture:        c.Render.Aperture,
		Workers:         c.Render.Workers,
		Seed:            c.Render.Seed,
	}
}

// PipelineOptions converts the render and post sections.
func (c Config) PipelineOptions() engine.PipelineOptions {
	return engine.PipelineOptions{
		FOV:    c.Render.FOV,
		Near:   c.Render.Near,
		Far:    c.Render.Far,
		Tracer: c.TracerOptions(),
		Post: engine.PostProcessOptions{
			Exposure: c.Post.Exposure,
			Gamma:    c.Post.Gamma,
			Smooth: engine.SmoothOptions{
				Enabled:  c.Post.Smooth,
				Radius:   c.Post.SmoothRadius,
				Strength: c.Post.SmoothStrength,
			},
		},
	}
}
