package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli"

	"github.com/user/gltracer/internal/config"
	"github.com/user/gltracer/internal/engine"
	"github.com/user/gltracer/internal/logging"
	"github.com/user/gltracer/internal/scene"
	"github.com/user/gltracer/internal/ui"
)

func main() {
	app := cli.NewApp()
	app.Name = "gltracer"
	app.Usage = "interactive progressive path tracer"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.BoolFlag{Name: "v", Usage: "enable verbose logging"},
		cli.BoolFlag{Name: "vv", Usage: "enable even more verbose logging"},
		cli.BoolFlag{Name: "q", Usage: "only log errors"},
		cli.StringFlag{Name: "config, c", Usage: "TOML config file (default " + config.DefaultPath + ")"},
	}
	app.Before = func(ctx *cli.Context) error {
		logging.Setup(os.Stderr, logging.LevelFromFlags(ctx.GlobalBool("vv"), ctx.GlobalBool("v"), ctx.GlobalBool("q")))
		return nil
	}
	app.Commands = []cli.Command{
		{
			Name:      "interactive",
			Aliases:   []string{"i"},
			Usage:     "open a window and accumulate while you fly around",
			ArgsUsage: "[scene file]",
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "watch, w", Usage: "reload the scene file when it changes"},
			},
			Action: runInteractive,
		},
		{
			Name:  "frame",
			Usage: "render headless and save a PNG",
			Description: `
Accumulate up to --frames frames of the scene without opening a window and
write the tonemapped result. With --threshold the run stops early once the
mean per-channel change between frames drops below it.`,
			ArgsUsage: "[scene file]",
			Flags: []cli.Flag{
				cli.IntFlag{Name: "width", Value: 640, Usage: "frame width"},
				cli.IntFlag{Name: "height", Value: 360, Usage: "frame height"},
				cli.IntFlag{Name: "frames, n", Value: 64, Usage: "frames to accumulate"},
				cli.Float64Flag{Name: "threshold", Usage: "stop when the mean change per frame is below this"},
				cli.Float64Flag{Name: "exposure", Value: 1.0, Usage: "camera exposure for tone-mapping"},
				cli.StringFlag{Name: "out, o", Value: "frame.png", Usage: "image filename for the rendered frame"},
			},
			Action: runFrame,
		},
		{
			Name:   "config",
			Usage:  "print the effective configuration as TOML",
			Action: printConfig,
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("gltracer failed", "err", err)
		os.Exit(1)
	}
}

func loadConfig(ctx *cli.Context) (config.Config, error) {
	cfg, err := config.Load(ctx.GlobalString("config"))
	if err != nil {
		return cfg, err
	}
	// переменные окружения перекрывают файл
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func scenePath(ctx *cli.Context, cfg config.Config) string {
	if p := ctx.Args().First(); p != "" {
		return p
	}
	return cfg.Scene
}

func runInteractive(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if kind, _ := engine.ParseBackend(cfg.Render.Backend); kind != engine.BackendGL {
		return fmt.Errorf("interactive mode needs the gl backend, config has %q", cfg.Render.Backend)
	}
	return ui.Run(ui.Options{
		Config:    cfg,
		ScenePath: scenePath(ctx, cfg),
		Watch:     ctx.Bool("watch"),
		Logger:    slog.Default(),
	})
}

func runFrame(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	path := scenePath(ctx, cfg)
	desc, err := scene.Load(path)
	if err != nil {
		return err
	}
	sc, err := engine.BuildScene(desc)
	if err != nil {
		return err
	}
	env, err := engine.EnvironmentFromSky(desc)
	if err != nil {
		return fmt.Errorf("environment: %w", err)
	}

	opts := cfg.PipelineOptions()
	// линза из сцены важнее конфига
	opts.Tracer = engine.TracerOptionsFor(desc, opts.Tracer)
	opts.Post.Exposure = float32(ctx.Float64("exposure"))

	p := engine.NewPipeline(sc, engine.CameraFromScene(desc), env, opts, &engine.HostBackend{}, slog.Default())
	if !p.Resize(ctx.Int("width"), ctx.Int("height")) {
		return fmt.Errorf("invalid frame size %dx%d", ctx.Int("width"), ctx.Int("height"))
	}

	start := time.Now()
	res, err := engine.Accumulate(p, ctx.Int("frames"), float32(ctx.Float64("threshold")), func(frame int, delta float32) {
		slog.Debug("frame", "n", frame+1, "delta", delta)
	})
	if err != nil {
		return err
	}
	if res.Image == nil {
		return fmt.Errorf("no frames rendered")
	}
	slog.Info("render finished",
		"scene", path,
		"frames", res.Frames,
		"delta", res.Delta,
		"converged", res.Converged,
		"elapsed", time.Since(start).Round(time.Millisecond))

	return engine.SavePNG(ctx.String("out"), res.Image)
}

func printConfig(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	return cfg.Write(os.Stdout)
}
