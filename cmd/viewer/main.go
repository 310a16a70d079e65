// Command viewer opens a window and animates a compute-shader gradient in it
// until the window is closed.
package main

//go:generate glslc ../../shaders/gradient.comp -o ../../shaders/gradient.comp.spv

import (
	"context"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"
	"github.com/vkngwrapper/frameloop/config"
	"github.com/vkngwrapper/frameloop/engine"
	"github.com/vkngwrapper/frameloop/gpu"
	"github.com/vkngwrapper/frameloop/gpu/vk"
	"github.com/vkngwrapper/frameloop/window"
	"golang.org/x/exp/slog"
)

func run(ctx context.Context, args []string) error {
	cfg, err := config.FromArgs(args)
	if err != nil {
		return err
	}

	level, err := cfg.Level()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	win, err := window.OpenSDL(cfg.Title, cfg.Width, cfg.Height)
	if err != nil {
		return err
	}
	defer win.Close()

	apiVersion, err := cfg.APIVersion()
	if err != nil {
		return err
	}

	instance, err := vk.NewInstance(win.Window(), vk.InstanceOptions{
		AppName:     cfg.Title,
		APIVersion:  apiVersion,
		Validation:  cfg.Validation,
		Diagnostics: gpu.LogDiagnostics(logger.With("component", "vulkan")),
	}, logger)
	if err != nil {
		return errors.Wrap(err, "create vulkan instance")
	}

	// The engine owns the instance from here on, including on error.
	e, err := engine.New(cfg, win, instance, engine.WithLogger(logger))
	if err != nil {
		return err
	}

	return e.Run(ctx)
}

func main() {
	// SDL and the Vulkan surface must stay on the main thread.
	runtime.LockOSThread()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		stop()
		log.Fatalf("%+v\n", err)
	}
}
