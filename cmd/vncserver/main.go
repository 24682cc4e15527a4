package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/coder/vncgate/internal/config"
	"github.com/coder/vncgate/internal/rfbtest"
	"github.com/coder/vncgate/logging"
	"github.com/coder/vncgate/version"
	"github.com/coder/vncgate/viewer"
)

type serverConfig struct {
	listen    string
	width     int
	height    int
	name      string
	animation string
	fps       int
	bellEvery time.Duration
	gui       bool
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var cfg serverConfig
	var logLevel string
	flagSet := pflag.NewFlagSet("vncserver", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.listen, "listen", ":5900", "host:port to listen on")
	flagSet.IntVar(&cfg.width, "width", 800, "framebuffer width")
	flagSet.IntVar(&cfg.height, "height", 600, "framebuffer height")
	flagSet.StringVar(&cfg.name, "name", "vncserver", "desktop name sent in ServerInit")
	flagSet.StringVar(&cfg.animation, "animation", "wheel", "animation: "+strings.Join(rfbtest.AnimationNames(), ", "))
	flagSet.IntVar(&cfg.fps, "fps", 30, "maximum frame rate for incremental updates")
	flagSet.DurationVar(&cfg.bellEvery, "bell-every", 0, "ring the bell on every client at this interval (0 disables)")
	flagSet.BoolVar(&cfg.gui, "gui", false, "show the server framebuffer in a window (requires the gui build tag)")
	flagSet.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	showVersion := flagSet.Bool("version", false, "show version information")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if *showVersion {
		fmt.Printf("vncserver %s\n", version.Full())
		return nil
	}
	if cfg.fps <= 0 {
		return fmt.Errorf("--fps must be positive, got %d", cfg.fps)
	}

	loaded, err := config.Load(config.LoadOptions{LogLevel: logLevel})
	if err != nil {
		return err
	}
	logger := loaded.NewLogger(os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if !cfg.gui {
		return serve(ctx, cfg, logger, nil)
	}

	// The window owns the main goroutine; closing it stops the server.
	var serveErr error
	title := fmt.Sprintf("VNC Server - %s:%s", cfg.animation, cfg.listen)
	viewer.Run(title, cfg.width, cfg.height, logger, func(v *viewer.Viewer) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-v.Done():
				cancel()
			case <-ctx.Done():
			}
		}()
		serveErr = serve(ctx, cfg, logger, v)
	})
	return serveErr
}

func serve(ctx context.Context, cfg serverConfig, logger logging.Logger, v *viewer.Viewer) error {
	opts := rfbtest.Options{
		Width:         cfg.width,
		Height:        cfg.height,
		Name:          cfg.name,
		Animation:     cfg.animation,
		FrameInterval: time.Second / time.Duration(cfg.fps),
		Logger:        logger,
	}
	if v != nil {
		opts.OnFrame = func(frame int, img *image.RGBA) { v.Show(img) }
	}

	server, err := rfbtest.NewServer(opts)
	if err != nil {
		return err
	}
	if err := server.Listen(cfg.listen); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.listen, err)
	}
	logger.Printf("Mock VNC server listening on %s (%dx%d, %s)", server.Addr(), cfg.width, cfg.height, cfg.animation)

	stop := context.AfterFunc(ctx, func() {
		logger.Println("Shutting down VNC server...")
		server.Close()
	})
	defer stop()

	if cfg.bellEvery > 0 {
		go ringBell(ctx, server, cfg.bellEvery, logger)
	}

	if err := server.Serve(); err != nil {
		return err
	}
	return server.Close()
}

func ringBell(ctx context.Context, server *rfbtest.Server, every time.Duration, logger logging.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := server.Bell(); err != nil {
				logger.Printf("bell: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `vncserver - mock RFB 3.8 server for testing vncgate

Answers every update request with the next frame of a generated animation,
encoded in the pixel format the client asked for.

Usage:
  vncserver [flags]

Examples:
  vncserver --listen :5900 --animation plasma
  vncserver --width 320 --height 240 --fps 5 --bell-every 10s

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
