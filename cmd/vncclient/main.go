package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/coder/vncgate/internal/config"
	"github.com/coder/vncgate/logging"
	"github.com/coder/vncgate/rfb"
	"github.com/coder/vncgate/session"
	"github.com/coder/vncgate/transport"
	"github.com/coder/vncgate/version"
	"github.com/coder/vncgate/viewer"
)

type clientConfig struct {
	duration  time.Duration
	capture   bool
	output    string
	maxFrames int
	typeText  string
	gui       bool
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var opts config.LoadOptions
	var cc clientConfig
	flagSet := pflag.NewFlagSet("vncclient", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.File, "config", "c", "", "YAML config file (default $VNCGATE_CONFIG)")
	flagSet.StringVar(&opts.URL, "url", "", "gateway WebSocket URL (default ws://localhost:8080/websockify)")
	flagSet.StringVar(&opts.Framing, "framing", "", "framing the gateway uses: json, cbor or raw")
	flagSet.DurationVar(&opts.HandshakeTimeout, "handshake-timeout", 0, "how long to wait for ServerInit (default 10s)")
	flagSet.StringVar(&opts.LogLevel, "log-level", "", "debug, info, warn or error")
	pixelFormat := flagSet.String("pixel-format", "", "native, default or packed24")
	flagSet.DurationVar(&cc.duration, "duration", 10*time.Second, "how long to stay connected (0 runs until interrupted)")
	flagSet.BoolVar(&cc.capture, "capture", false, "save every applied update as a PNG file")
	flagSet.StringVar(&cc.output, "output", "./test_output", "output directory for captured frames")
	flagSet.IntVar(&cc.maxFrames, "max-frames", 0, "stop capturing after this many frames (0 is unlimited)")
	flagSet.StringVar(&cc.typeText, "type", "", "type this ASCII text once the first frame arrives")
	flagSet.BoolVar(&cc.gui, "gui", false, "show the framebuffer in a window (requires the gui build tag)")
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
		fmt.Printf("vncclient %s\n", version.Full())
		return nil
	}

	cfg, err := config.Load(opts)
	if err != nil {
		return err
	}
	if flagSet.Changed("pixel-format") {
		cfg.Client.PixelFormat = *pixelFormat
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	logger := cfg.NewLogger(os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if !cc.gui {
		return runClient(ctx, cfg, cc, logger, nil)
	}
	var runErr error
	viewer.Run("VNC Client - "+cfg.Client.URL, 800, 600, logger, func(v *viewer.Viewer) {
		runErr = runClient(ctx, cfg, cc, logger, v)
	})
	return runErr
}

func runClient(ctx context.Context, cfg *config.Config, cc clientConfig, logger logging.Logger, v *viewer.Viewer) error {
	preferred, err := config.ParsePixelFormat(cfg.Client.PixelFormat)
	if err != nil {
		return err
	}

	var rec *recorder
	if cc.capture {
		if rec, err = newRecorder(cc.output, cc.maxFrames, logger); err != nil {
			return err
		}
	}

	firstFrame := make(chan struct{})
	var seenFrame bool
	handlers := session.Handlers{session.HandlerFuncs{
		ServerInit: func(init rfb.ServerInit) {
			pf := init.PixelFormat
			logger.Printf("Server: %s, %dx%d, %d bpp, depth %d", init.Name, init.Width, init.Height, pf.BitsPerPixel, pf.Depth)
		},
		FramebufferApplied: func(dirty image.Rectangle) {
			logging.Debugf(logger, "Framebuffer update: %v", dirty)
			if rec != nil {
				if err := rec.save(); err != nil {
					logger.Printf("Failed to save frame: %v", err)
				}
			}
			if !seenFrame {
				seenFrame = true
				close(firstFrame)
			}
		},
		Bell:    func() { logger.Println("Received Bell") },
		CutText: func(text string) { logger.Printf("Server cut text: %s", text) },
	}}
	if v != nil {
		handlers = append(handlers, v)
	}

	dialer := transport.WebSocketDialer{
		URL: cfg.Client.URL,
		Header: http.Header{
			"Origin":     {cfg.Client.Origin},
			"User-Agent": {version.UserAgent("vncclient")},
		},
	}
	sess, err := session.New(dialer, handlers, session.Config{
		HandshakeTimeout: cfg.Client.HandshakeTimeout,
		Framing:          cfg.ClientFraming(),
		PixelFormat:      preferred,
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	if rec != nil {
		rec.snapshot = sess.Snapshot
	}
	if v != nil {
		v.Attach(sess)
	}

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		var timeout <-chan time.Time
		if cc.duration > 0 {
			timer := time.NewTimer(cc.duration)
			defer timer.Stop()
			timeout = timer.C
		}
		first := (<-chan struct{})(firstFrame)
		var done <-chan struct{}
		if v != nil {
			done = v.Done()
		}
		for {
			select {
			case <-first:
				first = nil
				if cc.typeText != "" {
					if err := typeText(sess, cc.typeText); err != nil {
						logger.Printf("Failed to type text: %v", err)
					}
				}
				continue
			case <-timeout:
			case <-done:
			case <-ctx.Done():
			case <-stopped:
				return
			}
			sess.Disconnect()
			return
		}
	}()

	logger.Printf("Connecting to %s (%s framing)", cfg.Client.URL, cfg.Client.Framing)
	err = sess.Run(ctx)
	if rec != nil {
		logger.Printf("Client finished. Captured %d frames.", rec.Frames())
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// typeText sends a press and release for each character. Printable ASCII
// keysyms equal their character codes.
func typeText(sess *session.Session, text string) error {
	for _, r := range text {
		ks := uint32(r)
		if r == '\n' {
			ks = rfb.KeysymReturn
		} else if r < 0x20 || r > 0x7e {
			return fmt.Errorf("cannot type %q", r)
		}
		if err := sess.Keysym(ks, true); err != nil {
			return err
		}
		if err := sess.Keysym(ks, false); err != nil {
			return err
		}
	}
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `vncclient - VNC client for testing vncgate

Connects to a vncgate WebSocket endpoint and mirrors the remote screen,
requesting an incremental update after each one it applies.

Usage:
  vncclient [flags]

Examples:
  vncclient --url ws://localhost:8080/websockify
  vncclient --capture --output ./frames --max-frames 20
  vncclient --framing cbor --pixel-format packed24 --duration 0 --gui
  vncclient --type "hello"

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
