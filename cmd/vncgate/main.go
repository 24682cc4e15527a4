package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/coder/vncgate"
	"github.com/coder/vncgate/internal/config"
	"github.com/coder/vncgate/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var opts config.LoadOptions
	flagSet := pflag.NewFlagSet("vncgate", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.File, "config", "c", "", "YAML config file (default $VNCGATE_CONFIG)")
	flagSet.StringVar(&opts.Listen, "listen", "", "host:port to listen on (default :8080)")
	flagSet.StringVar(&opts.Target, "target", "", "VNC server host:port (default localhost:5900)")
	flagSet.StringVar(&opts.WebRoot, "web-root", "", "path to web files (leave empty for no static files)")
	flagSet.StringVar(&opts.Framing, "framing", "", "browser framing: json, cbor or raw (default json)")
	flagSet.DurationVar(&opts.HandshakeTimeout, "handshake-timeout", 0, "bound on dialing and the RFB handshake (default 10s)")
	flagSet.StringVar(&opts.LogLevel, "log-level", "", "debug, info, warn or error")
	allowOverride := flagSet.Bool("allow-target-override", false, "let clients choose the VNC server with ?target= or ?host=&port=")
	origins := flagSet.StringSlice("allowed-origin", nil, "accepted Origin header (repeatable; default any)")
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
		fmt.Printf("vncgate %s\n", version.Full())
		return nil
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}

	cfg, err := config.Load(opts)
	if err != nil {
		return err
	}
	if flagSet.Changed("allow-target-override") {
		cfg.Gateway.AllowTargetOverride = *allowOverride
	}
	if flagSet.Changed("allowed-origin") {
		cfg.Gateway.AllowedOrigins = *origins
	}

	logger := cfg.NewLogger(os.Stderr)
	server := vncgate.New(vncgate.Config{
		Listener:            cfg.Gateway.Listen,
		Target:              cfg.Gateway.Target,
		WebRoot:             cfg.Gateway.WebRoot,
		Path:                cfg.Gateway.Path,
		Framing:             cfg.GatewayFraming(),
		HandshakeTimeout:    cfg.Gateway.HandshakeTimeout,
		AllowTargetOverride: cfg.Gateway.AllowTargetOverride,
		AllowedOrigins:      cfg.Gateway.AllowedOrigins,
		Logger:              logger,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Printf("Starting vncgate %s", version.Version())
	logger.Printf("Listening on: %s", cfg.Gateway.Listen)
	logger.Printf("Proxying to: %s", cfg.Gateway.Target)
	if cfg.Gateway.WebRoot != "" {
		logger.Printf("Web root: %s", cfg.Gateway.WebRoot)
	}

	if err := server.Serve(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Println("Server stopped")
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `vncgate - WebSocket gateway for VNC servers

Browsers connect over WebSocket; vncgate performs the RFB handshake with
the VNC server and relays the session as JSON or CBOR envelopes, or as the
raw RFB stream.

Usage:
  vncgate [flags]

Examples:
  vncgate --listen :8080 --target localhost:5900 --web-root ./web
  vncgate --framing cbor --allowed-origin https://desk.example.com
  VNCGATE_TARGET=vnc.internal:5901 vncgate -c /etc/vncgate.yaml

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
