package vncgate_test

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/coder/vncgate"
	"github.com/coder/vncgate/logging"
	"github.com/coder/vncgate/rfb"
)

func Example() {
	server := vncgate.New(vncgate.Config{
		Listener: ":8080",
		Target:   "localhost:5900",
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Serve blocks until the context is cancelled.
	if err := server.Serve(ctx); err != nil {
		log.Printf("Server error: %v", err)
	}
}

func Example_silent() {
	server := vncgate.New(vncgate.Config{
		Listener: ":8080",
		Target:   "localhost:5900",
		Logger:   vncgate.NoOpLogger{},
	})
	_ = server.Serve(context.Background())
}

func Example_structuredLogging() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	server := vncgate.New(vncgate.Config{
		Listener: ":8080",
		Target:   "localhost:5900",
		Framing:  rfb.FramingCBOR,
		Logger:   logging.NewSlog(logger),
	})
	if err := server.Serve(context.Background()); err != nil {
		logger.Error("Server failed", "error", err)
	}
}

func ExampleServer_ServeHTTP() {
	gw := vncgate.New(vncgate.Config{
		Target:              "localhost:5900",
		AllowTargetOverride: true,
		AllowedOrigins:      []string{"https://desk.example.com"},
	})
	defer gw.Close()

	mux := http.NewServeMux()
	mux.Handle("/vnc", gw)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	log.Fatal(http.ListenAndServe(":8080", mux))
}
