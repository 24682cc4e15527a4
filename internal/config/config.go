// Package config loads the settings shared by the vncgate commands.
//
// Values are layered: built-in defaults, then the YAML file named by
// LoadOptions.File or VNCGATE_CONFIG, then VNCGATE_* environment variables,
// then command-line overrides. The result is validated before it is
// returned.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coder/vncgate/logging"
	"github.com/coder/vncgate/rfb"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "VNCGATE_"

// Config holds the configuration of all commands. Each command reads the
// sections it needs.
type Config struct {
	Gateway GatewayConfig `yaml:"gateway"`
	Client  ClientConfig  `yaml:"client"`
	Logging LoggingConfig `yaml:"logging"`
}

// GatewayConfig configures cmd/vncgate.
type GatewayConfig struct {
	Listen  string `yaml:"listen"`
	Target  string `yaml:"target"`
	WebRoot string `yaml:"web_root"`
	Path    string `yaml:"path"`
	// Framing is json, cbor or raw.
	Framing             string        `yaml:"framing"`
	HandshakeTimeout    time.Duration `yaml:"handshake_timeout"`
	AllowTargetOverride bool          `yaml:"allow_target_override"`
	AllowedOrigins      []string      `yaml:"allowed_origins"`
}

// ClientConfig configures cmd/vncclient.
type ClientConfig struct {
	URL    string `yaml:"url"`
	Origin string `yaml:"origin"`
	// Framing must match the gateway's.
	Framing          string        `yaml:"framing"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	// PixelFormat is native, default (32 bpp) or packed24.
	PixelFormat string `yaml:"pixel_format"`
}

// LoggingConfig selects the logger built by NewLogger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadOptions holds command-line overrides. Zero fields are ignored.
type LoadOptions struct {
	File             string
	Listen           string
	Target           string
	WebRoot          string
	URL              string
	Framing          string
	HandshakeTimeout time.Duration
	LogLevel         string
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Listen:           ":8080",
			Target:           "localhost:5900",
			Path:             "/websockify",
			Framing:          "json",
			HandshakeTimeout: 10 * time.Second,
		},
		Client: ClientConfig{
			URL:              "ws://localhost:8080/websockify",
			Origin:           "http://localhost",
			Framing:          "json",
			HandshakeTimeout: 10 * time.Second,
			PixelFormat:      "native",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration from all sources and validates it.
func Load(opts LoadOptions) (*Config, error) {
	config := Default()

	file := opts.File
	if file == "" {
		file = os.Getenv(EnvPrefix + "CONFIG")
	}
	if file != "" {
		if err := config.loadFile(file); err != nil {
			return nil, err
		}
	}

	if err := config.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	config.applyOverrides(opts)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if err := Parse(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// Parse decodes YAML into c, keeping the values of keys the document does
// not mention. Unknown keys are an error.
func Parse(data []byte, c *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// envReader collects parse errors so that every bad variable is reported.
type envReader struct {
	getenv func(string) string
	errs   []error
}

func (e *envReader) lookup(key string) (string, bool) {
	v := e.getenv(EnvPrefix + key)
	return v, v != ""
}

func (e *envReader) string(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) bool(key string, dst *bool) {
	if v, ok := e.lookup(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
			return
		}
		*dst = d
	}
}

func (e *envReader) list(key string, dst *[]string) {
	if v, ok := e.lookup(key); ok {
		*dst = splitList(v)
	}
}

func (c *Config) applyEnv(getenv func(string) string) error {
	env := &envReader{getenv: getenv}

	env.string("LISTEN", &c.Gateway.Listen)
	env.string("TARGET", &c.Gateway.Target)
	env.string("WEB_ROOT", &c.Gateway.WebRoot)
	env.string("WS_PATH", &c.Gateway.Path)
	env.string("FRAMING", &c.Gateway.Framing)
	env.duration("HANDSHAKE_TIMEOUT", &c.Gateway.HandshakeTimeout)
	env.bool("ALLOW_TARGET_OVERRIDE", &c.Gateway.AllowTargetOverride)
	env.list("ALLOWED_ORIGINS", &c.Gateway.AllowedOrigins)

	env.string("URL", &c.Client.URL)
	env.string("ORIGIN", &c.Client.Origin)
	env.string("CLIENT_FRAMING", &c.Client.Framing)
	env.duration("CLIENT_HANDSHAKE_TIMEOUT", &c.Client.HandshakeTimeout)
	env.string("PIXEL_FORMAT", &c.Client.PixelFormat)

	env.string("LOG_LEVEL", &c.Logging.Level)
	env.string("LOG_FORMAT", &c.Logging.Format)

	return errors.Join(env.errs...)
}

func (c *Config) applyOverrides(opts LoadOptions) {
	override(&c.Gateway.Listen, opts.Listen)
	override(&c.Gateway.Target, opts.Target)
	override(&c.Gateway.WebRoot, opts.WebRoot)
	override(&c.Client.URL, opts.URL)
	override(&c.Gateway.Framing, opts.Framing)
	override(&c.Client.Framing, opts.Framing)
	override(&c.Logging.Level, opts.LogLevel)
	if opts.HandshakeTimeout > 0 {
		c.Gateway.HandshakeTimeout = opts.HandshakeTimeout
		c.Client.HandshakeTimeout = opts.HandshakeTimeout
	}
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func splitList(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// Validate checks every section.
func (c *Config) Validate() error {
	if c.Gateway.Listen == "" {
		return errors.New("gateway listen address cannot be empty")
	}
	if !strings.HasPrefix(c.Gateway.Path, "/") {
		return fmt.Errorf("gateway path must start with /: %q", c.Gateway.Path)
	}
	if _, err := rfb.ParseFraming(c.Gateway.Framing); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	if c.Gateway.HandshakeTimeout <= 0 {
		return errors.New("gateway handshake timeout must be positive")
	}

	u, err := url.Parse(c.Client.URL)
	if err != nil {
		return fmt.Errorf("client url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("client url must be ws:// or wss://: %q", c.Client.URL)
	}
	if _, err := rfb.ParseFraming(c.Client.Framing); err != nil {
		return fmt.Errorf("client: %w", err)
	}
	if c.Client.HandshakeTimeout <= 0 {
		return errors.New("client handshake timeout must be positive")
	}
	if _, err := ParsePixelFormat(c.Client.PixelFormat); err != nil {
		return err
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}
	return nil
}

// GatewayFraming is the parsed gateway framing.
func (c *Config) GatewayFraming() rfb.Framing {
	f, _ := rfb.ParseFraming(c.Gateway.Framing)
	return f
}

// ClientFraming is the parsed client framing.
func (c *Config) ClientFraming() rfb.Framing {
	f, _ := rfb.ParseFraming(c.Client.Framing)
	return f
}

// ParsePixelFormat maps a pixel format name to the format a client should
// request. "native" and "" keep the server's format and yield nil.
func ParsePixelFormat(name string) (*rfb.PixelFormat, error) {
	var pf rfb.PixelFormat
	switch strings.ToLower(name) {
	case "", "native":
		return nil, nil
	case "default", "rgb888":
		pf = rfb.DefaultPixelFormat()
	case "packed24":
		pf = rfb.Packed24PixelFormat()
	default:
		return nil, fmt.Errorf("unknown pixel format %q (want native, default or packed24)", name)
	}
	return &pf, nil
}

// NewLogger builds the configured logger writing to w.
func (c *Config) NewLogger(w io.Writer) logging.Logger {
	level, _ := logging.ParseLevel(c.Logging.Level)
	if c.Logging.Format == "json" {
		return logging.NewSlog(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slogLevel(level)})))
	}
	return logging.NewLeveled(w, level)
}

func slogLevel(l logging.Level) slog.Level {
	switch l {
	case logging.LevelDebug:
		return slog.LevelDebug
	case logging.LevelWarn:
		return slog.LevelWarn
	case logging.LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
