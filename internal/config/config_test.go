package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coder/vncgate/logging"
	"github.com/coder/vncgate/rfb"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vncgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("VNCGATE_CONFIG", "")

	config, err := Load(LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, Default(), config)
	assert.Equal(t, rfb.FramingJSON, config.GatewayFraming())
	assert.Equal(t, 10*time.Second, config.Client.HandshakeTimeout)
}

func TestLoadLayers(t *testing.T) {
	path := writeConfig(t, `
gateway:
  listen: ":9000"
  target: vnc.internal:5901
  framing: cbor
  handshake_timeout: 3s
  allowed_origins: [https://a.example]
client:
  pixel_format: packed24
logging:
  level: debug
`)

	tests := []struct {
		name string
		env  map[string]string
		opts LoadOptions
		want func(*Config)
	}{
		{
			name: "file",
			opts: LoadOptions{File: path},
			want: func(c *Config) {
				c.Gateway.Listen = ":9000"
				c.Gateway.Target = "vnc.internal:5901"
				c.Gateway.Framing = "cbor"
				c.Gateway.HandshakeTimeout = 3 * time.Second
				c.Gateway.AllowedOrigins = []string{"https://a.example"}
				c.Client.PixelFormat = "packed24"
				c.Logging.Level = "debug"
			},
		},
		{
			name: "environment over file",
			env: map[string]string{
				"VNCGATE_CONFIG":                "",
				"VNCGATE_TARGET":                "other:5900",
				"VNCGATE_ALLOW_TARGET_OVERRIDE": "true",
				"VNCGATE_ALLOWED_ORIGINS":       "https://b.example, https://c.example,",
				"VNCGATE_CLIENT_FRAMING":        "raw",
			},
			opts: LoadOptions{File: path},
			want: func(c *Config) {
				c.Gateway.Listen = ":9000"
				c.Gateway.Target = "other:5900"
				c.Gateway.Framing = "cbor"
				c.Gateway.HandshakeTimeout = 3 * time.Second
				c.Gateway.AllowTargetOverride = true
				c.Gateway.AllowedOrigins = []string{"https://b.example", "https://c.example"}
				c.Client.Framing = "raw"
				c.Client.PixelFormat = "packed24"
				c.Logging.Level = "debug"
			},
		},
		{
			name: "flags over environment",
			env: map[string]string{
				"VNCGATE_CONFIG": path,
				"VNCGATE_LISTEN": ":7000",
			},
			opts: LoadOptions{Listen: ":6000", Framing: "raw", HandshakeTimeout: time.Second, LogLevel: "warn"},
			want: func(c *Config) {
				c.Gateway.Listen = ":6000"
				c.Gateway.Target = "vnc.internal:5901"
				c.Gateway.Framing = "raw"
				c.Gateway.HandshakeTimeout = time.Second
				c.Gateway.AllowedOrigins = []string{"https://a.example"}
				c.Client.Framing = "raw"
				c.Client.HandshakeTimeout = time.Second
				c.Client.PixelFormat = "packed24"
				c.Logging.Level = "warn"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("VNCGATE_CONFIG", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			got, err := Load(tt.opts)
			require.NoError(t, err)
			want := Default()
			tt.want(want)
			assert.Equal(t, want, got)
		})
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		env     map[string]string
		opts    LoadOptions
		wantErr string
	}{
		{name: "missing file", opts: LoadOptions{File: "/nonexistent/vncgate.yaml"}, wantErr: "reading config"},
		{name: "unknown key", file: "gateway:\n  listn: \":1\"\n", wantErr: "listn"},
		{name: "bad duration env", env: map[string]string{"VNCGATE_HANDSHAKE_TIMEOUT": "soon"}, wantErr: "VNCGATE_HANDSHAKE_TIMEOUT"},
		{name: "bad bool env", env: map[string]string{"VNCGATE_ALLOW_TARGET_OVERRIDE": "maybe"}, wantErr: "VNCGATE_ALLOW_TARGET_OVERRIDE"},
		{name: "bad framing", opts: LoadOptions{Framing: "xml"}, wantErr: "unknown framing"},
		{name: "zero timeout", file: "gateway:\n  handshake_timeout: 0s\n", wantErr: "handshake timeout"},
		{name: "http url", opts: LoadOptions{URL: "http://localhost:8080/"}, wantErr: "ws:// or wss://"},
		{name: "bad level", opts: LoadOptions{LogLevel: "loud"}, wantErr: "unknown log level"},
		{name: "bad format", env: map[string]string{"VNCGATE_LOG_FORMAT": "xml"}, wantErr: "invalid log format"},
		{name: "bad pixel format", env: map[string]string{"VNCGATE_PIXEL_FORMAT": "rgb565"}, wantErr: "unknown pixel format"},
		{name: "relative path", env: map[string]string{"VNCGATE_WS_PATH": "ws"}, wantErr: "must start with /"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("VNCGATE_CONFIG", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			opts := tt.opts
			if tt.file != "" {
				opts.File = writeConfig(t, tt.file)
			}

			_, err := Load(opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseEmptyDocument(t *testing.T) {
	config := Default()
	require.NoError(t, Parse(nil, config))
	assert.Equal(t, Default(), config)
}

func TestParsePixelFormat(t *testing.T) {
	pf, err := ParsePixelFormat("native")
	require.NoError(t, err)
	assert.Nil(t, pf)

	pf, err = ParsePixelFormat("Packed24")
	require.NoError(t, err)
	assert.Equal(t, rfb.Packed24PixelFormat(), *pf)

	pf, err = ParsePixelFormat("default")
	require.NoError(t, err)
	assert.Equal(t, rfb.DefaultPixelFormat(), *pf)
}

func TestNewLogger(t *testing.T) {
	config := Default()
	config.Logging.Level = "warn"

	var buf bytes.Buffer
	logger := config.NewLogger(&buf)
	require.IsType(t, &logging.Leveled{}, logger)
	logger.Printf("hidden")
	assert.Empty(t, buf.String())

	config.Logging.Level = "debug"
	config.Logging.Format = "json"
	logger = config.NewLogger(&buf)
	logging.Debugf(logger, "frame %d", 7)
	assert.True(t, strings.Contains(buf.String(), `"msg":"frame 7"`), buf.String())
}
