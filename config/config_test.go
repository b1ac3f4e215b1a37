package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opd-ai/rtpdispatch/factory"
	"github.com/opd-ai/rtpdispatch/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rtp.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, PayloaderChunk, cfg.Payloader)
	assert.Equal(t, factory.DefaultPollInterval, cfg.Socket.PollIntervalMS)
	assert.Equal(t, rtp.DefaultOptions(), cfg.Dispatcher)
}

func TestLoadOverlaysDefinedKeys(t *testing.T) {
	path := writeConfig(t, `
[socket]
use_simulation = true
poll_interval_ms = 20

[dispatcher]
idle_backoff = "5ms"

[writer]
payload_type = 111
clock_rate = 48000
samples_per_frame = 960
ssrc = 4000000000
payloader = " Opus "

[reader]
port = 6000
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Socket.UseSimulation)
	assert.Equal(t, 20, cfg.Socket.PollIntervalMS)
	assert.Equal(t, 5*time.Millisecond, cfg.Dispatcher.IdleBackoff)
	assert.Equal(t, rtp.DefaultOptions().ReceiveBufferSize, cfg.Dispatcher.ReceiveBufferSize)
	assert.Equal(t, uint8(111), cfg.Writer.PayloadType)
	assert.Equal(t, uint32(48000), cfg.Writer.ClockRate)
	assert.Equal(t, uint32(960), cfg.Writer.SamplesPerFrame)
	assert.Equal(t, uint32(4000000000), cfg.Writer.SSRC)
	assert.Equal(t, rtp.DefaultWriterOptions().MTU, cfg.Writer.MTU)
	assert.Equal(t, PayloaderOpus, cfg.Payloader)
	assert.Equal(t, Endpoint{Host: "127.0.0.1", Port: 6000}, cfg.Reader)

	opts, err := cfg.WriterOptions()
	require.NoError(t, err)
	assert.IsType(t, &codecs.OpusPayloader{}, opts.Payloader)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"syntax error", "[socket\n"},
		{"bad duration", "[dispatcher]\nidle_backoff = \"soon\"\n"},
		{"payload type range", "[writer]\npayload_type = 200\n"},
		{"negative clock rate", "[writer]\nclock_rate = -1\n"},
		{"mtu too small", "[writer]\nmtu = 4\n"},
		{"unknown payloader", "[writer]\npayloader = \"h264\"\n"},
		{"zero poll interval", "[socket]\npoll_interval_ms = 0\n"},
		{"reader port range", "[reader]\nport = 70000\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown key in known table", "[socket]\npoll_interval = 20\n"},
		{"unknown table", "[jitter]\ndepth = 3\n"},
		{"extra writer key", "[writer]\npayloader = \"chunk\"\nmarker = true\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.ErrorIs(t, err, ErrUnknownKey)
		})
	}
}

func TestLoadEmptyFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestNewPayloader(t *testing.T) {
	tests := []struct {
		name    string
		want    any
		wantErr bool
	}{
		{"", rtp.ChunkPayloader{}, false},
		{PayloaderChunk, rtp.ChunkPayloader{}, false},
		{PayloaderVP8, &codecs.VP8Payloader{}, false},
		{PayloaderOpus, &codecs.OpusPayloader{}, false},
		{"h264", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPayloader(tt.name)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownPayloader)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, p)
		})
	}
}
