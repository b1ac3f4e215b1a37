// Package config loads pipeline settings from a TOML file.
//
// Every key is optional; unset keys keep the values from Default. Unknown
// keys are an error.
//
//	[socket]
//	use_simulation = false
//	poll_interval_ms = 100
//	read_buffer_size = 0
//	write_buffer_size = 0
//
//	[dispatcher]
//	receive_buffer_size = 65535
//	idle_backoff = "1ms"
//
//	[writer]
//	payload_type = 96
//	clock_rate = 90000
//	samples_per_frame = 3000
//	mtu = 1200
//	ssrc = 0
//	payloader = "chunk"   # chunk, vp8 or opus
//
//	[reader]
//	host = "127.0.0.1"
//	port = 5004
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/opd-ai/rtpdispatch/factory"
	"github.com/opd-ai/rtpdispatch/interfaces"
	"github.com/opd-ai/rtpdispatch/rtp"
	pionrtp "github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/sirupsen/logrus"
)

// Payloader names accepted in [writer].
const (
	PayloaderChunk = "chunk"
	PayloaderVP8   = "vp8"
	PayloaderOpus  = "opus"
)

// ErrUnknownPayloader indicates a payloader name other than chunk, vp8 or opus.
var ErrUnknownPayloader = errors.New("unknown payloader")

// ErrUnknownKey indicates a key Load does not recognize.
var ErrUnknownKey = errors.New("unknown configuration key")

// Endpoint is a host and UDP port.
type Endpoint struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// String returns host:port.
func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Config aggregates socket, dispatcher, writer and reader settings.
type Config struct {
	Socket     interfaces.SocketConfig
	Dispatcher rtp.Options
	Writer     rtp.WriterOptions
	Payloader  string
	Reader     Endpoint
}

// writerSection adds the payloader name to the [writer] table.
type writerSection struct {
	rtp.WriterOptions
	Payloader string `toml:"payloader"`
}

type fileConfig struct {
	Socket     interfaces.SocketConfig `toml:"socket"`
	Dispatcher rtp.Options             `toml:"dispatcher"`
	Writer     writerSection           `toml:"writer"`
	Reader     Endpoint                `toml:"reader"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Socket: interfaces.SocketConfig{
			PollIntervalMS: factory.DefaultPollInterval,
		},
		Dispatcher: rtp.DefaultOptions(),
		Writer:     rtp.DefaultWriterOptions(),
		Payloader:  PayloaderChunk,
		Reader:     Endpoint{Host: "127.0.0.1", Port: 5004},
	}
}

// Load reads path and overlays the keys it defines on Default. Unknown keys
// are rejected with ErrUnknownKey.
func Load(path string) (Config, error) {
	def := Default()
	raw := fileConfig{
		Socket:     def.Socket,
		Dispatcher: def.Dispatcher,
		Writer:     writerSection{WriterOptions: def.Writer, Payloader: def.Payloader},
		Reader:     def.Reader,
	}

	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Load",
			"path":     path,
			"keys":     fmt.Sprint(undecoded),
		}).Error("Unknown configuration keys")
		return Config{}, fmt.Errorf("load config %s: %w: %v", path, ErrUnknownKey, undecoded)
	}

	cfg := Config{
		Socket:     raw.Socket,
		Dispatcher: raw.Dispatcher,
		Writer:     raw.Writer.WriterOptions,
		Payloader:  strings.ToLower(strings.TrimSpace(raw.Writer.Payloader)),
		Reader:     Endpoint{Host: strings.TrimSpace(raw.Reader.Host), Port: raw.Reader.Port},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Load",
		"path":      path,
		"reader":    cfg.Reader.String(),
		"payloader": cfg.Payloader,
	}).Info("Loaded configuration")

	return cfg, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Socket.Validate(); err != nil {
		return fmt.Errorf("socket: %w", err)
	}
	if err := c.Dispatcher.Validate(); err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}
	if err := c.Writer.Validate(); err != nil {
		return fmt.Errorf("writer: %w", err)
	}
	if _, err := NewPayloader(c.Payloader); err != nil {
		return fmt.Errorf("writer: %w", err)
	}
	if c.Reader.Port < 0 || c.Reader.Port > 65535 {
		return fmt.Errorf("reader: port %d not in [0, 65535]", c.Reader.Port)
	}
	return nil
}

// WriterOptions returns the writer options with the configured payloader.
func (c Config) WriterOptions() (rtp.WriterOptions, error) {
	opts := c.Writer
	p, err := NewPayloader(c.Payloader)
	if err != nil {
		return rtp.WriterOptions{}, err
	}
	opts.Payloader = p
	return opts, nil
}

// NewPayloader returns the payloader registered under name. An empty name
// selects the chunk payloader.
func NewPayloader(name string) (pionrtp.Payloader, error) {
	switch name {
	case "", PayloaderChunk:
		return rtp.ChunkPayloader{}, nil
	case PayloaderVP8:
		return &codecs.VP8Payloader{EnablePictureID: true}, nil
	case PayloaderOpus:
		return &codecs.OpusPayloader{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPayloader, name)
	}
}
