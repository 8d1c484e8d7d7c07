package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/luciancaetano/wsps"
	"github.com/luciancaetano/wsps/internal/logging"
	"github.com/luciancaetano/wsps/internal/protocol"
	"github.com/luciancaetano/wsps/ws"
)

// Duration accepts "10s"-style strings in both TOML and YAML files.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled" yaml:"enabled"`
	MessagesPerSecond float64 `toml:"messages_per_second" yaml:"messages_per_second"`
	Burst             int     `toml:"burst" yaml:"burst"`
}

type KeysConfig struct {
	Subscribe string `toml:"subscribe" yaml:"subscribe"`
	Publish   string `toml:"publish" yaml:"publish"`
}

type LogConfig struct {
	Level   string `toml:"level" yaml:"level"`
	JSON    bool   `toml:"json" yaml:"json"`
	NoColor bool   `toml:"no_color" yaml:"no_color"`
}

// ClientConfig is the on-disk client configuration.
type ClientConfig struct {
	Server           string            `toml:"server" yaml:"server"`
	Codec            string            `toml:"codec" yaml:"codec"`
	Subprotocols     []string          `toml:"subprotocols" yaml:"subprotocols"`
	Headers          map[string]string `toml:"headers" yaml:"headers"`
	HandshakeTimeout Duration          `toml:"handshake_timeout" yaml:"handshake_timeout"`
	WriteTimeout     Duration          `toml:"write_timeout" yaml:"write_timeout"`
	PongWait         Duration          `toml:"pong_wait" yaml:"pong_wait"`
	PingInterval     Duration          `toml:"ping_interval" yaml:"ping_interval"`
	RateLimit        RateLimitConfig   `toml:"rate_limit" yaml:"rate_limit"`
	Keys             KeysConfig        `toml:"keys" yaml:"keys"`
	Log              LogConfig         `toml:"log" yaml:"log"`
}

// Default returns the configuration used when no file is given.
func Default() ClientConfig {
	return ClientConfig{
		Server:           "ws://127.0.0.1:52525",
		Codec:            protocol.StdCodecName,
		Subprotocols:     []string{wsps.DefaultSubprotocol},
		HandshakeTimeout: Duration(10 * time.Second),
		WriteTimeout:     Duration(10 * time.Second),
		PongWait:         Duration(60 * time.Second),
		PingInterval:     Duration(54 * time.Second),
		RateLimit: RateLimitConfig{
			MessagesPerSecond: 100,
			Burst:             200,
		},
	}
}

// Load reads a TOML (.toml) or YAML (.yaml, .yml) file over the defaults and validates it.
func Load(path string) (ClientConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		md, err := toml.Decode(string(raw), &cfg)
		if err != nil {
			return ClientConfig{}, fmt.Errorf("parse toml %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return ClientConfig{}, fmt.Errorf("parse toml %s: unknown keys %v", path, undecoded)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return ClientConfig{}, fmt.Errorf("parse yaml %s: %w", path, err)
		}
	default:
		return ClientConfig{}, fmt.Errorf("config %s: unsupported extension %q", path, filepath.Ext(path))
	}

	if err := Validate(cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func Validate(cfg ClientConfig) error {
	u, err := url.Parse(strings.TrimSpace(cfg.Server))
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("server %q: scheme must be ws or wss", cfg.Server)
	}
	if u.Host == "" {
		return fmt.Errorf("server %q: missing host", cfg.Server)
	}

	if _, ok := protocol.CodecByName(cfg.Codec); !ok {
		return fmt.Errorf("codec %q: must be %q or %q", cfg.Codec, protocol.StdCodecName, protocol.FastCodecName)
	}

	durations := map[string]Duration{
		"handshake_timeout": cfg.HandshakeTimeout,
		"write_timeout":     cfg.WriteTimeout,
		"pong_wait":         cfg.PongWait,
		"ping_interval":     cfg.PingInterval,
	}
	for name, d := range durations {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if cfg.PingInterval > 0 && cfg.PongWait > 0 && cfg.PingInterval >= cfg.PongWait {
		return errors.New("ping_interval must be shorter than pong_wait")
	}

	if cfg.RateLimit.Enabled && (cfg.RateLimit.MessagesPerSecond <= 0 || cfg.RateLimit.Burst <= 0) {
		return errors.New("rate_limit: messages_per_second and burst must be positive when enabled")
	}

	if cfg.Log.Level != "" {
		if _, ok := logging.ParseLevel(cfg.Log.Level); !ok {
			return fmt.Errorf("log.level %q is not a known level", cfg.Log.Level)
		}
	}
	return nil
}

// ApplyLogging copies the [log] section over base. Environment overrides are
// applied by the caller afterwards so WSPS_LOG_* still wins.
func (c ClientConfig) ApplyLogging(base *logging.Config) {
	if lvl, ok := logging.ParseLevel(c.Log.Level); ok {
		base.Level = lvl
	}
	if c.Log.JSON {
		base.JSON = true
	}
	if c.Log.NoColor {
		base.NoColor = true
	}
}

// ToClientConfig converts the file settings into a ws.ClientConfig.
func (c ClientConfig) ToClientConfig(onClose wsps.CloseHandler) *ws.ClientConfig {
	out := ws.NewConfig(strings.TrimSpace(c.Server), onClose)

	if codec, ok := protocol.CodecByName(c.Codec); ok {
		out.Codec = codec
	}
	if len(c.Subprotocols) > 0 {
		out.Subprotocols = append([]string(nil), c.Subprotocols...)
	}
	if len(c.Headers) > 0 {
		out.Header = make(http.Header, len(c.Headers))
		for k, v := range c.Headers {
			out.Header.Set(k, v)
		}
	}

	out.HandshakeTimeout = time.Duration(c.HandshakeTimeout)
	out.WriteTimeout = time.Duration(c.WriteTimeout)
	out.PongWait = time.Duration(c.PongWait)
	out.PingInterval = time.Duration(c.PingInterval)

	if c.RateLimit.Enabled {
		out.RateLimit = &ws.RateLimitConfig{
			MessagesPerSecond: rate.Limit(c.RateLimit.MessagesPerSecond),
			Burst:             c.RateLimit.Burst,
			Enabled:           true,
		}
	}
	return out
}
