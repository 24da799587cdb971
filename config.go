package charsync

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/st-keller/charsync/transport"
)

// Mode selects the delivery channel.
type Mode string

const (
	ModeRequest Mode = "request" // one HTTP POST per payload, key embedded
	ModeStream  Mode = "stream"  // one WebSocket, key sent once per connection
)

// UnmarshalText lets env and flag parsing accept "request" or "stream".
func (m *Mode) UnmarshalText(text []byte) error {
	switch Mode(strings.ToLower(strings.TrimSpace(string(text)))) {
	case ModeRequest:
		*m = ModeRequest
	case ModeStream:
		*m = ModeStream
	default:
		return fmt.Errorf("invalid mode %q (expected request or stream)", text)
	}
	return nil
}

func (m Mode) String() string { return string(m) }

// Config holds engine configuration. Immutable once passed to New.
type Config struct {
	Endpoint string `env:"CHARSYNC_ENDPOINT"` // http(s):// for request, ws(s):// for stream
	APIKey   string `env:"CHARSYNC_API_KEY"`  // opaque, never inspected
	Mode     Mode   `env:"CHARSYNC_MODE" envDefault:"request"`

	RequestTimeout   time.Duration `env:"CHARSYNC_REQUEST_TIMEOUT"   envDefault:"10s"`
	HandshakeTimeout time.Duration `env:"CHARSYNC_HANDSHAKE_TIMEOUT" envDefault:"10s"`
	WriteTimeout     time.Duration `env:"CHARSYNC_WRITE_TIMEOUT"     envDefault:"5s"`

	// Optional mutual TLS: all three or none.
	CertPath string `env:"CHARSYNC_CERT_PATH"`
	KeyPath  string `env:"CHARSYNC_KEY_PATH"`
	CAPath   string `env:"CHARSYNC_CA_PATH"`

	// LogEntries bounds the in-memory event log.
	LogEntries int `env:"CHARSYNC_LOG_ENTRIES" envDefault:"100"`
}

// LoadConfigFromEnv reads CHARSYNC_* variables. The result still needs Validate.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate checks if all required config fields are present.
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("Endpoint required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("APIKey required")
	}

	switch c.Mode {
	case ModeRequest:
		if !hasScheme(c.Endpoint, "http://", "https://") {
			return fmt.Errorf("Endpoint must be http:// or https:// in request mode")
		}
	case ModeStream:
		if !hasScheme(c.Endpoint, "ws://", "wss://") {
			return fmt.Errorf("Endpoint must be ws:// or wss:// in stream mode")
		}
	default:
		return fmt.Errorf("Mode required (request or stream)")
	}

	if c.RequestTimeout < 0 || c.HandshakeTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if err := c.tlsFiles().Validate(); err != nil {
		return fmt.Errorf("invalid mTLS config: %w", err)
	}
	return nil
}

func (c Config) tlsFiles() transport.TLSFiles {
	return transport.TLSFiles{CertPath: c.CertPath, KeyPath: c.KeyPath, CAPath: c.CAPath}
}

func hasScheme(endpoint string, schemes ...string) bool {
	lower := strings.ToLower(endpoint)
	for _, s := range schemes {
		if strings.HasPrefix(lower, s) {
			return true
		}
	}
	return false
}
