// Package transport delivers payloads to the remote endpoint.
// Two channels are provided: Request (one HTTP POST per payload) and
// Stream (one authenticated WebSocket).
package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/net/http2"
)

// TLSFiles names the client certificate, key and CA for mutual TLS.
// Either all three are set or none.
type TLSFiles struct {
	CertPath string
	KeyPath  string
	CAPath   string
}

// Enabled reports whether any mTLS file was configured.
func (f TLSFiles) Enabled() bool {
	return f.CertPath != "" || f.KeyPath != "" || f.CAPath != ""
}

// Validate checks that mTLS is configured all-or-none.
func (f TLSFiles) Validate() error {
	if !f.Enabled() {
		return nil
	}
	if f.CertPath == "" {
		return fmt.Errorf("certPath required")
	}
	if f.KeyPath == "" {
		return fmt.Errorf("keyPath required")
	}
	if f.CAPath == "" {
		return fmt.Errorf("caPath required")
	}
	return nil
}

// LoadTLSConfig builds a TLS 1.3 client config from the files.
// Returns nil, nil when mTLS is not configured.
func LoadTLSConfig(files TLSFiles) (*tls.Config, error) {
	if err := files.Validate(); err != nil {
		return nil, err
	}
	if !files.Enabled() {
		return nil, nil
	}

	clientCert, err := tls.LoadX509KeyPair(files.CertPath, files.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	caCert, err := os.ReadFile(files.CAPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{clientCert},
		RootCAs:      caCertPool,
		MinVersion:   tls.VersionTLS13,
		MaxVersion:   tls.VersionTLS13,
	}, nil
}

// BuildHTTPClient creates the client used by Request.
// With mTLS it speaks HTTP/2 only; without, it negotiates h2 over TLS and
// falls back to HTTP/1.1 for plain http endpoints.
func BuildHTTPClient(files TLSFiles, timeout time.Duration) (*http.Client, error) {
	tlsConfig, err := LoadTLSConfig(files)
	if err != nil {
		return nil, err
	}

	if tlsConfig != nil {
		return &http.Client{
			Transport: &http2.Transport{TLSClientConfig: tlsConfig},
			Timeout:   timeout,
		}, nil
	}

	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if err := http2.ConfigureTransport(base); err != nil {
		return nil, fmt.Errorf("failed to enable HTTP/2: %w", err)
	}

	return &http.Client{
		Transport: base,
		Timeout:   timeout,
	}, nil
}
