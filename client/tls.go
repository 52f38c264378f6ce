package client

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"
)

// TLSConfig holds the certificate files for talking to the core service.
// ClientCert and ClientKey enable mTLS and must be set together.
type TLSConfig struct {
	CACert     string
	ClientCert string
	ClientKey  string
	SkipVerify bool
}

// Enabled reports whether any TLS setting differs from the system defaults.
func (c TLSConfig) Enabled() bool {
	return c.CACert != "" || c.ClientCert != "" || c.ClientKey != "" || c.SkipVerify
}

// Validate checks that the configured files exist.
func (c TLSConfig) Validate() error {
	if (c.ClientCert == "") != (c.ClientKey == "") {
		return errors.New("core.tls.client_cert and core.tls.client_key must be set together")
	}

	files := []struct{ name, path string }{
		{"CA certificate", c.CACert},
		{"Client certificate", c.ClientCert},
		{"Client key", c.ClientKey},
	}
	for _, f := range files {
		if f.path == "" {
			continue
		}
		if _, err := os.Stat(f.path); os.IsNotExist(err) {
			return fmt.Errorf("%s not found: %s", f.name, f.path)
		}
	}
	return nil
}

// LoadTLSConfig builds a tls.Config from cfg. It returns nil when cfg is
// not enabled so the default transport is used.
func LoadTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.SkipVerify,
	}

	if cfg.ClientCert != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.CACert != "" && !cfg.SkipVerify {
		caCert, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA cert: %w", err)
		}

		caPool := x509.NewCertPool()
		if !caPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("parse CA cert: invalid PEM")
		}
		tlsConfig.RootCAs = caPool
	}

	return tlsConfig, nil
}

// NewHTTPClient returns an http.Client using cfg, or nil when TLS is not
// enabled.
func NewHTTPClient(cfg TLSConfig, timeout time.Duration) (*http.Client, error) {
	tlsConfig, err := LoadTLSConfig(cfg)
	if err != nil || tlsConfig == nil {
		return nil, err
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig
	return &http.Client{Timeout: timeout, Transport: transport}, nil
}
