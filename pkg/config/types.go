// Package config provides configuration types and loading for the faultd
// server.
package config

import (
	"fmt"
	"time"

	"github.com/getfaultd/faultd/pkg/stub"
)

// ParseTimeout parses a duration string from the config, falling back to
// def when the field is unset or malformed.
func ParseTimeout(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// TLSConfig defines the server identity material for the HTTPS listener.
// When all fields are empty the built-in self-signed identity is used.
type TLSConfig struct {
	// CertFile is a path to PEM material (certificate, plus key when
	// KeyFile is empty) or a PKCS#12 bundle.
	CertFile string `json:"certFile,omitempty" yaml:"certFile,omitempty"`
	// KeyFile is a path to the private key when split from CertFile.
	KeyFile string `json:"keyFile,omitempty" yaml:"keyFile,omitempty"`
	// Passphrase decrypts PKCS#12 bundles and encrypted PEM keys.
	Passphrase string `json:"passphrase,omitempty" yaml:"passphrase,omitempty"`
}

// MTLSConfig defines mutual TLS client certificate authentication.
type MTLSConfig struct {
	// Enabled requires and verifies a client certificate on every handshake.
	Enabled bool `json:"enabled" yaml:"enabled"`
	// CACertFile is the trust anchor material (PEM or PKCS#12 trust store)
	// used to validate client certificates.
	CACertFile string `json:"caCertFile,omitempty" yaml:"caCertFile,omitempty"`
	// Passphrase decrypts a PKCS#12 trust store.
	Passphrase string `json:"passphrase,omitempty" yaml:"passphrase,omitempty"`
}

// FaultConfig tunes the fault injector.
type FaultConfig struct {
	// RandomDataLength is the byte count for random_data_then_close.
	// Zero uses the built-in default.
	RandomDataLength int `json:"randomDataLength,omitempty" yaml:"randomDataLength,omitempty"`
}

// ServerConfiguration defines the faultd runtime settings.
type ServerConfiguration struct {
	// BindAddress is the interface to listen on (default: all interfaces).
	BindAddress string `json:"bindAddress,omitempty" yaml:"bindAddress,omitempty"`
	// HTTPSPort is the port for the TLS listener.
	HTTPSPort int `json:"httpsPort,omitempty" yaml:"httpsPort,omitempty"`
	// AdminPort is the port for the admin API (0 = disabled).
	AdminPort int `json:"adminPort,omitempty" yaml:"adminPort,omitempty"`

	// TLS configures the server identity.
	TLS *TLSConfig `json:"tls,omitempty" yaml:"tls,omitempty"`
	// MTLS configures client certificate authentication.
	MTLS *MTLSConfig `json:"mtls,omitempty" yaml:"mtls,omitempty"`
	// Fault tunes the fault injector.
	Fault *FaultConfig `json:"fault,omitempty" yaml:"fault,omitempty"`

	// ReadTimeout bounds reading one request, as a duration string ("10s").
	ReadTimeout string `json:"readTimeout,omitempty" yaml:"readTimeout,omitempty"`
	// WriteTimeout bounds response and fault writes.
	WriteTimeout string `json:"writeTimeout,omitempty" yaml:"writeTimeout,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"logLevel,omitempty" yaml:"logLevel,omitempty"`
	// LogJSON switches log output to JSON.
	LogJSON bool `json:"logJson,omitempty" yaml:"logJson,omitempty"`

	// Stubs are registered before the endpoint starts.
	Stubs []*stub.Stub `json:"stubs,omitempty" yaml:"stubs,omitempty"`
}

// DefaultConfiguration returns the zero-config defaults.
func DefaultConfiguration() *ServerConfiguration {
	return &ServerConfiguration{
		HTTPSPort: 8443,
		AdminPort: 8442,
		LogLevel:  "info",
	}
}

// Validate checks cross-field invariants. Mutual auth without trust
// material can never validate a peer, so it is rejected up front.
func (c *ServerConfiguration) Validate() error {
	if c.HTTPSPort < 0 || c.HTTPSPort > 65535 {
		return fmt.Errorf("httpsPort %d out of range", c.HTTPSPort)
	}
	if c.AdminPort < 0 || c.AdminPort > 65535 {
		return fmt.Errorf("adminPort %d out of range", c.AdminPort)
	}
	if c.MTLS != nil && c.MTLS.Enabled && c.MTLS.CACertFile == "" {
		return fmt.Errorf("mtls.enabled requires mtls.caCertFile")
	}
	if c.ReadTimeout != "" {
		if _, err := time.ParseDuration(c.ReadTimeout); err != nil {
			return fmt.Errorf("invalid readTimeout: %w", err)
		}
	}
	if c.WriteTimeout != "" {
		if _, err := time.ParseDuration(c.WriteTimeout); err != nil {
			return fmt.Errorf("invalid writeTimeout: %w", err)
		}
	}
	for i, s := range c.Stubs {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("stubs[%d]: %w", i, err)
		}
	}
	return nil
}
