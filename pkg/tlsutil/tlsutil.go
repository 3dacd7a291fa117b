// Package tlsutil builds server TLS configurations, with optional client
// certificate verification, from file-based settings.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/c360/docfeed/errors"
)

// ServerConfig holds TLS settings for an HTTP or websocket server.
type ServerConfig struct {
	Enabled    bool   `json:"enabled"`
	CertFile   string `json:"cert_file,omitempty"`
	KeyFile    string `json:"key_file,omitempty"`
	MinVersion string `json:"min_version,omitempty"` // "1.2" or "1.3"

	// ClientCAFiles turns on client certificate verification.
	ClientCAFiles     []string `json:"client_ca_files,omitempty"`
	RequireClientCert bool     `json:"require_client_cert,omitempty"` // true = require, false = optional
	AllowedClientCNs  []string `json:"allowed_client_cns,omitempty"`  // Optional CN whitelist
}

// Validate checks that an enabled config names its key pair.
func (c ServerConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.CertFile == "" || c.KeyFile == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "tlsutil", "Validate",
			"tls.cert_file and tls.key_file are required")
	}
	switch c.MinVersion {
	case "", "1.2", "1.3":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "tlsutil", "Validate",
			fmt.Sprintf("tls.min_version %q is not one of 1.2, 1.3", c.MinVersion))
	}
	if (c.RequireClientCert || len(c.AllowedClientCNs) > 0) && len(c.ClientCAFiles) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "tlsutil", "Validate",
			"client certificate checks need tls.client_ca_files")
	}
	return nil
}

// LoadServerConfig creates a tls.Config from cfg. It returns nil when TLS is
// disabled.
func LoadServerConfig(cfg ServerConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadServerConfig", "load certificate")
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   parseTLSVersion(cfg.MinVersion),
	}
	if len(cfg.ClientCAFiles) == 0 {
		return tlsConfig, nil
	}
	if err := applyMTLSConfig(tlsConfig, cfg); err != nil {
		return nil, err
	}
	return tlsConfig, nil
}

// applyMTLSConfig applies client certificate settings to tlsConfig.
func applyMTLSConfig(tlsConfig *tls.Config, cfg ServerConfig) error {
	clientCAs := x509.NewCertPool()
	for _, caFile := range cfg.ClientCAFiles {
		caPEM, err := os.ReadFile(caFile)
		if err != nil {
			return errors.WrapFatal(err, "tlsutil", "applyMTLSConfig",
				fmt.Sprintf("read client CA file %s", caFile))
		}
		if !clientCAs.AppendCertsFromPEM(caPEM) {
			return errors.WrapFatal(
				fmt.Errorf("invalid PEM data"),
				"tlsutil", "applyMTLSConfig",
				fmt.Sprintf("parse client CA certificate from %s", caFile))
		}
	}

	tlsConfig.ClientCAs = clientCAs
	if cfg.RequireClientCert {
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	} else {
		tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
	}

	if len(cfg.AllowedClientCNs) > 0 {
		allowed := cfg.AllowedClientCNs
		tlsConfig.VerifyPeerCertificate = func(_ [][]byte, verifiedChains [][]*x509.Certificate) error {
			if len(verifiedChains) == 0 && !cfg.RequireClientCert {
				return nil
			}
			return verifyAllowedClientCN(verifiedChains, allowed)
		}
	}
	return nil
}

// verifyAllowedClientCN checks if the client certificate CN is in the whitelist.
func verifyAllowedClientCN(chains [][]*x509.Certificate, allowedCNs []string) error {
	if len(chains) == 0 {
		return fmt.Errorf("no verified certificate chains")
	}

	leafCert := chains[0][0]
	for _, allowedCN := range allowedCNs {
		if leafCert.Subject.CommonName == allowedCN {
			return nil
		}
	}

	return fmt.Errorf("client certificate CN '%s' not in allowed list",
		leafCert.Subject.CommonName)
}

// parseTLSVersion converts a version string to a crypto/tls constant.
// Empty or unknown versions yield TLS 1.2.
func parseTLSVersion(version string) uint16 {
	if version == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}
