package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// RegistrationTLS builds a *tls.Config for the NerdGraph endpoint.
// Returns nil, nil if no CA bundle or server name override is configured,
// in which case the system roots are used.
func (c *Config) RegistrationTLS() (*tls.Config, error) {
	if c.NerdGraphCACert == "" && c.NerdGraphServerName == "" {
		return nil, nil
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if c.NerdGraphCACert != "" {
		caPEM, err := os.ReadFile(c.NerdGraphCACert)
		if err != nil {
			return nil, fmt.Errorf("read nerdgraph CA cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("failed to parse nerdgraph CA cert")
		}
		tlsConfig.RootCAs = pool
	}

	if c.NerdGraphServerName != "" {
		tlsConfig.ServerName = c.NerdGraphServerName
	}

	return tlsConfig, nil
}
