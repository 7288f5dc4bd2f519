package config

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrationTLS_NoConfig(t *testing.T) {
	cfg := &Config{}
	tlsCfg, err := cfg.RegistrationTLS()
	require.NoError(t, err)
	assert.Nil(t, tlsCfg)
}

func TestRegistrationTLS_WithCACert(t *testing.T) {
	caPath := generateTestCA(t)

	cfg := &Config{NerdGraphCACert: caPath}
	tlsCfg, err := cfg.RegistrationTLS()
	require.NoError(t, err)
	require.NotNil(t, tlsCfg)
	assert.NotNil(t, tlsCfg.RootCAs)
	assert.Equal(t, uint16(tls.VersionTLS12), tlsCfg.MinVersion)
}

func TestRegistrationTLS_ServerNameOnly(t *testing.T) {
	cfg := &Config{NerdGraphServerName: "api.eu.newrelic.com"}
	tlsCfg, err := cfg.RegistrationTLS()
	require.NoError(t, err)
	require.NotNil(t, tlsCfg)
	assert.Nil(t, tlsCfg.RootCAs)
	assert.Equal(t, "api.eu.newrelic.com", tlsCfg.ServerName)
}

func TestRegistrationTLS_MissingCAFile(t *testing.T) {
	cfg := &Config{NerdGraphCACert: "/nonexistent/ca.pem"}
	_, err := cfg.RegistrationTLS()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read nerdgraph CA cert")
}

func TestRegistrationTLS_InvalidCACert(t *testing.T) {
	badCA := filepath.Join(t.TempDir(), "bad-ca.pem")
	os.WriteFile(badCA, []byte("not a cert"), 0o600)

	cfg := &Config{NerdGraphCACert: badCA}
	_, err := cfg.RegistrationTLS()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse nerdgraph CA cert")
}

// generateTestCA creates a self-signed CA and returns the path to its PEM.
func generateTestCA(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test CA"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	caCertDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	require.NoError(t, err)

	caCertPath := filepath.Join(dir, "ca.pem")
	f, err := os.Create(caCertPath)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, pem.Encode(f, &pem.Block{Type: "CERTIFICATE", Bytes: caCertDER}))

	return caCertPath
}
