package security

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cuemby/relay/pkg/log"
)

// Certificate rotation threshold: warn when less than 30 days remain
const certRotationThreshold = 30 * 24 * time.Hour

// TLSFiles names the PEM files of one side of a connection
type TLSFiles struct {
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
	// CAFile verifies the peer. On a server it turns on client
	// certificate verification.
	CAFile string `mapstructure:"ca_file"`
}

// Enabled reports whether any file is configured
func (f TLSFiles) Enabled() bool {
	return f.CertFile != "" || f.KeyFile != "" || f.CAFile != ""
}

// Validate checks that certificate and key come in pairs
func (f TLSFiles) Validate() error {
	if (f.CertFile == "") != (f.KeyFile == "") {
		return errors.New("tls cert_file and key_file must be set together")
	}
	return nil
}

// ServerConfig builds a TLS 1.3 server configuration. With a CA file the
// server requires and verifies client certificates.
func ServerConfig(f TLSFiles) (*tls.Config, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if f.CertFile == "" {
		return nil, errors.New("server tls needs cert_file and key_file")
	}
	cert, err := LoadCertificate(f.CertFile, f.KeyFile)
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{*cert},
		MinVersion:   tls.VersionTLS13,
	}
	if f.CAFile != "" {
		pool, err := LoadCAPool(f.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

// ClientConfig builds a TLS 1.3 client configuration. The certificate is
// optional and only needed against servers that verify clients.
func ClientConfig(f TLSFiles, serverName string) (*tls.Config, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	cfg := &tls.Config{
		ServerName: serverName,
		MinVersion: tls.VersionTLS13,
	}
	if f.CAFile != "" {
		pool, err := LoadCAPool(f.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}
	if f.CertFile != "" {
		cert, err := LoadCertificate(f.CertFile, f.KeyFile)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{*cert}
	}
	return cfg, nil
}

// LoadCertificate loads a key pair and warns when it is about to expire
func LoadCertificate(certFile, keyFile string) (*tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}

	// Parse certificate to populate Leaf field
	if cert.Leaf == nil {
		leaf, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		cert.Leaf = leaf
	}

	if CertNeedsRotation(cert.Leaf) {
		logger := log.WithComponent("security")
		logger.Warn().
			Str("file", certFile).
			Time("not_after", cert.Leaf.NotAfter).
			Msg("Certificate expires soon")
	}
	return &cert, nil
}

// LoadCAPool reads every PEM certificate in caFile into a pool
func LoadCAPool(caFile string) (*x509.CertPool, error) {
	data, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	pool := x509.NewCertPool()
	found := 0
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		ca, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse CA certificate: %w", err)
		}
		pool.AddCert(ca)
		found++
	}
	if found == 0 {
		return nil, fmt.Errorf("no CA certificate found in %s", caFile)
	}
	return pool, nil
}

// CertNeedsRotation returns true if less than 30 days remain until expiry
func CertNeedsRotation(cert *x509.Certificate) bool {
	if cert == nil {
		return true
	}
	return time.Until(cert.NotAfter) < certRotationThreshold
}
