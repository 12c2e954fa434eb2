package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/teacupreport/internal/config"
)

const (
	tlsCaCrt = "tls_ca.crt"
	tlsCrt   = "tls.crt"
	tlsKey   = "tls.key"
)

// parseTLSVersion parses TLS version string and returns the corresponding constant
func parseTLSVersion(ver string) (uint16, bool) {
	switch strings.ToLower(strings.TrimSpace(ver)) {
	case "", "default":
		return tls.VersionTLS13, false
	case "1.2", "tls1.2":
		return tls.VersionTLS12, true
	case "1.3", "tls1.3":
		return tls.VersionTLS13, true
	default:
		return 0, false
	}
}

// safeReadFile reads file content safely within base directory
func safeReadFile(baseDir, p string) ([]byte, error) {
	clean := filepath.Clean(p)
	if baseDir != "" {
		absBase, _ := filepath.Abs(baseDir)
		absFile, _ := filepath.Abs(clean)
		if !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) && absFile != absBase {
			return nil, errors.New("file path outside of allowed directory")
		}
	}
	return os.ReadFile(clean)
}

// getCertificationFunc reloads the key pair on every handshake so that
// rotated certificates are picked up without a restart.
func getCertificationFunc(certFile, keyFile string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	baseDir := filepath.Dir(certFile)
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		readCert, err := safeReadFile(baseDir, certFile)
		if err != nil {
			return nil, err
		}
		readKey, err := safeReadFile(baseDir, keyFile)
		if err != nil {
			return nil, err
		}
		certificate, err := tls.X509KeyPair(readCert, readKey)
		return &certificate, err
	}
}

// Setup builds the server TLS config for the read API. It returns nil
// when TLS is disabled.
func Setup(c config.TLSConfig) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	minVer := uint16(tls.VersionTLS13)
	if c.MinVersion != "" {
		v, ok := parseTLSVersion(c.MinVersion)
		if !ok {
			return nil, fmt.Errorf("unsupported TLS version %q", c.MinVersion)
		}
		minVer = v
	}

	// Priority 1: explicit cert/key files
	if c.CertFile != "" && c.KeyFile != "" {
		if !certificatesExist(c.CertFile, c.KeyFile) {
			return nil, fmt.Errorf("certificate %s or key %s not found", c.CertFile, c.KeyFile)
		}
		return createTLSConfig(c.CertFile, c.KeyFile, minVer), nil
	}

	// Priority 2: directory holding tls.crt and tls.key
	if c.Dir != "" {
		keyPath := filepath.Join(c.Dir, tlsKey)
		certPath := filepath.Join(c.Dir, tlsCrt)
		if !certificatesExist(certPath, keyPath) {
			if !c.AutoGenerate {
				return nil, fmt.Errorf("no certificate in %s and auto_generate is off", c.Dir)
			}
			if err := generateCertificate(c.Dir); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
		return createTLSConfig(certPath, keyPath, minVer), nil
	}

	return nil, errors.New("TLS enabled but no valid certificate configuration found")
}

func createTLSConfig(certPath, keyPath string, minVer uint16) *tls.Config {
	return &tls.Config{
		GetCertificate: getCertificationFunc(certPath, keyPath),
		MinVersion:     minVer,
	}
}

// certificatesExist checks if both certificate files exist
func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

// generateCertificate writes a localhost self-signed pair into destDir.
func generateCertificate(destDir string) error {
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	return GenerateSelfSignedCert(CertConfig{
		CommonName:   "localhost",
		Organization: "teacup-report",
		DNSNames:     []string{"localhost"},
		IPAddresses:  []string{"127.0.0.1", "::1"},
		NotAfter:     time.Now().AddDate(1, 0, 0),
		CertPath:     filepath.Join(destDir, tlsCrt),
		KeyPath:      filepath.Join(destDir, tlsKey),
		CACertPath:   filepath.Join(destDir, tlsCaCrt),
	})
}
