package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/samgo/internal/config"
)

// File names used inside TLSConfig.Dir.
const (
	CACertName = "tls_ca.crt"
	CertName   = "tls.crt"
	KeyName    = "tls.key"
)

func parseVersion(ver string) (uint16, bool) {
	switch ver {
	case "", "default":
		return tls.VersionTLS13, false
	case "1.2", "TLS1.2", "tls1.2":
		return tls.VersionTLS12, true
	case "1.3", "TLS1.3", "tls1.3":
		return tls.VersionTLS13, true
	default:
		return 0, false
	}
}

// versions resolves the accepted protocol range, TLS 1.3 only by default.
func versions(cfg config.ServerConfig) (minVer, maxVer uint16) {
	minVer, maxVer = tls.VersionTLS13, tls.VersionTLS13
	if v, ok := parseVersion(cfg.TLSMinVersion); ok {
		minVer = v
	}
	if v, ok := parseVersion(cfg.TLSMaxVersion); ok {
		maxVer = v
	}
	if minVer > maxVer {
		maxVer = minVer
	}
	return minVer, maxVer
}

// Setup returns the server TLS config, or nil when TLS is disabled.
// Explicit cert/key files win over a certificate directory; with
// auto_generate a self-signed pair is created in the directory when missing.
func Setup(cfg config.ServerConfig) (*tls.Config, error) {
	t := cfg.TLS
	if t == nil || !t.Enabled {
		return nil, nil
	}
	minVer, maxVer := versions(cfg)

	certPath, keyPath := t.CertFile, t.KeyFile
	if certPath == "" || keyPath == "" {
		if t.Dir == "" {
			return nil, errors.New("TLS enabled but no certificate configured")
		}
		certPath = filepath.Join(t.Dir, CertName)
		keyPath = filepath.Join(t.Dir, KeyName)
		if t.AutoGenerate && !exists(certPath, keyPath) {
			if err := generate(t, t.Dir); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	}
	// fail at startup rather than on the first handshake
	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	// #nosec G402 minimum version is configurable down to 1.2
	return &tls.Config{
		GetCertificate: reloading(certPath, keyPath),
		MinVersion:     minVer,
		MaxVersion:     maxVer,
	}, nil
}

// reloading reads the pair on every handshake so rotated files are picked up.
func reloading(certPath, keyPath string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		c, err := tls.LoadX509KeyPair(filepath.Clean(certPath), filepath.Clean(keyPath))
		if err != nil {
			return nil, err
		}
		return &c, nil
	}
}

func exists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func orDefault[T string | []string](v, def T) T {
	if len(v) == 0 {
		return def
	}
	return v
}

func generate(t *config.TLSConfig, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create certificate directory: %w", err)
	}
	ag := t.AutoGen
	if ag == nil {
		ag = &config.AutoGenTLS{}
	}
	days := ag.ValidDays
	if days <= 0 {
		days = 365
	}
	return GenerateSelfSignedCert(CertConfig{
		CommonName:   orDefault(ag.CommonName, "localhost"),
		Organization: orDefault(ag.Organization, "samgo"),
		DNSNames:     orDefault(ag.DNSNames, []string{"localhost"}),
		IPAddresses:  orDefault(ag.IPAddresses, []string{"127.0.0.1"}),
		NotAfter:     time.Now().AddDate(0, 0, days),
		CertPath:     filepath.Join(dir, CertName),
		KeyPath:      filepath.Join(dir, KeyName),
		CACertPath:   filepath.Join(dir, CACertName),
	})
}
