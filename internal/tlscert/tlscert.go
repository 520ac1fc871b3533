// Package tlscert supplies the HTTPS server certificate, either from files on
// disk or from a self-signed pair generated for local development.
package tlscert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"
)

// Mode selects where certificates come from.
type Mode string

const (
	ModeFile Mode = "file"
	ModeAuto Mode = "auto"
)

// MinVersion is the minimum TLS version the server accepts.
const MinVersion = tls.VersionTLS13

// DefaultHosts are the names a self-signed certificate covers.
var DefaultHosts = []string{"localhost", "127.0.0.1", "::1"}

// Config describes the certificate source.
type Config struct {
	Mode     Mode
	CertFile string
	KeyFile  string
	// Dir holds the generated pair in auto mode.
	Dir   string
	Hosts []string
}

// Source hands certificates to the TLS stack.
type Source struct {
	certFile string
	keyFile  string
	desc     string
	logger   *slog.Logger

	mu      sync.Mutex
	cert    *tls.Certificate
	modTime time.Time
}

// New prepares a certificate source. In auto mode a missing, expired or
// mismatched pair is regenerated.
func New(cfg Config, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Source{logger: logger}

	switch cfg.Mode {
	case ModeFile:
		if cfg.CertFile == "" || cfg.KeyFile == "" {
			return nil, errors.New("tls_cert_file and tls_key_file are required in file mode")
		}
		if err := checkKeyPermissions(cfg.KeyFile); err != nil {
			return nil, err
		}
		s.certFile, s.keyFile = cfg.CertFile, cfg.KeyFile
		s.desc = fmt.Sprintf("file (cert=%s)", cfg.CertFile)

	case ModeAuto:
		hosts := cfg.Hosts
		if len(hosts) == 0 {
			hosts = DefaultHosts
		}
		if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create certificate directory: %w", err)
		}
		s.certFile = filepath.Join(cfg.Dir, "server.crt")
		s.keyFile = filepath.Join(cfg.Dir, "server.key")
		if !usable(s.certFile, s.keyFile, hosts) {
			logger.Warn("generating self-signed certificate, not for production use",
				slog.String("cert_path", s.certFile),
				slog.Any("hosts", hosts))
			if err := generate(s.certFile, s.keyFile, hosts); err != nil {
				return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
			}
		}
		s.desc = fmt.Sprintf("self-signed (cert=%s)", s.certFile)

	default:
		return nil, fmt.Errorf("unsupported TLS mode %q (use file or auto)", cfg.Mode)
	}

	if _, err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// TLSConfig returns a server config that picks up rotated files.
func (s *Source) TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: MinVersion,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			return s.load()
		},
	}
}

// Description names the certificate source for logs.
func (s *Source) Description() string { return s.desc }

// load returns the cached pair, rereading it when the certificate file changed.
func (s *Source) load() (*tls.Certificate, error) {
	info, err := os.Stat(s.certFile)
	if err != nil {
		return nil, fmt.Errorf("certificate not accessible: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cert != nil && info.ModTime().Equal(s.modTime) {
		return s.cert, nil
	}
	cert, err := tls.LoadX509KeyPair(s.certFile, s.keyFile)
	if err != nil {
		if s.cert != nil {
			s.logger.Error("failed to reload certificate, keeping previous",
				slog.String("cert_file", s.certFile),
				slog.String("error", err.Error()))
			return s.cert, nil
		}
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}
	s.cert, s.modTime = &cert, info.ModTime()
	return s.cert, nil
}

func checkKeyPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("key file not accessible: %w", err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return fmt.Errorf("key file %s has insecure permissions %o (use 0600 or 0400)", path, perm)
	}
	return nil
}

// usable reports whether an existing pair is valid now and covers hosts.
func usable(certFile, keyFile string, hosts []string) bool {
	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return false
	}
	cert, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return false
	}
	now := time.Now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return false
	}
	dns, ips := splitHosts(hosts)
	var certIPs []string
	for _, ip := range cert.IPAddresses {
		certIPs = append(certIPs, ip.String())
	}
	return sameSet(dns, cert.DNSNames) && sameSet(ips, certIPs)
}

func splitHosts(hosts []string) (dns, ips []string) {
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			ips = append(ips, ip.String())
		} else {
			dns = append(dns, h)
		}
	}
	return dns, ips
}

func sameSet(a, b []string) bool {
	a, b = slices.Clone(a), slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(slices.Compact(a), slices.Compact(b))
}

func generate(certFile, keyFile string, hosts []string) error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return err
	}

	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"chainquery (self-signed)"}, CommonName: hosts[0]},
		NotBefore:             time.Now().Add(-5 * time.Minute),
		NotAfter:              time.Now().AddDate(1, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return err
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return err
	}
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o644); err != nil {
		return err
	}
	return os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600)
}
