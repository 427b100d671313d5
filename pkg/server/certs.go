package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"log"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/acme/autocert"
)

// TLSOptions selects how the web listener gets its certificate.
type TLSOptions struct {
	Domain   string // Let's Encrypt when set
	CertFile string
	KeyFile  string
	CertDir  string // self-signed material and the autocert cache
}

// TLSResult holds the TLS config and, for Let's Encrypt, the HTTP-01
// challenge handler that must be served on :80.
type TLSResult struct {
	Config    *tls.Config
	Challenge http.Handler
}

// SetupTLS prefers Let's Encrypt, then explicit cert/key files, then a
// self-signed cert kept in CertDir.
func SetupTLS(opts TLSOptions) (*TLSResult, error) {
	switch {
	case opts.Domain != "":
		cacheDir := filepath.Join(opts.CertDir, "autocert-cache")
		if err := os.MkdirAll(cacheDir, 0700); err != nil {
			return nil, fmt.Errorf("tls: autocert cache: %w", err)
		}
		log.Printf("web: tls via Let's Encrypt for %q", opts.Domain)
		m := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(opts.Domain),
			Cache:      autocert.DirCache(cacheDir),
		}
		return &TLSResult{Config: m.TLSConfig(), Challenge: m.HTTPHandler(nil)}, nil

	case opts.CertFile != "" && opts.KeyFile != "":
		log.Printf("web: tls cert %s, key %s", opts.CertFile, opts.KeyFile)
		return loadPair(opts.CertFile, opts.KeyFile)

	default:
		if opts.CertDir == "" {
			return nil, fmt.Errorf("tls: no domain, cert or cert dir configured")
		}
		return selfSigned(opts.CertDir)
	}
}

func loadPair(certPath, keyPath string) (*TLSResult, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("tls: load %s: %w", certPath, err)
	}
	return &TLSResult{Config: &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}}, nil
}

// selfSigned loads localhost.crt/localhost.key from dir, creating them on
// first use.
func selfSigned(dir string) (*TLSResult, error) {
	certPath := filepath.Join(dir, "localhost.crt")
	keyPath := filepath.Join(dir, "localhost.key")
	if fileExists(certPath) && fileExists(keyPath) {
		return loadPair(certPath, keyPath)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("tls: cert dir: %w", err)
	}

	certPEM, keyPEM, err := newLocalhostCert(365 * 24 * time.Hour)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(certPath, certPEM, 0644); err != nil {
		return nil, fmt.Errorf("tls: write cert: %w", err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
		return nil, fmt.Errorf("tls: write key: %w", err)
	}
	log.Printf("web: tls self-signed cert written to %s", dir)
	return loadPair(certPath, keyPath)
}

func newLocalhostCert(validFor time.Duration) (certPEM, keyPEM []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("tls: generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("tls: serial: %w", err)
	}
	now := time.Now()
	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"Clawback"}, CommonName: "localhost"},
		NotBefore:             now,
		NotAfter:              now.Add(validFor),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1"), net.IPv6loopback},
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("tls: create certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("tls: marshal key: %w", err)
	}
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
