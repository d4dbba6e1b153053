package transport

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
)

// writeTestCA creates a self-signed CA certificate and writes it as PEM.
func writeTestCA(t *testing.T) string {
	t.Helper()

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate private key: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "bzzt test CA"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &privateKey.PublicKey, privateKey)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}

	path := filepath.Join(t.TempDir(), "ca.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewClientTLSConfigEmpty(t *testing.T) {
	tlsConfig, err := NewClientTLSConfig(TLSConfig{})
	if err != nil {
		t.Fatalf("NewClientTLSConfig failed: %v", err)
	}
	if tlsConfig != nil {
		t.Error("expected nil config for empty TLSConfig")
	}
}

func TestNewClientTLSConfigCAFile(t *testing.T) {
	tlsConfig, err := NewClientTLSConfig(TLSConfig{
		CAFile:     writeTestCA(t),
		ServerName: "controller.local",
	})
	if err != nil {
		t.Fatalf("NewClientTLSConfig failed: %v", err)
	}

	if tlsConfig.RootCAs == nil {
		t.Error("RootCAs not set")
	}
	if tlsConfig.ServerName != "controller.local" {
		t.Errorf("ServerName = %q, want controller.local", tlsConfig.ServerName)
	}
	if tlsConfig.MinVersion != tls.VersionTLS12 {
		t.Errorf("MinVersion = %x, want TLS 1.2", tlsConfig.MinVersion)
	}
	if tlsConfig.InsecureSkipVerify {
		t.Error("InsecureSkipVerify should be false")
	}
}

func TestLoadCertPoolErrors(t *testing.T) {
	if _, err := LoadCertPool(filepath.Join(t.TempDir(), "missing.pem")); err == nil {
		t.Error("expected error for missing file")
	}

	empty := filepath.Join(t.TempDir(), "empty.pem")
	if err := os.WriteFile(empty, []byte("not a certificate"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCertPool(empty); err == nil {
		t.Error("expected error for file without certificates")
	}
}
