package keystore

import (
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"software.sslmate.com/src/go-pkcs12"
)

func TestLoadDefaultIdentity(t *testing.T) {
	id, err := Load(Material{})
	if err != nil {
		t.Fatalf("Load(empty) error = %v", err)
	}
	if id.Leaf() == nil {
		t.Fatal("default identity has no leaf certificate")
	}
	if id.Leaf().Subject.CommonName != "localhost" {
		t.Errorf("default CN = %q, want localhost", id.Leaf().Subject.CommonName)
	}

	// The default identity is fixed for the process lifetime.
	again, err := Load(Material{})
	if err != nil {
		t.Fatalf("second Load(empty) error = %v", err)
	}
	if id != again {
		t.Error("default identity should be the same instance on every load")
	}
}

func TestLoadFromPEMData(t *testing.T) {
	certPEM, keyPEM, err := generateSelfSigned(nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	id, err := Load(Material{Data: append(append([]byte{}, certPEM...), keyPEM...)})
	if err != nil {
		t.Fatalf("Load(pem data) error = %v", err)
	}
	if id.Leaf().Subject.Organization[0] != "faultd" {
		t.Errorf("organization = %v", id.Leaf().Subject.Organization)
	}
	if len(id.CertPEM()) == 0 {
		t.Error("CertPEM should round-trip the chain")
	}
}

func TestLoadFromSplitFiles(t *testing.T) {
	certPEM, keyPEM, err := generateSelfSigned(nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	dir := t.TempDir()
	certFile := filepath.Join(dir, "server.crt")
	keyFile := filepath.Join(dir, "server.key")
	if err := os.WriteFile(certFile, certPEM, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(Material{CertFile: certFile, KeyFile: keyFile}); err != nil {
		t.Fatalf("Load(split files) error = %v", err)
	}
}

func TestLoadEncryptedKey(t *testing.T) {
	certPEM, keyPEM, err := generateSelfSigned(nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	block, _ := pem.Decode(keyPEM)
	//nolint:staticcheck // exercising the legacy encrypted-PEM surface
	encBlock, err := x509.EncryptPEMBlock(rand.Reader, block.Type, block.Bytes, []byte("password"), x509.PEMCipherAES256)
	if err != nil {
		t.Fatalf("encrypt key: %v", err)
	}
	material := append(append([]byte{}, certPEM...), pem.EncodeToMemory(encBlock)...)

	if _, err := Load(Material{Data: material, Passphrase: "password"}); err != nil {
		t.Fatalf("Load with correct passphrase error = %v", err)
	}

	_, err = Load(Material{Data: material, Passphrase: "wrong"})
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("wrong passphrase: error = %v, want ErrConfiguration", err)
	}
}

func TestLoadFromPKCS12(t *testing.T) {
	id, err := GenerateIdentity(nil)
	if err != nil {
		t.Fatalf("GenerateIdentity() error = %v", err)
	}
	bundle, err := pkcs12.Modern.Encode(id.Certificate().PrivateKey, id.Leaf(), nil, "password")
	if err != nil {
		t.Fatalf("encode bundle: %v", err)
	}

	loaded, err := Load(Material{Data: bundle, Passphrase: "password"})
	if err != nil {
		t.Fatalf("Load(pkcs12 data) error = %v", err)
	}
	if loaded.Leaf().Subject.CommonName != id.Leaf().Subject.CommonName {
		t.Errorf("CN = %q, want %q", loaded.Leaf().Subject.CommonName, id.Leaf().Subject.CommonName)
	}
	if loaded.Certificate().PrivateKey == nil {
		t.Error("decoded identity has no private key")
	}

	if _, err := Load(Material{CertFile: writeTemp(t, bundle), Passphrase: "password"}); err != nil {
		t.Fatalf("Load(pkcs12 file) error = %v", err)
	}

	_, err = Load(Material{Data: bundle, Passphrase: "wrong"})
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("wrong passphrase: error = %v, want ErrConfiguration", err)
	}
}

func TestLoadTrustAnchorsFromPKCS12(t *testing.T) {
	first, err := GenerateIdentity(nil)
	if err != nil {
		t.Fatalf("GenerateIdentity() error = %v", err)
	}
	second, err := GenerateIdentity(&CertificateConfig{
		Organization: "clients", CommonName: "client-ca", ValidFor: DefaultCertificateConfig().ValidFor,
	})
	if err != nil {
		t.Fatalf("GenerateIdentity() error = %v", err)
	}

	store, err := pkcs12.Modern.EncodeTrustStore([]*x509.Certificate{first.Leaf(), second.Leaf()}, "password")
	if err != nil {
		t.Fatalf("encode trust store: %v", err)
	}

	anchors, err := LoadTrustAnchors(Material{Data: store, Passphrase: "password"})
	if err != nil {
		t.Fatalf("LoadTrustAnchors(pkcs12) error = %v", err)
	}
	if anchors.Len() != 2 {
		t.Errorf("anchors.Len() = %d, want 2", anchors.Len())
	}

	_, err = LoadTrustAnchors(Material{Data: store, Passphrase: "wrong"})
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("wrong passphrase: error = %v, want ErrConfiguration", err)
	}
}

func TestLoadInvalidMaterial(t *testing.T) {
	tests := []struct {
		name string
		m    Material
	}{
		{name: "missing file", m: Material{CertFile: "/does/not/exist.pem"}},
		{name: "empty data", m: Material{CertFile: writeTemp(t, nil)}},
		{name: "garbage pkcs12", m: Material{Data: []byte("\x30\x03not a bundle")}},
		{name: "pem without key", m: Material{Data: certOnlyPEM(t)}},
		{name: "pem without certificate", m: Material{Data: keyOnlyPEM(t)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.m)
			if !errors.Is(err, ErrConfiguration) {
				t.Errorf("Load() error = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestLoadTrustAnchors(t *testing.T) {
	certPEM, _, err := generateSelfSigned(nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	certPEM2, _, err := generateSelfSigned(&CertificateConfig{
		Organization: "clients", CommonName: "client-ca", ValidFor: DefaultCertificateConfig().ValidFor,
	})
	if err != nil {
		t.Fatalf("generate second: %v", err)
	}

	anchors, err := LoadTrustAnchors(Material{Data: append(append([]byte{}, certPEM...), certPEM2...)})
	if err != nil {
		t.Fatalf("LoadTrustAnchors() error = %v", err)
	}
	if anchors.Len() != 2 {
		t.Errorf("anchors.Len() = %d, want 2", anchors.Len())
	}
	if anchors.Pool() == nil {
		t.Error("anchors.Pool() should not be nil")
	}
}

func TestLoadTrustAnchorsRequiresMaterial(t *testing.T) {
	_, err := LoadTrustAnchors(Material{})
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("error = %v, want ErrConfiguration", err)
	}

	_, err = LoadTrustAnchors(Material{Data: keyOnlyPEM(t)})
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("key-only material: error = %v, want ErrConfiguration", err)
	}
}

func TestGenerateIdentityUsableForTLS(t *testing.T) {
	id, err := GenerateIdentity(nil)
	if err != nil {
		t.Fatalf("GenerateIdentity() error = %v", err)
	}
	cert := id.Certificate()
	if len(cert.Certificate) == 0 || cert.PrivateKey == nil {
		t.Fatal("generated identity is not a usable tls.Certificate")
	}
	if !id.Leaf().IsCA {
		t.Error("generated identity should be self-anchoring")
	}
}

func writeTemp(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "material")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func certOnlyPEM(t *testing.T) []byte {
	t.Helper()
	certPEM, _, err := generateSelfSigned(nil)
	if err != nil {
		t.Fatal(err)
	}
	return certPEM
}

func keyOnlyPEM(t *testing.T) []byte {
	t.Helper()
	_, keyPEM, err := generateSelfSigned(nil)
	if err != nil {
		t.Fatal(err)
	}
	return keyPEM
}
