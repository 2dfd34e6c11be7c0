// Package keystore loads server identities and client trust anchors from
// PEM or PKCS#12 material, and generates a built-in self-signed identity
// when no material is supplied.
package keystore

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"software.sslmate.com/src/go-pkcs12"
)

// ErrConfiguration indicates structurally invalid or undecodable identity
// or trust material. It is always raised synchronously during startup,
// before any socket is opened.
var ErrConfiguration = errors.New("invalid keystore material")

// Material references certificate and key material by file path or as an
// in-memory blob. Data takes precedence when set. An entirely zero Material
// resolves to the built-in default identity.
type Material struct {
	// CertFile is a path to PEM material (certificate plus key if KeyFile
	// is empty) or to a PKCS#12 bundle.
	CertFile string
	// KeyFile optionally holds the private key when PEM material is split
	// across two files.
	KeyFile string
	// Data is in-memory PEM or PKCS#12 material.
	Data []byte
	// Passphrase decrypts PKCS#12 bundles and encrypted PEM keys.
	Passphrase string
}

func (m Material) empty() bool {
	return m.CertFile == "" && m.KeyFile == "" && len(m.Data) == 0
}

// ServerIdentity is the certificate and private key a TLS endpoint presents.
// Immutable once loaded; safe for concurrent read-only use.
type ServerIdentity struct {
	cert    tls.Certificate
	leaf    *x509.Certificate
	certPEM []byte
}

// Certificate returns the identity as a tls.Certificate.
func (id *ServerIdentity) Certificate() tls.Certificate { return id.cert }

// Leaf returns the parsed leaf certificate.
func (id *ServerIdentity) Leaf() *x509.Certificate { return id.leaf }

// CertPEM returns the PEM-encoded certificate chain. Clients use it to
// trust the endpoint without disabling verification.
func (id *ServerIdentity) CertPEM() []byte { return id.certPEM }

// TrustAnchorSet holds CA or self-signed certificates accepted for peer
// validation. Read-only after load.
type TrustAnchorSet struct {
	pool  *x509.CertPool
	certs []*x509.Certificate
}

// Pool returns the anchors as an x509.CertPool for tls.Config.ClientCAs.
func (t *TrustAnchorSet) Pool() *x509.CertPool { return t.pool }

// Len returns the number of anchors in the set.
func (t *TrustAnchorSet) Len() int { return len(t.certs) }

// Load loads a server identity. Empty material yields the built-in default
// identity so an endpoint can start with zero configuration.
func Load(m Material) (*ServerIdentity, error) {
	if m.empty() {
		return DefaultIdentity()
	}

	data := m.Data
	if data == nil {
		var err error
		data, err = os.ReadFile(m.CertFile)
		if err != nil {
			return nil, configError("read identity material", err)
		}
	}
	if len(data) == 0 {
		return nil, configError("identity material is empty", nil)
	}

	if isPEM(data) {
		keyPEM := data
		if m.KeyFile != "" {
			var err error
			keyPEM, err = os.ReadFile(m.KeyFile)
			if err != nil {
				return nil, configError("read key material", err)
			}
		}
		return identityFromPEM(data, keyPEM, []byte(m.Passphrase))
	}
	return identityFromPKCS12(data, m.Passphrase)
}

// LoadTrustAnchors loads a trust anchor set from PEM or PKCS#12 material.
// Unlike Load, absent material is an error: mutual authentication without
// anchors is meaningless.
func LoadTrustAnchors(m Material) (*TrustAnchorSet, error) {
	if m.empty() {
		return nil, configError("trust anchor material is required", nil)
	}

	data := m.Data
	if data == nil {
		var err error
		data, err = os.ReadFile(m.CertFile)
		if err != nil {
			return nil, configError("read trust anchor material", err)
		}
	}
	if len(data) == 0 {
		return nil, configError("trust anchor material is empty", nil)
	}

	var certs []*x509.Certificate
	if isPEM(data) {
		rest := data
		for {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				break
			}
			if block.Type != "CERTIFICATE" {
				continue
			}
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, configError("parse trust anchor certificate", err)
			}
			certs = append(certs, cert)
		}
	} else {
		var err error
		certs, err = pkcs12.DecodeTrustStore(data, m.Passphrase)
		if err != nil {
			return nil, configError("decode PKCS#12 trust store", err)
		}
	}

	if len(certs) == 0 {
		return nil, configError("no certificates found in trust anchor material", nil)
	}

	pool := x509.NewCertPool()
	for _, cert := range certs {
		pool.AddCert(cert)
	}
	return &TrustAnchorSet{pool: pool, certs: certs}, nil
}

// defaultIdentity is generated once per process. The endpoint treats it as
// fixed, built-in material.
var defaultIdentity = sync.OnceValues(func() (*ServerIdentity, error) {
	return GenerateIdentity(DefaultCertificateConfig())
})

// DefaultIdentity returns the built-in self-signed identity.
func DefaultIdentity() (*ServerIdentity, error) {
	return defaultIdentity()
}

// isPEM reports whether data looks like PEM material. Anything else is
// treated as a PKCS#12 bundle.
func isPEM(data []byte) bool {
	block, _ := pem.Decode(data)
	return block != nil
}

func identityFromPEM(certPEM, keyPEM, passphrase []byte) (*ServerIdentity, error) {
	keyBlock, err := findKeyBlock(keyPEM, passphrase)
	if err != nil {
		return nil, err
	}

	chainPEM := certBlocks(certPEM)
	if len(chainPEM) == 0 {
		return nil, configError("no certificate found in identity material", nil)
	}

	cert, err := tls.X509KeyPair(chainPEM, pem.EncodeToMemory(keyBlock))
	if err != nil {
		return nil, configError("assemble key pair", err)
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, configError("parse leaf certificate", err)
	}
	cert.Leaf = leaf

	return &ServerIdentity{cert: cert, leaf: leaf, certPEM: chainPEM}, nil
}

func identityFromPKCS12(data []byte, passphrase string) (*ServerIdentity, error) {
	key, leaf, caCerts, err := pkcs12.DecodeChain(data, passphrase)
	if err != nil {
		return nil, configError("decode PKCS#12 bundle", err)
	}

	cert := tls.Certificate{
		Certificate: [][]byte{leaf.Raw},
		PrivateKey:  key,
		Leaf:        leaf,
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: leaf.Raw})
	for _, ca := range caCerts {
		cert.Certificate = append(cert.Certificate, ca.Raw)
		certPEM = append(certPEM, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ca.Raw})...)
	}

	return &ServerIdentity{cert: cert, leaf: leaf, certPEM: certPEM}, nil
}

// certBlocks extracts every CERTIFICATE block from PEM data, preserving order.
func certBlocks(data []byte) []byte {
	var out []byte
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return out
		}
		if block.Type == "CERTIFICATE" {
			out = append(out, pem.EncodeToMemory(block)...)
		}
	}
}

// findKeyBlock locates the private key block in PEM data, decrypting it
// with the passphrase when the block uses legacy PEM encryption.
func findKeyBlock(data []byte, passphrase []byte) (*pem.Block, error) {
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, configError("no private key found in identity material", nil)
		}
		if !strings.HasSuffix(block.Type, "PRIVATE KEY") {
			continue
		}

		//nolint:staticcheck // legacy encrypted PEM keys are part of the supported material surface
		if x509.IsEncryptedPEMBlock(block) {
			//nolint:staticcheck
			der, err := x509.DecryptPEMBlock(block, passphrase)
			if err != nil {
				return nil, configError("decrypt private key (wrong passphrase?)", err)
			}
			return &pem.Block{Type: block.Type, Bytes: der}, nil
		}
		return block, nil
	}
}

func configError(msg string, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConfiguration, msg, err)
	}
	return fmt.Errorf("%w: %s", ErrConfiguration, msg)
}
