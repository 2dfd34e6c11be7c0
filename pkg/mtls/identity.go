// Package mtls extracts client identity information from mutual TLS
// connections for logging and inspection.
package mtls

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"time"
)

// PeerIdentity is the identity extracted from a validated client certificate.
type PeerIdentity struct {
	CommonName   string   `json:"commonName"`
	Organization []string `json:"organization,omitempty"`
	SerialNumber string   `json:"serialNumber"`
	NotAfter     string   `json:"notAfter"`
	// Fingerprint is the SHA256 digest of the DER certificate, lowercase hex.
	Fingerprint string `json:"fingerprint"`
	Verified    bool   `json:"verified"`
}

// FromConnectionState extracts the peer identity from a completed TLS
// handshake. Returns nil when the peer presented no certificate.
func FromConnectionState(state tls.ConnectionState) *PeerIdentity {
	if len(state.PeerCertificates) == 0 {
		return nil
	}
	leaf := state.PeerCertificates[0]
	return &PeerIdentity{
		CommonName:   leaf.Subject.CommonName,
		Organization: leaf.Subject.Organization,
		SerialNumber: leaf.SerialNumber.String(),
		NotAfter:     leaf.NotAfter.UTC().Format(time.RFC3339),
		Fingerprint:  Fingerprint(leaf),
		Verified:     len(state.VerifiedChains) > 0,
	}
}

// Fingerprint calculates the SHA256 fingerprint of a certificate.
func Fingerprint(cert *x509.Certificate) string {
	if cert == nil {
		return ""
	}
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}
