package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

const (
	privateKeyPEMType = "PRIVATE KEY"

	certificateValidity = 20 * 365 * 24 * time.Hour
	certificateBackdate = time.Hour
)

var (
	// ErrKeyMismatch indicates a private key does not belong to the certificate.
	ErrKeyMismatch = errors.New("crypto: private key does not match certificate")
)

// Identity is the local remote-control key pair plus its self-signed certificate.
type Identity struct {
	PrivateKey  ed25519.PrivateKey
	Certificate *x509.Certificate
}

// CertificateName returns the common name bound to a per-install identity.
func CertificateName(clientName, installID string) string {
	name := strings.TrimSpace(clientName)
	if name == "" {
		name = "remote"
	}
	return "tvremote/" + name + "/" + installID
}

// GenerateIdentity creates a fresh Ed25519 key pair and a self-signed certificate.
func GenerateIdentity(commonName string) (*Identity, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate Ed25519 keypair: %w", err)
	}

	certificate, err := SelfSign(privateKey, publicKey, commonName)
	if err != nil {
		return nil, err
	}

	return &Identity{PrivateKey: privateKey, Certificate: certificate}, nil
}

// SelfSign issues a certificate usable for both TLS client and server auth.
func SelfSign(privateKey ed25519.PrivateKey, publicKey ed25519.PublicKey, commonName string) (*x509.Certificate, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 127))
	if err != nil {
		return nil, fmt.Errorf("generate certificate serial: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             now.Add(-certificateBackdate),
		NotAfter:              now.Add(certificateValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, publicKey, privateKey)
	if err != nil {
		return nil, fmt.Errorf("create self-signed certificate: %w", err)
	}

	certificate, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse self-signed certificate: %w", err)
	}
	return certificate, nil
}

// NewIdentity pairs a stored key with its stored certificate, validating the match.
func NewIdentity(privateKey ed25519.PrivateKey, certificateDER []byte) (*Identity, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid Ed25519 private key length: got %d want %d", len(privateKey), ed25519.PrivateKeySize)
	}

	certificate, err := x509.ParseCertificate(certificateDER)
	if err != nil {
		return nil, fmt.Errorf("parse identity certificate: %w", err)
	}

	certPublic, ok := certificate.PublicKey.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("identity certificate: unexpected public key type %T", certificate.PublicKey)
	}
	if !bytes.Equal(certPublic, privateKey.Public().(ed25519.PublicKey)) {
		return nil, ErrKeyMismatch
	}

	return &Identity{PrivateKey: privateKey, Certificate: certificate}, nil
}

// TLSCertificate returns the identity in the form crypto/tls presents to peers.
func (id *Identity) TLSCertificate() tls.Certificate {
	return tls.Certificate{
		Certificate: [][]byte{id.Certificate.Raw},
		PrivateKey:  id.PrivateKey,
		Leaf:        id.Certificate,
	}
}

// MarshalPrivateKeyPEM encodes an Ed25519 private key as PKCS#8 PEM.
func MarshalPrivateKeyPEM(key ed25519.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal Ed25519 private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: privateKeyPEMType, Bytes: der}), nil
}

// ParsePrivateKeyPEM decodes a PKCS#8 PEM Ed25519 private key.
func ParsePrivateKeyPEM(raw []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("decode private key PEM: no PEM block")
	}
	if block.Type != privateKeyPEMType {
		return nil, fmt.Errorf("decode private key PEM: unexpected type %q", block.Type)
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse PKCS#8 private key: %w", err)
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("parse PKCS#8 private key: unexpected key type %T", parsed)
	}
	return key, nil
}
