package crypto

import (
	"bytes"
	"crypto/x509"
	"errors"
	"strings"
	"testing"
)

const testWorkFactor = 10

func TestGenerateIdentityProducesUsableTLSCertificate(t *testing.T) {
	id, err := GenerateIdentity(CertificateName("Couch", "install-1"))
	if err != nil {
		t.Fatalf("GenerateIdentity failed: %v", err)
	}

	if id.Certificate.Subject.CommonName != "tvremote/Couch/install-1" {
		t.Fatalf("unexpected common name %q", id.Certificate.Subject.CommonName)
	}

	pool := x509.NewCertPool()
	pool.AddCert(id.Certificate)
	if _, err := id.Certificate.Verify(x509.VerifyOptions{
		Roots:     pool,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}); err != nil {
		t.Fatalf("expected self-signed certificate to verify as client cert: %v", err)
	}

	tlsCert := id.TLSCertificate()
	if len(tlsCert.Certificate) != 1 || !bytes.Equal(tlsCert.Certificate[0], id.Certificate.Raw) {
		t.Fatalf("expected TLS certificate chain to hold the identity certificate")
	}
}

func TestNewIdentityRejectsMismatchedKey(t *testing.T) {
	first, err := GenerateIdentity("first")
	if err != nil {
		t.Fatalf("GenerateIdentity first failed: %v", err)
	}
	second, err := GenerateIdentity("second")
	if err != nil {
		t.Fatalf("GenerateIdentity second failed: %v", err)
	}

	if _, err := NewIdentity(first.PrivateKey, first.Certificate.Raw); err != nil {
		t.Fatalf("expected matching key and certificate to load: %v", err)
	}
	if _, err := NewIdentity(first.PrivateKey, second.Certificate.Raw); !errors.Is(err, ErrKeyMismatch) {
		t.Fatalf("expected ErrKeyMismatch, got %v", err)
	}
}

func TestSealedPrivateKeyRoundTrip(t *testing.T) {
	id, err := GenerateIdentity("seal")
	if err != nil {
		t.Fatalf("GenerateIdentity failed: %v", err)
	}

	sealed, err := SealPrivateKey(id.PrivateKey, "1234567890", testWorkFactor)
	if err != nil {
		t.Fatalf("SealPrivateKey failed: %v", err)
	}
	if bytes.Contains(sealed, []byte("PRIVATE KEY")) {
		t.Fatalf("sealed output must not contain the plaintext PEM")
	}

	opened, err := OpenPrivateKey(sealed, "1234567890")
	if err != nil {
		t.Fatalf("OpenPrivateKey failed: %v", err)
	}
	if !bytes.Equal(opened, id.PrivateKey) {
		t.Fatalf("opened key differs from sealed key")
	}

	if _, err := OpenPrivateKey(sealed, "wrong"); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
}

func TestCertificateAliasIsDeterministic(t *testing.T) {
	id, err := GenerateIdentity("alias")
	if err != nil {
		t.Fatalf("GenerateIdentity failed: %v", err)
	}
	other, err := GenerateIdentity("alias")
	if err != nil {
		t.Fatalf("GenerateIdentity other failed: %v", err)
	}

	first := CertificateAlias(id.Certificate.Raw)
	second := CertificateAlias(id.Certificate.Raw)
	if first != second {
		t.Fatalf("alias not stable: %q vs %q", first, second)
	}
	if !strings.HasPrefix(first, ServerAliasPrefix) {
		t.Fatalf("alias %q missing prefix", first)
	}
	if first == CertificateAlias(other.Certificate.Raw) {
		t.Fatalf("distinct certificates produced the same alias")
	}
}

func TestFormatFingerprintGroupsByFour(t *testing.T) {
	got := FormatFingerprint("deadbeef0011ab")
	if got != "DEAD BEEF 0011 AB" {
		t.Fatalf("unexpected formatted fingerprint %q", got)
	}
	if FormatFingerprint("") != "" {
		t.Fatalf("expected empty fingerprint to stay empty")
	}
}
