package pairing

import (
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	gammaInfo = "tvremote pairing v1"
	gammaSize = 32
)

// computeGamma binds both certificates' public keys to the nonce.
func computeGamma(client, server *x509.Certificate, nonce []byte) ([]byte, error) {
	if client == nil || server == nil {
		return nil, errors.New("pairing: both certificates are required")
	}

	ikm := make([]byte, 0, len(client.RawSubjectPublicKeyInfo)+len(server.RawSubjectPublicKeyInfo))
	ikm = append(ikm, client.RawSubjectPublicKeyInfo...)
	ikm = append(ikm, server.RawSubjectPublicKeyInfo...)

	gamma := make([]byte, gammaSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, nonce, []byte(gammaInfo)), gamma); err != nil {
		return nil, fmt.Errorf("derive pairing gamma: %w", err)
	}
	return gamma, nil
}

// displayCode is what the television shows: check bytes of gamma followed by the nonce.
func displayCode(encoding Encoding, gamma, nonce []byte) string {
	checkLen := encoding.secretBytes() - len(nonce)
	raw := make([]byte, 0, encoding.secretBytes())
	raw = append(raw, gamma[:checkLen]...)
	raw = append(raw, nonce...)
	return encoding.EncodeSecret(raw)
}

// splitCode separates a decoded code into its check and nonce halves.
func splitCode(encoding Encoding, raw []byte) (check, nonce []byte) {
	n := encoding.nonceBytes()
	return raw[:len(raw)-n], raw[len(raw)-n:]
}

func checkMatches(gamma, check []byte) bool {
	if len(check) > len(gamma) {
		return false
	}
	return subtle.ConstantTimeCompare(gamma[:len(check)], check) == 1
}

func gammaMatches(expected, got []byte) bool {
	return subtle.ConstantTimeCompare(expected, got) == 1
}
