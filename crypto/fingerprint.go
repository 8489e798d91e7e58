package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// ServerAliasPrefix prefixes keystore aliases of trusted television certificates.
const ServerAliasPrefix = "tvremote-server-"

// CertificateAlias returns the deterministic keystore alias for a peer certificate.
func CertificateAlias(certificateDER []byte) string {
	sum := blake3.Sum256(certificateDER)
	return fmt.Sprintf("%s%X", ServerAliasPrefix, sum[:8])
}

// CertificateFingerprint returns the truncated BLAKE3 hex fingerprint of a certificate.
func CertificateFingerprint(certificateDER []byte) string {
	sum := blake3.Sum256(certificateDER)
	return hex.EncodeToString(sum[:16])
}

// FormatFingerprint returns fingerprint text grouped in chunks of 4 uppercase chars.
func FormatFingerprint(fingerprint string) string {
	clean := strings.ToUpper(strings.ReplaceAll(fingerprint, " ", ""))
	if clean == "" {
		return ""
	}

	var b strings.Builder
	for i := 0; i < len(clean); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}

		end := i + 4
		if end > len(clean) {
			end = len(clean)
		}
		b.WriteString(clean[i:end])
	}

	return b.String()
}
