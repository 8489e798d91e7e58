package pairing

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// EncodingHexadecimal encodes secrets as hex digits.
const EncodingHexadecimal = "hexadecimal"

// DefaultSymbolLength is the number of hex symbols shown on the television.
const DefaultSymbolLength = 4

var (
	// ErrSecretFormat indicates a secret that does not decode under the negotiated encoding.
	ErrSecretFormat = errors.New("pairing: secret has wrong format")
)

// Encoding describes how a secret is rendered for a human.
type Encoding struct {
	Type         string `json:"type"`
	SymbolLength int    `json:"symbol_length"`
}

// DefaultEncoding is the only encoding offered and accepted.
func DefaultEncoding() Encoding {
	return Encoding{Type: EncodingHexadecimal, SymbolLength: DefaultSymbolLength}
}

func (e Encoding) String() string {
	return fmt.Sprintf("%s/%d", e.Type, e.SymbolLength)
}

func (e Encoding) valid() bool {
	return e.Type == EncodingHexadecimal && e.SymbolLength > 0 && e.SymbolLength%4 == 0
}

// secretBytes is the number of raw bytes behind the displayed code.
func (e Encoding) secretBytes() int {
	return e.SymbolLength / 2
}

// nonceBytes is the trailing half of the code; the leading half is the check.
func (e Encoding) nonceBytes() int {
	return e.secretBytes() / 2
}

// EncodeSecret renders raw secret bytes as displayed symbols.
func (e Encoding) EncodeSecret(raw []byte) string {
	return strings.ToUpper(hex.EncodeToString(raw))
}

// DecodeSecret parses symbols typed by the user.
func (e Encoding) DecodeSecret(code string) ([]byte, error) {
	clean := strings.ReplaceAll(strings.TrimSpace(code), " ", "")
	if len(clean) != e.SymbolLength {
		return nil, fmt.Errorf("%w: want %d symbols, got %d", ErrSecretFormat, e.SymbolLength, len(clean))
	}
	raw, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSecretFormat, err)
	}
	return raw, nil
}

func containsEncoding(list []Encoding, want Encoding) bool {
	for _, candidate := range list {
		if candidate == want {
			return true
		}
	}
	return false
}
