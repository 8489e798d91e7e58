package crypto

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"

	"filippo.io/age"
)

// DefaultSealWorkFactor is the scrypt log2(N) used for sealing the identity key.
const DefaultSealWorkFactor = 15

// SealPrivateKey encrypts an Ed25519 private key with an age scrypt passphrase.
func SealPrivateKey(key ed25519.PrivateKey, passphrase string, workFactor int) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("passphrase is required")
	}

	plaintext, err := MarshalPrivateKeyPEM(key)
	if err != nil {
		return nil, err
	}

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("create scrypt recipient: %w", err)
	}
	if workFactor > 0 {
		recipient.SetWorkFactor(workFactor)
	}

	var sealed bytes.Buffer
	writer, err := age.Encrypt(&sealed, recipient)
	if err != nil {
		return nil, fmt.Errorf("create age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("write private key to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalize age encryption: %w", err)
	}

	return sealed.Bytes(), nil
}

// OpenPrivateKey decrypts a key sealed by SealPrivateKey.
func OpenPrivateKey(sealed []byte, passphrase string) (ed25519.PrivateKey, error) {
	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("create scrypt identity: %w", err)
	}

	reader, err := age.Decrypt(bytes.NewReader(sealed), identity)
	if err != nil {
		return nil, fmt.Errorf("open sealed private key: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read sealed private key: %w", err)
	}

	return ParsePrivateKeyPEM(plaintext)
}
