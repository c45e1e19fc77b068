package models

import (
	"crypto/rand"
	"database/sql/driver"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// secretsKey is the process-wide key for encrypting secret columns at
// rest. When unset, EncryptedString round-trips plaintext, which keeps
// local development and tests simple.
var secretsKey []byte

// SetSecretsKey installs the at-rest encryption key. The key must be
// exactly 32 bytes.
func SetSecretsKey(key []byte) error {
	if len(key) != chacha20poly1305.KeySize {
		return fmt.Errorf("secrets key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	secretsKey = key
	return nil
}

// encPrefix marks a column value as ciphertext so that rows written
// before encryption was enabled still scan correctly.
const encPrefix = "enc:v1:"

// EncryptedString is a string column encrypted at rest with
// ChaCha20-Poly1305. Application code only ever sees plaintext.
type EncryptedString string

// Value implements driver.Valuer, encrypting on the way to the store.
func (s EncryptedString) Value() (driver.Value, error) {
	if secretsKey == nil || s == "" {
		return string(s), nil
	}

	aead, err := chacha20poly1305.New(secretsKey)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	sealed := aead.Seal(nonce, nonce, []byte(s), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Scan implements sql.Scanner, decrypting on the way out.
func (s *EncryptedString) Scan(value any) error {
	var raw string
	switch v := value.(type) {
	case nil:
		*s = ""
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into EncryptedString", value)
	}

	if len(raw) < len(encPrefix) || raw[:len(encPrefix)] != encPrefix {
		*s = EncryptedString(raw)
		return nil
	}

	if secretsKey == nil {
		return fmt.Errorf("encrypted column read without a secrets key")
	}

	sealed, err := base64.StdEncoding.DecodeString(raw[len(encPrefix):])
	if err != nil {
		return fmt.Errorf("malformed encrypted column: %w", err)
	}

	aead, err := chacha20poly1305.New(secretsKey)
	if err != nil {
		return err
	}
	if len(sealed) < aead.NonceSize() {
		return fmt.Errorf("malformed encrypted column: short ciphertext")
	}

	plain, err := aead.Open(nil, sealed[:aead.NonceSize()], sealed[aead.NonceSize():], nil)
	if err != nil {
		return fmt.Errorf("failed to decrypt column: %w", err)
	}

	*s = EncryptedString(plain)
	return nil
}
