// Package vault encrypts secret configuration fields (passwords, private
// keys, passphrases, certificates) at rest with AES-GCM, keyed by a single
// deployment-wide secret.
//
// The envelope format is hex(nonce) + ":" + hex(ciphertext). Decrypt is
// deliberately forgiving: values that do not look like an envelope, or that
// fail to decrypt (e.g. written before the secret was rotated), are returned
// unchanged with a warning so that legacy rows never crash a caller.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/drawbridge-dev/drawbridge/internal/logging"
)

const envelopeSeparator = ":"

// Vault performs symmetric encryption of secret fields. The zero value is
// not usable; construct with New.
type Vault struct {
	key    []byte
	logger logging.Logger
}

// New derives a 256-bit AES key from the deployment secret. The secret may
// be any non-empty string; it is hashed, not used directly.
func New(secret string, logger logging.Logger) (*Vault, error) {
	if secret == "" {
		return nil, fmt.Errorf("vault: empty secret")
	}
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	key := sha256.Sum256([]byte(secret))
	return &Vault{key: key[:], logger: logger}, nil
}

// Encrypt seals plaintext into an envelope with a fresh random nonce per
// call. Empty input is a no-op and returns "" without error.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("cipher init: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("gcm init: %w", err)
	}

	nonce := make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}

	ciphertext := aesgcm.Seal(nil, nonce, []byte(plaintext), nil)

	return hex.EncodeToString(nonce) + envelopeSeparator + hex.EncodeToString(ciphertext), nil
}

// Decrypt opens an envelope produced by Encrypt. Values that do not split
// into exactly two parts are treated as legacy/unencrypted and passed
// through unchanged. Cryptographic failures are logged and the input is
// likewise returned unchanged; callers must tolerate receiving such values.
func (v *Vault) Decrypt(envelope string) string {
	if envelope == "" {
		return ""
	}

	parts := strings.Split(envelope, envelopeSeparator)
	if len(parts) != 2 {
		v.logger.Warn(context.Background(), "vault: value is not an envelope, passing through unchanged")
		return envelope
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil {
		v.logger.Warn(context.Background(), "vault: malformed nonce, passing through unchanged", "err", err)
		return envelope
	}
	ciphertext, err := hex.DecodeString(parts[1])
	if err != nil {
		v.logger.Warn(context.Background(), "vault: malformed ciphertext, passing through unchanged", "err", err)
		return envelope
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		v.logger.Error(context.Background(), "vault: cipher init failed", "err", err)
		return envelope
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		v.logger.Error(context.Background(), "vault: gcm init failed", "err", err)
		return envelope
	}

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		// Most commonly a value written under a rotated secret.
		v.logger.Warn(context.Background(), "vault: decryption failed, passing through unchanged", "err", err)
		return envelope
	}

	return string(plaintext)
}
