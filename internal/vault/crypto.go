package vault

import (
	"crypto/rand"
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the required symmetric key length in bytes.
const KeySize = chacha20poly1305.KeySize

var errSealedTooShort = errors.New("sealed value too short")

// seal encrypts a secret with XChaCha20-Poly1305 under a random nonce
// and returns base64(nonce || ciphertext). Plaintext exists only for
// the duration of this call.
func seal(key []byte, plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// open decrypts a value produced by seal. Any error (tampering, key
// rotation, truncation) is returned as-is; callers treat every failure
// as an absent credential.
func open(key []byte, encoded string) (string, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	if len(sealed) < aead.NonceSize() {
		return "", errSealedTooShort
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
