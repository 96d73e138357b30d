package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

// Key-derivation and AEAD parameters, matching the scrypt/AES-256-GCM scheme
// the engine's ancestor uses for its secrets.json.enc.
const (
	secretSaltSize  = 16
	secretNonceSize = 12
	secretScryptN   = 32768 // 2^15
	secretScryptR   = 8
	secretScryptP   = 1
	secretKeySize   = 32 // AES-256
)

// EncryptAPIKey seals plaintext under password and returns a base64-encoded
// blob laid out as [salt|nonce|ciphertext+tag], suitable for storing in
// ModelConfig.EncryptedAPIKey.
func EncryptAPIKey(plaintext, password string) (string, error) {
	passwordBytes := []byte(password)
	defer zero(passwordBytes)

	salt := make([]byte, secretSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	key, err := scrypt.Key(passwordBytes, salt, secretScryptN, secretScryptR, secretScryptP, secretKeySize)
	if err != nil {
		return "", fmt.Errorf("deriving encryption key: %w", err)
	}
	defer zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("creating GCM: %w", err)
	}

	nonce := make([]byte, secretNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	blob := make([]byte, 0, secretSaltSize+secretNonceSize+len(ciphertext))
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = append(blob, ciphertext...)

	return base64.StdEncoding.EncodeToString(blob), nil
}

// DecryptAPIKey reverses EncryptAPIKey, returning an error if password is
// wrong or encoded is malformed.
func DecryptAPIKey(encoded, password string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decoding encrypted api key: %w", err)
	}

	minSize := secretSaltSize + secretNonceSize + 16 // GCM tag size
	if len(blob) < minSize {
		return "", fmt.Errorf("encrypted api key is corrupted or invalid format")
	}

	salt := blob[:secretSaltSize]
	nonce := blob[secretSaltSize : secretSaltSize+secretNonceSize]
	ciphertext := blob[secretSaltSize+secretNonceSize:]

	passwordBytes := []byte(password)
	defer zero(passwordBytes)

	key, err := scrypt.Key(passwordBytes, salt, secretScryptN, secretScryptR, secretScryptP, secretKeySize)
	if err != nil {
		return "", fmt.Errorf("deriving decryption key: %w", err)
	}
	defer zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("creating GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decryption failed (wrong password or corrupted api key)")
	}

	return string(plaintext), nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
