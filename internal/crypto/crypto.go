/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package crypto provides the listener's security helpers: AES-256-GCM
// sealing of gateway credentials kept in configuration files, and the client
// TLS configuration used to reach the connector gateway.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// KeySize is the required key size for AES-256 (32 bytes).
	KeySize = 32

	// NonceSize is the size of the GCM nonce (12 bytes).
	NonceSize = 12

	// TagSize is the size of the GCM authentication tag (16 bytes).
	TagSize = 16

	// SecretPrefix marks a sealed configuration value.
	SecretPrefix = "enc:"
)

var (
	// ErrInvalidKeySize is returned when the key is not 32 bytes.
	ErrInvalidKeySize = errors.New("crypto: key must be 32 bytes (256 bits)")

	// ErrInvalidKeyFormat is returned when the hex key cannot be decoded.
	ErrInvalidKeyFormat = errors.New("crypto: key must be valid hex-encoded string")

	// ErrCiphertextTooShort is returned when ciphertext is shorter than nonce + tag.
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")

	// ErrDecryptionFailed is returned when decryption or authentication fails.
	ErrDecryptionFailed = errors.New("crypto: decryption failed - data may be corrupted or tampered")

	// ErrMissingKey is returned when a sealed value is opened without a key.
	ErrMissingKey = errors.New("crypto: sealed value requires a secret key")
)

// Encryptor provides AES-256-GCM encryption and decryption.
type Encryptor struct {
	gcm cipher.AEAD
}

// NewEncryptor creates a new Encryptor with the given hex-encoded key.
// The key must be 64 hex characters (32 bytes / 256 bits).
func NewEncryptor(hexKey string) (*Encryptor, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, ErrInvalidKeyFormat
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
	}
	return &Encryptor{gcm: gcm}, nil
}

// Encrypt encrypts plaintext using AES-256-GCM.
// Returns: nonce (12 bytes) || ciphertext || tag (16 bytes)
func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}
	return e.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts ciphertext that was encrypted with Encrypt.
func (e *Encryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize+TagSize {
		return nil, ErrCiphertextTooShort
	}
	plaintext, err := e.gcm.Open(nil, ciphertext[:NonceSize], ciphertext[NonceSize:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// SealSecret encrypts a credential for storage in a configuration file.
// The result is "enc:" followed by the hex-encoded ciphertext.
func SealSecret(plain, hexKey string) (string, error) {
	enc, err := NewEncryptor(hexKey)
	if err != nil {
		return "", err
	}
	sealed, err := enc.Encrypt([]byte(plain))
	if err != nil {
		return "", err
	}
	return SecretPrefix + hex.EncodeToString(sealed), nil
}

// OpenSecret returns the plain text of a configuration credential. Values
// without the "enc:" prefix are returned unchanged.
func OpenSecret(value, hexKey string) (string, error) {
	if !strings.HasPrefix(value, SecretPrefix) {
		return value, nil
	}
	if hexKey == "" {
		return "", ErrMissingKey
	}
	enc, err := NewEncryptor(hexKey)
	if err != nil {
		return "", err
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(value, SecretPrefix))
	if err != nil {
		return "", fmt.Errorf("crypto: sealed value is not hex: %w", err)
	}
	plain, err := enc.Decrypt(raw)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// GenerateKey generates a cryptographically secure random 256-bit key.
// Returns the key as a hex-encoded string.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("crypto: failed to generate key: %w", err)
	}
	return hex.EncodeToString(key), nil
}
