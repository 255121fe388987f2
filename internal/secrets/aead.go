// Package secrets provides the at-rest ciphers used by the connection store.
package secrets

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const aeadPrefix = "xc1:"

// AEAD seals values with XChaCha20-Poly1305 under a local key.
type AEAD struct {
	key []byte
}

// NewAEAD builds a cipher from a base64 encoded 32 byte key.
func NewAEAD(encodedKey string) (*AEAD, error) {
	encodedKey = strings.TrimSpace(encodedKey)
	if encodedKey == "" {
		return nil, errors.New("secrets key is required")
	}
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("decode secrets key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("secrets key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &AEAD{key: key}, nil
}

func (a *AEAD) Encrypt(ctx context.Context, plaintext string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(a.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return aeadPrefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

func (a *AEAD) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	raw, ok := strings.CutPrefix(ciphertext, aeadPrefix)
	if !ok {
		return "", errors.New("ciphertext has unknown format")
	}
	sealed, err := base64.RawStdEncoding.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	aead, err := chacha20poly1305.NewX(a.key)
	if err != nil {
		return "", err
	}
	if len(sealed) < aead.NonceSize() {
		return "", errors.New("ciphertext too short")
	}
	nonce, body := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, body, nil)
	if err != nil {
		return "", fmt.Errorf("open ciphertext: %w", err)
	}
	return string(plain), nil
}
