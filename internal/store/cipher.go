package store

import (
	"context"
	"fmt"

	"github.com/open-sspm/integration-hub/internal/integration"
)

// Cipher encrypts secrets before they reach the backing store.
type Cipher interface {
	Encrypt(ctx context.Context, plaintext string) (string, error)
	Decrypt(ctx context.Context, ciphertext string) (string, error)
}

// SealConnection encrypts the credential fields of conn. A nil cipher is a no-op.
func SealConnection(ctx context.Context, c Cipher, conn integration.Connection) (integration.Connection, error) {
	if c == nil {
		return conn, nil
	}
	for _, field := range credentialFields(&conn) {
		v, err := encryptField(ctx, c, *field.value)
		if err != nil {
			return conn, fmt.Errorf("encrypt %s: %w", field.name, err)
		}
		*field.value = v
	}
	return conn, nil
}

// OpenConnection reverses SealConnection.
func OpenConnection(ctx context.Context, c Cipher, conn integration.Connection) (integration.Connection, error) {
	if c == nil {
		return conn, nil
	}
	for _, field := range credentialFields(&conn) {
		v, err := decryptField(ctx, c, *field.value)
		if err != nil {
			return conn, fmt.Errorf("decrypt %s: %w", field.name, err)
		}
		*field.value = v
	}
	return conn, nil
}

func SealWebhook(ctx context.Context, c Cipher, cfg integration.WebhookConfig) (integration.WebhookConfig, error) {
	if c == nil {
		return cfg, nil
	}
	v, err := encryptField(ctx, c, cfg.Secret)
	if err != nil {
		return cfg, fmt.Errorf("encrypt webhook secret: %w", err)
	}
	cfg.Secret = v
	return cfg, nil
}

func OpenWebhook(ctx context.Context, c Cipher, cfg integration.WebhookConfig) (integration.WebhookConfig, error) {
	if c == nil {
		return cfg, nil
	}
	v, err := decryptField(ctx, c, cfg.Secret)
	if err != nil {
		return cfg, fmt.Errorf("decrypt webhook secret: %w", err)
	}
	cfg.Secret = v
	return cfg, nil
}

// SealString encrypts a single value, leaving empty strings empty.
func SealString(ctx context.Context, c Cipher, v string) (string, error) {
	if c == nil {
		return v, nil
	}
	return encryptField(ctx, c, v)
}

type credentialField struct {
	name  string
	value *string
}

func credentialFields(conn *integration.Connection) []credentialField {
	return []credentialField{
		{name: "access token", value: &conn.AccessToken},
		{name: "refresh token", value: &conn.RefreshToken},
		{name: "api key", value: &conn.APIKey},
		{name: "api secret", value: &conn.APISecret},
	}
}

func encryptField(ctx context.Context, c Cipher, v string) (string, error) {
	if v == "" {
		return "", nil
	}
	out, err := c.Encrypt(ctx, v)
	if err != nil {
		return "", integration.Canceled("encrypt", err)
	}
	return out, nil
}

func decryptField(ctx context.Context, c Cipher, v string) (string, error) {
	if v == "" {
		return "", nil
	}
	out, err := c.Decrypt(ctx, v)
	if err != nil {
		return "", integration.Canceled("decrypt", err)
	}
	return out, nil
}
