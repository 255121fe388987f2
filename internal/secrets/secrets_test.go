package secrets

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testKey() string {
	return base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
}

func TestAEADRoundTrip(t *testing.T) {
	t.Parallel()

	c, err := NewAEAD(testKey())
	if err != nil {
		t.Fatalf("NewAEAD() error = %v", err)
	}
	ctx := context.Background()
	sealed, err := c.Encrypt(ctx, "refresh-token")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if !strings.HasPrefix(sealed, aeadPrefix) || strings.Contains(sealed, "refresh-token") {
		t.Fatalf("Encrypt()=%q does not look sealed", sealed)
	}
	again, err := c.Encrypt(ctx, "refresh-token")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if again == sealed {
		t.Fatalf("Encrypt() reused a nonce")
	}
	plain, err := c.Decrypt(ctx, sealed)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if plain != "refresh-token" {
		t.Fatalf("Decrypt()=%q want %q", plain, "refresh-token")
	}
}

func TestAEADRejectsTampering(t *testing.T) {
	t.Parallel()

	c, err := NewAEAD(testKey())
	if err != nil {
		t.Fatalf("NewAEAD() error = %v", err)
	}
	ctx := context.Background()
	sealed, err := c.Encrypt(ctx, "value")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	i := len(aeadPrefix) + 40
	flipped := byte('A')
	if sealed[i] == 'A' {
		flipped = 'B'
	}
	if _, err := c.Decrypt(ctx, sealed[:i]+string(flipped)+sealed[i+1:]); err == nil {
		t.Fatalf("Decrypt(tampered) error = nil want failure")
	}
	if _, err := c.Decrypt(ctx, "plain"); err == nil {
		t.Fatalf("Decrypt(unprefixed) error = nil want failure")
	}
}

func TestNewAEADKeyValidation(t *testing.T) {
	t.Parallel()

	for _, key := range []string{"", "not base64!", base64.StdEncoding.EncodeToString([]byte("short"))} {
		if _, err := NewAEAD(key); err == nil {
			t.Fatalf("NewAEAD(%q) error = nil want failure", key)
		}
	}
}

func TestVaultTransitRoundTrip(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Vault-Token"); got != "s.token" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch r.URL.Path {
		case "/v1/transit/encrypt/connections":
			plaintext, _ := body["plaintext"].(string)
			writeJSON(t, w, map[string]any{"data": map[string]any{"ciphertext": "vault:v1:" + plaintext}})
		case "/v1/transit/decrypt/connections":
			ciphertext, _ := body["ciphertext"].(string)
			writeJSON(t, w, map[string]any{"data": map[string]any{"plaintext": strings.TrimPrefix(ciphertext, "vault:v1:")}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	c, err := NewVaultTransit(VaultOptions{
		Address:    server.URL,
		Token:      "s.token",
		TransitKey: "connections",
	})
	if err != nil {
		t.Fatalf("NewVaultTransit() error = %v", err)
	}

	ctx := context.Background()
	sealed, err := c.Encrypt(ctx, "api-key")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if !strings.HasPrefix(sealed, "vault:v1:") {
		t.Fatalf("Encrypt()=%q want vault ciphertext", sealed)
	}
	plain, err := c.Decrypt(ctx, sealed)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if plain != "api-key" {
		t.Fatalf("Decrypt()=%q want %q", plain, "api-key")
	}
}

func TestNewVaultTransitValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts VaultOptions
	}{
		{name: "missing address", opts: VaultOptions{Token: "t", TransitKey: "k"}},
		{name: "missing key", opts: VaultOptions{Address: "http://vault", Token: "t"}},
		{name: "missing token", opts: VaultOptions{Address: "http://vault", TransitKey: "k"}},
		{name: "bad auth type", opts: VaultOptions{Address: "http://vault", TransitKey: "k", AuthType: "ldap"}},
	}
	for _, tt := range tests {
		if _, err := NewVaultTransit(tt.opts); err == nil {
			t.Fatalf("%s: NewVaultTransit() error = nil want failure", tt.name)
		}
	}
}

func writeJSON(t *testing.T, w http.ResponseWriter, payload map[string]any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		t.Fatalf("encode response: %v", err)
	}
}
