package secrets

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	vaultapi "github.com/hashicorp/vault/api"
)

const (
	vaultAuthTypeToken   = "token"
	vaultAuthTypeAppRole = "approle"

	defaultTransitMount = "transit"
)

type VaultOptions struct {
	Address          string
	Namespace        string
	AuthType         string
	Token            string
	AppRoleMountPath string
	AppRoleRoleID    string
	AppRoleSecretID  string
	TLSSkipVerify    bool
	TLSCACertPEM     string
	TransitMount     string
	TransitKey       string
}

// VaultTransit delegates encryption to a Vault transit key.
type VaultTransit struct {
	client    *vaultapi.Client
	mount     string
	key       string
	namespace string
}

func NewVaultTransit(opts VaultOptions) (*VaultTransit, error) {
	address := strings.TrimSpace(opts.Address)
	if address == "" {
		return nil, errors.New("vault address is required")
	}
	key := strings.TrimSpace(opts.TransitKey)
	if key == "" {
		return nil, errors.New("vault transit key is required")
	}
	mount := normalizeMountPath(opts.TransitMount)
	if mount == "" {
		mount = defaultTransitMount
	}
	authType := strings.ToLower(strings.TrimSpace(opts.AuthType))
	if authType == "" {
		authType = vaultAuthTypeToken
	}

	cfg := vaultapi.DefaultConfig()
	cfg.Address = address
	cfg.HttpClient = &http.Client{
		Timeout:   30 * time.Second,
		Transport: buildHTTPTransport(opts.TLSSkipVerify, strings.TrimSpace(opts.TLSCACertPEM)),
	}
	client, err := vaultapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault client setup: %w", err)
	}
	namespace := strings.TrimSpace(opts.Namespace)
	if namespace != "" {
		client.SetNamespace(namespace)
	}

	switch authType {
	case vaultAuthTypeToken:
		token := strings.TrimSpace(opts.Token)
		if token == "" {
			return nil, errors.New("vault token is required")
		}
		client.SetToken(token)
	case vaultAuthTypeAppRole:
		roleID := strings.TrimSpace(opts.AppRoleRoleID)
		secretID := strings.TrimSpace(opts.AppRoleSecretID)
		mountPath := normalizeMountPath(opts.AppRoleMountPath)
		if mountPath == "" {
			mountPath = "approle"
		}
		if roleID == "" {
			return nil, errors.New("vault AppRole role ID is required")
		}
		if secretID == "" {
			return nil, errors.New("vault AppRole secret ID is required")
		}
		loginPath := "auth/" + mountPath + "/login"
		secret, err := client.Logical().Write(loginPath, map[string]any{
			"role_id":   roleID,
			"secret_id": secretID,
		})
		if err != nil {
			return nil, fmt.Errorf("vault approle login at %s: %w", loginPath, err)
		}
		if secret == nil || secret.Auth == nil || strings.TrimSpace(secret.Auth.ClientToken) == "" {
			return nil, errors.New("vault approle login succeeded without client token")
		}
		client.SetToken(secret.Auth.ClientToken)
	default:
		return nil, errors.New("vault auth type is invalid")
	}

	return &VaultTransit{
		client:    client,
		mount:     mount,
		key:       key,
		namespace: namespace,
	}, nil
}

func (v *VaultTransit) Encrypt(ctx context.Context, plaintext string) (string, error) {
	path := v.mount + "/encrypt/" + neturl.PathEscape(v.key)
	data, err := v.write(ctx, path, map[string]any{
		"plaintext": base64.StdEncoding.EncodeToString([]byte(plaintext)),
	})
	if err != nil {
		return "", err
	}
	ciphertext := mapString(data, "ciphertext")
	if ciphertext == "" {
		return "", fmt.Errorf("vault write %s: response without ciphertext", path)
	}
	return ciphertext, nil
}

func (v *VaultTransit) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	path := v.mount + "/decrypt/" + neturl.PathEscape(v.key)
	data, err := v.write(ctx, path, map[string]any{"ciphertext": ciphertext})
	if err != nil {
		return "", err
	}
	encoded := mapString(data, "plaintext")
	plain, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("vault write %s: decode plaintext: %w", path, err)
	}
	return string(plain), nil
}

func (v *VaultTransit) write(ctx context.Context, path string, body map[string]any) (map[string]any, error) {
	secret, err := v.client.Logical().WriteWithContext(ctx, path, body)
	if err != nil {
		return nil, fmt.Errorf("vault write %s: %w", path, v.withNamespaceHint(err))
	}
	if secret == nil || secret.Data == nil {
		return map[string]any{}, nil
	}
	return secret.Data, nil
}

func (v *VaultTransit) withNamespaceHint(err error) error {
	if err == nil || v.namespace != "" {
		return err
	}
	var respErr *vaultapi.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w (no namespace configured; Vault Enterprise keys may need VAULT_NAMESPACE)", err)
	}
	return err
}

func mapString(data map[string]any, key string) string {
	raw, ok := data[key]
	if !ok || raw == nil {
		return ""
	}
	s, _ := raw.(string)
	return strings.TrimSpace(s)
}

func normalizeMountPath(path string) string {
	return strings.Trim(strings.TrimSpace(path), "/")
}

func buildHTTPTransport(skipVerify bool, caCertPEM string) http.RoundTripper {
	base, _ := http.DefaultTransport.(*http.Transport)
	if base == nil {
		return http.DefaultTransport
	}
	transport := base.Clone()
	if transport.TLSClientConfig == nil {
		transport.TLSClientConfig = &tls.Config{}
	} else {
		transport.TLSClientConfig = transport.TLSClientConfig.Clone()
	}
	transport.TLSClientConfig.MinVersion = tls.VersionTLS12
	transport.TLSClientConfig.InsecureSkipVerify = skipVerify
	if strings.TrimSpace(caCertPEM) != "" {
		pool := x509.NewCertPool()
		if pool.AppendCertsFromPEM([]byte(caCertPEM)) {
			transport.TLSClientConfig.RootCAs = pool
		}
	}
	return transport
}
