package webhooks

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"net/http"
	"strings"

	"github.com/open-sspm/integration-hub/internal/integration"
)

// SignatureHeaders are checked in order; the first non-empty one is used.
var SignatureHeaders = []string{
	"X-Hub-Signature-256",
	"X-Hub-Signature",
	"X-Webhook-Signature",
	"X-Signature-256",
	"X-Signature",
	"Signature",
}

var signatureAlgorithms = map[string]func() hash.Hash{
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"sha512": sha512.New,
}

// SignatureFromHeaders returns the first signature header value present.
func SignatureFromHeaders(h http.Header) (string, bool) {
	for _, name := range SignatureHeaders {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			return v, true
		}
	}
	return "", false
}

// Sign returns the "algo=hex" HMAC signature of body.
func Sign(algo, secret string, body []byte) (string, error) {
	algo = strings.ToLower(strings.TrimSpace(algo))
	newHash, ok := signatureAlgorithms[algo]
	if !ok {
		return "", integration.New(integration.KindValidation, "sign webhook", "unsupported signature algorithm "+algo)
	}
	return algo + "=" + hex.EncodeToString(computeMAC(newHash, secret, body)), nil
}

// VerifySignature checks signature against the HMAC of body keyed with
// secret. signature is either bare hex (SHA-256) or "algo=hex" with algo one
// of sha1, sha256 or sha512. Malformed values fail verification.
func VerifySignature(secret string, body []byte, signature string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return signatureInvalid("signature missing")
	}
	algo, digest := "sha256", signature
	if i := strings.IndexByte(signature, '='); i >= 0 {
		algo = strings.ToLower(strings.TrimSpace(signature[:i]))
		digest = strings.TrimSpace(signature[i+1:])
	}
	newHash, ok := signatureAlgorithms[algo]
	if !ok {
		return signatureInvalid("unsupported signature algorithm")
	}
	got, err := hex.DecodeString(digest)
	if err != nil {
		return signatureInvalid("signature is not hex encoded")
	}
	want := computeMAC(newHash, secret, body)
	if len(got) != len(want) {
		return signatureInvalid("signature length mismatch")
	}
	if !hmac.Equal(got, want) {
		return signatureInvalid("signature mismatch")
	}
	return nil
}

func computeMAC(newHash func() hash.Hash, secret string, body []byte) []byte {
	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

func signatureInvalid(msg string) error {
	return integration.New(integration.KindWebhookSignatureInvalid, "verify webhook signature", msg)
}
