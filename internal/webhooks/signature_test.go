package webhooks

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/open-sspm/integration-hub/internal/integration"
)

const (
	testSecret = "s3cr3t"
	testBody   = `{"event":"ping"}`
	sha256Hex  = "80c0629c2df3179438ab50967ccaaedfdbcc95e266c5f8f0cb2258363f3a7724"
	sha1Hex    = "45931cdbedcb519b715b3bebb9b3b9e13c755319"
)

func TestVerifySignature(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		signature string
		wantErr   bool
	}{
		{name: "bare hex", signature: sha256Hex},
		{name: "sha256 prefixed", signature: "sha256=" + sha256Hex},
		{name: "upper case algorithm", signature: "SHA256=" + sha256Hex},
		{name: "upper case hex", signature: "sha256=" + strings.ToUpper(sha256Hex)},
		{name: "sha1 prefixed", signature: "sha1=" + sha1Hex},
		{name: "sha1 digest labelled sha256", signature: "sha256=" + sha1Hex, wantErr: true},
		{name: "flipped digit", signature: "sha256=" + sha256Hex[:len(sha256Hex)-1] + "5", wantErr: true},
		{name: "not hex", signature: "sha256=zz" + sha256Hex[2:], wantErr: true},
		{name: "unknown algorithm", signature: "md5=" + sha256Hex, wantErr: true},
		{name: "empty", signature: "", wantErr: true},
		{name: "truncated", signature: sha256Hex[:10], wantErr: true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			err := VerifySignature(testSecret, []byte(testBody), test.signature)
			if test.wantErr {
				if !errors.Is(err, integration.ErrWebhookSignatureInvalid) {
					t.Fatalf("VerifySignature(%q) error=%v want signature invalid", test.signature, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("VerifySignature(%q) error=%v want nil", test.signature, err)
			}
		})
	}
}

func TestVerifySignatureWrongSecret(t *testing.T) {
	t.Parallel()

	if err := VerifySignature("other", []byte(testBody), sha256Hex); !errors.Is(err, integration.ErrWebhookSignatureInvalid) {
		t.Fatalf("VerifySignature() error=%v want signature invalid", err)
	}
}

func TestSign(t *testing.T) {
	t.Parallel()

	got, err := Sign("sha256", testSecret, []byte(testBody))
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if got != "sha256="+sha256Hex {
		t.Fatalf("Sign()=%q want sha256=%s", got, sha256Hex)
	}
	sig512, err := Sign("sha512", testSecret, []byte(testBody))
	if err != nil {
		t.Fatalf("Sign(sha512) error = %v", err)
	}
	if err := VerifySignature(testSecret, []byte(testBody), sig512); err != nil {
		t.Fatalf("VerifySignature(sha512) error = %v", err)
	}
	if _, err := Sign("md5", testSecret, nil); err == nil {
		t.Fatalf("Sign(md5) error=nil want error")
	}
}

func TestSignatureFromHeaders(t *testing.T) {
	t.Parallel()

	for _, name := range SignatureHeaders {
		h := http.Header{}
		h.Set(name, " value ")
		got, ok := SignatureFromHeaders(h)
		if !ok || got != "value" {
			t.Fatalf("SignatureFromHeaders(%s)=(%q,%v) want (value,true)", name, got, ok)
		}
	}

	h := http.Header{}
	h.Set("X-Signature", "second")
	h.Set("X-Hub-Signature-256", "first")
	if got, _ := SignatureFromHeaders(h); got != "first" {
		t.Fatalf("SignatureFromHeaders()=%q want first", got)
	}
	if _, ok := SignatureFromHeaders(http.Header{}); ok {
		t.Fatalf("SignatureFromHeaders(empty) ok=true want false")
	}
}
