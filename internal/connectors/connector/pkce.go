package connector

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
)

const (
	stateBytes    = 32
	verifierBytes = 32

	// PKCEMethod is the only supported challenge method.
	PKCEMethod = "S256"
)

// NewCodeVerifier returns a random base64url encoded verifier without padding.
func NewCodeVerifier() string {
	return randomToken(verifierBytes)
}

// PKCEChallenge derives the S256 challenge of verifier.
func PKCEChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func randomToken(n int) string {
	b := make([]byte, n)
	// crypto/rand.Read never returns an error.
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
