// Package pkce generates Proof Key for Code Exchange verifiers and their S256 challenges.
package pkce

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/oauth2"
)

// Alphabet is the unreserved character set (RFC 3986 section 2.3) verifiers are drawn from.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

// VerifierLength is the verifier size used for logins; the provider accepts 43 to 128.
const VerifierLength = 64

// Method is the code_challenge_method sent with every challenge.
const Method = "S256"

// RandomString draws length bytes from crypto/rand and maps each byte onto [Alphabet].
func RandomString(length int) (string, error) {
	if length < 1 {
		return "", fmt.Errorf("random string length must be positive, got %d", length)
	}

	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	for i, b := range buf {
		buf[i] = Alphabet[int(b)%len(Alphabet)]
	}
	return string(buf), nil
}

// ChallengeFor returns base64url(sha256(verifier)) without padding.
func ChallengeFor(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// Challenge pairs a verifier with its derived challenge.
type Challenge struct {
	Verifier  string
	Challenge string
}

// New generates a fresh verifier of [VerifierLength] and its challenge.
func New() (Challenge, error) {
	verifier, err := RandomString(VerifierLength)
	if err != nil {
		return Challenge{}, err
	}
	return Challenge{Verifier: verifier, Challenge: ChallengeFor(verifier)}, nil
}
