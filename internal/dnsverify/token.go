package dnsverify

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
)

// TokenPrefix is the constant prefix of every verification token. The full
// token is "<prefix>-<64 lowercase hex chars>".
const TokenPrefix = "avelero-verification"

var tokenFormat = regexp.MustCompile(`^` + TokenPrefix + `-[0-9a-f]{64}$`)

// GenerateToken returns a fresh domain-verification token backed by 256 bits
// of entropy from crypto/rand. The token is an opaque bearer value: whoever
// can publish it in a TXT record controls the domain.
//
// A failure to read from the system randomness source is not recoverable and
// panics rather than returning a weaker token.
func GenerateToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("dnsverify: crypto/rand unavailable: " + err.Error())
	}
	return TokenPrefix + "-" + hex.EncodeToString(b)
}

// ValidTokenFormat reports whether s is structurally a verification token.
// It does not imply the token was ever issued.
func ValidTokenFormat(s string) bool {
	return tokenFormat.MatchString(s)
}
