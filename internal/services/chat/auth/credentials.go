package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// AccessCodeLength is the number of characters in an access code.
const AccessCodeLength = 8

const accessCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateAccessCode returns a random access code of uppercase letters and digits.
func GenerateAccessCode() (string, error) {
	limit := big.NewInt(int64(len(accessCodeAlphabet)))
	var b strings.Builder
	b.Grow(AccessCodeLength)
	for range AccessCodeLength {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate access code: %w", err)
		}
		b.WriteByte(accessCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeAccessCode trims and uppercases an access code for comparison.
func NormalizeAccessCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NormalizeContactAddress trims and lowercases an email address for comparison.
func NormalizeContactAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
