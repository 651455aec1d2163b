package util

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

const tokenBytes = 32

func GenerateToken() (string, error) {
	bytes := make([]byte, tokenBytes)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// MaskCode hides the second half of a pairing code for logs.
func MaskCode(code string) string {
	if len(code) <= 4 {
		return "****"
	}
	return code[:4] + "-****"
}

// MaskToken keeps a short prefix of a bearer secret for correlation in logs.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return "********"
	}
	return token[:6] + "…"
}
