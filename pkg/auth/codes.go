package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

const bcryptCost = 10

// Recovery codes are grouped for readability: XXXXX-XXXXX. The alphabet
// excludes ambiguous characters (0/O, 1/I/L).
const recoveryCodeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// GenerateRecoveryCode returns a new plaintext recovery code.
func GenerateRecoveryCode() (string, error) {
	raw := make([]byte, 10)
	alphabetLen := big.NewInt(int64(len(recoveryCodeAlphabet)))
	for i := range raw {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", fmt.Errorf("failed to generate recovery code: %w", err)
		}
		raw[i] = recoveryCodeAlphabet[n.Int64()]
	}
	return string(raw[:5]) + "-" + string(raw[5:]), nil
}

// HashRecoveryCode hashes a recovery code for storage.
func HashRecoveryCode(code string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash recovery code: %w", err)
	}
	return string(hash), nil
}

// CompareRecoveryCode checks a plaintext code against a stored hash.
func CompareRecoveryCode(hash, code string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code))
}

// GenerateNumericCode returns an n-digit one-time code for email delivery.
func GenerateNumericCode(n int) (string, error) {
	digits := make([]byte, n)
	ten := big.NewInt(10)
	for i := range digits {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		digits[i] = byte('0' + d.Int64())
	}
	return string(digits), nil
}

// HashCode returns a SHA-256 hex digest of a one-time code. Verification
// re-hashes the presented code, so only the digest is stored.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// CompareCodeHash compares a stored digest with the digest of a presented
// code in constant time.
func CompareCodeHash(storedHash, code string) bool {
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(HashCode(code))) == 1
}
