// Package auth provides credential hashing and verification.
package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/tmarkov/bankcore/internal/models"
)

// Hash derives a storable hash from a plaintext password.
func Hash(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password must not be empty: %w", models.ErrValidation)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(h), nil
}

// Verify reports whether candidate matches the stored hash.
func Verify(storedHash, candidate string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(candidate)) == nil
}
