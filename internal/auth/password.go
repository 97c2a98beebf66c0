package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const PasswordCost = 10

func HashPassword(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), PasswordCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(b), nil
}

// ComparePassword reports whether plain matches hash. A malformed hash is
// treated as a mismatch.
func ComparePassword(hash, plain string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
	return err == nil
}

// UnusablePasswordHash returns a value that no password compares equal to.
// Guest accounts carry it so they cannot be logged into with credentials.
func UnusablePasswordHash() string {
	return "!guest"
}
