package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const (
	codeMin = 10000
	codeMax = 99999
)

type VerificationCodeService struct {
	ttl time.Duration
}

func NewVerificationCodeService(ttl time.Duration) *VerificationCodeService {
	return &VerificationCodeService{ttl: ttl}
}

// GenerateCode returns a 5-digit numeric code using crypto/rand.
func (s *VerificationCodeService) GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", fmt.Errorf("generating random code: %w", err)
	}
	return fmt.Sprintf("%d", codeMin+n.Int64()), nil
}

func (s *VerificationCodeService) TTL() time.Duration {
	return s.ttl
}

// ExpiresAt returns when a newly created code should expire
func (s *VerificationCodeService) ExpiresAt() time.Time {
	return time.Now().Add(s.ttl)
}
