package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"storefront/internal/apperr"
)

// TokenKind selects which signing secret a token is issued or verified with.
type TokenKind int

const (
	AccessToken TokenKind = iota
	RefreshToken
)

func (k TokenKind) String() string {
	if k == RefreshToken {
		return "refresh"
	}
	return "access"
}

// TokenService issues and verifies HS256 tokens. Access and refresh tokens
// are signed with distinct secrets so one can never stand in for the other.
type TokenService struct {
	accessSecret    []byte
	refreshSecret   []byte
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
	now             func() time.Time
}

type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

func NewTokenService(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{
		accessSecret:    []byte(accessSecret),
		refreshSecret:   []byte(refreshSecret),
		accessTokenTTL:  accessTTL,
		refreshTokenTTL: refreshTTL,
		now:             time.Now,
	}
}

func (s *TokenService) IssueAccessToken(userID string) (string, time.Time, error) {
	return s.issue(AccessToken, userID)
}

func (s *TokenService) IssueRefreshToken(userID string) (string, time.Time, error) {
	return s.issue(RefreshToken, userID)
}

func (s *TokenService) AccessTokenTTL() time.Duration  { return s.accessTokenTTL }
func (s *TokenService) RefreshTokenTTL() time.Duration { return s.refreshTokenTTL }

// Verify checks signature, algorithm and expiry against the secret for kind.
// Every failure is reported as apperr.InvalidToken.
func (s *TokenService) Verify(tokenString string, kind TokenKind) (*Claims, error) {
	secret := s.secretFor(kind)
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		msg := "Invalid token"
		if errors.Is(err, jwt.ErrTokenExpired) {
			msg = "Token expired"
		}
		return nil, apperr.Wrap(apperr.InvalidToken, msg, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, apperr.New(apperr.InvalidToken, "Invalid token claims")
	}

	return claims, nil
}

func (s *TokenService) issue(kind TokenKind, userID string) (string, time.Time, error) {
	now := s.now()
	ttl := s.accessTokenTTL
	if kind == RefreshToken {
		ttl = s.refreshTokenTTL
	}
	expiresAt := now.Add(ttl)

	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			// A unique ID keeps two tokens minted in the same second distinct.
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretFor(kind))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing %s token: %w", kind, err)
	}
	return signed, expiresAt, nil
}

func (s *TokenService) secretFor(kind TokenKind) []byte {
	if kind == RefreshToken {
		return s.refreshSecret
	}
	return s.accessSecret
}
