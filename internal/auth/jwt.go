// Package auth resolves callers from HS256 access tokens.
// The service trusts an upstream identity provider to mint tokens carrying
// the user's id, display name, email and role set; this package only
// validates signatures and expiry and maps claims onto domain.User.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nbno/geotag-api/internal/domain"
)

// ErrInvalidToken is returned for any token that fails validation:
// bad signature, wrong algorithm, expired, or malformed claims.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the JWT claims carried by geotag access tokens.
type Claims struct {
	DisplayName string   `json:"name,omitempty"`
	Email       string   `json:"email,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Service validates and issues access tokens.
type Service struct {
	signingKey []byte
	issuer     string
}

// NewService constructs a token service for the given HMAC signing key.
func NewService(signingKey, issuer string) *Service {
	return &Service{signingKey: []byte(signingKey), issuer: issuer}
}

// ValidateToken parses and verifies a token string and returns the caller
// it identifies. The subject claim becomes the user id.
func (s *Service) ValidateToken(tokenString string) (domain.User, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil || !parsed.Valid {
		return domain.User{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return domain.User{}, ErrInvalidToken
	}

	return domain.User{
		ID:          claims.Subject,
		DisplayName: claims.DisplayName,
		Email:       claims.Email,
		Roles:       claims.Roles,
	}, nil
}

// IssueToken mints a signed token for the given user, valid for expiresIn.
// Used by tests and by operators bootstrapping service accounts; the
// production login flow lives in the upstream identity provider.
func (s *Service) IssueToken(user domain.User, expiresIn time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		DisplayName: user.DisplayName,
		Email:       user.Email,
		Roles:       user.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			ID:        uuid.NewString(),
		},
	})

	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("auth.Service.IssueToken: %w", err)
	}
	return signed, nil
}
