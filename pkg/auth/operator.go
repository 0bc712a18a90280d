// Package auth issues and verifies the bearer tokens presented by operators
// calling the admin and scheduler endpoints.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/safetransit/pkg/config"
)

const (
	// RoleAdmin may override deposits, move funds and manage the scheduler.
	RoleAdmin = "admin"
	// RoleViewer may authenticate but is refused by admin routes.
	RoleViewer = "viewer"
)

var (
	ErrTokenExpired = errors.New("operator token expired")
	ErrTokenInvalid = errors.New("operator token invalid")
)

var signingMethod = jwt.SigningMethodHS256

// Operator identifies the human or service acting on the admin surface.
type Operator struct {
	ID   string
	Role string
}

// IsAdmin reports whether the operator carries the admin role.
func (o Operator) IsAdmin() bool {
	return o.Role == RoleAdmin
}

type operatorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueOperatorToken signs an HS256 token for op valid for the configured TTL.
func IssueOperatorToken(cfg config.JWTConfig, now time.Time, op Operator) (string, error) {
	if err := checkSigningConfig(cfg); err != nil {
		return "", err
	}
	if cfg.ExpirationMinutes <= 0 {
		return "", fmt.Errorf("jwt expiration minutes must be positive")
	}
	id := strings.TrimSpace(op.ID)
	if id == "" {
		return "", fmt.Errorf("operator id is required")
	}
	role := strings.ToLower(strings.TrimSpace(op.Role))
	if role == "" {
		role = RoleViewer
	}

	claims := operatorClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(cfg.ExpirationMinutes) * time.Minute)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing operator token: %w", err)
	}
	return signed, nil
}

// VerifyOperatorToken checks signature, issuer and expiry and returns the
// operator the token was issued to.
func VerifyOperatorToken(cfg config.JWTConfig, raw string) (Operator, error) {
	if err := checkSigningConfig(cfg); err != nil {
		return Operator{}, err
	}
	claims := &operatorClaims{}
	_, err := jwt.ParseWithClaims(
		raw,
		claims,
		func(*jwt.Token) (any, error) { return []byte(cfg.Secret), nil },
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Operator{}, ErrTokenExpired
	case err != nil:
		return Operator{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	case claims.Subject == "":
		return Operator{}, fmt.Errorf("%w: subject missing", ErrTokenInvalid)
	}
	return Operator{ID: claims.Subject, Role: claims.Role}, nil
}

func checkSigningConfig(cfg config.JWTConfig) error {
	if cfg.Secret == "" {
		return fmt.Errorf("jwt secret is required")
	}
	if cfg.Issuer == "" {
		return fmt.Errorf("jwt issuer is required")
	}
	return nil
}
