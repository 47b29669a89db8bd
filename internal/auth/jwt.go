package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the payload inside every bearer token. Tokens are issued by
// the LMS auth service; this service only verifies them: once at the
// WebSocket handshake, and per request on the REST surface. Everything
// after a successful handshake trusts these claims for the life of the
// connection.
type Claims struct {
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken creates a signed HS256 token for the given principal.
// Production tokens come from the LMS; this exists for the admin CLI
// and tests.
func GenerateToken(userID uuid.UUID, displayName, role, secret string, ttl time.Duration) (string, error) {
	now := time.Now()

	claims := Claims{
		UserID:      userID,
		DisplayName: displayName,
		Role:        role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "openlms",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

// ParseToken validates a token string and extracts the claims. It
// verifies the signature, the expiry, and that the signing method is
// HMAC (rejecting algorithm-switching tricks).
func ParseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}
