// Package ticket issues and verifies the signed join tickets that name the
// room a participant may enter.
package ticket

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingRoom = errors.New("ticket does not name a room")
	ErrInvalid     = errors.New("invalid ticket")
)

// Claims defines our custom JWT claims structure.
type Claims struct {
	Room string `json:"room"`
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Issue signs a ticket for room valid for ttl. A zero ttl never expires.
func Issue(secret, room, name string, ttl time.Duration) (string, error) {
	if room == "" {
		return "", ErrMissingRoom
	}
	now := time.Now()
	claims := Claims{
		Room: room,
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign ticket: %w", err)
	}
	return signed, nil
}

// Parse verifies the signature and expiry of a ticket and returns its claims.
func Parse(secret, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalid
	}
	if claims.Room == "" {
		return nil, ErrMissingRoom
	}
	return claims, nil
}
