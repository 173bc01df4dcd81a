package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"

	"supportchat/internal/app/user"
)

const (
	// AccessTokenExpiration is the default lifetime of access tokens (short-term).
	AccessTokenExpiration = 15 * time.Minute

	// RefreshTokenExpiration is the default lifetime of refresh tokens (long-term).
	RefreshTokenExpiration = 7 * 24 * time.Hour

	// TokenIssuer identifies the issuer of the token.
	TokenIssuer = "SupportChat-Server"
)

// ErrWrongTokenKind is returned when a valid token is presented for the wrong purpose.
var ErrWrongTokenKind = errors.New("token kind mismatch")

// GenerateToken creates and signs a new JWT for the principal.
func GenerateToken(u user.User, kind TokenKind, secretKey string, duration time.Duration) (string, error) {
	now := time.Now()

	payload := &Payload{
		StandardClaims: jwt.StandardClaims{
			Id:        uuid.NewString(),
			Subject:   u.Username,
			ExpiresAt: now.Add(duration).Unix(),
			IssuedAt:  now.Unix(),
			Issuer:    TokenIssuer,
		},
		Username: u.Username,
		Role:     u.Role,
		Kind:     kind,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, payload)

	return token.SignedString([]byte(secretKey))
}

// ParseToken parses and validates the JWT string using secretKey and checks its kind.
func ParseToken(tokenString string, secretKey string, kind TokenKind) (*Payload, error) {
	claims := &Payload{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secretKey), nil
	})

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid or expired token")
	}

	if claims.Kind != kind {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrWrongTokenKind, claims.Kind, kind)
	}

	if _, ok := user.ParseRole(string(claims.Role)); !ok || claims.Username == "" {
		return nil, errors.New("token carries no valid principal")
	}

	return claims, nil
}

// PeekExpiry reads the expiry of a token without verifying its signature. Clients use
// it to refresh ahead of time; it must never be used for authorization.
func PeekExpiry(tokenString string) (time.Time, bool) {
	claims := &jwt.StandardClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(tokenString, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == 0 {
		return time.Time{}, false
	}
	return time.Unix(claims.ExpiresAt, 0), true
}
