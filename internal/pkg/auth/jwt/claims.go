package jwt

import (
	"github.com/golang-jwt/jwt"

	"supportchat/internal/app/user"
)

// TokenKind distinguishes short-lived access tokens from refresh tokens. A token of
// one kind is never accepted where the other is expected.
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// Payload defines the structure of the JSON Web Token (JWT) claims for the support chat.
type Payload struct {
	// StandardClaims carries Exp, Iat, Iss, Sub and Jti. Sub is the username.
	jwt.StandardClaims

	// Username is the authenticated principal and the chat sender name.
	Username string `json:"username"`

	// Role is the principal's role, which selects the transport mode of its clients.
	Role user.Role `json:"role"`

	// Kind is the token's purpose.
	Kind TokenKind `json:"kind"`
}

// Identity returns the principal described by the token.
func (p *Payload) Identity() user.Identity {
	return user.Identity{Authenticated: true, Username: p.Username, Role: p.Role}
}
