package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// Claims are the claims carried by an access token.
type Claims struct {
	Email        string                 `json:"email"`
	Role         string                 `json:"role"`
	UserMetadata map[string]interface{} `json:"user_metadata"`

	jwt.RegisteredClaims
}

// ParseClaims reads the claims of an access token without verifying its signature,
// the signing secret only lives on the auth service.
func ParseClaims(token string) (*Claims, error) {
	claims := &Claims{}

	_, _, err := jwt.NewParser().ParseUnverified(token, claims)
	if err != nil {
		return nil, err
	}

	return claims, nil
}

// User builds a minimal user from the claims.
func (c *Claims) User() User {
	return User{ID: c.Subject, Email: c.Email, UserMetadata: c.UserMetadata}
}
