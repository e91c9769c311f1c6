// Package internal holds helpers of the login routes.
package internal

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateEmail reports whether a magic link can be sent to email.
func ValidateEmail(email string) bool {
	return validate.Var(email, "required,email,max=253") == nil
}

// GenerateToken returns a random token naming a pending login.
func GenerateToken() (string, error) {
	b := make([]byte, 16)
	_, err := rand.Read(b)
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}
