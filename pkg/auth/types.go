package auth

import (
	"strings"
	"time"
)

// User is the identity record held by the auth service.
type User struct {
	ID               string                 `json:"id"`
	Email            string                 `json:"email"`
	EmailConfirmedAt *time.Time             `json:"email_confirmed_at,omitempty"`
	UserMetadata     map[string]interface{} `json:"user_metadata,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
}

// Username returns the username stored in the user's metadata, if any.
func (u *User) Username() string {
	if u == nil || u.UserMetadata == nil {
		return ""
	}

	username, _ := u.UserMetadata["username"].(string)
	return strings.TrimSpace(username)
}

// Confirmed reports whether the user's email has been confirmed.
func (u *User) Confirmed() bool {
	return u != nil && u.EmailConfirmedAt != nil
}

// Session is an issued proof of authentication.
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

// Expired reports whether the access token is no longer usable at now.
func (s *Session) Expired(now time.Time) bool {
	if s.ExpiresAt == 0 {
		return false
	}

	return !now.Before(time.Unix(s.ExpiresAt, 0))
}

// Credentials signs in with email and password.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// SignUpRequest registers a new identity.
type SignUpRequest struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=6"`
	Username string `validate:"required,username"`

	// RedirectTo is where the confirmation link leads, optional.
	RedirectTo string `validate:"omitempty,url"`
}

// UserUpdate changes attributes of the signed in user. Nil fields are left untouched.
type UserUpdate struct {
	Password *string                `json:"password,omitempty" validate:"omitempty,min=6"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// OTPType names the purpose of a one time password.
type OTPType string

const (
	OTPTypeSignup   OTPType = "signup"
	OTPTypeRecovery OTPType = "recovery"
	OTPTypeMagic    OTPType = "magiclink"
	OTPTypeEmail    OTPType = "email"
)
