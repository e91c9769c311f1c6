package types

import (
	"fmt"
	"net/url"
	"time"
)

const identiconURL = "https://api.dicebear.com/7.x/avataaars/svg?seed=%s"

// User is the profile mirrored from an auth identity.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	AvatarURL *string   `json:"avatar_url"`
	CreatedAt time.Time `json:"created_at"`
}

// Avatar returns the stored avatar or the identicon for the username.
func (u *User) Avatar() string {
	if u.AvatarURL != nil && *u.AvatarURL != "" {
		return *u.AvatarURL
	}

	seed := u.Username
	if seed == "" {
		seed = u.ID
	}

	return Identicon(seed)
}

// Identicon returns a deterministic generated avatar for seed.
func Identicon(seed string) string {
	if seed == "" {
		seed = "user"
	}

	return fmt.Sprintf(identiconURL, url.QueryEscape(seed))
}
