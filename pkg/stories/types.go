package stories

import (
	"time"

	"github.com/soapboxsocial/glimpse/pkg/media"
	"github.com/soapboxsocial/glimpse/pkg/rest"
	"github.com/soapboxsocial/glimpse/pkg/users/types"
)

// Lifetime is how long a story stays visible after it was created.
const Lifetime = 24 * time.Hour

// Story represents a user story.
type Story struct {
	ID        string                    `json:"id"`
	UserID    string                    `json:"user_id"`
	MediaURL  string                    `json:"media_url"`
	MediaType media.Kind                `json:"media_type"`
	CreatedAt time.Time                 `json:"created_at"`
	ExpiresAt time.Time                 `json:"expires_at"`
	Author    rest.Embedded[types.User] `json:"author"`
}

// Active reports whether the story is still visible at now.
func (s *Story) Active(now time.Time) bool {
	return s.ExpiresAt.After(now)
}
