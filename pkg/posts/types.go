package posts

import (
	"time"

	"github.com/soapboxsocial/glimpse/pkg/media"
	"github.com/soapboxsocial/glimpse/pkg/rest"
	"github.com/soapboxsocial/glimpse/pkg/users/types"
)

// Post is a published photo or video.
type Post struct {
	ID        string                    `json:"id"`
	UserID    string                    `json:"user_id"`
	Title     string                    `json:"title"`
	Caption   string                    `json:"caption"`
	MediaURL  string                    `json:"media_url"`
	MediaType media.Kind                `json:"media_type"`
	CreatedAt time.Time                 `json:"created_at"`
	Author    rest.Embedded[types.User] `json:"author"`
}

// NewPost is the input to Create.
type NewPost struct {
	UserID    string
	Title     string
	Caption   string
	MediaURL  string
	MediaType media.Kind
}
