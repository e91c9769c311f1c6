// Package comments stores comments on posts.
package comments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/supabase-community/postgrest-go"

	"github.com/soapboxsocial/glimpse/pkg/rest"
	"github.com/soapboxsocial/glimpse/pkg/users/types"
)

const table = "comments"

var ErrEmpty = errors.New("comment is empty")

// Comment on a post, Author only carries the username.
type Comment struct {
	ID        string                    `json:"id"`
	UserID    string                    `json:"user_id"`
	PostID    string                    `json:"post_id"`
	Text      string                    `json:"text"`
	CreatedAt time.Time                 `json:"created_at"`
	Author    rest.Embedded[types.User] `json:"author"`
}

// AuthorName returns the username of the author or "Unknown".
func (c *Comment) AuthorName() string {
	if c.Author.Value == nil || c.Author.Value.Username == "" {
		return "Unknown"
	}

	return c.Author.Value.Username
}

type Backend struct {
	client *rest.Client
}

func NewBackend(client *rest.Client) *Backend {
	return &Backend{client: client}
}

// List returns the comments of a post, oldest first.
func (b *Backend) List(ctx context.Context, postID string) ([]Comment, error) {
	query := b.client.From(ctx, table).Select("id,text,user_id,post_id,created_at,author:users(id,username)", "", false)
	query = rest.Where(query, rest.Eq("post_id", postID)).Order("created_at", &postgrest.OrderOpts{Ascending: true})

	return rest.List[Comment](ctx, query)
}

func (b *Backend) Count(ctx context.Context, postID string) (int64, error) {
	return b.client.Count(ctx, table, rest.Eq("post_id", postID))
}

func (b *Backend) Create(ctx context.Context, userID, postID, text string) (*Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmpty
	}

	row := map[string]string{
		"user_id":    userID,
		"post_id":    postID,
		"text":       text,
		"created_at": time.Now().UTC().Format(time.RFC3339Nano),
	}

	comment := &Comment{}
	err := b.client.Insert(ctx, table, row, comment)
	if err != nil {
		return nil, err
	}

	return comment, nil
}

// Delete removes a comment written by actor. Comments of other users are left untouched,
// deleting a comment that no longer exists succeeds.
func (b *Backend) Delete(ctx context.Context, actor, commentID string) error {
	return b.client.Delete(ctx, table, rest.Eq("id", commentID), rest.Eq("user_id", actor))
}
