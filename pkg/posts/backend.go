package posts

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/soapboxsocial/glimpse/pkg/rest"
	"github.com/soapboxsocial/glimpse/pkg/users"
)

const table = "posts"

const selectWithAuthor = "*,author:users!posts_user_id_fkey(" + users.Columns + ")"

var ErrTitleRequired = errors.New("title is required")

type Backend struct {
	client *rest.Client
}

func NewBackend(client *rest.Client) *Backend {
	return &Backend{client: client}
}

func (b *Backend) Create(ctx context.Context, post NewPost) (*Post, error) {
	title := strings.TrimSpace(post.Title)
	if title == "" {
		return nil, ErrTitleRequired
	}

	row := map[string]interface{}{
		"user_id":    post.UserID,
		"title":      title,
		"caption":    post.Caption,
		"media_url":  post.MediaURL,
		"media_type": post.MediaType,
		"created_at": time.Now().UTC().Format(time.RFC3339Nano),
	}

	created := &Post{}
	err := b.client.Insert(ctx, table, row, created)
	if err != nil {
		return nil, err
	}

	return created, nil
}

// FindByID returns rest.ErrNotFound if the post does not exist.
func (b *Backend) FindByID(ctx context.Context, id string) (*Post, error) {
	post := &Post{}

	query := rest.Where(b.client.From(ctx, table).Select(selectWithAuthor, "", false), rest.Eq("id", id))
	err := rest.First(ctx, query, post)
	if err != nil {
		return nil, err
	}

	return post, nil
}

// Feed returns all posts, newest first.
func (b *Backend) Feed(ctx context.Context, page rest.Page) ([]Post, error) {
	query := b.client.From(ctx, table).Select(selectWithAuthor, "", false)
	return rest.List[Post](ctx, rest.Paginate(rest.Newest(query), page))
}

// ListForUser returns the posts of a user, newest first.
func (b *Backend) ListForUser(ctx context.Context, userID string, page rest.Page) ([]Post, error) {
	query := rest.Where(b.client.From(ctx, table).Select(selectWithAuthor, "", false), rest.Eq("user_id", userID))
	return rest.List[Post](ctx, rest.Paginate(rest.Newest(query), page))
}

func (b *Backend) CountForUser(ctx context.Context, userID string) (int64, error) {
	return b.client.Count(ctx, table, rest.Eq("user_id", userID))
}

// Delete removes a post owned by actor together with its likes and comments.
// A post that no longer exists is treated as deleted, one owned by someone else returns rest.ErrForbidden.
func (b *Backend) Delete(ctx context.Context, actor, postID string) error {
	post := &Post{}

	query := rest.Where(b.client.From(ctx, table).Select("id,user_id", "", false), rest.Eq("id", postID))
	err := rest.First(ctx, query, post)
	if rest.IsNotFound(err) {
		return nil
	}

	if err != nil {
		return err
	}

	if post.UserID != actor {
		log.Warn().Str("post", postID).Str("actor", actor).Msg("refusing to delete post of another user")
		return rest.ErrForbidden
	}

	for _, dependent := range []string{"likes", "comments"} {
		err = b.client.Delete(ctx, dependent, rest.Eq("post_id", postID))
		if err != nil {
			return err
		}
	}

	return b.client.Delete(ctx, table, rest.Eq("id", postID), rest.Eq("user_id", actor))
}
