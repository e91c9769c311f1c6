// Package likes records which users liked which posts.
package likes

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/soapboxsocial/glimpse/pkg/guard"
	"github.com/soapboxsocial/glimpse/pkg/rest"
)

const table = "likes"

type Like struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	PostID    string    `json:"post_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Backend struct {
	client *rest.Client
	guard  guard.Guard
}

// NewBackend creates a backend, g may be nil to disable in flight protection.
func NewBackend(client *rest.Client, g guard.Guard) *Backend {
	return &Backend{client: client, guard: g}
}

func (b *Backend) Count(ctx context.Context, postID string) (int64, error) {
	return b.client.Count(ctx, table, rest.Eq("post_id", postID))
}

func (b *Backend) Exists(ctx context.Context, userID, postID string) (bool, error) {
	return b.client.Exists(ctx, table, rest.Eq("user_id", userID), rest.Eq("post_id", postID))
}

// Like records a like, liking an already liked post succeeds.
func (b *Backend) Like(ctx context.Context, userID, postID string) error {
	err := b.client.Insert(ctx, table, map[string]string{"user_id": userID, "post_id": postID}, nil)
	if rest.IsConflict(err) {
		log.Debug().Str("user", userID).Str("post", postID).Msg("post already liked")
		return nil
	}

	return err
}

// Unlike removes a like, unliking a post that is not liked succeeds.
func (b *Backend) Unlike(ctx context.Context, userID, postID string) error {
	return b.client.Delete(ctx, table, rest.Eq("user_id", userID), rest.Eq("post_id", postID))
}

// Toggle likes the post if the user has not liked it yet and unlikes it otherwise.
// It returns whether the post is liked afterwards, or guard.ErrInFlight if a toggle for the
// same pair is still running.
func (b *Backend) Toggle(ctx context.Context, userID, postID string) (bool, error) {
	liked := false

	err := guard.Do(ctx, b.guard, guard.Key("like", userID, postID), func() error {
		exists, err := b.Exists(ctx, userID, postID)
		if err != nil {
			return err
		}

		if exists {
			return b.Unlike(ctx, userID, postID)
		}

		liked = true
		return b.Like(ctx, userID, postID)
	})

	if err != nil {
		return false, err
	}

	return liked, nil
}
