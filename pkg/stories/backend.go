package stories

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/supabase-community/postgrest-go"

	"github.com/soapboxsocial/glimpse/pkg/media"
	"github.com/soapboxsocial/glimpse/pkg/rest"
	"github.com/soapboxsocial/glimpse/pkg/users"
)

const table = "stories"

const selectWithAuthor = "*,author:users!stories_user_id_fkey(" + users.Columns + ")"

type Backend struct {
	client *rest.Client
}

func NewBackend(client *rest.Client) *Backend {
	return &Backend{client: client}
}

// Create adds a story that expires Lifetime after now.
func (b *Backend) Create(ctx context.Context, userID, mediaURL string, kind media.Kind, now time.Time) (*Story, error) {
	now = now.UTC()

	row := map[string]interface{}{
		"user_id":    userID,
		"media_url":  mediaURL,
		"media_type": kind,
		"created_at": now.Format(time.RFC3339Nano),
		"expires_at": now.Add(Lifetime).Format(time.RFC3339Nano),
	}

	story := &Story{}
	err := b.client.Insert(ctx, table, row, story)
	if err != nil {
		return nil, err
	}

	return story, nil
}

// Active returns every story that has not expired at now, newest first.
func (b *Backend) Active(ctx context.Context, now time.Time) ([]Story, error) {
	query := b.client.From(ctx, table).Select(selectWithAuthor, "", false)
	return b.active(ctx, query, now)
}

// ActiveForUser returns the stories of a user that have not expired at now, newest first.
func (b *Backend) ActiveForUser(ctx context.Context, userID string, now time.Time) ([]Story, error) {
	query := rest.Where(b.client.From(ctx, table).Select(selectWithAuthor, "", false), rest.Eq("user_id", userID))
	return b.active(ctx, query, now)
}

func (b *Backend) active(ctx context.Context, query *postgrest.FilterBuilder, now time.Time) ([]Story, error) {
	query = rest.Newest(query.Gt("expires_at", now.UTC().Format(time.RFC3339Nano)))

	stories, err := rest.List[Story](ctx, query)
	if err != nil {
		return nil, err
	}

	// the server clock may lag behind ours.
	result := make([]Story, 0, len(stories))
	for _, s := range stories {
		if !s.Active(now) {
			continue
		}

		result = append(result, s)
	}

	return result, nil
}

// FindByID returns rest.ErrNotFound if the story does not exist.
func (b *Backend) FindByID(ctx context.Context, id string) (*Story, error) {
	story := &Story{}

	query := rest.Where(b.client.From(ctx, table).Select(selectWithAuthor, "", false), rest.Eq("id", id))
	err := rest.First(ctx, query, story)
	if err != nil {
		return nil, err
	}

	return story, nil
}

// Delete removes a story owned by actor.
// A story that no longer exists is treated as deleted, one owned by someone else returns rest.ErrForbidden.
func (b *Backend) Delete(ctx context.Context, actor, storyID string) error {
	story := &Story{}

	query := rest.Where(b.client.From(ctx, table).Select("id,user_id", "", false), rest.Eq("id", storyID))
	err := rest.First(ctx, query, story)
	if rest.IsNotFound(err) {
		return nil
	}

	if err != nil {
		return err
	}

	if story.UserID != actor {
		log.Warn().Str("story", storyID).Str("actor", actor).Msg("refusing to delete story of another user")
		return rest.ErrForbidden
	}

	return b.client.Delete(ctx, table, rest.Eq("id", storyID), rest.Eq("user_id", actor))
}
