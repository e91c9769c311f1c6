// Package uploads publishes posts and stories of the signed in user.
package uploads

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/soapboxsocial/glimpse/pkg/media"
	"github.com/soapboxsocial/glimpse/pkg/posts"
	"github.com/soapboxsocial/glimpse/pkg/sessions"
	"github.com/soapboxsocial/glimpse/pkg/stories"
	"github.com/soapboxsocial/glimpse/pkg/tracking"
	"github.com/soapboxsocial/glimpse/pkg/users"
)

const (
	postsPrefix   = "posts"
	storiesPrefix = "stories"
)

var ErrNotSignedIn = errors.New("not signed in")

// File is the media being published.
type File struct {
	Name string

	// ContentType is sniffed from the contents when empty.
	ContentType string

	Body io.Reader
}

type Service struct {
	store   *sessions.Store
	users   *users.Backend
	media   *media.Backend
	posts   *posts.Backend
	stories *stories.Backend
	tracker tracking.Tracker
	bucket  string

	now func() time.Time
}

func NewService(
	store *sessions.Store,
	ub *users.Backend,
	mb *media.Backend,
	pb *posts.Backend,
	sb *stories.Backend,
	tracker tracking.Tracker,
	bucket string,
) *Service {
	return &Service{
		store:   store,
		users:   ub,
		media:   mb,
		posts:   pb,
		stories: sb,
		tracker: tracker,
		bucket:  bucket,
		now:     time.Now,
	}
}

// UploadPost stores file under posts/ and publishes it, a title is required.
func (s *Service) UploadPost(ctx context.Context, file File, title, caption string) (*posts.Post, error) {
	if strings.TrimSpace(title) == "" {
		return nil, posts.ErrTitleRequired
	}

	ctx, user, err := s.prepare(ctx)
	if err != nil {
		return nil, err
	}

	path, url, kind, err := s.upload(ctx, postsPrefix, file)
	if err != nil {
		return nil, err
	}

	post, err := s.posts.Create(ctx, posts.NewPost{
		UserID:    user.ID,
		Title:     title,
		Caption:   strings.TrimSpace(caption),
		MediaURL:  url,
		MediaType: kind,
	})

	if err != nil {
		s.discard(ctx, path)
		return nil, err
	}

	tracking.Track(s.tracker, &tracking.Event{
		ID:         user.ID,
		Name:       tracking.PostCreated,
		Properties: map[string]interface{}{"post_id": post.ID, "media_type": string(kind)},
	})

	return post, nil
}

// UploadStory stores file under stories/ and publishes it for a day.
func (s *Service) UploadStory(ctx context.Context, file File) (*stories.Story, error) {
	ctx, user, err := s.prepare(ctx)
	if err != nil {
		return nil, err
	}

	path, url, kind, err := s.upload(ctx, storiesPrefix, file)
	if err != nil {
		return nil, err
	}

	story, err := s.stories.Create(ctx, user.ID, url, kind, s.now())
	if err != nil {
		s.discard(ctx, path)
		return nil, err
	}

	tracking.Track(s.tracker, &tracking.Event{
		ID:         user.ID,
		Name:       tracking.StoryCreated,
		Properties: map[string]interface{}{"story_id": story.ID, "media_type": string(kind)},
	})

	return story, nil
}

// prepare makes sure the signed in user has a profile row before anything references it.
func (s *Service) prepare(ctx context.Context) (context.Context, *users.User, error) {
	identity := s.store.CurrentIdentity()
	if identity == nil {
		return ctx, nil, ErrNotSignedIn
	}

	ctx = s.store.Context(ctx)

	user, err := s.users.Ensure(ctx, identity.ID, identity.Email, identity.Username)
	if err != nil {
		return ctx, nil, err
	}

	return ctx, user, nil
}

func (s *Service) upload(ctx context.Context, prefix string, file File) (string, string, media.Kind, error) {
	body := bufio.NewReader(file.Body)

	contentType := file.ContentType
	if contentType == "" {
		head, _ := body.Peek(512)
		contentType = media.Detect(head)
	}

	path := media.ObjectPath(prefix, file.Name)

	url, err := s.media.Upload(ctx, s.bucket, path, body, media.UploadOptions{ContentType: contentType})
	if err != nil {
		return "", "", "", err
	}

	return path, url, media.KindOf(contentType), nil
}

func (s *Service) discard(ctx context.Context, path string) {
	err := s.media.Remove(ctx, s.bucket, path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("failed to remove orphaned upload")
	}
}
