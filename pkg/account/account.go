// Package account edits the profile and credentials of the signed in user.
package account

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/ksuid"

	"github.com/soapboxsocial/glimpse/pkg/auth"
	"github.com/soapboxsocial/glimpse/pkg/media"
	"github.com/soapboxsocial/glimpse/pkg/rest"
	"github.com/soapboxsocial/glimpse/pkg/sessions"
	"github.com/soapboxsocial/glimpse/pkg/users"
)

var (
	ErrNotSignedIn     = errors.New("not signed in")
	ErrInvalidUsername = errors.New("invalid username")
	ErrUsernameTaken   = errors.New("username already taken")
)

type Service struct {
	store  *sessions.Store
	users  *users.Backend
	auth   *auth.Client
	media  *media.Backend
	bucket string
}

func NewService(store *sessions.Store, ub *users.Backend, client *auth.Client, mb *media.Backend, avatarBucket string) *Service {
	return &Service{
		store:  store,
		users:  ub,
		auth:   client,
		media:  mb,
		bucket: avatarBucket,
	}
}

// ChangeUsername renames the signed in user. The profile row is written first, the auth metadata
// follows on a best effort basis.
func (s *Service) ChangeUsername(ctx context.Context, username string) (*users.User, error) {
	identity := s.store.CurrentIdentity()
	if identity == nil {
		return nil, ErrNotSignedIn
	}

	username = strings.TrimSpace(username)
	if !auth.ValidateUsername(username) {
		return nil, ErrInvalidUsername
	}

	ctx = s.store.Context(ctx)

	user, err := s.users.UpdateUsername(ctx, identity.ID, username)
	if rest.IsConflict(err) {
		return nil, ErrUsernameTaken
	}

	if err != nil {
		return nil, err
	}

	s.updateMetadata(ctx, map[string]interface{}{"username": username})
	s.store.SetIdentity(*user)

	return user, nil
}

// ChangeAvatar stores image as the avatar of the signed in user, jpeg images are converted to png.
func (s *Service) ChangeAvatar(ctx context.Context, image []byte) (*users.User, error) {
	identity := s.store.CurrentIdentity()
	if identity == nil {
		return nil, ErrNotSignedIn
	}

	data, err := media.ToPNG(image)
	if err != nil {
		return nil, err
	}

	ctx = s.store.Context(ctx)

	path := fmt.Sprintf("%s/avatar_%s.png", identity.ID, ksuid.New().String())
	url, err := s.media.Upload(ctx, s.bucket, path, bytes.NewReader(data), media.UploadOptions{ContentType: "image/png", Upsert: true})
	if err != nil {
		return nil, err
	}

	user, err := s.users.UpdateAvatar(ctx, identity.ID, url)
	if err != nil {
		rmErr := s.media.Remove(ctx, s.bucket, path)
		if rmErr != nil {
			log.Warn().Err(rmErr).Str("path", path).Msg("failed to remove orphaned avatar")
		}

		return nil, err
	}

	s.updateMetadata(ctx, map[string]interface{}{"avatar_url": url})
	s.store.SetIdentity(*user)

	if identity.AvatarURL != nil {
		s.removeAvatar(ctx, *identity.AvatarURL)
	}

	return user, nil
}

// RequestPasswordReset emails a recovery code to email.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	return s.auth.Recover(ctx, strings.TrimSpace(email))
}

// ResetPassword confirms the recovery code and only then sets the new password. The recovery
// session signs the user in.
func (s *Service) ResetPassword(ctx context.Context, email, code, password string) error {
	update := auth.UserUpdate{Password: &password}

	err := auth.Validate(update)
	if err != nil {
		return err
	}

	session, err := s.auth.VerifyOTP(ctx, strings.TrimSpace(email), strings.TrimSpace(code), auth.OTPTypeRecovery)
	if err != nil {
		return err
	}

	_, err = s.auth.UpdateUser(ctx, session.AccessToken, update)
	if err != nil {
		return err
	}

	s.store.HandleSessionChange(ctx, session)
	return nil
}

// ResendConfirmation sends the signup confirmation email again.
func (s *Service) ResendConfirmation(ctx context.Context, email string) error {
	return s.auth.Resend(ctx, strings.TrimSpace(email))
}

func (s *Service) updateMetadata(ctx context.Context, data map[string]interface{}) {
	token, ok := s.store.AccessToken()
	if !ok {
		return
	}

	_, err := s.auth.UpdateUser(ctx, token, auth.UserUpdate{Data: data})
	if err != nil {
		log.Warn().Err(err).Msg("failed to update auth metadata")
	}
}

func (s *Service) removeAvatar(ctx context.Context, url string) {
	path, ok := s.media.PathFromURL(s.bucket, url)
	if !ok {
		return
	}

	err := s.media.Remove(ctx, s.bucket, path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("failed to remove old avatar")
	}
}
