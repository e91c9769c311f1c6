package users

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/soapboxsocial/glimpse/pkg/rest"
	"github.com/soapboxsocial/glimpse/pkg/users/types"
)

const table = "users"

// Columns is the projection used wherever a profile is read or embedded.
const Columns = "id,username,email,avatar_url,created_at"

type User = types.User

type Backend struct {
	client *rest.Client
}

func NewBackend(client *rest.Client) *Backend {
	return &Backend{client: client}
}

// FindByID returns rest.ErrNotFound if no profile exists for id.
func (b *Backend) FindByID(ctx context.Context, id string) (*User, error) {
	user := &User{}

	query := rest.Where(b.client.From(ctx, table).Select(Columns, "", false), rest.Eq("id", id))
	err := rest.First(ctx, query, user)
	if err != nil {
		return nil, err
	}

	return user, nil
}

// FindByIDs returns the profiles that exist among ids, in no particular order.
func (b *Backend) FindByIDs(ctx context.Context, ids []string) ([]User, error) {
	if len(ids) == 0 {
		return []User{}, nil
	}

	query := b.client.From(ctx, table).Select(Columns, "", false).In("id", ids)
	return rest.List[User](ctx, query)
}

// Create inserts a profile, rest.ErrConflict if one already exists for the id.
func (b *Backend) Create(ctx context.Context, user User) (*User, error) {
	row := map[string]interface{}{
		"id":         user.ID,
		"username":   user.Username,
		"email":      user.Email,
		"avatar_url": user.AvatarURL,
	}

	created := &User{}
	err := b.client.Insert(ctx, table, row, created)
	if err != nil {
		return nil, err
	}

	return created, nil
}

// Ensure returns the profile for id, creating it with an identicon avatar if it does not exist yet.
func (b *Backend) Ensure(ctx context.Context, id, email, username string) (*User, error) {
	user, err := b.FindByID(ctx, id)
	if err == nil {
		return user, nil
	}

	if !rest.IsNotFound(err) {
		return nil, err
	}

	username = FallbackUsername(username, email)
	avatar := types.Identicon(username)

	user, err = b.Create(ctx, User{ID: id, Username: username, Email: email, AvatarURL: &avatar})
	if rest.IsConflict(err) {
		log.Debug().Str("user", id).Msg("profile created concurrently")
		return b.FindByID(ctx, id)
	}

	return user, err
}

// UpdateUsername sets the username of the profile with id.
func (b *Backend) UpdateUsername(ctx context.Context, id, username string) (*User, error) {
	return b.update(ctx, id, map[string]interface{}{"username": username})
}

// UpdateAvatar sets the avatar url of the profile with id.
func (b *Backend) UpdateAvatar(ctx context.Context, id, url string) (*User, error) {
	return b.update(ctx, id, map[string]interface{}{"avatar_url": url})
}

func (b *Backend) update(ctx context.Context, id string, values map[string]interface{}) (*User, error) {
	user := &User{}
	err := b.client.Update(ctx, table, values, user, rest.Eq("id", id))
	if err != nil {
		return nil, err
	}

	return user, nil
}

// FallbackUsername picks username, the local part of email, or "User".
func FallbackUsername(username, email string) string {
	username = strings.TrimSpace(username)
	if username != "" {
		return username
	}

	local, _, _ := strings.Cut(email, "@")
	if local = strings.TrimSpace(local); local != "" {
		return local
	}

	return "User"
}
