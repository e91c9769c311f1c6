package followers

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/soapboxsocial/glimpse/pkg/guard"
	"github.com/soapboxsocial/glimpse/pkg/rest"
	"github.com/soapboxsocial/glimpse/pkg/users"
	"github.com/soapboxsocial/glimpse/pkg/users/types"
)

const table = "follows"

var ErrSelfFollow = errors.New("users cannot follow themselves")

// Follow is a directed edge from follower to following.
type Follow struct {
	ID          string                    `json:"id"`
	FollowerID  string                    `json:"follower_id"`
	FollowingID string                    `json:"following_id"`
	Follower    rest.Embedded[types.User] `json:"follower"`
	Following   rest.Embedded[types.User] `json:"following"`
}

type FollowersBackend struct {
	client *rest.Client
	users  *users.Backend
	guard  guard.Guard
}

// NewFollowersBackend creates a backend, g may be nil to disable in flight protection.
func NewFollowersBackend(client *rest.Client, ub *users.Backend, g guard.Guard) *FollowersBackend {
	return &FollowersBackend{
		client: client,
		users:  ub,
		guard:  g,
	}
}

// FollowUser makes follower follow user. Following twice succeeds without creating a second edge
// when the store enforces uniqueness; otherwise the check before the insert narrows the window.
func (fb *FollowersBackend) FollowUser(ctx context.Context, follower, user string) error {
	if follower == user {
		return ErrSelfFollow
	}

	return guard.Do(ctx, fb.guard, guard.Key("follow", follower, user), func() error {
		following, err := fb.IsFollowing(ctx, follower, user)
		if err != nil {
			return err
		}

		if following {
			return nil
		}

		err = fb.client.Insert(ctx, table, map[string]string{"follower_id": follower, "following_id": user}, nil)
		if rest.IsConflict(err) {
			log.Debug().Str("follower", follower).Str("user", user).Msg("already following")
			return nil
		}

		return err
	})
}

// UnfollowUser removes the edge, unfollowing a user that is not followed succeeds.
func (fb *FollowersBackend) UnfollowUser(ctx context.Context, follower, user string) error {
	return guard.Do(ctx, fb.guard, guard.Key("follow", follower, user), func() error {
		return fb.client.Delete(ctx, table, rest.Eq("follower_id", follower), rest.Eq("following_id", user))
	})
}

func (fb *FollowersBackend) IsFollowing(ctx context.Context, follower, user string) (bool, error) {
	return fb.client.Exists(ctx, table, rest.Eq("follower_id", follower), rest.Eq("following_id", user))
}

// FollowerCount returns how many users follow id.
func (fb *FollowersBackend) FollowerCount(ctx context.Context, id string) (int64, error) {
	return fb.client.Count(ctx, table, rest.Eq("following_id", id))
}

// FollowingCount returns how many users id follows.
func (fb *FollowersBackend) FollowingCount(ctx context.Context, id string) (int64, error) {
	return fb.client.Count(ctx, table, rest.Eq("follower_id", id))
}

// GetAllUsersFollowing returns the users following id.
func (fb *FollowersBackend) GetAllUsersFollowing(ctx context.Context, id string, page rest.Page) ([]types.User, error) {
	query := fb.client.From(ctx, table).Select("follower_id,follower:users!followers_follower_id_fkey("+users.Columns+")", "", false)
	query = rest.Paginate(rest.Where(query, rest.Eq("following_id", id)), page)

	edges, err := rest.List[Follow](ctx, query)
	if err != nil {
		return nil, err
	}

	return collect(edges, func(f Follow) *types.User { return f.Follower.Value }), nil
}

// GetAllUsersFollowedBy returns the users id follows.
func (fb *FollowersBackend) GetAllUsersFollowedBy(ctx context.Context, id string, page rest.Page) ([]types.User, error) {
	query := fb.client.From(ctx, table).Select("following_id,following:users!followers_following_id_fkey("+users.Columns+")", "", false)
	query = rest.Paginate(rest.Where(query, rest.Eq("follower_id", id)), page)

	edges, err := rest.List[Follow](ctx, query)
	if err != nil {
		return nil, err
	}

	return collect(edges, func(f Follow) *types.User { return f.Following.Value }), nil
}

// GetFriends returns the users that id follows and that follow id back.
func (fb *FollowersBackend) GetFriends(ctx context.Context, id string) ([]types.User, error) {
	following, err := fb.ids(ctx, "following_id", rest.Eq("follower_id", id))
	if err != nil {
		return nil, err
	}

	followers, err := fb.ids(ctx, "follower_id", rest.Eq("following_id", id))
	if err != nil {
		return nil, err
	}

	isFollower := make(map[string]bool, len(followers))
	for _, f := range followers {
		isFollower[f] = true
	}

	mutual := make([]string, 0)
	for _, f := range following {
		if isFollower[f] {
			mutual = append(mutual, f)
		}
	}

	return fb.users.FindByIDs(ctx, mutual)
}

func (fb *FollowersBackend) ids(ctx context.Context, column string, filter rest.Filter) ([]string, error) {
	query := rest.Where(fb.client.From(ctx, table).Select(column, "", false), filter)

	edges, err := rest.List[Follow](ctx, query)
	if err != nil {
		return nil, err
	}

	result := make([]string, 0, len(edges))
	for _, e := range edges {
		if column == "follower_id" {
			result = append(result, e.FollowerID)
		} else {
			result = append(result, e.FollowingID)
		}
	}

	return result, nil
}

// collect drops edges whose profile is missing.
func collect(edges []Follow, user func(Follow) *types.User) []types.User {
	result := make([]types.User, 0, len(edges))
	for _, e := range edges {
		u := user(e)
		if u == nil {
			continue
		}

		result = append(result, *u)
	}

	return result
}
