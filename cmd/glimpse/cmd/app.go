package cmd

import (
	"context"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"github.com/soapboxsocial/glimpse/pkg/auth"
	"github.com/soapboxsocial/glimpse/pkg/comments"
	"github.com/soapboxsocial/glimpse/pkg/followers"
	"github.com/soapboxsocial/glimpse/pkg/guard"
	"github.com/soapboxsocial/glimpse/pkg/likes"
	"github.com/soapboxsocial/glimpse/pkg/media"
	"github.com/soapboxsocial/glimpse/pkg/posts"
	"github.com/soapboxsocial/glimpse/pkg/redis"
	"github.com/soapboxsocial/glimpse/pkg/rest"
	"github.com/soapboxsocial/glimpse/pkg/sessions"
	"github.com/soapboxsocial/glimpse/pkg/stories"
	"github.com/soapboxsocial/glimpse/pkg/tracking"
	"github.com/soapboxsocial/glimpse/pkg/users"
)

const inFlightTTL = 30 * time.Second

var errNotSignedIn = errors.New("not signed in, run glimpse signin first")

// app holds the backends every command shares.
type app struct {
	auth    *auth.Client
	rdb     *goredis.Client
	store   *sessions.Store
	tracker tracking.Tracker

	users     *users.Backend
	posts     *posts.Backend
	stories   *stories.Backend
	likes     *likes.Backend
	comments  *comments.Backend
	followers *followers.FollowersBackend
	media     *media.Backend
}

func newApp(ctx context.Context) (*app, error) {
	client, err := rest.NewClient(config.Backend)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create rest client")
	}

	a := &app{
		auth:    auth.NewClient(config.Backend.URL, config.Backend.AnonKey),
		tracker: tracking.NewTracker(config.Tracking),
		users:   users.NewBackend(client),
		posts:   posts.NewBackend(client),
		stories: stories.NewBackend(client),
		media:   media.NewBackend(config.Backend),
	}

	var g guard.Guard = guard.NewLocal()
	if config.Redis.Host != "" {
		a.rdb = redis.NewRedis(config.Redis)
		g = redis.NewInFlightStore(a.rdb, inFlightTTL)
	}

	a.likes = likes.NewBackend(client, g)
	a.comments = comments.NewBackend(client)
	a.followers = followers.NewFollowersBackend(client, a.users, g)

	persister, err := a.persister()
	if err != nil {
		return nil, err
	}

	a.store = sessions.NewStore(a.auth, a.users, persister)
	a.store.Init(ctx)

	return a, nil
}

func (a *app) persister() (sessions.Persister, error) {
	switch config.Session.Store {
	case "file":
		return sessions.NewFilePersister(config.Session.Path, config.Session.Name), nil
	case "redis":
		if a.rdb == nil {
			return nil, errors.New("redis session store requires a redis host")
		}

		return sessions.NewRedisPersister(a.rdb, config.Session.Name), nil
	default:
		return nil, errors.Errorf("unknown session store %q", config.Session.Store)
	}
}

// identity returns the signed in user and a context carrying their token.
func (a *app) identity(ctx context.Context) (context.Context, *users.User, error) {
	user := a.store.CurrentIdentity()
	if user == nil {
		return nil, nil, errNotSignedIn
	}

	return a.store.Context(ctx), user, nil
}

func (a *app) Close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
}
