// Package profile loads the data shown on a profile.
package profile

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soapboxsocial/glimpse/pkg/followers"
	"github.com/soapboxsocial/glimpse/pkg/posts"
	"github.com/soapboxsocial/glimpse/pkg/rest"
	"github.com/soapboxsocial/glimpse/pkg/sessions"
	"github.com/soapboxsocial/glimpse/pkg/stories"
	"github.com/soapboxsocial/glimpse/pkg/users"
)

var (
	ErrNotSignedIn = errors.New("not signed in")

	// ErrStale is returned when another profile was loaded before this one completed.
	ErrStale = errors.New("profile changed while loading")
)

// View is what a profile shows.
type View struct {
	ID          string
	User        *users.User
	Posts       []posts.Post
	Stories     []stories.Story
	PostCount   int64
	Followers   int64
	Following   int64
	IsFollowing bool
	Own         bool
}

// Loader keeps the profile currently shown. Results of a load are applied only while that profile is
// still the one shown.
type Loader struct {
	store     *sessions.Store
	users     *users.Backend
	posts     *posts.Backend
	followers *followers.FollowersBackend
	stories   *stories.Backend

	PageSize int
	now      func() time.Time

	mu         sync.Mutex
	generation uint64
	current    *View
}

func NewLoader(store *sessions.Store, ub *users.Backend, pb *posts.Backend, sb *stories.Backend, fb *followers.FollowersBackend) *Loader {
	return &Loader{
		store:     store,
		users:     ub,
		posts:     pb,
		stories:   sb,
		followers: fb,
		PageSize:  30,
		now:       time.Now,
	}
}

// Load shows the profile of id, the signed in user if id is empty.
func (l *Loader) Load(ctx context.Context, id string) (*View, error) {
	viewer := l.store.CurrentIdentity()
	if id == "" {
		if viewer == nil {
			return nil, ErrNotSignedIn
		}

		id = viewer.ID
	}

	own := viewer != nil && viewer.ID == id

	l.mu.Lock()
	l.generation++
	gen := l.generation
	l.current = &View{ID: id, Own: own}
	l.mu.Unlock()

	g, ctx := errgroup.WithContext(l.store.Context(ctx))

	g.Go(func() error {
		user, err := l.users.FindByID(ctx, id)
		if err != nil {
			return err
		}

		l.apply(gen, func(v *View) { v.User = user })
		return nil
	})

	g.Go(func() error {
		list, err := l.posts.ListForUser(ctx, id, rest.Page{Limit: l.PageSize})
		if err != nil {
			return err
		}

		l.apply(gen, func(v *View) { v.Posts = list })
		return nil
	})

	g.Go(func() error {
		list, err := l.stories.ActiveForUser(ctx, id, l.now())
		if err != nil {
			return err
		}

		l.apply(gen, func(v *View) { v.Stories = list })
		return nil
	})

	g.Go(func() error {
		count, err := l.posts.CountForUser(ctx, id)
		if err != nil {
			return err
		}

		l.apply(gen, func(v *View) { v.PostCount = count })
		return nil
	})

	g.Go(func() error {
		count, err := l.followers.FollowerCount(ctx, id)
		if err != nil {
			return err
		}

		l.apply(gen, func(v *View) { v.Followers = count })
		return nil
	})

	g.Go(func() error {
		count, err := l.followers.FollowingCount(ctx, id)
		if err != nil {
			return err
		}

		l.apply(gen, func(v *View) { v.Following = count })
		return nil
	})

	if viewer != nil && !own {
		g.Go(func() error {
			following, err := l.followers.IsFollowing(ctx, viewer.ID, id)
			if err != nil {
				return err
			}

			l.apply(gen, func(v *View) { v.IsFollowing = following })
			return nil
		})
	}

	err := g.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.generation != gen {
		return nil, ErrStale
	}

	if err != nil {
		return nil, err
	}

	return copyView(l.current), nil
}

// Current returns the profile shown, nil before the first Load.
func (l *Loader) Current() *View {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current == nil {
		return nil
	}

	return copyView(l.current)
}

// Refresh reloads the profile shown.
func (l *Loader) Refresh(ctx context.Context) (*View, error) {
	current := l.Current()
	if current == nil {
		return l.Load(ctx, "")
	}

	return l.Load(ctx, current.ID)
}

func (l *Loader) apply(gen uint64, fn func(v *View)) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.generation != gen {
		return
	}

	fn(l.current)
}

func copyView(v *View) *View {
	c := *v
	c.Posts = append([]posts.Post(nil), v.Posts...)
	c.Stories = append([]stories.Story(nil), v.Stories...)
	if v.User != nil {
		u := *v.User
		c.User = &u
	}

	return &c
}
