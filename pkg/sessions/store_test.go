package sessions_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/golang/mock/gomock"
	"github.com/rs/zerolog"

	"github.com/soapboxsocial/glimpse/mocks"
	"github.com/soapboxsocial/glimpse/pkg/auth"
	"github.com/soapboxsocial/glimpse/pkg/conf"
	httputil "github.com/soapboxsocial/glimpse/pkg/http"
	"github.com/soapboxsocial/glimpse/pkg/rest"
	"github.com/soapboxsocial/glimpse/pkg/sessions"
	"github.com/soapboxsocial/glimpse/pkg/users"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

type fixture struct {
	auth      *mocks.MockAuthenticator
	profiles  *mocks.MockProfiles
	persister *sessions.FilePersister
	store     *sessions.Store
}

func setup(t *testing.T) *fixture {
	t.Helper()

	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	f := &fixture{
		auth:      mocks.NewMockAuthenticator(ctrl),
		profiles:  mocks.NewMockProfiles(ctrl),
		persister: sessions.NewFilePersister(t.TempDir(), "test"),
	}

	f.store = sessions.NewStore(f.auth, f.profiles, f.persister)
	return f
}

// anonymous resolves the store without a persisted session.
func (f *fixture) anonymous(t *testing.T) {
	t.Helper()

	f.store.Init(context.Background())
	if f.store.State() != sessions.Anonymous {
		t.Fatalf("expected anonymous, got %s", f.store.State())
	}
}

func newSession(id, email string) *auth.Session {
	return &auth.Session{
		AccessToken:  "access-" + id,
		RefreshToken: "refresh-" + id,
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
		User:         auth.User{ID: id, Email: email},
	}
}

type transitions struct {
	mu   sync.Mutex
	list []sessions.Transition
}

func (tr *transitions) observe(t sessions.Transition) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	tr.list = append(tr.list, t)
}

func (tr *transitions) states() []sessions.State {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	states := make([]sessions.State, 0, len(tr.list))
	for _, t := range tr.list {
		states = append(states, t.To.State)
	}

	return states
}

func TestStore_Initializing(t *testing.T) {
	f := setup(t)

	if !f.store.Loading() || f.store.State() != sessions.Initializing {
		t.Fatal("expected store to start initializing")
	}

	if f.store.CurrentIdentity() != nil {
		t.Fatal("expected no identity while initializing")
	}
}

func TestStore_Init_NoSession(t *testing.T) {
	f := setup(t)

	tr := &transitions{}
	f.store.Subscribe(tr.observe)

	f.store.Init(context.Background())

	if f.store.Loading() {
		t.Fatal("expected loading to be done")
	}

	if f.store.CurrentIdentity() != nil {
		t.Fatal("expected no identity")
	}

	if len(tr.list) != 1 || tr.list[0].From.State != sessions.Initializing || tr.list[0].To.State != sessions.Anonymous {
		t.Fatalf("unexpected transitions %v", tr.list)
	}
}

func TestStore_Init_Persisted(t *testing.T) {
	f := setup(t)

	session := newSession("u1", "jane@example.com")
	err := f.persister.Save(context.Background(), session)
	if err != nil {
		t.Fatal(err)
	}

	profile := &users.User{ID: "u1", Username: "jane", Email: "jane@example.com"}

	f.profiles.EXPECT().FindByID(gomock.Any(), "u1").DoAndReturn(func(ctx context.Context, id string) (*users.User, error) {
		token, ok := httputil.GetAccessTokenFromContext(ctx)
		if !ok || token != session.AccessToken {
			t.Errorf("expected profile lookup with the session token, got %q", token)
		}

		return profile, nil
	})

	f.store.Init(context.Background())

	if f.store.State() != sessions.Authenticated {
		t.Fatalf("expected authenticated, got %s", f.store.State())
	}

	identity := f.store.CurrentIdentity()
	if identity.ID != "u1" || identity.Username != "jane" {
		t.Fatalf("unexpected identity %v", identity)
	}
}

func TestStore_Init_ProfileFallback(t *testing.T) {
	var tests = []struct {
		name     string
		metadata map[string]interface{}
		email    string
		err      error
		username string
	}{
		{"metadata", map[string]interface{}{"username": "janedoe"}, "jane@example.com", rest.ErrNotFound, "janedoe"},
		{"email", nil, "jane@example.com", rest.ErrNotFound, "jane"},
		{"transport", nil, "jane@example.com", &rest.Error{Kind: rest.KindTransport, Message: "boom"}, "jane"},
		{"nothing", nil, "", rest.ErrNotFound, "User"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)

			session := newSession("u1", tt.email)
			session.User.UserMetadata = tt.metadata

			_ = f.persister.Save(context.Background(), session)

			f.profiles.EXPECT().FindByID(gomock.Any(), "u1").Return(nil, tt.err)

			f.store.Init(context.Background())

			identity := f.store.CurrentIdentity()
			if identity == nil {
				t.Fatal("expected a synthesized identity")
			}

			if identity.ID != "u1" || identity.Username != tt.username || identity.Email != tt.email {
				t.Fatalf("unexpected identity %v", identity)
			}
		})
	}
}

func TestStore_Init_ProfileTimeout(t *testing.T) {
	f := setup(t)
	f.store.ProfileTimeout = 20 * time.Millisecond

	_ = f.persister.Save(context.Background(), newSession("u1", "jane@example.com"))

	f.profiles.EXPECT().FindByID(gomock.Any(), "u1").DoAndReturn(func(ctx context.Context, id string) (*users.User, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	start := time.Now()
	f.store.Init(context.Background())

	if time.Since(start) > time.Second {
		t.Fatal("profile lookup was not bounded")
	}

	if f.store.State() != sessions.Authenticated || f.store.CurrentIdentity().Username != "jane" {
		t.Fatalf("expected fallback identity, got %v", f.store.CurrentIdentity())
	}
}

func TestStore_Init_StalledProfileBackend(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))

	defer server.Close()
	defer close(release)

	client, err := rest.NewClient(conf.BackendConf{URL: server.URL, AnonKey: "anon"})
	if err != nil {
		t.Fatal(err)
	}

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	persister := sessions.NewFilePersister(t.TempDir(), "test")
	_ = persister.Save(context.Background(), newSession("u1", "jane@example.com"))

	store := sessions.NewStore(mocks.NewMockAuthenticator(ctrl), users.NewBackend(client), persister)
	store.ProfileTimeout = 50 * time.Millisecond

	start := time.Now()
	store.Init(context.Background())

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("init took %s with a %s profile timeout", elapsed, store.ProfileTimeout)
	}

	identity := store.CurrentIdentity()
	if store.State() != sessions.Authenticated || identity == nil || identity.Username != "jane" {
		t.Fatalf("expected fallback identity, got %v", identity)
	}
}

func TestStore_Init_Refresh(t *testing.T) {
	f := setup(t)

	expired := newSession("u1", "jane@example.com")
	expired.ExpiresAt = time.Now().Add(-time.Minute).Unix()
	_ = f.persister.Save(context.Background(), expired)

	fresh := newSession("u1", "jane@example.com")
	fresh.AccessToken = "fresh"

	f.auth.EXPECT().Refresh(gomock.Any(), expired.RefreshToken).Return(fresh, nil)
	f.profiles.EXPECT().FindByID(gomock.Any(), "u1").Return(&users.User{ID: "u1", Username: "jane"}, nil)

	f.store.Init(context.Background())

	token, ok := f.store.AccessToken()
	if !ok || token != "fresh" {
		t.Fatalf("expected refreshed token, got %s", token)
	}

	persisted, err := f.persister.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if persisted.AccessToken != "fresh" {
		t.Fatal("expected refreshed session to be persisted")
	}
}

func TestStore_Init_RefreshFails(t *testing.T) {
	f := setup(t)

	expired := newSession("u1", "jane@example.com")
	expired.ExpiresAt = time.Now().Add(-time.Minute).Unix()
	_ = f.persister.Save(context.Background(), expired)

	f.auth.EXPECT().Refresh(gomock.Any(), expired.RefreshToken).Return(nil, auth.ErrSessionNotFound)

	f.store.Init(context.Background())

	if f.store.State() != sessions.Anonymous {
		t.Fatalf("expected anonymous, got %s", f.store.State())
	}

	_, err := f.persister.Load(context.Background())
	if err != sessions.ErrNoSession {
		t.Fatalf("expected persisted session to be cleared, got %v", err)
	}
}

func TestStore_Init_AfterSignIn(t *testing.T) {
	f := setup(t)

	session := newSession("u1", "jane@example.com")
	f.auth.EXPECT().SignInWithPassword(gomock.Any(), gomock.Any()).Return(session, nil)
	f.profiles.EXPECT().Ensure(gomock.Any(), "u1", "jane@example.com", "").Return(&users.User{ID: "u1", Username: "jane"}, nil)

	err := f.store.SignIn(context.Background(), "jane@example.com", "password")
	if err != nil {
		t.Fatal(err)
	}

	// the persisted session is found, but the store already resolved.
	f.profiles.EXPECT().FindByID(gomock.Any(), "u1").Return(&users.User{ID: "u1", Username: "stale"}, nil).AnyTimes()

	f.store.Init(context.Background())

	if f.store.CurrentIdentity().Username != "jane" {
		t.Fatalf("init overwrote sign in, got %v", f.store.CurrentIdentity())
	}
}

func TestStore_Init_RacesSignIn(t *testing.T) {
	var tests = []struct {
		name    string
		refresh func(expired *auth.Session) (*auth.Session, error)
	}{
		{"refresh fails", func(*auth.Session) (*auth.Session, error) {
			return nil, auth.ErrSessionNotFound
		}},
		{"refresh succeeds", func(expired *auth.Session) (*auth.Session, error) {
			fresh := *expired
			fresh.AccessToken = "fresh-a"
			fresh.ExpiresAt = time.Now().Add(time.Hour).Unix()
			return &fresh, nil
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)

			expired := newSession("a", "ann@example.com")
			expired.ExpiresAt = time.Now().Add(-time.Minute).Unix()
			_ = f.persister.Save(context.Background(), expired)

			refreshing := make(chan struct{})
			signedIn := make(chan struct{})
			f.auth.EXPECT().Refresh(gomock.Any(), expired.RefreshToken).DoAndReturn(func(ctx context.Context, token string) (*auth.Session, error) {
				close(refreshing)
				<-signedIn
				return tt.refresh(expired)
			})
			f.profiles.EXPECT().FindByID(gomock.Any(), "a").Return(&users.User{ID: "a", Username: "ann"}, nil).AnyTimes()

			session := newSession("b", "bob@example.com")
			f.auth.EXPECT().SignInWithPassword(gomock.Any(), gomock.Any()).Return(session, nil)
			f.profiles.EXPECT().Ensure(gomock.Any(), "b", "bob@example.com", "").Return(&users.User{ID: "b", Username: "bob"}, nil)

			done := make(chan struct{})
			go func() {
				defer close(done)
				f.store.Init(context.Background())
			}()

			<-refreshing
			err := f.store.SignIn(context.Background(), "bob@example.com", "password")
			close(signedIn)
			<-done

			if err != nil {
				t.Fatal(err)
			}

			if f.store.State() != sessions.Authenticated || f.store.CurrentIdentity().ID != "b" {
				t.Fatalf("expected b to stay signed in, got %v", f.store.CurrentIdentity())
			}

			persisted, err := f.persister.Load(context.Background())
			if err != nil {
				t.Fatalf("expected the session of b to stay persisted, got %v", err)
			}

			if persisted.AccessToken != session.AccessToken {
				t.Fatalf("persisted session was replaced by %s", persisted.AccessToken)
			}
		})
	}
}

func TestStore_SignIn(t *testing.T) {
	f := setup(t)
	f.anonymous(t)

	tr := &transitions{}
	f.store.Subscribe(tr.observe)

	session := newSession("u1", "jane@example.com")
	session.User.UserMetadata = map[string]interface{}{"username": "janedoe"}

	f.auth.EXPECT().
		SignInWithPassword(gomock.Any(), auth.Credentials{Email: "jane@example.com", Password: "password"}).
		Return(session, nil)

	f.profiles.EXPECT().
		Ensure(gomock.Any(), "u1", "jane@example.com", "janedoe").
		Return(&users.User{ID: "u1", Username: "janedoe", Email: "jane@example.com"}, nil)

	err := f.store.SignIn(context.Background(), "jane@example.com", "password")
	if err != nil {
		t.Fatal(err)
	}

	identity := f.store.CurrentIdentity()
	if identity == nil || identity.ID != session.User.ID {
		t.Fatalf("expected identity of the session subject, got %v", identity)
	}

	if states := tr.states(); len(states) != 1 || states[0] != sessions.Authenticated {
		t.Fatalf("unexpected transitions %v", states)
	}

	persisted, err := f.persister.Load(context.Background())
	if err != nil || persisted.AccessToken != session.AccessToken {
		t.Fatalf("expected session to be persisted, err %v", err)
	}

	ctx := f.store.Context(context.Background())
	token, ok := httputil.GetAccessTokenFromContext(ctx)
	if !ok || token != session.AccessToken {
		t.Fatalf("expected context to carry the token, got %s", token)
	}
}

func TestStore_SignIn_MirrorFails(t *testing.T) {
	f := setup(t)
	f.anonymous(t)

	f.auth.EXPECT().SignInWithPassword(gomock.Any(), gomock.Any()).Return(newSession("u1", "jane@example.com"), nil)
	f.profiles.EXPECT().Ensure(gomock.Any(), "u1", "jane@example.com", "").Return(nil, &rest.Error{Kind: rest.KindTransport})

	err := f.store.SignIn(context.Background(), "jane@example.com", "password")
	if err != nil {
		t.Fatal(err)
	}

	identity := f.store.CurrentIdentity()
	if identity == nil || identity.ID != "u1" || identity.Username != "jane" {
		t.Fatalf("expected synthesized identity, got %v", identity)
	}
}

func TestStore_SignIn_Failure(t *testing.T) {
	var tests = []error{
		auth.ErrEmailNotConfirmed,
		auth.ErrInvalidCredentials,
		errors.New("network down"),
	}

	for _, tt := range tests {
		t.Run(tt.Error(), func(t *testing.T) {
			f := setup(t)
			f.anonymous(t)

			tr := &transitions{}
			f.store.Subscribe(tr.observe)

			f.auth.EXPECT().SignInWithPassword(gomock.Any(), gomock.Any()).Return(nil, tt)

			err := f.store.SignIn(context.Background(), "jane@example.com", "password")
			if !errors.Is(err, tt) {
				t.Fatalf("expected %v, got %v", tt, err)
			}

			if f.store.State() != sessions.Anonymous || f.store.CurrentIdentity() != nil {
				t.Fatal("state should not change on a failed sign in")
			}

			if len(tr.list) != 0 {
				t.Fatalf("unexpected transitions %v", tr.list)
			}
		})
	}
}

func TestStore_SignUp(t *testing.T) {
	req := auth.SignUpRequest{Email: "jane@example.com", Password: "secret1", Username: "jane"}

	t.Run("confirmation", func(t *testing.T) {
		f := setup(t)
		f.anonymous(t)

		f.auth.EXPECT().SignUp(gomock.Any(), req).Return(&auth.User{ID: "u1", Email: req.Email}, nil, nil)

		err := f.store.SignUp(context.Background(), req)
		if err != sessions.ErrConfirmationRequired {
			t.Fatalf("expected ErrConfirmationRequired, got %v", err)
		}

		if f.store.State() != sessions.Anonymous {
			t.Fatal("expected to stay anonymous")
		}
	})

	t.Run("autoconfirm", func(t *testing.T) {
		f := setup(t)
		f.anonymous(t)

		session := newSession("u1", req.Email)
		session.User.UserMetadata = map[string]interface{}{"username": "jane"}

		f.auth.EXPECT().SignUp(gomock.Any(), req).Return(&session.User, session, nil)
		f.profiles.EXPECT().Ensure(gomock.Any(), "u1", req.Email, "jane").Return(&users.User{ID: "u1", Username: "jane"}, nil)

		err := f.store.SignUp(context.Background(), req)
		if err != nil {
			t.Fatal(err)
		}

		if f.store.State() != sessions.Authenticated {
			t.Fatal("expected to be signed in")
		}
	})

	t.Run("exists", func(t *testing.T) {
		f := setup(t)
		f.anonymous(t)

		f.auth.EXPECT().SignUp(gomock.Any(), req).Return(nil, nil, auth.ErrUserAlreadyExists)

		err := f.store.SignUp(context.Background(), req)
		if !errors.Is(err, auth.ErrUserAlreadyExists) {
			t.Fatalf("expected ErrUserAlreadyExists, got %v", err)
		}
	})
}

func signedIn(t *testing.T) *fixture {
	t.Helper()

	f := setup(t)
	f.anonymous(t)

	f.auth.EXPECT().SignInWithPassword(gomock.Any(), gomock.Any()).Return(newSession("u1", "jane@example.com"), nil)
	f.profiles.EXPECT().Ensure(gomock.Any(), "u1", gomock.Any(), gomock.Any()).Return(&users.User{ID: "u1", Username: "jane"}, nil)

	err := f.store.SignIn(context.Background(), "jane@example.com", "password")
	if err != nil {
		t.Fatal(err)
	}

	return f
}

func TestStore_SignOut(t *testing.T) {
	f := signedIn(t)

	f.auth.EXPECT().SignOut(gomock.Any(), "access-u1").Return(nil)

	err := f.store.SignOut(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if f.store.State() != sessions.Anonymous || f.store.CurrentIdentity() != nil {
		t.Fatal("expected anonymous")
	}

	if _, ok := f.store.AccessToken(); ok {
		t.Fatal("expected no access token")
	}
}

func TestStore_SignOut_RevokeFails(t *testing.T) {
	f := signedIn(t)

	tr := &transitions{}
	f.store.Subscribe(tr.observe)

	revoke := errors.New("network down")
	f.auth.EXPECT().SignOut(gomock.Any(), "access-u1").Return(revoke)

	err := f.store.SignOut(context.Background())
	if err != revoke {
		t.Fatalf("expected revoke error, got %v", err)
	}

	if f.store.State() != sessions.Anonymous || f.store.CurrentIdentity() != nil {
		t.Fatal("expected local state to be cleared")
	}

	_, err = f.persister.Load(context.Background())
	if err != sessions.ErrNoSession {
		t.Fatalf("expected persisted session to be cleared, got %v", err)
	}

	if states := tr.states(); len(states) != 1 || states[0] != sessions.Anonymous {
		t.Fatalf("unexpected transitions %v", states)
	}
}

func TestStore_SignOut_Anonymous(t *testing.T) {
	f := setup(t)
	f.anonymous(t)

	err := f.store.SignOut(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if f.store.State() != sessions.Anonymous {
		t.Fatal("expected anonymous")
	}
}

func TestStore_HandleSessionChange(t *testing.T) {
	f := setup(t)
	f.anonymous(t)

	tr := &transitions{}
	f.store.Subscribe(tr.observe)

	f.profiles.EXPECT().Ensure(gomock.Any(), "u2", "john@example.com", "").Return(&users.User{ID: "u2", Username: "john"}, nil)

	f.store.HandleSessionChange(context.Background(), newSession("u2", "john@example.com"))

	if f.store.CurrentIdentity().ID != "u2" {
		t.Fatalf("unexpected identity %v", f.store.CurrentIdentity())
	}

	f.store.HandleSessionChange(context.Background(), nil)

	if f.store.State() != sessions.Anonymous {
		t.Fatal("expected anonymous after a change without a session")
	}

	states := tr.states()
	if len(states) != 2 || states[0] != sessions.Authenticated || states[1] != sessions.Anonymous {
		t.Fatalf("unexpected transitions %v", states)
	}
}

func TestStore_HandleSessionChange_Claims(t *testing.T) {
	f := setup(t)
	f.anonymous(t)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":           "u3",
		"email":         "kim@example.com",
		"user_metadata": map[string]interface{}{"username": "kim"},
		"exp":           time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}

	f.profiles.EXPECT().Ensure(gomock.Any(), "u3", "kim@example.com", "kim").Return(nil, rest.ErrNotFound)

	f.store.HandleSessionChange(context.Background(), &auth.Session{AccessToken: token})

	identity := f.store.CurrentIdentity()
	if identity == nil || identity.ID != "u3" || identity.Username != "kim" {
		t.Fatalf("expected identity from the token claims, got %v", identity)
	}
}

func TestStore_SetIdentity(t *testing.T) {
	f := signedIn(t)

	identity := f.store.CurrentIdentity()
	identity.Username = "changed"

	if f.store.CurrentIdentity().Username != "jane" {
		t.Fatal("identity returned by the store must be a copy")
	}

	f.store.SetIdentity(*identity)

	if f.store.CurrentIdentity().Username != "changed" {
		t.Fatal("expected identity to be replaced")
	}

	if _, ok := f.store.AccessToken(); !ok {
		t.Fatal("expected session to be kept")
	}
}

func TestStore_SetIdentity_WithoutSession(t *testing.T) {
	f := setup(t)
	f.anonymous(t)

	tr := &transitions{}
	f.store.Subscribe(tr.observe)

	f.store.SetIdentity(users.User{ID: "u1", Username: "jane"})

	if f.store.State() != sessions.Anonymous || f.store.CurrentIdentity() != nil {
		t.Fatalf("expected to stay anonymous, got %s", f.store.State())
	}

	if len(tr.list) != 0 {
		t.Fatalf("unexpected transitions %v", tr.list)
	}
}

func TestStore_SetIdentity_Initializing(t *testing.T) {
	f := setup(t)

	f.store.SetIdentity(users.User{ID: "u1", Username: "jane"})

	if f.store.State() != sessions.Initializing {
		t.Fatalf("expected to stay initializing, got %s", f.store.State())
	}
}

func TestStore_SetIdentity_OtherUser(t *testing.T) {
	f := signedIn(t)

	f.store.SetIdentity(users.User{ID: "u2", Username: "john"})

	identity := f.store.CurrentIdentity()
	if identity.ID != "u1" || identity.Username != "jane" {
		t.Fatalf("identity of another user was applied, got %v", identity)
	}
}

func TestStore_SetIdentity_AfterSignOut(t *testing.T) {
	f := signedIn(t)

	f.auth.EXPECT().SignOut(gomock.Any(), "access-u1").Return(nil)

	err := f.store.SignOut(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	// a profile write that finished after the sign out
	f.store.SetIdentity(users.User{ID: "u1", Username: "renamed"})

	if f.store.State() != sessions.Anonymous {
		t.Fatalf("sign out was undone, got %s", f.store.State())
	}
}

func TestStore_Subscribe_Cancel(t *testing.T) {
	f := signedIn(t)

	first := &transitions{}
	second := &transitions{}

	cancel := f.store.Subscribe(first.observe)
	f.store.Subscribe(second.observe)

	f.store.SetIdentity(users.User{ID: "u1", Username: "a"})
	cancel()
	f.store.SetIdentity(users.User{ID: "u1", Username: "b"})

	if len(first.list) != 1 {
		t.Fatalf("expected 1 transition after cancel, got %d", len(first.list))
	}

	if len(second.list) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(second.list))
	}
}

func TestStore_Subscribe_WriteFromObserver(t *testing.T) {
	f := signedIn(t)

	tr := &transitions{}
	f.store.Subscribe(func(t sessions.Transition) {
		if t.To.Identity != nil && t.To.Identity.Username == "first" {
			f.store.SetIdentity(users.User{ID: "u1", Username: "second"})
		}
	})
	f.store.Subscribe(tr.observe)

	f.store.SetIdentity(users.User{ID: "u1", Username: "first"})

	if len(tr.list) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(tr.list))
	}

	if tr.list[0].To.Identity.Username != "first" || tr.list[1].To.Identity.Username != "second" {
		t.Fatal("transitions delivered out of order")
	}

	if tr.list[1].From.Identity.Username != "first" {
		t.Fatal("second transition should start from the first")
	}
}

func TestStore_Subscribe_Concurrent(t *testing.T) {
	f := signedIn(t)

	var observers [3]transitions
	for i := range observers {
		f.store.Subscribe(observers[i].observe)
	}

	const writers = 50

	wg := sync.WaitGroup{}
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f.store.SetIdentity(users.User{ID: "u1", Username: fmt.Sprintf("user%d", i)})
		}(i)
	}

	wg.Wait()

	final := f.store.CurrentIdentity().Username

	for i := range observers {
		list := observers[i].list
		if len(list) != writers {
			t.Fatalf("observer %d got %d transitions", i, len(list))
		}

		for j := 1; j < len(list); j++ {
			if list[j].From.Identity.Username != list[j-1].To.Identity.Username {
				t.Fatalf("observer %d: transition %d does not follow the previous one", i, j)
			}
		}

		if list[len(list)-1].To.Identity.Username != final {
			t.Fatalf("observer %d: last transition is not the current identity", i)
		}

		for j := range list {
			if list[j].To.Identity.Username != observers[0].list[j].To.Identity.Username {
				t.Fatalf("observers disagree on the order at %d", j)
			}
		}
	}
}
