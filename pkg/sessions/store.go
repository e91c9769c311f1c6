// Package sessions holds the signed in identity of the process.
package sessions

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/soapboxsocial/glimpse/pkg/auth"
	httputil "github.com/soapboxsocial/glimpse/pkg/http"
	"github.com/soapboxsocial/glimpse/pkg/users"
)

// ErrConfirmationRequired is returned by SignUp when the email has to be confirmed before signing in.
var ErrConfirmationRequired = errors.New("email confirmation required")

//go:generate mockgen -destination=../../mocks/sessions.go -package=mocks github.com/soapboxsocial/glimpse/pkg/sessions Authenticator,Profiles

// Authenticator issues and revokes sessions.
type Authenticator interface {
	SignInWithPassword(ctx context.Context, creds auth.Credentials) (*auth.Session, error)
	SignUp(ctx context.Context, req auth.SignUpRequest) (*auth.User, *auth.Session, error)
	SignOut(ctx context.Context, token string) error
	Refresh(ctx context.Context, refreshToken string) (*auth.Session, error)
}

// Profiles reads and mirrors profile records.
type Profiles interface {
	FindByID(ctx context.Context, id string) (*users.User, error)
	Ensure(ctx context.Context, id, email, username string) (*users.User, error)
}

// Store is the state of the current identity. It starts Initializing and resolves to
// Authenticated or Anonymous. Concurrent writes are applied in the order they arrive.
type Store struct {
	auth      Authenticator
	profiles  Profiles
	persister Persister

	// ProfileTimeout bounds the profile lookup made when a session is detected.
	ProfileTimeout time.Duration

	now func() time.Time

	// writeMu orders persister writes with the state changes they belong to.
	writeMu sync.Mutex

	mu        sync.Mutex
	snapshot  Snapshot
	session   *auth.Session
	observers map[uint64]Observer
	nextID    uint64
	pending   []delivery
	flushing  bool
}

type delivery struct {
	transition Transition
	observers  []Observer
}

func NewStore(authenticator Authenticator, profiles Profiles, persister Persister) *Store {
	return &Store{
		auth:           authenticator,
		profiles:       profiles,
		persister:      persister,
		ProfileTimeout: 5 * time.Second,
		now:            time.Now,
		snapshot:       Snapshot{State: Initializing},
		observers:      make(map[uint64]Observer),
	}
}

// Init resolves the persisted session. An expired session is refreshed once, if that fails the
// persisted copy is cleared. Init has no effect once the store left Initializing, the persisted
// session is then left to whichever write resolved the store.
func (s *Store) Init(ctx context.Context) {
	session, err := s.persister.Load(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoSession) {
			log.Warn().Err(err).Msg("failed to load session")
		}

		s.commit(ctx, nil, nil, false, true)
		return
	}

	refreshed := false
	if session.Expired(s.now()) {
		session, err = s.auth.Refresh(ctx, session.RefreshToken)
		if err != nil {
			log.Info().Err(err).Msg("persisted session could not be refreshed")
			s.commit(ctx, nil, nil, true, true)
			return
		}

		refreshed = true
	}

	identity := s.enrich(ctx, session)
	s.commit(ctx, session, identity, refreshed, true)
}

// CurrentIdentity returns the last known identity, nil when nobody is signed in.
func (s *Store) CurrentIdentity() *users.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshot.identity()
}

// Loading reports whether the initial session check is still running.
func (s *Store) Loading() bool {
	return s.Snapshot().Loading()
}

func (s *Store) State() State {
	return s.Snapshot().State
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{State: s.snapshot.State, Identity: s.snapshot.identity()}
}

// Subscribe registers an observer for every later transition, the returned func removes it.
// Transitions that happened before cancel was called are still delivered.
func (s *Store) Subscribe(observer Observer) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.observers[id] = observer

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		delete(s.observers, id)
	}
}

// SignIn establishes a session with email and password. On failure the state is left unchanged.
func (s *Store) SignIn(ctx context.Context, email, password string) error {
	session, err := s.auth.SignInWithPassword(ctx, auth.Credentials{Email: email, Password: password})
	if err != nil {
		return err
	}

	s.establish(ctx, session)
	return nil
}

// SignUp registers an identity. If the backend requires the email to be confirmed it returns
// ErrConfirmationRequired, otherwise the new identity is signed in.
func (s *Store) SignUp(ctx context.Context, req auth.SignUpRequest) error {
	user, session, err := s.auth.SignUp(ctx, req)
	if err != nil {
		return err
	}

	if session == nil {
		if user != nil {
			log.Info().Str("user", user.ID).Msg("signed up, awaiting confirmation")
		}

		return ErrConfirmationRequired
	}

	s.establish(ctx, session)
	return nil
}

// SignOut revokes the session and always ends Anonymous. The revoke error is returned after the
// local state was cleared.
func (s *Store) SignOut(ctx context.Context) error {
	s.mu.Lock()
	session := s.session
	s.mu.Unlock()

	var err error
	if session != nil {
		err = s.auth.SignOut(ctx, session.AccessToken)
		if err != nil {
			log.Warn().Err(err).Msg("failed to revoke session")
		}
	}

	s.commit(ctx, nil, nil, true, false)

	return err
}

// HandleSessionChange applies a session issued outside of the store, nil signs out locally.
func (s *Store) HandleSessionChange(ctx context.Context, session *auth.Session) {
	if session == nil {
		s.commit(ctx, nil, nil, true, false)
		return
	}

	s.establish(ctx, session)
}

// SetIdentity replaces the identity of the signed in user. It is ignored unless identity belongs to
// the current session.
func (s *Store) SetIdentity(identity users.User) {
	s.mu.Lock()
	if s.session == nil || sessionUser(s.session).ID != identity.ID {
		s.mu.Unlock()
		log.Debug().Str("user", identity.ID).Msg("identity does not belong to the session")
		return
	}

	s.apply(s.session, &identity)
	s.mu.Unlock()

	s.flush()
}

// AccessToken returns the token of the current session.
func (s *Store) AccessToken() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return "", false
	}

	return s.session.AccessToken, true
}

// Context returns ctx carrying the access token of the current session, if any.
func (s *Store) Context(ctx context.Context) context.Context {
	token, ok := s.AccessToken()
	if !ok {
		return ctx
	}

	return httputil.WithAccessToken(ctx, token)
}

func (s *Store) establish(ctx context.Context, session *auth.Session) {
	user := sessionUser(session)

	mirrorCtx, cancel := context.WithTimeout(httputil.WithAccessToken(ctx, session.AccessToken), s.ProfileTimeout)
	defer cancel()

	identity, err := s.profiles.Ensure(mirrorCtx, user.ID, user.Email, user.Username())
	if err != nil {
		log.Warn().Err(err).Str("user", user.ID).Msg("failed to mirror profile")
		identity = fallback(user)
	}

	s.commit(ctx, session, identity, true, false)
}

// enrich looks the profile up with a single bounded request and falls back to the session's claims.
func (s *Store) enrich(ctx context.Context, session *auth.Session) *users.User {
	user := sessionUser(session)

	ctx, cancel := context.WithTimeout(httputil.WithAccessToken(ctx, session.AccessToken), s.ProfileTimeout)
	defer cancel()

	identity, err := s.profiles.FindByID(ctx, user.ID)
	if err != nil || identity == nil {
		log.Debug().Err(err).Str("user", user.ID).Msg("using identity from session")
		return fallback(user)
	}

	return identity
}

func (s *Store) save(ctx context.Context, session *auth.Session) {
	err := s.persister.Save(ctx, session)
	if err != nil {
		log.Warn().Err(err).Msg("failed to persist session")
	}
}

func (s *Store) clear(ctx context.Context) {
	err := s.persister.Clear(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to clear persisted session")
	}
}

// commit applies one state change. With persist set the session is saved, or cleared when nil,
// before the change is applied. An initial change is dropped once the store left Initializing.
func (s *Store) commit(ctx context.Context, session *auth.Session, identity *users.User, persist, initial bool) {
	s.writeMu.Lock()

	if initial {
		s.mu.Lock()
		resolved := s.snapshot.State != Initializing
		s.mu.Unlock()

		if resolved {
			s.writeMu.Unlock()
			return
		}
	}

	if persist {
		if session == nil {
			s.clear(ctx)
		} else {
			s.save(ctx, session)
		}
	}

	s.mu.Lock()
	s.apply(session, identity)
	s.mu.Unlock()

	s.writeMu.Unlock()

	s.flush()
}

// apply must be called with mu held.
func (s *Store) apply(session *auth.Session, identity *users.User) {
	to := Snapshot{State: Anonymous}
	if identity != nil {
		to = Snapshot{State: Authenticated, Identity: copyUser(identity)}
	} else {
		session = nil
	}

	from := s.snapshot
	s.snapshot = to
	s.session = session

	observers := make([]Observer, 0, len(s.observers))
	for id := uint64(1); id <= s.nextID; id++ {
		if o, ok := s.observers[id]; ok {
			observers = append(observers, o)
		}
	}

	s.pending = append(s.pending, delivery{
		transition: Transition{From: from.copy(), To: to.copy()},
		observers:  observers,
	})
}

// flush delivers pending transitions. Only one caller delivers at a time, writes made by
// observers are queued behind the transition being delivered.
func (s *Store) flush() {
	s.mu.Lock()
	if s.flushing {
		s.mu.Unlock()
		return
	}

	s.flushing = true
	for len(s.pending) > 0 {
		d := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		for _, o := range d.observers {
			o(d.transition)
		}

		s.mu.Lock()
	}

	s.flushing = false
	s.mu.Unlock()
}

func sessionUser(session *auth.Session) auth.User {
	user := session.User
	if user.ID != "" {
		return user
	}

	claims, err := auth.ParseClaims(session.AccessToken)
	if err != nil {
		log.Warn().Err(err).Msg("session carries no user")
		return user
	}

	return claims.User()
}

func fallback(user auth.User) *users.User {
	return &users.User{
		ID:        user.ID,
		Username:  users.FallbackUsername(user.Username(), user.Email),
		Email:     user.Email,
		CreatedAt: user.CreatedAt,
	}
}
