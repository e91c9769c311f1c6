package login

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/soapboxsocial/glimpse/pkg/auth"
	httputil "github.com/soapboxsocial/glimpse/pkg/http"
	"github.com/soapboxsocial/glimpse/pkg/login/internal"
	"github.com/soapboxsocial/glimpse/pkg/sessions"
	"github.com/soapboxsocial/glimpse/pkg/tracking"
	"github.com/soapboxsocial/glimpse/pkg/users"
)

// Contains the magic link handlers

const LoginStateSuccess = "success"

type loginState struct {
	State     string      `json:"state"`
	User      *users.User `json:"user,omitempty"`
	ExpiresIn *int        `json:"expires_in,omitempty"`
}

type Endpoint struct {
	auth    *auth.Client
	state   *StateManager
	store   *sessions.Store
	tracker tracking.Tracker

	// callback is the public url of the callback route, the auth service redirects there.
	callback string
}

func NewEndpoint(client *auth.Client, state *StateManager, store *sessions.Store, tracker tracking.Tracker, callback string) *Endpoint {
	return &Endpoint{
		auth:     client,
		state:    state,
		store:    store,
		tracker:  tracker,
		callback: callback,
	}
}

func (e *Endpoint) Router() *mux.Router {
	r := mux.NewRouter()

	r.Path("/start").Methods("POST").HandlerFunc(e.start)
	r.Path("/callback").Methods("GET").HandlerFunc(e.complete)

	return r
}

func (e *Endpoint) start(w http.ResponseWriter, r *http.Request) {
	err := r.ParseForm()
	if err != nil {
		httputil.JsonError(w, http.StatusBadRequest, httputil.ErrorCodeInvalidRequestBody, "")
		return
	}

	email := strings.ToLower(strings.TrimSpace(r.Form.Get("email")))
	if !internal.ValidateEmail(email) {
		httputil.JsonError(w, http.StatusBadRequest, httputil.ErrorCodeInvalidEmail, "invalid email")
		return
	}

	token, err := internal.GenerateToken()
	if err != nil {
		httputil.JsonError(w, http.StatusInternalServerError, httputil.ErrorCodeInvalidRequestBody, "")
		return
	}

	verifier, err := auth.NewVerifier()
	if err != nil {
		httputil.JsonError(w, http.StatusInternalServerError, httputil.ErrorCodeInvalidRequestBody, "")
		return
	}

	err = e.state.SetVerifierState(r.Context(), token, email, verifier)
	if err != nil {
		log.Error().Err(err).Msg("failed to store login state")
		httputil.JsonError(w, http.StatusInternalServerError, httputil.ErrorCodeInvalidRequestBody, "")
		return
	}

	err = e.auth.SendMagicLink(r.Context(), email, auth.Challenge(verifier), e.redirect(token))
	if err != nil {
		e.state.RemoveState(r.Context(), token)

		log.Warn().Err(err).Msg("failed to send magic link")
		httputil.JsonError(w, http.StatusBadRequest, httputil.ErrorCodeFailedToLogin, "failed to send link")
		return
	}

	err = httputil.JsonEncode(w, map[string]string{"token": token})
	if err != nil {
		log.Error().Err(err).Msg("error writing response")
	}
}

func (e *Endpoint) complete(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if desc := query.Get("error_description"); desc != "" || query.Get("error") != "" {
		httputil.JsonError(w, http.StatusUnauthorized, httputil.ErrorCodeAuthFailed, desc)
		return
	}

	token := query.Get("state")
	code := query.Get("code")
	if token == "" || code == "" {
		httputil.JsonError(w, http.StatusBadRequest, httputil.ErrorCodeMissingParameter, "missing parameter: code")
		return
	}

	state, err := e.state.GetState(r.Context(), token)
	if err == ErrStateNotFound {
		httputil.JsonError(w, http.StatusBadRequest, httputil.ErrorCodeInvalidState, "unknown or expired sign in")
		return
	}

	if err != nil {
		log.Error().Err(err).Msg("failed to read login state")
		httputil.JsonError(w, http.StatusInternalServerError, httputil.ErrorCodeFailedToLogin, "")
		return
	}

	session, err := e.auth.ExchangeCode(r.Context(), code, state.Verifier)
	if err != nil {
		log.Info().Err(err).Msg("failed to exchange code")
		httputil.JsonError(w, http.StatusUnauthorized, httputil.ErrorCodeAuthFailed, "failed to sign in")
		return
	}

	e.state.RemoveState(r.Context(), token)

	e.store.HandleSessionChange(r.Context(), session)

	user := e.store.CurrentIdentity()
	if user == nil {
		httputil.JsonError(w, http.StatusInternalServerError, httputil.ErrorCodeFailedToLogin, "")
		return
	}

	tracking.Track(e.tracker, &tracking.Event{ID: user.ID, Name: tracking.SignIn, Properties: map[string]interface{}{"method": "magic_link"}})

	expires := session.ExpiresIn
	err = httputil.JsonEncode(w, loginState{State: LoginStateSuccess, User: user, ExpiresIn: &expires})
	if err != nil {
		log.Error().Err(err).Msg("error writing response")
	}
}

func (e *Endpoint) redirect(token string) string {
	u, err := url.Parse(e.callback)
	if err != nil {
		return e.callback
	}

	q := u.Query()
	q.Set("state", token)
	u.RawQuery = q.Encode()

	return u.String()
}
