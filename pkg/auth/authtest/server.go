// Package authtest runs an in memory stand-in for the backend's auth service.
package authtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/soapboxsocial/glimpse/pkg/auth"
)

var secret = []byte("authtest")

type account struct {
	user     auth.User
	password string
}

// Link is a magic link sent by email.
type Link struct {
	Challenge  string
	RedirectTo string
}

type code struct {
	userID    string
	challenge string
}

// Server is a fake auth service.
type Server struct {
	*httptest.Server

	mu sync.Mutex

	accounts  map[string]*account
	access    map[string]string
	refresh   map[string]string
	codes     map[string]code
	otps      map[string]string
	resent    map[string]int
	links     map[string]Link
	redirects map[string]string
	revokeErr bool

	// AutoConfirm issues a session on signup instead of requiring confirmation.
	AutoConfirm bool

	// TTL is the lifetime of issued access tokens.
	TTL time.Duration
}

// NewServer starts a fake auth service, callers must Close it.
func NewServer() *Server {
	s := &Server{
		accounts:  make(map[string]*account),
		access:    make(map[string]string),
		refresh:   make(map[string]string),
		codes:     make(map[string]code),
		otps:      make(map[string]string),
		resent:    make(map[string]int),
		links:     make(map[string]Link),
		redirects: make(map[string]string),
		TTL:       time.Hour,
	}

	r := mux.NewRouter()
	a := r.PathPrefix("/auth/v1").Subrouter()
	a.HandleFunc("/token", s.token).Methods("POST")
	a.HandleFunc("/signup", s.signup).Methods("POST")
	a.HandleFunc("/logout", s.logout).Methods("POST")
	a.HandleFunc("/recover", s.recoverPassword).Methods("POST")
	a.HandleFunc("/verify", s.verify).Methods("POST")
	a.HandleFunc("/resend", s.resend).Methods("POST")
	a.HandleFunc("/otp", s.otp).Methods("POST")
	a.HandleFunc("/user", s.getUser).Methods("GET")
	a.HandleFunc("/user", s.updateUser).Methods("PUT")
	a.HandleFunc("/admin/users", s.listUsers).Methods("GET")
	a.HandleFunc("/admin/users/{id}", s.adminUpdate).Methods("PUT")

	s.Server = httptest.NewServer(r)
	return s
}

// AddUser registers an account directly.
func (s *Server) AddUser(email, password, username string, confirmed bool) auth.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.add(email, password, username, confirmed)
}

func (s *Server) add(email, password, username string, confirmed bool) auth.User {
	user := auth.User{
		ID:           uuid.New().String(),
		Email:        email,
		UserMetadata: map[string]interface{}{"username": username},
		CreatedAt:    time.Now().UTC(),
	}

	if confirmed {
		now := time.Now().UTC()
		user.EmailConfirmedAt = &now
	}

	s.accounts[strings.ToLower(email)] = &account{user: user, password: password}
	return user
}

// User returns the account for email.
func (s *Server) User(email string) (auth.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[strings.ToLower(email)]
	if !ok {
		return auth.User{}, false
	}

	return a.user, true
}

// SignUpRedirect returns the redirect_to sent with the signup of email.
func (s *Server) SignUpRedirect(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.redirects[strings.ToLower(email)]
}

// IssueCode returns an auth code for email that can be exchanged with the verifier behind challenge.
func (s *Server) IssueCode(email, challenge string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := uuid.New().String()
	s.codes[c] = code{userID: s.accounts[strings.ToLower(email)].user.ID, challenge: challenge}
	return c
}

// OTP returns the last one time password sent to email.
func (s *Server) OTP(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.otps[strings.ToLower(email)]
}

// LastLink returns the last magic link sent to email.
func (s *Server) LastLink(email string) (Link, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.links[strings.ToLower(email)]
	return l, ok
}

// Resent returns how many confirmation emails were resent to email.
func (s *Server) Resent(email string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.resent[strings.ToLower(email)]
}

// FailRevoke makes every logout fail.
func (s *Server) FailRevoke() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.revokeErr = true
}

// Active reports whether access token is still valid.
func (s *Server) Active(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.access[token]
	return ok
}

// Session issues a session for email without credentials.
func (s *Server) Session(email string) *auth.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.issue(s.accounts[strings.ToLower(email)].user)
}

type tokenRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	RefreshToken string `json:"refresh_token"`
	AuthCode     string `json:"auth_code"`
	CodeVerifier string `json:"code_verifier"`
}

func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	body := tokenRequest{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "could not parse request body as JSON")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.URL.Query().Get("grant_type") {
	case "password":
		a, ok := s.accounts[strings.ToLower(body.Email)]
		if !ok || a.password != body.Password {
			writeError(w, http.StatusBadRequest, "invalid_credentials", "Invalid login credentials")
			return
		}

		if !a.user.Confirmed() {
			writeError(w, http.StatusBadRequest, "email_not_confirmed", "Email not confirmed")
			return
		}

		writeJSON(w, http.StatusOK, s.issue(a.user))
	case "refresh_token":
		id, ok := s.refresh[body.RefreshToken]
		if !ok {
			writeError(w, http.StatusBadRequest, "refresh_token_not_found", "Invalid Refresh Token: Refresh Token Not Found")
			return
		}

		delete(s.refresh, body.RefreshToken)
		writeJSON(w, http.StatusOK, s.issue(s.byID(id).user))
	case "pkce":
		c, ok := s.codes[body.AuthCode]
		if !ok || auth.Challenge(body.CodeVerifier) != c.challenge {
			writeError(w, http.StatusNotFound, "flow_state_not_found", "invalid flow state, no valid flow state found")
			return
		}

		delete(s.codes, body.AuthCode)
		writeJSON(w, http.StatusOK, s.issue(s.byID(c.userID).user))
	default:
		writeError(w, http.StatusBadRequest, "unsupported_grant_type", "unsupported grant type")
	}
}

func (s *Server) signup(w http.ResponseWriter, r *http.Request) {
	body := struct {
		Email    string                 `json:"email"`
		Password string                 `json:"password"`
		Data     map[string]interface{} `json:"data"`
	}{}

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "could not parse request body as JSON")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[strings.ToLower(body.Email)]; ok {
		writeError(w, http.StatusUnprocessableEntity, "user_already_exists", "User already registered")
		return
	}

	username, _ := body.Data["username"].(string)
	user := s.add(body.Email, body.Password, username, s.AutoConfirm)
	s.redirects[strings.ToLower(body.Email)] = r.URL.Query().Get("redirect_to")

	if s.AutoConfirm {
		writeJSON(w, http.StatusOK, s.issue(user))
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.revokeErr {
		writeError(w, http.StatusInternalServerError, "unexpected_failure", "database unavailable")
		return
	}

	delete(s.access, bearer(r))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) recoverPassword(w http.ResponseWriter, r *http.Request) {
	body := struct {
		Email string `json:"email"`
	}{}

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "could not parse request body as JSON")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(body.Email)
	if _, ok := s.accounts[email]; ok {
		s.otps[email] = strconv.Itoa(100000 + len(s.otps))
	}

	writeJSON(w, http.StatusOK, map[string]string{})
}

func (s *Server) verify(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "could not parse request body as JSON")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(body["email"])
	otp, ok := s.otps[email]
	if !ok || otp != body["token"] {
		writeError(w, http.StatusForbidden, "otp_expired", "Token has expired or is invalid")
		return
	}

	delete(s.otps, email)
	writeJSON(w, http.StatusOK, s.issue(s.accounts[email].user))
}

func (s *Server) resend(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "could not parse request body as JSON")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.resent[strings.ToLower(body["email"])]++
	writeJSON(w, http.StatusOK, map[string]string{})
}

func (s *Server) otp(w http.ResponseWriter, r *http.Request) {
	body := struct {
		Email     string `json:"email"`
		Challenge string `json:"code_challenge"`
	}{}

	err := json.NewDecoder(r.Body).Decode(&body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(body.Email)
	if _, ok := s.accounts[email]; !ok {
		writeError(w, http.StatusUnprocessableEntity, "otp_disabled", "signups not allowed for otp")
		return
	}

	s.links[email] = Link{Challenge: body.Challenge, RedirectTo: r.URL.Query().Get("redirect_to")}
	writeJSON(w, http.StatusOK, map[string]string{})
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.authorized(r)
	if a == nil {
		writeError(w, http.StatusUnauthorized, "bad_jwt", "invalid JWT")
		return
	}

	writeJSON(w, http.StatusOK, a.user)
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	update := auth.UserUpdate{}
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "could not parse request body as JSON")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.authorized(r)
	if a == nil {
		writeError(w, http.StatusUnauthorized, "bad_jwt", "invalid JWT")
		return
	}

	if update.Password != nil {
		a.password = *update.Password
	}

	for k, v := range update.Data {
		if a.user.UserMetadata == nil {
			a.user.UserMetadata = make(map[string]interface{})
		}

		a.user.UserMetadata[k] = v
	}

	writeJSON(w, http.StatusOK, a.user)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make([]auth.User, 0, len(s.accounts))
	for _, a := range s.accounts {
		users = append(users, a.user)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

func (s *Server) adminUpdate(w http.ResponseWriter, r *http.Request) {
	body := map[string]bool{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "could not parse request body as JSON")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.byID(mux.Vars(r)["id"])
	if a == nil {
		writeError(w, http.StatusNotFound, "user_not_found", "User not found")
		return
	}

	if body["email_confirm"] {
		now := time.Now().UTC()
		a.user.EmailConfirmedAt = &now
	}

	writeJSON(w, http.StatusOK, a.user)
}

func (s *Server) issue(user auth.User) *auth.Session {
	expires := time.Now().Add(s.TTL)

	claims := auth.Claims{
		Email:        user.Email,
		Role:         "authenticated",
		UserMetadata: user.UserMetadata,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.New().String(),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		panic(err)
	}

	refresh := uuid.New().String()
	s.access[token] = user.ID
	s.refresh[refresh] = user.ID

	return &auth.Session{
		AccessToken:  token,
		TokenType:    "bearer",
		ExpiresIn:    int(s.TTL.Seconds()),
		ExpiresAt:    expires.Unix(),
		RefreshToken: refresh,
		User:         user,
	}
}

func (s *Server) authorized(r *http.Request) *account {
	id, ok := s.access[bearer(r)]
	if !ok {
		return nil
	}

	return s.byID(id)
}

func (s *Server) byID(id string) *account {
	for _, a := range s.accounts {
		if a.user.ID == id {
			return a
		}
	}

	return nil
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"code":       status,
		"error_code": code,
		"msg":        message,
	})
}
