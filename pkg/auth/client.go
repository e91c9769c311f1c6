// Package auth talks to the backend's authentication service.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/supabase-community/gotrue-go"
	"github.com/supabase-community/gotrue-go/types"

	httputil "github.com/soapboxsocial/glimpse/pkg/http"
)

// DefaultTimeout bounds a request whose context carries no deadline.
const DefaultTimeout = 30 * time.Second

// Client calls the auth service with the public api key.
type Client struct {
	url    string
	apiKey string
	gotrue gotrue.Client

	// Timeout applies to requests whose context has no deadline, zero disables it.
	Timeout time.Duration
}

// NewClient creates a client for the auth service under baseURL.
func NewClient(baseURL, apiKey string) *Client {
	u := strings.TrimSuffix(baseURL, "/") + "/auth/v1"

	return &Client{
		url:     u,
		apiKey:  apiKey,
		gotrue:  gotrue.New("", apiKey).WithCustomGoTrueURL(u),
		Timeout: DefaultTimeout,
	}
}

// api returns a gotrue client whose requests run under ctx, authorized as token when one is given.
func (c *Client) api(ctx context.Context, token string, query map[string]string) gotrue.Client {
	api := c.gotrue.WithClient(http.Client{
		Transport: &httputil.ContextTransport{Context: ctx, Timeout: c.Timeout, Query: query},
	})

	if token != "" {
		api = api.WithToken(token)
	}

	return api
}

// SignInWithPassword exchanges credentials for a session.
func (c *Client) SignInWithPassword(ctx context.Context, creds Credentials) (*Session, error) {
	err := Validate(creds)
	if err != nil {
		return nil, err
	}

	resp, err := c.api(ctx, "", nil).SignInWithEmailPassword(creds.Email, creds.Password)
	if err != nil {
		return nil, translate(err)
	}

	return toSession(resp.Session), nil
}

// SignUp registers a new identity. The session is nil when the email must be confirmed first.
func (c *Client) SignUp(ctx context.Context, req SignUpRequest) (*User, *Session, error) {
	err := Validate(req)
	if err != nil {
		return nil, nil, err
	}

	var query map[string]string
	if req.RedirectTo != "" {
		query = map[string]string{"redirect_to": req.RedirectTo}
	}

	resp, err := c.api(ctx, "", query).Signup(types.SignupRequest{
		Email:    req.Email,
		Password: req.Password,
		Data:     map[string]interface{}{"username": req.Username},
	})
	if err != nil {
		return nil, nil, translate(err)
	}

	if resp.AccessToken != "" {
		session := toSession(resp.Session)
		return &session.User, session, nil
	}

	user := toUser(resp.User)
	return &user, nil, nil
}

// SignOut revokes the session of token.
func (c *Client) SignOut(ctx context.Context, token string) error {
	return translate(c.api(ctx, token, nil).Logout())
}

// Refresh exchanges a refresh token for a new session.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	resp, err := c.api(ctx, "", nil).RefreshToken(refreshToken)
	if err != nil {
		return nil, translate(err)
	}

	return toSession(resp.Session), nil
}

// ExchangeCode completes a PKCE flow. The auth service reads the code from auth_code, which
// gotrue-go does not send.
func (c *Client) ExchangeCode(ctx context.Context, code, verifier string) (*Session, error) {
	body := map[string]string{"auth_code": code, "code_verifier": verifier}

	session := &Session{}
	err := c.do(ctx, http.MethodPost, "/token?grant_type=pkce", "", body, session)
	if err != nil {
		return nil, err
	}

	return session, nil
}

// SendMagicLink emails a sign in link whose code can be exchanged with the verifier behind challenge.
func (c *Client) SendMagicLink(ctx context.Context, email, challenge, redirectTo string) error {
	body := map[string]interface{}{
		"email":                 email,
		"create_user":           false,
		"code_challenge":        challenge,
		"code_challenge_method": "s256",
	}

	path := "/otp"
	if redirectTo != "" {
		path += "?redirect_to=" + url.QueryEscape(redirectTo)
	}

	return c.do(ctx, http.MethodPost, path, "", body, nil)
}

// Recover sends a password recovery email.
func (c *Client) Recover(ctx context.Context, email string) error {
	err := validate.Var(email, "required,email")
	if err != nil {
		return err
	}

	return translate(c.api(ctx, "", nil).Recover(types.RecoverRequest{Email: email}))
}

// VerifyOTP verifies a one time password sent by email and returns the resulting session.
func (c *Client) VerifyOTP(ctx context.Context, email, token string, kind OTPType) (*Session, error) {
	body := map[string]string{"email": email, "token": token, "type": string(kind)}

	session := &Session{}
	err := c.do(ctx, http.MethodPost, "/verify", "", body, session)
	if err != nil {
		return nil, err
	}

	return session, nil
}

// UpdateUser changes the password or metadata of the user of token.
func (c *Client) UpdateUser(ctx context.Context, token string, update UserUpdate) (*User, error) {
	err := Validate(update)
	if err != nil {
		return nil, err
	}

	resp, err := c.api(ctx, token, nil).UpdateUser(types.UpdateUserRequest{
		Password: update.Password,
		Data:     update.Data,
	})
	if err != nil {
		return nil, translate(err)
	}

	user := toUser(resp.User)
	return &user, nil
}

// Resend sends the signup confirmation email again.
func (c *Client) Resend(ctx context.Context, email string) error {
	err := validate.Var(email, "required,email")
	if err != nil {
		return err
	}

	return c.do(ctx, http.MethodPost, "/resend", "", map[string]string{"type": string(OTPTypeSignup), "email": email}, nil)
}

// do calls endpoints gotrue-go has no method for.
func (c *Client) do(ctx context.Context, method, path, token string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}

		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.url+path, body)
	if err != nil {
		return err
	}

	if token == "" {
		token = c.apiKey
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	client := http.Client{Transport: &httputil.ContextTransport{Context: ctx, Timeout: c.Timeout}}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}

	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		log.Debug().Int("status", resp.StatusCode).Str("path", path).Msg("auth request failed")
		return statusError(resp.StatusCode, data)
	}

	if out == nil || len(data) == 0 {
		return nil
	}

	return json.Unmarshal(data, out)
}

func toUser(u types.User) User {
	return User{
		ID:               u.ID.String(),
		Email:            u.Email,
		EmailConfirmedAt: u.EmailConfirmedAt,
		UserMetadata:     u.UserMetadata,
		CreatedAt:        u.CreatedAt,
	}
}

func toSession(s types.Session) *Session {
	return &Session{
		AccessToken:  s.AccessToken,
		TokenType:    s.TokenType,
		ExpiresIn:    s.ExpiresIn,
		ExpiresAt:    s.ExpiresAt,
		RefreshToken: s.RefreshToken,
		User:         toUser(s.User),
	}
}

func statusText(status int) string {
	return fmt.Sprintf("unexpected response %d %s", status, http.StatusText(status))
}
