package login_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/dukex/mixpanel"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/soapboxsocial/glimpse/pkg/auth"
	"github.com/soapboxsocial/glimpse/pkg/auth/authtest"
	"github.com/soapboxsocial/glimpse/pkg/login"
	"github.com/soapboxsocial/glimpse/pkg/rest"
	"github.com/soapboxsocial/glimpse/pkg/rest/resttest"
	"github.com/soapboxsocial/glimpse/pkg/sessions"
	"github.com/soapboxsocial/glimpse/pkg/tracking"
	"github.com/soapboxsocial/glimpse/pkg/users"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

type fixture struct {
	auth     *authtest.Server
	rest     *resttest.Server
	store    *sessions.Store
	mixpanel *mixpanel.Mock
	handler  http.Handler
}

func setup(t *testing.T) *fixture {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	f := &fixture{
		auth:     authtest.NewServer(),
		rest:     resttest.NewServer(),
		mixpanel: mixpanel.NewMock(),
	}

	t.Cleanup(f.auth.Close)
	t.Cleanup(f.rest.Close)

	f.rest.Unique("users", "id")

	client, err := rest.NewClient(f.rest.Config())
	if err != nil {
		t.Fatal(err)
	}

	authClient := auth.NewClient(f.auth.URL, "anon")

	f.store = sessions.NewStore(authClient, users.NewBackend(client), sessions.NewFilePersister(t.TempDir(), "test"))

	endpoint := login.NewEndpoint(
		authClient,
		login.NewStateManager(rdb),
		f.store,
		tracking.NewMixpanelTracker(f.mixpanel),
		"http://localhost:8080/callback",
	)

	f.handler = endpoint.Router()
	return f
}

func (f *fixture) start(t *testing.T, email string) *httptest.ResponseRecorder {
	t.Helper()

	req, err := http.NewRequest("POST", "/start", strings.NewReader("email="+url.QueryEscape(email)))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func (f *fixture) callback(t *testing.T, query url.Values) *httptest.ResponseRecorder {
	t.Helper()

	req, err := http.NewRequest("GET", "/callback?"+query.Encode(), nil)
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

// follow emulates the user opening the magic link sent to email.
func (f *fixture) follow(t *testing.T, email string) url.Values {
	t.Helper()

	link, ok := f.auth.LastLink(email)
	if !ok {
		t.Fatal("no link sent")
	}

	redirect, err := url.Parse(link.RedirectTo)
	if err != nil {
		t.Fatal(err)
	}

	if redirect.Path != "/callback" {
		t.Fatalf("unexpected redirect %s", link.RedirectTo)
	}

	query := redirect.Query()
	query.Set("code", f.auth.IssueCode(email, link.Challenge))
	return query
}

func TestEndpoint_MagicLink(t *testing.T) {
	f := setup(t)
	f.store.Init(context.Background())

	user := f.auth.AddUser("jane@example.com", "password", "jane", true)

	rr := f.start(t, "Jane@Example.com ")
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rr.Code, rr.Body.String())
	}

	started := map[string]string{}
	err := json.NewDecoder(rr.Body).Decode(&started)
	if err != nil {
		t.Fatal(err)
	}

	query := f.follow(t, "jane@example.com")
	if query.Get("state") != started["token"] {
		t.Fatal("redirect does not carry the login state")
	}

	rr = f.callback(t, query)
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rr.Code, rr.Body.String())
	}

	resp := struct {
		State string     `json:"state"`
		User  users.User `json:"user"`
	}{}

	err = json.NewDecoder(rr.Body).Decode(&resp)
	if err != nil {
		t.Fatal(err)
	}

	if resp.State != login.LoginStateSuccess || resp.User.ID != user.ID || resp.User.Username != "jane" {
		t.Fatalf("unexpected response %+v", resp)
	}

	if f.store.State() != sessions.Authenticated || f.store.CurrentIdentity().ID != user.ID {
		t.Fatal("expected store to be signed in")
	}

	if rows := f.rest.Rows("users"); len(rows) != 1 || rows[0]["id"] != user.ID {
		t.Fatalf("expected profile to be mirrored, got %v", rows)
	}

	if len(f.mixpanel.People[user.ID].Events) != 1 {
		t.Fatal("expected sign in to be tracked")
	}

	// the state is single use.
	rr = f.callback(t, query)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected reused state to fail, got %d", rr.Code)
	}
}

func TestEndpoint_Start_InvalidEmail(t *testing.T) {
	f := setup(t)

	rr := f.start(t, "not-an-email")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", rr.Code)
	}
}

func TestEndpoint_Start_UnknownEmail(t *testing.T) {
	f := setup(t)

	rr := f.start(t, "nobody@example.com")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", rr.Code)
	}
}

func TestEndpoint_Callback_Failures(t *testing.T) {
	f := setup(t)
	f.auth.AddUser("jane@example.com", "password", "jane", true)

	rr := f.start(t, "jane@example.com")
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rr.Code)
	}

	valid := f.follow(t, "jane@example.com")

	var tests = []struct {
		name   string
		query  url.Values
		status int
	}{
		{"missing code", url.Values{"state": {valid.Get("state")}}, http.StatusBadRequest},
		{"unknown state", url.Values{"state": {"unknown"}, "code": {valid.Get("code")}}, http.StatusBadRequest},
		{"wrong code", url.Values{"state": {valid.Get("state")}, "code": {"wrong"}}, http.StatusUnauthorized},
		{"provider error", url.Values{"error": {"access_denied"}, "error_description": {"expired"}}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.callback(t, tt.query)
			if rr.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
		})
	}

	if f.store.CurrentIdentity() != nil {
		t.Fatal("failed callbacks must not sign in")
	}

	// a failed exchange leaves the state usable.
	rr = f.callback(t, valid)
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rr.Code, rr.Body.String())
	}
}
