package account_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/soapboxsocial/glimpse/pkg/account"
	"github.com/soapboxsocial/glimpse/pkg/auth"
	"github.com/soapboxsocial/glimpse/pkg/auth/authtest"
	"github.com/soapboxsocial/glimpse/pkg/media"
	"github.com/soapboxsocial/glimpse/pkg/rest"
	"github.com/soapboxsocial/glimpse/pkg/rest/resttest"
	"github.com/soapboxsocial/glimpse/pkg/sessions"
	"github.com/soapboxsocial/glimpse/pkg/users"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

type fixture struct {
	auth    *authtest.Server
	rest    *resttest.Server
	store   *sessions.Store
	service *account.Service
	media   *media.Backend
	client  *auth.Client
}

func setup(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		auth: authtest.NewServer(),
		rest: resttest.NewServer(),
	}

	t.Cleanup(f.auth.Close)
	t.Cleanup(f.rest.Close)

	f.rest.Unique("users", "id")
	f.rest.Unique("users", "username")

	client, err := rest.NewClient(f.rest.Config())
	if err != nil {
		t.Fatal(err)
	}

	f.client = auth.NewClient(f.auth.URL, "anon")
	f.media = media.NewBackend(f.rest.Config())

	ub := users.NewBackend(client)
	f.store = sessions.NewStore(f.client, ub, sessions.NewFilePersister(t.TempDir(), "test"))
	f.store.Init(context.Background())

	f.service = account.NewService(f.store, ub, f.client, f.media, "avatars")
	return f
}

func (f *fixture) signIn(t *testing.T) auth.User {
	t.Helper()

	user := f.auth.AddUser("jane@example.com", "password", "jane", true)

	err := f.store.SignIn(context.Background(), "jane@example.com", "password")
	if err != nil {
		t.Fatal(err)
	}

	return user
}

func TestService_ChangeUsername(t *testing.T) {
	f := setup(t)
	user := f.signIn(t)

	updated, err := f.service.ChangeUsername(context.Background(), " janedoe ")
	if err != nil {
		t.Fatal(err)
	}

	if updated.Username != "janedoe" {
		t.Fatalf("unexpected username %s", updated.Username)
	}

	if f.store.CurrentIdentity().Username != "janedoe" {
		t.Fatal("store identity was not updated")
	}

	rows := f.rest.Rows("users")
	if len(rows) != 1 || rows[0]["username"] != "janedoe" {
		t.Fatalf("profile row was not updated: %v", rows)
	}

	remote, _ := f.auth.User("jane@example.com")
	if remote.UserMetadata["username"] != "janedoe" || remote.ID != user.ID {
		t.Fatalf("auth metadata was not updated: %v", remote.UserMetadata)
	}
}

func TestService_ChangeUsername_Failures(t *testing.T) {
	f := setup(t)

	_, err := f.service.ChangeUsername(context.Background(), "janedoe")
	if err != account.ErrNotSignedIn {
		t.Fatalf("expected ErrNotSignedIn, got %v", err)
	}

	f.signIn(t)
	f.rest.Seed("users", resttest.Row{"id": "other", "username": "taken"})

	var tests = []struct {
		username string
		err      error
	}{
		{"ab", account.ErrInvalidUsername},
		{"no spaces", account.ErrInvalidUsername},
		{strings.Repeat("a", 31), account.ErrInvalidUsername},
		{"taken", account.ErrUsernameTaken},
	}

	for _, tt := range tests {
		t.Run(tt.username, func(t *testing.T) {
			_, err := f.service.ChangeUsername(context.Background(), tt.username)
			if err != tt.err {
				t.Fatalf("expected %v, got %v", tt.err, err)
			}

			if f.store.CurrentIdentity().Username != "jane" {
				t.Fatal("identity should be unchanged")
			}
		})
	}
}

func testImage(t *testing.T) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})

	buf := new(bytes.Buffer)
	err := jpeg.Encode(buf, img, nil)
	if err != nil {
		t.Fatal(err)
	}

	return buf.Bytes()
}

func TestService_ChangeAvatar(t *testing.T) {
	f := setup(t)
	user := f.signIn(t)

	first, err := f.service.ChangeAvatar(context.Background(), testImage(t))
	if err != nil {
		t.Fatal(err)
	}

	if first.AvatarURL == nil {
		t.Fatal("expected avatar url")
	}

	path, ok := f.media.PathFromURL("avatars", *first.AvatarURL)
	if !ok || !strings.HasPrefix(path, user.ID+"/avatar_") || !strings.HasSuffix(path, ".png") {
		t.Fatalf("unexpected avatar path %s", path)
	}

	data, ok := f.rest.Object("avatars", path)
	if !ok || media.Detect(data) != "image/png" {
		t.Fatal("expected a png to be stored")
	}

	if *f.store.CurrentIdentity().AvatarURL != *first.AvatarURL {
		t.Fatal("store identity was not updated")
	}

	remote, _ := f.auth.User("jane@example.com")
	if remote.UserMetadata["avatar_url"] != *first.AvatarURL {
		t.Fatal("auth metadata was not updated")
	}

	second, err := f.service.ChangeAvatar(context.Background(), testImage(t))
	if err != nil {
		t.Fatal(err)
	}

	if *second.AvatarURL == *first.AvatarURL {
		t.Fatal("expected a new avatar url")
	}

	if _, ok := f.rest.Object("avatars", path); ok {
		t.Fatal("expected previous avatar to be removed")
	}
}

func TestService_ChangeAvatar_ProfileWriteFails(t *testing.T) {
	f := setup(t)
	f.signIn(t)

	f.rest.FailNext("users", 403, "42501", "permission denied for table users")

	_, err := f.service.ChangeAvatar(context.Background(), testImage(t))
	if !rest.IsForbidden(err) {
		t.Fatalf("expected the profile write error, got %v", err)
	}

	if f.rest.Requests("DELETE", "storage") != 1 {
		t.Fatal("expected the uploaded avatar to be removed")
	}

	if f.store.CurrentIdentity().AvatarURL != nil {
		t.Fatal("store identity should be unchanged")
	}
}

func TestService_ChangeAvatar_InvalidImage(t *testing.T) {
	f := setup(t)
	f.signIn(t)

	_, err := f.service.ChangeAvatar(context.Background(), []byte("not an image"))
	if err == nil {
		t.Fatal("expected an error")
	}

	if f.rest.Requests("POST", "storage") != 0 {
		t.Fatal("nothing should be uploaded")
	}
}

func TestService_ResetPassword(t *testing.T) {
	f := setup(t)
	f.auth.AddUser("jane@example.com", "password", "jane", true)

	ctx := context.Background()

	err := f.service.RequestPasswordReset(ctx, "jane@example.com")
	if err != nil {
		t.Fatal(err)
	}

	code := f.auth.OTP("jane@example.com")

	err = f.service.ResetPassword(ctx, "jane@example.com", "000000", "newpassword")
	if err == nil {
		t.Fatal("expected a wrong code to fail")
	}

	if f.store.State() != sessions.Anonymous {
		t.Fatal("a failed reset must not sign in")
	}

	err = f.service.ResetPassword(ctx, "jane@example.com", code, "short")
	if err == nil {
		t.Fatal("expected a short password to fail")
	}

	err = f.service.ResetPassword(ctx, "jane@example.com", code, "newpassword")
	if err != nil {
		t.Fatal(err)
	}

	if f.store.State() != sessions.Authenticated {
		t.Fatal("expected the recovery session to sign in")
	}

	_, err = f.client.SignInWithPassword(ctx, auth.Credentials{Email: "jane@example.com", Password: "password"})
	if !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected old password to be rejected, got %v", err)
	}

	_, err = f.client.SignInWithPassword(ctx, auth.Credentials{Email: "jane@example.com", Password: "newpassword"})
	if err != nil {
		t.Fatalf("expected new password to work, got %v", err)
	}
}

func TestService_ResendConfirmation(t *testing.T) {
	f := setup(t)
	f.auth.AddUser("jane@example.com", "password", "jane", false)

	err := f.service.ResendConfirmation(context.Background(), "jane@example.com")
	if err != nil {
		t.Fatal(err)
	}

	if f.auth.Resent("jane@example.com") != 1 {
		t.Fatal("expected confirmation to be resent")
	}
}
